package index

import (
	"fmt"
	"maps"
	"time"

	"harshagw/segidx/internal/segment"
)

// SetCommitData sets the user data recorded with the next commit.
func (w *IndexWriter) SetCommitData(data map[string]string) {
	w.mu.Lock()
	w.commitUserData = maps.Clone(data)
	w.changeCount++
	w.mu.Unlock()
}

// CommitData returns the user data of the next commit.
func (w *IndexWriter) CommitData() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.commitUserData)
}

// PrepareCommit performs the first phase of a two-phase commit: it flushes,
// writes live docs, syncs every referenced file and writes a pending
// segments file. Nothing is visible to readers until Commit.
func (w *IndexWriter) PrepareCommit() error {
	if err := w.ensureOpen(); err != nil {
		return err
	}
	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	w.mu.Lock()
	pending := w.pendingCommit != nil
	w.mu.Unlock()
	if pending {
		return ErrCommitPending
	}
	return w.prepareCommit()
}

func (w *IndexWriter) prepareCommit() error {
	w.setState(stateCommitting)
	defer w.setState(stateOpen)

	start := time.Now()
	toCommit, files, change, err := w.startCommit()
	if err != nil || toCommit == nil {
		return err
	}

	w.mu.Lock()
	var toSync []string
	for _, name := range files {
		if !w.synced[name] {
			toSync = append(toSync, name)
		}
	}
	w.mu.Unlock()

	err = w.dir.Sync(toSync)
	var pendingFile string
	if err == nil {
		pendingFile, err = toCommit.writePending(w.dir, toCommit.Generation)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.deleter.decRef(files)
		err = fmt.Errorf("prepare commit gen %d: %w", toCommit.Generation, err)
		w.log.Error("prepare commit failed", "generation", toCommit.Generation, "error", err)
		w.setFailed(err)
		return err
	}
	for _, name := range toSync {
		w.synced[name] = true
	}
	w.pendingCommit = toCommit
	w.pendingCommitFile = pendingFile
	w.pendingCommitChange = change
	w.log.Debug("prepared commit",
		"generation", toCommit.Generation,
		"segments", toCommit.Size(),
		"synced", len(toSync),
		"took", time.Since(start))
	return nil
}

// startCommit flushes and snapshots the segment list to commit. It returns
// nil infos when nothing changed since the last commit. The returned files
// are protected from deletion until the commit finishes or fails.
func (w *IndexWriter) startCommit() (*SegmentInfos, []string, int64, error) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	defer w.finishFullFlush()
	snap, err := w.fullFlush()
	if err != nil {
		return nil, nil, 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.applyDeletesLocked(snap); err != nil {
		w.setFailed(err)
		return nil, nil, 0, err
	}
	if err := w.writeLiveDocsLocked(); err != nil {
		w.setFailed(err)
		return nil, nil, 0, err
	}
	if w.changeCount == w.lastCommitChange {
		w.log.Debug("skipping commit: no changes")
		return nil, nil, 0, nil
	}
	toCommit := w.infos.Clone()
	toCommit.UserData = maps.Clone(w.commitUserData)
	if toCommit.UserData == nil {
		toCommit.UserData = map[string]string{}
	}
	toCommit.Generation = w.infos.nextGeneration()
	toCommit.lastGeneration = toCommit.Generation
	w.infos.lastGeneration = toCommit.Generation

	files := toCommit.Files(false)
	w.deleter.incRef(files)
	return toCommit, files, w.changeCount, nil
}

// writeLiveDocsLocked persists deletions not yet written for every
// segment, each under a fresh deletion generation.
func (w *IndexWriter) writeLiveDocsLocked() error {
	changed := false
	for _, si := range w.infos.Segments {
		p := w.pool[si.Name]
		if !p.dirty {
			continue
		}
		gen := si.advanceDelGen()
		if _, err := segment.WriteLiveDocs(w.dir, si.Name, gen, p.deleted); err != nil {
			_ = w.dir.DeleteFile(segment.LiveDocsFileName(si.Name, gen))
			return fmt.Errorf("write live docs of %s: %w", si.Name, err)
		}
		si.DelGen = gen
		si.DelCount = p.numDeleted()
		p.dirty = false
		p.stale = true
		changed = true
	}
	if changed {
		w.checkpointLocked()
	}
	return nil
}

// Commit publishes all changes: it runs PrepareCommit unless a prepared
// commit is pending, then renames the pending file into place and lets
// the deletion policy prune old commits.
func (w *IndexWriter) Commit() error {
	if err := w.ensureOpen(); err != nil {
		return err
	}
	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	err := w.commit()
	w.metrics.Committed(err)
	return err
}

func (w *IndexWriter) commit() error {
	w.mu.Lock()
	prepared := w.pendingCommit != nil
	w.mu.Unlock()
	if !prepared {
		if err := w.prepareCommit(); err != nil {
			return err
		}
	}
	return w.finishCommit()
}

func (w *IndexWriter) finishCommit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	pending := w.pendingCommit
	if pending == nil {
		return nil
	}
	w.pendingCommit = nil
	files := pending.Files(false)
	final := SegmentsFileName(pending.Generation)

	if err := w.dir.Rename(w.pendingCommitFile, final); err != nil {
		w.deleter.decRef(files)
		_ = w.dir.DeleteFile(w.pendingCommitFile)
		err = fmt.Errorf("publish %s: %w", final, err)
		w.log.Error("commit failed", "segments_file", final, "error", err)
		w.setFailed(err)
		return err
	}
	w.synced[final] = true
	if err := writeSegmentsGen(w.dir, pending.Generation); err != nil {
		w.log.Warn("could not write segments.gen", "generation", pending.Generation, "error", err)
	}

	w.infos.Generation = pending.Generation
	w.lastCommit = pending.Clone()
	w.lastCommitChange = w.pendingCommitChange
	err := w.deleter.onCommit(pending)
	w.deleter.decRef(files)
	w.updateGaugesLocked()
	if err != nil {
		err = fmt.Errorf("deletion policy: %w", err)
		w.setTragic(err)
		return err
	}
	w.clearFailed()
	w.log.Info("committed",
		"segments_file", final,
		"segments", pending.Size(),
		"docs", pending.NumDocs())
	return nil
}

// LastCommit returns the most recently published commit, or nil.
func (w *IndexWriter) LastCommit() IndexCommit {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastCommit == nil {
		return nil
	}
	return newCommitPoint(w.dir, w.lastCommit.Clone())
}

// DeleteUnusedFiles lets the deletion policy drop commits released since
// the last commit, such as released snapshots, and retries deferred file
// deletions.
func (w *IndexWriter) DeleteUnusedFiles() error {
	if err := w.ensureOpen(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.deleter.revisitPolicy()
	w.updateGaugesLocked()
	return err
}

// DeleteAll removes every document, buffered or flushed. The change is
// published by the next commit and can be undone by Rollback.
func (w *IndexWriter) DeleteAll() error {
	if err := w.ensureWritable(); err != nil {
		return err
	}
	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	w.abortMerges()

	w.admission.Lock()
	defer w.admission.Unlock()
	w.dwptMu.Lock()
	w.free = nil
	clear(w.dwpts)
	w.dwptMu.Unlock()
	w.buffered.Store(0)

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.pool {
		p.release()
	}
	clear(w.pool)
	w.infos.Segments = nil
	w.segmentsToMerge = nil
	w.deletesMu.Lock()
	w.deletes.reset()
	w.deletesMu.Unlock()
	w.numbers.Clear()
	w.lastFullFlushSeq = w.seq.Add(1)
	w.checkpointLocked()
	w.log.Info("deleted all documents")
	return nil
}

// Rollback discards every change since the last commit, closes the writer
// and releases the write lock. Rollback never fails and may be called
// repeatedly.
func (w *IndexWriter) Rollback() error {
	w.stateMu.Lock()
	if w.state == stateClosed || w.state == stateRolledBack {
		w.stateMu.Unlock()
		return nil
	}
	w.state = stateRolledBack
	w.stateMu.Unlock()

	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	w.abortMerges()
	_ = w.cfg.MergeScheduler.Close()

	w.flushMu.Lock()
	w.admission.Lock()
	w.dwptMu.Lock()
	w.free = nil
	clear(w.dwpts)
	w.dwptMu.Unlock()
	w.buffered.Store(0)
	w.admission.Unlock()
	w.flushMu.Unlock()

	w.mu.Lock()
	if w.pendingCommit != nil {
		w.deleter.decRef(w.pendingCommit.Files(false))
		_ = w.dir.DeleteFile(w.pendingCommitFile)
		w.pendingCommit = nil
	}
	for _, p := range w.pool {
		p.release()
	}
	clear(w.pool)
	for _, p := range w.held {
		p.release()
	}
	w.held = nil
	w.deletesMu.Lock()
	w.deletes.reset()
	w.deletesMu.Unlock()
	if w.lastCommit != nil {
		w.infos = w.rollbackInfosLocked()
	} else {
		w.infos.Segments = nil
	}
	w.deleter.checkpoint(w.infos)
	if err := w.deleter.refresh(); err != nil {
		w.log.Warn("could not remove unreferenced files", "error", err)
	}
	gen := w.infos.Generation
	w.updateGaugesLocked()
	w.mu.Unlock()

	w.releaseLock()
	w.log.Info("rolled back", "generation", gen)
	return nil
}

// rollbackInfosLocked re-reads the last commit from its segments file. The
// in-memory copy is used when the file cannot be read or disagrees with it.
func (w *IndexWriter) rollbackInfosLocked() *SegmentInfos {
	name := w.lastCommit.SegmentsFileName()
	disk, err := ReadSegmentInfos(w.dir, name)
	if err != nil {
		w.log.Warn("could not re-read last commit, using in-memory copy", "file", name, "error", err)
		return w.lastCommit.Clone()
	}
	if disk.Generation != w.lastCommit.Generation || disk.Version != w.lastCommit.Version || !sameSegments(disk, w.lastCommit) {
		w.log.Warn("last commit on disk differs from writer state, using in-memory copy",
			"file", name,
			"disk_generation", disk.Generation,
			"generation", w.lastCommit.Generation,
			"disk_version", disk.Version,
			"version", w.lastCommit.Version)
		return w.lastCommit.Clone()
	}
	return disk
}

func sameSegments(a, b *SegmentInfos) bool {
	if a.Size() != b.Size() {
		return false
	}
	for i, si := range a.Segments {
		o := b.Segments[i]
		if si.Name != o.Name || si.ID != o.ID || si.DelGen != o.DelGen {
			return false
		}
	}
	return true
}

// Close commits pending changes when CommitOnClose is set, waits for
// merges and releases the write lock. A failed Close leaves the writer
// open so it can be retried or rolled back.
func (w *IndexWriter) Close() error {
	w.stateMu.Lock()
	if w.state == stateClosed || w.state == stateRolledBack {
		w.stateMu.Unlock()
		return nil
	}
	tragic := w.tragic
	w.stateMu.Unlock()
	if tragic != nil {
		return fmt.Errorf("%w: %v", ErrWriterFailed, tragic)
	}
	if !w.cfg.CommitOnClose {
		return w.Rollback()
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := w.WaitForMerges(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := w.Commit(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	w.setState(stateClosed)

	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	err := w.cfg.MergeScheduler.Close()
	w.mu.Lock()
	for _, p := range w.pool {
		p.release()
	}
	clear(w.pool)
	w.deleter.deletePendingFiles()
	w.mu.Unlock()
	w.releaseLock()
	w.log.Info("writer closed")
	return err
}

func (w *IndexWriter) releaseLock() {
	if w.lock == nil {
		return
	}
	if err := w.lock.Release(); err != nil {
		w.log.Warn("could not release write lock", "error", err)
	}
	w.lock = nil
}
