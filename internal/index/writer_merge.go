package index

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring"
)

func (w *IndexWriter) mergeContextLocked() *MergeContext {
	return &MergeContext{
		Log:     w.log,
		Merging: maps.Clone(w.merging),
		NumDeletes: func(si *SegmentCommitInfo) int {
			if p, ok := w.pool[si.Name]; ok {
				return p.numDeleted()
			}
			return si.DelCount
		},
	}
}

// registerMergeLocked queues m unless one of its segments is already
// merging or gone.
func (w *IndexWriter) registerMergeLocked(m *OneMerge) bool {
	for _, si := range m.Segments {
		if w.merging[si.Name] || w.infos.indexOf(si.Name) < 0 {
			return false
		}
	}
	for _, si := range m.Segments {
		w.merging[si.Name] = true
	}
	w.pendingMerges = append(w.pendingMerges, m)
	w.log.Debug("registered merge", "segments", m.String(), "docs", m.totalDocs)
	return true
}

func (w *IndexWriter) updatePendingMergesLocked(trigger MergeTrigger) error {
	spec, err := w.cfg.MergePolicy.FindMerges(trigger, w.infos, w.mergeContextLocked())
	if err != nil {
		return fmt.Errorf("find merges: %w", err)
	}
	if spec.empty() {
		return nil
	}
	for _, m := range spec.Merges {
		w.registerMergeLocked(m)
	}
	return nil
}

// MaybeMerge asks the merge policy for merges and hands them to the
// scheduler.
func (w *IndexWriter) MaybeMerge() error {
	if err := w.ensureOpen(); err != nil {
		return err
	}
	return w.maybeMerge(TriggerExplicit)
}

func (w *IndexWriter) maybeMerge(trigger MergeTrigger) error {
	if w.ensureOpen() != nil {
		return nil
	}
	w.mu.Lock()
	err := w.updatePendingMergesLocked(trigger)
	w.mu.Unlock()
	if err != nil {
		w.log.Warn("merge selection failed", "trigger", trigger.String(), "error", err)
		return err
	}
	return w.cfg.MergeScheduler.Merge(w, trigger)
}

// NextMerge implements MergeSource.
func (w *IndexWriter) NextMerge() *OneMerge {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pendingMerges) == 0 {
		return nil
	}
	m := w.pendingMerges[0]
	w.pendingMerges = w.pendingMerges[1:]
	w.runningMerges[m] = struct{}{}
	return m
}

// HasPendingMerges implements MergeSource.
func (w *IndexWriter) HasPendingMerges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pendingMerges) > 0
}

// Merge implements MergeSource. It runs m and swaps the merged segment in
// for its sources. A failed merge leaves the sources untouched and the
// writer usable.
func (w *IndexWriter) Merge(m *OneMerge) error {
	start := time.Now()
	src, err := w.mergeInit(m)
	var merged *SegmentReader
	if err == nil {
		merged, err = w.mergeMiddle(m, src)
	}
	if err == nil {
		err = w.commitMerge(m, src, merged)
	}
	w.mergeFinish(m, err)

	aborted := errors.Is(err, ErrMergeAborted)
	w.metrics.Merged(start, err, aborted)
	switch {
	case aborted:
		w.log.Info("merge aborted", "segments", m.String())
	case err != nil:
		w.log.Error("merge failed", "segments", m.String(), "error", err)
	default:
		w.log.Info("merged segments",
			"segments", m.String(),
			"into", m.Info.Name,
			"docs", m.Info.MaxDoc,
			"took", time.Since(start))
	}
	m.finish(err)

	if err == nil && w.ensureOpen() == nil {
		w.mu.Lock()
		if uerr := w.updatePendingMergesLocked(TriggerMergeFinished); uerr != nil {
			w.log.Warn("merge selection failed", "trigger", TriggerMergeFinished.String(), "error", uerr)
		}
		w.mu.Unlock()
	}
	return err
}

// mergeInit resolves buffered deletes on the sources up to the last full
// flush and pins a reader of each. Deletes after that point are resolved
// again on the merged segment.
func (w *IndexWriter) mergeInit(m *OneMerge) (*mergeSource, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := m.checkAborted(); err != nil {
		return nil, err
	}
	m.initSeq = w.lastFullFlushSeq
	m.docSeqs = make([][]int64, len(m.Segments))
	changed := false
	for i, si := range m.Segments {
		p, ok := w.pool[si.Name]
		if !ok {
			return nil, fmt.Errorf("merge source %s is not in the index", si.Name)
		}
		n, err := w.applyDeletesToLocked(p, m.initSeq)
		if err != nil {
			return nil, err
		}
		changed = changed || n > 0
		r := p.currentReader()
		r.IncRef()
		m.readers = append(m.readers, r)
		m.docSeqs[i] = p.docSeqs
	}
	if changed {
		w.checkpointLocked()
	}
	m.Info = w.newSegmentInfoLocked("merge", "merge_factor", strconv.Itoa(len(m.Segments)))

	deleted := make([]*roaring.Bitmap, len(m.readers))
	for i, r := range m.readers {
		deleted[i] = r.deleted
	}
	return newMergeSource(m.readers, deleted, w.numbers, m.checkAborted)
}

// mergeMiddle writes the merged segment. A merge whose sources hold no
// live documents writes nothing and returns a nil reader.
func (w *IndexWriter) mergeMiddle(m *OneMerge, src *mergeSource) (*SegmentReader, error) {
	if src.MaxDoc() == 0 {
		return nil, nil
	}
	r, err := w.writeSegment(m.Info, src)
	if err != nil {
		return nil, fmt.Errorf("write merged segment %s: %w", m.Info.Name, err)
	}
	if err := m.checkAborted(); err != nil {
		_ = r.DecRef()
		w.mu.Lock()
		w.deleter.deleteNewFiles(m.Info.Files)
		w.mu.Unlock()
		return nil, err
	}
	return r, nil
}

// commitMerge replaces the sources with the merged segment, carrying over
// deletions resolved on the sources while the merge ran.
func (w *IndexWriter) commitMerge(m *OneMerge, src *mergeSource, merged *SegmentReader) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := m.checkAborted(); err != nil {
		if merged != nil {
			_ = merged.DecRef()
			w.deleter.deleteNewFiles(m.Info.Files)
		}
		return err
	}

	var carried *roaring.Bitmap
	var docSeqs []int64
	if merged != nil {
		carried = roaring.New()
		for i, si := range m.Segments {
			p := w.pool[si.Name]
			docMap := src.docMaps[i]
			late := roaring.AndNot(p.deleted, m.readers[i].deleted)
			it := late.Iterator()
			for it.HasNext() {
				if doc := docMap[it.Next()]; doc >= 0 {
					carried.Add(uint32(doc))
				}
			}
			if m.docSeqs[i] == nil {
				continue
			}
			if docSeqs == nil {
				docSeqs = make([]int64, merged.MaxDoc())
			}
			for old, doc := range docMap {
				if doc >= 0 {
					docSeqs[doc] = m.docSeqs[i][old]
				}
			}
		}
	}

	at := w.infos.indexOf(m.Segments[0].Name)
	inForced := false
	for _, si := range m.Segments {
		idx := w.infos.indexOf(si.Name)
		w.infos.Segments = append(w.infos.Segments[:idx], w.infos.Segments[idx+1:]...)
		at = min(at, idx)
		w.pool[si.Name].release()
		delete(w.pool, si.Name)
		inForced = inForced || w.segmentsToMerge[si.Name]
	}
	if merged != nil {
		info := m.Info
		w.infos.Segments = append(w.infos.Segments[:at], append([]*SegmentCommitInfo{info}, w.infos.Segments[at:]...)...)
		p := newPooledSegment(info, merged, m.initSeq, docSeqs)
		p.delete(carried)
		w.pool[info.Name] = p
		if inForced {
			w.segmentsToMerge[info.Name] = true
		}
	}
	w.checkpointLocked()
	return nil
}

func (w *IndexWriter) mergeFinish(m *OneMerge, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, si := range m.Segments {
		delete(w.merging, si.Name)
	}
	for _, r := range m.readers {
		_ = r.DecRef()
	}
	m.readers = nil
	m.docSeqs = nil
	delete(w.runningMerges, m)
	if err != nil && m.Info != nil {
		w.deleter.deleteNewFiles(m.Info.Files)
	}
	w.trimDeletesLocked()
	w.cond.Broadcast()
}

// abortMerges aborts queued and running merges and waits for the running
// ones to stop.
func (w *IndexWriter) abortMerges() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range w.pendingMerges {
		m.Abort()
		for _, si := range m.Segments {
			delete(w.merging, si.Name)
		}
		m.finish(ErrMergeAborted)
	}
	w.pendingMerges = nil
	for m := range w.runningMerges {
		m.Abort()
	}
	for len(w.runningMerges) > 0 {
		w.cond.Wait()
	}
	w.cond.Broadcast()
}

// WaitForMerges runs or waits for every registered merge.
func (w *IndexWriter) WaitForMerges() error {
	if err := w.ensureOpen(); err != nil {
		return err
	}
	if err := w.cfg.MergeScheduler.Merge(w, TriggerExplicit); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.pendingMerges) > 0 || len(w.runningMerges) > 0 {
		if w.ensureOpen() != nil {
			return ErrWriterClosed
		}
		w.cond.Wait()
	}
	return nil
}

// ForceMerge merges until at most maxSegments segments remain. Segments
// flushed after the call starts are not included. It returns the first
// merge failure.
func (w *IndexWriter) ForceMerge(maxSegments int) error {
	if maxSegments < 1 {
		return fmt.Errorf("maxSegments must be at least 1, got %d", maxSegments)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	w.mu.Lock()
	w.segmentsToMerge = make(map[string]bool, w.infos.Size())
	for _, si := range w.infos.Segments {
		w.segmentsToMerge[si.Name] = true
	}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.segmentsToMerge = nil
		w.mu.Unlock()
	}()

	w.log.Info("force merge", "max_segments", maxSegments)
	return w.forceMergeLoop(func() (*MergeSpecification, error) {
		return w.cfg.MergePolicy.FindForcedMerges(w.infos, maxSegments, maps.Clone(w.segmentsToMerge), w.mergeContextLocked())
	})
}

// ForceMergeDeletes merges away segments whose deleted share exceeds the
// merge policy's threshold.
func (w *IndexWriter) ForceMergeDeletes() error {
	if err := w.Flush(); err != nil {
		return err
	}
	w.log.Info("force merge deletes")
	return w.forceMergeLoop(func() (*MergeSpecification, error) {
		return w.cfg.MergePolicy.FindForcedDeletesMerges(w.infos, w.mergeContextLocked())
	})
}

// forceMergeLoop asks find for merges, runs them and repeats until find
// selects nothing and no merge is outstanding. find runs under w.mu.
func (w *IndexWriter) forceMergeLoop(find func() (*MergeSpecification, error)) error {
	for {
		if err := w.ensureOpen(); err != nil {
			return err
		}
		w.mu.Lock()
		spec, err := find()
		var mine []*OneMerge
		if err == nil && !spec.empty() {
			for _, m := range spec.Merges {
				if w.registerMergeLocked(m) {
					mine = append(mine, m)
				}
			}
		}
		outstanding := len(w.pendingMerges) > 0 || len(w.runningMerges) > 0
		w.mu.Unlock()
		if err != nil {
			return err
		}

		if len(mine) == 0 {
			if !outstanding {
				return nil
			}
			if err := w.WaitForMerges(); err != nil {
				return err
			}
			continue
		}
		if err := w.cfg.MergeScheduler.Merge(w, TriggerExplicit); err != nil {
			return err
		}
		for _, m := range mine {
			if err := m.Wait(); err != nil {
				return fmt.Errorf("force merge %s: %w", m.String(), err)
			}
		}
	}
}
