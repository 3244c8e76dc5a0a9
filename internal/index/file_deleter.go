package index

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"harshagw/segidx/internal/store"
)

// fileDeleter reference-counts index files across the commits kept by the
// deletion policy and the writer's in-memory segment list. Files reaching
// zero references are deleted, or retried later while a reader holds them.
// Callers hold the writer's mutex.
type fileDeleter struct {
	dir       store.Directory
	policy    DeletionPolicy
	log       *slog.Logger
	refCounts map[string]int
	commits   []*commitPoint
	lastFiles []string
	pending   map[string]bool
	toDelete  []*commitPoint
}

// newFileDeleter scans dir, lets the policy prune the existing commits and
// removes every index file referenced by neither a kept commit nor current.
func newFileDeleter(dir store.Directory, policy DeletionPolicy, current *SegmentInfos, log *slog.Logger) (*fileDeleter, error) {
	d := &fileDeleter{
		dir:       dir,
		policy:    policy,
		log:       log,
		refCounts: make(map[string]int),
		pending:   make(map[string]bool),
	}
	files, err := dir.ListAll()
	if err != nil {
		return nil, err
	}
	for _, name := range files {
		if !isIndexFile(name) {
			continue
		}
		if _, ok := d.refCounts[name]; !ok {
			d.refCounts[name] = 0
		}
		if GenerationFromSegmentsFileName(name) < 0 {
			continue
		}
		infos, err := ReadSegmentInfos(dir, name)
		if err != nil {
			if current != nil && name == current.SegmentsFileName() {
				return nil, fmt.Errorf("read current commit: %w", err)
			}
			// An unreadable older commit is left for the sweep below.
			log.Warn("skipping unreadable commit", "file", name, "error", err)
			continue
		}
		cp := newCommitPoint(dir, infos)
		d.commits = append(d.commits, cp)
		d.incRef(cp.files)
	}
	slices.SortFunc(d.commits, func(a, b *commitPoint) int { return int(a.Generation() - b.Generation()) })

	if current != nil {
		d.checkpoint(current)
	}
	if len(d.commits) > 0 {
		if err := d.policy.OnInit(d.policyView()); err != nil {
			return nil, fmt.Errorf("deletion policy init: %w", err)
		}
	}
	d.deleteCommits()

	for name, n := range d.refCounts {
		if n == 0 {
			d.deleteFile(name)
			delete(d.refCounts, name)
		}
	}
	return d, nil
}

func (d *fileDeleter) policyView() []IndexCommit {
	view := make([]IndexCommit, len(d.commits))
	for i, cp := range d.commits {
		cp.onDelete = d.markDeleted
		view[i] = cp
	}
	return view
}

func (d *fileDeleter) markDeleted(cp *commitPoint) {
	d.toDelete = append(d.toDelete, cp)
}

func (d *fileDeleter) deleteCommits() {
	if len(d.toDelete) == 0 {
		return
	}
	for _, cp := range d.toDelete {
		d.log.Debug("deleting commit", "segments_file", cp.SegmentsFileName())
		d.decRef(cp.files)
	}
	d.toDelete = nil
	d.commits = slices.DeleteFunc(d.commits, func(cp *commitPoint) bool { return cp.deleted })
}

// checkpoint makes infos the in-memory reference set, replacing the
// previous one.
func (d *fileDeleter) checkpoint(infos *SegmentInfos) {
	files := infos.Files(false)
	d.incRef(files)
	d.decRef(d.lastFiles)
	d.lastFiles = files
	d.deletePendingFiles()
}

// onCommit registers a published commit and runs the policy.
func (d *fileDeleter) onCommit(infos *SegmentInfos) error {
	cp := newCommitPoint(d.dir, infos.Clone())
	d.incRef(cp.files)
	d.commits = append(d.commits, cp)
	err := d.policy.OnCommit(d.policyView())
	d.deleteCommits()
	d.deletePendingFiles()
	return err
}

// revisitPolicy lets the policy drop commits it released since the last
// callback.
func (d *fileDeleter) revisitPolicy() error {
	if len(d.commits) == 0 {
		return nil
	}
	err := d.policy.OnCommit(d.policyView())
	d.deleteCommits()
	d.deletePendingFiles()
	return err
}

func (d *fileDeleter) incRef(files []string) {
	for _, name := range files {
		d.refCounts[name]++
	}
}

func (d *fileDeleter) decRef(files []string) {
	for _, name := range files {
		n, ok := d.refCounts[name]
		if !ok || n <= 0 {
			continue
		}
		if n == 1 {
			delete(d.refCounts, name)
			d.deleteFile(name)
			continue
		}
		d.refCounts[name] = n - 1
	}
}

func (d *fileDeleter) exists(name string) bool {
	return d.refCounts[name] > 0
}

func (d *fileDeleter) deleteFile(name string) {
	if d.dir.Refs().InUse(name) {
		d.pending[name] = true
		return
	}
	err := d.dir.DeleteFile(name)
	if err == nil || errors.Is(err, store.ErrFileNotFound) {
		delete(d.pending, name)
		return
	}
	d.log.Debug("delete deferred", "file", name, "error", err)
	d.pending[name] = true
}

// deletePendingFiles retries deletions that failed or were deferred.
func (d *fileDeleter) deletePendingFiles() {
	for name := range d.pending {
		if d.refCounts[name] > 0 {
			delete(d.pending, name)
			continue
		}
		d.deleteFile(name)
	}
}

// deleteNewFiles removes files written by a failed operation that were
// never referenced.
func (d *fileDeleter) deleteNewFiles(files []string) {
	for _, name := range files {
		if d.refCounts[name] == 0 {
			d.deleteFile(name)
		}
	}
}

// refresh deletes every index file in the directory that nothing
// references, such as leftovers of an aborted flush or commit.
func (d *fileDeleter) refresh() error {
	files, err := d.dir.ListAll()
	if err != nil {
		return err
	}
	for _, name := range files {
		if isIndexFile(name) && d.refCounts[name] == 0 {
			d.deleteFile(name)
		}
	}
	return nil
}

func (d *fileDeleter) lastCommit() *commitPoint {
	if len(d.commits) == 0 {
		return nil
	}
	return d.commits[len(d.commits)-1]
}

func (d *fileDeleter) pendingCount() int { return len(d.pending) }
