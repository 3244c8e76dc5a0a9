package index

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"harshagw/segidx/internal/store"
)

type addedSegment struct {
	info    *SegmentCommitInfo
	reader  *SegmentReader
	deleted *roaring.Bitmap
}

// AddIndexes merges the live documents of readers into one new segment.
// The readers stay owned by the caller.
func (w *IndexWriter) AddIndexes(readers ...*DirectoryReader) (int64, error) {
	if err := w.ensureWritable(); err != nil {
		return 0, err
	}
	var leaves []*SegmentReader
	var deleted []*roaring.Bitmap
	for _, r := range readers {
		if err := r.ensureOpen(); err != nil {
			return 0, err
		}
		for _, leaf := range r.Leaves() {
			if err := w.numbers.Check(leaf.Reader.FieldInfos()); err != nil {
				return 0, fmt.Errorf("add indexes: %w", err)
			}
			leaves = append(leaves, leaf.Reader)
			deleted = append(deleted, leaf.Reader.deleted)
		}
	}
	src, err := newMergeSource(leaves, deleted, w.numbers, func() error { return nil })
	if err != nil {
		return 0, fmt.Errorf("add indexes: %w", err)
	}
	if src.MaxDoc() == 0 {
		return w.seq.Load(), nil
	}
	info := w.newSegmentInfo("addIndexes")
	r, err := w.writeSegment(info, src)
	if err != nil {
		return 0, fmt.Errorf("add indexes: %w", err)
	}
	seq := w.insertSegments([]addedSegment{{info: info, reader: r}})
	w.log.Info("added indexes", "readers", len(readers), "segment", info.Name, "docs", info.MaxDoc)
	w.maybeMerge(TriggerExplicit)
	return seq, nil
}

// AddIndexesDirs adds the segments of the latest commit of each directory.
// Each directory's write lock is held while it is read. Segments whose
// field numbers agree with this index are copied file by file; others
// are rewritten.
func (w *IndexWriter) AddIndexesDirs(dirs ...store.Directory) (int64, error) {
	if err := w.ensureWritable(); err != nil {
		return 0, err
	}
	var added []addedSegment
	abort := func(err error) (int64, error) {
		for _, a := range added {
			_ = a.reader.DecRef()
			w.mu.Lock()
			w.deleter.deleteNewFiles(a.info.AllFiles())
			w.mu.Unlock()
		}
		return 0, fmt.Errorf("add indexes: %w", err)
	}

	for _, dir := range dirs {
		if dir == w.dir {
			return abort(errors.New("cannot add an index to itself"))
		}
		segs, err := w.addDir(dir)
		added = append(added, segs...)
		if err != nil {
			return abort(err)
		}
	}
	if len(added) == 0 {
		return w.seq.Load(), nil
	}
	seq := w.insertSegments(added)
	w.log.Info("added index directories", "dirs", len(dirs), "segments", len(added))
	w.maybeMerge(TriggerExplicit)
	return seq, nil
}

func (w *IndexWriter) addDir(dir store.Directory) ([]addedSegment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteLockTimeout)
	lock, err := dir.ObtainLock(ctx, WriteLockName)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("obtain %s of source: %w", WriteLockName, err)
	}
	defer lock.Release()

	infos, err := ReadLatestCommit(dir)
	if err != nil {
		return nil, err
	}
	var added []addedSegment
	for _, si := range infos.Segments {
		src, err := openSegmentReader(dir, si)
		if err != nil {
			return added, err
		}
		a, err := w.addSegment(src)
		_ = src.DecRef()
		if err != nil {
			return added, err
		}
		if a.reader != nil {
			added = append(added, a)
		}
	}
	return added, nil
}

// addSegment copies or rewrites one foreign segment into this directory.
func (w *IndexWriter) addSegment(src *SegmentReader) (addedSegment, error) {
	if src.NumDocs() == 0 {
		return addedSegment{}, nil
	}
	copyable, err := w.numbers.AdoptIfCompatible(src.FieldInfos())
	if err != nil {
		return addedSegment{}, err
	}
	if !copyable || src.SegmentInfo().Codec != w.codec.Name() {
		info := w.newSegmentInfo("addIndexes")
		ms, err := newMergeSource([]*SegmentReader{src}, []*roaring.Bitmap{src.deleted}, w.numbers, func() error { return nil })
		if err != nil {
			return addedSegment{}, err
		}
		r, err := w.writeSegment(info, ms)
		if err != nil {
			return addedSegment{}, err
		}
		return addedSegment{info: info, reader: r}, nil
	}

	from := src.SegmentInfo()
	info := w.newSegmentInfo("addIndexes", "source_segment", from.Name)
	info.ID = from.ID
	info.Codec = from.Codec
	info.MaxDoc = from.MaxDoc
	for _, name := range from.Files {
		to := info.Name + strings.TrimPrefix(name, from.Name)
		data, err := store.ReadFile(src.dir, name)
		if err == nil {
			err = store.WriteFile(w.dir, to, data)
		}
		if err != nil {
			for _, f := range info.Files {
				_ = w.dir.DeleteFile(f)
			}
			return addedSegment{}, fmt.Errorf("copy %s: %w", name, err)
		}
		info.Files = append(info.Files, to)
	}
	core, err := openCore(w.dir, info)
	if err != nil {
		for _, f := range info.Files {
			_ = w.dir.DeleteFile(f)
		}
		return addedSegment{}, err
	}
	var deleted *roaring.Bitmap
	if src.NumDeletedDocs() > 0 {
		deleted = src.deleted
	}
	return addedSegment{info: info, reader: newSegmentReader(w.dir, core, info, nil), deleted: deleted}, nil
}

// insertSegments publishes added segments atomically under one sequence
// number. Deletes with a higher number apply to them.
func (w *IndexWriter) insertSegments(added []addedSegment) int64 {
	w.admission.RLock()
	defer w.admission.RUnlock()
	seq := w.seq.Add(1)
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, a := range added {
		p := newPooledSegment(a.info, a.reader, seq-1, slices.Repeat([]int64{seq}, a.info.MaxDoc))
		if a.deleted != nil {
			p.delete(a.deleted)
		}
		w.publishLocked(p, seq)
	}
	return seq
}
