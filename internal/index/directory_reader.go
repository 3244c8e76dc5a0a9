package index

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/segment"
	"harshagw/segidx/internal/store"
)

// LeafReaderContext places one segment reader in a composite reader.
type LeafReaderContext struct {
	Reader  *SegmentReader
	DocBase int
	Ord     int
}

// DirectoryReader is a point-in-time view of a commit, or of a writer's
// uncommitted state when opened through IndexWriter.GetReader.
type DirectoryReader struct {
	dir     store.Directory
	infos   *SegmentInfos
	leaves  []LeafReaderContext
	maxDoc  int
	numDocs int
	held    []string
	refs    atomic.Int32

	writer *IndexWriter
	seq    int64
}

// Open opens the latest commit of dir.
func Open(dir store.Directory) (*DirectoryReader, error) {
	return FindSegmentsFile(dir, func(name string) (*DirectoryReader, error) {
		infos, err := ReadSegmentInfos(dir, name)
		if err != nil {
			return nil, err
		}
		return openFromInfos(dir, infos, nil)
	})
}

// OpenCommit opens a specific commit.
func OpenCommit(commit IndexCommit) (*DirectoryReader, error) {
	infos, err := commitInfos(commit)
	if err != nil {
		return nil, err
	}
	return openFromInfos(commit.Directory(), infos, nil)
}

// openFromInfos opens every segment of infos, reusing readers of old whose
// segment and deletions are unchanged.
func openFromInfos(dir store.Directory, infos *SegmentInfos, old *DirectoryReader) (*DirectoryReader, error) {
	reuse := make(map[string]*SegmentReader)
	if old != nil {
		for _, leaf := range old.leaves {
			reuse[leaf.Reader.Name()] = leaf.Reader
		}
	}
	// Hold the commit file until the segment readers hold theirs.
	held := infos.Files(true)
	dir.Refs().Retain(held)
	defer dir.Refs().Release(held)

	readers := make([]*SegmentReader, 0, infos.Size())
	fail := func(err error) (*DirectoryReader, error) {
		for _, r := range readers {
			_ = r.DecRef()
		}
		return nil, err
	}
	for _, si := range infos.Segments {
		prev := reuse[si.Name]
		switch {
		case prev != nil && prev.info.ID == si.ID && prev.info.DelGen == si.DelGen:
			prev.IncRef()
			readers = append(readers, prev)
		case prev != nil && prev.info.ID == si.ID:
			prev.core.incRef()
			r, err := openWithCore(dir, prev.core, si)
			if err != nil {
				return fail(err)
			}
			readers = append(readers, r)
		default:
			r, err := openSegmentReader(dir, si)
			if err != nil {
				return fail(fmt.Errorf("open segment %s: %w", si.Name, err))
			}
			readers = append(readers, r)
		}
	}
	r := newDirectoryReader(dir, infos, readers)
	if seg := infos.SegmentsFileName(); seg != "" {
		r.held = []string{seg}
		dir.Refs().Retain(r.held)
	}
	return r, nil
}

// newDirectoryReader takes ownership of one reference of each reader.
func newDirectoryReader(dir store.Directory, infos *SegmentInfos, readers []*SegmentReader) *DirectoryReader {
	r := &DirectoryReader{dir: dir, infos: infos}
	for i, sr := range readers {
		r.leaves = append(r.leaves, LeafReaderContext{Reader: sr, DocBase: r.maxDoc, Ord: i})
		r.maxDoc += sr.MaxDoc()
		r.numDocs += sr.NumDocs()
	}
	r.refs.Store(1)
	return r
}

// OpenIfChanged returns a reader on the newest state, or nil if r is
// current. Unchanged segment readers are shared with r.
func OpenIfChanged(r *DirectoryReader) (*DirectoryReader, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	if r.writer != nil {
		return OpenIfChangedWriter(r, r.writer, true)
	}
	return FindSegmentsFile(r.dir, func(name string) (*DirectoryReader, error) {
		if GenerationFromSegmentsFileName(name) == r.infos.Generation {
			return nil, nil
		}
		infos, err := ReadSegmentInfos(r.dir, name)
		if err != nil {
			return nil, err
		}
		return openFromInfos(r.dir, infos, r)
	})
}

// OpenIfChangedWriter returns a reader on w's current state, or nil when
// nothing changed since r was opened.
func OpenIfChangedWriter(r *DirectoryReader, w *IndexWriter, applyAllDeletes bool) (*DirectoryReader, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	if r.writer == w && w.nrtIsCurrent(r) {
		return nil, nil
	}
	nr, err := w.GetReader(applyAllDeletes)
	if err != nil {
		return nil, err
	}
	if r.writer == w && nr.Version() == r.Version() && nr.sameLeaves(r) {
		_ = nr.Close()
		return nil, nil
	}
	return nr, nil
}

func (r *DirectoryReader) sameLeaves(o *DirectoryReader) bool {
	if len(r.leaves) != len(o.leaves) {
		return false
	}
	for i := range r.leaves {
		if r.leaves[i].Reader != o.leaves[i].Reader {
			return false
		}
	}
	return true
}

// IsCurrent reports whether r still reflects the newest commit, or for a
// writer reader, the writer's newest state.
func (r *DirectoryReader) IsCurrent() (bool, error) {
	if err := r.ensureOpen(); err != nil {
		return false, err
	}
	if r.writer != nil {
		return r.writer.nrtIsCurrent(r), nil
	}
	latest, err := ReadLatestCommit(r.dir)
	if err != nil {
		return false, err
	}
	return latest.Generation == r.infos.Generation && latest.Version == r.infos.Version, nil
}

func (r *DirectoryReader) ensureOpen() error {
	if r.refs.Load() <= 0 {
		return ErrAlreadyClosed
	}
	return nil
}

func (r *DirectoryReader) IncRef() error {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return ErrAlreadyClosed
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// DecRef releases one reference; the last one closes the segment readers.
func (r *DirectoryReader) DecRef() error {
	n := r.refs.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 {
		r.refs.Store(0)
		return ErrAlreadyClosed
	}
	var errs []error
	for _, leaf := range r.leaves {
		errs = append(errs, leaf.Reader.DecRef())
	}
	r.dir.Refs().Release(r.held)
	return errors.Join(errs...)
}

func (r *DirectoryReader) Close() error { return r.DecRef() }

func (r *DirectoryReader) Directory() store.Directory  { return r.dir }
func (r *DirectoryReader) Leaves() []LeafReaderContext { return r.leaves }
func (r *DirectoryReader) MaxDoc() int                 { return r.maxDoc }
func (r *DirectoryReader) NumDocs() int                { return r.numDocs }
func (r *DirectoryReader) NumDeletedDocs() int         { return r.maxDoc - r.numDocs }
func (r *DirectoryReader) Version() int64              { return r.infos.Version }
func (r *DirectoryReader) Generation() int64           { return r.infos.Generation }

// IndexCommit returns the commit this reader was opened on. Writer
// readers report the writer's in-memory segment list.
func (r *DirectoryReader) IndexCommit() IndexCommit {
	return newCommitPoint(r.dir, r.infos.Clone())
}

// SegmentInfos returns a copy of the segment list behind the reader.
func (r *DirectoryReader) SegmentInfos() *SegmentInfos { return r.infos.Clone() }

// leafFor returns the leaf containing global doc.
func (r *DirectoryReader) leafFor(doc int) (LeafReaderContext, error) {
	if doc < 0 || doc >= r.maxDoc {
		return LeafReaderContext{}, fmt.Errorf("%w: doc %d, maxDoc %d", segment.ErrDocOutOfRange, doc, r.maxDoc)
	}
	i := sort.Search(len(r.leaves), func(i int) bool { return r.leaves[i].DocBase > doc }) - 1
	return r.leaves[i], nil
}

// Document returns the stored fields of a global doc id.
func (r *DirectoryReader) Document(doc int) (document.StoredDocument, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	leaf, err := r.leafFor(doc)
	if err != nil {
		return nil, err
	}
	return leaf.Reader.Document(doc - leaf.DocBase)
}

// TermVectors returns the vectors of a global doc id.
func (r *DirectoryReader) TermVectors(doc int) (segment.TermVectors, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	leaf, err := r.leafFor(doc)
	if err != nil {
		return nil, err
	}
	return leaf.Reader.TermVectors(doc - leaf.DocBase)
}

// Terms returns the merged dictionary of field, or nil if no leaf has it.
func (r *DirectoryReader) Terms(field string) (*MultiTerms, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	mt := &MultiTerms{}
	for _, leaf := range r.leaves {
		t, err := leaf.Reader.Terms(field)
		if err != nil {
			return nil, err
		}
		if t != nil {
			mt.subs = append(mt.subs, t)
			mt.leaves = append(mt.leaves, leaf)
		}
	}
	if len(mt.subs) == 0 {
		return nil, nil
	}
	return mt, nil
}

// DocFreq sums the document frequency of term over all leaves, counting
// deleted documents.
func (r *DirectoryReader) DocFreq(term document.Term) (int, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	n := 0
	for _, leaf := range r.leaves {
		t, err := leaf.Reader.Terms(term.Field)
		if err != nil {
			return 0, err
		}
		if t == nil {
			continue
		}
		te := t.Iterator()
		ok, err := te.SeekExact(term.Bytes)
		if err != nil {
			return 0, err
		}
		if ok {
			n += te.DocFreq()
		}
	}
	return n, nil
}

// LiveDocs returns global liveness, or nil when nothing is deleted.
func (r *DirectoryReader) LiveDocs() Bits {
	if r.numDocs == r.maxDoc {
		return nil
	}
	return multiBits{r: r}
}

type multiBits struct{ r *DirectoryReader }

func (b multiBits) Get(doc int) bool {
	leaf, err := b.r.leafFor(doc)
	if err != nil {
		return false
	}
	return leaf.Reader.IsLive(doc - leaf.DocBase)
}

func (b multiBits) Len() int { return b.r.maxDoc }

// Norms returns the norm of field for a global doc id.
func (r *DirectoryReader) Norms(field string, doc int) (uint32, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	leaf, err := r.leafFor(doc)
	if err != nil {
		return 0, err
	}
	n, err := leaf.Reader.Norms(field)
	if err != nil || n == nil {
		return 0, err
	}
	return n.Get(doc - leaf.DocBase), nil
}
