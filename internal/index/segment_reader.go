package index

import (
	"fmt"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/segment"
	"harshagw/segidx/internal/store"
)

// Bits reports per-document liveness.
type Bits interface {
	Get(doc int) bool
	Len() int
}

type liveBits struct {
	deleted *roaring.Bitmap
	maxDoc  int
}

func (b liveBits) Get(doc int) bool { return !b.deleted.Contains(uint32(doc)) }
func (b liveBits) Len() int         { return b.maxDoc }

// segmentCore is the opened segment file shared by every SegmentReader of
// the same segment, whatever its deletions.
type segmentCore struct {
	reader *segment.Reader
	refs   atomic.Int32
}

func openCore(dir store.Directory, si *SegmentCommitInfo) (*segmentCore, error) {
	codec, err := segment.LookupCodec(si.Codec)
	if err != nil {
		return nil, err
	}
	r, err := codec.Open(dir, si.segmentInfo())
	if err != nil {
		return nil, err
	}
	if r.MaxDoc() != si.MaxDoc {
		_ = r.Close()
		return nil, fmt.Errorf("%w: segment %s has %d docs, commit records %d", store.ErrCorruptIndex, si.Name, r.MaxDoc(), si.MaxDoc)
	}
	c := &segmentCore{reader: r}
	c.refs.Store(1)
	return c, nil
}

func (c *segmentCore) incRef() { c.refs.Add(1) }

func (c *segmentCore) decRef() error {
	if c.refs.Add(-1) == 0 {
		return c.reader.Close()
	}
	return nil
}

// SegmentReader is a point-in-time view of one segment: the shared core
// plus an immutable set of deleted documents.
type SegmentReader struct {
	dir     store.Directory
	core    *segmentCore
	info    *SegmentCommitInfo
	deleted *roaring.Bitmap
	numDocs int
	files   []string
	refs    atomic.Int32
}

// newSegmentReader takes ownership of one core reference. deleted must not
// be modified afterwards.
func newSegmentReader(dir store.Directory, core *segmentCore, si *SegmentCommitInfo, deleted *roaring.Bitmap) *SegmentReader {
	if deleted == nil {
		deleted = roaring.New()
	}
	r := &SegmentReader{
		dir:     dir,
		core:    core,
		info:    si.Clone(),
		deleted: deleted,
		numDocs: si.MaxDoc - int(deleted.GetCardinality()),
		files:   si.AllFiles(),
	}
	r.refs.Store(1)
	dir.Refs().Retain(r.files)
	return r
}

// openSegmentReader opens a segment with the deletions recorded in si.
func openSegmentReader(dir store.Directory, si *SegmentCommitInfo) (*SegmentReader, error) {
	core, err := openCore(dir, si)
	if err != nil {
		return nil, err
	}
	return openWithCore(dir, core, si)
}

func openWithCore(dir store.Directory, core *segmentCore, si *SegmentCommitInfo) (*SegmentReader, error) {
	deleted := roaring.New()
	if si.HasDeletions() {
		var err error
		deleted, err = segment.ReadLiveDocs(dir, si.Name, si.DelGen, si.MaxDoc)
		if err != nil {
			_ = core.decRef()
			return nil, err
		}
		if n := int(deleted.GetCardinality()); n != si.DelCount {
			_ = core.decRef()
			return nil, fmt.Errorf("%w: segment %s live docs hold %d deletions, commit records %d", store.ErrCorruptIndex, si.Name, n, si.DelCount)
		}
	}
	return newSegmentReader(dir, core, si, deleted), nil
}

// withDeletes returns a reader sharing r's core with different deletions.
func (r *SegmentReader) withDeletes(si *SegmentCommitInfo, deleted *roaring.Bitmap) *SegmentReader {
	r.core.incRef()
	return newSegmentReader(r.dir, r.core, si, deleted)
}

func (r *SegmentReader) IncRef() { r.refs.Add(1) }

func (r *SegmentReader) DecRef() error {
	n := r.refs.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 {
		r.refs.Store(0)
		return ErrAlreadyClosed
	}
	r.dir.Refs().Release(r.files)
	return r.core.decRef()
}

func (r *SegmentReader) ensureOpen() error {
	if r.refs.Load() <= 0 {
		return ErrAlreadyClosed
	}
	return nil
}

func (r *SegmentReader) Name() string                    { return r.info.Name }
func (r *SegmentReader) SegmentInfo() *SegmentCommitInfo { return r.info }
func (r *SegmentReader) MaxDoc() int                     { return r.info.MaxDoc }
func (r *SegmentReader) NumDocs() int                    { return r.numDocs }
func (r *SegmentReader) NumDeletedDocs() int             { return r.info.MaxDoc - r.numDocs }
func (r *SegmentReader) FieldInfos() *segment.FieldInfos { return r.core.reader.FieldInfos() }

// Core exposes the underlying segment file reader.
func (r *SegmentReader) Core() *segment.Reader { return r.core.reader }

// LiveDocs returns nil when the segment has no deletions.
func (r *SegmentReader) LiveDocs() Bits {
	if r.deleted.IsEmpty() {
		return nil
	}
	return liveBits{deleted: r.deleted, maxDoc: r.info.MaxDoc}
}

// IsLive reports whether doc is not deleted.
func (r *SegmentReader) IsLive(doc int) bool { return !r.deleted.Contains(uint32(doc)) }

// DeletedDocs returns a copy of the deleted document set.
func (r *SegmentReader) DeletedDocs() *roaring.Bitmap { return r.deleted.Clone() }

// Terms returns nil if field has no terms in this segment.
func (r *SegmentReader) Terms(field string) (*segment.Terms, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	return r.core.reader.Terms(field)
}

func (r *SegmentReader) Document(doc int) (document.StoredDocument, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	return r.core.reader.StoredDocument(doc)
}

func (r *SegmentReader) TermVectors(doc int) (segment.TermVectors, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	return r.core.reader.TermVectors(doc)
}

func (r *SegmentReader) NumericDocValues(field string) (*segment.NumericDocValues, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	return r.core.reader.NumericDocValues(field)
}

func (r *SegmentReader) BinaryDocValues(field string) (*segment.BinaryDocValues, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	return r.core.reader.BinaryDocValues(field)
}

func (r *SegmentReader) SortedDocValues(field string) (*segment.SortedDocValues, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	return r.core.reader.SortedDocValues(field)
}

func (r *SegmentReader) Norms(field string) (*segment.Norms, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	return r.core.reader.Norms(field)
}

// Postings returns the postings of a term with deleted docs included, or
// nil when the term does not occur.
func (r *SegmentReader) Postings(term document.Term, flags segment.PostingsFlags) (segment.PostingsEnum, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	terms, err := r.Terms(term.Field)
	if err != nil || terms == nil {
		return nil, err
	}
	te := terms.Iterator()
	found, err := te.SeekExact(term.Bytes)
	if err != nil || !found {
		return nil, err
	}
	return te.Postings(nil, flags)
}
