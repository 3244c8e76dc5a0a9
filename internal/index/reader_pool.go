package index

import (
	"github.com/RoaringBitmap/roaring"
)

// pooledSegment is the writer's live state of one segment: a reader, the
// current deletions and how far buffered deletes have been resolved.
type pooledSegment struct {
	info    *SegmentCommitInfo
	reader  *SegmentReader
	deleted *roaring.Bitmap
	// shared means deleted is owned by reader and must be copied before
	// it is modified.
	shared bool
	stale  bool
	// dirty deletions have not been written to a live-docs file.
	dirty bool

	// Deletes with seq <= appliedSeq are reflected in deleted.
	appliedSeq int64
	// docSeqs holds per-document add sequence numbers while some buffered
	// delete may still fall between them.
	docSeqs   []int64
	maxDocSeq int64
}

func newPooledSegment(info *SegmentCommitInfo, r *SegmentReader, appliedSeq int64, docSeqs []int64) *pooledSegment {
	p := &pooledSegment{
		info:       info,
		reader:     r,
		deleted:    r.deleted,
		shared:     true,
		appliedSeq: appliedSeq,
		docSeqs:    docSeqs,
	}
	for _, s := range docSeqs {
		p.maxDocSeq = max(p.maxDocSeq, s)
	}
	return p
}

func (p *pooledSegment) numDeleted() int { return int(p.deleted.GetCardinality()) }

func (p *pooledSegment) numDocs() int { return p.info.MaxDoc - p.numDeleted() }

func (p *pooledSegment) fullyDeleted() bool { return p.numDeleted() == p.info.MaxDoc }

// delete marks docs deleted and returns how many were newly deleted.
func (p *pooledSegment) delete(docs *roaring.Bitmap) int {
	fresh := roaring.AndNot(docs, p.deleted)
	n := int(fresh.GetCardinality())
	if n == 0 {
		return 0
	}
	if p.shared {
		p.deleted = p.deleted.Clone()
		p.shared = false
	}
	p.deleted.Or(fresh)
	p.dirty = true
	p.stale = true
	return n
}

// currentReader returns a reader reflecting the current deletions. The
// pool keeps one reference; callers IncRef what they hand out.
func (p *pooledSegment) currentReader() *SegmentReader {
	if p.stale {
		old := p.reader
		p.reader = old.withDeletes(p.info, p.deleted)
		_ = old.DecRef()
		p.shared = true
		p.stale = false
	}
	return p.reader
}

// resolve applies ops to the segment. Only docs added before an op are
// deleted by it.
func (p *pooledSegment) resolve(ops []deleteOp, upTo int64) (int, error) {
	total := 0
	for i := range ops {
		op := &ops[i]
		docs, err := op.matches(p.reader)
		if err != nil {
			return total, err
		}
		if p.docSeqs != nil && op.seq <= p.maxDocSeq {
			docs = filterBySeq(docs, p.docSeqs, op.seq)
		}
		total += p.delete(docs)
	}
	if upTo > p.appliedSeq {
		p.appliedSeq = upTo
	}
	if p.appliedSeq >= p.maxDocSeq {
		p.docSeqs = nil
	}
	return total, nil
}

func filterBySeq(docs *roaring.Bitmap, seqs []int64, seq int64) *roaring.Bitmap {
	out := roaring.New()
	it := docs.Iterator()
	for it.HasNext() {
		d := it.Next()
		if seqs[d] < seq {
			out.Add(d)
		}
	}
	return out
}

func (p *pooledSegment) release() {
	_ = p.reader.DecRef()
}
