package index

import (
	"sort"

	"github.com/RoaringBitmap/roaring"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/segment"
)

// DeleteQuery selects documents of one segment for deletion.
type DeleteQuery interface {
	// MatchingDocs returns segment-local doc ids. Already deleted documents
	// may be included.
	MatchingDocs(r *SegmentReader) (*roaring.Bitmap, error)
}

// deleteOp is one buffered delete. It applies to every document whose add
// sequence number is below seq.
type deleteOp struct {
	seq     int64
	terms   []document.Term
	queries []DeleteQuery
}

// deleteLog holds buffered deletes ordered by sequence number.
type deleteLog struct {
	ops []deleteOp
}

func (l *deleteLog) append(op deleteOp) { l.ops = append(l.ops, op) }

// between returns the ops with after < seq <= upTo.
func (l *deleteLog) between(after, upTo int64) []deleteOp {
	lo := sort.Search(len(l.ops), func(i int) bool { return l.ops[i].seq > after })
	hi := sort.Search(len(l.ops), func(i int) bool { return l.ops[i].seq > upTo })
	if lo >= hi {
		return nil
	}
	return l.ops[lo:hi]
}

// trim drops ops with seq <= upTo.
func (l *deleteLog) trim(upTo int64) {
	i := sort.Search(len(l.ops), func(i int) bool { return l.ops[i].seq > upTo })
	l.ops = append(l.ops[:0:0], l.ops[i:]...)
}

func (l *deleteLog) reset() { l.ops = nil }

func (l *deleteLog) len() int { return len(l.ops) }

// termDocs returns the docs containing term in one segment.
func termDocs(r *SegmentReader, term document.Term) (*roaring.Bitmap, error) {
	pe, err := r.Postings(term, segment.FlagDocs)
	if err != nil || pe == nil {
		return nil, err
	}
	docs := roaring.New()
	for {
		d, err := pe.NextDoc()
		if err != nil {
			return nil, err
		}
		if d == segment.NoMoreDocs {
			return docs, nil
		}
		docs.Add(uint32(d))
	}
}

// matches returns the docs of r selected by op, before sequence filtering.
func (op *deleteOp) matches(r *SegmentReader) (*roaring.Bitmap, error) {
	out := roaring.New()
	for _, t := range op.terms {
		docs, err := termDocs(r, t)
		if err != nil {
			return nil, err
		}
		if docs != nil {
			out.Or(docs)
		}
	}
	for _, q := range op.queries {
		docs, err := q.MatchingDocs(r)
		if err != nil {
			return nil, err
		}
		if docs != nil {
			out.Or(docs)
		}
	}
	return out, nil
}
