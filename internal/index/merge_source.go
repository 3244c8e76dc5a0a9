package index

import (
	"bytes"
	"container/heap"
	"slices"

	"github.com/RoaringBitmap/roaring"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/segment"
)

type docOrigin struct {
	sub int
	doc int
}

// mergeSource presents the live documents of several segment readers as
// one segment. Documents are renumbered in reader order with deleted ones
// dropped.
type mergeSource struct {
	readers []*SegmentReader
	docMaps [][]int
	origin  []docOrigin
	infos   *segment.FieldInfos
	abort   func() error
}

// newMergeSource snapshots deleted[i] as the deletions of readers[i].
func newMergeSource(readers []*SegmentReader, deleted []*roaring.Bitmap, numbers *FieldNumbers, abort func() error) (*mergeSource, error) {
	s := &mergeSource{readers: readers, infos: segment.NewFieldInfos(), abort: abort}
	for i, r := range readers {
		renumbered, err := numbers.Renumber(r.FieldInfos())
		if err != nil {
			return nil, err
		}
		for _, fi := range renumbered.List() {
			s.infos.Merge(fi)
		}
		docMap := make([]int, r.MaxDoc())
		for doc := range docMap {
			if deleted[i] != nil && deleted[i].Contains(uint32(doc)) {
				docMap[doc] = -1
				continue
			}
			docMap[doc] = len(s.origin)
			s.origin = append(s.origin, docOrigin{sub: i, doc: doc})
		}
		s.docMaps = append(s.docMaps, docMap)
	}
	return s, nil
}

func (s *mergeSource) MaxDoc() int                     { return len(s.origin) }
func (s *mergeSource) FieldInfos() *segment.FieldInfos { return s.infos }

func (s *mergeSource) StoredDocument(doc int) (document.StoredDocument, error) {
	if err := s.abort(); err != nil {
		return nil, err
	}
	o := s.origin[doc]
	return s.readers[o.sub].Document(o.doc)
}

func (s *mergeSource) TermVectors(doc int) (segment.TermVectors, error) {
	o := s.origin[doc]
	return s.readers[o.sub].TermVectors(o.doc)
}

func (s *mergeSource) DocValues(field string) (*segment.DocValuesColumn, error) {
	fi := s.infos.Get(field)
	if fi == nil || fi.DocValues == document.DocValuesNone {
		return nil, nil
	}
	var col *segment.DocValuesColumn
	for i, r := range s.readers {
		sub, err := r.Core().DocValues(field)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			continue
		}
		if col == nil {
			col = segment.NewDocValuesColumn(fi.DocValues, s.MaxDoc())
		}
		it := sub.Present.Iterator()
		for it.HasNext() {
			old := int(it.Next())
			nd := s.docMaps[i][old]
			if nd < 0 {
				continue
			}
			if sub.Type == document.DocValuesNumeric {
				col.Set(nd, sub.Numeric[old], nil)
			} else {
				col.Set(nd, 0, bytes.Clone(sub.Binary[old]))
			}
		}
	}
	return col, nil
}

func (s *mergeSource) Norms(field string) ([]uint32, error) {
	out := make([]uint32, s.MaxDoc())
	for i, r := range s.readers {
		sub, err := r.Core().NormValues(field)
		if err != nil {
			return nil, err
		}
		for old, v := range sub {
			if nd := s.docMaps[i][old]; nd >= 0 {
				out[nd] = v
			}
		}
	}
	return out, nil
}

func (s *mergeSource) Terms(field string) (segment.TermIterator, error) {
	it := &mergeTermIterator{src: s}
	for i, r := range s.readers {
		t, err := r.Terms(field)
		if err != nil {
			return nil, err
		}
		if t != nil {
			it.subs = append(it.subs, &termsSub{te: t.Iterator(), index: i})
		}
	}
	if len(it.subs) == 0 {
		return nil, nil
	}
	return it, nil
}

// mergeTermIterator merges the dictionaries of one field, remapping each
// term's postings and skipping terms left without live documents.
type mergeTermIterator struct {
	src      *mergeSource
	subs     []*termsSub
	queue    termsQueue
	top      []*termsSub
	started  bool
	term     []byte
	postings []segment.Posting
	reuse    map[int]segment.PostingsEnum
	err      error
}

func (it *mergeTermIterator) advance(subs []*termsSub) bool {
	for _, s := range subs {
		ok, err := s.te.Next()
		if err != nil {
			it.err = err
			return false
		}
		if ok {
			s.term = bytes.Clone(s.te.Term())
			heap.Push(&it.queue, s)
		}
	}
	return true
}

func (it *mergeTermIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for {
		if err := it.src.abort(); err != nil {
			it.err = err
			return false
		}
		subs := it.top
		if !it.started {
			it.started = true
			subs = it.subs
		}
		if !it.advance(subs) {
			return false
		}
		it.top = it.top[:0]
		if len(it.queue) == 0 {
			return false
		}
		first := heap.Pop(&it.queue).(*termsSub)
		it.top = append(it.top, first)
		for len(it.queue) > 0 && bytes.Equal(it.queue[0].term, first.term) {
			it.top = append(it.top, heap.Pop(&it.queue).(*termsSub))
		}
		slices.SortFunc(it.top, func(a, b *termsSub) int { return a.index - b.index })
		it.term = first.term
		if err := it.collect(); err != nil {
			it.err = err
			return false
		}
		if len(it.postings) > 0 {
			return true
		}
	}
}

func (it *mergeTermIterator) collect() error {
	if it.reuse == nil {
		it.reuse = make(map[int]segment.PostingsEnum)
	}
	it.postings = nil
	for _, s := range it.top {
		pe, err := s.te.Postings(it.reuse[s.index], segment.FlagAll)
		if err != nil {
			return err
		}
		it.reuse[s.index] = pe
		docMap := it.src.docMaps[s.index]
		for {
			d, err := pe.NextDoc()
			if err != nil {
				return err
			}
			if d == segment.NoMoreDocs {
				break
			}
			nd := docMap[d]
			if nd < 0 {
				continue
			}
			p := segment.Posting{Doc: nd, Freq: pe.Freq()}
			for i := 0; i < p.Freq; i++ {
				pos, err := pe.NextPosition()
				if err != nil {
					return err
				}
				if pos < 0 {
					break
				}
				p.Positions = append(p.Positions, segment.Position{
					Pos:     pos,
					Start:   pe.StartOffset(),
					End:     pe.EndOffset(),
					Payload: bytes.Clone(pe.Payload()),
				})
			}
			it.postings = append(it.postings, p)
		}
	}
	return nil
}

func (it *mergeTermIterator) Term() []byte                { return it.term }
func (it *mergeTermIterator) Postings() []segment.Posting { return it.postings }
func (it *mergeTermIterator) Err() error                  { return it.err }
