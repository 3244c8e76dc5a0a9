package index

import (
	"bytes"
	"container/heap"
	"errors"
	"slices"

	"harshagw/segidx/internal/automaton"
	"harshagw/segidx/internal/segment"
)

// MultiTerms merges one field's dictionaries across the leaves of a reader.
// Postings use global doc ids and skip deleted documents.
type MultiTerms struct {
	subs   []*segment.Terms
	leaves []LeafReaderContext
}

func (t *MultiTerms) Size() int64 { return -1 }

func (t *MultiTerms) DocCount() int {
	n := 0
	for _, s := range t.subs {
		n += s.DocCount()
	}
	return n
}

func (t *MultiTerms) SumDocFreq() int64 {
	var n int64
	for _, s := range t.subs {
		n += s.SumDocFreq()
	}
	return n
}

func (t *MultiTerms) SumTotalTermFreq() int64 {
	var n int64
	for _, s := range t.subs {
		n += s.SumTotalTermFreq()
	}
	return n
}

func (t *MultiTerms) HasPositions() bool {
	for _, s := range t.subs {
		if !s.HasPositions() {
			return false
		}
	}
	return true
}

// Iterator returns an enum over the union of the leaves' terms.
func (t *MultiTerms) Iterator() segment.TermsEnum {
	enums := make([]segment.TermsEnum, len(t.subs))
	for i, s := range t.subs {
		enums[i] = s.Iterator()
	}
	return newMultiTermsEnum(enums, t.leaves)
}

// Intersect returns an enum over terms accepted by a, strictly after
// startTerm when it is non-nil.
func (t *MultiTerms) Intersect(a automaton.Automaton, startTerm []byte) (segment.TermsEnum, error) {
	enums := make([]segment.TermsEnum, len(t.subs))
	for i, s := range t.subs {
		te, err := s.Intersect(a, startTerm)
		if err != nil {
			return nil, err
		}
		enums[i] = te
	}
	return newMultiTermsEnum(enums, t.leaves), nil
}

type termsSub struct {
	te    segment.TermsEnum
	index int
	leaf  LeafReaderContext
	term  []byte
}

type termsQueue []*termsSub

func (q termsQueue) Len() int { return len(q) }
func (q termsQueue) Less(i, j int) bool {
	if c := bytes.Compare(q[i].term, q[j].term); c != 0 {
		return c < 0
	}
	return q[i].index < q[j].index
}
func (q termsQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *termsQueue) Push(x any)   { *q = append(*q, x.(*termsSub)) }
func (q *termsQueue) Pop() any {
	old := *q
	s := old[len(old)-1]
	*q = old[:len(old)-1]
	return s
}

// multiTermsEnum merges sub enums with a min-heap. top holds the subs
// positioned on the current term; queue holds those positioned after it.
type multiTermsEnum struct {
	subs          []*termsSub
	queue         termsQueue
	top           []*termsSub
	current       []byte
	lastSeekExact bool
	started       bool
}

func newMultiTermsEnum(enums []segment.TermsEnum, leaves []LeafReaderContext) *multiTermsEnum {
	e := &multiTermsEnum{}
	for i, te := range enums {
		e.subs = append(e.subs, &termsSub{te: te, index: i, leaf: leaves[i]})
	}
	return e
}

func (e *multiTermsEnum) pullTop() {
	e.top = e.top[:0]
	if len(e.queue) == 0 {
		e.current = nil
		return
	}
	first := heap.Pop(&e.queue).(*termsSub)
	e.top = append(e.top, first)
	for len(e.queue) > 0 && bytes.Equal(e.queue[0].term, first.term) {
		e.top = append(e.top, heap.Pop(&e.queue).(*termsSub))
	}
	e.current = first.term
}

func (e *multiTermsEnum) push(s *termsSub) {
	s.term = bytes.Clone(s.te.Term())
	heap.Push(&e.queue, s)
}

func (e *multiTermsEnum) Next() (bool, error) {
	if e.lastSeekExact {
		// Subs not on the current term were left unpositioned.
		if _, err := e.SeekCeil(e.current); err != nil {
			return false, err
		}
		e.lastSeekExact = false
	}
	if !e.started {
		e.started = true
		for _, s := range e.subs {
			ok, err := s.te.Next()
			if err != nil {
				return false, err
			}
			if ok {
				e.push(s)
			}
		}
	} else {
		for _, s := range e.top {
			ok, err := s.te.Next()
			if err != nil {
				return false, err
			}
			if ok {
				e.push(s)
			}
		}
	}
	e.pullTop()
	return len(e.top) > 0, nil
}

func (e *multiTermsEnum) Term() []byte { return e.current }

func (e *multiTermsEnum) SeekCeil(target []byte) (segment.SeekStatus, error) {
	e.queue = e.queue[:0]
	e.top = e.top[:0]
	e.started = true
	e.lastSeekExact = false
	for _, s := range e.subs {
		status, err := s.te.SeekCeil(target)
		if err != nil {
			return segment.SeekEnd, err
		}
		if status != segment.SeekEnd {
			e.push(s)
		}
	}
	e.pullTop()
	switch {
	case len(e.top) == 0:
		return segment.SeekEnd, nil
	case bytes.Equal(e.current, target):
		return segment.SeekFound, nil
	}
	return segment.SeekNotFound, nil
}

func (e *multiTermsEnum) SeekExact(target []byte) (bool, error) {
	e.queue = e.queue[:0]
	e.top = e.top[:0]
	e.started = true
	for _, s := range e.subs {
		ok, err := s.te.SeekExact(target)
		if err != nil {
			return false, err
		}
		if ok {
			s.term = bytes.Clone(target)
			e.top = append(e.top, s)
		}
	}
	if len(e.top) == 0 {
		e.current = nil
		e.lastSeekExact = false
		return false, nil
	}
	e.current = bytes.Clone(target)
	e.lastSeekExact = true
	return true, nil
}

// SeekExactState falls back to a dictionary lookup; term states are per
// segment.
func (e *multiTermsEnum) SeekExactState(target []byte, _ segment.TermState) error {
	ok, err := e.SeekExact(target)
	if err == nil && !ok {
		err = errors.New("term not found")
	}
	return err
}

func (e *multiTermsEnum) SeekExactOrd(int64) error     { return ErrOrdNotSupported }
func (e *multiTermsEnum) Ord() (int64, error)          { return -1, ErrOrdNotSupported }
func (e *multiTermsEnum) TermState() segment.TermState { return nil }

func (e *multiTermsEnum) DocFreq() int {
	n := 0
	for _, s := range e.top {
		n += s.te.DocFreq()
	}
	return n
}

func (e *multiTermsEnum) TotalTermFreq() int64 {
	var n int64
	for _, s := range e.top {
		n += s.te.TotalTermFreq()
	}
	return n
}

// Postings merges the postings of the subs on the current term in leaf
// order.
func (e *multiTermsEnum) Postings(reuse segment.PostingsEnum, flags segment.PostingsFlags) (segment.PostingsEnum, error) {
	mp, ok := reuse.(*multiPostingsEnum)
	if !ok {
		mp = &multiPostingsEnum{}
	}
	var prev []postingsSub
	if ok {
		prev = slices.Clone(mp.subs)
	}
	mp.subs = mp.subs[:0]
	top := slices.Clone(e.top)
	// Leaf order keeps global doc ids ascending.
	slices.SortFunc(top, func(a, b *termsSub) int { return a.index - b.index })
	for _, s := range top {
		var reusePE segment.PostingsEnum
		for _, p := range prev {
			if p.index == s.index {
				reusePE = p.pe
			}
		}
		pe, err := s.te.Postings(reusePE, flags)
		if err != nil {
			return nil, err
		}
		mp.subs = append(mp.subs, postingsSub{
			pe:    pe,
			index: s.index,
			base:  s.leaf.DocBase,
			live:  s.leaf.Reader.LiveDocs(),
		})
	}
	mp.reset()
	return mp, nil
}

type postingsSub struct {
	pe    segment.PostingsEnum
	index int
	base  int
	live  Bits
}

// multiPostingsEnum concatenates per-leaf postings, rebasing doc ids and
// dropping deleted documents.
type multiPostingsEnum struct {
	subs []postingsSub
	upto int
	cur  *postingsSub
	doc  int
}

func (m *multiPostingsEnum) reset() {
	m.upto = -1
	m.cur = nil
	m.doc = -1
}

func (m *multiPostingsEnum) DocID() int { return m.doc }

func (m *multiPostingsEnum) NextDoc() (int, error) {
	for {
		if m.cur == nil {
			m.upto++
			if m.upto >= len(m.subs) {
				m.doc = segment.NoMoreDocs
				return m.doc, nil
			}
			m.cur = &m.subs[m.upto]
		}
		d, err := m.cur.pe.NextDoc()
		if err != nil {
			return 0, err
		}
		if d == segment.NoMoreDocs {
			m.cur = nil
			continue
		}
		if m.cur.live != nil && !m.cur.live.Get(d) {
			continue
		}
		m.doc = m.cur.base + d
		return m.doc, nil
	}
}

func (m *multiPostingsEnum) Advance(target int) (int, error) {
	if target <= m.doc {
		return m.doc, nil
	}
	for {
		if m.cur == nil {
			m.upto++
			if m.upto >= len(m.subs) {
				m.doc = segment.NoMoreDocs
				return m.doc, nil
			}
			m.cur = &m.subs[m.upto]
		}
		local := target - m.cur.base
		var d int
		var err error
		if local <= m.cur.pe.DocID() {
			d, err = m.cur.pe.NextDoc()
		} else {
			d, err = m.cur.pe.Advance(local)
		}
		if err != nil {
			return 0, err
		}
		if d == segment.NoMoreDocs {
			m.cur = nil
			continue
		}
		if m.cur.live != nil && !m.cur.live.Get(d) {
			return m.NextDoc()
		}
		m.doc = m.cur.base + d
		return m.doc, nil
	}
}

func (m *multiPostingsEnum) Freq() int                  { return m.cur.pe.Freq() }
func (m *multiPostingsEnum) NextPosition() (int, error) { return m.cur.pe.NextPosition() }
func (m *multiPostingsEnum) StartOffset() int           { return m.cur.pe.StartOffset() }
func (m *multiPostingsEnum) EndOffset() int             { return m.cur.pe.EndOffset() }
func (m *multiPostingsEnum) Payload() []byte            { return m.cur.pe.Payload() }

func (m *multiPostingsEnum) Cost() int64 {
	var n int64
	for _, s := range m.subs {
		n += s.pe.Cost()
	}
	return n
}
