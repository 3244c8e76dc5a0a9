package search

import (
	"slices"

	"github.com/RoaringBitmap/roaring"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/index"
	"harshagw/segidx/internal/segment"
)

// phraseMatcher matches words at the same relative positions the analyzer
// gave them in the query text.
type phraseMatcher struct {
	c       *compiler
	field   string
	words   [][]byte
	offsets []int
}

// enums seeks every word in field and returns their postings with
// positions, or nil when a word is missing or positions are not indexed.
func (m *phraseMatcher) enums(r *index.SegmentReader, field string) ([]segment.PostingsEnum, *roaring.Bitmap, error) {
	terms, err := r.Terms(field)
	if err != nil || terms == nil || !terms.HasPositions() {
		return nil, nil, err
	}
	enums := make([]segment.PostingsEnum, len(m.words))
	var candidates *roaring.Bitmap
	for i, w := range m.words {
		te := terms.Iterator()
		ok, err := te.SeekExact(w)
		if err != nil || !ok {
			return nil, nil, err
		}
		bm := roaring.New()
		if _, err := postingsBitmap(te, bm, nil); err != nil {
			return nil, nil, err
		}
		if candidates == nil {
			candidates = bm
		} else {
			candidates.And(bm)
		}
		if enums[i], err = te.Postings(nil, segment.FlagPositions); err != nil {
			return nil, nil, err
		}
	}
	return enums, candidates, nil
}

func (m *phraseMatcher) match(r *index.SegmentReader) (*roaring.Bitmap, error) {
	result := roaring.New()
	for _, f := range m.c.fields(m.field, r) {
		enums, candidates, err := m.enums(r, f)
		if err != nil {
			return nil, err
		}
		if enums == nil {
			continue
		}
		positions := make([][]int, len(enums))
		it := candidates.Iterator()
		for it.HasNext() {
			doc := int(it.Next())
			for i, pe := range enums {
				if positions[i], err = positionsAt(pe, doc, positions[i][:0]); err != nil {
					return nil, err
				}
			}
			if m.phraseAt(positions) {
				result.Add(uint32(doc))
			}
		}
	}
	return result, nil
}

func positionsAt(pe segment.PostingsEnum, doc int, buf []int) ([]int, error) {
	if pe.DocID() < doc {
		if _, err := pe.Advance(doc); err != nil {
			return nil, err
		}
	}
	for i := 0; i < pe.Freq(); i++ {
		pos, err := pe.NextPosition()
		if err != nil {
			return nil, err
		}
		buf = append(buf, pos)
	}
	return buf, nil
}

// phraseAt reports whether some position of the first word starts the
// phrase. Positions of each word are sorted.
func (m *phraseMatcher) phraseAt(positions [][]int) bool {
	for _, start := range positions[0] {
		ok := true
		for i := 1; i < len(positions); i++ {
			want := start + m.offsets[i] - m.offsets[0]
			if _, found := slices.BinarySearch(positions[i], want); !found {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func (m *phraseMatcher) terms(r *index.SegmentReader, visit func(document.Term)) error {
	for _, f := range m.c.fields(m.field, r) {
		enums, candidates, err := m.enums(r, f)
		if err != nil {
			return err
		}
		if enums == nil || candidates.IsEmpty() {
			continue
		}
		for _, w := range m.words {
			visit(document.Term{Field: f, Bytes: w})
		}
	}
	return nil
}
