package search

import (
	"errors"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring"

	"harshagw/segidx/internal/analysis"
	"harshagw/segidx/internal/automaton"
	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/index"
	"harshagw/segidx/internal/query"
	"harshagw/segidx/internal/segment"
)

// ErrNegativeOnly is returned for a boolean query with only NOT clauses.
var ErrNegativeOnly = errors.New("NOT queries require a positive clause")

// matcher evaluates a compiled query against one segment.
type matcher interface {
	// match returns the segment-local ids of matching documents, deleted
	// ones included.
	match(r *index.SegmentReader) (*roaring.Bitmap, error)
	// terms calls visit for every term that contributes to the score.
	terms(r *index.SegmentReader, visit func(document.Term)) error
}

// compiler turns parsed queries into matchers.
type compiler struct {
	analyzer      analysis.Analyzer
	defaultFields []string
}

func (c *compiler) fields(field string, r *index.SegmentReader) []string {
	if field != "" {
		return []string{field}
	}
	if len(c.defaultFields) > 0 {
		return c.defaultFields
	}
	return r.Core().IndexedFields()
}

func (c *compiler) compile(q query.Query) (matcher, error) {
	switch v := q.(type) {
	case nil:
		return noneMatcher{}, nil
	case *query.MatchAllQuery:
		return allMatcher{}, nil
	case *query.TermQuery:
		return &termMatcher{c: c, field: v.Field, term: []byte(v.Term)}, nil
	case *query.PhraseQuery:
		var words [][]byte
		var offsets []int
		for _, tok := range c.analyzer.Analyze(v.Field, v.Phrase) {
			words = append(words, []byte(tok.Term))
			offsets = append(offsets, tok.Position)
		}
		switch len(words) {
		case 0:
			return noneMatcher{}, nil
		case 1:
			return &termMatcher{c: c, field: v.Field, term: words[0]}, nil
		}
		return &phraseMatcher{c: c, field: v.Field, words: words, offsets: offsets}, nil
	case *query.PrefixQuery:
		return &automatonMatcher{c: c, field: v.Field, a: automaton.Prefix([]byte(v.Prefix))}, nil
	case *query.RegexQuery:
		a, err := automaton.Regexp(v.Pattern)
		if err != nil {
			return nil, err
		}
		return &automatonMatcher{c: c, field: v.Field, a: a}, nil
	case *query.FuzzyQuery:
		a, err := automaton.Fuzzy(v.Term, v.Fuzziness, true)
		if err != nil {
			return nil, err
		}
		return &automatonMatcher{c: c, field: v.Field, a: a}, nil
	case *query.RangeQuery:
		var lower, upper []byte
		if v.Lower != "" {
			lower = []byte(v.Lower)
		}
		if v.Upper != "" {
			upper = []byte(v.Upper)
		}
		return &automatonMatcher{c: c, field: v.Field, a: automaton.Range(lower, upper, v.IncLower, v.IncUpper)}, nil
	case *query.BoolQuery:
		return c.compileBool(v)
	}
	return nil, fmt.Errorf("unknown query type: %T", q)
}

func (c *compiler) compileList(qs []query.Query) ([]matcher, error) {
	out := make([]matcher, 0, len(qs))
	for _, q := range qs {
		m, err := c.compile(q)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *compiler) compileBool(q *query.BoolQuery) (matcher, error) {
	must, should, mustNot := q.Flatten()
	if len(must) == 0 && len(should) == 0 {
		if len(mustNot) > 0 {
			return nil, ErrNegativeOnly
		}
		return noneMatcher{}, nil
	}
	var (
		b   boolMatcher
		err error
	)
	if b.must, err = c.compileList(must); err != nil {
		return nil, err
	}
	if b.should, err = c.compileList(should); err != nil {
		return nil, err
	}
	if b.mustNot, err = c.compileList(mustNot); err != nil {
		return nil, err
	}
	return &b, nil
}

type noneMatcher struct{}

func (noneMatcher) match(*index.SegmentReader) (*roaring.Bitmap, error)   { return roaring.New(), nil }
func (noneMatcher) terms(*index.SegmentReader, func(document.Term)) error { return nil }

type allMatcher struct{}

func (allMatcher) match(r *index.SegmentReader) (*roaring.Bitmap, error) {
	bm := roaring.New()
	bm.AddRange(0, uint64(r.MaxDoc()))
	return bm, nil
}

func (allMatcher) terms(*index.SegmentReader, func(document.Term)) error { return nil }

// postingsBitmap ors the docs of te's current term into bm.
func postingsBitmap(te segment.TermsEnum, bm *roaring.Bitmap, reuse segment.PostingsEnum) (segment.PostingsEnum, error) {
	pe, err := te.Postings(reuse, segment.FlagDocs)
	if err != nil {
		return nil, err
	}
	for {
		doc, err := pe.NextDoc()
		if err != nil {
			return nil, err
		}
		if doc == segment.NoMoreDocs {
			return pe, nil
		}
		bm.Add(uint32(doc))
	}
}

type termMatcher struct {
	c     *compiler
	field string
	term  []byte
}

func (m *termMatcher) seek(r *index.SegmentReader, field string) (segment.TermsEnum, error) {
	terms, err := r.Terms(field)
	if err != nil || terms == nil {
		return nil, err
	}
	te := terms.Iterator()
	ok, err := te.SeekExact(m.term)
	if err != nil || !ok {
		return nil, err
	}
	return te, nil
}

func (m *termMatcher) match(r *index.SegmentReader) (*roaring.Bitmap, error) {
	bm := roaring.New()
	for _, f := range m.c.fields(m.field, r) {
		te, err := m.seek(r, f)
		if err != nil {
			return nil, err
		}
		if te == nil {
			continue
		}
		if _, err := postingsBitmap(te, bm, nil); err != nil {
			return nil, err
		}
	}
	return bm, nil
}

func (m *termMatcher) terms(r *index.SegmentReader, visit func(document.Term)) error {
	for _, f := range m.c.fields(m.field, r) {
		te, err := m.seek(r, f)
		if err != nil {
			return err
		}
		if te != nil {
			visit(document.Term{Field: f, Bytes: m.term})
		}
	}
	return nil
}

// automatonMatcher covers prefix, regexp, fuzzy and range queries.
type automatonMatcher struct {
	c     *compiler
	field string
	a     automaton.Automaton
}

func (m *automatonMatcher) each(r *index.SegmentReader, fn func(field string, te segment.TermsEnum) error) error {
	for _, f := range m.c.fields(m.field, r) {
		terms, err := r.Terms(f)
		if err != nil {
			return err
		}
		if terms == nil {
			continue
		}
		te, err := terms.Intersect(m.a, nil)
		if err != nil {
			return err
		}
		for {
			ok, err := te.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if err := fn(f, te); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *automatonMatcher) match(r *index.SegmentReader) (*roaring.Bitmap, error) {
	bm := roaring.New()
	var pe segment.PostingsEnum
	err := m.each(r, func(_ string, te segment.TermsEnum) error {
		var err error
		pe, err = postingsBitmap(te, bm, pe)
		return err
	})
	return bm, err
}

func (m *automatonMatcher) terms(r *index.SegmentReader, visit func(document.Term)) error {
	return m.each(r, func(f string, te segment.TermsEnum) error {
		visit(document.Term{Field: f, Bytes: slices.Clone(te.Term())})
		return nil
	})
}

type boolMatcher struct {
	must, should, mustNot []matcher
}

func (m *boolMatcher) match(r *index.SegmentReader) (*roaring.Bitmap, error) {
	var result *roaring.Bitmap
	for _, c := range m.must {
		bm, err := c.match(r)
		if err != nil {
			return nil, err
		}
		if result == nil {
			result = bm
		} else {
			result.And(bm)
		}
		if result.IsEmpty() {
			return result, nil
		}
	}
	if len(m.should) > 0 {
		sets := make([]*roaring.Bitmap, 0, len(m.should))
		for _, c := range m.should {
			bm, err := c.match(r)
			if err != nil {
				return nil, err
			}
			sets = append(sets, bm)
		}
		union := roaring.FastOr(sets...)
		if result == nil {
			result = union
		} else {
			result.And(union)
		}
	}
	for _, c := range m.mustNot {
		if result.IsEmpty() {
			break
		}
		bm, err := c.match(r)
		if err != nil {
			return nil, err
		}
		result.AndNot(bm)
	}
	return result, nil
}

func (m *boolMatcher) terms(r *index.SegmentReader, visit func(document.Term)) error {
	for _, list := range [][]matcher{m.must, m.should} {
		for _, c := range list {
			if err := c.terms(r, visit); err != nil {
				return err
			}
		}
	}
	return nil
}
