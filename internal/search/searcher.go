// Package search evaluates parsed queries against a DirectoryReader and
// ranks the hits.
package search

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"harshagw/segidx/internal/analysis"
	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/index"
	"harshagw/segidx/internal/query"
)

// DefaultMaxExpansions caps the terms a multi-term query scores with per
// segment. Matching always uses every term.
const DefaultMaxExpansions = 1024

// Result is one hit. DocID is the reader's global doc id.
type Result struct {
	DocID        int
	Score        float64
	Doc          document.StoredDocument
	MatchedTerms []string
}

type Options struct {
	// Analyzer splits phrase text. Defaults to analysis.Simple.
	Analyzer analysis.Analyzer
	// DefaultFields are searched by clauses without a field. Empty means
	// every indexed field.
	DefaultFields []string
	Scoring       ScoringMode
	MaxExpansions int
	// SkipStored leaves Result.Doc empty.
	SkipStored bool
}

func (o Options) withDefaults() Options {
	if o.Analyzer == nil {
		o.Analyzer = analysis.NewSimple()
	}
	if o.MaxExpansions <= 0 {
		o.MaxExpansions = DefaultMaxExpansions
	}
	return o
}

// Searcher runs queries on one point-in-time reader. It is not safe for
// concurrent use; create one per goroutine over a shared reader.
type Searcher struct {
	reader *index.DirectoryReader
	opts   Options
	comp   *compiler

	weights    map[string]termWeight
	avgLengths map[string]float64
}

// New returns a searcher over r. The caller keeps ownership of r.
func New(r *index.DirectoryReader, opts Options) *Searcher {
	opts = opts.withDefaults()
	return &Searcher{
		reader:     r,
		opts:       opts,
		comp:       &compiler{analyzer: opts.Analyzer, defaultFields: opts.DefaultFields},
		weights:    make(map[string]termWeight),
		avgLengths: make(map[string]float64),
	}
}

func (s *Searcher) Reader() *index.DirectoryReader { return s.reader }

// docSet evaluates m on every leaf, dropping deleted documents.
func (s *Searcher) docSet(m matcher) (*docSet, error) {
	ds := newDocSet(s.reader.Leaves())
	for i, leaf := range ds.leaves {
		bm, err := m.match(leaf.Reader)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", leaf.Reader.Name(), err)
		}
		if leaf.Reader.NumDeletedDocs() > 0 {
			bm.AndNot(leaf.Reader.DeletedDocs())
		}
		ds.docs[i] = bm
	}
	return ds, nil
}

// Count returns the number of live documents matching q.
func (s *Searcher) Count(q query.Query) (int, error) {
	m, err := s.comp.compile(q)
	if err != nil {
		return 0, err
	}
	ds, err := s.docSet(m)
	if err != nil {
		return 0, err
	}
	return int(ds.Count()), nil
}

// Search returns the best limit hits of q, all of them when limit <= 0.
func (s *Searcher) Search(q query.Query, limit int) ([]Result, error) {
	m, err := s.comp.compile(q)
	if err != nil {
		return nil, err
	}
	ds, err := s.docSet(m)
	if err != nil {
		return nil, err
	}
	if ds.IsEmpty() {
		return nil, nil
	}

	hits := make(map[int]*Result, ds.Count())
	ds.ForEach(func(doc int) { hits[doc] = &Result{DocID: doc} })
	if err := s.score(ds, m, hits); err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, *h)
	}
	sortByScore(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	if !s.opts.SkipStored {
		for i := range results {
			if results[i].Doc, err = s.reader.Document(results[i].DocID); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

// Query parses queryString and runs it.
func (s *Searcher) Query(queryString string, limit int) ([]Result, error) {
	q, err := query.ParseString(queryString)
	if err != nil {
		return nil, err
	}
	return s.Search(q, limit)
}

// DeleteQuery adapts a parsed query for IndexWriter.DeleteDocumentsQuery.
type DeleteQuery struct {
	m    matcher
	text string
}

// NewDeleteQuery compiles q with opts. The result may be applied to any
// segment.
func NewDeleteQuery(q query.Query, opts Options) (*DeleteQuery, error) {
	opts = opts.withDefaults()
	m, err := (&compiler{analyzer: opts.Analyzer, defaultFields: opts.DefaultFields}).compile(q)
	if err != nil {
		return nil, err
	}
	text := "none"
	if q != nil {
		text = q.String()
	}
	return &DeleteQuery{m: m, text: text}, nil
}

func (d *DeleteQuery) MatchingDocs(r *index.SegmentReader) (*roaring.Bitmap, error) {
	return d.m.match(r)
}

func (d *DeleteQuery) String() string { return d.text }

var _ index.DeleteQuery = (*DeleteQuery)(nil)
