package search

import (
	"math"
	"slices"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/segment"
)

// ScoringMode selects the similarity used to rank hits.
type ScoringMode int

const (
	ScoringBM25 ScoringMode = iota
	ScoringTFIDF
)

// BM25 scoring constants.
const (
	BM25_k1 = 1.2
	BM25_b  = 0.75
)

func (m ScoringMode) String() string {
	if m == ScoringTFIDF {
		return "tfidf"
	}
	return "bm25"
}

// termWeight holds the collection statistics of one scoring term.
type termWeight struct {
	term document.Term
	idf  float64
}

func (s *Searcher) weight(term document.Term) (termWeight, error) {
	df, err := s.reader.DocFreq(term)
	if err != nil {
		return termWeight{}, err
	}
	n := float64(s.reader.NumDocs())
	w := termWeight{term: term}
	if s.opts.Scoring == ScoringBM25 {
		w.idf = math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
	} else {
		w.idf = math.Log((n+1)/float64(df+1)) + 1.0
	}
	return w, nil
}

// avgFieldLength averages the norms of field over every leaf, weighted by
// the number of documents that have the field.
func (s *Searcher) avgFieldLength(field string) (float64, error) {
	if avg, ok := s.avgLengths[field]; ok {
		return avg, nil
	}
	var total, docs float64
	for _, leaf := range s.reader.Leaves() {
		norms, err := leaf.Reader.Norms(field)
		if err != nil {
			return 0, err
		}
		if norms == nil {
			continue
		}
		terms, err := leaf.Reader.Terms(field)
		if err != nil {
			return 0, err
		}
		if terms == nil {
			continue
		}
		n := float64(terms.DocCount())
		total += norms.AvgLength() * n
		docs += n
	}
	avg := 1.0
	if docs > 0 && total > 0 {
		avg = total / docs
	}
	s.avgLengths[field] = avg
	return avg, nil
}

func (s *Searcher) termScore(w termWeight, tf float64, fieldLen, avgLen float64) float64 {
	if s.opts.Scoring == ScoringTFIDF {
		if tf <= 0 {
			return 0
		}
		return (1.0 + math.Log(tf)) * w.idf
	}
	if fieldLen == 0 {
		fieldLen = avgLen
	}
	return w.idf * (tf * (BM25_k1 + 1)) / (tf + BM25_k1*(1-BM25_b+BM25_b*fieldLen/avgLen))
}

// score adds the contribution of every scoring term to the hits in ds.
func (s *Searcher) score(ds *docSet, m matcher, hits map[int]*Result) error {
	for i, leaf := range ds.leaves {
		if ds.docs[i].IsEmpty() {
			continue
		}
		var terms []document.Term
		err := m.terms(leaf.Reader, func(t document.Term) {
			if len(terms) < s.opts.MaxExpansions {
				terms = append(terms, t)
			}
		})
		if err != nil {
			return err
		}
		for _, t := range terms {
			if err := s.scoreTerm(ds, i, t, hits); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Searcher) scoreTerm(ds *docSet, leafIdx int, t document.Term, hits map[int]*Result) error {
	key := t.Field + ":" + t.Text()
	w, ok := s.weights[key]
	if !ok {
		var err error
		if w, err = s.weight(t); err != nil {
			return err
		}
		s.weights[key] = w
	}
	avgLen, err := s.avgFieldLength(t.Field)
	if err != nil {
		return err
	}
	leaf := ds.leaves[leafIdx]
	norms, err := leaf.Reader.Norms(t.Field)
	if err != nil {
		return err
	}
	pe, err := leaf.Reader.Postings(t, segment.FlagFreqs)
	if err != nil || pe == nil {
		return err
	}
	docs := ds.docs[leafIdx]
	for {
		doc, err := pe.NextDoc()
		if err != nil {
			return err
		}
		if doc == segment.NoMoreDocs {
			return nil
		}
		if !docs.Contains(uint32(doc)) {
			continue
		}
		var fieldLen float64
		if norms != nil {
			fieldLen = float64(norms.Get(doc))
		}
		hit := hits[leaf.DocBase+doc]
		hit.Score += s.termScore(w, float64(pe.Freq()), fieldLen, avgLen)
		if !slices.Contains(hit.MatchedTerms, key) {
			hit.MatchedTerms = append(hit.MatchedTerms, key)
		}
	}
}

// sortByScore orders results by descending score, then by doc id.
func sortByScore(results []Result) {
	slices.SortFunc(results, func(a, b Result) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return a.DocID - b.DocID
	})
}
