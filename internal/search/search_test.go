package search

import (
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/index"
	"harshagw/segidx/internal/logger"
	"harshagw/segidx/internal/query"
	"harshagw/segidx/internal/store"
)

var corpus = []string{
	"the quick brown fox",
	"the lazy dog sleeps",
	"quick quick fox jumps over the dog",
	"brown dog and brown cat",
	"a fox in the forest",
	"the quick red fox",
}

func newWriter(t *testing.T) *index.IndexWriter {
	t.Helper()
	cfg := index.DefaultWriterConfig()
	cfg.MaxBufferedDocs = 2
	cfg.MergePolicy = index.NoMergePolicy{}
	cfg.MergeScheduler = index.NewSerialMergeScheduler()
	cfg.Logger = logger.Discard()
	w, err := index.NewWriter(store.NewRAMDirectory(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { w.Rollback() })
	for i, body := range corpus {
		_, err := w.AddDocument(document.New(
			document.NewStringField("id", strconv.Itoa(i), true),
			document.NewTextField("body", body, true),
		))
		require.NoError(t, err)
	}
	return w
}

func newSearcher(t *testing.T, w *index.IndexWriter, opts Options) *Searcher {
	t.Helper()
	r, err := w.GetReader(true)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return New(r, opts)
}

func ids(results []Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Doc.Get("id"))
	}
	slices.Sort(out)
	return out
}

func TestSearchQueries(t *testing.T) {
	s := newSearcher(t, newWriter(t), Options{})
	require.Greater(t, len(s.Reader().Leaves()), 1)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"term", "body:fox", []string{"0", "2", "4", "5"}},
		{"default fields", "fox", []string{"0", "2", "4", "5"}},
		{"missing term", "body:wolf", []string{}},
		{"phrase", `body:"quick fox"`, []string{"2"}},
		{"long phrase", `body:"quick brown fox"`, []string{"0"}},
		{"phrase single word", `body:"dog"`, []string{"1", "2", "3"}},
		{"prefix", "body:bro*", []string{"0", "3"}},
		{"regex", "body:/d.g/", []string{"1", "2", "3"}},
		{"fuzzy", "body:fix~1", []string{"0", "2", "4", "5"}},
		{"inclusive range", "id:[1 TO 3]", []string{"1", "2", "3"}},
		{"exclusive range", "id:{1 TO 3}", []string{"2"}},
		{"open range", "id:[4 TO *]", []string{"4", "5"}},
		{"and not", "body:fox AND NOT body:quick", []string{"4"}},
		{"or", "body:dog OR body:cat", []string{"1", "2", "3"}},
		{"implicit and", "body:quick body:red", []string{"5"}},
		{"grouping", "(body:lazy OR body:cat) AND body:dog", []string{"1", "3"}},
		{"match all", "*:*", []string{"0", "1", "2", "3", "4", "5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := s.Query(tt.query, 0)
			require.NoError(t, err)
			require.Equal(t, tt.want, ids(results))

			q, err := query.ParseString(tt.query)
			require.NoError(t, err)
			n, err := s.Count(q)
			require.NoError(t, err)
			require.Equal(t, len(tt.want), n)
		})
	}
}

func TestSearchDefaultFieldsRestrictUnfieldedClauses(t *testing.T) {
	s := newSearcher(t, newWriter(t), Options{DefaultFields: []string{"id"}})
	results, err := s.Query("fox", 0)
	require.NoError(t, err)
	require.Empty(t, results)

	results, err = s.Query("3", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"3"}, ids(results))
}

func TestSearchNegativeOnly(t *testing.T) {
	s := newSearcher(t, newWriter(t), Options{})
	_, err := s.Query("NOT body:fox", 10)
	require.ErrorIs(t, err, ErrNegativeOnly)
}

func TestSearchEmptyQuery(t *testing.T) {
	s := newSearcher(t, newWriter(t), Options{})
	results, err := s.Search(nil, 10)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchRanking(t *testing.T) {
	for _, mode := range []ScoringMode{ScoringBM25, ScoringTFIDF} {
		t.Run(mode.String(), func(t *testing.T) {
			s := newSearcher(t, newWriter(t), Options{Scoring: mode})
			results, err := s.Query("body:brown", 0)
			require.NoError(t, err)
			require.Len(t, results, 2)
			require.Equal(t, "3", results[0].Doc.Get("id"))
			require.Greater(t, results[0].Score, results[1].Score)
			require.Equal(t, []string{"body:brown"}, results[0].MatchedTerms)
		})
	}
}

func TestSearchRareTermsWeighMore(t *testing.T) {
	s := newSearcher(t, newWriter(t), Options{})
	results, err := s.Query("body:lazy OR body:the", 0)
	require.NoError(t, err)
	require.Equal(t, "1", results[0].Doc.Get("id"))
	require.ElementsMatch(t, []string{"body:lazy", "body:the"}, results[0].MatchedTerms)
}

func TestSearchLimitAndStoredFields(t *testing.T) {
	s := newSearcher(t, newWriter(t), Options{})
	results, err := s.Query("body:fox", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		id, err := strconv.Atoi(r.Doc.Get("id"))
		require.NoError(t, err)
		require.Equal(t, corpus[id], r.Doc.Get("body"))
	}

	s = newSearcher(t, newWriter(t), Options{SkipStored: true})
	results, err = s.Query("body:fox", 0)
	require.NoError(t, err)
	require.Len(t, results, 4)
	require.Empty(t, results[0].Doc.Get("id"))
}

func TestSearchSkipsDeletedDocuments(t *testing.T) {
	w := newWriter(t)
	_, err := w.DeleteDocuments(document.NewTerm("id", "0"), document.NewTerm("id", "4"))
	require.NoError(t, err)

	s := newSearcher(t, w, Options{})
	results, err := s.Query("body:fox", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"2", "5"}, ids(results))

	n, err := s.Count(&query.MatchAllQuery{})
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestDeleteDocumentsQuery(t *testing.T) {
	w := newWriter(t)
	q, err := query.ParseString("body:dog AND NOT body:cat")
	require.NoError(t, err)
	dq, err := NewDeleteQuery(q, Options{})
	require.NoError(t, err)
	require.Equal(t, q.String(), dq.String())

	_, err = w.DeleteDocumentsQuery(dq)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	r, err := index.Open(w.Directory())
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 4, r.NumDocs())

	results, err := New(r, Options{}).Query("*:*", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"0", "3", "4", "5"}, ids(results))
}

func TestNewDeleteQueryRejectsNegativeOnly(t *testing.T) {
	q, err := query.ParseString("NOT body:dog")
	require.NoError(t, err)
	_, err = NewDeleteQuery(q, Options{})
	require.ErrorIs(t, err, ErrNegativeOnly)
}
