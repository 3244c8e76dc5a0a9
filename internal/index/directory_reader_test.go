package index

import (
	"bytes"
	"fmt"
	"math/rand"
	"slices"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"harshagw/segidx/internal/automaton"
	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/segment"
	"harshagw/segidx/internal/store"
)

func TestOpenWithoutCommit(t *testing.T) {
	_, err := Open(store.NewRAMDirectory())
	require.ErrorIs(t, err, ErrIndexNotFound)
}

func TestOpenIfChanged(t *testing.T) {
	dir := store.NewRAMDirectory()
	w := newTestWriter(t, dir, withMaxBufferedDocs(5))
	addDocs(t, w, 0, 10)
	require.NoError(t, w.Commit())

	r := openReader(t, dir)
	same, err := OpenIfChanged(r)
	require.NoError(t, err)
	require.Nil(t, same)

	addDocs(t, w, 10, 15)
	require.NoError(t, w.Commit())
	current, err := r.IsCurrent()
	require.NoError(t, err)
	require.False(t, current)

	nr, err := OpenIfChanged(r)
	require.NoError(t, err)
	require.NotNil(t, nr)
	defer nr.Close()
	require.Equal(t, 15, nr.NumDocs())
	require.Len(t, nr.Leaves(), 3)
	for i := 0; i < 2; i++ {
		require.Same(t, r.Leaves()[i].Reader, nr.Leaves()[i].Reader)
	}
	require.Equal(t, 10, nr.Leaves()[2].DocBase)

	// the old reader keeps working after the new one shares its segments
	require.Equal(t, 10, r.NumDocs())
	require.Len(t, hits(t, r, idTerm(3)), 1)
}

func TestOpenIfChangedSeesNewDeletes(t *testing.T) {
	dir := store.NewRAMDirectory()
	w := newTestWriter(t, dir)
	addDocs(t, w, 0, 10)
	require.NoError(t, w.Commit())
	r := openReader(t, dir)

	_, err := w.DeleteDocuments(idTerm(2))
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	nr, err := OpenIfChanged(r)
	require.NoError(t, err)
	require.NotNil(t, nr)
	defer nr.Close()
	require.Equal(t, 9, nr.NumDocs())
	require.Equal(t, 10, r.NumDocs())
	require.Empty(t, hits(t, nr, idTerm(2)))
	require.Len(t, hits(t, r, idTerm(2)), 1)
}

func TestOpenIfChangedOnWriterReader(t *testing.T) {
	w := newTestWriter(t, store.NewRAMDirectory())
	addDocs(t, w, 0, 3)
	r := nrtReader(t, w)

	same, err := OpenIfChanged(r)
	require.NoError(t, err)
	require.Nil(t, same)

	addDocs(t, w, 3, 4)
	nr, err := OpenIfChanged(r)
	require.NoError(t, err)
	require.NotNil(t, nr)
	defer nr.Close()
	require.Equal(t, 4, nr.NumDocs())
	require.Equal(t, 3, r.NumDocs())
}

func TestReaderRefCounting(t *testing.T) {
	dir := store.NewRAMDirectory()
	w := newTestWriter(t, dir)
	addDocs(t, w, 0, 2)
	require.NoError(t, w.Commit())

	r, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, r.IncRef())
	require.NoError(t, r.Close())
	_, err = r.Document(0)
	require.NoError(t, err)

	require.NoError(t, r.DecRef())
	require.ErrorIs(t, r.DecRef(), ErrAlreadyClosed)
	require.ErrorIs(t, r.IncRef(), ErrAlreadyClosed)
	_, err = r.IsCurrent()
	require.ErrorIs(t, err, ErrAlreadyClosed)
	_, err = OpenIfChanged(r)
	require.ErrorIs(t, err, ErrAlreadyClosed)
}

func TestClosedReaderRejectsAccessOnDisk(t *testing.T) {
	dir, err := store.OpenFSDirectory(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { dir.Close() })
	w := newTestWriter(t, dir)
	addDocs(t, w, 0, 10)
	require.NoError(t, w.Commit())

	r, err := Open(dir)
	require.NoError(t, err)
	leaf := r.Leaves()[0].Reader
	core := leaf.Core()
	require.NoError(t, r.Close())

	_, err = r.Norms("body", 0)
	require.ErrorIs(t, err, ErrAlreadyClosed)
	_, err = r.Document(0)
	require.ErrorIs(t, err, ErrAlreadyClosed)
	_, err = r.TermVectors(0)
	require.ErrorIs(t, err, ErrAlreadyClosed)
	_, err = r.Terms("body")
	require.ErrorIs(t, err, ErrAlreadyClosed)
	_, err = r.DocFreq(idTerm(1))
	require.ErrorIs(t, err, ErrAlreadyClosed)

	_, err = leaf.Document(0)
	require.ErrorIs(t, err, ErrAlreadyClosed)
	_, err = leaf.Norms("body")
	require.ErrorIs(t, err, ErrAlreadyClosed)
	_, err = leaf.Terms("body")
	require.ErrorIs(t, err, ErrAlreadyClosed)
	_, err = leaf.TermVectors(0)
	require.ErrorIs(t, err, ErrAlreadyClosed)
	_, err = leaf.NumericDocValues("num")
	require.ErrorIs(t, err, ErrAlreadyClosed)
	_, err = leaf.Postings(idTerm(1), segment.FlagDocs)
	require.ErrorIs(t, err, ErrAlreadyClosed)
	require.ErrorIs(t, leaf.DecRef(), ErrAlreadyClosed)

	_, err = core.StoredDocument(0)
	require.ErrorIs(t, err, segment.ErrSegmentClosed)
	_, err = core.Norms("body")
	require.ErrorIs(t, err, segment.ErrSegmentClosed)
	_, err = core.TermVectors(0)
	require.ErrorIs(t, err, segment.ErrSegmentClosed)
	_, err = core.Terms("body")
	require.ErrorIs(t, err, segment.ErrSegmentClosed)
}

func TestReaderDocumentAndDocFreq(t *testing.T) {
	w := newTestWriter(t, store.NewRAMDirectory(), withMaxBufferedDocs(4))
	addDocs(t, w, 0, 10)
	r := nrtReader(t, w)

	for doc := 0; doc < r.MaxDoc(); doc++ {
		d, err := r.Document(doc)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprint(doc), d.Get("id"))
	}
	_, err := r.Document(r.MaxDoc())
	require.Error(t, err)

	n, err := r.DocFreq(document.NewTerm("body", "common"))
	require.NoError(t, err)
	require.Equal(t, 10, n)
	n, err = r.DocFreq(document.NewTerm("body", "absent"))
	require.NoError(t, err)
	require.Zero(t, n)

	terms, err := r.Terms("missing")
	require.NoError(t, err)
	require.Nil(t, terms)
}

func randomTerm(rng *rand.Rand) string {
	const letters = "abcde"
	b := make([]byte, 1+rng.Intn(5))
	for i := range b {
		b[i] = letters[rng.Intn(len(letters))]
	}
	return string(b)
}

// termIndex builds an index over random short terms spread across several
// segments and returns each term's document count.
func termIndex(t *testing.T, rng *rand.Rand) (*DirectoryReader, map[string]int) {
	t.Helper()
	w := newTestWriter(t, store.NewRAMDirectory(), withMaxBufferedDocs(25))
	freq := make(map[string]int)
	for i := 0; i < 150; i++ {
		seen := make(map[string]bool)
		doc := document.New(document.NewStringField("id", fmt.Sprint(i), true))
		for j := 0; j < 1+rng.Intn(3); j++ {
			term := randomTerm(rng)
			doc.Add(document.NewStringField("t", term, false))
			if !seen[term] {
				seen[term] = true
				freq[term]++
			}
		}
		_, err := w.AddDocument(doc)
		require.NoError(t, err)
	}
	return nrtReader(t, w), freq
}

func collectTerms(t *testing.T, te segment.TermsEnum) []string {
	t.Helper()
	out := []string{}
	for {
		ok, err := te.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, string(te.Term()))
	}
}

func TestMultiTermsSeek(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	r, freq := termIndex(t, rng)
	require.Greater(t, len(r.Leaves()), 3)
	sorted := make([]string, 0, len(freq))
	for term := range freq {
		sorted = append(sorted, term)
	}
	sort.Strings(sorted)

	terms, err := r.Terms("t")
	require.NoError(t, err)
	te := terms.Iterator()
	require.Equal(t, sorted, collectTerms(t, te))

	for trial := 0; trial < 200; trial++ {
		target := randomTerm(rng)
		i := sort.SearchStrings(sorted, target)
		te := terms.Iterator()

		status, err := te.SeekCeil([]byte(target))
		require.NoError(t, err)
		switch {
		case i == len(sorted):
			require.Equal(t, segment.SeekEnd, status, "target %q", target)
			continue
		case sorted[i] == target:
			require.Equal(t, segment.SeekFound, status, "target %q", target)
		default:
			require.Equal(t, segment.SeekNotFound, status, "target %q", target)
		}
		require.Equal(t, sorted[i], string(te.Term()))
		require.Equal(t, freq[sorted[i]], te.DocFreq())
		rest := collectTerms(t, te)
		require.Equal(t, sorted[i+1:], rest)

		te = terms.Iterator()
		found, err := te.SeekExact([]byte(target))
		require.NoError(t, err)
		require.Equal(t, freq[target] > 0, found, "target %q", target)
	}
}

func TestMultiTermsIntersect(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	r, freq := termIndex(t, rng)
	terms, err := r.Terms("t")
	require.NoError(t, err)
	sorted := make([]string, 0, len(freq))
	for term := range freq {
		sorted = append(sorted, term)
	}
	sort.Strings(sorted)

	for trial := 0; trial < 120; trial++ {
		var a automaton.Automaton
		switch trial % 3 {
		case 0:
			prefix := randomTerm(rng)
			a = automaton.Prefix([]byte(prefix[:min(len(prefix), 1+rng.Intn(2))]))
		case 1:
			var err error
			a, err = automaton.Regexp(fmt.Sprintf("%s.*%s", randomTerm(rng)[:1], randomTerm(rng)[:1]))
			require.NoError(t, err)
		default:
			var err error
			a, err = automaton.Fuzzy(randomTerm(rng), uint8(rng.Intn(2)+1), true)
			require.NoError(t, err)
		}

		var accepted []string
		for _, term := range sorted {
			if automaton.Run(a, []byte(term)) {
				accepted = append(accepted, term)
			}
		}
		var start []byte
		switch trial % 4 {
		case 1:
			if len(accepted) > 0 {
				start = []byte(accepted[rng.Intn(len(accepted))])
			}
		case 2:
			start = []byte(randomTerm(rng))
		case 3:
			start = []byte("zzzzzz")
		}
		var want []string
		for _, term := range accepted {
			if start == nil || term > string(start) {
				want = append(want, term)
			}
		}

		te, err := terms.Intersect(a, start)
		require.NoError(t, err)
		var got []string
		for {
			ok, err := te.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			term := slices.Clone(te.Term())
			got = append(got, string(term))
			require.Equal(t, freq[string(term)], te.DocFreq())
			if len(got) > 1 {
				require.Negative(t, bytes.Compare([]byte(got[len(got)-2]), term))
			}
		}
		require.Equal(t, want, got, "trial %d", trial)
	}
}

func TestMultiPostingsRebaseDocIDs(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	r, _ := termIndex(t, rng)
	terms, err := r.Terms("id")
	require.NoError(t, err)
	te := terms.Iterator()
	for {
		ok, err := te.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		pe, err := te.Postings(nil, segment.FlagDocs)
		require.NoError(t, err)
		doc, err := pe.NextDoc()
		require.NoError(t, err)
		require.Equal(t, string(te.Term()), fmt.Sprint(doc))
		doc, err = pe.NextDoc()
		require.NoError(t, err)
		require.Equal(t, segment.NoMoreDocs, doc)
	}
}
