package segment

import (
	"bytes"
	"math/rand"
	"sort"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/require"

	"harshagw/segidx/internal/automaton"
	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/store"
)

func roaringOf(docs ...uint32) *roaring.Bitmap {
	return roaring.BitmapOf(docs...)
}

func randomTerm(rng *rand.Rand) string {
	n := rng.Intn(6)
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + rng.Intn(5))
	}
	return string(b)
}

// ceil returns the index of the first term >= target in sorted.
func ceil(sorted []string, target string) int {
	return sort.SearchStrings(sorted, target)
}

func randomTermsSegment(t *testing.T, rng *rand.Rand) (*Terms, []string) {
	t.Helper()
	unique := map[string]bool{}
	b := newTestBuilder(nil)
	n := 1 + rng.Intn(60)
	for i := 0; i < n; i++ {
		term := randomTerm(rng)
		unique[term] = true
		_, err := b.Add(document.New(document.NewStringField("f", term, false)))
		require.NoError(t, err)
	}
	sorted := make([]string, 0, len(unique))
	for term := range unique {
		sorted = append(sorted, term)
	}
	sort.Strings(sorted)

	r := writeSegment(t, store.NewRAMDirectory(), DefaultCodec, "_r", b)
	terms, err := r.Terms("f")
	require.NoError(t, err)
	require.EqualValues(t, len(sorted), terms.Size())
	return terms, sorted
}

func TestSeekRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 150; trial++ {
		terms, sorted := randomTermsSegment(t, rng)
		te := terms.Iterator()

		for op := 0; op < 40; op++ {
			target := randomTerm(rng)
			idx := ceil(sorted, target)
			switch rng.Intn(4) {
			case 0:
				status, err := te.SeekCeil([]byte(target))
				require.NoError(t, err)
				switch {
				case idx == len(sorted):
					require.Equal(t, SeekEnd, status)
					ok, err := te.Next()
					require.NoError(t, err)
					require.False(t, ok)
					continue
				case sorted[idx] == target:
					require.Equal(t, SeekFound, status)
				default:
					require.Equal(t, SeekNotFound, status)
				}
				require.Equal(t, sorted[idx], string(te.Term()))
				ord, err := te.Ord()
				require.NoError(t, err)
				require.EqualValues(t, idx, ord)
			case 1:
				found, err := te.SeekExact([]byte(target))
				require.NoError(t, err)
				exists := idx < len(sorted) && sorted[idx] == target
				require.Equal(t, exists, found)
				if !found {
					continue
				}
			case 2:
				if idx == len(sorted) {
					continue
				}
				require.NoError(t, te.SeekExactOrd(int64(idx)))
				require.Equal(t, sorted[idx], string(te.Term()))
			case 3:
				if idx == len(sorted) {
					continue
				}
				fresh := terms.Iterator()
				found, err := fresh.SeekExact([]byte(sorted[idx]))
				require.NoError(t, err)
				require.True(t, found)
				state := fresh.TermState()
				require.NoError(t, te.SeekExactState([]byte(sorted[idx]), state))
				require.Equal(t, fresh.DocFreq(), te.DocFreq())
				require.Equal(t, fresh.TotalTermFreq(), te.TotalTermFreq())
			}

			// walk forward a few terms from the current position
			cur := ceil(sorted, string(te.Term()))
			require.Equal(t, sorted[cur], string(te.Term()))
			for step := 1; step <= 3; step++ {
				ok, err := te.Next()
				require.NoError(t, err)
				if cur+step >= len(sorted) {
					require.False(t, ok)
					break
				}
				require.True(t, ok)
				require.Equal(t, sorted[cur+step], string(te.Term()))
			}
		}
	}
}

func randomAutomaton(rng *rand.Rand, sorted []string) (automaton.Automaton, func(string) bool) {
	switch rng.Intn(3) {
	case 0:
		p := randomTerm(rng)
		if len(p) > 2 {
			p = p[:2]
		}
		return automaton.Prefix([]byte(p)), func(s string) bool { return len(s) >= len(p) && s[:len(p)] == p }
	case 1:
		set := map[string]bool{}
		var list [][]byte
		for i := 0; i < 1+rng.Intn(5); i++ {
			var s string
			if len(sorted) > 0 && rng.Intn(2) == 0 {
				s = sorted[rng.Intn(len(sorted))]
			} else {
				s = randomTerm(rng)
			}
			set[s] = true
			list = append(list, []byte(s))
		}
		return automaton.Strings(list...), func(s string) bool { return set[s] }
	default:
		lo, hi := []byte(randomTerm(rng)), []byte(randomTerm(rng))
		return automaton.Range(lo, hi, true, false), func(s string) bool {
			return bytes.Compare([]byte(s), lo) >= 0 && bytes.Compare([]byte(s), hi) < 0
		}
	}
}

func TestIntersectRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 150; trial++ {
		terms, sorted := randomTermsSegment(t, rng)
		aut, accept := randomAutomaton(rng, sorted)

		var start []byte
		if rng.Intn(2) == 0 {
			if rng.Intn(2) == 0 && len(sorted) > 0 {
				start = []byte(sorted[rng.Intn(len(sorted))])
			} else {
				start = []byte(randomTerm(rng))
			}
		}

		var want []string
		for _, term := range sorted {
			if start != nil && term <= string(start) {
				continue
			}
			if accept(term) {
				want = append(want, term)
			}
		}

		te, err := terms.Intersect(aut, start)
		require.NoError(t, err)
		var got []string
		for {
			ok, err := te.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			got = append(got, string(te.Term()))
			require.GreaterOrEqual(t, te.DocFreq(), 1)
		}
		require.Equal(t, want, got, "start=%q", start)

		ok, err := te.Next()
		require.NoError(t, err)
		require.False(t, ok)

		_, err = te.SeekCeil([]byte("a"))
		require.ErrorIs(t, err, ErrSeekNotSupported)
	}
}

func TestIntersectEmptyTermAndPastEnd(t *testing.T) {
	r := buildSegment(t,
		document.New(document.NewStringField("f", "", false)),
		document.New(document.NewStringField("f", "abc", false)),
		document.New(document.NewStringField("f", "abd", false)),
	)
	terms, err := r.Terms("f")
	require.NoError(t, err)

	collect := func(te TermsEnum) []string {
		var out []string
		for {
			ok, err := te.Next()
			require.NoError(t, err)
			if !ok {
				return out
			}
			out = append(out, string(te.Term()))
		}
	}

	te, err := terms.Intersect(automaton.Any(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"", "abc", "abd"}, collect(te))

	te, err = terms.Intersect(automaton.Any(), []byte{})
	require.NoError(t, err)
	require.Equal(t, []string{"abc", "abd"}, collect(te))

	te, err = terms.Intersect(automaton.Any(), []byte("zzz"))
	require.NoError(t, err)
	require.Empty(t, collect(te))

	re, err := automaton.Regexp("ab[d-z]")
	require.NoError(t, err)
	te, err = terms.Intersect(re, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"abd"}, collect(te))

	fz, err := automaton.Fuzzy("abx", 1, false)
	require.NoError(t, err)
	te, err = terms.Intersect(fz, []byte("abc"))
	require.NoError(t, err)
	require.Equal(t, []string{"abd"}, collect(te))

	it := terms.Iterator()
	status, err := it.SeekCeil(nil)
	require.NoError(t, err)
	require.Equal(t, SeekFound, status)
	require.Equal(t, "", string(it.Term()))
}

func TestTermsEnumReportsBadDictionaryEntry(t *testing.T) {
	b := newTestBuilder(nil)
	for _, term := range []string{"alpha", "beta", "gamma"} {
		_, err := b.Add(document.New(document.NewStringField("f", term, false)))
		require.NoError(t, err)
	}
	r := writeSegment(t, store.NewRAMDirectory(), DefaultCodec, "_c", b)
	terms, err := r.Terms("f")
	require.NoError(t, err)

	meta := *terms.meta
	meta.OrdOffset = uint64(len(r.data))
	bad := &Terms{r: terms.r, meta: &meta, fi: terms.fi, fst: terms.fst}

	te := bad.Iterator()
	ok, err := te.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, te.DocFreq())

	_, err = te.Postings(nil, FlagDocs)
	require.ErrorIs(t, err, store.ErrCorruptIndex)
	_, err = te.Next()
	require.ErrorIs(t, err, store.ErrCorruptIndex)

	te = bad.Iterator()
	_, err = te.SeekExact([]byte("beta"))
	require.NoError(t, err)
	te.TotalTermFreq()
	_, err = te.Next()
	require.ErrorIs(t, err, store.ErrCorruptIndex)
}
