package segment

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"harshagw/segidx/internal/analysis"
	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/store"
)

type testNumbers map[string]int

func (n testNumbers) Number(name string, _ document.FieldType) (int, error) {
	if v, ok := n[name]; ok {
		return v, nil
	}
	n[name] = len(n)
	return n[name], nil
}

func newTestBuilder(a analysis.Analyzer) *Builder {
	if a == nil {
		a = analysis.NewSimple()
	}
	return NewBuilder(a, testNumbers{})
}

func writeSegment(t *testing.T, dir store.Directory, codec, name string, b *Builder) *Reader {
	t.Helper()
	c, err := LookupCodec(codec)
	require.NoError(t, err)
	info := Info{Name: name, ID: "id" + name}
	files, err := c.Write(dir, info, b, map[string]string{"source": "flush"})
	require.NoError(t, err)
	require.Equal(t, []string{name + SegmentExtension}, files)

	r, err := c.Open(dir, info)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func buildSegment(t *testing.T, docs ...*document.Document) *Reader {
	t.Helper()
	b := newTestBuilder(nil)
	for _, d := range docs {
		_, err := b.Add(d)
		require.NoError(t, err)
	}
	return writeSegment(t, store.NewRAMDirectory(), DefaultCodec, "_0", b)
}

type decodedPosting struct {
	Doc       int
	Freq      int
	Positions []Position
}

func readPostings(t *testing.T, te TermsEnum, flags PostingsFlags) []decodedPosting {
	t.Helper()
	pe, err := te.Postings(nil, flags)
	require.NoError(t, err)
	require.Equal(t, -1, pe.DocID())
	var out []decodedPosting
	for {
		doc, err := pe.NextDoc()
		require.NoError(t, err)
		if doc == NoMoreDocs {
			break
		}
		p := decodedPosting{Doc: doc, Freq: pe.Freq()}
		if flags&FlagPositions == FlagPositions {
			for i := 0; i < pe.Freq(); i++ {
				pos, err := pe.NextPosition()
				require.NoError(t, err)
				if pos < 0 {
					break
				}
				p.Positions = append(p.Positions, Position{
					Pos:     pos,
					Start:   pe.StartOffset(),
					End:     pe.EndOffset(),
					Payload: pe.Payload(),
				})
			}
		}
		out = append(out, p)
	}
	doc, err := pe.NextDoc()
	require.NoError(t, err)
	require.Equal(t, NoMoreDocs, doc)
	return out
}

func TestRoundTripIndexOptions(t *testing.T) {
	payloads := &analysis.PayloadFilter{
		Analyzer: analysis.NewSimple(),
		Func: func(_ string, tok analysis.Token) []byte {
			return []byte(fmt.Sprintf("p%d", tok.Position))
		},
	}
	options := []document.IndexOptions{
		document.IndexOptionsDocs,
		document.IndexOptionsDocsAndFreqs,
		document.IndexOptionsDocsAndFreqsAndPositions,
		document.IndexOptionsDocsAndFreqsAndPositionsAndOffsets,
	}
	for _, codec := range []string{DefaultCodec, RawCodec} {
		for _, opts := range options {
			t.Run(codec+"/"+opts.String(), func(t *testing.T) {
				ft := document.FieldType{Indexed: true, Tokenized: true, Stored: true, IndexOptions: opts}
				b := newTestBuilder(payloads)
				for _, text := range []string{"a b a", "b c", ""} {
					_, err := b.Add(document.New(document.NewField("body", text, ft)))
					require.NoError(t, err)
				}
				r := writeSegment(t, store.NewRAMDirectory(), codec, "_1", b)
				require.Equal(t, codec, r.Codec())
				require.Equal(t, 3, r.MaxDoc())

				terms, err := r.Terms("body")
				require.NoError(t, err)
				require.EqualValues(t, 3, terms.Size())
				require.Equal(t, 2, terms.DocCount())

				te := terms.Iterator()
				ok, err := te.Next()
				require.NoError(t, err)
				require.True(t, ok)
				require.Equal(t, "a", string(te.Term()))
				require.Equal(t, 1, te.DocFreq())

				got := readPostings(t, te, FlagAll)
				require.Len(t, got, 1)
				want := decodedPosting{Doc: 0, Freq: 2}
				if !opts.HasFreqs() {
					want.Freq = 1
					require.EqualValues(t, 1, te.TotalTermFreq())
				} else {
					require.EqualValues(t, 2, te.TotalTermFreq())
				}
				if opts.HasPositions() {
					want.Positions = []Position{
						{Pos: 0, Start: -1, End: -1, Payload: []byte("p0")},
						{Pos: 2, Start: -1, End: -1, Payload: []byte("p2")},
					}
					if opts.HasOffsets() {
						want.Positions[0].Start, want.Positions[0].End = 0, 1
						want.Positions[1].Start, want.Positions[1].End = 4, 5
					}
				}
				require.Equal(t, want, got[0])

				ok, err = te.Next()
				require.NoError(t, err)
				require.True(t, ok)
				require.Equal(t, "b", string(te.Term()))
				got = readPostings(t, te, FlagDocs)
				require.Equal(t, []int{0, 1}, []int{got[0].Doc, got[1].Doc})

				ok, err = te.Next()
				require.NoError(t, err)
				require.True(t, ok)
				require.Equal(t, "c", string(te.Term()))
				for i := 0; i < 3; i++ {
					ok, err = te.Next()
					require.NoError(t, err)
					require.False(t, ok)
				}

				stored, err := r.StoredDocument(1)
				require.NoError(t, err)
				require.Equal(t, "b c", stored.Get("body"))

				norms, err := r.Norms("body")
				require.NoError(t, err)
				require.EqualValues(t, 3, norms.Get(0))
				require.EqualValues(t, 2, norms.Get(1))
				require.EqualValues(t, 0, norms.Get(2))
				require.InDelta(t, 2.5, norms.AvgLength(), 1e-9)

				require.NoError(t, r.VerifyChecksum())
			})
		}
	}
}

func TestPostingsAdvanceAcrossSkips(t *testing.T) {
	b := newTestBuilder(nil)
	const n = 1000
	for i := 0; i < n; i++ {
		text := "odd"
		if i%2 == 0 {
			text = "even"
		}
		_, err := b.Add(document.New(document.NewTextField("f", text+" all", false)))
		require.NoError(t, err)
	}
	r := writeSegment(t, store.NewRAMDirectory(), DefaultCodec, "_2", b)
	terms, err := r.Terms("f")
	require.NoError(t, err)
	te := terms.Iterator()
	found, err := te.SeekExact([]byte("even"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, n/2, te.DocFreq())

	pe, err := te.Postings(nil, FlagFreqs)
	require.NoError(t, err)
	require.EqualValues(t, n/2, pe.Cost())

	doc, err := pe.Advance(301)
	require.NoError(t, err)
	require.Equal(t, 302, doc)

	// advancing backwards moves forward by one
	doc, err = pe.Advance(10)
	require.NoError(t, err)
	require.Equal(t, 304, doc)

	doc, err = pe.NextDoc()
	require.NoError(t, err)
	require.Equal(t, 306, doc)

	doc, err = pe.Advance(998)
	require.NoError(t, err)
	require.Equal(t, 998, doc)

	doc, err = pe.Advance(999)
	require.NoError(t, err)
	require.Equal(t, NoMoreDocs, doc)
	doc, err = pe.Advance(5000)
	require.NoError(t, err)
	require.Equal(t, NoMoreDocs, doc)

	// reuse resets the enum
	found, err = te.SeekExact([]byte("all"))
	require.NoError(t, err)
	require.True(t, found)
	pe, err = te.Postings(pe, FlagFreqs)
	require.NoError(t, err)
	require.Equal(t, -1, pe.DocID())
	count := 0
	for {
		doc, err := pe.NextDoc()
		require.NoError(t, err)
		if doc == NoMoreDocs {
			break
		}
		require.Equal(t, count, doc)
		count++
	}
	require.Equal(t, n, count)
}

func TestDocValuesAndVectors(t *testing.T) {
	vecType := document.TextFieldType
	vecType.StoreTermVectors = true
	vecType.StoreTermVectorPositions = true
	vecType.StoreTermVectorOffsets = true

	r := buildSegment(t,
		document.New(
			document.NewNumericDocValuesField("price", -5),
			document.NewBinaryDocValuesField("blob", []byte("xyz")),
			document.NewSortedDocValuesField("color", []byte("red")),
			document.NewField("body", "hello world hello", vecType),
		),
		document.New(document.NewSortedDocValuesField("color", []byte("blue"))),
		document.New(
			document.NewNumericDocValuesField("price", 42),
			document.NewSortedDocValuesField("color", []byte("red")),
		),
	)

	num, err := r.NumericDocValues("price")
	require.NoError(t, err)
	v, ok := num.Get(0)
	require.True(t, ok)
	require.EqualValues(t, -5, v)
	_, ok = num.Get(1)
	require.False(t, ok)
	v, _ = num.Get(2)
	require.EqualValues(t, 42, v)

	bin, err := r.BinaryDocValues("blob")
	require.NoError(t, err)
	bv, ok := bin.Get(0)
	require.True(t, ok)
	require.Equal(t, []byte("xyz"), bv)

	sorted, err := r.SortedDocValues("color")
	require.NoError(t, err)
	require.Equal(t, 2, sorted.ValueCount())
	require.Equal(t, "blue", string(sorted.LookupOrd(0)))
	require.Equal(t, 1, sorted.Ord(0))
	require.Equal(t, 0, sorted.Ord(1))
	require.Equal(t, 1, sorted.Ord(2))

	_, err = r.NumericDocValues("color")
	require.ErrorIs(t, err, ErrWrongDocValueType)

	col, err := r.DocValues("price")
	require.NoError(t, err)
	require.Equal(t, []int64{-5, 0, 42}, col.Numeric)
	require.EqualValues(t, 2, col.Present.GetCardinality())

	tv, err := r.TermVectors(0)
	require.NoError(t, err)
	body := tv.Field("body")
	require.NotNil(t, body)
	require.Len(t, body.Terms, 2)
	require.Equal(t, TermVectorTerm{Term: "hello", Freq: 2, Positions: []int{0, 2}, Starts: []int{0, 12}, Ends: []int{5, 17}}, body.Terms[0])

	tv, err = r.TermVectors(1)
	require.NoError(t, err)
	require.Nil(t, tv)
}

func TestMultiValuedFieldPositions(t *testing.T) {
	r := buildSegment(t, document.New(
		document.NewTextField("f", "a b", false),
		document.NewTextField("f", "a", false),
	))
	terms, err := r.Terms("f")
	require.NoError(t, err)
	te := terms.Iterator()
	ok, err := te.SeekExact([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	got := readPostings(t, te, FlagPositions)
	require.Len(t, got, 1)
	require.Equal(t, 2, got[0].Freq)
	require.Equal(t, 0, got[0].Positions[0].Pos)
	require.Equal(t, 2, got[0].Positions[1].Pos)
}

func TestRejectedDocumentLeavesBuilderUntouched(t *testing.T) {
	b := newTestBuilder(nil)
	_, err := b.Add(document.New(
		document.NewStringField("id", "1", true),
		document.NewNumericDocValuesField("n", 1),
		document.NewNumericDocValuesField("n", 2),
	))
	require.ErrorIs(t, err, document.ErrDuplicateDocValues)
	require.Equal(t, 0, b.NumDocs())
	require.Equal(t, 0, b.FieldInfos().Len())
}

func TestOpenDetectsCorruption(t *testing.T) {
	dir := store.NewRAMDirectory()
	b := newTestBuilder(nil)
	_, err := b.Add(document.New(document.NewTextField("f", "hello", true)))
	require.NoError(t, err)
	c, err := LookupCodec(DefaultCodec)
	require.NoError(t, err)
	info := Info{Name: "_3", ID: "abc"}
	_, err = c.Write(dir, info, b, nil)
	require.NoError(t, err)

	_, err = Open(dir, Info{Name: "_3", ID: "other"})
	require.ErrorIs(t, err, store.ErrCorruptIndex)

	data, err := store.ReadFile(dir, "_3.seg")
	require.NoError(t, err)
	data[10] ^= 0xff
	require.NoError(t, dir.DeleteFile("_3.seg"))
	require.NoError(t, store.WriteFile(dir, "_3.seg", data))

	r, err := Open(dir, info)
	if err == nil {
		require.ErrorIs(t, r.VerifyChecksum(), store.ErrCorruptIndex)
		r.Close()
	} else {
		require.ErrorIs(t, err, store.ErrCorruptIndex)
	}

	_, err = LookupCodec("nope")
	require.ErrorIs(t, err, ErrUnknownCodec)
	require.Equal(t, []string{DefaultCodec, RawCodec}, Codecs())
}

func TestLiveDocsRoundTrip(t *testing.T) {
	dir := store.NewRAMDirectory()
	deleted := roaringOf(1, 5, 9)
	name, err := WriteLiveDocs(dir, "_a", 3, deleted)
	require.NoError(t, err)
	require.Equal(t, "_a_3.del", name)

	got, err := ReadLiveDocs(dir, "_a", 3, 10)
	require.NoError(t, err)
	require.True(t, got.Equals(deleted))

	_, err = ReadLiveDocs(dir, "_a", 3, 5)
	require.ErrorIs(t, err, store.ErrCorruptIndex)

	_, err = WriteLiveDocs(dir, "_a", 3, deleted)
	require.ErrorIs(t, err, store.ErrFileExists)
}
