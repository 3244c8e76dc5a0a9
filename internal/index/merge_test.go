package index

import (
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/segment"
	"harshagw/segidx/internal/store"
)

func forceMergePolicy() func(*WriterConfig) {
	return func(c *WriterConfig) {
		p := NewLogDocMergePolicy()
		p.MergeFactor = 100
		c.MergePolicy = p
	}
}

func TestForceMergeToOneSegmentWithDeletes(t *testing.T) {
	dir := store.NewRAMDirectory()
	w := newTestWriter(t, dir, withMaxBufferedDocs(10), forceMergePolicy())
	addDocs(t, w, 0, 50)
	require.NoError(t, w.Commit())
	require.Equal(t, 5, w.SegmentCount())

	for _, id := range []int{3, 17, 28, 41} {
		_, err := w.DeleteDocuments(idTerm(id))
		require.NoError(t, err)
	}
	require.NoError(t, w.Commit())
	before := storedIDs(t, openReader(t, dir))
	require.Len(t, before, 46)

	require.NoError(t, w.ForceMerge(1))
	require.Equal(t, 1, w.SegmentCount())
	require.NoError(t, w.Commit())

	r := openReader(t, dir)
	require.Len(t, r.Leaves(), 1)
	require.Equal(t, 46, r.NumDocs())
	require.Equal(t, 46, r.MaxDoc())
	require.Equal(t, before, storedIDs(t, r))
	st := requireClean(t, dir)
	require.Equal(t, "merge", st.Segments[0].Diagnostics["source"])
}

func TestForceMergeRejectsZero(t *testing.T) {
	w := newTestWriter(t, store.NewRAMDirectory())
	require.Error(t, w.ForceMerge(0))
}

func TestForceMergeDeletes(t *testing.T) {
	w := newTestWriter(t, store.NewRAMDirectory(), withMaxBufferedDocs(10), forceMergePolicy())
	addDocs(t, w, 0, 30)
	for id := 0; id < 5; id++ {
		_, err := w.DeleteDocuments(idTerm(id))
		require.NoError(t, err)
	}
	require.NoError(t, w.ForceMergeDeletes())

	r := nrtReader(t, w)
	require.Equal(t, 25, r.NumDocs())
	require.Equal(t, 25, r.MaxDoc())
	require.Equal(t, 3, w.SegmentCount())
}

type postingView struct {
	Freq      int
	Positions []segment.Position
}

// docView describes one live document by its stored fields, postings and
// doc values, independent of its doc id.
type docView struct {
	Stored   string
	Postings map[string]postingView
	Num      int64
	Norm     uint32
}

func snapshotDocs(t *testing.T, r *DirectoryReader) map[string]docView {
	t.Helper()
	out := make(map[string]docView)
	for _, leaf := range r.Leaves() {
		sr := leaf.Reader
		views := make([]docView, sr.MaxDoc())
		for doc := range views {
			views[doc].Postings = make(map[string]postingView)
		}
		for _, field := range []string{"id", "body"} {
			terms, err := sr.Terms(field)
			require.NoError(t, err)
			if terms == nil {
				continue
			}
			te := terms.Iterator()
			for {
				ok, err := te.Next()
				require.NoError(t, err)
				if !ok {
					break
				}
				term := field + ":" + string(te.Term())
				pe, err := te.Postings(nil, segment.FlagAll)
				require.NoError(t, err)
				for {
					doc, err := pe.NextDoc()
					require.NoError(t, err)
					if doc == segment.NoMoreDocs {
						break
					}
					pv := postingView{Freq: pe.Freq()}
					if terms.HasPositions() {
						for i := 0; i < pe.Freq(); i++ {
							pos, err := pe.NextPosition()
							require.NoError(t, err)
							p := segment.Position{Pos: pos}
							if terms.HasOffsets() {
								p.Start, p.End = pe.StartOffset(), pe.EndOffset()
							}
							if terms.HasPayloads() {
								p.Payload = slices.Clone(pe.Payload())
							}
							pv.Positions = append(pv.Positions, p)
						}
					}
					views[doc].Postings[term] = pv
				}
			}
		}
		dv, err := sr.NumericDocValues("num")
		require.NoError(t, err)
		norms, err := sr.Norms("body")
		require.NoError(t, err)
		for doc := range views {
			if !sr.IsLive(doc) {
				continue
			}
			d, err := sr.Document(doc)
			require.NoError(t, err)
			v := views[doc]
			v.Stored = fmt.Sprint(d)
			v.Num, _ = dv.Get(doc)
			v.Norm = norms.Get(doc)
			out[d.Get("id")] = v
		}
	}
	return out
}

func TestMergePreservesDocuments(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	words := strings.Fields("alpha beta gamma delta epsilon zeta eta theta iota kappa")
	w := newTestWriter(t, store.NewRAMDirectory(), withMaxBufferedDocs(9), forceMergePolicy())
	for i := 0; i < 120; i++ {
		n := 1 + rng.Intn(12)
		body := make([]string, n)
		for j := range body {
			body[j] = words[rng.Intn(len(words))]
		}
		_, err := w.AddDocument(idDoc(i, strings.Join(body, " ")))
		require.NoError(t, err)
		if rng.Intn(10) == 0 {
			_, err := w.DeleteDocuments(idTerm(rng.Intn(i + 1)))
			require.NoError(t, err)
		}
	}
	before := snapshotDocs(t, nrtReader(t, w))
	require.Greater(t, w.SegmentCount(), 5)

	require.NoError(t, w.ForceMerge(1))
	after := snapshotDocs(t, nrtReader(t, w))
	require.Equal(t, 1, w.SegmentCount())
	require.Equal(t, before, after)
}

func TestDeletesDuringMergeAreCarriedOver(t *testing.T) {
	mock := store.NewMockDirectory(store.NewRAMDirectory())
	w := newTestWriter(t, mock, withMaxBufferedDocs(10), forceMergePolicy())
	addDocs(t, w, 0, 20)
	require.NoError(t, w.Flush())
	require.Equal(t, 2, w.SegmentCount())

	var blocking atomic.Bool
	blocking.Store(true)
	started := make(chan struct{})
	release := make(chan struct{})
	mock.FailOn(func(op store.Op, name string) error {
		if op == store.OpCreate && strings.HasSuffix(name, segment.SegmentExtension) && blocking.CompareAndSwap(true, false) {
			close(started)
			<-release
		}
		return nil
	})

	errc := make(chan error, 1)
	go func() { errc <- w.ForceMerge(1) }()
	<-started
	_, err := w.DeleteDocuments(idTerm(3), idTerm(15))
	require.NoError(t, err)
	r := nrtReader(t, w)
	require.Equal(t, 18, r.NumDocs())
	close(release)
	require.NoError(t, <-errc)

	require.Equal(t, 1, w.SegmentCount())
	r2 := nrtReader(t, w)
	require.Equal(t, 18, r2.NumDocs())
	require.Empty(t, hits(t, r2, idTerm(3)))
	require.Empty(t, hits(t, r2, idTerm(15)))
	require.NoError(t, w.Commit())
	requireClean(t, mock)
}

func TestUpdateDuringMergeKeepsNewDocument(t *testing.T) {
	mock := store.NewMockDirectory(store.NewRAMDirectory())
	w := newTestWriter(t, mock, withMaxBufferedDocs(10), forceMergePolicy())
	addDocs(t, w, 0, 20)
	require.NoError(t, w.Flush())

	var blocking atomic.Bool
	blocking.Store(true)
	started := make(chan struct{})
	release := make(chan struct{})
	mock.FailOn(func(op store.Op, name string) error {
		if op == store.OpCreate && strings.HasSuffix(name, segment.SegmentExtension) && blocking.CompareAndSwap(true, false) {
			close(started)
			<-release
		}
		return nil
	})
	errc := make(chan error, 1)
	go func() { errc <- w.ForceMerge(1) }()
	<-started
	_, err := w.UpdateDocument(idTerm(5), idDoc(5, "updated while merging"))
	require.NoError(t, err)
	close(release)
	require.NoError(t, <-errc)

	r := nrtReader(t, w)
	require.Equal(t, 20, r.NumDocs())
	docs := hits(t, r, idTerm(5))
	require.Len(t, docs, 1)
	d, err := r.Document(docs[0])
	require.NoError(t, err)
	require.Equal(t, "updated while merging", d.Get("body"))
}

func TestConcurrentMergeSchedulerMergesInBackground(t *testing.T) {
	dir := store.NewRAMDirectory()
	w := newTestWriter(t, dir, withMaxBufferedDocs(5), func(c *WriterConfig) {
		p := NewLogDocMergePolicy()
		p.MergeFactor = 3
		p.MinMergeDocs = 5
		c.MergePolicy = p
		c.MergeScheduler = NewConcurrentMergeScheduler(2, 4)
	})
	addDocs(t, w, 0, 200)
	require.NoError(t, w.Flush())
	require.NoError(t, w.WaitForMerges())
	require.Less(t, w.SegmentCount(), 40)

	require.NoError(t, w.Close())
	r := openReader(t, dir)
	require.Equal(t, 200, r.NumDocs())
	requireClean(t, dir)
}

func TestMergeAbortedByRollback(t *testing.T) {
	mock := store.NewMockDirectory(store.NewRAMDirectory())
	w := newTestWriter(t, mock, withMaxBufferedDocs(10), forceMergePolicy())
	addDocs(t, w, 0, 30)
	require.NoError(t, w.Commit())

	var blocking atomic.Bool
	blocking.Store(true)
	started := make(chan struct{})
	release := make(chan struct{})
	mock.FailOn(func(op store.Op, name string) error {
		if op == store.OpCreate && strings.HasSuffix(name, segment.SegmentExtension) && blocking.CompareAndSwap(true, false) {
			close(started)
			<-release
		}
		return nil
	})
	errc := make(chan error, 1)
	go func() { errc <- w.ForceMerge(1) }()
	<-started

	rolled := make(chan struct{})
	go func() {
		w.Rollback()
		close(rolled)
	}()
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		for m := range w.runningMerges {
			if m.IsAborted() {
				return true
			}
		}
		return false
	}, 5*time.Second, time.Millisecond)
	close(release)
	<-rolled
	require.ErrorIs(t, <-errc, ErrMergeAborted)

	r := openReader(t, mock)
	require.Len(t, r.Leaves(), 3)
	requireClean(t, mock)
}

func TestLogDocMergePolicyLevels(t *testing.T) {
	p := NewLogDocMergePolicy()
	p.MergeFactor = 3
	p.MinMergeDocs = 1
	infos := NewSegmentInfos()
	for i, n := range []int{1000, 1000, 1000, 10, 10, 10, 10} {
		infos.Segments = append(infos.Segments, &SegmentCommitInfo{Name: fmt.Sprintf("_%d", i), MaxDoc: n})
	}
	spec, err := p.FindMerges(TriggerExplicit, infos, &MergeContext{})
	require.NoError(t, err)
	require.Len(t, spec.Merges, 2)
	require.Equal(t, "_0 _1 _2", spec.Merges[0].String())
	require.Equal(t, "_3 _4 _5", spec.Merges[1].String())

	spec, err = p.FindMerges(TriggerExplicit, infos, &MergeContext{Merging: map[string]bool{"_4": true}})
	require.NoError(t, err)
	require.Len(t, spec.Merges, 1)
}

func TestLogDocMergePolicyForced(t *testing.T) {
	p := NewLogDocMergePolicy()
	p.MergeFactor = 4
	infos := NewSegmentInfos()
	toMerge := map[string]bool{}
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("_%d", i)
		infos.Segments = append(infos.Segments, &SegmentCommitInfo{Name: name, MaxDoc: 10})
		toMerge[name] = true
	}
	spec, err := p.FindForcedMerges(infos, 8, toMerge, &MergeContext{})
	require.NoError(t, err)
	require.Len(t, spec.Merges, 1)
	require.Equal(t, "_7 _8 _9", spec.Merges[0].String())

	spec, err = p.FindForcedMerges(infos, 1, toMerge, &MergeContext{Merging: map[string]bool{"_9": true}})
	require.NoError(t, err)
	require.Nil(t, spec)

	single := &SegmentInfos{Segments: infos.Segments[:1]}
	ctx := &MergeContext{NumDeletes: func(*SegmentCommitInfo) int { return 2 }}
	spec, err = p.FindForcedMerges(single, 1, toMerge, ctx)
	require.NoError(t, err)
	require.Len(t, spec.Merges, 1)
}

func TestMergedSegmentKeepsDocValuesAndVectors(t *testing.T) {
	w := newTestWriter(t, store.NewRAMDirectory(), withMaxBufferedDocs(2), forceMergePolicy())
	vecType := document.TextFieldType
	vecType.Stored = true
	vecType.StoreTermVectors = true
	vecType.StoreTermVectorPositions = true
	for i := 0; i < 6; i++ {
		_, err := w.AddDocument(document.New(
			document.NewStringField("id", fmt.Sprint(i), true),
			document.NewField("vec", fmt.Sprintf("red green %d", i), vecType),
			document.NewSortedDocValuesField("tag", []byte(fmt.Sprintf("tag%d", i%2))),
			document.NewBinaryDocValuesField("blob", []byte{byte(i)}),
		))
		require.NoError(t, err)
	}
	_, err := w.DeleteDocuments(document.NewTerm("id", "2"))
	require.NoError(t, err)
	require.NoError(t, w.ForceMerge(1))

	r := nrtReader(t, w)
	require.Len(t, r.Leaves(), 1)
	sr := r.Leaves()[0].Reader
	sorted, err := sr.SortedDocValues("tag")
	require.NoError(t, err)
	blob, err := sr.BinaryDocValues("blob")
	require.NoError(t, err)
	for doc := 0; doc < sr.MaxDoc(); doc++ {
		d, err := sr.Document(doc)
		require.NoError(t, err)
		var id int
		fmt.Sscan(d.Get("id"), &id)
		tag, ok := sorted.Get(doc)
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("tag%d", id%2), string(tag))
		b, ok := blob.Get(doc)
		require.True(t, ok)
		require.Equal(t, []byte{byte(id)}, b)
		tv, err := sr.TermVectors(doc)
		require.NoError(t, err)
		require.NotNil(t, tv.Field("vec"))
	}
}
