package index

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/store"
)

func sourceIndex(t *testing.T, from, to int, deleteID int) store.Directory {
	t.Helper()
	dir := store.NewRAMDirectory()
	w, err := NewWriter(dir, testConfig(withMaxBufferedDocs(5)))
	require.NoError(t, err)
	addDocs(t, w, from, to)
	_, err = w.DeleteDocuments(idTerm(deleteID))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return dir
}

func TestAddIndexesDirsCopiesSegments(t *testing.T) {
	src := sourceIndex(t, 100, 110, 103)
	dir := store.NewRAMDirectory()
	w := newTestWriter(t, dir)
	addDocs(t, w, 0, 5)

	_, err := w.AddIndexesDirs(src)
	require.NoError(t, err)
	r := nrtReader(t, w)
	require.Equal(t, 14, r.NumDocs())
	require.Empty(t, hits(t, r, idTerm(103)))
	require.Len(t, hits(t, r, idTerm(107)), 1)

	require.NoError(t, w.Commit())
	st := requireClean(t, dir)
	require.Len(t, st.Segments, 3)
	require.Equal(t, "addIndexes", st.Segments[1].Diagnostics["source"])
	require.NotEmpty(t, st.Segments[1].Diagnostics["source_segment"])

	// the source index is untouched and unlocked
	sr := openReader(t, src)
	require.Equal(t, 9, sr.NumDocs())
	lw := newTestWriter(t, src)
	require.NoError(t, lw.Rollback())
}

func TestAddIndexesDirsRewritesIncompatibleFields(t *testing.T) {
	src := store.NewRAMDirectory()
	sw, err := NewWriter(src, testConfig())
	require.NoError(t, err)
	_, err = sw.AddDocument(document.New(
		document.NewTextField("body", "reordered fields", true),
		document.NewStringField("id", "50", true),
	))
	require.NoError(t, err)
	require.NoError(t, sw.Close())

	dir := store.NewRAMDirectory()
	w := newTestWriter(t, dir)
	addDocs(t, w, 0, 2)
	require.NoError(t, w.Flush())
	_, err = w.AddIndexesDirs(src)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	st := requireClean(t, dir)
	require.Empty(t, st.Segments[1].Diagnostics["source_segment"])
	r := openReader(t, dir)
	docs := hits(t, r, idTerm(50))
	require.Len(t, docs, 1)
	d, err := r.Document(docs[0])
	require.NoError(t, err)
	require.Equal(t, "reordered fields", d.Get("body"))
}

func TestAddIndexesDirsRejectsSelf(t *testing.T) {
	dir := store.NewRAMDirectory()
	w := newTestWriter(t, dir)
	_, err := w.AddIndexesDirs(dir)
	require.Error(t, err)
}

func TestAddIndexesDirsWithoutCommit(t *testing.T) {
	w := newTestWriter(t, store.NewRAMDirectory())
	_, err := w.AddIndexesDirs(store.NewRAMDirectory())
	require.ErrorIs(t, err, ErrIndexNotFound)
	require.Zero(t, w.SegmentCount())
}

func TestAddIndexesReaders(t *testing.T) {
	a := sourceIndex(t, 100, 110, 101)
	b := sourceIndex(t, 200, 207, 206)
	ra, rb := openReader(t, a), openReader(t, b)

	dir := store.NewRAMDirectory()
	w := newTestWriter(t, dir)
	seq, err := w.AddIndexes(ra, rb)
	require.NoError(t, err)
	require.Positive(t, seq)
	require.Equal(t, 1, w.SegmentCount())

	r := nrtReader(t, w)
	require.Equal(t, 15, r.NumDocs())
	require.Equal(t, 15, r.MaxDoc())
	ids := storedIDs(t, r)
	require.False(t, ids["101"])
	require.False(t, ids["206"])
	require.True(t, ids["205"])

	_, err = w.DeleteDocuments(idTerm(200))
	require.NoError(t, err)
	r = nrtReader(t, w)
	require.Equal(t, 14, r.NumDocs())

	// the callers' readers stay open
	require.Equal(t, 9, ra.NumDocs())
	require.NoError(t, w.Commit())
	requireClean(t, dir)
}

func TestAddIndexesKeepsEarlierDeletesAway(t *testing.T) {
	src := sourceIndex(t, 0, 3, 99)
	w := newTestWriter(t, store.NewRAMDirectory())
	_, err := w.DeleteDocuments(idTerm(1))
	require.NoError(t, err)
	_, err = w.AddIndexesDirs(src)
	require.NoError(t, err)

	r := nrtReader(t, w)
	require.Equal(t, 3, r.NumDocs())
	require.Len(t, hits(t, r, idTerm(1)), 1)
	for i := 0; i < 3; i++ {
		require.Len(t, hits(t, r, idTerm(i)), 1, fmt.Sprint(i))
	}
}
