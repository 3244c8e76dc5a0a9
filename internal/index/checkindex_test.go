package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"harshagw/segidx/internal/logger"
	"harshagw/segidx/internal/segment"
	"harshagw/segidx/internal/store"
)

func buildCheckedIndex(t *testing.T) (store.Directory, *SegmentInfos) {
	t.Helper()
	dir := store.NewRAMDirectory()
	w := newTestWriter(t, dir, withMaxBufferedDocs(10))
	addDocs(t, w, 0, 25)
	_, err := w.DeleteDocuments(idTerm(4), idTerm(22))
	require.NoError(t, err)
	w.SetCommitData(map[string]string{"source": "test"})
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())
	infos, err := ReadLatestCommit(dir)
	require.NoError(t, err)
	return dir, infos
}

func TestCheckIndexClean(t *testing.T) {
	dir, infos := buildCheckedIndex(t)
	st := requireClean(t, dir)

	require.Equal(t, infos.SegmentsFileName(), st.SegmentsFileName)
	require.Equal(t, map[string]string{"source": "test"}, st.UserData)
	require.Len(t, st.Segments, 3)
	require.Equal(t, 23, st.NumDocs())
	for _, seg := range st.Segments {
		require.Equal(t, seg.MaxDoc, seg.StoredDocs)
		require.Equal(t, 1, seg.DocValues)
		require.Equal(t, 1, seg.NormsFields)
		require.Positive(t, seg.Terms)
		require.Positive(t, seg.Positions)
		require.Equal(t, "flush", seg.Diagnostics["source"])
	}
	require.Equal(t, 1, st.Segments[0].DelCount)
	require.Equal(t, 1, st.Segments[2].DelCount)
}

func TestCheckIndexDetectsCorruptSegment(t *testing.T) {
	dir, infos := buildCheckedIndex(t)
	name := infos.Segments[1].Name + segment.SegmentExtension
	data, err := store.ReadFile(dir, name)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, dir.DeleteFile(name))
	require.NoError(t, store.WriteFile(dir, name, data))

	st, err := (&Checker{Dir: dir, Log: logger.Discard()}).Check()
	require.NoError(t, err)
	require.False(t, st.Clean())
	require.True(t, st.Segments[0].Clean())
	require.False(t, st.Segments[1].Clean())
	require.True(t, st.Segments[2].Clean())
	require.Contains(t, st.Segments[1].Problems[0], name)
}

func TestCheckIndexReportsMissingFiles(t *testing.T) {
	dir, infos := buildCheckedIndex(t)
	si := infos.Segments[0]
	require.True(t, si.HasDeletions())
	require.NoError(t, dir.DeleteFile(si.LiveDocsFile()))

	st, err := CheckIndex(dir)
	require.NoError(t, err)
	require.False(t, st.Clean())
	require.Equal(t, []string{si.LiveDocsFile()}, st.MissingFiles)
	require.False(t, st.Segments[0].Clean())
}

func TestCheckIndexWithoutCommit(t *testing.T) {
	_, err := CheckIndex(store.NewRAMDirectory())
	require.ErrorIs(t, err, ErrIndexNotFound)
}
