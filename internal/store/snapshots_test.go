package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotStorePersists(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSnapshotStore(dir, "snapshots.db")
	require.NoError(t, err)

	refs, err := s.Load()
	require.NoError(t, err)
	require.Empty(t, refs)

	require.NoError(t, s.Save(map[int64]int{3: 2, 7: 1, 9: 0}))
	require.NoError(t, s.Close())

	s, err = OpenSnapshotStore(dir, "snapshots.db")
	require.NoError(t, err)
	defer s.Close()

	refs, err = s.Load()
	require.NoError(t, err)
	require.Equal(t, map[int64]int{3: 2, 7: 1}, refs)

	version, err := s.Version()
	require.NoError(t, err)
	require.EqualValues(t, 1, version)
}
