package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockDiskFull(t *testing.T) {
	m := NewMockDirectory(NewRAMDirectory())
	m.SetMaxSize(10)

	out, err := m.CreateOutput("f")
	require.NoError(t, err)
	n, err := out.Write([]byte("0123456789abc"))
	require.ErrorIs(t, err, ErrDiskFull)
	require.Equal(t, 10, n)
	require.NoError(t, out.Close())
	require.EqualValues(t, 10, m.Used())

	require.NoError(t, m.DeleteFile("f"))
	require.EqualValues(t, 0, m.Used())

	m.SetMaxSize(0)
	require.NoError(t, WriteFile(m, "g", make([]byte, 100)))
}

func TestMockFailOn(t *testing.T) {
	m := NewMockDirectory(NewRAMDirectory())
	boom := errors.New("boom")
	m.FailOn(func(op Op, name string) error {
		if op == OpSync && name == "b" {
			return boom
		}
		return nil
	})
	require.NoError(t, WriteFile(m, "a", []byte("x")))
	require.NoError(t, WriteFile(m, "b", []byte("y")))
	require.NoError(t, m.Sync([]string{"a"}))
	require.ErrorIs(t, m.Sync([]string{"b"}), boom)

	m.FailOn(nil)
	require.NoError(t, m.Sync([]string{"b"}))
}

func TestMockCrashDropsUnsynced(t *testing.T) {
	m := NewMockDirectory(NewRAMDirectory())
	require.NoError(t, WriteFile(m, "synced", []byte("x")))
	require.NoError(t, m.Sync([]string{"synced"}))
	require.NoError(t, WriteFile(m, "tmp", []byte("y")))
	require.NoError(t, m.Rename("tmp", "renamed"))
	require.Equal(t, []string{"renamed"}, m.Unsynced())

	_, err := m.ObtainLock(context.Background(), "write.lock")
	require.NoError(t, err)

	require.NoError(t, m.Crash())
	names, err := m.ListAll()
	require.NoError(t, err)
	require.Equal(t, []string{"synced"}, names)

	lock, err := m.ObtainLock(context.Background(), "write.lock")
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestMockOpenFiles(t *testing.T) {
	m := NewMockDirectory(NewRAMDirectory())
	out, err := m.CreateOutput("a")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, m.OpenFiles())
	require.NoError(t, out.Close())

	in, err := m.OpenInput("a")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, m.OpenFiles())
	require.NoError(t, in.Close())
	require.Empty(t, m.OpenFiles())
}
