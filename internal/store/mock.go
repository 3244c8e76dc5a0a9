package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Op names a directory operation seen by a MockDirectory failure hook.
type Op string

const (
	OpCreate Op = "create"
	OpWrite  Op = "write"
	OpOpen   Op = "open"
	OpSync   Op = "sync"
	OpRename Op = "rename"
	OpDelete Op = "delete"
)

// MockDirectory wraps a Directory with fault injection: a disk byte budget,
// a failure hook, tracking of unsynced files and simulated power loss.
type MockDirectory struct {
	Directory

	mu       sync.Mutex
	maxSize  int64
	used     int64
	failOn   func(op Op, name string) error
	unsynced map[string]bool
	open     map[string]int
	locks    map[Lock]bool
}

// NewMockDirectory wraps dir. Existing files count as synced.
func NewMockDirectory(dir Directory) *MockDirectory {
	m := &MockDirectory{
		Directory: dir,
		unsynced:  make(map[string]bool),
		open:      make(map[string]int),
		locks:     make(map[Lock]bool),
	}
	if names, err := dir.ListAll(); err == nil {
		for _, n := range names {
			if l, err := dir.FileLength(n); err == nil {
				m.used += l
			}
		}
	}
	return m
}

// SetMaxSize sets the disk budget in bytes. Zero means unlimited.
func (m *MockDirectory) SetMaxSize(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxSize = n
}

// Used returns the bytes currently occupied.
func (m *MockDirectory) Used() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// FailOn installs a hook consulted before every operation. A non-nil
// return fails the operation. Pass nil to clear.
func (m *MockDirectory) FailOn(fn func(op Op, name string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn = fn
}

func (m *MockDirectory) check(op Op, name string) error {
	m.mu.Lock()
	fn := m.failOn
	m.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(op, name)
}

func (m *MockDirectory) CreateOutput(name string) (IndexOutput, error) {
	if err := m.check(OpCreate, name); err != nil {
		return nil, err
	}
	out, err := m.Directory.CreateOutput(name)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.unsynced[name] = true
	m.open[name]++
	m.mu.Unlock()
	return &mockOutput{IndexOutput: out, dir: m}, nil
}

func (m *MockDirectory) OpenInput(name string) (IndexInput, error) {
	if err := m.check(OpOpen, name); err != nil {
		return nil, err
	}
	in, err := m.Directory.OpenInput(name)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.open[name]++
	m.mu.Unlock()
	return &mockInput{IndexInput: in, dir: m}, nil
}

func (m *MockDirectory) DeleteFile(name string) error {
	if err := m.check(OpDelete, name); err != nil {
		return err
	}
	size, _ := m.Directory.FileLength(name)
	if err := m.Directory.DeleteFile(name); err != nil {
		return err
	}
	m.mu.Lock()
	m.used -= size
	delete(m.unsynced, name)
	m.mu.Unlock()
	return nil
}

func (m *MockDirectory) Sync(names []string) error {
	for _, n := range names {
		if err := m.check(OpSync, n); err != nil {
			return err
		}
	}
	if err := m.Directory.Sync(names); err != nil {
		return err
	}
	m.mu.Lock()
	for _, n := range names {
		delete(m.unsynced, n)
	}
	m.mu.Unlock()
	return nil
}

func (m *MockDirectory) Rename(from, to string) error {
	if err := m.check(OpRename, to); err != nil {
		return err
	}
	replaced, _ := m.Directory.FileLength(to)
	if err := m.Directory.Rename(from, to); err != nil {
		return err
	}
	m.mu.Lock()
	m.used -= replaced
	if m.unsynced[from] {
		m.unsynced[to] = true
	} else {
		delete(m.unsynced, to)
	}
	delete(m.unsynced, from)
	m.mu.Unlock()
	return nil
}

func (m *MockDirectory) ObtainLock(ctx context.Context, name string) (Lock, error) {
	l, err := m.Directory.ObtainLock(ctx, name)
	if err != nil {
		return nil, err
	}
	ml := &mockLock{Lock: l, dir: m}
	m.mu.Lock()
	m.locks[ml] = true
	m.mu.Unlock()
	return ml, nil
}

// Unsynced returns the sorted names of files written but not yet synced.
func (m *MockDirectory) Unsynced() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.unsynced))
	for n := range m.unsynced {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// OpenFiles returns the sorted names of inputs and outputs not yet closed.
func (m *MockDirectory) OpenFiles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for n, c := range m.open {
		if c > 0 {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Crash simulates power loss: every unsynced file is lost and every lock
// taken through this directory is released.
func (m *MockDirectory) Crash() error {
	m.mu.Lock()
	lost := make([]string, 0, len(m.unsynced))
	for n := range m.unsynced {
		lost = append(lost, n)
	}
	locks := make([]Lock, 0, len(m.locks))
	for l := range m.locks {
		locks = append(locks, l)
	}
	m.unsynced = make(map[string]bool)
	m.locks = make(map[Lock]bool)
	m.mu.Unlock()

	for _, n := range lost {
		size, _ := m.Directory.FileLength(n)
		if err := m.Directory.DeleteFile(n); err != nil {
			continue
		}
		m.mu.Lock()
		m.used -= size
		m.mu.Unlock()
	}
	for _, l := range locks {
		l.(*mockLock).Lock.Release()
	}
	return nil
}

func (m *MockDirectory) reserve(n int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxSize > 0 && m.used+int64(n) > m.maxSize {
		room := int(m.maxSize - m.used)
		if room < 0 {
			room = 0
		}
		m.used += int64(room)
		return room, ErrDiskFull
	}
	m.used += int64(n)
	return n, nil
}

func (m *MockDirectory) closed(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.open[name]; c <= 1 {
		delete(m.open, name)
	} else {
		m.open[name] = c - 1
	}
}

type mockOutput struct {
	IndexOutput
	dir    *MockDirectory
	closed bool
}

func (o *mockOutput) Write(p []byte) (int, error) {
	if err := o.dir.check(OpWrite, o.Name()); err != nil {
		return 0, err
	}
	n, err := o.dir.reserve(len(p))
	if n > 0 {
		if _, werr := o.IndexOutput.Write(p[:n]); werr != nil {
			return 0, werr
		}
	}
	if err != nil {
		return n, fmt.Errorf("%w: writing %s", err, o.Name())
	}
	return n, nil
}

func (o *mockOutput) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	o.dir.closed(o.Name())
	return o.IndexOutput.Close()
}

type mockInput struct {
	IndexInput
	dir    *MockDirectory
	closed bool
}

func (in *mockInput) Close() error {
	if in.closed {
		return nil
	}
	in.closed = true
	in.dir.closed(in.Name())
	return in.IndexInput.Close()
}

type mockLock struct {
	Lock
	dir *MockDirectory
}

func (l *mockLock) Release() error {
	l.dir.mu.Lock()
	held := l.dir.locks[l]
	delete(l.dir.locks, l)
	l.dir.mu.Unlock()
	if !held {
		return nil
	}
	return l.Lock.Release()
}
