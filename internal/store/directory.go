package store

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
)

var (
	ErrFileExists       = errors.New("file already exists")
	ErrFileNotFound     = errors.New("file not found")
	ErrLockObtainFailed = errors.New("lock obtain timed out")
	ErrDirectoryClosed  = errors.New("directory is closed")
	ErrCorruptIndex     = errors.New("corrupt index")
	ErrDiskFull         = errors.New("no space left on device")
)

// Directory is a flat namespace of write-once files.
type Directory interface {
	// CreateOutput creates a new file. It fails with ErrFileExists if the
	// name is taken.
	CreateOutput(name string) (IndexOutput, error)
	OpenInput(name string) (IndexInput, error)
	DeleteFile(name string) error
	ListAll() ([]string, error)
	FileExists(name string) bool
	FileLength(name string) (int64, error)
	// Sync makes the named files durable.
	Sync(names []string) error
	// Rename atomically replaces to with from.
	Rename(from, to string) error
	// ObtainLock acquires an exclusive lock, retrying until ctx is done.
	ObtainLock(ctx context.Context, name string) (Lock, error)
	Refs() *FileRefs
	Close() error
}

// IndexOutput is an append-only file being written.
type IndexOutput interface {
	io.Writer
	Name() string
	FilePointer() int64
	Close() error
}

// IndexInput is a read-only view of a whole file.
type IndexInput interface {
	Name() string
	Bytes() []byte
	Len() int
	Close() error
}

// Lock is a held exclusive lock.
type Lock interface {
	Release() error
}

// FileRefs counts in-process readers of each file. Writers consult it
// before physically deleting anything.
type FileRefs struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFileRefs() *FileRefs {
	return &FileRefs{counts: make(map[string]int)}
}

// Retain increments the count of each file.
func (r *FileRefs) Retain(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		r.counts[n]++
	}
}

// Release decrements the count of each file.
func (r *FileRefs) Release(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		if c := r.counts[n]; c <= 1 {
			delete(r.counts, n)
		} else {
			r.counts[n] = c - 1
		}
	}
}

// InUse reports whether any reader still holds the file.
func (r *FileRefs) InUse(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name] > 0
}

// Held returns the sorted names of all retained files.
func (r *FileRefs) Held() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.counts))
	for n := range r.counts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ReadFile returns a copy of the full contents of a file.
func ReadFile(dir Directory, name string) ([]byte, error) {
	in, err := dir.OpenInput(name)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	data := make([]byte, in.Len())
	copy(data, in.Bytes())
	return data, nil
}

// WriteFile creates name with data, closing the output on every path.
func WriteFile(dir Directory, name string, data []byte) error {
	out, err := dir.CreateOutput(name)
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
