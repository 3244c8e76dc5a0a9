package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// RAMDirectory keeps files in memory. Used by tests and tools.
type RAMDirectory struct {
	refs *FileRefs

	mu     sync.Mutex
	files  map[string][]byte
	locks  map[string]bool
	closed bool
}

// NewRAMDirectory returns an empty in-memory directory.
func NewRAMDirectory() *RAMDirectory {
	return &RAMDirectory{
		refs:  newFileRefs(),
		files: make(map[string][]byte),
		locks: make(map[string]bool),
	}
}

func (d *RAMDirectory) Refs() *FileRefs { return d.refs }

func (d *RAMDirectory) CreateOutput(name string) (IndexOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDirectoryClosed
	}
	if _, ok := d.files[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrFileExists, name)
	}
	d.files[name] = nil
	return &ramOutput{dir: d, name: name}, nil
}

func (d *RAMDirectory) OpenInput(name string) (IndexInput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDirectoryClosed
	}
	data, ok := d.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return &byteInput{name: name, data: data}, nil
}

func (d *RAMDirectory) DeleteFile(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDirectoryClosed
	}
	if _, ok := d.files[name]; !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	delete(d.files, name)
	return nil
}

func (d *RAMDirectory) ListAll() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDirectoryClosed
	}
	names := make([]string, 0, len(d.files))
	for n := range d.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (d *RAMDirectory) FileExists(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.files[name]
	return ok
}

func (d *RAMDirectory) FileLength(name string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.files[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return int64(len(data)), nil
}

func (d *RAMDirectory) Sync(names []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range names {
		if _, ok := d.files[n]; !ok {
			return fmt.Errorf("failed to sync %s: %w", n, ErrFileNotFound)
		}
	}
	return nil
}

func (d *RAMDirectory) Rename(from, to string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.files[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, from)
	}
	d.files[to] = data
	delete(d.files, from)
	return nil
}

func (d *RAMDirectory) ObtainLock(ctx context.Context, name string) (Lock, error) {
	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return nil, ErrDirectoryClosed
		}
		if !d.locks[name] {
			d.locks[name] = true
			d.mu.Unlock()
			return &ramLock{dir: d, name: name}, nil
		}
		d.mu.Unlock()

		if _, ok := ctx.Deadline(); !ok {
			return nil, fmt.Errorf("%w: %s", ErrLockObtainFailed, name)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockObtainFailed, name)
		case <-time.After(lockRetryDelay):
		}
	}
}

func (d *RAMDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type ramLock struct {
	dir  *RAMDirectory
	name string
}

func (l *ramLock) Release() error {
	l.dir.mu.Lock()
	defer l.dir.mu.Unlock()
	delete(l.dir.locks, l.name)
	return nil
}

type ramOutput struct {
	dir    *RAMDirectory
	name   string
	buf    []byte
	closed bool
}

func (o *ramOutput) Write(p []byte) (int, error) {
	o.buf = append(o.buf, p...)
	return len(p), nil
}

func (o *ramOutput) Name() string { return o.name }

func (o *ramOutput) FilePointer() int64 { return int64(len(o.buf)) }

// Close publishes the bytes written so far.
func (o *ramOutput) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	o.dir.mu.Lock()
	defer o.dir.mu.Unlock()
	if _, ok := o.dir.files[o.name]; ok {
		o.dir.files[o.name] = o.buf
	}
	return nil
}
