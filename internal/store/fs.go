package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"
)

const lockRetryDelay = 20 * time.Millisecond

// FSDirectory stores files in a single OS directory. Inputs are mmap'd.
type FSDirectory struct {
	path string
	refs *FileRefs

	mu     sync.Mutex
	closed bool
}

// OpenFSDirectory opens path, creating it if needed.
func OpenFSDirectory(path string) (*FSDirectory, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return &FSDirectory{path: path, refs: newFileRefs()}, nil
}

// Path returns the OS path of the directory.
func (d *FSDirectory) Path() string { return d.path }

func (d *FSDirectory) Refs() *FileRefs { return d.refs }

func (d *FSDirectory) ensureOpen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDirectoryClosed
	}
	return nil
}

func mapPathError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrFileNotFound, err)
	}
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %v", ErrFileExists, err)
	}
	return err
}

func (d *FSDirectory) CreateOutput(name string) (IndexOutput, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(d.path, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, mapPathError(err)
	}
	return &fsOutput{name: name, file: f, w: bufio.NewWriterSize(f, 64*1024)}, nil
}

func (d *FSDirectory) OpenInput(name string) (IndexInput, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(d.path, name))
	if err != nil {
		return nil, mapPathError(err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if stat.Size() == 0 {
		f.Close()
		return &byteInput{name: name}, nil
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap %s: %w", name, err)
	}
	return &mmapInput{name: name, file: f, data: data}, nil
}

func (d *FSDirectory) DeleteFile(name string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	return mapPathError(os.Remove(filepath.Join(d.path, name)))
}

func (d *FSDirectory) ListAll() ([]string, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *FSDirectory) FileExists(name string) bool {
	_, err := os.Stat(filepath.Join(d.path, name))
	return err == nil
}

func (d *FSDirectory) FileLength(name string) (int64, error) {
	stat, err := os.Stat(filepath.Join(d.path, name))
	if err != nil {
		return 0, mapPathError(err)
	}
	return stat.Size(), nil
}

func (d *FSDirectory) Sync(names []string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	for _, name := range names {
		if err := syncPath(filepath.Join(d.path, name)); err != nil {
			return fmt.Errorf("failed to sync %s: %w", name, mapPathError(err))
		}
	}
	return syncPath(d.path)
}

func syncPath(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

func (d *FSDirectory) Rename(from, to string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	if err := os.Rename(filepath.Join(d.path, from), filepath.Join(d.path, to)); err != nil {
		return mapPathError(err)
	}
	return syncPath(d.path)
}

// ObtainLock takes an advisory OS lock on name, polling until ctx expires.
func (d *FSDirectory) ObtainLock(ctx context.Context, name string) (Lock, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	fl := flock.New(filepath.Join(d.path, name))
	ok, err := fl.TryLock()
	if err == nil && !ok {
		if _, hasDeadline := ctx.Deadline(); hasDeadline {
			ok, err = fl.TryLockContext(ctx, lockRetryDelay)
		}
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("failed to lock %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockObtainFailed, filepath.Join(d.path, name))
	}
	return &fsLock{fl: fl}, nil
}

func (d *FSDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type fsLock struct {
	fl *flock.Flock
}

func (l *fsLock) Release() error {
	return l.fl.Unlock()
}

type fsOutput struct {
	name   string
	file   *os.File
	w      *bufio.Writer
	pos    int64
	closed bool
}

func (o *fsOutput) Write(p []byte) (int, error) {
	n, err := o.w.Write(p)
	o.pos += int64(n)
	return n, err
}

func (o *fsOutput) Name() string { return o.name }

func (o *fsOutput) FilePointer() int64 { return o.pos }

func (o *fsOutput) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	if err := o.w.Flush(); err != nil {
		o.file.Close()
		return err
	}
	return o.file.Close()
}

type mmapInput struct {
	name string
	file *os.File
	data mmap.MMap
}

func (in *mmapInput) Name() string  { return in.name }
func (in *mmapInput) Bytes() []byte { return in.data }
func (in *mmapInput) Len() int      { return len(in.data) }

func (in *mmapInput) Close() error {
	if in.data == nil {
		return nil
	}
	err := in.data.Unmap()
	in.data = nil
	if cerr := in.file.Close(); err == nil {
		err = cerr
	}
	return err
}

type byteInput struct {
	name string
	data []byte
}

func (in *byteInput) Name() string  { return in.name }
func (in *byteInput) Bytes() []byte { return in.data }
func (in *byteInput) Len() int      { return len(in.data) }
func (in *byteInput) Close() error  { return nil }
