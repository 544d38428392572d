package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	xos "github.com/giongto35/cloud-classroom/pkg/os"
	"github.com/pkg/errors"
)

// File keeps snapshots as JSON files in a directory. Writes are atomic and
// guarded with a lock file, so several processes may share the directory.
type File struct {
	dir string
	// mu guards the lock file within the process
	mu   sync.Mutex
	lock *xos.Flock
}

func NewFile(dir, prefix string) (*File, error) {
	dir = filepath.Join(dir, prefix)
	if err := xos.CheckCreateDir(dir); err != nil {
		return nil, errors.Wrap(err, "snapshot dir")
	}
	lock, err := xos.NewFileLock(filepath.Join(dir, ".lock"))
	if err != nil {
		return nil, errors.Wrap(err, "snapshot lock")
	}
	return &File{dir: dir, lock: lock}, nil
}

func (f *File) path(key string) string { return filepath.Join(f.dir, key+".json") }

func (f *File) Load(ctx context.Context, key string) ([]byte, error) {
	if err := CheckKey(key); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lock.RLock(ctx); err != nil {
		return nil, errors.Wrap(err, "snapshot lock")
	}
	defer func() { _ = f.lock.Unlock() }()

	dat, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return dat, errors.Wrapf(err, "file load %v", key)
}

func (f *File) Save(ctx context.Context, key string, data []byte) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lock.Lock(ctx); err != nil {
		return errors.Wrap(err, "snapshot lock")
	}
	defer func() { _ = f.lock.Unlock() }()
	return errors.Wrapf(xos.WriteFileAtomic(f.path(key), data, 0644), "file save %v", key)
}

func (f *File) Delete(ctx context.Context, key string) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lock.Lock(ctx); err != nil {
		return errors.Wrap(err, "snapshot lock")
	}
	defer func() { _ = f.lock.Unlock() }()
	err := os.Remove(f.path(key))
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return errors.Wrapf(err, "file delete %v", key)
}
