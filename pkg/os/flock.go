package os

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetry = 10 * time.Millisecond

// Flock is an advisory lock shared between processes.
type Flock struct {
	f *flock.Flock
}

func NewFileLock(path string) (*Flock, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "classroom.lock")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		return nil, err
	}
	return &Flock{f: flock.New(path)}, nil
}

// Lock blocks until the lock is taken or the context is done.
func (f *Flock) Lock(ctx context.Context) error {
	ok, err := f.f.TryLockContext(ctx, lockRetry)
	if err != nil {
		return err
	}
	if !ok {
		return ctx.Err()
	}
	return nil
}

// RLock is Lock for readers.
func (f *Flock) RLock(ctx context.Context) error {
	ok, err := f.f.TryRLockContext(ctx, lockRetry)
	if err != nil {
		return err
	}
	if !ok {
		return ctx.Err()
	}
	return nil
}

func (f *Flock) Unlock() error { return f.f.Unlock() }
