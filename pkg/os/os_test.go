package os

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "a.json")

	require.NoError(t, WriteFileAtomic(name, []byte("one"), 0644))
	require.NoError(t, WriteFileAtomic(name, []byte("two"), 0644))

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left")
}

func TestCheckCreateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	assert.False(t, Exists(dir))
	require.NoError(t, CheckCreateDir(dir))
	assert.True(t, Exists(dir))
	require.NoError(t, CheckCreateDir(dir))
}

func TestFileLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	a, err := NewFileLock(path)
	require.NoError(t, err)
	b, err := NewFileLock(path)
	require.NoError(t, err)

	require.NoError(t, a.Lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, b.Lock(ctx), "second lock waits for the first one")

	require.NoError(t, a.Unlock())
	require.NoError(t, b.Lock(context.Background()))
	require.NoError(t, b.Unlock())
}
