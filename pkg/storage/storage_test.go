package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/giongto35/cloud-classroom/pkg/config"
	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testContract checks the behaviour every backend shares.
func testContract(t *testing.T, st Storage) {
	t.Helper()
	ctx := context.Background()

	_, err := st.Load(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.Save(ctx, "s1", []byte(`{"v":1}`)))
	require.NoError(t, st.Save(ctx, "s1", []byte(`{"v":2}`)))
	require.NoError(t, st.Save(ctx, "s2", []byte(`{"v":3}`)))

	dat, err := st.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(dat))

	require.NoError(t, st.Delete(ctx, "s1"))
	require.NoError(t, st.Delete(ctx, "s1"), "missing snapshots are deleted already")
	_, err = st.Load(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	dat, err = st.Load(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, `{"v":3}`, string(dat))

	assert.ErrorIs(t, st.Save(ctx, "../etc", nil), ErrBadKey)
	_, err = st.Load(ctx, "a/b")
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestMemory(t *testing.T) { testContract(t, NewMemory()) }

func TestMemoryCopiesData(t *testing.T) {
	m := NewMemory()
	dat := []byte("abc")
	require.NoError(t, m.Save(context.Background(), "s1", dat))
	dat[0] = 'x'
	got, err := m.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestCheckKey(t *testing.T) {
	tests := []struct {
		key string
		ok  bool
	}{
		{"session-1", true},
		{"c9ke8bq1u6pk2d6ajg0g", true},
		{"a.b_c~d", true},
		{"", false},
		{".", false},
		{"..", false},
		{"a/b", false},
		{"a b", false},
		{string(make([]byte, 129)), false},
	}
	for _, tt := range tests {
		err := CheckKey(tt.key)
		if tt.ok {
			assert.NoError(t, err, tt.key)
		} else {
			assert.ErrorIs(t, err, ErrBadKey, tt.key)
		}
	}
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "whiteboard/s1.json", objectName("whiteboard", "s1"))
	assert.Equal(t, "s1.json", objectName("", "s1"))
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	st, err := New(ctx, config.Storage{Provider: ProviderMemory}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, st)

	conf := config.Storage{Provider: ProviderFile, Prefix: "wb"}
	conf.File.Dir = t.TempDir()
	st, err = New(ctx, conf, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &File{}, st)
	assert.NoError(t, Close(st))

	_, err = New(ctx, config.Storage{Provider: "floppy"}, logger.Nop())
	assert.ErrorIs(t, err, ErrNoProvider)

	_, err = New(ctx, config.Storage{Provider: ProviderHttp}, logger.Nop())
	assert.Error(t, err, "http needs an address")
}

func TestS3Error(t *testing.T) {
	assert.NoError(t, s3Error(nil, "load", "s1"))
	assert.ErrorIs(t, s3Error(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}, "load", "s1"), ErrNotFound)

	err := s3Error(minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, "load", "s1")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}
