// Package storage keeps whiteboard snapshots in one of the supported
// backends. Keys are session ids, every backend maps them to its own
// object names under the configured prefix.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"

	"github.com/giongto35/cloud-classroom/pkg/config"
	"github.com/giongto35/cloud-classroom/pkg/logger"
)

var (
	ErrNotFound   = errors.New("snapshot not found")
	ErrBadKey     = errors.New("bad snapshot key")
	ErrNoProvider = errors.New("unknown storage provider")
)

type Storage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	// Delete removes the snapshot, missing ones are not an error.
	Delete(ctx context.Context, key string) error
}

const (
	ProviderHttp     = "http"
	ProviderGcs      = "gcs"
	ProviderS3       = "s3"
	ProviderRedis    = "redis"
	ProviderPostgres = "postgres"
	ProviderFile     = "file"
	ProviderMemory   = "memory"
)

// New makes the backend selected in the config.
func New(ctx context.Context, conf config.Storage, log *logger.Logger) (Storage, error) {
	if log == nil {
		log = logger.Default()
	}
	log = log.Extend(log.With().Str("provider", conf.Provider)).Module("storage")

	var st Storage
	var err error
	switch conf.Provider {
	case ProviderHttp:
		st, err = NewHttp(conf.Http.Address, conf.Http.Token, conf.Http.Timeout)
	case ProviderGcs:
		st, err = NewGcs(ctx, conf.Gcs.Bucket, conf.Prefix, gcsOptions(conf)...)
	case ProviderS3:
		st, err = NewS3(ctx, conf.S3.Endpoint, conf.S3.Bucket, conf.S3.AccessKeyId, conf.S3.SecretAccessKey,
			conf.S3.Secure, conf.Prefix, log)
	case ProviderRedis:
		st, err = NewRedis(ctx, conf.Redis, conf.Prefix)
	case ProviderPostgres:
		st, err = NewPostgres(ctx, conf.Postgres.Dsn, conf.Postgres.Table)
	case ProviderFile:
		st, err = NewFile(conf.File.Dir, conf.Prefix)
	case ProviderMemory, "":
		st = NewMemory()
	default:
		return nil, fmt.Errorf("%w: %q", ErrNoProvider, conf.Provider)
	}
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Snapshot storage")
	return st, nil
}

// Close releases the backend connections if it has any.
func Close(st Storage) error {
	if c, ok := st.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var validKey = regexp.MustCompile(`^[A-Za-z0-9._~-]{1,128}$`)

// CheckKey rejects keys that can't be used as a file or an object name.
func CheckKey(key string) error {
	if !validKey.MatchString(key) || key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	return nil
}

func objectName(prefix, key string) string { return path.Join(prefix, key+".json") }
