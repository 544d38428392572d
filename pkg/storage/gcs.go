package storage

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"github.com/giongto35/cloud-classroom/pkg/config"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

func gcsOptions(conf config.Storage) (opts []option.ClientOption) {
	if conf.Gcs.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(conf.Gcs.Endpoint), option.WithoutAuthentication())
	} else if conf.Gcs.Credentials != "" {
		opts = append(opts, option.WithCredentialsFile(conf.Gcs.Credentials))
	}
	return
}

// Gcs keeps snapshots in a Google Cloud Storage bucket.
type Gcs struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

func NewGcs(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*Gcs, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket was not specified")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "gcs client")
	}
	return &Gcs{client: client, bucket: client.Bucket(bucket), prefix: prefix}, nil
}

func (g *Gcs) Load(ctx context.Context, key string) (data []byte, err error) {
	if err = CheckKey(key); err != nil {
		return nil, err
	}
	rc, err := g.bucket.Object(objectName(g.prefix, key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "gcs load %v", key)
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

func (g *Gcs) Save(ctx context.Context, key string, data []byte) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	wc := g.bucket.Object(objectName(g.prefix, key)).NewWriter(ctx)
	wc.ContentType = "application/json"
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return errors.Wrapf(err, "gcs save %v", key)
	}
	return errors.Wrapf(wc.Close(), "gcs save %v", key)
}

func (g *Gcs) Delete(ctx context.Context, key string) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	err := g.bucket.Object(objectName(g.prefix, key)).Delete(ctx)
	if err == nil || errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return errors.Wrapf(err, "gcs delete %v", key)
}

func (g *Gcs) Close() error { return g.client.Close() }
