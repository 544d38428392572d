package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// S3 keeps snapshots in any S3 compatible bucket.
type S3 struct {
	c      *minio.Client
	bucket string
	prefix string
	log    *logger.Logger
}

func NewS3(ctx context.Context, endpoint, bucket, key, secret string, secure bool, prefix string, log *logger.Logger) (*S3, error) {
	c, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(key, secret, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "s3 client")
	}

	exists, err := c.BucketExists(ctx, bucket)
	if err != nil {
		return nil, errors.Wrap(err, "s3 bucket")
	}
	if !exists {
		return nil, errors.Errorf("bucket %v doesn't exist", bucket)
	}
	return &S3{c: c, bucket: bucket, prefix: prefix, log: log}, nil
}

func (s *S3) Load(ctx context.Context, key string) (data []byte, err error) {
	if err = CheckKey(key); err != nil {
		return nil, err
	}
	r, err := s.c.GetObject(ctx, s.bucket, objectName(s.prefix, key), minio.GetObjectOptions{})
	if err != nil {
		return nil, s3Error(err, "load", key)
	}
	defer func() { _ = r.Close() }()

	data, err = io.ReadAll(r)
	if err != nil {
		return nil, s3Error(err, "load", key)
	}
	s.log.Debug().Str("key", key).Int("size", len(data)).Msg("Downloaded")
	return data, nil
}

func (s *S3) Save(ctx context.Context, key string, data []byte) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	opts := minio.PutObjectOptions{
		ContentType:    "application/json",
		SendContentMd5: true,
		UserMetadata:   map[string]string{"session": key},
	}
	info, err := s.c.PutObject(ctx, s.bucket, objectName(s.prefix, key), bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return s3Error(err, "save", key)
	}
	s.log.Debug().Str("key", info.Key).Int64("size", info.Size).Msg("Uploaded")
	return nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	err := s.c.RemoveObject(ctx, s.bucket, objectName(s.prefix, key), minio.RemoveObjectOptions{})
	if err = s3Error(err, "delete", key); errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// s3Error maps missing objects to ErrNotFound.
func s3Error(err error, op, key string) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return errors.Wrapf(err, "s3 %v %v", op, key)
}
