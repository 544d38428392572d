package storage

import (
	"context"
	"time"

	"github.com/giongto35/cloud-classroom/pkg/config"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// redisClient is the part of the go-redis client snapshots use.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Redis keeps snapshots as plain string values.
type Redis struct {
	c      redisClient
	prefix string
	ttl    time.Duration
}

func NewRedis(ctx context.Context, conf config.Redis, prefix string) (*Redis, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     conf.Address,
		Password: conf.Password,
		DB:       conf.Db,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}
	return &Redis{c: c, prefix: prefix, ttl: conf.Ttl}, nil
}

func (r *Redis) key(key string) string { return r.prefix + ":" + key }

func (r *Redis) Load(ctx context.Context, key string) ([]byte, error) {
	if err := CheckKey(key); err != nil {
		return nil, err
	}
	dat, err := r.c.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis load %v", key)
	}
	return dat, nil
}

func (r *Redis) Save(ctx context.Context, key string, data []byte) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	return errors.Wrapf(r.c.Set(ctx, r.key(key), data, r.ttl).Err(), "redis save %v", key)
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	return errors.Wrapf(r.c.Del(ctx, r.key(key)).Err(), "redis delete %v", key)
}

func (r *Redis) Close() error { return r.c.Close() }
