package relay

import (
	"context"
	"sort"
	"time"

	"github.com/giongto35/cloud-classroom/pkg/config"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Presence keeps the list of online participants of a session.
type Presence interface {
	Join(ctx context.Context, session, participant string) error
	Leave(ctx context.Context, session, participant string) error
	Online(ctx context.Context, session string) ([]string, error)
}

type presenceClient interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisPresence keeps a set per session, so several relays can tell
// who is online.
type RedisPresence struct {
	client presenceClient
	ttl    time.Duration
}

func NewRedisPresence(ctx context.Context, conf config.Redis, ttl time.Duration) (*RedisPresence, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Address,
		Password: conf.Password,
		DB:       conf.Db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis presence")
	}
	return &RedisPresence{client: client, ttl: ttl}, nil
}

func presenceKey(session string) string { return "session:" + session + ":online" }

func (p *RedisPresence) Join(ctx context.Context, session, participant string) error {
	key := presenceKey(session)
	if err := p.client.SAdd(ctx, key, participant).Err(); err != nil {
		return errors.Wrap(err, "presence join")
	}
	if p.ttl > 0 {
		if err := p.client.Expire(ctx, key, p.ttl).Err(); err != nil {
			return errors.Wrap(err, "presence ttl")
		}
	}
	return nil
}

func (p *RedisPresence) Leave(ctx context.Context, session, participant string) error {
	return errors.Wrap(p.client.SRem(ctx, presenceKey(session), participant).Err(), "presence leave")
}

func (p *RedisPresence) Online(ctx context.Context, session string) ([]string, error) {
	list, err := p.client.SMembers(ctx, presenceKey(session)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "presence list")
	}
	sort.Strings(list)
	return list, nil
}

func (p *RedisPresence) Close() error {
	if c, ok := p.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
