package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/wizesale/storefront/internal/platform/config"
	"github.com/wizesale/storefront/internal/repositories"
)

// SnapshotStore keeps session snapshots in redis under a configurable prefix.
type SnapshotStore struct {
	client goredis.UniversalClient
	prefix string
}

var _ repositories.SnapshotStore = (*SnapshotStore)(nil)

// NewClient opens a redis client from configuration.
func NewClient(cfg config.RedisConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewSnapshotStore wraps client. Keys are stored as prefix+key.
func NewSnapshotStore(client goredis.UniversalClient, prefix string) *SnapshotStore {
	return &SnapshotStore{client: client, prefix: prefix}
}

func (s *SnapshotStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, repositories.NewNotFoundError("redis.load", key)
	}
	if err != nil {
		return nil, repositories.NewUnavailableError("redis.load", key, err)
	}
	return data, nil
}

func (s *SnapshotStore) Save(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return repositories.NewUnavailableError("redis.save", key, err)
	}
	return nil
}

func (s *SnapshotStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return repositories.NewUnavailableError("redis.delete", key, err)
	}
	return nil
}

// Ping is the readiness probe for the backend.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
