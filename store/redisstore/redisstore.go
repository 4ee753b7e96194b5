package redisstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/jrsteele09/go-sso-session/store"
)

var _ store.KeyValue = (*Store)(nil)

// Store is a redis-backed KeyValue. TTLs map directly onto redis expiry, so
// short-lived callback entries clean themselves up server-side.
type Store struct {
	client *redis.Client
	prefix string
}

// New wraps an existing redis client. prefix namespaces every key.
func New(client *redis.Client, prefix string) (*Store, error) {
	if client == nil {
		return nil, errors.New("[redisstore.New] redis client is required")
	}
	return &Store{
		client: client,
		prefix: prefix,
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "[Store.Get] redis Get")
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return errors.Wrap(err, "[Store.Set] redis Set")
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return errors.Wrap(err, "[Store.Delete] redis Del")
	}
	return nil
}
