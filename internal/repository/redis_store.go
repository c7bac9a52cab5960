package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBlobStore keeps records as plain string values.  A positive TTL makes
// abandoned records expire; every Save pushes the expiry forward.
type RedisBlobStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisBlobStore(rdb *redis.Client, ttl time.Duration) *RedisBlobStore {
	return &RedisBlobStore{rdb: rdb, ttl: ttl}
}

func (s *RedisBlobStore) Load(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *RedisBlobStore) Save(ctx context.Context, key string, payload []byte) error {
	// A zero expiration keeps the key forever.
	return s.rdb.Set(ctx, key, payload, s.ttl).Err()
}

// Delete is idempotent; deleting a missing key is not an error.
func (s *RedisBlobStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
