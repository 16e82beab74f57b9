package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"token-wallet/internal/domain"
)

type idempotencyStore struct {
	client *redis.Client
}

func NewIdempotencyStore(client *redis.Client) domain.IdempotencyStore {
	return &idempotencyStore{client: client}
}

func idempotencyKey(key string) string {
	return "idem:" + key
}

func (s *idempotencyStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, idempotencyKey(key), 1, ttl).Result()
}

func (s *idempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, idempotencyKey(key)).Err()
}
