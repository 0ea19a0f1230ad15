package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

const keyPrefix = "storefront:"

// SlotStore keeps slots as Redis strings under the "storefront:" prefix.
type SlotStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewSlotStore creates a Redis-backed store. A zero ttl keeps slots forever;
// otherwise every write refreshes the expiry.
func NewSlotStore(client redis.UniversalClient, ttl time.Duration) *SlotStore {
	return &SlotStore{client: client, ttl: ttl}
}

func (s *SlotStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperrors.NotFound("slot", key)
		}
		return "", fmt.Errorf("redis get slot %s: %w", key, err)
	}
	return v, nil
}

func (s *SlotStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, keyPrefix+key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set slot %s: %w", key, err)
	}
	return nil
}

func (s *SlotStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del slot %s: %w", key, err)
	}
	return nil
}

func (s *SlotStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
