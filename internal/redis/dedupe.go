package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

const webhookDedupePrefix = "dedupe:webhook:"

// DedupeStore remembers webhook bodies that were already processed.
// It only short-circuits obvious redeliveries; a miss is always safe because
// settlement itself is guarded by the payment status check in Postgres.
type DedupeStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDedupeStore creates a new DedupeStore.
func NewDedupeStore(client *redis.Client, ttl time.Duration) *DedupeStore {
	return &DedupeStore{client: client, ttl: ttl}
}

// WebhookKey returns the dedupe key of a raw webhook body.
func WebhookKey(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Seen reports whether the key was marked as processed.
func (s *DedupeStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, webhookDedupePrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records the key as processed. Returns false if it was already marked.
func (s *DedupeStore) Mark(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, webhookDedupePrefix+key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
