package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// WebhookDeduper filters exact webhook redeliveries.
type WebhookDeduper interface {
	// MarkSeen records a payment hash and reports whether this was its first
	// delivery.
	MarkSeen(ctx context.Context, paymentHash string) (firstSeen bool, err error)
	// Forget releases a payment hash so a redelivery is treated as a first
	// delivery again. Called when processing fails after MarkSeen, so the
	// provider's retry is not blocked for the dedupe TTL.
	Forget(ctx context.Context, paymentHash string) error
}

// RedisWebhookDeduper implements distributed webhook dedupe using Redis SET NX.
// It is an optimization over the idempotent settlement path, not a correctness
// requirement, so the service runs without it when Redis is unconfigured.
type RedisWebhookDeduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisWebhookDeduper(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisWebhookDeduper {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "crowdpay:webhook_seen"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisWebhookDeduper{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

func (d *RedisWebhookDeduper) MarkSeen(ctx context.Context, paymentHash string) (bool, error) {
	if d == nil || d.client == nil {
		return true, nil
	}
	normalized := strings.TrimSpace(paymentHash)
	if normalized == "" {
		return true, nil
	}

	key := fmt.Sprintf("%s:%s", d.prefix, normalized)
	return d.client.SetNX(ctx, key, 1, d.ttl).Result()
}

func (d *RedisWebhookDeduper) Forget(ctx context.Context, paymentHash string) error {
	if d == nil || d.client == nil {
		return nil
	}
	normalized := strings.TrimSpace(paymentHash)
	if normalized == "" {
		return nil
	}

	key := fmt.Sprintf("%s:%s", d.prefix, normalized)
	return d.client.Del(ctx, key).Err()
}
