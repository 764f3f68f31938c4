package shopifywebhook

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DedupStore is the slice of the Redis client the delivery guard needs.
type DedupStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	WebhookKey(scope, webhookID string) string
}

// DeliveryGuard remembers webhook ids so platform retries of an already
// processed delivery are acknowledged without running the pipeline again.
type DeliveryGuard struct {
	store DedupStore
	ttl   time.Duration
	scope string
}

func NewDeliveryGuard(store DedupStore, ttl time.Duration, scope string) (*DeliveryGuard, error) {
	if store == nil {
		return nil, errors.New("dedup store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &DeliveryGuard{store: store, ttl: ttl, scope: scope}, nil
}

// CheckAndMark reports whether webhookID was already seen, marking it otherwise.
func (g *DeliveryGuard) CheckAndMark(ctx context.Context, webhookID string) (bool, error) {
	if webhookID == "" {
		return false, errors.New("webhook id is required")
	}
	set, err := g.store.SetNX(ctx, g.store.WebhookKey(g.scope, webhookID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set webhook key: %w", err)
	}
	return !set, nil
}

// Release forgets webhookID so a failed delivery can be retried.
func (g *DeliveryGuard) Release(ctx context.Context, webhookID string) error {
	if webhookID == "" {
		return errors.New("webhook id is required")
	}
	return g.store.Del(ctx, g.store.WebhookKey(g.scope, webhookID))
}
