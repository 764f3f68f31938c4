package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	ctxStoreID contextKey = "store_id"
	ctxScopes  contextKey = "scopes"
	ctxSubject contextKey = "subject"
)

// StoreIDFromContext returns the store the bearer token was issued for.
func StoreIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxStoreID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

func ScopesFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxScopes).([]string); ok {
		return v
	}
	return nil
}

func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxSubject).(string); ok {
		return v
	}
	return ""
}

// WithStoreID injects the store identifier into the context for downstream handlers.
func WithStoreID(ctx context.Context, storeID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxStoreID, storeID)
}

// WithScopes injects the granted token scopes into the context.
func WithScopes(ctx context.Context, scopes []string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxScopes, scopes)
}
