package podcast

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type tokenCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// TokenGuard issues the short lived tokens a job presents when it posts
// results back. A token authorises exactly one terminal callback.
type TokenGuard struct {
	cache tokenCache
	ttl   time.Duration
}

func NewTokenGuard(c tokenCache) *TokenGuard {
	return &TokenGuard{cache: c, ttl: ImportTokenTTL}
}

// Issue stores a fresh token for the podcast, replacing any earlier one of
// the same kind.
func (g *TokenGuard) Issue(ctx context.Context, podcastID string, isUpdate bool) (string, error) {
	token := uuid.NewString()
	if err := g.cache.Set(ctx, importTokenKey(podcastID, isUpdate), token, g.ttl); err != nil {
		return "", fmt.Errorf("store import token: %w", err)
	}
	return token, nil
}

// Verify reports whether token is the live token for the podcast without
// using it up.
func (g *TokenGuard) Verify(ctx context.Context, podcastID, token string, isUpdate bool) (bool, error) {
	if podcastID == "" || token == "" {
		return false, nil
	}
	stored, ok, err := g.cache.Get(ctx, importTokenKey(podcastID, isUpdate))
	if err != nil {
		return false, fmt.Errorf("read import token: %w", err)
	}
	return ok && stored == token, nil
}

// Consume deletes the token if it matches, in a single atomic step. Only
// the first of several concurrent callers presenting the same token
// succeeds.
func (g *TokenGuard) Consume(ctx context.Context, podcastID, token string, isUpdate bool) (bool, error) {
	if podcastID == "" || token == "" {
		return false, nil
	}
	ok, err := g.cache.CompareAndDelete(ctx, importTokenKey(podcastID, isUpdate), token)
	if err != nil {
		return false, fmt.Errorf("consume import token: %w", err)
	}
	return ok, nil
}
