package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/ratelimit"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const rateLimitCacheKeyPrefix = "go-outbound::ratelimit::v1"

// CachedRateLimitStateStore serves the adaptive policy's per-call reads from
// a repository cache. Upsert writes through to the base store and drops the
// cached entry, so the next read sees the new window.
type CachedRateLimitStateStore struct {
	base  ratelimit.StateStore
	cache repositorycache.CacheService
}

func NewCachedRateLimitStateStore(base ratelimit.StateStore, cacheService repositorycache.CacheService) (*CachedRateLimitStateStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base rate-limit state store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: rate-limit cache service is required")
	}
	return &CachedRateLimitStateStore{base: base, cache: cacheService}, nil
}

// RateLimitCacheKey returns go-outbound::ratelimit::v1::<service>::<target>
// for the normalized key, each part URL-path escaped.
func RateLimitCacheKey(key core.RateLimitKey) (string, error) {
	key, err := rateLimitKey(key)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{
		rateLimitCacheKeyPrefix,
		url.PathEscape(key.Service),
		url.PathEscape(key.Target),
	}, "::"), nil
}

func (s *CachedRateLimitStateStore) Get(ctx context.Context, key core.RateLimitKey) (ratelimit.State, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return ratelimit.State{}, fmt.Errorf("sqlstore: cached rate-limit state store is not configured")
	}
	key, err := rateLimitKey(key)
	if err != nil {
		return ratelimit.State{}, err
	}
	cacheKey, err := RateLimitCacheKey(key)
	if err != nil {
		return ratelimit.State{}, err
	}
	state, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (ratelimit.State, error) {
		return s.base.Get(ctx, key)
	})
	if err != nil {
		return ratelimit.State{}, err
	}
	// the cached value is shared between readers
	return state.Clone(), nil
}

func (s *CachedRateLimitStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached rate-limit state store is not configured")
	}
	cacheKey, err := RateLimitCacheKey(state.Key)
	if err != nil {
		return err
	}
	if err := s.base.Upsert(ctx, state.Clone()); err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

var _ ratelimit.StateStore = (*CachedRateLimitStateStore)(nil)
