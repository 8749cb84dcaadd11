package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-outbound/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const tokenCacheKeyPrefix = "go-outbound::token::v1"

// CachedTokenStore reads through a repository cache in front of a base
// store and invalidates the key on every save.
type CachedTokenStore struct {
	base  core.TokenStore
	cache repositorycache.CacheService
}

func NewCachedTokenStore(base core.TokenStore, cacheService repositorycache.CacheService) (*CachedTokenStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base token store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: token cache service is required")
	}
	return &CachedTokenStore{base: base, cache: cacheService}, nil
}

// TokenCacheKey returns go-outbound::token::v1::<store_key> with the key
// URL-path escaped.
func TokenCacheKey(key string) string {
	return strings.Join([]string{tokenCacheKeyPrefix, url.PathEscape(normalizeStoreKey(key))}, "::")
}

func (s *CachedTokenStore) Load(ctx context.Context, key string) (core.TokenRecord, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.TokenRecord{}, fmt.Errorf("sqlstore: cached token store is not configured")
	}
	key = normalizeStoreKey(key)
	return repositorycache.GetOrFetch(ctx, s.cache, TokenCacheKey(key), func(ctx context.Context) (core.TokenRecord, error) {
		return s.base.Load(ctx, key)
	})
}

func (s *CachedTokenStore) Save(ctx context.Context, key string, record core.TokenRecord) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached token store is not configured")
	}
	key = normalizeStoreKey(key)
	if err := s.base.Save(ctx, key, record); err != nil {
		return err
	}
	return s.cache.Delete(ctx, TokenCacheKey(key))
}

// Close closes the base store when it holds resources.
func (s *CachedTokenStore) Close() error {
	if s == nil {
		return nil
	}
	if closer, ok := s.base.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

var _ core.TokenStore = (*CachedTokenStore)(nil)
