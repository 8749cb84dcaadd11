package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/ratelimit"
)

var testDatabaseSeq atomic.Int64

func openTestTokenStore(t *testing.T) *TokenStore {
	t.Helper()
	store, err := OpenTokenStore(context.Background(), core.TokenStoreConfig{
		Driver: core.TokenStoreSQLite,
		DSN:    fmt.Sprintf("file:outbound-test-%d?mode=memory&cache=shared", testDatabaseSeq.Add(1)),
	})
	if err != nil {
		t.Fatalf("open token store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestTokenStore_SaveAndLoad(t *testing.T) {
	store := openTestTokenStore(t)
	ctx := context.Background()
	expires := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Save(ctx, "feishu", core.TokenRecord{
		Token:         "t-persisted",
		ExpiresAt:     expires,
		RefreshBuffer: 90 * time.Second,
	}); err != nil {
		t.Fatalf("save token: %v", err)
	}

	record, err := store.Load(ctx, "feishu")
	if err != nil {
		t.Fatalf("load token: %v", err)
	}
	if record.Token != "t-persisted" || !record.ExpiresAt.Equal(expires) || record.RefreshBuffer != 90*time.Second {
		t.Fatalf("unexpected record: expires=%s buffer=%s", record.ExpiresAt, record.RefreshBuffer)
	}
}

func TestTokenStore_LoadMissingKey(t *testing.T) {
	store := openTestTokenStore(t)
	if _, err := store.Load(context.Background(), "unknown"); !errors.Is(err, core.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestTokenStore_SaveReplacesExistingRow(t *testing.T) {
	store := openTestTokenStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i, token := range []string{"first-token", "second-token"} {
		if err := store.Save(ctx, "", core.TokenRecord{Token: token, ExpiresAt: now.Add(time.Duration(i+1) * time.Hour)}); err != nil {
			t.Fatalf("save %q: %v", token, err)
		}
	}

	rows, err := store.db.NewSelect().Model((*tokenRecord)(nil)).Count(ctx)
	if err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected a single row per key, got %d", rows)
	}
	record, err := store.Load(ctx, core.DefaultTokenStoreKey)
	if err != nil {
		t.Fatalf("load default key: %v", err)
	}
	if record.Token != "second-token" {
		t.Fatalf("expected latest token to win")
	}

	if err := store.Delete(ctx, ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, ""); !errors.Is(err, core.ErrTokenNotFound) {
		t.Fatalf("expected deleted key to be missing, got %v", err)
	}
}

func TestTokenStore_RejectsEmptyToken(t *testing.T) {
	store := openTestTokenStore(t)
	if err := store.Save(context.Background(), "svc", core.TokenRecord{}); err == nil {
		t.Fatalf("expected empty token to be rejected")
	}
}

func TestTokenStore_WarmsTokenProvider(t *testing.T) {
	store := openTestTokenStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, "dida365", core.TokenRecord{Token: "warm-token", ExpiresAt: time.Now().UTC().Add(time.Hour)}); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	var fetches atomic.Int32
	provider := core.NewTokenProvider(core.TokenFetcherFunc(func(context.Context) (core.Token, error) {
		fetches.Add(1)
		return core.Token{Value: "fetched", ExpiresAt: time.Now().UTC().Add(time.Hour)}, nil
	}), core.WithTokenStore(store, "dida365"))

	token, ok := core.DataAs[core.Token](provider.GetToken(ctx))
	if !ok || token.Value != "warm-token" || fetches.Load() != 0 {
		t.Fatalf("expected stored token without fetch, fetches=%d", fetches.Load())
	}
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), core.TokenStoreConfig{Driver: "mongo", DSN: "x"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if _, err := Open(context.Background(), core.TokenStoreConfig{Driver: core.TokenStoreSQLite}); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}

func TestCachedTokenStore_ReadThroughAndInvalidate(t *testing.T) {
	base := openTestTokenStore(t)
	counting := &countingTokenStore{base: base}
	store, err := NewCachedTokenStore(counting, newTestRateLimitCacheService(t))
	if err != nil {
		t.Fatalf("new cached token store: %v", err)
	}
	ctx := context.Background()
	expires := time.Now().UTC().Add(time.Hour)

	if err := store.Save(ctx, "netbox", core.TokenRecord{Token: "v1", ExpiresAt: expires}); err != nil {
		t.Fatalf("save v1: %v", err)
	}
	for i := 0; i < 2; i++ {
		record, err := store.Load(ctx, "netbox")
		if err != nil || record.Token != "v1" {
			t.Fatalf("load v1: %v", err)
		}
	}
	if counting.loads.Load() != 1 {
		t.Fatalf("expected cached reads, base loads=%d", counting.loads.Load())
	}

	if err := store.Save(ctx, "netbox", core.TokenRecord{Token: "v2", ExpiresAt: expires}); err != nil {
		t.Fatalf("save v2: %v", err)
	}
	record, err := store.Load(ctx, "netbox")
	if err != nil || record.Token != "v2" {
		t.Fatalf("expected invalidated cache to return v2, err=%v", err)
	}
	if counting.loads.Load() != 2 {
		t.Fatalf("expected one extra base load after save, got %d", counting.loads.Load())
	}
}

func TestTokenCacheKey(t *testing.T) {
	if got := TokenCacheKey(" feishu/app "); got != "go-outbound::token::v1::feishu%2Fapp" {
		t.Fatalf("unexpected token cache key %q", got)
	}
	if got := TokenCacheKey(""); got != "go-outbound::token::v1::default" {
		t.Fatalf("unexpected default token cache key %q", got)
	}
}

func TestRateLimitStateStore_UpsertAndGet(t *testing.T) {
	tokens := openTestTokenStore(t)
	store, err := NewRateLimitStateStore(tokens.db)
	if err != nil {
		t.Fatalf("new rate-limit state store: %v", err)
	}
	ctx := context.Background()
	key := core.RateLimitKey{Service: " Feishu ", Target: "/open-apis/im/v1/messages"}

	if _, err := store.Get(ctx, key); !errors.Is(err, ratelimit.ErrStateNotFound) {
		t.Fatalf("expected state not found, got %v", err)
	}

	resetAt := time.Now().UTC().Add(30 * time.Second).Truncate(time.Second)
	retryAfter := 12 * time.Second
	throttled := time.Now().UTC().Add(12 * time.Second).Truncate(time.Millisecond)
	if err := store.Upsert(ctx, ratelimit.State{
		Key:            key,
		Limit:          50,
		Remaining:      0,
		ResetAt:        &resetAt,
		RetryAfter:     &retryAfter,
		ThrottledUntil: &throttled,
		LastStatus:     429,
		Attempts:       2,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	throttledState, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get throttled state: %v", err)
	}
	if throttledState.Attempts != 2 || throttledState.LastStatus != 429 {
		t.Fatalf("unexpected throttle counters %+v", throttledState)
	}
	if throttledState.RetryAfter == nil || *throttledState.RetryAfter != retryAfter {
		t.Fatalf("expected retry after %s, got %v", retryAfter, throttledState.RetryAfter)
	}
	if throttledState.ThrottledUntil == nil || !throttledState.ThrottledUntil.Equal(throttled) {
		t.Fatalf("expected throttled until %s, got %v", throttled, throttledState.ThrottledUntil)
	}

	if err := store.Upsert(ctx, ratelimit.State{Key: key, Limit: 50, Remaining: 3, LastStatus: 200}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	state, err := store.Get(ctx, core.RateLimitKey{Service: "feishu", Target: "/open-apis/im/v1/messages"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.Key.Service != "feishu" || state.Remaining != 3 || state.LastStatus != 200 {
		t.Fatalf("unexpected state %+v", state)
	}
	if state.ThrottledUntil != nil || state.RetryAfter != nil {
		t.Fatalf("expected cleared throttle fields after recovery")
	}

	rows, err := tokens.db.NewSelect().Model((*rateLimitStateRecord)(nil)).Count(ctx)
	if err != nil || rows != 1 {
		t.Fatalf("expected one row per key, got %d (%v)", rows, err)
	}
}

func TestRateLimitStateStore_BacksAdaptivePolicy(t *testing.T) {
	tokens := openTestTokenStore(t)
	store, err := NewRateLimitStateStore(tokens.db)
	if err != nil {
		t.Fatalf("new rate-limit state store: %v", err)
	}
	policy := ratelimit.NewAdaptivePolicy(store)
	key := core.RateLimitKey{Service: "dida365", Target: "/open/v1/task"}
	ctx := context.Background()

	if err := policy.BeforeCall(ctx, key); err != nil {
		t.Fatalf("before call: %v", err)
	}
	if err := policy.AfterCall(ctx, key, core.ResponseMeta{StatusCode: 429}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	if err := policy.BeforeCall(ctx, key); err == nil {
		t.Fatalf("expected persisted throttle to block the next call")
	}
	if _, err := store.Get(ctx, key); err != nil {
		t.Fatalf("expected persisted state: %v", err)
	}
}

func TestRateLimitStateStore_ValidatesKey(t *testing.T) {
	tokens := openTestTokenStore(t)
	store, err := NewRateLimitStateStore(tokens.db)
	if err != nil {
		t.Fatalf("new rate-limit state store: %v", err)
	}
	if err := store.Upsert(context.Background(), ratelimit.State{Key: core.RateLimitKey{Service: "feishu"}}); err == nil {
		t.Fatalf("expected missing target error")
	}
	if _, err := NewRateLimitStateStore(nil); err == nil {
		t.Fatalf("expected nil db error")
	}
}

type countingTokenStore struct {
	base  core.TokenStore
	loads atomic.Int32
}

func (s *countingTokenStore) Load(ctx context.Context, key string) (core.TokenRecord, error) {
	s.loads.Add(1)
	return s.base.Load(ctx, key)
}

func (s *countingTokenStore) Save(ctx context.Context, key string, record core.TokenRecord) error {
	return s.base.Save(ctx, key, record)
}
