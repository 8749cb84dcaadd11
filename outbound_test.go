package outbound

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/security"
	sqlstore "github.com/goliatone/go-outbound/store/sql"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

func staticFetcher(value string) TokenFetcher {
	return TokenFetcherFunc(func(context.Context) (Token, error) {
		return Token{Value: value, ExpiresAt: time.Now().UTC().Add(time.Hour)}, nil
	})
}

func TestNewClient_UsesDefaultRESTTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer facade-token" {
			t.Errorf("expected managed credential, got %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{ServiceName: "facade", BaseURL: server.URL}, WithTokenFetcher(staticFetcher("facade-token")))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	env := client.Execute(context.Background(), RequestSpec{Target: "/status"})
	if !env.OK() {
		t.Fatalf("expected success, got %+v", env)
	}
	response, _ := core.DataAs[Response](env)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", response.StatusCode)
	}
}

func TestNewClient_FileTokenStoreDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	cfg := Config{ServiceName: "feishu"}
	cfg.Token.Store = TokenStoreConfig{Driver: core.TokenStoreFile, Path: path}

	client, err := NewClient(cfg, WithTokenFetcher(staticFetcher("file-token")))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if env := client.GetToken(context.Background()); !env.OK() {
		t.Fatalf("expected token, got %+v", env)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected token file to be written: %v", err)
	}
}

func TestNewClient_SQLiteTokenStoreDriver(t *testing.T) {
	cfg := Config{ServiceName: "dida365"}
	cfg.Token.Store = TokenStoreConfig{
		Driver: core.TokenStoreSQLite,
		DSN:    fmt.Sprintf("file:outbound-facade-%d?mode=memory&cache=shared", time.Now().UnixNano()),
	}
	var fetches atomic.Int32
	fetcher := TokenFetcherFunc(func(context.Context) (Token, error) {
		fetches.Add(1)
		return Token{Value: "sqlite-token", ExpiresAt: time.Now().UTC().Add(time.Hour)}, nil
	})

	client, err := NewClient(cfg, WithTokenFetcher(fetcher))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer func() { _ = client.Close() }()
	if env := client.GetToken(context.Background()); !env.OK() {
		t.Fatalf("expected token, got %+v", env)
	}
	if fetches.Load() != 1 {
		t.Fatalf("expected a single fetch, got %d", fetches.Load())
	}
}

func TestNewTokenStoreFactory_WrapsSQLStoresInCache(t *testing.T) {
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	cacheService, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	factory := NewTokenStoreFactory(WithStoreCache(cacheService))
	store, err := factory(context.Background(), TokenStoreConfig{
		Driver: core.TokenStoreSQLite,
		DSN:    fmt.Sprintf("file:outbound-cached-%d?mode=memory&cache=shared", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("build store: %v", err)
	}
	cached, ok := store.(*sqlstore.CachedTokenStore)
	if !ok {
		t.Fatalf("expected cached store, got %T", store)
	}
	defer func() { _ = cached.Close() }()

	if _, err := factory(context.Background(), TokenStoreConfig{Driver: "redis"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestNewTokenStoreFactory_SealsTokensAtRest(t *testing.T) {
	cipher, err := security.NewAppKeyCipherFromString("factory-sealing-key")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	path := filepath.Join(t.TempDir(), "tokens.json")
	factory := NewTokenStoreFactory(WithStoreCipher(cipher))
	store, err := factory(context.Background(), TokenStoreConfig{Driver: core.TokenStoreFile, Path: path})
	if err != nil {
		t.Fatalf("build store: %v", err)
	}
	if _, ok := store.(*security.SealedTokenStore); !ok {
		t.Fatalf("expected sealed store, got %T", store)
	}

	record := TokenRecord{Token: "sealed-at-rest-token", ExpiresAt: time.Now().UTC().Add(time.Hour)}
	if err := store.Save(context.Background(), "feishu", record); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store file: %v", err)
	}
	if strings.Contains(string(raw), "sealed-at-rest-token") {
		t.Fatalf("expected token to be sealed on disk")
	}
	loaded, err := store.Load(context.Background(), "feishu")
	if err != nil || loaded.Token != "sealed-at-rest-token" {
		t.Fatalf("expected unsealed token, got %v", err)
	}
}
