package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/transport"
)

func newTestExecutor(server *httptest.Server) *core.Executor {
	return core.NewExecutor(
		transport.NewRESTAdapter(server.Client()),
		core.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
}

func TestAppCredentialsFetcher_ExchangesCredentials(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("token exchange must not carry a managed credential")
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["app_id"] != "cli_app" || body["app_secret"] != "app-secret-123" {
			t.Errorf("unexpected credentials %v", body)
		}
		_, _ = w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"t-abc","expire":7200}`))
	}))
	defer server.Close()

	fetcher := NewAppCredentialsFetcher(newTestExecutor(server), server.URL+"/auth/v3/tenant_access_token/internal", "cli_app", "app-secret-123")
	fetcher.config.Now = func() time.Time { return now }

	token, err := fetcher.FetchToken(context.Background())
	if err != nil {
		t.Fatalf("fetch token: %v", err)
	}
	if token.Value != "t-abc" {
		t.Fatalf("unexpected token value")
	}
	if !token.ExpiresAt.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("expected expiry from expire field, got %s", token.ExpiresAt)
	}
}

func TestEndpointFetcher_BusinessErrorIsAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":10014,"msg":"app secret invalid"}`))
	}))
	defer server.Close()

	fetcher := NewAppCredentialsFetcher(newTestExecutor(server), server.URL, "cli_app", "wrong-secret")
	_, err := fetcher.FetchToken(context.Background())
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors value, got %v", err)
	}
	if rich.Category != goerrors.CategoryAuth || !strings.Contains(rich.Message, "app secret invalid") {
		t.Fatalf("unexpected error %q/%q", rich.Category, rich.Message)
	}
}

func TestEndpointFetcher_RetriesTransientEndpointFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"generic","expires_in":"60"}`))
	}))
	defer server.Close()

	fetcher := NewEndpointFetcher(newTestExecutor(server), EndpointFetcherConfig{
		URL:         server.URL,
		Credentials: map[string]string{"client_id": "c", "client_secret": "s3cret"},
	})
	token, err := fetcher.FetchToken(context.Background())
	if err != nil {
		t.Fatalf("fetch token: %v", err)
	}
	if token.Value != "generic" || calls.Load() != 2 {
		t.Fatalf("expected retried exchange, got %q after %d calls", token.Value, calls.Load())
	}
	if remaining := time.Until(token.ExpiresAt); remaining > time.Minute || remaining < 50*time.Second {
		t.Fatalf("expected ~60s lifetime from string field, got %s", remaining)
	}
}

func TestEndpointFetcher_ValidatesConfiguration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Errorf("no request expected")
	}))
	defer server.Close()

	fetcher := NewAppCredentialsFetcher(newTestExecutor(server), server.URL, "cli_app", " ")
	if _, err := fetcher.FetchToken(context.Background()); err == nil || !strings.Contains(err.Error(), "app_secret") {
		t.Fatalf("expected missing credential error, got %v", err)
	}
	if _, err := NewEndpointFetcher(newTestExecutor(server), EndpointFetcherConfig{}).FetchToken(context.Background()); err == nil {
		t.Fatalf("expected missing url error")
	}
	var nilFetcher *EndpointFetcher
	if _, err := nilFetcher.FetchToken(context.Background()); err == nil {
		t.Fatalf("expected nil fetcher error")
	}
}

func TestEndpointFetcher_MissingTokenField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"msg":"ok"}`))
	}))
	defer server.Close()

	fetcher := NewAppCredentialsFetcher(newTestExecutor(server), server.URL, "cli_app", "secret-value")
	if _, err := fetcher.FetchToken(context.Background()); err == nil || !strings.Contains(err.Error(), "tenant_access_token") {
		t.Fatalf("expected missing token field error, got %v", err)
	}
	secrets := fetcher.Secrets()
	if len(secrets) != 2 {
		t.Fatalf("expected both credential values as secrets, got %d", len(secrets))
	}
}

func TestEndpointFetcher_FeedsTokenProvider(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"code":0,"tenant_access_token":"t-provider","expire":7200}`))
	}))
	defer server.Close()

	provider := core.NewTokenProvider(NewAppCredentialsFetcher(newTestExecutor(server), server.URL, "a", "secret-b"))
	for i := 0; i < 3; i++ {
		env := provider.GetToken(context.Background())
		if !env.OK() {
			t.Fatalf("expected token, got %+v", env)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one exchange for a fresh token, got %d", calls.Load())
	}
}

func TestStaticFetcher(t *testing.T) {
	token, err := NewStaticFetcher(" static-api-token ", 0).FetchToken(context.Background())
	if err != nil {
		t.Fatalf("fetch static token: %v", err)
	}
	if token.Value != "static-api-token" {
		t.Fatalf("expected trimmed token")
	}
	if time.Until(token.ExpiresAt) < 23*time.Hour {
		t.Fatalf("expected default 24h lifetime, got %s", time.Until(token.ExpiresAt))
	}
	if _, err := NewStaticFetcher("", time.Hour).FetchToken(context.Background()); err == nil {
		t.Fatalf("expected empty token error")
	}
}
