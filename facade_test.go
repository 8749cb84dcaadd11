package outbound

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	"github.com/goliatone/go-outbound/adapters/gocommand"
	outboundcommand "github.com/goliatone/go-outbound/command"
	"github.com/goliatone/go-outbound/core"
	outboundquery "github.com/goliatone/go-outbound/query"
	"github.com/goliatone/go-outbound/ratelimit"
)

type noopTransport struct{}

func (noopTransport) Kind() string { return "noop" }

func (noopTransport) Do(context.Context, core.TransportRequest) (core.TransportResponse, error) {
	return core.TransportResponse{StatusCode: 200}, nil
}

func newFacadeClient(t *testing.T, withTokens bool) *Client {
	t.Helper()
	opts := []Option{WithTransport(noopTransport{})}
	if withTokens {
		opts = append(opts, WithTokenFetcher(staticFetcher("facade-token")))
	}
	client, err := NewClient(Config{ServiceName: "facade"}, opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	facade, err := NewFacade(newFacadeClient(t, true))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	if facade.Commands().RefreshToken == nil || facade.Commands().ForgetIdempotency == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	if facade.Queries().TokenStatus == nil {
		t.Fatalf("expected token status query to be wired")
	}

	if err := facade.Commands().RefreshToken.Execute(context.Background(), outboundcommand.RefreshTokenMessage{}); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	status, err := facade.Queries().TokenStatus.Query(context.Background(), outboundquery.TokenStatusMessage{})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Available || status.ExpiresAt.Before(time.Now()) {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestNewFacade_WithoutTokenFetcher(t *testing.T) {
	facade, err := NewFacade(newFacadeClient(t, false))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	if facade.Commands().RefreshToken != nil || facade.Queries().TokenStatus != nil || facade.Queries().RateLimitState != nil {
		t.Fatalf("expected no token handlers without a fetcher")
	}
	if facade.Commands().ForgetIdempotency == nil {
		t.Fatalf("expected forget handler")
	}
	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected nil client error")
	}
}

func TestFacade_RegisterDispatchesForget(t *testing.T) {
	client := newFacadeClient(t, true)
	key := BuildIdempotencyKey("facade.write", "a")
	client.Execute(context.Background(), RequestSpec{Method: "POST", Target: "https://example.test/write", IdempotencyKey: key})
	if _, ok := client.Idempotency().Lookup(key); !ok {
		t.Fatalf("expected cached write")
	}

	facade, err := NewFacade(client)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	subscriptions, err := facade.Register(gocommand.NewRegistryAdapter(command.NewRegistry()))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer func() {
		for _, sub := range subscriptions {
			sub.Unsubscribe()
		}
	}()

	if err := gocommand.Dispatch(context.Background(), outboundcommand.ForgetIdempotencyMessage{Key: key}); err != nil {
		t.Fatalf("dispatch forget: %v", err)
	}
	if _, ok := client.Idempotency().Lookup(key); ok {
		t.Fatalf("expected dispatched forget to drop the entry")
	}
}

func TestNewFacade_ExposesRateLimitState(t *testing.T) {
	states := ratelimit.NewMemoryStateStore()
	client := newFacadeClient(t, false)
	facade, err := NewFacade(client, WithRateLimitStates(states))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	if facade.Queries().RateLimitState == nil {
		t.Fatalf("expected rate limit state query")
	}
	if err := states.Upsert(context.Background(), ratelimit.State{
		Key:        core.RateLimitKey{Service: "facade", Target: "/write"},
		LastStatus: 429,
	}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	subscriptions, err := facade.Register(gocommand.NewRegistryAdapter(command.NewRegistry()))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer func() {
		for _, sub := range subscriptions {
			sub.Unsubscribe()
		}
	}()
	state, err := gocommand.Query[outboundquery.RateLimitStateMessage, ratelimit.State](context.Background(), outboundquery.RateLimitStateMessage{
		Service: "facade",
		Target:  "/write",
	})
	if err != nil || state.LastStatus != 429 {
		t.Fatalf("expected dispatched state query, got %#v (%v)", state, err)
	}
}
