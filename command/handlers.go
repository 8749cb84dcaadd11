package command

import (
	"context"
	"strings"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-outbound/core"
)

// TokenSource is the slice of the token provider the refresh command needs.
type TokenSource interface {
	ForceRefresh(ctx context.Context, stale string) core.Envelope
}

type IdempotencyForgetter interface {
	Forget(key string) bool
}

// ForgetResult reports whether a cached result was dropped.
type ForgetResult struct {
	Key       string
	Forgotten bool
}

type RefreshTokenCommand struct {
	tokens TokenSource
}

func NewRefreshTokenCommand(tokens TokenSource) *RefreshTokenCommand {
	return &RefreshTokenCommand{tokens: tokens}
}

func (c *RefreshTokenCommand) Execute(ctx context.Context, msg RefreshTokenMessage) error {
	if c == nil || c.tokens == nil {
		return commandDependencyError("command: token provider is required")
	}
	env := c.tokens.ForceRefresh(ctx, core.TokenFingerprint(msg.StaleFingerprint))
	if !env.OK() {
		return env.Err()
	}
	status := core.TokenStatus{}
	if token, ok := core.DataAs[core.Token](env); ok {
		status = core.TokenStatus{
			Available:   true,
			ExpiresAt:   token.ExpiresAt,
			Fingerprint: core.TokenFingerprint(token.Value),
		}
	}
	storeResult(ctx, status)
	return nil
}

type ForgetIdempotencyCommand struct {
	cache IdempotencyForgetter
}

func NewForgetIdempotencyCommand(cache IdempotencyForgetter) *ForgetIdempotencyCommand {
	return &ForgetIdempotencyCommand{cache: cache}
}

func (c *ForgetIdempotencyCommand) Execute(ctx context.Context, msg ForgetIdempotencyMessage) error {
	if c == nil || c.cache == nil {
		return commandDependencyError("command: idempotency cache is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	key := strings.TrimSpace(msg.Key)
	storeResult(ctx, ForgetResult{Key: key, Forgotten: c.cache.Forget(key)})
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
