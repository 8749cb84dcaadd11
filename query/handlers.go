package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/ratelimit"
)

type TokenStatusSource interface {
	Status() core.TokenStatus
}

type RateLimitStateReader interface {
	Get(ctx context.Context, key core.RateLimitKey) (ratelimit.State, error)
}

type TokenStatusQuery struct {
	tokens TokenStatusSource
}

func NewTokenStatusQuery(tokens TokenStatusSource) *TokenStatusQuery {
	return &TokenStatusQuery{tokens: tokens}
}

func (q *TokenStatusQuery) Query(_ context.Context, _ TokenStatusMessage) (core.TokenStatus, error) {
	if q == nil || q.tokens == nil {
		return core.TokenStatus{}, queryDependencyError("query: token provider is required")
	}
	return q.tokens.Status(), nil
}

type RateLimitStateQuery struct {
	reader RateLimitStateReader
}

func NewRateLimitStateQuery(reader RateLimitStateReader) *RateLimitStateQuery {
	return &RateLimitStateQuery{reader: reader}
}

func (q *RateLimitStateQuery) Query(ctx context.Context, msg RateLimitStateMessage) (ratelimit.State, error) {
	if q == nil || q.reader == nil {
		return ratelimit.State{}, queryDependencyError("query: rate limit state reader is required")
	}
	if err := msg.Validate(); err != nil {
		return ratelimit.State{}, err
	}
	return q.reader.Get(ctx, core.RateLimitKey{
		Service: strings.TrimSpace(msg.Service),
		Target:  strings.TrimSpace(msg.Target),
	})
}
