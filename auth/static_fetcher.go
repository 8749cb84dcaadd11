package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outbound/core"
)

const defaultStaticTTL = 24 * time.Hour

// StaticFetcher hands out a long-lived API token. The TTL only controls how
// often the provider re-reads it.
type StaticFetcher struct {
	token string
	ttl   time.Duration
	now   func() time.Time
}

func NewStaticFetcher(token string, ttl time.Duration) *StaticFetcher {
	if ttl <= 0 {
		ttl = defaultStaticTTL
	}
	return &StaticFetcher{
		token: strings.TrimSpace(token),
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (f *StaticFetcher) FetchToken(context.Context) (core.Token, error) {
	if f == nil || f.token == "" {
		return core.Token{}, goerrors.New("auth: static token is required", goerrors.CategoryBadInput).
			WithTextCode(core.OutboundErrorTokenUnavailable)
	}
	return core.Token{Value: f.token, ExpiresAt: f.now().Add(f.ttl)}, nil
}

var _ core.TokenFetcher = (*StaticFetcher)(nil)
