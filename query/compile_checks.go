package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/ratelimit"
)

var (
	_ gocmd.Querier[TokenStatusMessage, core.TokenStatus]   = (*TokenStatusQuery)(nil)
	_ gocmd.Querier[RateLimitStateMessage, ratelimit.State] = (*RateLimitStateQuery)(nil)
	_ TokenStatusSource                                     = (*core.TokenProvider)(nil)
	_ RateLimitStateReader                                  = (*ratelimit.MemoryStateStore)(nil)
)
