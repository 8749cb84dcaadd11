package query

import "strings"

const (
	TypeTokenStatus    = "outbound.query.token.status"
	TypeRateLimitState = "outbound.query.rate_limit.state"
)

type TokenStatusMessage struct{}

func (TokenStatusMessage) Type() string { return TypeTokenStatus }

// RateLimitStateMessage reads the adaptive throttle state recorded for one
// service target. Target may be empty for service-wide state.
type RateLimitStateMessage struct {
	Service string
	Target  string
}

func (RateLimitStateMessage) Type() string { return TypeRateLimitState }

func (m RateLimitStateMessage) Validate() error {
	if strings.TrimSpace(m.Service) == "" {
		return queryValidationError("service", "service is required")
	}
	return nil
}
