package command

import "strings"

const (
	TypeRefreshToken      = "outbound.command.token.refresh"
	TypeForgetIdempotency = "outbound.command.idempotency.forget"
)

// RefreshTokenMessage forces a token refresh. StaleFingerprint is the
// core.TokenFingerprint of the token the caller saw rejected; when set and
// the provider already rotated past it, no fetch happens. A raw token given
// here is fingerprinted before use.
type RefreshTokenMessage struct {
	StaleFingerprint string
}

func (RefreshTokenMessage) Type() string { return TypeRefreshToken }

func (RefreshTokenMessage) Validate() error { return nil }

type ForgetIdempotencyMessage struct {
	Key string
}

func (ForgetIdempotencyMessage) Type() string { return TypeForgetIdempotency }

func (m ForgetIdempotencyMessage) Validate() error {
	if strings.TrimSpace(m.Key) == "" {
		return commandValidationError("key", "idempotency key is required")
	}
	return nil
}
