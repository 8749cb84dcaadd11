package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-outbound/core"
)

var (
	_ gocmd.Commander[RefreshTokenMessage]      = (*RefreshTokenCommand)(nil)
	_ gocmd.Commander[ForgetIdempotencyMessage] = (*ForgetIdempotencyCommand)(nil)
	_ TokenSource                               = (*core.TokenProvider)(nil)
	_ IdempotencyForgetter                      = (*core.IdempotencyCache)(nil)
)
