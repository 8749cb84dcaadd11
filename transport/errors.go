package transport

import (
	"context"
	"errors"
	"net"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outbound/core"
)

func transportError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category, textCode))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	if source == nil {
		return transportError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(transportTextCode(category, textCode))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// sendError classifies a failed round trip. Deadline hits become timeouts,
// everything else is a connection failure.
func sendError(source error, metadata map[string]any) error {
	if isTimeout(source) {
		return transportWrapError(
			source,
			goerrors.CategoryExternal,
			"transport: request timed out",
			http.StatusGatewayTimeout,
			core.OutboundErrorTimeout,
			metadata,
		)
	}
	return transportWrapError(
		source,
		goerrors.CategoryExternal,
		"transport: execute http request",
		http.StatusBadGateway,
		core.OutboundErrorConnectionFailed,
		metadata,
	)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func transportTextCode(category goerrors.Category, textCode string) string {
	if textCode != "" {
		return textCode
	}
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.OutboundErrorBadInput
	case goerrors.CategoryAuth:
		return core.OutboundErrorUnauthorized
	case goerrors.CategoryAuthz:
		return core.OutboundErrorForbidden
	case goerrors.CategoryRateLimit:
		return core.OutboundErrorRateLimited
	case goerrors.CategoryOperation:
		return core.OutboundErrorOperationFailed
	case goerrors.CategoryExternal:
		return core.OutboundErrorExternalFailure
	default:
		return core.OutboundErrorInternal
	}
}
