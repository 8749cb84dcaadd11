package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	OutboundErrorBadInput          = "OUTBOUND_BAD_INPUT"
	OutboundErrorTimeout           = "OUTBOUND_TIMEOUT"
	OutboundErrorConnectionFailed  = "OUTBOUND_CONNECTION_FAILED"
	OutboundErrorResponseTooLarge  = "OUTBOUND_RESPONSE_TOO_LARGE"
	OutboundErrorRateLimited       = "OUTBOUND_RATE_LIMITED"
	OutboundErrorRetriesExhausted  = "OUTBOUND_RETRIES_EXHAUSTED"
	OutboundErrorRejected          = "OUTBOUND_REJECTED"
	OutboundErrorAuthExpired       = "OUTBOUND_AUTH_EXPIRED"
	OutboundErrorParseFailure      = "OUTBOUND_PARSE_FAILURE"
	OutboundErrorTokenUnavailable  = "OUTBOUND_TOKEN_UNAVAILABLE"
	OutboundErrorNoData            = "OUTBOUND_NO_DATA"
	OutboundErrorProvider          = "OUTBOUND_PROVIDER_ERROR"
	OutboundErrorExternalFailure   = "OUTBOUND_EXTERNAL_FAILURE"
	OutboundErrorUnauthorized      = "OUTBOUND_UNAUTHORIZED"
	OutboundErrorForbidden         = "OUTBOUND_FORBIDDEN"
	OutboundErrorOperationFailed   = "OUTBOUND_OPERATION_FAILED"
	OutboundErrorInternal          = "OUTBOUND_INTERNAL_ERROR"
	OutboundErrorConfigInvalid     = "OUTBOUND_CONFIG_INVALID"
	OutboundErrorTokenStoreFailure = "OUTBOUND_TOKEN_STORE_FAILURE"
	OutboundErrorStateStoreFailure = "OUTBOUND_STATE_STORE_FAILURE"
)

var ErrTokenNotFound = errors.New("core: token record not found")

func outboundErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureOutboundErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newOutboundError(err.Error(), goerrors.CategoryExternal, OutboundErrorTimeout)
	case errors.Is(err, ErrTokenNotFound):
		return newOutboundError(err.Error(), goerrors.CategoryNotFound, OutboundErrorNoData)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newOutboundError(err.Error(), goerrors.CategoryRateLimit, OutboundErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "must be"):
		return newOutboundError(err.Error(), goerrors.CategoryBadInput, OutboundErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureOutboundErrorEnvelope(mapped)
}

func newOutboundError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureOutboundErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureOutboundErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = outboundHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultOutboundTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultOutboundTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return OutboundErrorBadInput
	case goerrors.CategoryNotFound:
		return OutboundErrorNoData
	case goerrors.CategoryAuth:
		return OutboundErrorUnauthorized
	case goerrors.CategoryAuthz:
		return OutboundErrorForbidden
	case goerrors.CategoryRateLimit:
		return OutboundErrorRateLimited
	case goerrors.CategoryOperation:
		return OutboundErrorOperationFailed
	case goerrors.CategoryExternal:
		return OutboundErrorExternalFailure
	default:
		return OutboundErrorInternal
	}
}

func outboundHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// EnvelopeFromError converts an error raised on an external-IO path into a
// failure envelope. The message is scrubbed of every secret passed in.
func EnvelopeFromError(err error, code int, secrets ...string) Envelope {
	if err == nil {
		return Failure(code, "", nil)
	}
	mapped := outboundErrorMapper(err)
	message := err.Error()
	if mapped != nil && strings.TrimSpace(mapped.Message) != "" {
		message = mapped.Message
	}
	return Failure(code, RedactSecrets(message, secrets...), nil)
}

// MapError exposes the default mapper so adapters can normalize errors the
// same way the core does.
func MapError(err error) *goerrors.Error {
	return outboundErrorMapper(err)
}
