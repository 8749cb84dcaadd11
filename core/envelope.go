package core

import (
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Envelope codes. Zero is success; the space is open so provider business
// codes may pass through unchanged.
const (
	CodeOK                 = 0
	CodeBadRequest         = 1001
	CodeTransientExhausted = 2001
	CodePermanent          = 2002
	CodeAuthExpired        = 2003
	CodeParseFailure       = 2004
	CodeTokenUnavailable   = 2005
	CodeInternal           = 4001
	CodeNoData             = 5001
)

const (
	messageSuccess = "success"
	messageFailure = "failure"
)

// Envelope is the single result shape returned by every external-IO
// operation in this module.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Response is the success payload produced by the executor.
type Response struct {
	StatusCode int `json:"status_code"`
	Body       any `json:"body,omitempty"`
}

// FailureDetail is the failure payload produced by the executor.
type FailureDetail struct {
	Kind       FailureKind `json:"kind"`
	StatusCode int         `json:"status_code,omitempty"`
	Attempts   int         `json:"attempts"`
	Target     string      `json:"target,omitempty"`
	Body       any         `json:"body,omitempty"`
}

func Success(data any) Envelope {
	return Envelope{Code: CodeOK, Message: messageSuccess, Data: data}
}

// Failure builds a failure envelope. A zero code is promoted to CodeInternal
// so a failure can never be mistaken for success.
func Failure(code int, message string, data any) Envelope {
	if code == CodeOK {
		code = CodeInternal
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = messageFailure
	}
	return Envelope{Code: code, Message: message, Data: data}
}

func (e Envelope) OK() bool {
	return e.Code == CodeOK
}

// Err bridges a failure envelope back into a go-errors value. It returns nil
// for success.
func (e Envelope) Err() error {
	if e.OK() {
		return nil
	}
	category := envelopeCategory(e.Code)
	metadata := map[string]any{"envelope_code": e.Code}
	if detail, ok := DataAs[FailureDetail](e); ok {
		metadata["failure_kind"] = string(detail.Kind)
		metadata["attempts"] = detail.Attempts
		if detail.StatusCode > 0 {
			metadata["status_code"] = detail.StatusCode
		}
		if detail.Target != "" {
			metadata["target"] = detail.Target
		}
	}
	return goerrors.New(e.Message, category).
		WithCode(outboundHTTPStatus(category)).
		WithTextCode(envelopeTextCode(e.Code)).
		WithMetadata(metadata)
}

func (e Envelope) String() string {
	return fmt.Sprintf("envelope{code=%d message=%q}", e.Code, e.Message)
}

// DataAs returns the envelope payload as T. Pointer payloads are dereferenced.
func DataAs[T any](env Envelope) (T, bool) {
	var zero T
	switch typed := env.Data.(type) {
	case T:
		return typed, true
	case *T:
		if typed == nil {
			return zero, false
		}
		return *typed, true
	default:
		return zero, false
	}
}

func envelopeCategory(code int) goerrors.Category {
	switch code {
	case CodeBadRequest:
		return goerrors.CategoryBadInput
	case CodeTransientExhausted, CodePermanent, CodeParseFailure:
		return goerrors.CategoryExternal
	case CodeAuthExpired, CodeTokenUnavailable:
		return goerrors.CategoryAuth
	case CodeNoData:
		return goerrors.CategoryNotFound
	case CodeInternal:
		return goerrors.CategoryInternal
	default:
		return goerrors.CategoryExternal
	}
}

func envelopeTextCode(code int) string {
	switch code {
	case CodeBadRequest:
		return OutboundErrorBadInput
	case CodeTransientExhausted:
		return OutboundErrorRetriesExhausted
	case CodePermanent:
		return OutboundErrorRejected
	case CodeAuthExpired:
		return OutboundErrorAuthExpired
	case CodeParseFailure:
		return OutboundErrorParseFailure
	case CodeTokenUnavailable:
		return OutboundErrorTokenUnavailable
	case CodeNoData:
		return OutboundErrorNoData
	case CodeInternal:
		return OutboundErrorInternal
	default:
		return OutboundErrorProvider
	}
}
