package core

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureTransient   FailureKind = "transient"
	FailurePermanent   FailureKind = "permanent"
	FailureAuthExpired FailureKind = "auth_expired"
	FailureParse       FailureKind = "parse_failure"
)

func (k FailureKind) String() string {
	if k == FailureNone {
		return "success"
	}
	return string(k)
}

// Outcome is the classification of one attempt. Code and Message are
// optional overrides for the failure envelope, used by provider classifiers
// that surface business error codes.
type Outcome struct {
	Kind    FailureKind
	Code    int
	Message string
}

func (o Outcome) Success() bool {
	return o.Kind == FailureNone
}

// ResponseClassifier inspects a decoded response. It returns false when it has
// no opinion, in which case the next classifier (and finally the status code
// rules) decides.
type ResponseClassifier func(statusCode int, body any) (Outcome, bool)

// ChainClassifiers evaluates classifiers in order and returns the first
// decision.
func ChainClassifiers(classifiers ...ResponseClassifier) ResponseClassifier {
	return func(statusCode int, body any) (Outcome, bool) {
		for _, classifier := range classifiers {
			if classifier == nil {
				continue
			}
			if outcome, ok := classifier(statusCode, body); ok {
				return outcome, true
			}
		}
		return Outcome{}, false
	}
}

// ClassifyStatus maps an HTTP status code onto a failure kind.
func ClassifyStatus(statusCode int) Outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return Outcome{Kind: FailureNone}
	case statusCode == http.StatusUnauthorized:
		return Outcome{Kind: FailureAuthExpired, Message: "credential rejected"}
	case statusCode == http.StatusTooManyRequests:
		return Outcome{Kind: FailureTransient, Message: "rate limited"}
	case statusCode == http.StatusRequestTimeout:
		return Outcome{Kind: FailureTransient, Message: "request timed out"}
	case statusCode >= 500:
		return Outcome{Kind: FailureTransient, Message: "server error"}
	case statusCode == http.StatusForbidden:
		return Outcome{Kind: FailurePermanent, Message: "forbidden"}
	case statusCode == http.StatusBadRequest:
		return Outcome{Kind: FailurePermanent, Message: "malformed request"}
	default:
		return Outcome{Kind: FailurePermanent, Message: "request rejected"}
	}
}

// ClassifyTransportError maps an error returned by a TransportAdapter. Only
// timeouts and connection failures are transient.
func ClassifyTransportError(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		switch strings.TrimSpace(rich.TextCode) {
		case OutboundErrorTimeout, OutboundErrorConnectionFailed, OutboundErrorRateLimited:
			return FailureTransient
		case OutboundErrorResponseTooLarge, OutboundErrorBadInput:
			return FailurePermanent
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}
	if errors.Is(err, context.Canceled) {
		return FailurePermanent
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FailureTransient
	}
	if rich != nil && rich.Category == goerrors.CategoryExternal {
		return FailureTransient
	}
	return FailurePermanent
}

func transportFailureMessage(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		switch rich.TextCode {
		case OutboundErrorTimeout:
			return "request timed out"
		case OutboundErrorConnectionFailed:
			return "connection failed"
		case OutboundErrorRateLimited:
			return "throttled before send"
		case OutboundErrorResponseTooLarge:
			return "response body too large"
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	return "transport failure"
}
