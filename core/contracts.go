package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Metadata             map[string]any
	Timeout              time.Duration
	MaxResponseBodyBytes int64
	Idempotency          string
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

// TransportAdapter performs exactly one HTTP-shaped exchange per call. Errors
// are reserved for exchanges that produced no status code.
type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

// CredentialSource supplies the bearer credential attached to authenticated
// requests. Both methods answer with an Envelope whose data is a Token.
type CredentialSource interface {
	GetToken(ctx context.Context) Envelope
	ForceRefresh(ctx context.Context, stale string) Envelope
}

// TokenFetcher performs the remote token acquisition call.
type TokenFetcher interface {
	FetchToken(ctx context.Context) (Token, error)
}

type TokenFetcherFunc func(ctx context.Context) (Token, error)

func (fn TokenFetcherFunc) FetchToken(ctx context.Context) (Token, error) {
	return fn(ctx)
}

// TokenStore persists token records between process restarts. Load returns
// ErrTokenNotFound when nothing was stored under key.
type TokenStore interface {
	Load(ctx context.Context, key string) (TokenRecord, error)
	Save(ctx context.Context, key string, record TokenRecord) error
}

type RateLimitKey struct {
	Service string
	Target  string
}

type ResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
	Metadata   map[string]any
}

// RateLimitGate is consulted before each attempt and informed of every
// response. A BeforeCall error skips the attempt and counts as transient.
type RateLimitGate interface {
	BeforeCall(ctx context.Context, key RateLimitKey) error
	AfterCall(ctx context.Context, key RateLimitKey, res ResponseMeta) error
}
