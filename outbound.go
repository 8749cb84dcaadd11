// Package outbound is the entry point for building resilient clients to
// third-party HTTP APIs: bounded retries, managed tokens, idempotent writes
// and a single result envelope.
package outbound

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/security"
	filestore "github.com/goliatone/go-outbound/store/file"
	sqlstore "github.com/goliatone/go-outbound/store/sql"
	"github.com/goliatone/go-outbound/transport"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

type Config = core.Config

type Option = core.Option

type Client = core.Client

type Envelope = core.Envelope
type Response = core.Response
type FailureDetail = core.FailureDetail
type RequestSpec = core.RequestSpec

type Token = core.Token
type TokenRecord = core.TokenRecord
type TokenFetcher = core.TokenFetcher
type TokenFetcherFunc = core.TokenFetcherFunc
type TokenStore = core.TokenStore
type TokenStoreConfig = core.TokenStoreConfig
type TokenStoreFactory = core.TokenStoreFactory

type Logger = core.Logger
type MetricsRecorder = core.MetricsRecorder
type ResponseClassifier = core.ResponseClassifier
type RateLimitGate = core.RateLimitGate

const (
	CodeOK                 = core.CodeOK
	CodeBadRequest         = core.CodeBadRequest
	CodeTransientExhausted = core.CodeTransientExhausted
	CodePermanent          = core.CodePermanent
	CodeAuthExpired        = core.CodeAuthExpired
	CodeParseFailure       = core.CodeParseFailure
	CodeTokenUnavailable   = core.CodeTokenUnavailable
	CodeInternal           = core.CodeInternal
	CodeNoData             = core.CodeNoData
)

var (
	WithLogger             = core.WithLogger
	WithLoggerProvider     = core.WithLoggerProvider
	WithMetricsRecorder    = core.WithMetricsRecorder
	WithErrorMapper        = core.WithErrorMapper
	WithConfigProvider     = core.WithConfigProvider
	WithOptionsResolver    = core.WithOptionsResolver
	WithTransport          = core.WithTransport
	WithTokenFetcher       = core.WithTokenFetcher
	WithTokenPersistence   = core.WithTokenPersistence
	WithTokenStoreFactory  = core.WithTokenStoreFactory
	WithSecrets            = core.WithSecrets
	WithRateLimit          = core.WithRateLimit
	WithResponseClassifier = core.WithResponseClassifier
	WithRetrySleep         = core.WithRetrySleep
	WithClock              = core.WithClock

	BuildIdempotencyKey = core.BuildIdempotencyKey
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// NewClient builds a client with the REST transport and the built-in token
// store drivers. Options override those defaults.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	rest, err := transport.NewDefaultRegistry().Build(transport.KindREST, nil)
	if err != nil {
		return nil, err
	}
	defaults := []Option{
		core.WithTransport(rest),
		core.WithTokenStoreFactory(NewTokenStoreFactory()),
	}
	return core.NewClient(cfg, append(defaults, opts...)...)
}

// StoreOption customizes the token store factory.
type StoreOption func(*storeFactory)

// WithStoreCache fronts SQL token stores with a read-through cache.
func WithStoreCache(service repositorycache.CacheService) StoreOption {
	return func(f *storeFactory) {
		f.cache = service
	}
}

// WithStoreCipher seals token values before they reach any driver.
func WithStoreCipher(cipher security.SecretCipher) StoreOption {
	return func(f *storeFactory) {
		f.cipher = cipher
	}
}

type storeFactory struct {
	cache  repositorycache.CacheService
	cipher security.SecretCipher
}

// NewTokenStoreFactory resolves the file, sqlite and postgres drivers.
func NewTokenStoreFactory(opts ...StoreOption) TokenStoreFactory {
	factory := &storeFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory.open
}

func (f *storeFactory) open(ctx context.Context, cfg core.TokenStoreConfig) (core.TokenStore, error) {
	store, err := f.openDriver(ctx, cfg)
	if err != nil || f.cipher == nil {
		return store, err
	}
	sealed, err := security.NewSealedTokenStore(store, f.cipher)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	return sealed, nil
}

func (f *storeFactory) openDriver(ctx context.Context, cfg core.TokenStoreConfig) (core.TokenStore, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Driver)) {
	case core.TokenStoreFile:
		store, err := filestore.NewTokenStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case core.TokenStoreSQLite, core.TokenStorePostgres:
		store, err := sqlstore.OpenTokenStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if f.cache == nil {
			return store, nil
		}
		cached, err := sqlstore.NewCachedTokenStore(store, f.cache)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		return cached, nil
	default:
		return nil, fmt.Errorf("outbound: token store driver %q is not supported", cfg.Driver)
	}
}

func closeStore(store core.TokenStore) {
	if closer, ok := store.(io.Closer); ok {
		_ = closer.Close()
	}
}
