package core

import (
	"context"
	"fmt"
	"io"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

// Client owns one executor together with its token provider and
// idempotency cache. Nothing is shared across Client instances.
type Client struct {
	config      Config
	executor    *Executor
	tokens      *TokenProvider
	idempotency *IdempotencyCache
	tokenStore  TokenStore
	logger      Logger
	metrics     MetricsRecorder
	errorMapper ErrorMapper
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	builder := defaultClientBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	_, logger := glog.Resolve("outbound", builder.loggerProvider, builder.logger)
	if builder.logger != nil {
		logger = builder.logger
	}
	logger = glog.Ensure(logger)

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.transport == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: transport adapter is required"))
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	client := &Client{
		config:      finalConfig,
		logger:      logger,
		metrics:     builder.metricsRecorder,
		errorMapper: builder.errorMapper,
	}

	idempotencyOpts := []IdempotencyOption{WithIdempotencyTTL(finalConfig.Idempotency.TTL)}
	if builder.clock != nil {
		idempotencyOpts = append(idempotencyOpts, WithIdempotencyClock(builder.clock))
	}
	client.idempotency = NewIdempotencyCache(idempotencyOpts...)

	if builder.tokenFetcher != nil {
		store := builder.tokenStore
		if store == nil {
			store, err = openTokenStore(builder.tokenStoreFactory, finalConfig.Token.Store)
			if err != nil {
				return nil, mapBuildError(builder.errorMapper, err)
			}
		}
		client.tokenStore = store

		storeKey := builder.tokenStoreKey
		if storeKey == "" {
			storeKey = finalConfig.ServiceName
		}
		tokenOpts := []TokenProviderOption{
			WithRefreshBuffer(finalConfig.Token.RefreshBuffer),
			WithTokenLogger(logger),
			WithTokenSecrets(builder.tokenSecrets...),
		}
		if store != nil {
			tokenOpts = append(tokenOpts, WithTokenStore(store, storeKey))
		}
		if builder.clock != nil {
			tokenOpts = append(tokenOpts, WithTokenClock(builder.clock))
		}
		client.tokens = NewTokenProvider(builder.tokenFetcher, tokenOpts...)
	}

	executorOpts := []ExecutorOption{
		WithServiceName(finalConfig.ServiceName),
		WithBaseURL(finalConfig.BaseURL),
		WithAuthScheme(finalConfig.Token.AuthScheme),
		WithRetryPolicy(finalConfig.RetryPolicy()),
		WithAttemptTimeout(finalConfig.Timeout),
		WithIdempotencyCache(client.idempotency),
		WithClassifier(builder.classifier),
		WithRateLimitGate(builder.rateLimitGate),
		WithExecutorLogger(logger),
		WithExecutorMetrics(builder.metricsRecorder),
		WithSleep(builder.sleep),
	}
	if client.tokens != nil {
		executorOpts = append(executorOpts, WithCredentialSource(client.tokens))
	}
	client.executor = NewExecutor(builder.transport, executorOpts...)
	return client, nil
}

func openTokenStore(factory TokenStoreFactory, cfg TokenStoreConfig) (TokenStore, error) {
	driver := strings.TrimSpace(strings.ToLower(cfg.Driver))
	if driver == "" || driver == TokenStoreMemory {
		return nil, nil
	}
	if factory == nil {
		return nil, fmt.Errorf("core: token store driver %q requires a token store factory", driver)
	}
	return factory(context.Background(), cfg)
}

func (c *Client) Execute(ctx context.Context, spec RequestSpec) Envelope {
	if c == nil || c.executor == nil {
		return Failure(CodeInternal, "client: not initialized", nil)
	}
	return c.executor.Execute(ctx, spec)
}

// GetToken returns the managed credential. Clients built without a token
// fetcher answer with CodeTokenUnavailable.
func (c *Client) GetToken(ctx context.Context) Envelope {
	if c == nil || c.tokens == nil {
		return Failure(CodeTokenUnavailable, "client: no token fetcher configured", nil)
	}
	return c.tokens.GetToken(ctx)
}

// RefreshToken forces a token refresh regardless of the cached record.
func (c *Client) RefreshToken(ctx context.Context) Envelope {
	if c == nil || c.tokens == nil {
		return Failure(CodeTokenUnavailable, "client: no token fetcher configured", nil)
	}
	return c.tokens.ForceRefresh(ctx, "")
}

// Forget drops the idempotency entry for key so the next write runs again.
func (c *Client) Forget(key string) bool {
	if c == nil {
		return false
	}
	return c.idempotency.Forget(key)
}

func (c *Client) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.config
}

func (c *Client) Executor() *Executor {
	if c == nil {
		return nil
	}
	return c.executor
}

func (c *Client) Tokens() *TokenProvider {
	if c == nil {
		return nil
	}
	return c.tokens
}

func (c *Client) Idempotency() *IdempotencyCache {
	if c == nil {
		return nil
	}
	return c.idempotency
}

func (c *Client) Logger() Logger {
	if c == nil || c.logger == nil {
		return glog.Nop()
	}
	return c.logger
}

// Close releases the token store when it holds resources.
func (c *Client) Close() error {
	if c == nil || c.tokenStore == nil {
		return nil
	}
	if closer, ok := c.tokenStore.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return mapBuildError(c.errorMapper, err)
		}
	}
	return nil
}
