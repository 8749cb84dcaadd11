package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// TokenStoreFactory opens the TokenStore named by the token.store section.
type TokenStoreFactory func(ctx context.Context, cfg TokenStoreConfig) (TokenStore, error)

type clientBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	transport         TransportAdapter
	tokenFetcher      TokenFetcher
	tokenStore        TokenStore
	tokenStoreKey     string
	tokenStoreFactory TokenStoreFactory
	tokenSecrets      []string
	rateLimitGate     RateLimitGate
	classifier        ResponseClassifier
	sleep             func(ctx context.Context, delay time.Duration) error
	clock             func() time.Time
}

type Option func(*clientBuilder)

func WithLogger(logger Logger) Option {
	return func(b *clientBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *clientBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *clientBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *clientBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *clientBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *clientBuilder) {
		b.optionsResolver = resolver
	}
}

func WithTransport(transport TransportAdapter) Option {
	return func(b *clientBuilder) {
		b.transport = transport
	}
}

func WithTokenFetcher(fetcher TokenFetcher) Option {
	return func(b *clientBuilder) {
		b.tokenFetcher = fetcher
	}
}

// WithTokenPersistence sets an explicit TokenStore, overriding the
// token.store config section.
func WithTokenPersistence(store TokenStore, key string) Option {
	return func(b *clientBuilder) {
		b.tokenStore = store
		b.tokenStoreKey = strings.TrimSpace(key)
	}
}

func WithTokenStoreFactory(factory TokenStoreFactory) Option {
	return func(b *clientBuilder) {
		b.tokenStoreFactory = factory
	}
}

// WithSecrets registers secret values that are scrubbed from refresh
// failure messages.
func WithSecrets(secrets ...string) Option {
	return func(b *clientBuilder) {
		b.tokenSecrets = append(b.tokenSecrets, secrets...)
	}
}

func WithRateLimit(gate RateLimitGate) Option {
	return func(b *clientBuilder) {
		b.rateLimitGate = gate
	}
}

func WithResponseClassifier(classifier ResponseClassifier) Option {
	return func(b *clientBuilder) {
		b.classifier = classifier
	}
}

func WithRetrySleep(sleep func(ctx context.Context, delay time.Duration) error) Option {
	return func(b *clientBuilder) {
		b.sleep = sleep
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *clientBuilder) {
		b.clock = now
	}
}

func defaultClientBuilder(runtime Config) clientBuilder {
	return clientBuilder{
		runtimeConfig:   runtime,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return outboundErrorMapper(err)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		mapper = defaultErrorMapper
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// StaticConfigLoader serves a fixed raw map, typically decoded from a file
// the host application already owns.
func StaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults, loaded config and runtime overrides,
// later layers winning.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || strings.TrimSpace(cfg.BaseURL) != "" {
		layer["base_url"] = cfg.BaseURL
	}
	if includeZero || cfg.Timeout > 0 {
		layer["timeout"] = cfg.Timeout
	}

	retry := map[string]any{}
	if includeZero || cfg.Retry.MaxAttempts > 0 {
		retry["max_attempts"] = cfg.Retry.MaxAttempts
	}
	if includeZero || cfg.Retry.BaseDelay > 0 {
		retry["base_delay"] = cfg.Retry.BaseDelay
	}
	if includeZero || cfg.Retry.Jitter > 0 {
		retry["jitter"] = cfg.Retry.Jitter
	}
	if len(retry) > 0 {
		layer["retry"] = retry
	}

	if includeZero || cfg.Idempotency.TTL > 0 {
		layer["idempotency"] = map[string]any{"ttl": cfg.Idempotency.TTL}
	}

	token := map[string]any{}
	if includeZero || cfg.Token.RefreshBuffer > 0 {
		token["refresh_buffer"] = cfg.Token.RefreshBuffer
	}
	if includeZero || strings.TrimSpace(cfg.Token.AuthScheme) != "" {
		token["auth_scheme"] = cfg.Token.AuthScheme
	}
	store := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Token.Store.Driver) != "" {
		store["driver"] = cfg.Token.Store.Driver
	}
	if includeZero || strings.TrimSpace(cfg.Token.Store.Path) != "" {
		store["path"] = cfg.Token.Store.Path
	}
	if includeZero || strings.TrimSpace(cfg.Token.Store.DSN) != "" {
		store["dsn"] = cfg.Token.Store.DSN
	}
	if len(store) > 0 {
		token["store"] = store
	}
	if len(token) > 0 {
		layer["token"] = token
	}
	return layer
}
