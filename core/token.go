package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultRefreshBuffer = 60 * time.Second
	DefaultTokenStoreKey = "default"
)

const refreshFlightKey = "refresh"

const tokenFingerprintPrefix = "sha256:"

// TokenFingerprint identifies a token without carrying its value. It is the
// form in which a rejected token travels through job and command payloads.
// A value that is already a fingerprint is returned unchanged.
func TokenFingerprint(token string) string {
	token = strings.TrimSpace(token)
	if token == "" || IsTokenFingerprint(token) {
		return token
	}
	sum := sha256.Sum256([]byte(token))
	return tokenFingerprintPrefix + hex.EncodeToString(sum[:8])
}

func IsTokenFingerprint(value string) bool {
	if !strings.HasPrefix(value, tokenFingerprintPrefix) {
		return false
	}
	digest := strings.TrimPrefix(value, tokenFingerprintPrefix)
	if len(digest) != 16 {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil
}

// rotatedPast reports whether current differs from the stale token, which
// may be given as a raw value or a fingerprint.
func rotatedPast(current, stale string) bool {
	if stale == "" {
		return false
	}
	if IsTokenFingerprint(stale) {
		return TokenFingerprint(current) != stale
	}
	return current != stale
}

// Token is the envelope payload handed to consumers. It formats as
// [REDACTED] so it cannot leak through fmt-based logging.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (Token) String() string {
	return RedactedValue
}

func (Token) GoString() string {
	return RedactedValue
}

// TokenRecord is the cached credential together with its refresh buffer.
type TokenRecord struct {
	Token         string        `json:"token"`
	ExpiresAt     time.Time     `json:"expires_at"`
	RefreshBuffer time.Duration `json:"refresh_buffer"`
}

// Fresh reports whether the record may still be handed out at now.
func (r TokenRecord) Fresh(now time.Time) bool {
	if strings.TrimSpace(r.Token) == "" {
		return false
	}
	return now.Before(r.ExpiresAt.Add(-r.RefreshBuffer))
}

func (r TokenRecord) String() string {
	return fmt.Sprintf("TokenRecord{token: %s, expires_at: %s}", RedactedValue, r.ExpiresAt.Format(time.RFC3339))
}

func (r TokenRecord) GoString() string {
	return r.String()
}

// TokenProvider owns one credential for one client instance. Reads are served
// from the cached record while it is fresh; refreshes are single-flight.
type TokenProvider struct {
	mu       sync.RWMutex
	record   TokenRecord
	warmOnce sync.Once
	group    singleflight.Group
	fetcher  TokenFetcher
	store    TokenStore
	storeKey string
	buffer   time.Duration
	secrets  []string
	now      func() time.Time
	logger   Logger
}

type TokenProviderOption func(*TokenProvider)

func WithRefreshBuffer(buffer time.Duration) TokenProviderOption {
	return func(p *TokenProvider) {
		if buffer >= 0 {
			p.buffer = buffer
		}
	}
}

// WithTokenStore persists refreshed records under key and warms the provider
// from it on first use.
func WithTokenStore(store TokenStore, key string) TokenProviderOption {
	return func(p *TokenProvider) {
		p.store = store
		if key = strings.TrimSpace(key); key != "" {
			p.storeKey = key
		}
	}
}

// WithTokenSecrets registers values (client secrets, app secrets) that must
// be scrubbed from refresh failure messages.
func WithTokenSecrets(secrets ...string) TokenProviderOption {
	return func(p *TokenProvider) {
		p.secrets = append(p.secrets, secrets...)
	}
}

func WithTokenClock(now func() time.Time) TokenProviderOption {
	return func(p *TokenProvider) {
		if now != nil {
			p.now = now
		}
	}
}

func WithTokenLogger(logger Logger) TokenProviderOption {
	return func(p *TokenProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewTokenProvider(fetcher TokenFetcher, opts ...TokenProviderOption) *TokenProvider {
	provider := &TokenProvider{
		fetcher:  fetcher,
		storeKey: DefaultTokenStoreKey,
		buffer:   DefaultRefreshBuffer,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider
}

// GetToken returns a token whose remaining lifetime exceeds the refresh
// buffer, refreshing first when needed.
func (p *TokenProvider) GetToken(ctx context.Context) Envelope {
	if p == nil || p.fetcher == nil {
		return Failure(CodeTokenUnavailable, "token: fetcher is not configured", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.warm(ctx)
	if record, ok := p.fresh(); ok {
		return tokenEnvelope(record)
	}
	return p.refresh(ctx, "", false)
}

// ForceRefresh replaces a credential the remote side rejected. stale is the
// rejected token or its TokenFingerprint. When the current token already
// differs from it, another caller refreshed in the meantime and that token is
// returned without a new fetch.
func (p *TokenProvider) ForceRefresh(ctx context.Context, stale string) Envelope {
	if p == nil || p.fetcher == nil {
		return Failure(CodeTokenUnavailable, "token: fetcher is not configured", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.warm(ctx)
	stale = strings.TrimSpace(stale)
	if record, ok := p.fresh(); ok && rotatedPast(record.Token, stale) {
		return tokenEnvelope(record)
	}
	return p.refresh(ctx, stale, true)
}

// ExpiresAt reports the expiry of the cached record, if any.
func (p *TokenProvider) ExpiresAt() (time.Time, bool) {
	if p == nil {
		return time.Time{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if strings.TrimSpace(p.record.Token) == "" {
		return time.Time{}, false
	}
	return p.record.ExpiresAt, true
}

// TokenStatus describes the cached token without its value.
type TokenStatus struct {
	Available   bool
	ExpiresAt   time.Time
	Fingerprint string
}

// Status reports whether a token is cached, when it expires and its
// fingerprint.
func (p *TokenProvider) Status() TokenStatus {
	if p == nil {
		return TokenStatus{}
	}
	p.mu.RLock()
	record := p.record
	p.mu.RUnlock()
	if strings.TrimSpace(record.Token) == "" {
		return TokenStatus{}
	}
	return TokenStatus{
		Available:   true,
		ExpiresAt:   record.ExpiresAt,
		Fingerprint: TokenFingerprint(record.Token),
	}
}

// RefreshBuffer reports the lead time before expiry at which a refresh runs.
func (p *TokenProvider) RefreshBuffer() time.Duration {
	if p == nil {
		return DefaultRefreshBuffer
	}
	return p.buffer
}

func (p *TokenProvider) refresh(ctx context.Context, stale string, force bool) Envelope {
	value, _, _ := p.group.Do(refreshFlightKey, func() (any, error) {
		if record, ok := p.fresh(); ok && (!force || rotatedPast(record.Token, stale)) {
			return tokenEnvelope(record), nil
		}

		token, err := p.fetcher.FetchToken(ctx)
		if err == nil {
			err = p.validateFetched(token)
		}
		if err != nil {
			return p.refreshFailed(err, token.Value), nil
		}

		record := TokenRecord{
			Token:         strings.TrimSpace(token.Value),
			ExpiresAt:     token.ExpiresAt.UTC(),
			RefreshBuffer: p.buffer,
		}
		p.mu.Lock()
		p.record = record
		p.mu.Unlock()

		p.persist(ctx, record)
		p.log(ctx, "info", "token refreshed", map[string]any{
			"token_expires_at": record.ExpiresAt.Format(time.RFC3339),
			"forced":           force,
		})
		return tokenEnvelope(record), nil
	})
	result, ok := value.(Envelope)
	if !ok {
		return Failure(CodeTokenUnavailable, "token: refresh produced no result", nil)
	}
	return result
}

func (p *TokenProvider) validateFetched(token Token) error {
	if strings.TrimSpace(token.Value) == "" {
		return errors.New("token: fetcher returned an empty token")
	}
	candidate := TokenRecord{Token: token.Value, ExpiresAt: token.ExpiresAt, RefreshBuffer: p.buffer}
	if !candidate.Fresh(p.now()) {
		return errors.New("token: fetched token expires within the refresh buffer")
	}
	return nil
}

// refreshFailed keeps the prior record only while it is still fresh.
func (p *TokenProvider) refreshFailed(err error, fetched string) Envelope {
	now := p.now()
	p.mu.Lock()
	prior := p.record
	kept := prior.Fresh(now)
	if !kept {
		p.record = TokenRecord{}
	}
	p.mu.Unlock()

	secrets := append([]string{prior.Token, fetched}, p.secrets...)
	message := RedactSecrets("token refresh failed: "+err.Error(), secrets...)
	p.log(context.Background(), "warn", "token refresh failed", map[string]any{
		"error":        message,
		"prior_usable": kept,
	})
	return Failure(CodeTokenUnavailable, message, nil)
}

func (p *TokenProvider) fresh() (TokenRecord, bool) {
	p.mu.RLock()
	record := p.record
	p.mu.RUnlock()
	if !record.Fresh(p.now()) {
		return TokenRecord{}, false
	}
	return record, true
}

// warm loads the persisted record once. Concurrent first callers wait for
// the load so none of them fetches while it is in progress.
func (p *TokenProvider) warm(ctx context.Context) {
	if p.store == nil {
		return
	}
	p.warmOnce.Do(func() {
		p.load(ctx)
	})
}

func (p *TokenProvider) load(ctx context.Context) {
	record, err := p.store.Load(ctx, p.storeKey)
	if err != nil {
		if !errors.Is(err, ErrTokenNotFound) {
			p.log(ctx, "warn", "token store load failed", map[string]any{
				"error": RedactSecrets(err.Error(), p.secrets...),
			})
		}
		return
	}
	if strings.TrimSpace(record.Token) == "" {
		return
	}
	record.RefreshBuffer = p.buffer

	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.TrimSpace(p.record.Token) == "" {
		p.record = record
	}
}

func (p *TokenProvider) persist(ctx context.Context, record TokenRecord) {
	if p.store == nil {
		return
	}
	if err := p.store.Save(ctx, p.storeKey, record); err != nil {
		secrets := append([]string{record.Token}, p.secrets...)
		p.log(ctx, "warn", "token store save failed", map[string]any{
			"error": RedactSecrets(err.Error(), secrets...),
		})
	}
}

func (p *TokenProvider) log(ctx context.Context, level string, message string, fields map[string]any) {
	logWithLevel(ctx, p.logger, level, message, fields)
}

func tokenEnvelope(record TokenRecord) Envelope {
	return Success(Token{Value: record.Token, ExpiresAt: record.ExpiresAt})
}
