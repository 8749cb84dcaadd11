package auth

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outbound/core"
)

const (
	defaultTokenField   = "access_token"
	defaultExpiresField = "expires_in"
	defaultCodeField    = "code"
	defaultMessageField = "msg"
	defaultEndpointTTL  = time.Hour
)

// EndpointFetcherConfig describes a JSON token endpoint that exchanges
// static application credentials for a short-lived access token.
type EndpointFetcherConfig struct {
	URL         string
	Method      string
	Credentials map[string]string
	// TokenField and ExpiresField name the response fields holding the token
	// and its lifetime in seconds.
	TokenField   string
	ExpiresField string
	// CodeField and MessageField name the business status carried in the
	// body. A non-zero code is a failed exchange.
	CodeField    string
	MessageField string
	// DefaultTTL applies when the response carries no lifetime.
	DefaultTTL time.Duration
	Now        func() time.Time
}

// EndpointFetcher implements core.TokenFetcher against a token endpoint. The
// exchange runs through an executor so it gets the same timeout, retry and
// envelope handling as every other call, without a managed credential.
type EndpointFetcher struct {
	config   EndpointFetcherConfig
	executor *core.Executor
}

func NewEndpointFetcher(executor *core.Executor, cfg EndpointFetcherConfig) *EndpointFetcher {
	method := strings.TrimSpace(strings.ToUpper(cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = defaultEndpointTTL
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &EndpointFetcher{
		executor: executor,
		config: EndpointFetcherConfig{
			URL:          strings.TrimSpace(cfg.URL),
			Method:       method,
			Credentials:  cloneStrings(cfg.Credentials),
			TokenField:   firstNonEmpty(cfg.TokenField, defaultTokenField),
			ExpiresField: firstNonEmpty(cfg.ExpiresField, defaultExpiresField),
			CodeField:    firstNonEmpty(cfg.CodeField, defaultCodeField),
			MessageField: firstNonEmpty(cfg.MessageField, defaultMessageField),
			DefaultTTL:   ttl,
			Now:          now,
		},
	}
}

// NewAppCredentialsFetcher targets the chat platform internal-app endpoint,
// which answers {code, msg, tenant_access_token, expire}.
func NewAppCredentialsFetcher(executor *core.Executor, tokenURL, appID, appSecret string) *EndpointFetcher {
	return NewEndpointFetcher(executor, EndpointFetcherConfig{
		URL: tokenURL,
		Credentials: map[string]string{
			"app_id":     appID,
			"app_secret": appSecret,
		},
		TokenField:   "tenant_access_token",
		ExpiresField: "expire",
	})
}

func (f *EndpointFetcher) FetchToken(ctx context.Context) (core.Token, error) {
	if f == nil || f.executor == nil {
		return core.Token{}, fetchError("auth: token endpoint fetcher is not configured", goerrors.CategoryInternal, nil)
	}
	if f.config.URL == "" {
		return core.Token{}, fetchError("auth: token endpoint url is required", goerrors.CategoryBadInput, nil)
	}
	if missing := f.missingCredentials(); len(missing) > 0 {
		return core.Token{}, fetchError(
			fmt.Sprintf("auth: token endpoint credentials %s are required", strings.Join(missing, ", ")),
			goerrors.CategoryBadInput,
			nil,
		)
	}

	env := f.executor.Execute(ctx, core.RequestSpec{
		Method:    f.config.Method,
		Target:    f.config.URL,
		Body:      f.config.Credentials,
		Operation: "token_exchange",
		SkipAuth:  true,
	})
	if !env.OK() {
		return core.Token{}, env.Err()
	}
	response, _ := core.DataAs[core.Response](env)
	payload, ok := response.Body.(map[string]any)
	if !ok {
		return core.Token{}, fetchError("auth: token endpoint returned no JSON object", goerrors.CategoryExternal, nil)
	}

	if code, ok := readInt(payload, f.config.CodeField); ok && code != 0 {
		message := readString(payload, f.config.MessageField)
		if message == "" {
			message = "token exchange rejected"
		}
		return core.Token{}, fetchError(
			fmt.Sprintf("auth: token endpoint code %d: %s", code, message),
			goerrors.CategoryAuth,
			map[string]any{"provider_code": code},
		)
	}

	value := readString(payload, f.config.TokenField)
	if value == "" {
		return core.Token{}, fetchError(
			fmt.Sprintf("auth: token endpoint response is missing %q", f.config.TokenField),
			goerrors.CategoryExternal,
			nil,
		)
	}
	ttl := f.config.DefaultTTL
	if seconds, ok := readInt(payload, f.config.ExpiresField); ok && seconds > 0 {
		ttl = time.Duration(seconds) * time.Second
	}
	return core.Token{Value: value, ExpiresAt: f.config.Now().UTC().Add(ttl)}, nil
}

// Secrets lists the credential values so token refresh failures can be
// scrubbed of them.
func (f *EndpointFetcher) Secrets() []string {
	if f == nil {
		return nil
	}
	out := make([]string, 0, len(f.config.Credentials))
	for _, value := range f.config.Credentials {
		out = append(out, value)
	}
	return out
}

func (f *EndpointFetcher) missingCredentials() []string {
	missing := []string{}
	for key, value := range f.config.Credentials {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

func fetchError(message string, category goerrors.Category, metadata map[string]any) error {
	err := goerrors.New(message, category).
		WithTextCode(core.OutboundErrorTokenUnavailable)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

var _ core.TokenFetcher = (*EndpointFetcher)(nil)
