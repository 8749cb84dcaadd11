package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultAttemptTimeout = 3 * time.Second
	DefaultAuthScheme     = "Bearer"
	headerAuthorization   = "Authorization"
	headerContentType     = "Content-Type"
	contentTypeJSON       = "application/json"
)

// RequestSpec describes one logical outbound call. Target is either an
// absolute URL or a path joined onto the executor base URL.
type RequestSpec struct {
	Method  string
	Target  string
	Query   map[string]string
	Headers map[string]string
	// Body is sent verbatim when it is []byte, string or json.RawMessage and
	// JSON encoded otherwise.
	Body      any
	Timeout   time.Duration
	Operation string
	// IdempotencyKey routes the call through the idempotency cache. Leave it
	// empty for reads.
	IdempotencyKey string
	IdempotencyTTL time.Duration
	// SkipAuth sends the request without a managed credential, as token
	// acquisition calls must.
	SkipAuth   bool
	Classifier ResponseClassifier
}

// Executor runs outbound calls under the retry policy and per-attempt
// timeout, attaching the managed credential and normalizing every outcome
// into an Envelope.
type Executor struct {
	serviceName string
	baseURL     string
	transport   TransportAdapter
	credentials CredentialSource
	authScheme  string
	retry       RetryPolicy
	timeout     time.Duration
	idempotency *IdempotencyCache
	classifier  ResponseClassifier
	rateLimit   RateLimitGate
	logger      Logger
	metrics     MetricsRecorder
	sleep       func(ctx context.Context, delay time.Duration) error
	now         func() time.Time
}

type ExecutorOption func(*Executor)

func WithServiceName(name string) ExecutorOption {
	return func(e *Executor) {
		if name = strings.TrimSpace(name); name != "" {
			e.serviceName = name
		}
	}
}

func WithBaseURL(baseURL string) ExecutorOption {
	return func(e *Executor) {
		e.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithCredentialSource(source CredentialSource) ExecutorOption {
	return func(e *Executor) {
		e.credentials = source
	}
}

// WithAuthScheme sets the Authorization scheme, "Bearer" by default.
func WithAuthScheme(scheme string) ExecutorOption {
	return func(e *Executor) {
		if scheme = strings.TrimSpace(scheme); scheme != "" {
			e.authScheme = scheme
		}
	}
}

func WithRetryPolicy(policy RetryPolicy) ExecutorOption {
	return func(e *Executor) {
		e.retry = policy.normalized()
	}
}

func WithAttemptTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

func WithIdempotencyCache(cache *IdempotencyCache) ExecutorOption {
	return func(e *Executor) {
		e.idempotency = cache
	}
}

// WithClassifier installs a provider classifier consulted after the
// per-request classifier and before the status code rules.
func WithClassifier(classifier ResponseClassifier) ExecutorOption {
	return func(e *Executor) {
		e.classifier = classifier
	}
}

func WithRateLimitGate(gate RateLimitGate) ExecutorOption {
	return func(e *Executor) {
		e.rateLimit = gate
	}
}

func WithExecutorLogger(logger Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithExecutorMetrics(recorder MetricsRecorder) ExecutorOption {
	return func(e *Executor) {
		if recorder != nil {
			e.metrics = recorder
		}
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(sleep func(ctx context.Context, delay time.Duration) error) ExecutorOption {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func NewExecutor(transport TransportAdapter, opts ...ExecutorOption) *Executor {
	executor := &Executor{
		serviceName: "outbound",
		transport:   transport,
		authScheme:  DefaultAuthScheme,
		retry:       DefaultRetryPolicy(),
		timeout:     DefaultAttemptTimeout,
		metrics:     NopMetricsRecorder{},
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(executor)
		}
	}
	return executor
}

// Execute performs the call described by spec. It always returns an
// Envelope; no error escapes.
func (e *Executor) Execute(ctx context.Context, spec RequestSpec) Envelope {
	if e == nil || e.transport == nil {
		return Failure(CodeInternal, "executor: transport adapter is required", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := e.buildRequest(spec)
	if err != nil {
		return Failure(CodeBadRequest, err.Error(), FailureDetail{
			Kind:   FailurePermanent,
			Target: logTarget(spec.Target),
		})
	}
	key := strings.TrimSpace(spec.IdempotencyKey)
	if key == "" || e.idempotency == nil {
		env, _ := e.run(ctx, spec, req)
		return env
	}
	// a result is remembered only when a request went out on a live context;
	// throttled, unauthenticated or cancelled calls stay retryable under key
	return e.idempotency.getOrCompute(key, func() (Envelope, bool) {
		env, sent := e.run(ctx, spec, req)
		return env, sent && ctx.Err() == nil
	}, spec.IdempotencyTTL)
}

type attemptResult struct {
	outcome    Outcome
	statusCode int
	body       any
	sent       bool
}

// run reports alongside the envelope whether any attempt reached the
// transport.
func (e *Executor) run(ctx context.Context, spec RequestSpec, req TransportRequest) (Envelope, bool) {
	target := logTarget(req.URL)
	classifier := ChainClassifiers(spec.Classifier, e.classifier)
	authenticated := !spec.SkipAuth && e.credentials != nil

	var (
		token       string
		forced      bool
		authRetried bool
		attempts    int
		sent        bool
	)
	for attempt := 1; ; {
		if authenticated && !forced {
			env := e.credentials.GetToken(ctx)
			if !env.OK() {
				return Failure(CodeTokenUnavailable, env.Message, FailureDetail{
					Kind:     FailurePermanent,
					Attempts: attempts,
					Target:   target,
				}), sent
			}
			credential, ok := DataAs[Token](env)
			if !ok || strings.TrimSpace(credential.Value) == "" {
				return Failure(CodeTokenUnavailable, "credential source returned no token", FailureDetail{
					Kind:     FailurePermanent,
					Attempts: attempts,
					Target:   target,
				}), sent
			}
			token = credential.Value
		}
		forced = false

		attempts++
		result := e.attempt(ctx, req, token, target, classifier)
		sent = sent || result.sent
		if result.outcome.Success() {
			return Success(Response{StatusCode: result.statusCode, Body: result.body}), sent
		}

		kind := result.outcome.Kind
		if kind == FailureAuthExpired {
			if authenticated && !authRetried {
				authRetried = true
				refreshed := e.credentials.ForceRefresh(ctx, token)
				if !refreshed.OK() {
					return Failure(CodeAuthExpired, RedactSecrets("credential refresh failed: "+refreshed.Message, token), FailureDetail{
						Kind:       FailureAuthExpired,
						StatusCode: result.statusCode,
						Attempts:   attempts,
						Target:     target,
					}), sent
				}
				if credential, ok := DataAs[Token](refreshed); ok && strings.TrimSpace(credential.Value) != "" {
					token = credential.Value
					forced = true
				}
				continue
			}
			// outside the refresh path a rejected credential is final
			kind = FailurePermanent
		}

		state, retry := e.retry.Next(attempt, kind)
		if !retry {
			return e.failure(result, kind, attempts, target, token), sent
		}
		e.recordCounter(ctx, metricRequestRetries, 1, map[string]string{
			"service":   e.serviceName,
			"operation": normalizeOperation(spec.Operation),
		})
		if err := sleepRetry(ctx, e.sleep, state.NextDelay); err != nil {
			result.outcome.Message = "retry wait interrupted: " + result.outcome.Message
			return e.failure(result, kind, attempts, target, token), sent
		}
		attempt++
	}
}

func (e *Executor) attempt(
	ctx context.Context,
	req TransportRequest,
	token string,
	target string,
	classifier ResponseClassifier,
) attemptResult {
	startedAt := e.now()
	limitKey := RateLimitKey{Service: e.serviceName, Target: target}
	if e.rateLimit != nil {
		if err := e.rateLimit.BeforeCall(ctx, limitKey); err != nil {
			e.observeAttempt(ctx, startedAt, target, FailureTransient)
			return attemptResult{outcome: Outcome{Kind: FailureTransient, Message: "throttled before send"}}
		}
	}

	attemptReq := cloneTransportRequest(req)
	if token != "" {
		attemptReq.Headers[headerAuthorization] = e.authScheme + " " + token
	}

	if ctx.Err() != nil {
		e.observeAttempt(ctx, startedAt, target, FailurePermanent)
		return attemptResult{outcome: Outcome{Kind: FailurePermanent, Message: "request cancelled"}}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	res, err := e.transport.Do(attemptCtx, attemptReq)
	timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()
	if err != nil {
		kind := ClassifyTransportError(err)
		message := transportFailureMessage(err)
		if timedOut {
			kind = FailureTransient
			message = "request timed out"
		}
		if ctx.Err() != nil {
			kind = FailurePermanent
			message = "request cancelled"
		}
		e.observeAttempt(ctx, startedAt, target, kind)
		return attemptResult{outcome: Outcome{Kind: kind, Message: message}, sent: true}
	}

	if e.rateLimit != nil {
		_ = e.rateLimit.AfterCall(ctx, limitKey, ResponseMeta{
			StatusCode: res.StatusCode,
			Headers:    res.Headers,
			Metadata:   map[string]any{"target": target},
		})
	}

	body, parseErr := decodeResponseBody(res.Body)
	outcome := classifyResponse(res.StatusCode, body, parseErr, classifier)
	e.observeAttempt(ctx, startedAt, target, outcome.Kind)
	return attemptResult{outcome: outcome, statusCode: res.StatusCode, body: body, sent: true}
}

func classifyResponse(statusCode int, body any, parseErr error, classifier ResponseClassifier) Outcome {
	if statusCode >= 200 && statusCode < 300 && parseErr != nil {
		return Outcome{Kind: FailureParse, Message: "response payload is not valid JSON"}
	}
	if classifier != nil {
		if outcome, ok := classifier(statusCode, body); ok {
			return outcome
		}
	}
	return ClassifyStatus(statusCode)
}

func (e *Executor) failure(result attemptResult, kind FailureKind, attempts int, target string, token string) Envelope {
	code := result.outcome.Code
	if code == CodeOK {
		code = failureCode(kind)
	}
	message := strings.TrimSpace(result.outcome.Message)
	if message == "" {
		message = kind.String()
	}
	if result.statusCode > 0 {
		message = fmt.Sprintf("%s (status %d)", message, result.statusCode)
	}
	if kind == FailureTransient {
		message = fmt.Sprintf("retries exhausted after %d attempts: %s", attempts, message)
	}
	return Failure(code, RedactSecrets(message, token), FailureDetail{
		Kind:       kind,
		StatusCode: result.statusCode,
		Attempts:   attempts,
		Target:     target,
		Body:       redactFailureBody(result.body, token),
	})
}

// redactFailureBody masks credential-bearing fields a remote error payload
// may echo back before the body is handed to callers.
func redactFailureBody(body any, token string) any {
	switch typed := body.(type) {
	case map[string]any:
		return RedactSensitiveMap(typed)
	case []any:
		return redactSensitiveValue(typed)
	case string:
		return RedactSecrets(typed, token)
	default:
		return body
	}
}

func failureCode(kind FailureKind) int {
	switch kind {
	case FailureTransient:
		return CodeTransientExhausted
	case FailureAuthExpired:
		return CodeAuthExpired
	case FailureParse:
		return CodeParseFailure
	default:
		return CodePermanent
	}
}

func (e *Executor) buildRequest(spec RequestSpec) (TransportRequest, error) {
	method := strings.TrimSpace(strings.ToUpper(spec.Method))
	if method == "" {
		method = http.MethodGet
	}
	target, err := e.resolveTarget(spec.Target)
	if err != nil {
		return TransportRequest{}, err
	}
	body, err := encodeRequestBody(spec.Body)
	if err != nil {
		return TransportRequest{}, err
	}

	headers := make(map[string]string, len(spec.Headers)+2)
	for key, value := range spec.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		headers[strings.TrimSpace(key)] = value
	}
	if len(body) > 0 && !hasHeader(headers, headerContentType) {
		headers[headerContentType] = contentTypeJSON
	}

	query := make(map[string]string, len(spec.Query))
	for key, value := range spec.Query {
		query[key] = value
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	return TransportRequest{
		Method:      method,
		URL:         target,
		Headers:     headers,
		Query:       query,
		Body:        body,
		Timeout:     timeout,
		Idempotency: strings.TrimSpace(spec.IdempotencyKey),
		Metadata: map[string]any{
			"request_id": uuid.NewString(),
			"operation":  normalizeOperation(spec.Operation),
		},
	}, nil
}

func (e *Executor) resolveTarget(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("executor: request target is required")
	}
	if parsed, err := url.Parse(target); err == nil && parsed.IsAbs() {
		return target, nil
	}
	if e.baseURL == "" {
		return "", fmt.Errorf("executor: target %q must be absolute when no base url is configured", logTarget(target))
	}
	return strings.TrimRight(e.baseURL, "/") + "/" + strings.TrimLeft(target, "/"), nil
}

func encodeRequestBody(body any) ([]byte, error) {
	switch typed := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return typed, nil
	case json.RawMessage:
		return []byte(typed), nil
	case string:
		return []byte(typed), nil
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return nil, fmt.Errorf("executor: encode request body: %w", err)
		}
		return encoded, nil
	}
}

// decodeResponseBody parses a JSON payload. Empty payloads decode to nil;
// invalid ones come back as {"text": raw} alongside the parse error.
func decodeResponseBody(raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var body any
	if err := decoder.Decode(&body); err != nil {
		return map[string]any{"text": string(raw)}, err
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return map[string]any{"text": string(raw)}, fmt.Errorf("executor: trailing data after JSON payload")
	}
	return body, nil
}

func cloneTransportRequest(in TransportRequest) TransportRequest {
	out := in
	out.Headers = copyStringMap(in.Headers)
	out.Query = copyStringMap(in.Query)
	if len(in.Body) > 0 {
		out.Body = append([]byte(nil), in.Body...)
	}
	if len(in.Metadata) > 0 {
		out.Metadata = cloneFields(in.Metadata)
	}
	return out
}

func copyStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func hasHeader(headers map[string]string, name string) bool {
	for key := range headers {
		if strings.EqualFold(key, name) {
			return true
		}
	}
	return false
}
