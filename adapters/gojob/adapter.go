// Package gojob runs proactive token refreshes on a go-job queue so a
// token is renewed before it enters its refresh buffer on the hot path.
package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-outbound/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDTokenRefresh = "outbound.token.refresh"

	paramService          = "service"
	paramStaleFingerprint = "stale_fingerprint"

	dedupDrop = "drop"
)

// RetryPolicy bounds how a failed refresh delivery is retried.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// RefreshRequest is the payload of a token refresh job.
type RefreshRequest struct {
	Service string
	// StaleFingerprint identifies the token observed before scheduling; the
	// handler skips the fetch when the provider already rotated past it.
	// Raw tokens are fingerprinted before they reach the job payload.
	StaleFingerprint string
	// ExpiresAt scopes the dedup key to one token lifetime.
	ExpiresAt time.Time
}

// ToExecutionMessage maps a refresh request to a go-job message.
func ToExecutionMessage(req RefreshRequest) *job.ExecutionMessage {
	service := strings.TrimSpace(req.Service)
	return &job.ExecutionMessage{
		JobID:      JobIDTokenRefresh,
		ScriptPath: JobIDTokenRefresh,
		Parameters: map[string]any{
			paramService:          service,
			paramStaleFingerprint: core.TokenFingerprint(req.StaleFingerprint),
		},
		IdempotencyKey: refreshIdempotencyKey(service, req.ExpiresAt),
		DedupPolicy:    job.DeduplicationPolicy(dedupDrop),
	}
}

// FromExecutionMessage reads a refresh request back from a go-job message.
func FromExecutionMessage(msg *job.ExecutionMessage) (RefreshRequest, error) {
	if msg == nil {
		return RefreshRequest{}, fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDTokenRefresh {
		return RefreshRequest{}, fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	req := RefreshRequest{}
	if value, ok := msg.Parameters[paramService].(string); ok {
		req.Service = strings.TrimSpace(value)
	}
	if value, ok := msg.Parameters[paramStaleFingerprint].(string); ok {
		req.StaleFingerprint = core.TokenFingerprint(value)
	}
	return req, nil
}

func refreshIdempotencyKey(service string, expiresAt time.Time) string {
	if expiresAt.IsZero() {
		return JobIDTokenRefresh + ":" + service
	}
	return fmt.Sprintf("%s:%s:%d", JobIDTokenRefresh, service, expiresAt.UTC().Unix())
}

// RefreshScheduler enqueues refresh jobs for one service.
type RefreshScheduler struct {
	enqueuer queue.Enqueuer
	service  string
}

func NewRefreshScheduler(enqueuer queue.Enqueuer, service string) *RefreshScheduler {
	return &RefreshScheduler{enqueuer: enqueuer, service: strings.TrimSpace(service)}
}

// Schedule enqueues a refresh of the token identified by stale, which may be
// the token itself or its fingerprint. Only the fingerprint is enqueued.
func (s *RefreshScheduler) Schedule(ctx context.Context, stale string, expiresAt time.Time) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if s.service == "" {
		return fmt.Errorf("gojob: service name is required")
	}
	return s.enqueuer.Enqueue(ctx, ToExecutionMessage(RefreshRequest{
		Service:          s.service,
		StaleFingerprint: stale,
		ExpiresAt:        expiresAt,
	}))
}

// TokenRefresher is implemented by core.TokenProvider.
type TokenRefresher interface {
	ForceRefresh(ctx context.Context, stale string) core.Envelope
}

// RefreshHandler consumes refresh deliveries for one service and acks or
// nacks them by the outcome of the forced refresh.
type RefreshHandler struct {
	service    string
	tokens     TokenRefresher
	policy     RetryPolicy
	retryDelay time.Duration
	logger     core.Logger
}

func NewRefreshHandler(service string, tokens TokenRefresher, policy RetryPolicy, logger core.Logger) *RefreshHandler {
	return &RefreshHandler{
		service:    strings.TrimSpace(service),
		tokens:     tokens,
		policy:     policy,
		retryDelay: 5 * time.Second,
		logger:     logger,
	}
}

// Handle processes one delivery. attempt is the delivery attempt number
// used against the retry policy.
func (h *RefreshHandler) Handle(ctx context.Context, delivery queue.Delivery, attempt int) error {
	if h == nil || h.tokens == nil {
		return fmt.Errorf("gojob: token refresher is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	req, err := FromExecutionMessage(delivery.Message())
	if err != nil {
		return delivery.Nack(ctx, h.policy.NormalizeAttempt(queue.NackOptions{
			DeadLetter: true,
			Reason:     err.Error(),
		}, attempt))
	}
	if req.Service != h.service {
		return delivery.Nack(ctx, h.policy.NormalizeAttempt(queue.NackOptions{
			DeadLetter: true,
			Reason:     fmt.Sprintf("refresh job for %q routed to %q", req.Service, h.service),
		}, attempt))
	}

	env := h.tokens.ForceRefresh(ctx, req.StaleFingerprint)
	if env.OK() {
		return delivery.Ack(ctx)
	}
	if h.logger != nil {
		h.logger.Warn("proactive token refresh failed",
			"service", h.service,
			"code", env.Code,
			"attempt", attempt,
			"message", env.Message,
		)
	}
	return delivery.Nack(ctx, h.policy.NormalizeAttempt(queue.NackOptions{
		Delay:   h.retryDelay,
		Requeue: true,
		Reason:  env.Message,
	}, attempt))
}

// RunOnce dequeues a single delivery and handles it.
func (h *RefreshHandler) RunOnce(ctx context.Context, dequeuer queue.Dequeuer, attempt int) error {
	if dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	return h.Handle(ctx, delivery, attempt)
}

// MetricsHook reports worker lifecycle events for refresh jobs.
type MetricsHook struct {
	metrics core.MetricsRecorder
}

func NewMetricsHook(metrics core.MetricsRecorder) *MetricsHook {
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	return &MetricsHook{metrics: metrics}
}

func (h *MetricsHook) OnStart(ctx context.Context, event worker.Event) {
	h.record(ctx, "start", event)
}

func (h *MetricsHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.record(ctx, "success", event)
}

func (h *MetricsHook) OnFailure(ctx context.Context, event worker.Event) {
	h.record(ctx, "failure", event)
}

func (h *MetricsHook) OnRetry(ctx context.Context, event worker.Event) {
	h.record(ctx, "retry", event)
}

func (h *MetricsHook) record(ctx context.Context, phase string, event worker.Event) {
	if h == nil || h.metrics == nil {
		return
	}
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	tags := map[string]string{"phase": phase, "job_id": ""}
	if message != nil {
		tags["job_id"] = strings.TrimSpace(message.JobID)
		if service, ok := message.Parameters[paramService].(string); ok {
			tags["service"] = service
		}
	}
	h.metrics.IncCounter(ctx, "outbound.token_refresh_job.total", 1, tags)
	if event.Duration > 0 {
		h.metrics.ObserveHistogram(ctx, "outbound.token_refresh_job.duration_ms", float64(event.Duration.Milliseconds()), tags)
	}
}

var (
	_ worker.Hook    = (*MetricsHook)(nil)
	_ TokenRefresher = (*core.TokenProvider)(nil)
)
