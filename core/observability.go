package core

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	metricRequestTotal    = "outbound.request.total"
	metricRequestDuration = "outbound.request.duration_ms"
	metricRequestRetries  = "outbound.request.retries"
)

// observeAttempt emits the per-attempt log line and metrics. The log line
// carries target, result and duration_ms only.
func (e *Executor) observeAttempt(
	ctx context.Context,
	startedAt time.Time,
	target string,
	kind FailureKind,
) {
	if e == nil {
		return
	}
	duration := e.now().Sub(startedAt).Milliseconds()
	result := kind.String()
	fields := map[string]any{
		"target":      target,
		"result":      result,
		"duration_ms": duration,
	}
	tags := map[string]string{
		"service": e.serviceName,
		"result":  result,
	}
	e.recordCounter(ctx, metricRequestTotal, 1, tags)
	e.recordHistogram(ctx, metricRequestDuration, float64(duration), tags)

	level := "info"
	if kind != FailureNone {
		level = "warn"
	}
	logWithLevel(ctx, e.logger, level, "outbound request", fields)
}

func (e *Executor) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.IncCounter(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (e *Executor) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func logWithLevel(ctx context.Context, logger Logger, level string, message string, fields map[string]any) {
	if logger == nil {
		return
	}
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		logger.Debug(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "error":
		logger.Error(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

// logTarget strips query, fragment and userinfo so a credential carried in
// the URL can never reach a log line.
func logTarget(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed == nil {
		if idx := strings.IndexAny(rawURL, "?#"); idx >= 0 {
			return rawURL[:idx]
		}
		return rawURL
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.User = nil
	return parsed.String()
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}
