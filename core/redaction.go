package core

import "strings"

const RedactedValue = "[REDACTED]"

// minimum length before a secret is scrubbed from free text, so short
// fixture values do not mangle unrelated words
const minRedactableSecret = 4

func RedactSensitiveMap(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return redactSensitiveMap(metadata)
}

// RedactSecrets replaces every occurrence of each secret in message.
func RedactSecrets(message string, secrets ...string) string {
	if message == "" || len(secrets) == 0 {
		return message
	}
	for _, secret := range secrets {
		secret = strings.TrimSpace(secret)
		if len(secret) < minRedactableSecret {
			continue
		}
		message = strings.ReplaceAll(message, secret, RedactedValue)
	}
	return message
}

func redactSensitiveMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if shouldRedactKey(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactSensitiveValue(value)
	}
	return target
}

func redactSensitiveValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactSensitiveMap(typed)
	case map[string]string:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			if shouldRedactKey(key) {
				out[key] = RedactedValue
				continue
			}
			out[key] = item
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactSensitiveValue(typed[i])
		}
		return out
	default:
		return value
	}
}

func shouldRedactKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isTraceabilityKey(key) {
		return false
	}
	sensitiveTokens := []string{
		"password",
		"secret",
		"token",
		"authorization",
		"cookie",
		"api_key",
		"apikey",
		"access_key",
		"refresh",
		"credential",
		"signature",
	}
	for _, token := range sensitiveTokens {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

func isTraceabilityKey(key string) bool {
	switch key {
	case "service",
		"target",
		"operation",
		"idempotency_key",
		"token_expires_at",
		"trace_id",
		"request_id":
		return true
	default:
		return false
	}
}
