// Package core contains the outbound reliability layer: the response envelope,
// failure classification, retry policy, idempotency cache, token provider and
// the request executor that ties them together. Transport, token persistence
// and provider-specific adapters depend on this package; core must not depend
// on any of them.
package core
