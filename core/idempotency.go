package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const DefaultIdempotencyTTL = 300 * time.Second

type IdempotencyEntry struct {
	Key       string
	Result    Envelope
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (e IdempotencyEntry) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// IdempotencyCache remembers the envelope produced for a write so repeated
// calls with the same key inside the TTL window do not repeat the write.
// Failure envelopes are remembered too. Scope is a single process.
type IdempotencyCache struct {
	mu      sync.Mutex
	entries map[string]IdempotencyEntry
	group   singleflight.Group
	ttl     time.Duration
	now     func() time.Time
}

type IdempotencyOption func(*IdempotencyCache)

func WithIdempotencyTTL(ttl time.Duration) IdempotencyOption {
	return func(c *IdempotencyCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithIdempotencyClock(now func() time.Time) IdempotencyOption {
	return func(c *IdempotencyCache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewIdempotencyCache(opts ...IdempotencyOption) *IdempotencyCache {
	cache := &IdempotencyCache{
		entries: map[string]IdempotencyEntry{},
		ttl:     DefaultIdempotencyTTL,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

// GetOrCompute returns the live envelope stored under key, or runs compute
// once and stores its result for ttl (the cache default when ttl <= 0).
// Concurrent callers for the same key share a single compute. A compute that
// panics yields a CodeInternal envelope which is not stored.
func (c *IdempotencyCache) GetOrCompute(key string, compute func() Envelope, ttl time.Duration) Envelope {
	if compute == nil {
		return Failure(CodeInternal, "idempotency: compute function is required", nil)
	}
	return c.getOrCompute(key, func() (Envelope, bool) {
		return compute(), true
	}, ttl)
}

// getOrCompute stores the result only when compute reports it as storable.
// Callers that share the flight still receive an unstored result.
func (c *IdempotencyCache) getOrCompute(key string, compute func() (Envelope, bool), ttl time.Duration) Envelope {
	key = strings.TrimSpace(key)
	if c == nil || key == "" {
		result, _, _ := runCompute(compute)
		return result
	}
	if entry, ok := c.lookup(key); ok {
		return entry.Result
	}

	value, _, _ := c.group.Do(key, func() (any, error) {
		// a flight that finished between lookup and Do has already stored
		if entry, ok := c.lookup(key); ok {
			return entry.Result, nil
		}
		result, storable, panicked := runCompute(compute)
		if storable && !panicked {
			c.store(key, result, ttl)
		}
		return result, nil
	})
	result, ok := value.(Envelope)
	if !ok {
		return Failure(CodeInternal, "idempotency: unexpected result type", nil)
	}
	return result
}

// Lookup returns the live entry for key, evicting it when expired.
func (c *IdempotencyCache) Lookup(key string) (IdempotencyEntry, bool) {
	if c == nil {
		return IdempotencyEntry{}, false
	}
	return c.lookup(strings.TrimSpace(key))
}

func (c *IdempotencyCache) Forget(key string) bool {
	if c == nil {
		return false
	}
	key = strings.TrimSpace(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// Len reports the number of stored entries, expired ones included until
// they are looked up.
func (c *IdempotencyCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *IdempotencyCache) TTL() time.Duration {
	if c == nil || c.ttl <= 0 {
		return DefaultIdempotencyTTL
	}
	return c.ttl
}

func (c *IdempotencyCache) lookup(key string) (IdempotencyEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return IdempotencyEntry{}, false
	}
	if !entry.Live(c.now()) {
		delete(c.entries, key)
		return IdempotencyEntry{}, false
	}
	return entry, true
}

func (c *IdempotencyCache) store(key string, result Envelope, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.TTL()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	createdAt := c.now()
	c.entries[key] = IdempotencyEntry{
		Key:       key,
		Result:    result,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(ttl),
	}
}

func runCompute(compute func() (Envelope, bool)) (result Envelope, storable bool, panicked bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = Failure(CodeInternal, fmt.Sprintf("idempotency: compute panicked: %v", recovered), nil)
			panicked = true
		}
	}()
	result, storable = compute()
	return result, storable, false
}

// BuildIdempotencyKey derives a deterministic key from an operation name and
// the parameters that identify the write. Each part is tagged and length
// prefixed, so parts never bleed into each other. Strings and byte slices are
// used verbatim; other values are JSON encoded, which sorts map keys.
func BuildIdempotencyKey(operation string, parts ...any) string {
	builder := strings.Builder{}
	writeKeyPart(&builder, 'o', strings.TrimSpace(strings.ToLower(operation)))
	for _, part := range parts {
		switch typed := part.(type) {
		case nil:
			writeKeyPart(&builder, 'n', "")
		case string:
			writeKeyPart(&builder, 's', typed)
		case []byte:
			writeKeyPart(&builder, 'b', string(typed))
		case fmt.Stringer:
			writeKeyPart(&builder, 's', typed.String())
		default:
			encoded, err := json.Marshal(typed)
			if err != nil {
				writeKeyPart(&builder, 'v', fmt.Sprintf("%#v", typed))
				continue
			}
			writeKeyPart(&builder, 'j', string(encoded))
		}
	}
	sum := sha256.Sum256([]byte(builder.String()))
	return hex.EncodeToString(sum[:])
}

func writeKeyPart(builder *strings.Builder, tag byte, value string) {
	builder.WriteByte(tag)
	builder.WriteString(strconv.Itoa(len(value)))
	builder.WriteByte(':')
	builder.WriteString(value)
}
