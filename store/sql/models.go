package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type tokenRecord struct {
	bun.BaseModel `bun:"table:outbound_tokens,alias:ot"`

	ID              string    `bun:"id,pk"`
	StoreKey        string    `bun:"store_key,notnull,unique"`
	Token           string    `bun:"token,notnull"`
	ExpiresAt       time.Time `bun:"expires_at,notnull"`
	RefreshBufferMS int64     `bun:"refresh_buffer_ms,notnull"`
	CreatedAt       time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:outbound_rate_limit_states,alias:orl"`

	ID             string         `bun:"id,pk"`
	Service        string         `bun:"service,notnull"`
	Target         string         `bun:"target,notnull"`
	Limit          int            `bun:"limit_value,notnull"`
	Remaining      int            `bun:"remaining,notnull"`
	ResetAt        *time.Time     `bun:"reset_at,nullzero"`
	RetryAfterMS   *int64         `bun:"retry_after_ms"`
	ThrottledUntil *time.Time     `bun:"throttled_until,nullzero"`
	LastStatus     int            `bun:"last_status,notnull"`
	Attempts       int            `bun:"attempts,notnull"`
	Metadata       map[string]any `bun:"metadata,type:jsonb"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
