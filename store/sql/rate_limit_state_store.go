package sqlstore

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/ratelimit"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RateLimitStateStore keeps one row per service and target in
// outbound_rate_limit_states, so a restarted process still honours a
// throttle window the provider announced.
type RateLimitStateStore struct {
	db   *bun.DB
	repo repository.Repository[*rateLimitStateRecord]
}

// NewRateLimitStateStore accepts the same handles as NewTokenStore.
func NewRateLimitStateStore(persistenceClient any) (*RateLimitStateStore, error) {
	db, err := resolveBunDB(persistenceClient)
	if err != nil {
		return nil, err
	}
	repo := repository.NewRepository[*rateLimitStateRecord](db, rateLimitStateHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid rate-limit state repository wiring: %w", err)
		}
	}
	return &RateLimitStateStore{db: db, repo: repo}, nil
}

func (s *RateLimitStateStore) Get(ctx context.Context, key core.RateLimitKey) (ratelimit.State, error) {
	if s == nil || s.repo == nil {
		return ratelimit.State{}, stateStoreError(nil, goerrors.CategoryInternal, "sqlstore: rate-limit state store is not configured")
	}
	key, err := rateLimitKey(key)
	if err != nil {
		return ratelimit.State{}, err
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("service", "=", key.Service),
		repository.SelectBy("target", "=", key.Target),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return ratelimit.State{}, stateStoreError(err, goerrors.CategoryExternal, "sqlstore: load rate-limit state")
	}
	if len(records) == 0 {
		return ratelimit.State{}, ratelimit.ErrStateNotFound
	}
	return records[0].toDomain(), nil
}

// Upsert writes the whole state for its key in one statement. Fields left
// empty in state are cleared, so a recovered target drops its throttle.
func (s *RateLimitStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	if s == nil || s.db == nil {
		return stateStoreError(nil, goerrors.CategoryInternal, "sqlstore: rate-limit state store is not configured")
	}
	key, err := rateLimitKey(state.Key)
	if err != nil {
		return err
	}
	state.Key = key
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	record := newRateLimitStateRecord(state)
	_, err = s.db.NewInsert().
		Model(record).
		On("CONFLICT (service, target) DO UPDATE").
		Set("limit_value = EXCLUDED.limit_value").
		Set("remaining = EXCLUDED.remaining").
		Set("reset_at = EXCLUDED.reset_at").
		Set("retry_after_ms = EXCLUDED.retry_after_ms").
		Set("throttled_until = EXCLUDED.throttled_until").
		Set("last_status = EXCLUDED.last_status").
		Set("attempts = EXCLUDED.attempts").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return stateStoreError(err, goerrors.CategoryExternal, "sqlstore: save rate-limit state")
	}
	return nil
}

func newRateLimitStateRecord(state ratelimit.State) *rateLimitStateRecord {
	updatedAt := state.UpdatedAt.UTC()
	record := &rateLimitStateRecord{
		ID:             uuid.NewString(),
		Service:        state.Key.Service,
		Target:         state.Key.Target,
		Limit:          state.Limit,
		Remaining:      state.Remaining,
		ResetAt:        utcTime(state.ResetAt),
		ThrottledUntil: utcTime(state.ThrottledUntil),
		LastStatus:     state.LastStatus,
		Attempts:       state.Attempts,
		Metadata:       copyAnyMap(state.Metadata),
		CreatedAt:      updatedAt,
		UpdatedAt:      updatedAt,
	}
	if state.RetryAfter != nil && *state.RetryAfter > 0 {
		ms := state.RetryAfter.Milliseconds()
		record.RetryAfterMS = &ms
	}
	return record
}

func (r *rateLimitStateRecord) toDomain() ratelimit.State {
	state := ratelimit.State{
		Key:            core.RateLimitKey{Service: r.Service, Target: r.Target},
		Limit:          r.Limit,
		Remaining:      r.Remaining,
		ResetAt:        utcTime(r.ResetAt),
		ThrottledUntil: utcTime(r.ThrottledUntil),
		LastStatus:     r.LastStatus,
		Attempts:       r.Attempts,
		UpdatedAt:      r.UpdatedAt.UTC(),
		Metadata:       copyAnyMap(r.Metadata),
	}
	if r.RetryAfterMS != nil && *r.RetryAfterMS > 0 {
		retryAfter := time.Duration(*r.RetryAfterMS) * time.Millisecond
		state.RetryAfter = &retryAfter
	}
	return state
}

func rateLimitKey(key core.RateLimitKey) (core.RateLimitKey, error) {
	key = ratelimit.NormalizeKey(key)
	if key.Service == "" {
		return key, stateStoreError(nil, goerrors.CategoryBadInput, "sqlstore: rate-limit service is required")
	}
	if key.Target == "" {
		return key, stateStoreError(nil, goerrors.CategoryBadInput, "sqlstore: rate-limit target is required")
	}
	return key, nil
}

func utcTime(in *time.Time) *time.Time {
	if in == nil || in.IsZero() {
		return nil
	}
	value := in.UTC()
	return &value
}

var _ ratelimit.StateStore = (*RateLimitStateStore)(nil)
