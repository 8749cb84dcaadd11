package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outbound/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TokenStore keeps one row per store key in outbound_tokens.
type TokenStore struct {
	db     *bun.DB
	repo   repository.Repository[*tokenRecord]
	closer io.Closer
}

// NewTokenStore accepts a *bun.DB or anything exposing DB() *bun.DB, such as
// a go-persistence-bun client.
func NewTokenStore(persistenceClient any) (*TokenStore, error) {
	db, err := resolveBunDB(persistenceClient)
	if err != nil {
		return nil, err
	}
	repo := repository.NewRepository[*tokenRecord](db, tokenHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid token repository wiring: %w", err)
		}
	}
	return &TokenStore{db: db, repo: repo}, nil
}

// OpenTokenStore opens the database named by cfg and returns a store that
// owns the connection; Close releases it.
func OpenTokenStore(ctx context.Context, cfg core.TokenStoreConfig) (*TokenStore, error) {
	client, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := NewTokenStore(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	store.closer = client
	return store, nil
}

func (s *TokenStore) Load(ctx context.Context, key string) (core.TokenRecord, error) {
	if s == nil || s.db == nil {
		return core.TokenRecord{}, storeError(nil, goerrors.CategoryInternal, "sqlstore: token store is not configured")
	}
	record, err := findToken(ctx, s.db, normalizeStoreKey(key))
	if err != nil {
		return core.TokenRecord{}, storeError(err, goerrors.CategoryExternal, "sqlstore: load token")
	}
	if record == nil {
		return core.TokenRecord{}, core.ErrTokenNotFound
	}
	return record.toDomain(), nil
}

func (s *TokenStore) Save(ctx context.Context, key string, in core.TokenRecord) error {
	if s == nil || s.db == nil || s.repo == nil {
		return storeError(nil, goerrors.CategoryInternal, "sqlstore: token store is not configured")
	}
	if strings.TrimSpace(in.Token) == "" {
		return storeError(nil, goerrors.CategoryBadInput, "sqlstore: token is required")
	}
	key = normalizeStoreKey(key)
	now := time.Now().UTC()

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := findToken(ctx, tx, key)
		if err != nil {
			return err
		}
		if existing == nil {
			record := &tokenRecord{
				ID:        uuid.NewString(),
				StoreKey:  key,
				CreatedAt: now,
			}
			record.apply(in, now)
			_, createErr := s.repo.CreateTx(ctx, tx, record)
			return createErr
		}
		existing.apply(in, now)
		_, updateErr := tx.NewUpdate().
			Model(existing).
			Column("token", "expires_at", "refresh_buffer_ms", "updated_at").
			Where("id = ?", existing.ID).
			Exec(ctx)
		return updateErr
	})
	if err != nil {
		return storeError(err, goerrors.CategoryExternal, "sqlstore: save token")
	}
	return nil
}

// Delete removes the row for key. Missing keys are not an error.
func (s *TokenStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return storeError(nil, goerrors.CategoryInternal, "sqlstore: token store is not configured")
	}
	if _, err := s.db.NewDelete().
		Model((*tokenRecord)(nil)).
		Where("store_key = ?", normalizeStoreKey(key)).
		Exec(ctx); err != nil {
		return storeError(err, goerrors.CategoryExternal, "sqlstore: delete token")
	}
	return nil
}

func (s *TokenStore) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func findToken(ctx context.Context, db bun.IDB, key string) (*tokenRecord, error) {
	record := &tokenRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.store_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func (r *tokenRecord) apply(in core.TokenRecord, now time.Time) {
	r.Token = in.Token
	r.ExpiresAt = in.ExpiresAt.UTC()
	r.RefreshBufferMS = in.RefreshBuffer.Milliseconds()
	r.UpdatedAt = now
}

func (r *tokenRecord) toDomain() core.TokenRecord {
	if r == nil {
		return core.TokenRecord{}
	}
	return core.TokenRecord{
		Token:         r.Token,
		ExpiresAt:     r.ExpiresAt.UTC(),
		RefreshBuffer: time.Duration(r.RefreshBufferMS) * time.Millisecond,
	}
}

func normalizeStoreKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return core.DefaultTokenStoreKey
	}
	return key
}

var _ core.TokenStore = (*TokenStore)(nil)
