package security

import (
	"context"
	"fmt"
	"io"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outbound/core"
)

// SealedTokenStore encrypts the token value before it reaches the wrapped
// store. Records written before sealing was enabled are read as plaintext
// and sealed on the next save.
type SealedTokenStore struct {
	base   core.TokenStore
	cipher SecretCipher
}

func NewSealedTokenStore(base core.TokenStore, cipher SecretCipher) (*SealedTokenStore, error) {
	if base == nil {
		return nil, fmt.Errorf("security: token store is required")
	}
	if cipher == nil {
		return nil, fmt.Errorf("security: cipher is required")
	}
	return &SealedTokenStore{base: base, cipher: cipher}, nil
}

func (s *SealedTokenStore) Load(ctx context.Context, key string) (core.TokenRecord, error) {
	record, err := s.base.Load(ctx, key)
	if err != nil {
		return core.TokenRecord{}, err
	}
	if !IsSealed([]byte(record.Token)) {
		return record, nil
	}
	plaintext, err := s.cipher.Decrypt(ctx, []byte(record.Token))
	if err != nil {
		return core.TokenRecord{}, sealError(err, "security: unseal token record")
	}
	record.Token = string(plaintext)
	return record, nil
}

func (s *SealedTokenStore) Save(ctx context.Context, key string, record core.TokenRecord) error {
	if record.Token == "" {
		return s.base.Save(ctx, key, record)
	}
	sealed, err := s.cipher.Encrypt(ctx, []byte(record.Token))
	if err != nil {
		return sealError(err, "security: seal token record")
	}
	record.Token = string(sealed)
	return s.base.Save(ctx, key, record)
}

func (s *SealedTokenStore) Close() error {
	if closer, ok := s.base.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func sealError(source error, message string) error {
	return goerrors.Wrap(source, goerrors.CategoryInternal, message).
		WithTextCode(core.OutboundErrorTokenStoreFailure)
}

var _ core.TokenStore = (*SealedTokenStore)(nil)
