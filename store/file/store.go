// Package filestore persists token records as JSON at a local path so a
// restarted process can reuse a still-valid credential.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outbound/core"
)

const fileMode fs.FileMode = 0o600

type document struct {
	Tokens map[string]core.TokenRecord `json:"tokens"`
}

// TokenStore keeps every key in a single JSON document. Writes go through a
// temp file and rename.
type TokenStore struct {
	mu   sync.Mutex
	path string
}

func NewTokenStore(path string) (*TokenStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, storeError(nil, goerrors.CategoryBadInput, "filestore: path is required")
	}
	return &TokenStore{path: filepath.Clean(path)}, nil
}

func (s *TokenStore) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *TokenStore) Load(_ context.Context, key string) (core.TokenRecord, error) {
	if s == nil {
		return core.TokenRecord{}, storeError(nil, goerrors.CategoryInternal, "filestore: store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return core.TokenRecord{}, err
	}
	record, ok := doc.Tokens[normalizeKey(key)]
	if !ok {
		return core.TokenRecord{}, core.ErrTokenNotFound
	}
	return record, nil
}

func (s *TokenStore) Save(_ context.Context, key string, record core.TokenRecord) error {
	if s == nil {
		return storeError(nil, goerrors.CategoryInternal, "filestore: store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		// a corrupt document is replaced rather than blocking new tokens
		doc = document{Tokens: map[string]core.TokenRecord{}}
	}
	doc.Tokens[normalizeKey(key)] = record
	return s.write(doc)
}

// Delete removes the record for key. Missing keys are not an error.
func (s *TokenStore) Delete(_ context.Context, key string) error {
	if s == nil {
		return storeError(nil, goerrors.CategoryInternal, "filestore: store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := doc.Tokens[normalizeKey(key)]; !ok {
		return nil
	}
	delete(doc.Tokens, normalizeKey(key))
	return s.write(doc)
}

func (s *TokenStore) read() (document, error) {
	doc := document{Tokens: map[string]core.TokenRecord{}}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, storeError(err, goerrors.CategoryExternal, "filestore: read token file")
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return document{Tokens: map[string]core.TokenRecord{}}, storeError(err, goerrors.CategoryExternal, "filestore: decode token file")
	}
	if doc.Tokens == nil {
		doc.Tokens = map[string]core.TokenRecord{}
	}
	return doc, nil
}

func (s *TokenStore) write(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return storeError(err, goerrors.CategoryInternal, "filestore: encode token file")
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return storeError(err, goerrors.CategoryExternal, "filestore: create token directory")
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return storeError(err, goerrors.CategoryExternal, "filestore: write token file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return storeError(err, goerrors.CategoryExternal, "filestore: replace token file")
	}
	return nil
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return core.DefaultTokenStoreKey
	}
	return key
}

func storeError(source error, category goerrors.Category, message string) error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, category)
	} else {
		err = goerrors.Wrap(source, category, message)
	}
	return err.WithTextCode(core.OutboundErrorTokenStoreFailure).
		WithMetadata(map[string]any{"store": "file"})
}

var _ core.TokenStore = (*TokenStore)(nil)
