package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// expirySkew is subtracted from the recorded expiry so a token is never
// handed out moments before the storage API would reject it.
const expirySkew = 60 * time.Second

// TokenRecord is the single cached access token. ExpireAt is epoch
// milliseconds, matching what client-local storage held historically.
type TokenRecord struct {
	AccessToken string `json:"access_token"`
	ExpireAt    int64  `json:"expire_at"`
	Scope       string `json:"scope"`
}

// Store persists the one token record. Implementations must tolerate a
// missing record by returning (nil, nil).
type Store interface {
	Load() (*TokenRecord, error)
	Save(*TokenRecord) error
	Clear() error
}

// MemoryStore keeps the record in process memory. It is the default store
// and the one tests use.
type MemoryStore struct {
	mu  sync.Mutex
	rec *TokenRecord
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Load returns the stored record, or nil when none exists.
func (s *MemoryStore) Load() (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil, nil
	}
	rec := *s.rec
	return &rec, nil
}

// Save replaces the stored record.
func (s *MemoryStore) Save(rec *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rec
	s.rec = &copied
	return nil
}

// Clear drops the stored record.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = nil
	return nil
}

// FileStore persists the record as a JSON file, for clients that outlive a
// single process.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore stores the token record at dir/token.json.
func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, "token.json")}
}

// Load reads the record from disk; a missing file is not an error.
func (s *FileStore) Load() (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("auth: read token store: %w", err)
	}
	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt store is treated as empty; the next mint rewrites it.
		return nil, nil
	}
	return &rec, nil
}

// Save writes the record atomically via rename.
func (s *FileStore) Save(rec *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("auth: marshal token record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("auth: create token store dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("auth: write token store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Clear removes the record file.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// TokenCache answers "do we already hold a good-enough token" without any
// network traffic. At most one record exists at a time; minting a token for
// a new scope replaces whatever was cached.
type TokenCache struct {
	store Store
	now   func() time.Time
}

// NewTokenCache wraps a store. A nil store gets an in-memory one.
func NewTokenCache(store Store) *TokenCache {
	if store == nil {
		store = NewMemoryStore()
	}
	return &TokenCache{store: store, now: time.Now}
}

// Get returns a cached access token that satisfies the desired scope and is
// comfortably inside its lifetime.
func (c *TokenCache) Get(desiredScope string) (string, bool) {
	rec, err := c.store.Load()
	if err != nil || rec == nil || rec.AccessToken == "" {
		return "", false
	}
	if !ScopeSatisfies(rec.Scope, desiredScope) {
		return "", false
	}
	expireAt := time.UnixMilli(rec.ExpireAt)
	if !c.now().Before(expireAt.Add(-expirySkew)) {
		return "", false
	}
	return rec.AccessToken, true
}

// Put records a freshly minted token.
func (c *TokenCache) Put(accessToken string, expiresIn int64, scope string) {
	_ = c.store.Save(&TokenRecord{
		AccessToken: accessToken,
		ExpireAt:    c.now().Add(time.Duration(expiresIn) * time.Second).UnixMilli(),
		Scope:       scope,
	})
}

// Clear drops the cached token.
func (c *TokenCache) Clear() {
	_ = c.store.Clear()
}
