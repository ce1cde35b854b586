// Package apikey manages the gateway's local API keys. Keys are stored as
// SHA-256 hashes in a JSON file; the plaintext is shown once at creation.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const keyPrefix = "llmux-"

// Key is one stored API key. Hash is hex-encoded SHA-256 of the plaintext.
type Key struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

type keyFile struct {
	Keys []Key `json:"keys"`
}

// Store is a file-backed key registry.
type Store struct {
	mu   sync.RWMutex
	path string
	keys []Key
}

// Open loads the key file at path, which may not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var f keyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	s.keys = f.Keys
	return s, nil
}

// Generate creates a new key, persists its hash and returns the plaintext.
func (s *Store) Generate(name string) (Key, string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return Key{}, "", err
	}
	plaintext := keyPrefix + hex.EncodeToString(raw)

	k := Key{
		ID:        uuid.NewString(),
		Name:      name,
		Hash:      hashKey(plaintext),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, k)
	if err := s.saveLocked(); err != nil {
		s.keys = s.keys[:len(s.keys)-1]
		return Key{}, "", err
	}
	return k, plaintext, nil
}

// List returns all stored keys. Hashes are included; plaintexts are not
// recoverable.
func (s *Store) List() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Key, len(s.keys))
	copy(out, s.keys)
	return out
}

// Revoke removes a key by id.
func (s *Store) Revoke(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, k := range s.keys {
		if k.ID == id {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			return s.saveLocked()
		}
	}
	return fmt.Errorf("key %s not found", id)
}

// Validate checks a presented plaintext key and returns the matching key id.
// Comparison is constant-time per stored hash.
func (s *Store) Validate(plaintext string) (string, bool) {
	if !strings.HasPrefix(plaintext, keyPrefix) {
		return "", false
	}
	presented := []byte(hashKey(plaintext))

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if subtle.ConstantTimeCompare(presented, []byte(k.Hash)) == 1 {
			return k.ID, true
		}
	}
	return "", false
}

// Empty reports whether the store has no keys.
func (s *Store) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys) == 0
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(keyFile{Keys: s.keys}, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0o600)
}

func hashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
