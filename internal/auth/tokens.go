package auth

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/foundryproxy/foundry-gateway/internal/domain"
	"github.com/foundryproxy/foundry-gateway/internal/persist"
)

const tokensSchemaVersion = 1

// TokenEntry is one provisioned gateway credential. Only the bcrypt hash of
// the token is ever stored; the plaintext is returned once at provisioning
// time and cannot be recovered afterwards.
type TokenEntry struct {
	User        string    `json:"-"`
	Hash        string    `json:"hash"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsed    time.Time `json:"last_used,omitempty"`
	Disabled    bool      `json:"disabled,omitempty"`
}

// PublicEntry is the listing view, with the hash withheld.
type PublicEntry struct {
	User        string    `json:"user"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsed    time.Time `json:"last_used,omitempty"`
	Disabled    bool      `json:"disabled"`
}

type tokenDoc struct {
	Version int                   `json:"version"`
	Tokens  map[string]TokenEntry `json:"tokens"`
}

// TokenStore holds gateway credentials hashed with bcrypt, persisted as a
// versioned JSON document. Validation is a deliberate linear scan: the
// registered user count is expected to stay small, and bcrypt comparison
// dominates the cost anyway.
type TokenStore struct {
	mu      sync.Mutex
	path    string
	entries map[string]*TokenEntry
}

// NewTokenStore creates a store backed by path. An empty path keeps the
// store purely in memory. An existing file with an unrecognized version is
// refused and left untouched.
func NewTokenStore(path string) *TokenStore {
	s := &TokenStore{
		path:    path,
		entries: make(map[string]*TokenEntry),
	}
	s.load()
	return s
}

func (s *TokenStore) load() {
	if s.path == "" {
		return
	}
	var doc tokenDoc
	err := persist.LoadJSON(s.path, &doc)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		slog.Warn("token store load failed", "path", s.path, "error", err)
		return
	}
	if doc.Version != tokensSchemaVersion {
		slog.Warn("token store has incompatible version, ignoring file",
			"path", s.path, "version", doc.Version)
		return
	}
	for user, entry := range doc.Tokens {
		if entry.Hash == "" {
			continue
		}
		e := entry
		e.User = user
		s.entries[user] = &e
	}
}

func (s *TokenStore) saveLocked() {
	if s.path == "" {
		return
	}
	doc := tokenDoc{Version: tokensSchemaVersion, Tokens: make(map[string]TokenEntry, len(s.entries))}
	for user, entry := range s.entries {
		doc.Tokens[user] = *entry
	}
	if err := persist.SaveJSON(s.path, doc); err != nil {
		slog.Warn("token store save failed", "path", s.path, "error", err)
	}
}

// Add provisions a credential for user. When token is empty a random one is
// generated. The plaintext token is returned exactly once.
func (s *TokenStore) Add(user, token string) (string, error) {
	if token == "" {
		token = "pxy-" + uuid.NewString()
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[user] = &TokenEntry{
		User:      user,
		Hash:      string(hash),
		CreatedAt: time.Now(),
	}
	s.saveLocked()
	return token, nil
}

// Reset replaces an existing user's credential, preserving metadata and the
// disabled flag. Returns the new plaintext, or ErrTokenNotFound for an
// unknown user.
func (s *TokenStore) Reset(user, token string) (string, error) {
	if token == "" {
		token = "pxy-" + uuid.NewString()
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[user]
	if !ok {
		return "", domain.ErrTokenNotFound
	}
	entry.Hash = string(hash)
	entry.CreatedAt = time.Now()
	s.saveLocked()
	return token, nil
}

// Validate scans all enabled entries for a bcrypt match and returns the
// owning user id, updating the entry's last-used timestamp as a side effect.
func (s *TokenStore) Validate(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for user, entry := range s.entries {
		if entry.Disabled {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(entry.Hash), []byte(token)) == nil {
			entry.LastUsed = time.Now()
			s.saveLocked()
			return user, true
		}
	}
	return "", false
}

func (s *TokenStore) SetDisabled(user string, disabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[user]
	if !ok {
		return false
	}
	entry.Disabled = disabled
	s.saveLocked()
	return true
}

func (s *TokenStore) SetMetadata(user, email, displayName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[user]
	if !ok {
		return false
	}
	if email != "" {
		entry.Email = email
	}
	if displayName != "" {
		entry.DisplayName = displayName
	}
	s.saveLocked()
	return true
}

func (s *TokenStore) Delete(user string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[user]; !ok {
		return false
	}
	delete(s.entries, user)
	s.saveLocked()
	return true
}

func (s *TokenStore) List() []PublicEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PublicEntry, 0, len(s.entries))
	for user, entry := range s.entries {
		out = append(out, PublicEntry{
			User:        user,
			Email:       entry.Email,
			DisplayName: entry.DisplayName,
			CreatedAt:   entry.CreatedAt,
			LastUsed:    entry.LastUsed,
			Disabled:    entry.Disabled,
		})
	}
	return out
}

func (s *TokenStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
