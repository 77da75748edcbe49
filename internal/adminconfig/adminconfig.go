// Package adminconfig holds the small set of operator-mutable settings the
// admin surface may edit. Fields are explicitly enumerated; unknown fields
// in an update payload are ignored rather than merged.
package adminconfig

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/foundryproxy/foundry-gateway/internal/persist"
)

const schemaVersion = 1

// Config is the allow-listed mutable configuration.
type Config struct {
	DefaultModel    string            `json:"default_model"`
	DefaultResource string            `json:"default_resource"`
	Flags           map[string]string `json:"flags"`
}

// Update carries one admin edit. Pointer fields distinguish "leave alone"
// from "set to empty".
type Update struct {
	DefaultModel    *string           `json:"default_model"`
	DefaultResource *string           `json:"default_resource"`
	Flags           map[string]string `json:"flags"`
}

type document struct {
	Version int    `json:"version"`
	Data    Config `json:"data"`
}

// Snapshot is the read view returned to the admin surface.
type Snapshot struct {
	Version  int     `json:"version"`
	Data     Config  `json:"data"`
	Path     string  `json:"path,omitempty"`
	LoadedAt float64 `json:"loaded_at"`
}

type Store struct {
	mu       sync.Mutex
	path     string
	data     Config
	loadedAt time.Time
}

// NewStore creates a store backed by path (empty for in-memory only) and
// loads any compatible existing file.
func NewStore(path string) *Store {
	s := &Store{
		path:     path,
		data:     Config{Flags: map[string]string{}},
		loadedAt: time.Now(),
	}
	s.load()
	return s
}

func (s *Store) load() {
	if s.path == "" {
		return
	}
	var doc document
	err := persist.LoadJSON(s.path, &doc)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		slog.Warn("admin config load failed", "path", s.path, "error", err)
		return
	}
	if doc.Version != schemaVersion {
		slog.Warn("admin config has incompatible version, using defaults",
			"path", s.path, "version", doc.Version)
		return
	}
	s.data = doc.Data
	if s.data.Flags == nil {
		s.data.Flags = map[string]string{}
	}
	s.loadedAt = time.Now()
}

func (s *Store) saveLocked() {
	if s.path == "" {
		return
	}
	if err := persist.SaveJSON(s.path, document{Version: schemaVersion, Data: s.data}); err != nil {
		slog.Warn("admin config save failed", "path", s.path, "error", err)
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.data
	data.Flags = copyFlags(s.data.Flags)
	return Snapshot{
		Version:  schemaVersion,
		Data:     data,
		Path:     s.path,
		LoadedAt: float64(s.loadedAt.UnixNano()) / float64(time.Second),
	}
}

// Apply updates the allow-listed fields present in u and persists.
func (s *Store) Apply(u Update) Snapshot {
	s.mu.Lock()
	if u.DefaultModel != nil {
		s.data.DefaultModel = *u.DefaultModel
	}
	if u.DefaultResource != nil {
		s.data.DefaultResource = *u.DefaultResource
	}
	if u.Flags != nil {
		s.data.Flags = copyFlags(u.Flags)
	}
	s.saveLocked()
	s.mu.Unlock()
	return s.Snapshot()
}

// ParseUpdate decodes an admin payload, silently dropping unknown fields.
func ParseUpdate(raw []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(raw, &u); err != nil {
		return Update{}, err
	}
	return u, nil
}

// Defaults returns the resolver fallbacks currently configured.
func (s *Store) Defaults() (model, resource string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.DefaultModel, s.data.DefaultResource
}

func copyFlags(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
