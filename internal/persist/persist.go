// Package persist provides atomic JSON file persistence for the gateway's
// small state stores (metrics snapshots, proxy tokens, admin config).
package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/foundryproxy/foundry-gateway/internal/domain"
)

// LoadJSON reads path into v. A missing file is reported via os.ErrNotExist
// so callers can treat it as an empty store.
func LoadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return &domain.PersistenceError{Op: "read", Path: path, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &domain.PersistenceError{Op: "decode", Path: path, Err: err}
	}
	return nil
}

// SaveJSON writes v to path via a temp file and rename so readers never
// observe a partial document.
func SaveJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return &domain.PersistenceError{Op: "mkdir", Path: path, Err: err}
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &domain.PersistenceError{Op: "encode", Path: path, Err: err}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return &domain.PersistenceError{Op: "write", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &domain.PersistenceError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
