package persist

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type doc struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	if err := SaveJSON(path, doc{Version: 1, Name: "alpha"}); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}

	var got doc
	if err := LoadJSON(path, &got); err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if got.Version != 1 || got.Name != "alpha" {
		t.Errorf("got %+v", got)
	}

	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Error("temp file left behind")
	}
}

func TestLoadMissingFile(t *testing.T) {
	var got doc
	err := LoadJSON(filepath.Join(t.TempDir(), "absent.json"), &got)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want os.ErrNotExist, got %v", err)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	var got doc
	if err := LoadJSON(path, &got); err == nil {
		t.Fatal("want decode error")
	}
}
