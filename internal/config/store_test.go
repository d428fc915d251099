package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/iamkroot/ilc-scraper/internal/domain"
)

// TestDefaultSettings verifies baseline defaults are present.
func TestDefaultSettings(t *testing.T) {
	cfg := DefaultSettings()
	if cfg.Quality != "720p" {
		t.Fatalf("quality = %q, want 720p", cfg.Quality)
	}
	if cfg.BaseURL == "" {
		t.Fatal("expected non-empty base url")
	}
	if cfg.OutputDir == "" {
		t.Fatal("expected non-empty output dir")
	}
	if cfg.Workers < 1 {
		t.Fatalf("workers = %d, want >= 1", cfg.Workers)
	}
	if cfg.TimeoutMinutes < 1 {
		t.Fatalf("timeout minutes = %d, want >= 1", cfg.TimeoutMinutes)
	}
}

// TestJSONStoreLoadMissingReturnsDefaults checks first-run behavior.
func TestJSONStoreLoadMissingReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "settings.json")
	store := NewJSONStore(path)

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Quality != "720p" {
		t.Fatalf("quality = %q, want 720p", got.Quality)
	}
}

// TestJSONStoreSaveAndLoadRoundTrip checks persisted settings fidelity.
func TestJSONStoreSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	store := NewJSONStore(path)
	want := domain.Settings{
		Username:       "f2016",
		Password:       "hunter2",
		BaseURL:        "http://172.16.3.20/",
		OutputDir:      "/lectures",
		Quality:        "450p",
		Workers:        3,
		TimeoutMinutes: 30,
	}

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != want {
		t.Fatalf("settings = %+v, want %+v", got, want)
	}
}

// TestJSONStoreLoadInvalidJSON checks parse error handling.
func TestJSONStoreLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not-json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewJSONStore(path)
	if _, err := store.Load(); err == nil {
		t.Fatal("expected json parse error")
	}
}
