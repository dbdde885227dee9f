package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file failed: %v", err)
	}

	if cfg.Retrieval.DirectThreshold != 100_000 {
		t.Errorf("DirectThreshold = %d, want 100000", cfg.Retrieval.DirectThreshold)
	}
	if cfg.Session.MinDuration != time.Minute {
		t.Errorf("Session.MinDuration = %v, want 1m", cfg.Session.MinDuration)
	}
	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("server:\n  port: 9999\nretrieval:\n  direct_threshold: 50000\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Retrieval.DirectThreshold != 50_000 {
		t.Errorf("DirectThreshold = %d, want 50000", cfg.Retrieval.DirectThreshold)
	}
	// Untouched sections keep defaults.
	if cfg.Engine.BaseURL != "http://localhost:11434" {
		t.Errorf("Engine.BaseURL = %q, want default", cfg.Engine.BaseURL)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("retrieval:\n  direct_threshold: 50000\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	t.Setenv("SYNAPTIC_RETRIEVAL_DIRECT_THRESHOLD", "123456")
	t.Setenv("SYNAPTIC_SESSION_MIN_DURATION", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Retrieval.DirectThreshold != 123456 {
		t.Errorf("DirectThreshold = %d, want 123456 (env override)", cfg.Retrieval.DirectThreshold)
	}
	if cfg.Session.MinDuration != 90*time.Second {
		t.Errorf("MinDuration = %v, want 90s (env override)", cfg.Session.MinDuration)
	}
}

func TestLoadRejectsNonPositiveThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("retrieval:\n  direct_threshold: -1\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted a negative direct_threshold, want error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := defaults()
	cfg.Server.Port = 4700
	cfg.LLM.Model = "test/model"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Server.Port != 4700 {
		t.Errorf("Server.Port = %d, want 4700", loaded.Server.Port)
	}
	if loaded.LLM.Model != "test/model" {
		t.Errorf("LLM.Model = %q, want test/model", loaded.LLM.Model)
	}
}
