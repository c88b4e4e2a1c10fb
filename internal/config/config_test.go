package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	// Clear env to test defaults
	os.Unsetenv("OFFLOAD_API_URL")
	os.Unsetenv("OFFLOAD_API_KEY")
	os.Unsetenv("OFFLOAD_CACHE_DIR")
	os.Unsetenv("OFFLOAD_WORKDIR")
	os.Unsetenv("OFFLOAD_TIMEOUT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.APIURL != "http://localhost:8080" {
		t.Errorf("expected default API URL, got %s", cfg.APIURL)
	}
	if cfg.Workdir != "/app" {
		t.Errorf("expected workdir /app, got %s", cfg.Workdir)
	}
	if cfg.TimeoutSecs != 3600 {
		t.Errorf("expected timeout 3600, got %d", cfg.TimeoutSecs)
	}
	if cfg.IgnoreFile != ".offloadignore" {
		t.Errorf("expected ignore file .offloadignore, got %s", cfg.IgnoreFile)
	}
	if filepath.Base(cfg.CacheDir) != "offload" {
		t.Errorf("expected cache dir ending in offload, got %s", cfg.CacheDir)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("OFFLOAD_API_URL", "https://api.example.com")
	os.Setenv("OFFLOAD_API_KEY", "test-key")
	os.Setenv("OFFLOAD_CACHE_DIR", "/tmp/offload-test-cache")
	os.Setenv("OFFLOAD_TIMEOUT", "120")
	defer func() {
		os.Unsetenv("OFFLOAD_API_URL")
		os.Unsetenv("OFFLOAD_API_KEY")
		os.Unsetenv("OFFLOAD_CACHE_DIR")
		os.Unsetenv("OFFLOAD_TIMEOUT")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.APIURL != "https://api.example.com" {
		t.Errorf("expected API URL from env, got %s", cfg.APIURL)
	}
	if cfg.APIKey != "test-key" {
		t.Errorf("expected API key test-key, got %s", cfg.APIKey)
	}
	if cfg.CacheDir != "/tmp/offload-test-cache" {
		t.Errorf("expected cache dir from env, got %s", cfg.CacheDir)
	}
	if cfg.TimeoutSecs != 120 {
		t.Errorf("expected timeout 120, got %d", cfg.TimeoutSecs)
	}
}

func TestLoadInvalidTimeout(t *testing.T) {
	os.Setenv("OFFLOAD_TIMEOUT", "not-a-number")
	defer os.Unsetenv("OFFLOAD_TIMEOUT")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid timeout, got nil")
	}
}
