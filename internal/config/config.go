package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all configuration for the offload CLI.
type Config struct {
	APIURL string
	APIKey string

	// CacheDir is where the image cache file lives.
	CacheDir string

	// Sandbox defaults
	Workdir     string // remote working directory images and sandboxes default to
	TimeoutSecs int    // sandbox lifetime in seconds

	// IgnoreFile is the project-level ignore file name, resolved relative
	// to the directory being uploaded or layered.
	IgnoreFile string

	// PresetsFile optionally points at a user TOML file whose presets
	// override or extend the embedded set.
	PresetsFile string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		APIURL:      envOrDefault("OFFLOAD_API_URL", "http://localhost:8080"),
		APIKey:      os.Getenv("OFFLOAD_API_KEY"),
		Workdir:     envOrDefault("OFFLOAD_WORKDIR", "/app"),
		TimeoutSecs: 3600,
		IgnoreFile:  envOrDefault("OFFLOAD_IGNORE_FILE", ".offloadignore"),
		PresetsFile: os.Getenv("OFFLOAD_PRESETS_FILE"),
	}

	cfg.CacheDir = os.Getenv("OFFLOAD_CACHE_DIR")
	if cfg.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve user cache dir: %w", err)
		}
		cfg.CacheDir = filepath.Join(base, "offload")
	}

	if timeoutStr := os.Getenv("OFFLOAD_TIMEOUT"); timeoutStr != "" {
		timeout, err := strconv.Atoi(timeoutStr)
		if err != nil {
			return nil, fmt.Errorf("invalid OFFLOAD_TIMEOUT %q: %w", timeoutStr, err)
		}
		cfg.TimeoutSecs = timeout
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
