// Package cmd implements the offload command tree. Diagnostics go to
// stderr via log; only the final identifier or JSON result is printed to
// stdout so output stays machine-parseable.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/offloadhq/offload/internal/config"
	"github.com/offloadhq/offload/internal/ignore"
	"github.com/offloadhq/offload/internal/imagecache"
	"github.com/offloadhq/offload/internal/runner"
	"github.com/offloadhq/offload/pkg/backend"
	"github.com/offloadhq/offload/pkg/types"
)

var (
	baseURL string
	apiKey  string
)

var rootCmd = &cobra.Command{
	Use:   "offload",
	Short: "Run commands in ephemeral remote sandboxes",
	Long: `Offload builds execution images, caches the slow-to-build base layers,
creates remote sandboxes from them, and moves files in and out as single
archives instead of one round trip per file.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", envOrDefault("OFFLOAD_API_URL", "http://localhost:8080"), "Backend API base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("OFFLOAD_API_KEY"), "Backend API key")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ExitCodeError carries a remote command's non-zero exit code up to
// main, which mirrors it as the process exit code.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}

// loadConfig loads environment configuration with the persistent flags
// applied on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.APIURL = baseURL
	cfg.APIKey = apiKey
	return cfg, nil
}

func checkAPIKey(cfg *config.Config) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("API key is required. Set OFFLOAD_API_KEY environment variable or use --api-key flag")
	}
	return nil
}

// newRunner wires the backend client, cache store, and runner for one
// invocation.
func newRunner(cfg *config.Config) (*runner.Runner, *backend.Client) {
	be := backend.NewClient(cfg.APIURL, cfg.APIKey)
	store := imagecache.New(cfg.CacheDir)
	return runner.New(be, store, cfg), be
}

// loadMatcher reads the project ignore file from the current directory
// and returns the combined matcher.
func loadMatcher(cfg *config.Config) (*ignore.Matcher, error) {
	patterns, err := ignore.Load(cfg.IgnoreFile)
	if err != nil {
		return nil, err
	}
	return ignore.New(patterns), nil
}

// parseMapping parses one "local:remote" pair.
func parseMapping(s string) (types.DirMapping, error) {
	local, remote, ok := strings.Cut(s, ":")
	if !ok || local == "" || remote == "" {
		return types.DirMapping{}, fmt.Errorf("invalid mapping %q, expected local:remote", s)
	}
	return types.DirMapping{Local: local, Remote: remote}, nil
}

// parseEnvVars parses repeated KEY=VALUE flags.
func parseEnvVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid environment variable %q, expected KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}
