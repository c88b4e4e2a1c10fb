// Package imagecache persists the mapping from build configuration to
// remote image handles so that repeat invocations can skip rebuilds.
package imagecache

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Entry is one durably cached base image.
type Entry struct {
	ImageHandle  string    `json:"image_handle"`
	SourceDigest *string   `json:"source_digest,omitempty"` // dockerfile keys only
	CreatedAt    time.Time `json:"created_at"`
	SandboxKind  string    `json:"sandbox_kind"`
}

// Store reads and writes the cache file. There is no cross-process
// locking: concurrent invocations race and the last Save wins.
type Store struct {
	path string
}

// New returns a store backed by dir/images.json.
func New(dir string) *Store {
	return &Store{path: filepath.Join(dir, "images.json")}
}

// Path returns the location of the backing file, for user-facing messages.
func (s *Store) Path() string {
	return s.path
}

// Load returns all cached entries. A missing, unreadable, or malformed
// cache file is treated as an empty cache, never an error; the worst
// case is a redundant rebuild.
func (s *Store) Load() map[string]Entry {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]Entry{}
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Printf("cache: ignoring malformed cache file %s: %v", s.path, err)
		return map[string]Entry{}
	}
	if entries == nil {
		return map[string]Entry{}
	}
	return entries
}

// Save replaces the cache file with the given entries, creating the
// cache directory if needed.
func (s *Store) Save(entries map[string]Entry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	return nil
}

// Clear removes one entry. Clearing a key that is not present is a no-op.
func (s *Store) Clear(key string) error {
	entries := s.Load()
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return s.Save(entries)
}
