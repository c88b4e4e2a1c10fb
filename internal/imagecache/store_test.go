package imagecache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"
)

func TestLoad_MissingFile(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist"))
	entries := s.Load()
	if len(entries) != 0 {
		t.Fatalf("expected empty cache, got %d entries", len(entries))
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := New(t.TempDir())

	digest := "abc123"
	want := map[string]Entry{
		"preset:default": {
			ImageHandle: "img-1",
			CreatedAt:   time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
			SandboxKind: "default",
		},
		"dockerfile:/proj/Dockerfile": {
			ImageHandle:  "img-2",
			SourceDigest: &digest,
			CreatedAt:    time.Date(2026, 8, 21, 9, 30, 0, 0, time.UTC),
			SandboxKind:  "dockerfile",
		},
	}

	if err := s.Save(want); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got := s.Load()
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got["preset:default"].ImageHandle != "img-1" {
		t.Errorf("expected img-1, got %s", got["preset:default"].ImageHandle)
	}
	if got["preset:default"].SourceDigest != nil {
		t.Errorf("expected nil digest for preset entry")
	}
	df := got["dockerfile:/proj/Dockerfile"]
	if df.SourceDigest == nil || *df.SourceDigest != "abc123" {
		t.Errorf("expected digest abc123, got %v", df.SourceDigest)
	}
	if !df.CreatedAt.Equal(want["dockerfile:/proj/Dockerfile"].CreatedAt) {
		t.Errorf("created_at not preserved: %v", df.CreatedAt)
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	s := New(dir)

	if err := s.Save(map[string]Entry{"k": {ImageHandle: "img"}}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "images.json")); err != nil {
		t.Fatalf("cache file not created: %v", err)
	}
}

func TestSave_ReplacesContents(t *testing.T) {
	s := New(t.TempDir())

	if err := s.Save(map[string]Entry{"a": {ImageHandle: "img-a"}}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := s.Save(map[string]Entry{"b": {ImageHandle: "img-b"}}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got := s.Load()
	if _, ok := got["a"]; ok {
		t.Error("entry a should have been replaced")
	}
	if got["b"].ImageHandle != "img-b" {
		t.Errorf("expected img-b, got %s", got["b"].ImageHandle)
	}
}

func TestLoad_CorruptedJSON(t *testing.T) {
	cases := map[string]string{
		"not json":      "this is not json",
		"truncated":     `{"preset:default": {"image_handle": "img`,
		"wrong types":   `{"preset:default": {"image_handle": 42}}`,
		"array":         `["image_handle"]`,
		"string scalar": `"hello"`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "images.json"), []byte(content), 0644); err != nil {
				t.Fatal(err)
			}
			entries := New(dir).Load()
			if len(entries) != 0 {
				t.Fatalf("expected empty cache for corrupt file, got %d entries", len(entries))
			}
		})
	}
}

func TestLoad_ToleratesUnknownFields(t *testing.T) {
	dir := t.TempDir()
	content := `{"preset:default": {"image_handle": "img-1", "sandbox_kind": "default", "created_at": "2026-08-20T12:00:00Z", "mtime": 12345, "future_field": "x"}}`
	if err := os.WriteFile(filepath.Join(dir, "images.json"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	entries := New(dir).Load()
	if entries["preset:default"].ImageHandle != "img-1" {
		t.Fatalf("expected entry to parse despite unknown fields, got %v", entries)
	}
}

func TestLoad_NullJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "images.json"), []byte("null"), 0644); err != nil {
		t.Fatal(err)
	}
	entries := New(dir).Load()
	if entries == nil {
		t.Fatal("Load() must never return a nil map")
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty cache, got %d entries", len(entries))
	}
}

func TestClear(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Save(map[string]Entry{
		"a": {ImageHandle: "img-a"},
		"b": {ImageHandle: "img-b"},
	}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	if err := s.Clear("a"); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}

	got := s.Load()
	if _, ok := got["a"]; ok {
		t.Error("entry a should be gone")
	}
	if got["b"].ImageHandle != "img-b" {
		t.Error("entry b should survive clearing a")
	}
}

func TestClear_MissingKey(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Clear("nonexistent"); err != nil {
		t.Fatalf("Clear() of missing key should be a no-op, got: %v", err)
	}
}

func TestFileDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Dockerfile")
	if err := os.WriteFile(path, []byte("FROM python:3.13-slim\n"), 0644); err != nil {
		t.Fatal(err)
	}

	d1, err := FileDigest(path)
	if err != nil {
		t.Fatalf("FileDigest() error: %v", err)
	}
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(d1) {
		t.Fatalf("expected 64 hex chars, got %q", d1)
	}

	d2, err := FileDigest(path)
	if err != nil {
		t.Fatalf("FileDigest() error: %v", err)
	}
	if d1 != d2 {
		t.Error("digest must be deterministic")
	}

	if err := os.WriteFile(path, []byte("FROM python:3.13-slim\nRUN true\n"), 0644); err != nil {
		t.Fatal(err)
	}
	d3, err := FileDigest(path)
	if err != nil {
		t.Fatalf("FileDigest() error: %v", err)
	}
	if d3 == d1 {
		t.Error("digest must change when content changes")
	}
}

func TestFileDigest_MissingFile(t *testing.T) {
	_, err := FileDigest(filepath.Join(t.TempDir(), "nope"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got %v", err)
	}
}
