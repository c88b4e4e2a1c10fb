package image

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/offloadhq/offload/internal/backendtest"
	"github.com/offloadhq/offload/internal/imagecache"
	"github.com/offloadhq/offload/internal/preset"
)

func testPreset() *preset.Preset {
	return &preset.Preset{BaseImage: "python:3.13-slim", Pip: []string{"pytest"}}
}

func TestBuildOrLoad_CacheHitIsIdempotent(t *testing.T) {
	fake := backendtest.NewFake()
	store := imagecache.New(t.TempDir())
	b := NewBuilder(fake, store, "/app")
	ctx := context.Background()

	in := Inputs{Preset: testPreset(), PresetName: "default"}

	first, fresh, err := b.BuildOrLoad(ctx, "preset:default", true, in)
	if err != nil {
		t.Fatalf("BuildOrLoad() error: %v", err)
	}
	if !fresh {
		t.Fatal("first build should be fresh")
	}
	if fake.BuildCalls != 1 {
		t.Fatalf("expected 1 build call, got %d", fake.BuildCalls)
	}

	second, fresh, err := b.BuildOrLoad(ctx, "preset:default", true, in)
	if err != nil {
		t.Fatalf("BuildOrLoad() error: %v", err)
	}
	if fresh {
		t.Error("cache hit reported fresh")
	}
	if second != first {
		t.Errorf("cache hit returned different handle: %s vs %s", second, first)
	}
	if fake.BuildCalls != 1 {
		t.Errorf("cache hit performed a remote build: %d calls", fake.BuildCalls)
	}
}

func TestBuildOrLoad_NoCacheAlwaysBuilds(t *testing.T) {
	fake := backendtest.NewFake()
	store := imagecache.New(t.TempDir())
	b := NewBuilder(fake, store, "/app")
	ctx := context.Background()

	in := Inputs{Preset: testPreset(), PresetName: "default"}

	first, _, err := b.BuildOrLoad(ctx, "preset:default", false, in)
	if err != nil {
		t.Fatalf("BuildOrLoad() error: %v", err)
	}
	second, fresh, err := b.BuildOrLoad(ctx, "preset:default", false, in)
	if err != nil {
		t.Fatalf("BuildOrLoad() error: %v", err)
	}
	if !fresh {
		t.Error("uncached build not reported fresh")
	}
	if first == second {
		t.Error("uncached builds returned the same handle")
	}
	if fake.BuildCalls != 2 {
		t.Errorf("expected 2 build calls, got %d", fake.BuildCalls)
	}
}

func TestBuildOrLoad_DockerfileDigestInvalidation(t *testing.T) {
	fake := backendtest.NewFake()
	store := imagecache.New(t.TempDir())
	b := NewBuilder(fake, store, "/app")
	ctx := context.Background()

	dockerfile := filepath.Join(t.TempDir(), "Dockerfile")
	if err := os.WriteFile(dockerfile, []byte("FROM python:3.13-slim\n"), 0644); err != nil {
		t.Fatal(err)
	}

	key := imagecache.DockerfileKey(dockerfile)
	in := Inputs{DockerfilePath: dockerfile}

	first, _, err := b.BuildOrLoad(ctx, key, true, in)
	if err != nil {
		t.Fatalf("BuildOrLoad() error: %v", err)
	}

	// Unchanged dockerfile hits the cache.
	hit, fresh, err := b.BuildOrLoad(ctx, key, true, in)
	if err != nil {
		t.Fatalf("BuildOrLoad() error: %v", err)
	}
	if fresh || hit != first {
		t.Fatalf("expected cache hit, got fresh=%v handle=%s", fresh, hit)
	}

	// Changing the content turns the entry stale.
	if err := os.WriteFile(dockerfile, []byte("FROM python:3.13-slim\nRUN pip install pytest\n"), 0644); err != nil {
		t.Fatal(err)
	}
	rebuilt, fresh, err := b.BuildOrLoad(ctx, key, true, in)
	if err != nil {
		t.Fatalf("BuildOrLoad() error: %v", err)
	}
	if !fresh {
		t.Error("stale entry not rebuilt")
	}
	if rebuilt == first {
		t.Error("stale entry returned old handle")
	}

	// The new entry records the new digest.
	wantDigest, err := imagecache.FileDigest(dockerfile)
	if err != nil {
		t.Fatal(err)
	}
	entry := store.Load()[key]
	if entry.SourceDigest == nil || *entry.SourceDigest != wantDigest {
		t.Errorf("entry digest not updated: %v", entry.SourceDigest)
	}
	if entry.SandboxKind != "dockerfile" {
		t.Errorf("unexpected sandbox kind %q", entry.SandboxKind)
	}
}

func TestBuildOrLoad_MissingDockerfileFailsFast(t *testing.T) {
	fake := backendtest.NewFake()
	store := imagecache.New(t.TempDir())
	b := NewBuilder(fake, store, "/app")

	in := Inputs{DockerfilePath: filepath.Join(t.TempDir(), "Dockerfile")}
	_, _, err := b.BuildOrLoad(context.Background(), "dockerfile:whatever", true, in)
	if err == nil {
		t.Fatal("expected error for missing dockerfile")
	}
	if !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("unexpected error: %v", err)
	}
	if fake.BuildCalls != 0 {
		t.Errorf("remote build attempted despite missing dockerfile: %d calls", fake.BuildCalls)
	}
}

func TestBuildOrLoad_PersistsEntry(t *testing.T) {
	fake := backendtest.NewFake()
	dir := t.TempDir()
	b := NewBuilder(fake, imagecache.New(dir), "/app")

	handle, _, err := b.BuildOrLoad(context.Background(), "preset:default", true, Inputs{Preset: testPreset(), PresetName: "default"})
	if err != nil {
		t.Fatalf("BuildOrLoad() error: %v", err)
	}

	// A second store over the same directory sees the entry: it survives
	// across process invocations.
	entry, ok := imagecache.New(dir).Load()["preset:default"]
	if !ok {
		t.Fatal("entry not persisted")
	}
	if entry.ImageHandle != handle {
		t.Errorf("persisted handle %s, want %s", entry.ImageHandle, handle)
	}
	if entry.SandboxKind != "default" {
		t.Errorf("unexpected sandbox kind %q", entry.SandboxKind)
	}
	if entry.SourceDigest != nil {
		t.Errorf("preset entry has a source digest: %v", *entry.SourceDigest)
	}
}
