package backend_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/offloadhq/offload/internal/archive"
	"github.com/offloadhq/offload/internal/backendtest"
	"github.com/offloadhq/offload/internal/ignore"
	"github.com/offloadhq/offload/pkg/backend"
	"github.com/offloadhq/offload/pkg/types"
)

func testClient(t *testing.T) *backend.Client {
	t.Helper()
	srv := backendtest.NewServer(backendtest.NewFake())
	t.Cleanup(srv.Close)
	return backend.NewClient(srv.URL, backendtest.TestAPIKey)
}

func buildReady(t *testing.T, c *backend.Client, req backend.BuildRequest) string {
	t.Helper()
	ctx := context.Background()
	handle, err := c.BuildImage(ctx, req)
	if err != nil {
		t.Fatalf("BuildImage() error: %v", err)
	}
	if err := c.AwaitImage(ctx, handle); err != nil {
		t.Fatalf("AwaitImage() error: %v", err)
	}
	return handle
}

func TestResolveImage_NotFoundSentinel(t *testing.T) {
	c := testClient(t)

	_, err := c.ResolveImage(context.Background(), "img-nope")
	if !errors.Is(err, backend.ErrImageNotFound) {
		t.Fatalf("expected ErrImageNotFound, got %v", err)
	}
}

func TestTerminateSandbox_NotFoundSentinel(t *testing.T) {
	c := testClient(t)

	err := c.TerminateSandbox(context.Background(), "sb-nope")
	if !errors.Is(err, backend.ErrSandboxNotFound) {
		t.Fatalf("expected ErrSandboxNotFound, got %v", err)
	}
}

func TestAPIErrorFormat(t *testing.T) {
	srv := backendtest.NewServer(backendtest.NewFake())
	t.Cleanup(srv.Close)
	c := backend.NewClient(srv.URL, "wrong-key")

	_, err := c.ResolveImage(context.Background(), "img-x")
	if err == nil {
		t.Fatal("expected auth failure")
	}
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != 401 {
		t.Errorf("status %d, want 401", apiErr.Status)
	}
	if !strings.HasPrefix(err.Error(), "API error (status 401):") {
		t.Errorf("unexpected format: %s", err.Error())
	}
}

func TestBuildAndCreateOverHTTP(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	// A base image, then a layered image whose layer content must land
	// in the sandbox, all through the real multipart/HTTP path.
	base := buildReady(t, c, backend.BuildRequest{
		Spec: types.ImageSpec{BaseImage: "python:3.13-slim", Workdir: "/app"},
	})

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "hello.txt"), []byte("layered\n"), 0644); err != nil {
		t.Fatal(err)
	}

	final := buildReady(t, c, backend.BuildRequest{
		Spec: types.ImageSpec{
			BaseHandle: base,
			Workdir:    "/app",
			Layers:     []types.Layer{{RemotePath: "/app"}},
		},
		Layers: []backend.LayerUpload{
			{RemotePath: "/app", Content: archive.PackZstdStream(src, ignore.New(nil))},
		},
	})
	if final == base {
		t.Fatal("layered build returned the base handle")
	}

	sb, err := c.CreateSandbox(ctx, types.SandboxConfig{ImageHandle: final, Workdir: "/app"})
	if err != nil {
		t.Fatalf("CreateSandbox() error: %v", err)
	}
	if sb.Status != types.SandboxStatusRunning {
		t.Errorf("sandbox status %s, want running", sb.Status)
	}

	rc, err := c.ReadFile(ctx, sb.ID, "/app/hello.txt")
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "layered\n" {
		t.Errorf("layer content mismatch: %q", got)
	}
}

func TestCreateSandbox_UnresolvableImage(t *testing.T) {
	c := testClient(t)

	_, err := c.CreateSandbox(context.Background(), types.SandboxConfig{ImageHandle: "img-gone"})
	if !errors.Is(err, backend.ErrImageNotFound) {
		t.Fatalf("expected ErrImageNotFound, got %v", err)
	}
}

func TestFileRoundTripOverHTTP(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	handle := buildReady(t, c, backend.BuildRequest{
		Spec: types.ImageSpec{BaseImage: "python:3.13-slim", Workdir: "/app"},
	})
	sb, err := c.CreateSandbox(ctx, types.SandboxConfig{ImageHandle: handle, Workdir: "/app"})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Mkdir(ctx, sb.ID, "/app/deep/nested", true); err != nil {
		t.Fatalf("Mkdir() error: %v", err)
	}
	if err := c.WriteFile(ctx, sb.ID, "/app/deep/nested/f.txt", bytes.NewReader([]byte("payload"))); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	rc, err := c.ReadFile(ctx, sb.ID, "/app/deep/nested/f.txt")
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Errorf("content mismatch: %q", got)
	}
}

func TestExecOverWebSocket(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	handle := buildReady(t, c, backend.BuildRequest{
		Spec: types.ImageSpec{BaseImage: "python:3.13-slim", Workdir: "/app"},
	})
	sb, err := c.CreateSandbox(ctx, types.SandboxConfig{ImageHandle: handle, Workdir: "/app"})
	if err != nil {
		t.Fatal(err)
	}

	proc, err := c.Exec(ctx, sb.ID, types.ProcessConfig{
		Command: "sh",
		Args:    []string{"-c", "printf out-data; printf err-data >&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	defer proc.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan struct{}, 2)
	go func() { io.Copy(&stdout, proc.Stdout()); done <- struct{}{} }()
	go func() { io.Copy(&stderr, proc.Stderr()); done <- struct{}{} }()
	<-done
	<-done

	code, err := proc.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code %d, want 3", code)
	}
	if stdout.String() != "out-data" {
		t.Errorf("stdout %q", stdout.String())
	}
	if stderr.String() != "err-data" {
		t.Errorf("stderr %q", stderr.String())
	}
}
