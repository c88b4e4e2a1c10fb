// Package backendtest provides an in-memory backend for tests: images
// are recorded build specs, sandboxes are temp directories on the local
// filesystem, and commands run for real so exec and transfer paths are
// exercised end to end.
package backendtest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/google/uuid"

	"github.com/offloadhq/offload/internal/archive"
	"github.com/offloadhq/offload/pkg/backend"
	"github.com/offloadhq/offload/pkg/types"
)

type fakeImage struct {
	spec   types.ImageSpec
	layers []storedLayer
	ready  bool
}

type storedLayer struct {
	remotePath string
	tarZst     []byte
}

type fakeSandbox struct {
	id         string
	root       string // local directory standing in for the sandbox filesystem
	workdir    string
	env        map[string]string
	terminated bool
}

// Fake implements backend.Backend in memory. Call counters and the
// RemoveImage hook let tests assert build counts and simulate
// garbage-collected handles.
type Fake struct {
	mu        sync.Mutex
	images    map[string]*fakeImage
	sandboxes map[string]*fakeSandbox

	BuildCalls  int
	CreateCalls int
}

var _ backend.Backend = (*Fake)(nil)

// NewFake creates an empty fake backend.
func NewFake() *Fake {
	return &Fake{
		images:    make(map[string]*fakeImage),
		sandboxes: make(map[string]*fakeSandbox),
	}
}

// BuildImage records the spec and layer contents and returns a fresh
// handle. The image is not materialized until AwaitImage.
func (f *Fake) BuildImage(ctx context.Context, req backend.BuildRequest) (string, error) {
	if req.Spec.BaseHandle != "" {
		f.mu.Lock()
		_, ok := f.images[req.Spec.BaseHandle]
		f.mu.Unlock()
		if !ok {
			return "", fmt.Errorf("%w: %s", backend.ErrImageNotFound, req.Spec.BaseHandle)
		}
	}

	img := &fakeImage{spec: req.Spec}
	if req.Context != nil {
		if _, err := io.Copy(io.Discard, req.Context); err != nil {
			return "", fmt.Errorf("read build context: %w", err)
		}
	}
	for _, l := range req.Layers {
		data, err := io.ReadAll(l.Content)
		if err != nil {
			return "", fmt.Errorf("read layer %s: %w", l.RemotePath, err)
		}
		img.layers = append(img.layers, storedLayer{remotePath: l.RemotePath, tarZst: data})
	}

	handle := "img-" + uuid.New().String()[:8]

	f.mu.Lock()
	f.images[handle] = img
	f.BuildCalls++
	f.mu.Unlock()

	return handle, nil
}

// AwaitImage marks the image materialized.
func (f *Fake) AwaitImage(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[handle]
	if !ok {
		return fmt.Errorf("%w: %s", backend.ErrImageNotFound, handle)
	}
	img.ready = true
	return nil
}

// ResolveImage looks up an image by handle.
func (f *Fake) ResolveImage(ctx context.Context, handle string) (*types.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrImageNotFound, handle)
	}
	status := types.ImageStatusBuilding
	if img.ready {
		status = types.ImageStatusReady
	}
	return &types.Image{Handle: handle, Status: status}, nil
}

// RemoveImage forgets an image, simulating backend garbage collection of
// a cached handle.
func (f *Fake) RemoveImage(handle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.images, handle)
}

// CreateSandbox materializes the image chain into a temp directory and
// returns a running sandbox backed by it.
func (f *Fake) CreateSandbox(ctx context.Context, cfg types.SandboxConfig) (*types.Sandbox, error) {
	f.mu.Lock()
	f.CreateCalls++
	chain, err := f.imageChainLocked(cfg.ImageHandle)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	root, err := os.MkdirTemp("", "offload-fake-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}

	workdir := cfg.Workdir
	if workdir == "" {
		workdir = "/app"
	}
	if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(workdir)), 0755); err != nil {
		os.RemoveAll(root)
		return nil, err
	}

	// Base-most image first so later layers overwrite earlier content.
	for i := len(chain) - 1; i >= 0; i-- {
		for _, l := range chain[i].layers {
			dest, err := securejoin.SecureJoin(root, l.remotePath)
			if err != nil {
				os.RemoveAll(root)
				return nil, err
			}
			if err := os.MkdirAll(dest, 0755); err != nil {
				os.RemoveAll(root)
				return nil, err
			}
			if err := archive.UnpackZstd(bytes.NewReader(l.tarZst), dest); err != nil {
				os.RemoveAll(root)
				return nil, fmt.Errorf("extract layer %s: %w", l.remotePath, err)
			}
		}
	}

	sb := &fakeSandbox{
		id:      "sb-" + uuid.New().String()[:8],
		root:    root,
		workdir: workdir,
		env:     cfg.Env,
	}

	f.mu.Lock()
	f.sandboxes[sb.id] = sb
	f.mu.Unlock()

	return &types.Sandbox{
		ID:          sb.id,
		ImageHandle: cfg.ImageHandle,
		Status:      types.SandboxStatusRunning,
	}, nil
}

// imageChainLocked resolves handle and its base-handle ancestors,
// newest first. Caller holds f.mu.
func (f *Fake) imageChainLocked(handle string) ([]*fakeImage, error) {
	var chain []*fakeImage
	for handle != "" {
		img, ok := f.images[handle]
		if !ok {
			return nil, fmt.Errorf("%w: %s", backend.ErrImageNotFound, handle)
		}
		chain = append(chain, img)
		handle = img.spec.BaseHandle
	}
	return chain, nil
}

// TerminateSandbox terminates a sandbox. Terminating twice is the
// backend's own error, passed through to callers.
func (f *Fake) TerminateSandbox(ctx context.Context, sandboxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sb, ok := f.sandboxes[sandboxID]
	if !ok {
		return fmt.Errorf("%w: %s", backend.ErrSandboxNotFound, sandboxID)
	}
	if sb.terminated {
		return &backend.APIError{Status: 409, Message: "sandbox already terminated"}
	}
	sb.terminated = true
	os.RemoveAll(sb.root)
	return nil
}

func (f *Fake) sandbox(sandboxID string) (*fakeSandbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sb, ok := f.sandboxes[sandboxID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrSandboxNotFound, sandboxID)
	}
	if sb.terminated {
		return nil, &backend.APIError{Status: 409, Message: "sandbox already terminated"}
	}
	return sb, nil
}

// path maps a sandbox-absolute path under the sandbox's local root.
func (sb *fakeSandbox) path(p string) (string, error) {
	return securejoin.SecureJoin(sb.root, p)
}

// Mkdir creates a directory inside the sandbox.
func (f *Fake) Mkdir(ctx context.Context, sandboxID, path string, parents bool) error {
	sb, err := f.sandbox(sandboxID)
	if err != nil {
		return err
	}
	target, err := sb.path(path)
	if err != nil {
		return err
	}
	if parents {
		return os.MkdirAll(target, 0755)
	}
	return os.Mkdir(target, 0755)
}

// ReadFile streams a file out of the sandbox.
func (f *Fake) ReadFile(ctx context.Context, sandboxID, path string) (io.ReadCloser, error) {
	sb, err := f.sandbox(sandboxID)
	if err != nil {
		return nil, err
	}
	target, err := sb.path(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return file, nil
}

// WriteFile streams a file into the sandbox.
func (f *Fake) WriteFile(ctx context.Context, sandboxID, path string, r io.Reader) error {
	sb, err := f.sandbox(sandboxID)
	if err != nil {
		return err
	}
	target, err := sb.path(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	file, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}
