// Package backend defines the surface of the remote compute service this
// tool drives: image builds, sandbox lifecycle, command execution, and
// file access. The service owns the underlying image and sandbox storage;
// this side only holds the opaque handles it returns.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/offloadhq/offload/pkg/types"
)

// ErrImageNotFound is returned when an image handle no longer resolves
// on the backend, typically because it was garbage-collected. Callers
// treat this as cache invalidation.
var ErrImageNotFound = errors.New("image not found")

// ErrSandboxNotFound is returned for operations against a sandbox ID the
// backend does not know, including a sandbox that was already terminated
// and reaped.
var ErrSandboxNotFound = errors.New("sandbox not found")

// APIError is a non-404 failure response from the backend API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Message)
}

// LayerUpload is one directory tree added on top of a base image. The
// content stream is a zstd-compressed tar produced by internal/archive.
type LayerUpload struct {
	RemotePath string
	Content    io.Reader
}

// BuildRequest describes one image build: the spec, an optional
// dockerfile build context, and ordered layer streams.
type BuildRequest struct {
	Spec types.ImageSpec

	// Context is a zstd-compressed tar of the dockerfile's directory.
	// Only set for dockerfile builds.
	Context io.Reader

	Layers []LayerUpload
}

// Backend is the remote compute service.
type Backend interface {
	// BuildImage submits a build and returns its handle. The backend may
	// build lazily; AwaitImage blocks until the image is materialized.
	BuildImage(ctx context.Context, req BuildRequest) (string, error)
	AwaitImage(ctx context.Context, handle string) error

	// ResolveImage looks up an image by handle. Returns ErrImageNotFound
	// for handles the backend no longer knows.
	ResolveImage(ctx context.Context, handle string) (*types.Image, error)

	// CreateSandbox starts a sandbox from cfg.ImageHandle. Returns
	// ErrImageNotFound when the handle does not resolve.
	CreateSandbox(ctx context.Context, cfg types.SandboxConfig) (*types.Sandbox, error)
	TerminateSandbox(ctx context.Context, sandboxID string) error

	// Exec starts one command inside a running sandbox.
	Exec(ctx context.Context, sandboxID string, cfg types.ProcessConfig) (Process, error)

	// Filesystem access inside a running sandbox.
	Mkdir(ctx context.Context, sandboxID, path string, parents bool) error
	ReadFile(ctx context.Context, sandboxID, path string) (io.ReadCloser, error)
	WriteFile(ctx context.Context, sandboxID, path string, r io.Reader) error

	// PTY opens an interactive shell session.
	PTY(ctx context.Context, sandboxID string, cols, rows int) (PTYStream, error)
}

// Process is a running remote command. Stdout and Stderr stream output
// as it arrives; Wait blocks until the command exits and returns its
// exit code. Close releases the underlying connection.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Wait(ctx context.Context) (int, error)
	Close() error
}

// PTYStream is a bidirectional terminal session. Reads return remote
// terminal output, writes send keystrokes, Resize propagates local
// terminal size changes.
type PTYStream interface {
	io.ReadWriteCloser
	Resize(cols, rows int) error
}
