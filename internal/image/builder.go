// Package image turns build configuration into remote image handles. The
// base image (toolchain and dependencies) is slow to build and cached;
// the final image layers always-fresh local content on top and is
// rebuilt on every invocation.
package image

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/offloadhq/offload/internal/archive"
	"github.com/offloadhq/offload/internal/ignore"
	"github.com/offloadhq/offload/internal/imagecache"
	"github.com/offloadhq/offload/internal/preset"
	"github.com/offloadhq/offload/pkg/backend"
	"github.com/offloadhq/offload/pkg/types"
)

// Inputs describes what a base image is built from. Exactly one of
// Preset and DockerfilePath is set.
type Inputs struct {
	Preset     *preset.Preset
	PresetName string

	DockerfilePath string
}

// Builder builds or loads cached base images.
type Builder struct {
	be      backend.Backend
	store   *imagecache.Store
	workdir string
}

// NewBuilder creates a base image builder writing through store.
func NewBuilder(be backend.Backend, store *imagecache.Store, workdir string) *Builder {
	return &Builder{be: be, store: store, workdir: workdir}
}

// BuildOrLoad returns the base image handle for key, building it when no
// usable cache entry exists. fresh reports whether a build happened. A
// cache hit is returned without validating the handle against the
// backend; stale handles surface at sandbox creation and are recovered
// there.
func (b *Builder) BuildOrLoad(ctx context.Context, key string, useCache bool, in Inputs) (handle string, fresh bool, err error) {
	var digest string
	if in.DockerfilePath != "" {
		// Validate locally before anything remote, on hit and miss paths
		// alike: a vanished dockerfile is a configuration error, not a
		// build error.
		digest, err = imagecache.FileDigest(in.DockerfilePath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", false, fmt.Errorf("dockerfile %s does not exist", in.DockerfilePath)
			}
			return "", false, err
		}
	}

	if useCache {
		if entry, ok := b.lookup(key, digest); ok {
			log.Printf("build: using cached image %s for %s", entry.ImageHandle, key)
			return entry.ImageHandle, false, nil
		}
	}

	req, err := b.buildRequest(in)
	if err != nil {
		return "", false, err
	}

	log.Printf("build: building base image for %s", key)
	handle, err = b.be.BuildImage(ctx, req)
	if err != nil {
		return "", false, fmt.Errorf("build base image: %w", err)
	}
	if err := b.be.AwaitImage(ctx, handle); err != nil {
		return "", false, fmt.Errorf("build base image: %w", err)
	}

	entry := imagecache.Entry{
		ImageHandle: handle,
		CreatedAt:   time.Now().UTC(),
		SandboxKind: in.kind(),
	}
	if digest != "" {
		entry.SourceDigest = &digest
	}

	entries := b.store.Load()
	entries[key] = entry
	if err := b.store.Save(entries); err != nil {
		// The image is built and usable; a failed cache write only costs
		// the next invocation a rebuild.
		log.Printf("build: failed to save cache entry for %s: %v", key, err)
	}

	return handle, true, nil
}

// lookup finds a usable cache entry for key. Dockerfile entries hit only
// when the stored digest matches the current dockerfile content.
func (b *Builder) lookup(key, digest string) (imagecache.Entry, bool) {
	entry, ok := b.store.Load()[key]
	if !ok {
		return imagecache.Entry{}, false
	}

	if digest != "" {
		if entry.SourceDigest == nil || *entry.SourceDigest != digest {
			log.Printf("build: cached image for %s is stale (dockerfile changed), rebuilding", key)
			return imagecache.Entry{}, false
		}
	}

	return entry, true
}

// buildRequest assembles the backend build request for the given inputs.
func (b *Builder) buildRequest(in Inputs) (backend.BuildRequest, error) {
	if in.DockerfilePath != "" {
		content, err := os.ReadFile(in.DockerfilePath)
		if err != nil {
			return backend.BuildRequest{}, fmt.Errorf("read dockerfile: %w", err)
		}
		return backend.BuildRequest{
			Spec: types.ImageSpec{
				Dockerfile: string(content),
				Workdir:    b.workdir,
			},
			Context: archive.PackZstdStream(filepath.Dir(in.DockerfilePath), ignore.New(nil)),
		}, nil
	}

	p := in.Preset
	return backend.BuildRequest{
		Spec: types.ImageSpec{
			BaseImage:   p.BaseImage,
			AptPackages: p.Apt,
			PipPackages: p.Pip,
			Commands:    p.Commands,
			Env:         p.Env,
			Workdir:     b.workdir,
		},
	}, nil
}

// kind is the sandbox-kind tag recorded in the cache entry.
func (in Inputs) kind() string {
	if in.DockerfilePath != "" {
		return "dockerfile"
	}
	return in.PresetName
}
