// Package runner orchestrates the full sandbox workflow: build or load
// the base image, layer fresh content, create the sandbox, and recover
// when a cached image handle has gone stale on the backend.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/offloadhq/offload/internal/config"
	"github.com/offloadhq/offload/internal/ignore"
	"github.com/offloadhq/offload/internal/image"
	"github.com/offloadhq/offload/internal/imagecache"
	"github.com/offloadhq/offload/internal/preset"
	"github.com/offloadhq/offload/pkg/backend"
	"github.com/offloadhq/offload/pkg/types"
)

// StaleImageError reports an image handle the backend no longer resolves
// and that could not be recovered by a rebuild. Its message names the
// cache file so the user can clear state by hand.
type StaleImageError struct {
	Handle    string
	CachePath string
}

func (e *StaleImageError) Error() string {
	return fmt.Sprintf("image %s no longer resolves on the backend and could not be rebuilt; delete %s and run prepare again", e.Handle, e.CachePath)
}

// Runner ties the builder, composer, and backend together for one
// invocation.
type Runner struct {
	be       backend.Backend
	store    *imagecache.Store
	builder  *image.Builder
	composer *image.Composer
	cfg      *config.Config
}

// New creates a runner. The cache store is injected explicitly; every
// load-mutate-save happens within one invocation.
func New(be backend.Backend, store *imagecache.Store, cfg *config.Config) *Runner {
	return &Runner{
		be:       be,
		store:    store,
		builder:  image.NewBuilder(be, store, cfg.Workdir),
		composer: image.NewComposer(be, cfg.Workdir),
		cfg:      cfg,
	}
}

// PrepareOptions selects what image to prepare. DockerfilePath wins over
// PresetName when both are set.
type PrepareOptions struct {
	PresetName     string
	DockerfilePath string
	UseCache       bool

	IncludeCWD bool
	CWD        string
	Dirs       []types.DirMapping
	Matcher    *ignore.Matcher
}

// Prepared is a final image handle together with the recipe that
// produced it, kept so stale-handle recovery can rebuild from scratch.
type Prepared struct {
	Handle string
	Fresh  bool

	key     string
	inputs  image.Inputs
	compose image.ComposeOptions
}

// Prepare builds or loads the base image and layers fresh local content
// on top, returning the final image handle ready for sandbox creation.
func (r *Runner) Prepare(ctx context.Context, opts PrepareOptions) (*Prepared, error) {
	key, inputs, err := r.resolveInputs(opts.PresetName, opts.DockerfilePath)
	if err != nil {
		return nil, err
	}

	base, fresh, err := r.builder.BuildOrLoad(ctx, key, opts.UseCache, inputs)
	if err != nil {
		return nil, err
	}

	composeOpts := image.ComposeOptions{
		IncludeCWD: opts.IncludeCWD,
		CWD:        opts.CWD,
		Dirs:       opts.Dirs,
		Matcher:    opts.Matcher,
	}
	handle, skipped, err := r.composer.Compose(ctx, base, composeOpts)
	if err != nil {
		return nil, err
	}
	warnSkipped(skipped)

	return &Prepared{
		Handle:  handle,
		Fresh:   fresh,
		key:     key,
		inputs:  inputs,
		compose: composeOpts,
	}, nil
}

// resolveInputs maps CLI-level selection onto a cache key and build
// inputs. Unknown presets fail here, before any remote call.
func (r *Runner) resolveInputs(presetName, dockerfilePath string) (string, image.Inputs, error) {
	if dockerfilePath != "" {
		return imagecache.DockerfileKey(dockerfilePath), image.Inputs{DockerfilePath: dockerfilePath}, nil
	}

	if presetName == "" {
		presetName = "default"
	}
	p, err := preset.Get(presetName, r.cfg.PresetsFile)
	if err != nil {
		return "", image.Inputs{}, err
	}
	return imagecache.PresetKey(presetName), image.Inputs{Preset: p, PresetName: presetName}, nil
}

// CreateOptions configures sandbox creation. Prepared, when set, carries
// the recipe used for stale-handle recovery; without it the runner falls
// back to matching the bare handle against cache entries.
type CreateOptions struct {
	ImageHandle string
	Prepared    *Prepared

	Workdir string
	Timeout int // seconds
	Env     map[string]string
	Secrets []string
}

// CreateSandbox creates a sandbox from opts.ImageHandle. When the
// backend reports the handle unresolvable, the corresponding cache entry
// is cleared, the image rebuilt from its recipe, and creation retried
// exactly once; a second failure is fatal.
func (r *Runner) CreateSandbox(ctx context.Context, opts CreateOptions) (*types.Sandbox, error) {
	cfg := types.SandboxConfig{
		ImageHandle: opts.ImageHandle,
		Workdir:     opts.Workdir,
		Timeout:     opts.Timeout,
		Env:         opts.Env,
		Secrets:     opts.Secrets,
	}

	sb, err := r.be.CreateSandbox(ctx, cfg)
	if err == nil {
		return sb, nil
	}
	if !errors.Is(err, backend.ErrImageNotFound) {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}

	log.Printf("sandbox: image %s no longer resolves, rebuilding from scratch", opts.ImageHandle)

	handle, rebuildErr := r.rebuild(ctx, opts)
	if rebuildErr != nil {
		return nil, errors.Join(&StaleImageError{Handle: opts.ImageHandle, CachePath: r.store.Path()}, rebuildErr)
	}

	cfg.ImageHandle = handle
	sb, err = r.be.CreateSandbox(ctx, cfg)
	if err != nil {
		if errors.Is(err, backend.ErrImageNotFound) {
			return nil, &StaleImageError{Handle: handle, CachePath: r.store.Path()}
		}
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	return sb, nil
}

// rebuild recovers a fresh final image for opts after its handle went
// stale: clear the cache entry, rebuild the base, recompose the layers.
func (r *Runner) rebuild(ctx context.Context, opts CreateOptions) (string, error) {
	key, inputs, composeOpts, err := r.recipe(opts)
	if err != nil {
		return "", err
	}

	if err := r.store.Clear(key); err != nil {
		return "", err
	}

	base, _, err := r.builder.BuildOrLoad(ctx, key, true, inputs)
	if err != nil {
		return "", err
	}

	handle, skipped, err := r.composer.Compose(ctx, base, composeOpts)
	if err != nil {
		return "", err
	}
	warnSkipped(skipped)

	return handle, nil
}

// recipe derives how to rebuild the image behind opts.ImageHandle. The
// Prepared recipe from this invocation is authoritative; otherwise a
// cache entry whose handle matches identifies a base image that can be
// rebuilt from its key alone (no layers were composed on top of it).
func (r *Runner) recipe(opts CreateOptions) (string, image.Inputs, image.ComposeOptions, error) {
	if p := opts.Prepared; p != nil {
		return p.key, p.inputs, p.compose, nil
	}

	for key, entry := range r.store.Load() {
		if entry.ImageHandle != opts.ImageHandle {
			continue
		}
		kind, value, ok := imagecache.SplitKey(key)
		if !ok {
			continue
		}
		switch kind {
		case "preset":
			p, err := preset.Get(value, r.cfg.PresetsFile)
			if err != nil {
				return "", image.Inputs{}, image.ComposeOptions{}, err
			}
			return key, image.Inputs{Preset: p, PresetName: value}, image.ComposeOptions{}, nil
		case "dockerfile":
			return key, image.Inputs{DockerfilePath: value}, image.ComposeOptions{}, nil
		}
	}

	return "", image.Inputs{}, image.ComposeOptions{},
		fmt.Errorf("no cache entry matches image %s, cannot rebuild", opts.ImageHandle)
}

// Terminate terminates a sandbox. Backend errors pass through
// unmodified: terminating twice surfaces the backend's own error.
func (r *Runner) Terminate(ctx context.Context, sandboxID string) error {
	return r.be.TerminateSandbox(ctx, sandboxID)
}

func warnSkipped(skipped []image.SkippedDir) {
	for _, s := range skipped {
		log.Printf("build: skipping %s: %s", s.Local, s.Reason)
	}
}
