package image

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/offloadhq/offload/internal/archive"
	"github.com/offloadhq/offload/internal/ignore"
	"github.com/offloadhq/offload/pkg/backend"
	"github.com/offloadhq/offload/pkg/types"
)

// ComposeOptions selects the always-fresh content layered on top of a
// base image.
type ComposeOptions struct {
	// IncludeCWD layers CWD at the image workdir.
	IncludeCWD bool
	CWD        string

	// Dirs are explicit local-to-remote directory mappings, applied in
	// order after the CWD layer.
	Dirs []types.DirMapping

	Matcher *ignore.Matcher
}

// SkippedDir records an explicit mapping whose local side was missing or
// not a directory. Skips are per-entry warnings, not aborting errors.
type SkippedDir struct {
	Local  string
	Reason string
}

// Composer layers local content on top of base images. Its output is
// never cached: freshness of the layered content is the whole point.
type Composer struct {
	be      backend.Backend
	workdir string
}

// NewComposer creates a composer.
func NewComposer(be backend.Backend, workdir string) *Composer {
	return &Composer{be: be, workdir: workdir}
}

// Compose builds the final image for sandbox creation: base plus the
// requested local content. With nothing to layer, the final image IS the
// base and no build is submitted.
func (c *Composer) Compose(ctx context.Context, base string, opts ComposeOptions) (string, []SkippedDir, error) {
	var layers []backend.LayerUpload
	var skipped []SkippedDir

	if opts.IncludeCWD {
		cwd := opts.CWD
		if cwd == "" {
			var err error
			if cwd, err = os.Getwd(); err != nil {
				return "", nil, fmt.Errorf("resolve working directory: %w", err)
			}
		}
		layers = append(layers, backend.LayerUpload{
			RemotePath: c.workdir,
			Content:    archive.PackZstdStream(cwd, opts.Matcher),
		})
	}

	for _, dir := range opts.Dirs {
		info, err := os.Stat(dir.Local)
		switch {
		case err != nil:
			skipped = append(skipped, SkippedDir{Local: dir.Local, Reason: "does not exist"})
			continue
		case !info.IsDir():
			skipped = append(skipped, SkippedDir{Local: dir.Local, Reason: "not a directory"})
			continue
		}
		layers = append(layers, backend.LayerUpload{
			RemotePath: dir.Remote,
			Content:    archive.PackZstdStream(dir.Local, opts.Matcher),
		})
	}

	if len(layers) == 0 {
		return base, skipped, nil
	}

	log.Printf("build: layering %d directories onto %s", len(layers), base)

	spec := types.ImageSpec{BaseHandle: base, Workdir: c.workdir}
	for _, l := range layers {
		spec.Layers = append(spec.Layers, types.Layer{RemotePath: l.RemotePath})
	}

	handle, err := c.be.BuildImage(ctx, backend.BuildRequest{Spec: spec, Layers: layers})
	if err != nil {
		return "", skipped, fmt.Errorf("compose image: %w", err)
	}
	if err := c.be.AwaitImage(ctx, handle); err != nil {
		return "", skipped, fmt.Errorf("compose image: %w", err)
	}

	return handle, skipped, nil
}
