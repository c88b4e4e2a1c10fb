package cmd

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/offloadhq/offload/internal/runner"
)

var prepareCmd = &cobra.Command{
	Use:   "prepare [dockerfile]",
	Short: "Build or load an execution image and print its handle",
	Long: `Build the base image (from a preset or a dockerfile), layer fresh local
content on top, and print the final image handle to stdout.

With --cached, a previously built base image is reused when its inputs
are unchanged; dockerfile-based entries are invalidated automatically
when the dockerfile's content changes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := checkAPIKey(cfg); err != nil {
			return err
		}

		presetName, _ := cmd.Flags().GetString("preset")
		cached, _ := cmd.Flags().GetBool("cached")
		includeCWD, _ := cmd.Flags().GetBool("include-cwd")
		copyDirs, _ := cmd.Flags().GetStringArray("copy-dir")

		opts := runner.PrepareOptions{
			PresetName: presetName,
			UseCache:   cached,
			IncludeCWD: includeCWD,
		}

		// A dockerfile positional wins over --preset. The key uses the
		// absolute path so invocations from different directories share
		// cache entries.
		if len(args) == 1 {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve dockerfile path: %w", err)
			}
			opts.DockerfilePath = path
		}

		for _, spec := range copyDirs {
			mapping, err := parseMapping(spec)
			if err != nil {
				return err
			}
			opts.Dirs = append(opts.Dirs, mapping)
		}

		if opts.Matcher, err = loadMatcher(cfg); err != nil {
			return err
		}

		r, _ := newRunner(cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		prepared, err := r.Prepare(ctx, opts)
		if err != nil {
			return err
		}

		if prepared.Fresh {
			log.Printf("prepare: built image %s", prepared.Handle)
		} else {
			log.Printf("prepare: reusing image %s", prepared.Handle)
		}
		fmt.Println(prepared.Handle)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(prepareCmd)

	prepareCmd.Flags().String("preset", "default", "Preset to build when no dockerfile is given")
	prepareCmd.Flags().Bool("cached", false, "Reuse a previously built base image when inputs are unchanged")
	prepareCmd.Flags().Bool("include-cwd", false, "Layer the current working directory at the image workdir")
	prepareCmd.Flags().StringArray("copy-dir", nil, "Layer a directory into the image as local:remote (repeatable)")
}
