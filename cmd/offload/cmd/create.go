package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/offloadhq/offload/internal/runner"
	"github.com/offloadhq/offload/internal/transfer"
)

var createCmd = &cobra.Command{
	Use:   "create <image-handle>",
	Short: "Create a sandbox from an image handle",
	Long: `Create a sandbox from a previously prepared image handle and print the
sandbox ID to stdout.

When the backend no longer resolves the handle (for example it was
garbage-collected), the matching cache entry is cleared, the image
rebuilt, and creation retried once.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := checkAPIKey(cfg); err != nil {
			return err
		}

		copyDirs, _ := cmd.Flags().GetStringArray("copy-dir")
		envPairs, _ := cmd.Flags().GetStringArray("env")
		secrets, _ := cmd.Flags().GetStringArray("secret")
		workdir, _ := cmd.Flags().GetString("workdir")
		timeout, _ := cmd.Flags().GetInt("timeout")

		env, err := parseEnvVars(envPairs)
		if err != nil {
			return err
		}
		if workdir == "" {
			workdir = cfg.Workdir
		}
		if timeout == 0 {
			timeout = cfg.TimeoutSecs
		}

		matcher, err := loadMatcher(cfg)
		if err != nil {
			return err
		}

		r, be := newRunner(cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		sb, err := r.CreateSandbox(ctx, runner.CreateOptions{
			ImageHandle: args[0],
			Workdir:     workdir,
			Timeout:     timeout,
			Env:         env,
			Secrets:     secrets,
		})
		if err != nil {
			return err
		}
		log.Printf("sandbox: created %s", sb.ID)

		// Copy-dirs at create time go into the running sandbox, not the
		// image: they are not part of any cacheable layer.
		for _, spec := range copyDirs {
			mapping, err := parseMapping(spec)
			if err != nil {
				return err
			}
			if err := transfer.Upload(ctx, be, sb.ID, mapping.Local, mapping.Remote, matcher); err != nil {
				return fmt.Errorf("copy %s: %w", mapping.Local, err)
			}
		}

		fmt.Println(sb.ID)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringArray("copy-dir", nil, "Upload a directory into the sandbox as local:remote (repeatable)")
	createCmd.Flags().StringArray("env", nil, "Environment variable as KEY=VALUE (repeatable)")
	createCmd.Flags().StringArray("secret", nil, "Backend-held secret to expose in the sandbox (repeatable)")
	createCmd.Flags().String("workdir", "", "Sandbox working directory (default from OFFLOAD_WORKDIR)")
	createCmd.Flags().Int("timeout", 0, "Sandbox lifetime in seconds (default from OFFLOAD_TIMEOUT)")
}
