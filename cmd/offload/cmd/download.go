package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/offloadhq/offload/internal/transfer"
)

var downloadCmd = &cobra.Command{
	Use:   "download <sandbox-id> <remote:local>...",
	Short: "Download files or directories from a sandbox",
	Long: `Download each remote path (file or directory) from the sandbox to the
given local path, replacing whatever is there. Specs are processed in
order; the first failure aborts the remaining ones but already completed
downloads are kept.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := checkAPIKey(cfg); err != nil {
			return err
		}

		sandboxID := args[0]
		specs := make([]struct{ remote, local string }, 0, len(args)-1)
		for _, arg := range args[1:] {
			mapping, err := parseMapping(arg)
			if err != nil {
				return fmt.Errorf("invalid download spec %q, expected remote:local", arg)
			}
			specs = append(specs, struct{ remote, local string }{mapping.Local, mapping.Remote})
		}

		_, be := newRunner(cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		for _, spec := range specs {
			if err := transfer.Download(ctx, be, sandboxID, spec.remote, spec.local); err != nil {
				return fmt.Errorf("download %s: %w", spec.remote, err)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}
