package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/offloadhq/offload/internal/runner"
)

var execCmd = &cobra.Command{
	Use:   "exec <sandbox-id> <command> [args...]",
	Short: "Execute a command in a sandbox",
	Long: `Execute a command in a running sandbox. Output streams live to this
process's own stdout and stderr as it arrives; when the command
finishes, the full result is printed to stdout as JSON and this process
exits with the remote command's exit code.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := checkAPIKey(cfg); err != nil {
			return err
		}

		_, be := newRunner(cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()

		result, err := runner.ExecCapture(ctx, be, args[0], args[1:], os.Stdout, os.Stderr)
		if err != nil {
			return err
		}

		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		fmt.Println(string(data))

		if result.ExitCode != 0 {
			return &ExitCodeError{Code: result.ExitCode}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(execCmd)

	// Stop parsing flags after the first non-flag arg so that arguments
	// like --version are passed to the sandbox command, not interpreted
	// by Cobra.
	execCmd.Flags().SetInterspersed(false)
}
