package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/offloadhq/offload/internal/runner"
	"github.com/offloadhq/offload/internal/transfer"
)

var runCmd = &cobra.Command{
	Use:   "run [dockerfile] -- <command> [args...]",
	Short: "Prepare, create, execute, download, and destroy in one shot",
	Long: `Run one command in a fresh sandbox: build or load the image, create the
sandbox, execute the command, download requested outputs, and terminate
the sandbox (unless --keep). The exec result is printed to stdout as
JSON and this process exits with the remote command's exit code.

Example: offload run --cached --include-cwd --download /app/report:./report -- pytest -q`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := checkAPIKey(cfg); err != nil {
			return err
		}

		// Everything before the -- separator selects the image; the rest
		// is the command to run.
		var dockerfile string
		command := args
		if dash := cmd.ArgsLenAtDash(); dash >= 0 {
			if dash > 1 {
				return fmt.Errorf("expected at most one dockerfile before --")
			}
			if dash == 1 {
				dockerfile = args[0]
			}
			command = args[dash:]
		}
		if len(command) == 0 {
			return fmt.Errorf("no command given")
		}

		presetName, _ := cmd.Flags().GetString("preset")
		cached, _ := cmd.Flags().GetBool("cached")
		includeCWD, _ := cmd.Flags().GetBool("include-cwd")
		copyDirs, _ := cmd.Flags().GetStringArray("copy-dir")
		envPairs, _ := cmd.Flags().GetStringArray("env")
		secrets, _ := cmd.Flags().GetStringArray("secret")
		downloads, _ := cmd.Flags().GetStringArray("download")
		keep, _ := cmd.Flags().GetBool("keep")

		env, err := parseEnvVars(envPairs)
		if err != nil {
			return err
		}

		prepOpts := runner.PrepareOptions{
			PresetName: presetName,
			UseCache:   cached,
			IncludeCWD: includeCWD,
		}
		if dockerfile != "" {
			if prepOpts.DockerfilePath, err = filepath.Abs(dockerfile); err != nil {
				return fmt.Errorf("resolve dockerfile path: %w", err)
			}
		}
		for _, spec := range copyDirs {
			mapping, err := parseMapping(spec)
			if err != nil {
				return err
			}
			prepOpts.Dirs = append(prepOpts.Dirs, mapping)
		}
		if prepOpts.Matcher, err = loadMatcher(cfg); err != nil {
			return err
		}

		r, be := newRunner(cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()

		prepared, err := r.Prepare(ctx, prepOpts)
		if err != nil {
			return err
		}

		sb, err := r.CreateSandbox(ctx, runner.CreateOptions{
			ImageHandle: prepared.Handle,
			Prepared:    prepared,
			Workdir:     cfg.Workdir,
			Timeout:     cfg.TimeoutSecs,
			Env:         env,
			Secrets:     secrets,
		})
		if err != nil {
			return err
		}
		log.Printf("run: sandbox %s", sb.ID)

		if !keep {
			defer func() {
				if err := r.Terminate(context.Background(), sb.ID); err != nil {
					log.Printf("run: failed to terminate sandbox %s: %v", sb.ID, err)
				}
			}()
		} else {
			defer log.Printf("run: keeping sandbox %s", sb.ID)
		}

		result, err := runner.ExecCapture(ctx, be, sb.ID, command, os.Stdout, os.Stderr)
		if err != nil {
			return err
		}

		for _, spec := range downloads {
			mapping, err := parseMapping(spec)
			if err != nil {
				return fmt.Errorf("invalid download spec %q, expected remote:local", spec)
			}
			if err := transfer.Download(ctx, be, sb.ID, mapping.Local, mapping.Remote); err != nil {
				return fmt.Errorf("download %s: %w", mapping.Local, err)
			}
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
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("preset", "default", "Preset to build when no dockerfile is given")
	runCmd.Flags().Bool("cached", false, "Reuse a previously built base image when inputs are unchanged")
	runCmd.Flags().Bool("include-cwd", false, "Layer the current working directory at the image workdir")
	runCmd.Flags().StringArray("copy-dir", nil, "Layer a directory into the image as local:remote (repeatable)")
	runCmd.Flags().StringArray("env", nil, "Environment variable as KEY=VALUE (repeatable)")
	runCmd.Flags().StringArray("secret", nil, "Backend-held secret to expose in the sandbox (repeatable)")
	runCmd.Flags().StringArray("download", nil, "Download remote:local after the command finishes (repeatable)")
	runCmd.Flags().Bool("keep", false, "Leave the sandbox running for later reuse by ID")
}
