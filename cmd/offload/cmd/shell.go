package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var shellCmd = &cobra.Command{
	Use:   "shell <sandbox-id>",
	Short: "Open an interactive shell in a sandbox",
	Long: `Open an interactive terminal session inside a running sandbox. The local
terminal is put into raw mode and resizes are propagated.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := checkAPIKey(cfg); err != nil {
			return err
		}

		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return fmt.Errorf("shell requires an interactive terminal")
		}

		cols, rows, err := term.GetSize(fd)
		if err != nil {
			return fmt.Errorf("get terminal size: %w", err)
		}

		_, be := newRunner(cfg)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		stream, err := be.PTY(ctx, args[0], cols, rows)
		if err != nil {
			return err
		}
		defer stream.Close()

		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("set raw mode: %w", err)
		}
		defer term.Restore(fd, oldState)

		// Propagate local terminal resizes to the remote PTY.
		winch := make(chan os.Signal, 1)
		signal.Notify(winch, syscall.SIGWINCH)
		defer signal.Stop(winch)
		go func() {
			for range winch {
				if c, r, err := term.GetSize(fd); err == nil {
					_ = stream.Resize(c, r)
				}
			}
		}()

		go func() {
			io.Copy(stream, os.Stdin)
			cancel()
		}()

		// The session ends when the remote shell exits and the stream
		// closes.
		io.Copy(os.Stdout, stream)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}
