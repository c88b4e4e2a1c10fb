package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/offloadhq/offload/pkg/backend"
	"github.com/offloadhq/offload/pkg/types"
)

// ExecCapture runs argv inside a sandbox, streaming both output channels
// to the supplied writers as they arrive while also buffering them for
// the structured result. The returned exit code is the remote command's.
func ExecCapture(ctx context.Context, be backend.Backend, sandboxID string, argv []string, stdout, stderr io.Writer) (types.ExecResult, error) {
	if len(argv) == 0 {
		return types.ExecResult{}, fmt.Errorf("no command given")
	}

	cfg := types.ProcessConfig{Command: argv[0], Args: argv[1:]}
	proc, err := be.Exec(ctx, sandboxID, cfg)
	if err != nil {
		return types.ExecResult{}, fmt.Errorf("exec in sandbox %s: %w", sandboxID, err)
	}
	defer proc.Close()

	var outBuf, errBuf bytes.Buffer

	// Drain both streams in parallel; each stream tees into its live
	// writer and its buffer.
	errCh := make(chan error, 2)
	go func() {
		_, err := io.Copy(io.MultiWriter(stdout, &outBuf), proc.Stdout())
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(io.MultiWriter(stderr, &errBuf), proc.Stderr())
		errCh <- err
	}()

	var copyErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && copyErr == nil {
			copyErr = err
		}
	}

	exitCode, err := proc.Wait(ctx)
	if err != nil {
		return types.ExecResult{}, fmt.Errorf("wait for command: %w", err)
	}
	if copyErr != nil {
		return types.ExecResult{}, fmt.Errorf("stream command output: %w", copyErr)
	}

	return types.ExecResult{
		ExitCode: exitCode,
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
	}, nil
}
