package backendtest

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/creack/pty"

	"github.com/offloadhq/offload/pkg/backend"
)

// PTY starts an interactive shell in the sandbox's directory under a
// real pseudo-terminal.
func (f *Fake) PTY(ctx context.Context, sandboxID string, cols, rows int) (backend.PTYStream, error) {
	sb, err := f.sandbox(sandboxID)
	if err != nil {
		return nil, err
	}

	cwd, err := sb.path(sb.workdir)
	if err != nil {
		return nil, err
	}

	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	cmd := exec.CommandContext(ctx, "/bin/sh")
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	return &ptySession{cmd: cmd, ptmx: ptmx}, nil
}

type ptySession struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

func (p *ptySession) Read(buf []byte) (int, error)  { return p.ptmx.Read(buf) }
func (p *ptySession) Write(buf []byte) (int, error) { return p.ptmx.Write(buf) }

func (p *ptySession) Resize(cols, rows int) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (p *ptySession) Close() error {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return p.ptmx.Close()
}
