package backendtest

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/klauspost/compress/gzip"

	"github.com/offloadhq/offload/internal/archive"
	"github.com/offloadhq/offload/pkg/backend"
	"github.com/offloadhq/offload/pkg/types"
)

// Exec runs a command in the sandbox. Commands that reference
// sandbox-absolute paths (the tar and rm lines the transfer engine
// issues) are interpreted against the sandbox's local root, since the
// host filesystem is not actually rooted there; everything else runs in
// a real shell with the sandbox workdir as cwd.
func (f *Fake) Exec(ctx context.Context, sandboxID string, cfg types.ProcessConfig) (backend.Process, error) {
	sb, err := f.sandbox(sandboxID)
	if err != nil {
		return nil, err
	}

	if p, ok := sb.interpret(cfg); ok {
		return p, nil
	}

	cwd, err := sb.path(sb.workdir)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()
	for k, v := range sb.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	return &localProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

// localProcess wraps a host process started for a sandbox command.
type localProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *localProcess) Stdout() io.Reader { return p.stdout }
func (p *localProcess) Stderr() io.Reader { return p.stderr }

func (p *localProcess) Wait(ctx context.Context) (int, error) {
	err := p.cmd.Wait()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

func (p *localProcess) Close() error {
	if p.cmd.Process != nil && p.cmd.ProcessState == nil {
		_ = p.cmd.Process.Kill()
	}
	return nil
}

// doneProcess is an already-completed interpreted command.
type doneProcess struct {
	stdout   *bytes.Reader
	stderr   *bytes.Reader
	exitCode int
}

func newDoneProcess(exitCode int, stderr string) *doneProcess {
	return &doneProcess{
		stdout:   bytes.NewReader(nil),
		stderr:   bytes.NewReader([]byte(stderr)),
		exitCode: exitCode,
	}
}

func (p *doneProcess) Stdout() io.Reader { return p.stdout }
func (p *doneProcess) Stderr() io.Reader { return p.stderr }

func (p *doneProcess) Wait(ctx context.Context) (int, error) { return p.exitCode, nil }

func (p *doneProcess) Close() error { return nil }

// interpret handles the remote archive commands against the mapped
// sandbox root. Returns ok=false for anything it does not recognize.
func (sb *fakeSandbox) interpret(cfg types.ProcessConfig) (backend.Process, bool) {
	if cfg.Command != "sh" || len(cfg.Args) != 2 || cfg.Args[0] != "-c" {
		return nil, false
	}
	argv, err := shellquote.Split(cfg.Args[1])
	if err != nil {
		return nil, false
	}

	switch {
	case len(argv) == 5 && argv[0] == "tar" && argv[1] == "-xf" && argv[3] == "-C":
		return sb.tarExtract(argv[2], argv[4]), true
	case len(argv) == 6 && argv[0] == "tar" && argv[1] == "-czf" && argv[3] == "-C":
		return sb.tarCreate(argv[2], argv[4], argv[5]), true
	case len(argv) == 3 && argv[0] == "rm" && argv[1] == "-f":
		return sb.remove(argv[2]), true
	}
	return nil, false
}

func (sb *fakeSandbox) tarExtract(archivePath, destPath string) backend.Process {
	src, err := sb.path(archivePath)
	if err != nil {
		return newDoneProcess(1, err.Error())
	}
	dest, err := sb.path(destPath)
	if err != nil {
		return newDoneProcess(1, err.Error())
	}

	file, err := os.Open(src)
	if err != nil {
		return newDoneProcess(2, fmt.Sprintf("tar: %s: Cannot open", archivePath))
	}
	defer file.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return newDoneProcess(2, err.Error())
	}
	if err := archive.Unpack(file, dest); err != nil {
		return newDoneProcess(2, fmt.Sprintf("tar: %v", err))
	}
	return newDoneProcess(0, "")
}

func (sb *fakeSandbox) tarCreate(archivePath, parentPath, name string) backend.Process {
	out, err := sb.path(archivePath)
	if err != nil {
		return newDoneProcess(1, err.Error())
	}
	target, err := sb.path(strings.TrimRight(parentPath, "/") + "/" + name)
	if err != nil {
		return newDoneProcess(1, err.Error())
	}

	if _, err := os.Stat(target); err != nil {
		return newDoneProcess(2, fmt.Sprintf("tar: %s: Cannot stat: No such file or directory", name))
	}

	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return newDoneProcess(2, err.Error())
	}
	file, err := os.Create(out)
	if err != nil {
		return newDoneProcess(2, err.Error())
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	if err := tarTree(gz, target, name); err != nil {
		return newDoneProcess(2, fmt.Sprintf("tar: %v", err))
	}
	if err := gz.Close(); err != nil {
		return newDoneProcess(2, err.Error())
	}
	return newDoneProcess(0, "")
}

func (sb *fakeSandbox) remove(p string) backend.Process {
	target, err := sb.path(p)
	if err != nil {
		return newDoneProcess(1, err.Error())
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return newDoneProcess(1, err.Error())
	}
	return newDoneProcess(0, "")
}

// tarTree writes target (file or directory) to w the way tar -c would
// from its parent directory: every entry name starts with name.
func tarTree(w io.Writer, target, name string) error {
	tw := tar.NewWriter(w)

	err := filepath.WalkDir(target, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(target, p)
		if err != nil {
			return err
		}
		entryName := name
		if rel != "." {
			entryName = name + "/" + filepath.ToSlash(rel)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = entryName + "/"
			return tw.WriteHeader(hdr)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, link)
			if err != nil {
				return err
			}
			hdr.Name = entryName
			return tw.WriteHeader(hdr)
		case d.Type().IsRegular():
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = entryName
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			f, err := os.Open(p)
			if err != nil {
				return err
			}
			_, err = io.Copy(tw, f)
			f.Close()
			return err
		default:
			return nil
		}
	})
	if err != nil {
		return err
	}

	return tw.Close()
}
