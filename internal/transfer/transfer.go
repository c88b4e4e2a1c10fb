// Package transfer moves directory trees between the local machine and a
// sandbox as single archives: one upload or download is one remote
// round trip, not one per file.
package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
	"github.com/klauspost/compress/gzip"

	"github.com/offloadhq/offload/internal/archive"
	"github.com/offloadhq/offload/internal/ignore"
	"github.com/offloadhq/offload/pkg/backend"
	"github.com/offloadhq/offload/pkg/types"
)

// RemoteError reports a remote-side archive command that exited
// non-zero.
type RemoteError struct {
	Op       string
	ExitCode int
	Stderr   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed (exit %d): %s", e.Op, e.ExitCode, e.Stderr)
}

// Upload copies localPath into the sandbox at remotePath. Directories
// travel as one uncompressed tar extracted remotely; single files are
// written directly.
func Upload(ctx context.Context, be backend.Backend, sandboxID, localPath, remotePath string, m *ignore.Matcher) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}

	if !info.IsDir() {
		return uploadFile(ctx, be, sandboxID, localPath, remotePath)
	}

	tmp := remoteTempPath(".tar")
	log.Printf("transfer: uploading %s to %s", localPath, remotePath)

	if err := be.WriteFile(ctx, sandboxID, tmp, archive.PackStream(localPath, m)); err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}
	if err := be.Mkdir(ctx, sandboxID, remotePath, true); err != nil {
		return fmt.Errorf("create remote dir %s: %w", remotePath, err)
	}

	if err := runRemote(ctx, be, sandboxID, "extract",
		shellquote.Join("tar", "-xf", tmp, "-C", remotePath)); err != nil {
		return err
	}

	removeRemote(ctx, be, sandboxID, tmp)
	return nil
}

func uploadFile(ctx context.Context, be backend.Backend, sandboxID, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	if dir := path.Dir(remotePath); dir != "/" && dir != "." {
		if err := be.Mkdir(ctx, sandboxID, dir, true); err != nil {
			return fmt.Errorf("create remote dir %s: %w", dir, err)
		}
	}
	if err := be.WriteFile(ctx, sandboxID, remotePath, f); err != nil {
		return fmt.Errorf("upload %s: %w", localPath, err)
	}
	return nil
}

// Download copies remotePath (file or directory, uniformly) out of the
// sandbox to localPath, replacing whatever is there. The remote side
// archives the path's parent filtered to its name, so both kinds come
// back as one gzipped tar.
func Download(ctx context.Context, be backend.Backend, sandboxID, remotePath, localPath string) error {
	remotePath = path.Clean(remotePath)
	parent, name := path.Dir(remotePath), path.Base(remotePath)
	if name == "/" || name == "." {
		return fmt.Errorf("cannot download %q", remotePath)
	}

	tmp := remoteTempPath(".tgz")
	log.Printf("transfer: downloading %s to %s", remotePath, localPath)

	if err := runRemote(ctx, be, sandboxID, "archive",
		shellquote.Join("tar", "-czf", tmp, "-C", parent, name)); err != nil {
		return err
	}
	defer removeRemote(ctx, be, sandboxID, tmp)

	rc, err := be.ReadFile(ctx, sandboxID, tmp)
	if err != nil {
		return fmt.Errorf("read remote archive: %w", err)
	}
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	if err != nil {
		return fmt.Errorf("decode remote archive: %w", err)
	}
	defer gz.Close()

	// Extract next to the destination, then swap into place so a
	// pre-existing file or directory is replaced atomically enough for a
	// same-filesystem rename.
	localDir := filepath.Dir(localPath)
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", localDir, err)
	}
	staging, err := os.MkdirTemp(localDir, ".offload-download-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := archive.Unpack(gz, staging); err != nil {
		return fmt.Errorf("extract archive: %w", err)
	}

	extracted := filepath.Join(staging, name)
	if _, err := os.Stat(extracted); err != nil {
		return fmt.Errorf("archive did not contain %s: %w", name, err)
	}

	if err := os.RemoveAll(localPath); err != nil {
		return fmt.Errorf("replace %s: %w", localPath, err)
	}
	if err := os.Rename(extracted, localPath); err != nil {
		return fmt.Errorf("move into place: %w", err)
	}

	return nil
}

// runRemote runs one shell line in the sandbox and converts a non-zero
// exit into a RemoteError carrying the command's stderr.
func runRemote(ctx context.Context, be backend.Backend, sandboxID, op, line string) error {
	proc, err := be.Exec(ctx, sandboxID, types.ProcessConfig{
		Command: "sh",
		Args:    []string{"-c", line},
	})
	if err != nil {
		return fmt.Errorf("remote %s: %w", op, err)
	}
	defer proc.Close()

	var stderr bytes.Buffer
	done := make(chan struct{})
	go func() {
		io.Copy(io.Discard, proc.Stdout())
		close(done)
	}()
	io.Copy(&stderr, proc.Stderr())
	<-done

	exitCode, err := proc.Wait(ctx)
	if err != nil {
		return fmt.Errorf("remote %s: %w", op, err)
	}
	if exitCode != 0 {
		return &RemoteError{Op: op, ExitCode: exitCode, Stderr: stderr.String()}
	}
	return nil
}

// removeRemote deletes a temporary remote file. Failure is logged, not
// fatal: the archive already served its purpose.
func removeRemote(ctx context.Context, be backend.Backend, sandboxID, p string) {
	if err := runRemote(ctx, be, sandboxID, "cleanup", shellquote.Join("rm", "-f", p)); err != nil {
		log.Printf("transfer: failed to remove remote %s: %v", p, err)
	}
}

func remoteTempPath(ext string) string {
	return "/tmp/.offload-" + uuid.New().String() + ext
}
