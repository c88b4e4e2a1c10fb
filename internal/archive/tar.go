// Package archive packs local directory trees into tar streams and
// extracts them back, applying ignore filtering on the way in. One
// archive per tree is what keeps remote transfers at O(1) round trips.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/zstd"

	"github.com/offloadhq/offload/internal/ignore"
)

// Pack writes a tar of the tree rooted at root to w. Paths inside the
// archive are relative to root. Directories pruned by m are skipped
// together with their subtrees; filtered files are skipped one by one.
// Regular files, directories, and symlinks are archived; anything else
// (sockets, devices) is silently dropped.
func Pack(w io.Writer, root string, m *ignore.Matcher) error {
	tw := tar.NewWriter(w)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		switch {
		case d.IsDir():
			if m != nil && m.ExcludeDir(rel) {
				return fs.SkipDir
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = rel + "/"
			return tw.WriteHeader(hdr)

		case d.Type()&fs.ModeSymlink != 0:
			if m != nil && m.ExcludeFile(rel) {
				return nil
			}
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, target)
			if err != nil {
				return err
			}
			hdr.Name = rel
			return tw.WriteHeader(hdr)

		case d.Type().IsRegular():
			if m != nil && m.ExcludeFile(rel) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = rel
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
		return fmt.Errorf("pack %s: %w", root, err)
	}

	return tw.Close()
}

// Unpack extracts a tar stream into dest. Entry names are joined to
// dest with securejoin so a crafted archive cannot write outside it.
func Unpack(r io.Reader, dest string) error {
	tr := tar.NewReader(r)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		target, err := securejoin.SecureJoin(dest, hdr.Name)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", hdr.Name, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, hdr.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("mkdir %s: %w", target, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("mkdir %s: %w", filepath.Dir(target), err)
			}
			f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
			if err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("write %s: %w", target, err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %s: %w", target, err)
			}

		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("mkdir %s: %w", filepath.Dir(target), err)
			}
			if err := os.RemoveAll(target); err != nil {
				return fmt.Errorf("replace %s: %w", target, err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("symlink %s: %w", target, err)
			}

		default:
			// Hard links, devices, etc. are not produced by Pack and
			// not worth supporting on extract.
		}
	}
}

// PackStream returns a reader streaming the tar of root. The write side
// runs in a goroutine; a pack failure surfaces as the reader's error.
func PackStream(root string, m *ignore.Matcher) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(Pack(pw, root, m))
	}()
	return pr
}

// PackZstdStream is PackStream with zstd compression, used for image
// layer and build-context uploads where the bytes cross the wire to the
// build service.
func PackZstdStream(root string, m *ignore.Matcher) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		zw, err := zstd.NewWriter(pw, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := Pack(zw, root, m); err != nil {
			zw.Close()
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(zw.Close())
	}()
	return pr
}

// UnpackZstd extracts a zstd-compressed tar stream into dest.
func UnpackZstd(r io.Reader, dest string) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()
	return Unpack(zr, dest)
}
