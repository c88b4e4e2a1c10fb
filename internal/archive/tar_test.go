package archive

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/offloadhq/offload/internal/ignore"
)

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
}

func TestPackUnpack_RoundTrip(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "main.py"), "print('hi')\n", 0644)
	writeFile(t, filepath.Join(src, "bin", "run.sh"), "#!/bin/sh\n", 0755)
	writeFile(t, filepath.Join(src, "pkg", "sub", "mod.py"), "x = 1\n", 0644)
	if err := os.MkdirAll(filepath.Join(src, "empty"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("main.py", filepath.Join(src, "link.py")); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := Pack(&buf, src, ignore.New(nil)); err != nil {
		t.Fatalf("Pack() error: %v", err)
	}

	dest := t.TempDir()
	if err := Unpack(&buf, dest); err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "pkg", "sub", "mod.py"))
	if err != nil {
		t.Fatalf("nested file missing: %v", err)
	}
	if string(got) != "x = 1\n" {
		t.Errorf("content mismatch: %q", got)
	}

	info, err := os.Stat(filepath.Join(dest, "bin", "run.sh"))
	if err != nil {
		t.Fatalf("executable missing: %v", err)
	}
	if info.Mode().Perm()&0100 == 0 {
		t.Errorf("executable bit lost: %v", info.Mode())
	}

	if fi, err := os.Stat(filepath.Join(dest, "empty")); err != nil || !fi.IsDir() {
		t.Errorf("empty directory not preserved: %v", err)
	}

	target, err := os.Readlink(filepath.Join(dest, "link.py"))
	if err != nil {
		t.Fatalf("symlink missing: %v", err)
	}
	if target != "main.py" {
		t.Errorf("symlink target: expected main.py, got %s", target)
	}
}

func TestPack_AppliesIgnoreFiltering(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "keep.py"), "keep", 0644)
	writeFile(t, filepath.Join(src, "skip.pyc"), "skip", 0644)
	writeFile(t, filepath.Join(src, ".hidden"), "skip", 0644)
	writeFile(t, filepath.Join(src, "node_modules", "dep", "index.js"), "skip", 0644)
	writeFile(t, filepath.Join(src, "logs", "run.log"), "skip", 0644)

	var buf bytes.Buffer
	if err := Pack(&buf, src, ignore.New([]string{"*.log"})); err != nil {
		t.Fatalf("Pack() error: %v", err)
	}

	names := map[string]bool{}
	tr := tar.NewReader(&buf)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		names[hdr.Name] = true
	}

	if !names["keep.py"] {
		t.Error("keep.py should be archived")
	}
	for _, skipped := range []string{"skip.pyc", ".hidden", "node_modules/dep/index.js", "logs/run.log"} {
		if names[skipped] {
			t.Errorf("%s should have been filtered out", skipped)
		}
	}
	// The pruned directory itself must not appear either.
	if names["node_modules/"] {
		t.Error("node_modules/ directory header should have been pruned")
	}
}

func TestUnpack_RejectsPathEscape(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name: "../escape.txt",
		Mode: 0644,
		Size: 4,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte("evil")); err != nil {
		t.Fatal(err)
	}
	tw.Close()

	parent := t.TempDir()
	dest := filepath.Join(parent, "dest")
	if err := os.Mkdir(dest, 0755); err != nil {
		t.Fatal(err)
	}

	if err := Unpack(&buf, dest); err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(parent, "escape.txt")); err == nil {
		t.Fatal("entry escaped the destination directory")
	}
	// The clamped entry lands inside dest instead.
	if _, err := os.Stat(filepath.Join(dest, "escape.txt")); err != nil {
		t.Errorf("clamped entry missing: %v", err)
	}
}

func TestPackZstdStream_RoundTrip(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "app", "main.rs"), "fn main() {}\n", 0644)

	rc := PackZstdStream(src, ignore.New(nil))
	defer rc.Close()

	dest := t.TempDir()
	if err := UnpackZstd(rc, dest); err != nil {
		t.Fatalf("UnpackZstd() error: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "app", "main.rs"))
	if err != nil {
		t.Fatalf("file missing after round trip: %v", err)
	}
	if string(got) != "fn main() {}\n" {
		t.Errorf("content mismatch: %q", got)
	}
}

func TestPackStream_PropagatesErrors(t *testing.T) {
	rc := PackStream(filepath.Join(t.TempDir(), "does-not-exist"), nil)
	defer rc.Close()

	_, err := io.ReadAll(rc)
	if err == nil {
		t.Fatal("expected error for missing root")
	}
}
