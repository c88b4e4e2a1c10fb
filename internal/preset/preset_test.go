package preset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_Embedded(t *testing.T) {
	presets, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	def, ok := presets["default"]
	if !ok {
		t.Fatal("embedded set has no default preset")
	}
	if def.BaseImage == "" {
		t.Error("default preset has no base image")
	}

	rust, ok := presets["rust"]
	if !ok {
		t.Fatal("embedded set has no rust preset")
	}
	if len(rust.Commands) == 0 {
		t.Error("rust preset has no setup commands")
	}
	if rust.Env["PATH"] == "" {
		t.Error("rust preset does not extend PATH")
	}
}

func TestLoad_UserOverlay(t *testing.T) {
	userFile := filepath.Join(t.TempDir(), "presets.toml")
	content := `
[presets.default]
base-image = "python:3.12-slim"

[presets.go]
base-image = "golang:1.24"
apt = ["git"]
`
	if err := os.WriteFile(userFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	presets, err := Load(userFile)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// User presets win by name and extend the set.
	if presets["default"].BaseImage != "python:3.12-slim" {
		t.Errorf("user override lost: %s", presets["default"].BaseImage)
	}
	if presets["go"].BaseImage != "golang:1.24" {
		t.Error("user preset not added")
	}
	if _, ok := presets["rust"]; !ok {
		t.Error("embedded preset lost after overlay")
	}
}

func TestGet_Unknown(t *testing.T) {
	_, err := Get("nope", "")
	if err == nil {
		t.Fatal("expected error for unknown preset")
	}
	if !strings.Contains(err.Error(), "available:") {
		t.Errorf("error does not list available presets: %v", err)
	}
}

func TestLoad_BadUserFile(t *testing.T) {
	userFile := filepath.Join(t.TempDir(), "presets.toml")
	if err := os.WriteFile(userFile, []byte("not [valid toml"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(userFile); err == nil {
		t.Fatal("expected error for malformed presets file")
	}
}
