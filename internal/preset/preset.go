// Package preset defines the named base-environment configurations a
// sandbox image can be built from. The built-in set is embedded; a user
// TOML file can override or extend it.
package preset

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

//go:embed presets.toml
var embedded []byte

// Preset is one named base-environment configuration.
type Preset struct {
	BaseImage string            `toml:"base-image"`
	Apt       []string          `toml:"apt"`
	Pip       []string          `toml:"pip"`
	Commands  []string          `toml:"commands"`
	Env       map[string]string `toml:"env"`
}

type presetFile struct {
	Presets map[string]Preset `toml:"presets"`
}

// Load returns all presets: the embedded set, overlaid with the user
// file at userPath when non-empty. User presets win by name.
func Load(userPath string) (map[string]Preset, error) {
	var builtin presetFile
	if err := toml.Unmarshal(embedded, &builtin); err != nil {
		return nil, fmt.Errorf("parse embedded presets: %w", err)
	}

	presets := builtin.Presets
	if presets == nil {
		presets = map[string]Preset{}
	}

	if userPath != "" {
		var user presetFile
		if _, err := toml.DecodeFile(userPath, &user); err != nil {
			return nil, fmt.Errorf("parse presets file %s: %w", userPath, err)
		}
		for name, p := range user.Presets {
			presets[name] = p
		}
	}

	return presets, nil
}

// Get returns one preset by name. An unknown name is a configuration
// error, reported before any remote call is made.
func Get(name, userPath string) (*Preset, error) {
	presets, err := Load(userPath)
	if err != nil {
		return nil, err
	}

	p, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q (available: %v)", name, names(presets))
	}
	return &p, nil
}

func names(presets map[string]Preset) []string {
	out := make([]string, 0, len(presets))
	for name := range presets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
