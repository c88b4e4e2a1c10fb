package imagecache

import "strings"

const (
	presetPrefix     = "preset:"
	dockerfilePrefix = "dockerfile:"
)

// PresetKey is the cache key for a named preset.
func PresetKey(name string) string {
	return presetPrefix + name
}

// DockerfileKey is the cache key for a dockerfile build. The path should
// be absolute so invocations from different directories share entries.
func DockerfileKey(path string) string {
	return dockerfilePrefix + path
}

// SplitKey breaks a cache key into its kind ("preset" or "dockerfile")
// and value. ok is false for keys in neither form.
func SplitKey(key string) (kind, value string, ok bool) {
	switch {
	case strings.HasPrefix(key, presetPrefix):
		return "preset", strings.TrimPrefix(key, presetPrefix), true
	case strings.HasPrefix(key, dockerfilePrefix):
		return "dockerfile", strings.TrimPrefix(key, dockerfilePrefix), true
	}
	return "", "", false
}
