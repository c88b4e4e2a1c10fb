// Package ignore decides which paths stay out of image layers and
// uploads. A fixed set of exclusions (hidden entries, dependency and
// build caches) is always applied; project-level glob patterns from an
// ignore file are applied on top.
package ignore

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Directories pruned from every walk regardless of patterns.
var prunedDirs = map[string]bool{
	"__pycache__":  true,
	"node_modules": true,
	"target":       true,
	".venv":        true,
	"venv":         true,
}

// Load reads glob patterns from the ignore file at path, one per line.
// Blank lines and lines starting with # are skipped. A missing file is
// an empty pattern set, not an error.
func Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ignore file %s: %w", path, err)
	}

	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !doublestar.ValidatePattern(line) {
			log.Printf("ignore: skipping invalid pattern %q in %s", line, path)
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, nil
}

// Matcher applies the hardwired exclusions plus a pattern set to paths
// relative to a walk root.
type Matcher struct {
	patterns []string
}

// New returns a Matcher for the given patterns. nil patterns is valid
// and leaves only the hardwired exclusions active.
func New(patterns []string) *Matcher {
	return &Matcher{patterns: patterns}
}

// ExcludeDir reports whether the directory at rel (slash-separated,
// relative to the walk root) should be pruned along with its subtree.
func (m *Matcher) ExcludeDir(rel string) bool {
	base := path.Base(rel)
	if strings.HasPrefix(base, ".") {
		return true
	}
	if prunedDirs[base] {
		return true
	}
	return m.matches(rel, base)
}

// ExcludeFile reports whether the file at rel should be skipped.
func (m *Matcher) ExcludeFile(rel string) bool {
	base := path.Base(rel)
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, ".pyc") {
		return true
	}
	return m.matches(rel, base)
}

// matches checks rel against the pattern set. Patterns containing a
// slash match the full relative path; bare patterns match the basename
// at any depth.
func (m *Matcher) matches(rel, base string) bool {
	for _, p := range m.patterns {
		target := base
		if strings.Contains(p, "/") {
			target = rel
		}
		if ok, err := doublestar.Match(p, target); err == nil && ok {
			return true
		}
	}
	return false
}
