package inject

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/corrharness/internal/canonical"
)

// DefaultSuffix selects monitor files.
const DefaultSuffix = ".mon"

// Artifact is one unit of input for the engine. Artifacts are immutable
// after discovery.
type Artifact struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	Ordinal int    `json:"ordinal"`
	Digest  string `json:"digest"`
}

// Discover lists the regular files directly inside dir whose names end
// with suffix, in lexical path order. It does not recurse. A missing dir
// is an error; a dir with no matches yields an empty slice.
func Discover(dir, suffix string) ([]Artifact, error) {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("discover artifacts in %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	artifacts := make([]Artifact, 0, len(paths))
	for i, path := range paths {
		a, err := load(path, i)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

// Resolve loads explicitly named artifacts, keeping the given order.
// Relative paths are taken relative to baseDir.
func Resolve(paths []string, baseDir string) ([]Artifact, error) {
	artifacts := make([]Artifact, 0, len(paths))
	for i, p := range paths {
		if p == "" {
			return nil, errors.New("resolve artifacts: empty path")
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		a, err := load(filepath.Clean(p), i)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

// Sequence concatenates artifact lists and renumbers ordinals to match
// the combined injection order.
func Sequence(lists ...[]Artifact) []Artifact {
	var out []Artifact
	for _, list := range lists {
		for _, a := range list {
			a.Ordinal = len(out)
			out = append(out, a)
		}
	}
	return out
}

// Names returns the artifact names in order.
func Names(artifacts []Artifact) []string {
	names := make([]string, len(artifacts))
	for i, a := range artifacts {
		names[i] = a.Name
	}
	return names
}

func load(path string, ordinal int) (Artifact, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("read artifact: %w", err)
	}
	return Artifact{
		Path:    path,
		Name:    filepath.Base(path),
		Ordinal: ordinal,
		Digest:  canonical.ArtifactDigest(content),
	}, nil
}

// Content reads the artifact and checks it still matches the digest taken
// at discovery.
func (a Artifact) Content() ([]byte, error) {
	content, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, err
	}
	if a.Digest != "" {
		if got := canonical.ArtifactDigest(content); got != a.Digest {
			return nil, fmt.Errorf("%w: %s", ErrModified, a.Path)
		}
	}
	return content, nil
}
