// Package project holds the virtual project a preview is built from: immutable
// snapshots, the file actions that mutate a live project, and the sources
// (in-memory or on-disk) that hand snapshots to the rebuild controller.
package project

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// StylesheetExt marks files that are merged into the aggregated sheet instead
// of being loaded as script modules.
const StylesheetExt = ".css"

// ErrPathCollision is returned when two raw paths normalize to the same key.
var ErrPathCollision = errors.New("path collision")

// VirtualFile is one file of a snapshot.
type VirtualFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// IsStylesheet reports whether the file is merged into the style sheet.
func (f VirtualFile) IsStylesheet() bool {
	return IsStylesheet(f.Path)
}

// IsStylesheet reports whether a path names a stylesheet.
func IsStylesheet(path string) bool {
	return strings.HasSuffix(path, StylesheetExt)
}

// Snapshot is an immutable path -> content view of a project for one rebuild.
// The zero value is an empty snapshot.
type Snapshot struct {
	files map[string]string
	keys  []string
}

// NormalizeKey strips leading separators from a raw project path.
func NormalizeKey(raw string) string {
	return strings.TrimLeft(raw, "/")
}

// NewSnapshot builds a snapshot from raw paths. Leading slashes are removed;
// two raw paths that land on the same key are rejected.
func NewSnapshot(raw map[string]string) (Snapshot, error) {
	files := make(map[string]string, len(raw))
	origin := make(map[string]string, len(raw))

	rawKeys := make([]string, 0, len(raw))
	for k := range raw {
		rawKeys = append(rawKeys, k)
	}
	sort.Strings(rawKeys)

	for _, rk := range rawKeys {
		key := NormalizeKey(rk)
		if key == "" {
			continue
		}
		if prev, dup := origin[key]; dup {
			return Snapshot{}, fmt.Errorf("%w: %q and %q both map to %q", ErrPathCollision, prev, rk, key)
		}
		origin[key] = rk
		files[key] = raw[rk]
	}
	return newSnapshot(files), nil
}

// MustSnapshot is NewSnapshot for literals known to be valid.
func MustSnapshot(raw map[string]string) Snapshot {
	s, err := NewSnapshot(raw)
	if err != nil {
		panic(err)
	}
	return s
}

func newSnapshot(files map[string]string) Snapshot {
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Snapshot{files: files, keys: keys}
}

// Len returns the number of files.
func (s Snapshot) Len() int { return len(s.keys) }

// Has reports whether path exists verbatim.
func (s Snapshot) Has(path string) bool {
	_, ok := s.files[path]
	return ok
}

// Get returns the content of path.
func (s Snapshot) Get(path string) (string, bool) {
	c, ok := s.files[path]
	return c, ok
}

// Paths returns all keys in sorted order.
func (s Snapshot) Paths() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Files returns every file in sorted key order.
func (s Snapshot) Files() []VirtualFile {
	out := make([]VirtualFile, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, VirtualFile{Path: k, Content: s.files[k]})
	}
	return out
}

// Split separates stylesheets from everything else, both in key order.
func (s Snapshot) Split() (styles, scripts []VirtualFile) {
	for _, f := range s.Files() {
		if f.IsStylesheet() {
			styles = append(styles, f)
		} else {
			scripts = append(scripts, f)
		}
	}
	return styles, scripts
}

// Map returns a copy of the underlying map.
func (s Snapshot) Map() map[string]string {
	out := make(map[string]string, len(s.files))
	for k, v := range s.files {
		out[k] = v
	}
	return out
}
