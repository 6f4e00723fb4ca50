// Package resolve turns import specifiers into concrete project paths.
//
// Local specifiers are relative (./, ../) or alias-prefixed (@/ meaning the
// src/ root). Anything else is an external package name and is left alone.
package resolve

import (
	"strings"

	"livepreview/internal/logging"
	"livepreview/internal/project"
)

const (
	// AliasPrefix marks specifiers rooted at SourceRoot.
	AliasPrefix = "@/"
	// SourceRoot is the conventional project source directory.
	SourceRoot = "src/"
)

// Extensions are probed in this order.
var Extensions = []string{".tsx", ".ts", ".jsx", ".js"}

// IsLocal reports whether a specifier refers to a project file.
func IsLocal(spec string) bool {
	return strings.HasPrefix(spec, ".") || strings.HasPrefix(spec, AliasPrefix)
}

// Normalize resolves spec against the directory of base. Alias specifiers
// resolve from the project root. ".." past the root is dropped. Non-local
// specifiers are returned unchanged.
func Normalize(base, spec string) string {
	if !IsLocal(spec) {
		return spec
	}

	var stack []string
	target := spec
	if strings.HasPrefix(spec, AliasPrefix) {
		target = SourceRoot + strings.TrimPrefix(spec, AliasPrefix)
	} else {
		stack = dirSegments(base)
	}

	for _, seg := range strings.Split(target, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}
	return strings.Join(stack, "/")
}

// CleanPath normalizes a root-relative path. It is idempotent.
func CleanPath(p string) string {
	return Normalize("", "./"+strings.TrimLeft(p, "/"))
}

func dirSegments(base string) []string {
	base = strings.TrimLeft(base, "/")
	i := strings.LastIndex(base, "/")
	if i < 0 {
		return nil
	}
	var out []string
	for _, seg := range strings.Split(base[:i], "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	return out
}

// ResolvedImport is the outcome of resolving one specifier. Resolved is empty
// when no probe matched.
type ResolvedImport struct {
	FromPath string `json:"from"`
	Raw      string `json:"raw"`
	Resolved string `json:"resolved,omitempty"`
}

// OK reports whether resolution succeeded.
func (r ResolvedImport) OK() bool { return r.Resolved != "" }

// Resolver probes a snapshot for the file a normalized path refers to.
type Resolver struct {
	files project.Snapshot
}

// NewResolver creates a resolver over one snapshot.
func NewResolver(files project.Snapshot) *Resolver {
	return &Resolver{files: files}
}

// Candidates lists the probes for path, in order.
func Candidates(path string) []string {
	out := probes(path)
	if !strings.HasPrefix(path, SourceRoot) {
		out = append(out, probes(SourceRoot+path)...)
	}
	return out
}

func probes(path string) []string {
	out := make([]string, 0, 1+2*len(Extensions))
	out = append(out, path)
	for _, ext := range Extensions {
		out = append(out, path+ext)
	}
	for _, ext := range Extensions {
		out = append(out, path+"/index"+ext)
	}
	return out
}

// Resolve returns the first existing candidate for path.
func (r *Resolver) Resolve(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	for _, c := range Candidates(path) {
		if r.files.Has(c) {
			return c, true
		}
	}
	return "", false
}

// ResolveSpecifier normalizes raw against from and probes for it. External
// specifiers come back unresolved.
func (r *Resolver) ResolveSpecifier(from, raw string) ResolvedImport {
	out := ResolvedImport{FromPath: from, Raw: raw}
	if !IsLocal(raw) {
		return out
	}
	if resolved, ok := r.Resolve(Normalize(from, raw)); ok {
		out.Resolved = resolved
	} else {
		logging.ResolveDebug("%s: unresolved import %q", from, raw)
	}
	return out
}
