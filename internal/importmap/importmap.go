// Package importmap builds the locator table the browser resolves module
// specifiers against: permitted external packages first, then one entry per
// compiled project file.
package importmap

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"livepreview/internal/compile"
	"livepreview/internal/logging"
	"livepreview/internal/resolve"
)

// Entry maps one specifier to a locator.
type Entry struct {
	Specifier string `json:"specifier"`
	Locator   string `json:"locator"`
}

// Table is an insertion-ordered specifier -> locator map. A specifier is
// never present twice.
type Table struct {
	entries []Entry
	index   map[string]int
}

// Add inserts an entry and reports whether it was new. Existing entries are
// never overwritten.
func (t *Table) Add(specifier, locator string) bool {
	if t.index == nil {
		t.index = make(map[string]int)
	}
	if _, exists := t.index[specifier]; exists {
		return false
	}
	t.index[specifier] = len(t.entries)
	t.entries = append(t.entries, Entry{Specifier: specifier, Locator: locator})
	return true
}

// Get returns the locator for specifier.
func (t Table) Get(specifier string) (string, bool) {
	i, ok := t.index[specifier]
	if !ok {
		return "", false
	}
	return t.entries[i].Locator, true
}

// Len returns the number of entries.
func (t Table) Len() int { return len(t.entries) }

// Entries returns a copy of the entries in insertion order.
func (t Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Specifiers returns the keys in insertion order.
func (t Table) Specifiers() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Specifier
	}
	return out
}

// MarshalJSON renders the table as an import map, {"imports": {...}}, keeping
// insertion order. Output is HTML-escaped so it can sit inside a script tag.
func (t Table) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"imports":{`)
	for i, e := range t.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Specifier)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Locator)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

// Externals is the closed table of packages a project may import without
// shipping them. Build it with NewExternals or DefaultExternals.
type Externals struct {
	table Table
}

// Table returns the externals as a table.
func (e Externals) Table() Table { return e.table }

// Len returns the number of permitted packages.
func (e Externals) Len() int { return e.table.Len() }

// Names returns the permitted package names in order.
func (e Externals) Names() []string { return e.table.Specifiers() }

// Has reports whether name is a permitted package.
func (e Externals) Has(name string) bool {
	_, ok := e.table.Get(name)
	return ok
}

// Rejected explains why an external entry was dropped.
type Rejected struct {
	Name   string
	Reason string
}

// NewExternals builds an external table from m in sorted name order. Names
// that look like project paths are dropped and reported.
func NewExternals(m map[string]string) (Externals, []Rejected) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	var e Externals
	rejected := e.add(names, m)
	return e, rejected
}

// With returns a copy of e extended with extra entries. Existing names keep
// their locator.
func (e Externals) With(extra map[string]string) (Externals, []Rejected) {
	next := Externals{}
	for _, entry := range e.table.entries {
		next.table.Add(entry.Specifier, entry.Locator)
	}
	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)
	rejected := next.add(names, extra)
	return next, rejected
}

func (e *Externals) add(names []string, m map[string]string) []Rejected {
	var rejected []Rejected
	for _, name := range names {
		if reason := validateExternal(name, m[name]); reason != "" {
			logging.DocumentWarn("dropping external %q: %s", name, reason)
			rejected = append(rejected, Rejected{Name: name, Reason: reason})
			continue
		}
		e.table.Add(name, m[name])
	}
	return rejected
}

// validateExternal returns why name cannot be an external package, or "".
// Project keys are relative paths with a file extension, so rejecting
// path-shaped names keeps the two namespaces disjoint.
func validateExternal(name, locator string) string {
	switch {
	case strings.TrimSpace(name) == "":
		return "empty name"
	case strings.TrimSpace(locator) == "":
		return "empty locator"
	case strings.HasPrefix(name, "."), strings.HasPrefix(name, "/"):
		return "looks like a relative path"
	case strings.HasPrefix(name, resolve.AliasPrefix):
		return "uses the project alias prefix"
	case strings.HasPrefix(name, resolve.SourceRoot):
		return "lives under the project source root"
	}
	for _, ext := range resolve.Extensions {
		if strings.HasSuffix(name, ext) {
			return "ends in a project file extension"
		}
	}
	return ""
}

// defaultExternals is the versioned list of packages generated projects may use.
var defaultExternals = []Entry{
	{"react", "https://esm.sh/react@18.2.0"},
	{"react-dom/client", "https://esm.sh/react-dom@18.2.0/client"},
	{"react/jsx-runtime", "https://esm.sh/react@18.2.0/jsx-runtime"},
	{"lucide-react", "https://esm.sh/lucide-react@0.300.0"},
	{"recharts", "https://esm.sh/recharts@2.10.3"},
	{"clsx", "https://esm.sh/clsx"},
	{"tailwind-merge", "https://esm.sh/tailwind-merge"},
	{"framer-motion", "https://esm.sh/framer-motion@10.16.4"},
	{"date-fns", "https://esm.sh/date-fns@2.30.0"},
	{"react-router-dom", "https://esm.sh/react-router-dom@6.20.0"},
	{"canvas-confetti", "https://esm.sh/canvas-confetti@1.9.2"},
	{"uuid", "https://esm.sh/uuid@9.0.1"},
	{"zustand", "https://esm.sh/zustand@4.4.7"},
	{"axios", "https://esm.sh/axios@1.6.2"},
	{"lodash", "https://esm.sh/lodash@4.17.21"},
}

// DefaultExternals returns the built-in external table.
func DefaultExternals() Externals {
	var e Externals
	for _, entry := range defaultExternals {
		e.table.Add(entry.Specifier, entry.Locator)
	}
	return e
}

// Synthesize inserts the externals, then one entry per unit keyed by its
// path. A unit that would shadow an external is skipped and reported.
func Synthesize(ext Externals, units []compile.Unit) (Table, []string) {
	var t Table
	for _, e := range ext.table.entries {
		t.Add(e.Specifier, e.Locator)
	}
	var skipped []string
	for _, u := range units {
		if !t.Add(u.Path, u.Locator) {
			logging.DocumentWarn("unit %s collides with an existing specifier, skipped", u.Path)
			skipped = append(skipped, u.Path)
		}
	}
	return t, skipped
}
