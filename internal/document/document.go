// Package document assembles the self-contained HTML page a preview runs in:
// error harness, process shim, import map, styles, loading indicator and the
// entry script, in that order.
package document

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
	"text/template"
	"time"

	"livepreview/internal/entry"
	"livepreview/internal/importmap"
	"livepreview/internal/logging"
)

// Console markers the harness logs through console.debug.
const (
	FailureMarker = "__preview_failure__"
	MountedMarker = "__preview_mounted__"
)

// TailwindCDN is loaded when Options.Tailwind is set.
const TailwindCDN = "https://cdn.tailwindcss.com"

//go:embed harness.js
var harnessJS string

// Harness returns the error-capture script installed first in every page.
func Harness() string { return harnessJS }

// PreviewDocument is one assembled page. It is immutable once built.
type PreviewDocument struct {
	Generation uint64     `json:"generation"`
	HTML       string     `json:"-"`
	Hash       string     `json:"hash"`
	Plan       entry.Plan `json:"plan"`
	Imports    int        `json:"imports"`
	Bytes      int        `json:"bytes"`
	BuiltAt    time.Time  `json:"built_at"`
	// Placeholder marks the empty-project page.
	Placeholder bool `json:"placeholder,omitempty"`
}

// Options tunes document assembly.
type Options struct {
	Title    string
	Tailwind bool
	NodeEnv  string
}

// DefaultOptions mirrors what generated projects expect: Tailwind classes
// and a development process.env.
func DefaultOptions() Options {
	return Options{Title: "Preview", Tailwind: true, NodeEnv: "development"}
}

// Builder renders preview documents.
type Builder struct {
	opts Options
	tmpl *template.Template
}

// NewBuilder creates a builder.
func NewBuilder(opts Options) *Builder {
	if opts.Title == "" {
		opts.Title = "Preview"
	}
	if opts.NodeEnv == "" {
		opts.NodeEnv = "development"
	}
	return &Builder{
		opts: opts,
		tmpl: template.Must(template.New("document").Parse(documentTemplate)),
	}
}

type pageData struct {
	Title      string
	Generation uint64
	Harness    string
	ProcessEnv string
	ImportMap  string
	Tailwind   string
	Styles     string
	Entry      string
}

// Build assembles a document. A plan of kind none is rejected with
// entry.ErrNoEntry; such a plan never produces a page.
func (b *Builder) Build(generation uint64, styles string, table importmap.Table, plan entry.Plan) (PreviewDocument, error) {
	script, err := plan.Script()
	if err != nil {
		return PreviewDocument{}, err
	}
	mapJSON, err := json.Marshal(table)
	if err != nil {
		return PreviewDocument{}, fmt.Errorf("failed to encode import map: %w", err)
	}
	env, err := json.Marshal(map[string]map[string]string{"env": {"NODE_ENV": b.opts.NodeEnv}})
	if err != nil {
		return PreviewDocument{}, fmt.Errorf("failed to encode process shim: %w", err)
	}

	data := pageData{
		Title:      html.EscapeString(b.opts.Title),
		Generation: generation,
		Harness:    escapeScript(harnessJS),
		ProcessEnv: string(env),
		ImportMap:  string(mapJSON),
		Styles:     escapeStyle(styles),
		Entry:      escapeScript(script),
	}
	if b.opts.Tailwind {
		data.Tailwind = TailwindCDN
	}

	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, data); err != nil {
		return PreviewDocument{}, fmt.Errorf("failed to render document: %w", err)
	}

	doc := newDocument(generation, buf.String())
	doc.Plan = plan
	doc.Imports = table.Len()
	logging.DocumentDebug("generation %d: %d bytes, %d import map entries, %s entry %s",
		generation, doc.Bytes, doc.Imports, plan.Kind, plan.Path)
	return doc, nil
}

func newDocument(generation uint64, page string) PreviewDocument {
	sum := sha256.Sum256([]byte(page))
	return PreviewDocument{
		Generation: generation,
		HTML:       page,
		Hash:       hex.EncodeToString(sum[:8]),
		Bytes:      len(page),
		BuiltAt:    time.Now(),
	}
}

var (
	closeScript = regexp.MustCompile(`(?i)</(script)`)
	closeStyle  = regexp.MustCompile(`(?i)</(style)`)
)

// escapeScript keeps inline script text from closing its element early.
func escapeScript(s string) string {
	s = closeScript.ReplaceAllString(s, `<\/$1`)
	return strings.ReplaceAll(s, "<!--", `<\!--`)
}

// escapeStyle does the same for inline CSS; "\/" is a valid CSS escape for "/".
func escapeStyle(s string) string {
	return closeStyle.ReplaceAllString(s, `<\/$1`)
}

const documentTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<meta name="preview-generation" content="{{.Generation}}">
<title>{{.Title}}</title>
<script id="preview-harness">{{.Harness}}</script>
<script>window.process = {{.ProcessEnv}};</script>
<script type="importmap">{{.ImportMap}}</script>
{{- if .Tailwind}}
<script src="{{.Tailwind}}"></script>
{{- end}}
<style>
html, body, #root { height: 100%; margin: 0; padding: 0; overflow: auto; }
body { font-family: 'Inter', system-ui, sans-serif; background-color: white; }
#error-overlay {
  min-height: 100%; box-sizing: border-box; background: rgba(24, 24, 27, 0.95); color: #ef4444;
  padding: 40px; font-family: 'JetBrains Mono', monospace; white-space: pre-wrap; overflow: auto;
}
#error-overlay pre { margin: 0 0 24px; white-space: pre-wrap; }
#loading-overlay {
  position: fixed; inset: 0; background: white; display: flex; align-items: center;
  justify-content: center; z-index: 9000; transition: opacity 0.3s;
}
{{.Styles}}</style>
</head>
<body>
<div id="loading-overlay">
  <div style="display:flex; flex-direction:column; align-items:center; gap:12px; color:#52525b">
    <svg class="animate-spin" xmlns="http://www.w3.org/2000/svg" width="24" height="24" viewBox="0 0 24 24" fill="none" stroke="currentColor" stroke-width="2" stroke-linecap="round" stroke-linejoin="round"><path d="M21 12a9 9 0 1 1-6.219-8.56"/></svg>
    <span style="font-size:14px; font-weight:500">Starting Preview...</span>
  </div>
</div>
<div id="root"></div>
<script type="module">{{.Entry}}</script>
</body>
</html>
`
