package document

import (
	"bytes"
	"html/template"
)

// Placeholder is the page shown for a project with no files.
func Placeholder(generation uint64) PreviewDocument {
	doc := newDocument(generation, placeholderHTML)
	doc.Placeholder = true
	return doc
}

const placeholderHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Preview</title></head>
<body style="background:#18181b; color:#52525b; display:flex; align-items:center; justify-content:center; height:100vh; margin:0; font-family:system-ui;">
<div style="text-align:center">
<h3 style="margin-bottom:8px; color:#e4e4e7;">Ready to build</h3>
<p style="font-size:14px;">Enter a prompt to start the agent.</p>
</div>
</body>
</html>
`

// ErrorView is what the full-panel error page shows.
type ErrorView struct {
	Generation uint64
	Phase      string
	Kind       string
	Message    string
	Detail     string
	Path       string
}

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>System Error</title></head>
<body style="margin:0; height:100vh; background:#18181b; color:#e4e4e7; font-family:system-ui; display:flex; align-items:center; justify-content:center;">
<div id="system-error" data-phase="{{.Phase}}" data-kind="{{.Kind}}" style="max-width:720px; padding:24px; border:1px solid rgba(239,68,68,0.3); background:rgba(239,68,68,0.08); border-radius:8px;">
<h3 style="margin:0 0 8px; color:#f87171;">System Error</h3>
<p style="margin:0 0 12px; font-size:12px; color:#a1a1aa;">{{.Phase}} / {{.Kind}}{{if .Path}} in {{.Path}}{{end}} (generation {{.Generation}})</p>
<pre style="margin:0; white-space:pre-wrap; font-family:'JetBrains Mono', monospace; font-size:13px; color:#fca5a5;">{{.Message}}</pre>
{{- if .Detail}}
<pre style="margin:12px 0 0; white-space:pre-wrap; font-family:'JetBrains Mono', monospace; font-size:12px; color:#a1a1aa;">{{.Detail}}</pre>
{{- end}}
</div>
</body>
</html>
`))

// ErrorPage renders the view that replaces the preview when a build fails.
func ErrorPage(v ErrorView) string {
	var buf bytes.Buffer
	if err := errorPage.Execute(&buf, v); err != nil {
		return "<!DOCTYPE html><title>System Error</title><pre>" + template.HTMLEscapeString(v.Message) + "</pre>"
	}
	return buf.String()
}
