// Package entry picks the script that starts a preview: a conventional entry
// file, or a synthesized bootstrap that mounts a root component.
package entry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an entry plan.
type Kind string

const (
	KindExplicit  Kind = "explicit"
	KindBootstrap Kind = "bootstrap"
	KindNone      Kind = "none"
)

// Conventional paths, scanned in order.
var (
	EntryCandidates = []string{
		"src/index.tsx", "index.tsx",
		"src/main.tsx", "main.tsx",
		"src/index.js", "index.js",
		"src/main.jsx", "src/index.jsx",
	}
	RootCandidates = []string{
		"src/App.tsx", "App.tsx",
		"src/App.js", "App.js",
		"src/App.jsx", "App.jsx",
	}
)

// ErrNoEntry is returned for a project with neither an entry file nor a root
// component.
var ErrNoEntry = errors.New("no entry point found")

// Harness hooks the entry script calls. The document harness defines them.
const (
	MountedHook = "window.__preview.mounted"
	FailHook    = "window.__preview.fail"
)

// Plan says how a preview starts. Path is the entry file for explicit plans
// and the root component for bootstrap plans.
type Plan struct {
	Kind Kind   `json:"kind"`
	Path string `json:"path,omitempty"`
}

// Files is the lookup Resolve needs.
type Files interface {
	Has(path string) bool
}

// Resolve scans the entry candidates, then the root component candidates.
func Resolve(files Files) Plan {
	for _, p := range EntryCandidates {
		if files.Has(p) {
			return Plan{Kind: KindExplicit, Path: p}
		}
	}
	for _, p := range RootCandidates {
		if files.Has(p) {
			return Plan{Kind: KindBootstrap, Path: p}
		}
	}
	return Plan{Kind: KindNone}
}

// MissingMessage is the user-facing text for a plan of kind none.
func MissingMessage() string {
	return fmt.Sprintf("No entry point found. Add an entry file (%s) or a root component (%s).",
		strings.Join(EntryCandidates, ", "), strings.Join(RootCandidates, ", "))
}

// Script renders the module script that starts the preview. The project is
// loaded with dynamic import() so load and link failures reach FailHook
// before MountedHook fires.
func (p Plan) Script() (string, error) {
	switch p.Kind {
	case KindExplicit:
		return fmt.Sprintf("import(%s).then(() => %s(), (err) => %s(err));\n",
			jsString(p.Path), MountedHook, FailHook), nil
	case KindBootstrap:
		return fmt.Sprintf(bootstrapTemplate, jsString(p.Path), MountedHook, FailHook), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrNoEntry, MissingMessage())
	}
}

const bootstrapTemplate = `Promise.all([import('react'), import('react-dom/client'), import(%[1]s)]).then(([React, ReactDOM, mod]) => {
  const App = mod.default || mod.App;
  if (!App) throw new Error(%[1]s + ' has no default export to mount');
  const rootElement = document.getElementById('root');
  if (!rootElement) throw new Error('Root element not found');
  const createRoot = ReactDOM.createRoot || (ReactDOM.default && ReactDOM.default.createRoot);
  createRoot(rootElement).render((React.default || React).createElement(App));
  %[2]s();
}).catch((err) => %[3]s(err));
`

// jsString quotes s as a JavaScript string literal safe inside a script tag.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
