// Package compile turns single project files into browser-loadable ES
// modules. Each file is transformed on its own with esbuild; files never see
// each other, linking happens in the browser through the import map.
package compile

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"path"
	"runtime"
	"strings"

	"livepreview/internal/logging"
	"livepreview/internal/project"

	"github.com/evanw/esbuild/pkg/api"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

// LocatorPrefix starts every unit locator.
const LocatorPrefix = "data:text/javascript;base64,"

// Unit is one compiled file and the locator the browser loads it from.
type Unit struct {
	Path    string `json:"path"`
	Locator string `json:"-"`
	Size    int    `json:"size"`
}

// Error is a compile failure in one file. Line is 1-based, Column 0-based;
// both are zero when esbuild reported no location.
type Error struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Options tunes the compiler.
type Options struct {
	Target      string // es2020, es2022, esnext
	SourceMap   bool
	Concurrency int // <= 0 means GOMAXPROCS
	CacheSize   int // <= 0 disables the unit cache
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{Target: "es2020", SourceMap: true, CacheSize: 512}
}

type cacheKey struct {
	path string
	sum  [sha256.Size]byte
}

// Compiler transforms files. It is safe for concurrent use.
type Compiler struct {
	opts   Options
	target api.Target
	cache  *lru.Cache[cacheKey, Unit]
}

// New creates a compiler.
func New(opts Options) (*Compiler, error) {
	target, err := parseTarget(opts.Target)
	if err != nil {
		return nil, err
	}
	c := &Compiler{opts: opts, target: target}
	if opts.CacheSize > 0 {
		c.cache, err = lru.New[cacheKey, Unit](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create unit cache: %w", err)
		}
	}
	return c, nil
}

// Targets lists the accepted target names in ascending order.
var Targets = []string{"es2017", "es2018", "es2019", "es2020", "es2021", "es2022", "esnext"}

var targets = map[string]api.Target{
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

func parseTarget(s string) (api.Target, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return api.ES2020, nil
	}
	if t, ok := targets[name]; ok {
		return t, nil
	}
	return api.DefaultTarget, fmt.Errorf("unsupported compile target %q", s)
}

// LoaderFor picks the esbuild loader for a project path. Files that are not
// scripts or JSON are exposed as text modules with a default string export.
func LoaderFor(p string) api.Loader {
	switch strings.ToLower(path.Ext(p)) {
	case ".tsx":
		return api.LoaderTSX
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".jsx":
		return api.LoaderJSX
	case ".js", ".mjs", ".cjs":
		return api.LoaderJS
	case ".json":
		return api.LoaderJSON
	default:
		return api.LoaderText
	}
}

// Compile transforms one file into a unit.
func (c *Compiler) Compile(filePath, source string) (Unit, error) {
	var key cacheKey
	if c.cache != nil {
		key = cacheKey{path: filePath, sum: sha256.Sum256([]byte(source))}
		if u, ok := c.cache.Get(key); ok {
			logging.CompileDebug("cache hit: %s", filePath)
			return u, nil
		}
	}

	opts := api.TransformOptions{
		Loader:     LoaderFor(filePath),
		Format:     api.FormatESModule,
		Target:     c.target,
		JSX:        api.JSXAutomatic,
		Sourcefile: filePath,
		LogLevel:   api.LogLevelSilent,
	}
	if c.opts.SourceMap {
		opts.Sourcemap = api.SourceMapInline
	}

	result := api.Transform(source, opts)
	if len(result.Errors) > 0 {
		return Unit{}, toError(filePath, result.Errors[0])
	}
	for _, w := range result.Warnings {
		logging.CompileDebug("%s: %s", filePath, w.Text)
	}

	u := Unit{
		Path:    filePath,
		Locator: LocatorPrefix + base64.StdEncoding.EncodeToString(result.Code),
		Size:    len(result.Code),
	}
	if c.cache != nil {
		c.cache.Add(key, u)
	}
	return u, nil
}

func toError(filePath string, msg api.Message) *Error {
	e := &Error{Path: filePath, Message: msg.Text}
	if loc := msg.Location; loc != nil {
		e.Line = loc.Line
		e.Column = loc.Column
		e.Snippet = loc.LineText
	}
	return e
}

// CompileAll compiles files in parallel and returns units in input order. The
// first failure cancels the remaining work and is returned.
func (c *Compiler) CompileAll(ctx context.Context, files []project.VirtualFile) ([]Unit, error) {
	timer := logging.StartTimer(logging.CategoryCompile, fmt.Sprintf("compile %d files", len(files)))
	defer timer.Stop()

	limit := c.opts.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	units := make([]Unit, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			u, err := c.Compile(f.Path, f.Content)
			if err != nil {
				return err
			}
			units[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return units, nil
}

// Decode returns the code behind a unit locator.
func Decode(locator string) (string, error) {
	if !strings.HasPrefix(locator, LocatorPrefix) {
		return "", fmt.Errorf("not a unit locator")
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(locator, LocatorPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode locator: %w", err)
	}
	return string(b), nil
}

// CacheLen reports how many units are cached.
func (c *Compiler) CacheLen() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}
