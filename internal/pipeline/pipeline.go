// Package pipeline runs one preview build: rewrite every file against the
// snapshot, aggregate styles, plan the entry, compile units, synthesize the
// import map and assemble the document. Fatal failures come back as an
// ErrorReport instead of a document.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"livepreview/internal/compile"
	"livepreview/internal/document"
	"livepreview/internal/entry"
	"livepreview/internal/importmap"
	"livepreview/internal/logging"
	"livepreview/internal/project"
	"livepreview/internal/resolve"
	"livepreview/internal/rewrite"
	"livepreview/internal/style"
)

// Pipeline holds the stage implementations shared by every generation.
type Pipeline struct {
	scanner   rewrite.Scanner
	compiler  *compile.Compiler
	builder   *document.Builder
	externals importmap.Externals
}

// Options wires the stages. Zero fields get defaults.
type Options struct {
	Scanner   rewrite.Scanner
	Compiler  *compile.Compiler
	Builder   *document.Builder
	Externals *importmap.Externals
}

// New creates a pipeline.
func New(opts Options) (*Pipeline, error) {
	p := &Pipeline{
		scanner:  opts.Scanner,
		compiler: opts.Compiler,
		builder:  opts.Builder,
	}
	if p.scanner == nil {
		p.scanner = rewrite.PatternScanner{}
	}
	if p.compiler == nil {
		c, err := compile.New(compile.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to create compiler: %w", err)
		}
		p.compiler = c
	}
	if p.builder == nil {
		p.builder = document.NewBuilder(document.DefaultOptions())
	}
	if opts.Externals != nil {
		p.externals = *opts.Externals
	} else {
		p.externals = importmap.DefaultExternals()
	}
	return p, nil
}

// Externals returns the permitted external packages.
func (p *Pipeline) Externals() importmap.Externals { return p.externals }

// Result is the outcome of one generation. Exactly one of Document and
// Report is set.
type Result struct {
	Generation uint64                    `json:"generation"`
	Document   *document.PreviewDocument `json:"document,omitempty"`
	Report     *ErrorReport              `json:"report,omitempty"`
	Plan       entry.Plan                `json:"plan"`
	Files      int                       `json:"files"`
	Styles     int                       `json:"styles"`
	Unresolved []resolve.ResolvedImport  `json:"unresolved,omitempty"`
	Skipped    []string                  `json:"skipped,omitempty"`
	Duration   time.Duration             `json:"duration"`
}

// OK reports whether a document was produced.
func (r Result) OK() bool { return r.Document != nil }

// Build runs every stage for snap. ctx only aborts the compile fan-out.
func (p *Pipeline) Build(ctx context.Context, generation uint64, snap project.Snapshot) Result {
	start := time.Now()
	log := logging.WithGeneration(logging.CategoryRebuild, generation)

	res := Result{Generation: generation, Files: snap.Len()}
	finish := func() Result {
		res.Duration = time.Since(start)
		if res.Report != nil {
			log.Warn("build failed after %v: %s", res.Duration, res.Report.Error())
		} else {
			log.Debug("build finished in %v (%d files, %d unresolved)", res.Duration, res.Files, len(res.Unresolved))
		}
		return res
	}

	if snap.Len() == 0 {
		doc := document.Placeholder(generation)
		res.Document = &doc
		return finish()
	}

	styles, scripts := snap.Split()
	res.Styles = len(styles)

	// Stage 1: rewrite every script file against the whole snapshot.
	rw := rewrite.NewRewriter(resolve.NewResolver(snap), p.scanner)
	rewritten := make([]project.VirtualFile, 0, len(scripts))
	present := make(fileSet, len(scripts))
	for _, f := range scripts {
		out := rw.Rewrite(f.Path, f.Content)
		rewritten = append(rewritten, project.VirtualFile{Path: f.Path, Content: out.Source})
		present[f.Path] = true
		res.Unresolved = append(res.Unresolved, out.Unresolved()...)
	}
	for _, u := range res.Unresolved {
		log.Debug("deferred: %s imports unresolved %q", u.FromPath, u.Raw)
	}

	// Stage 2: styles are merged out of band.
	sheet := style.Concat(styles)

	// Stage 3: entry plan. A project with nothing to run stops here.
	res.Plan = entry.Resolve(present)
	if res.Plan.Kind == entry.KindNone {
		res.Report = EntryMissingReport()
		return finish()
	}

	// Stage 4: compile, all or nothing.
	units, err := p.compiler.CompileAll(ctx, rewritten)
	if err != nil {
		res.Report = ReportFromError(err)
		return finish()
	}

	// Stage 5: import map and document.
	table, skipped := importmap.Synthesize(p.externals, units)
	res.Skipped = skipped

	doc, err := p.builder.Build(generation, sheet, table, res.Plan)
	if err != nil {
		res.Report = ReportFromError(err)
		return finish()
	}
	res.Document = &doc
	return finish()
}

// BuildRaw builds from raw, un-normalized paths. Colliding paths fail the
// generation with a snapshot report.
func (p *Pipeline) BuildRaw(ctx context.Context, generation uint64, raw map[string]string) Result {
	snap, err := project.NewSnapshot(raw)
	if err != nil {
		return Result{Generation: generation, Files: len(raw), Report: ReportFromError(err)}
	}
	return p.Build(ctx, generation, snap)
}

type fileSet map[string]bool

func (s fileSet) Has(path string) bool { return s[path] }
