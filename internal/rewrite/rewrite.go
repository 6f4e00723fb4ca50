package rewrite

import (
	"sort"
	"strings"

	"livepreview/internal/project"
	"livepreview/internal/resolve"
)

// Result is one rewritten file.
type Result struct {
	Path    string
	Source  string
	Imports []resolve.ResolvedImport
	// Stripped lists stylesheet specifiers whose statements were removed.
	Stripped []string
}

// Unresolved returns the local imports no probe matched.
func (r Result) Unresolved() []resolve.ResolvedImport {
	var out []resolve.ResolvedImport
	for _, imp := range r.Imports {
		if !imp.OK() {
			out = append(out, imp)
		}
	}
	return out
}

// Rewriter rewrites the files of one snapshot.
type Rewriter struct {
	resolver *resolve.Resolver
	scanner  Scanner
}

// NewRewriter creates a rewriter. A nil scanner means PatternScanner.
func NewRewriter(resolver *resolve.Resolver, scanner Scanner) *Rewriter {
	if scanner == nil {
		scanner = PatternScanner{}
	}
	return &Rewriter{resolver: resolver, scanner: scanner}
}

type edit struct {
	start, end int
	text       string
}

// Rewrite replaces every resolvable local specifier in source with its
// resolved path and deletes stylesheet import statements. External and
// unresolved specifiers are left verbatim, as is all unmatched text.
func (rw *Rewriter) Rewrite(path, source string) Result {
	res := Result{Path: path, Source: source}
	src := []byte(source)

	imports := rw.scanner.Scan(path, src)
	sort.SliceStable(imports, func(i, j int) bool { return imports[i].StmtStart < imports[j].StmtStart })

	var edits []edit
	for _, imp := range imports {
		if !validSpan(imp, len(src)) {
			continue
		}
		if project.IsStylesheet(imp.Spec) {
			// Only import statements are removed; a re-export of a
			// stylesheet is left for the browser to reject.
			if !strings.HasPrefix(source[imp.StmtStart:], "import") {
				continue
			}
			edits = append(edits, edit{start: imp.StmtStart, end: imp.StmtEnd})
			res.Stripped = append(res.Stripped, imp.Spec)
			continue
		}
		if !resolve.IsLocal(imp.Spec) {
			continue
		}
		r := rw.resolver.ResolveSpecifier(path, imp.Spec)
		res.Imports = append(res.Imports, r)
		if r.OK() && r.Resolved != imp.Spec {
			edits = append(edits, edit{start: imp.SpecStart, end: imp.SpecEnd, text: r.Resolved})
		}
	}
	if len(edits) == 0 {
		return res
	}

	var b strings.Builder
	b.Grow(len(src))
	last := 0
	for _, e := range edits {
		if e.start < last {
			continue
		}
		b.Write(src[last:e.start])
		b.WriteString(e.text)
		last = e.end
	}
	b.Write(src[last:])
	res.Source = b.String()
	return res
}

func validSpan(imp Import, n int) bool {
	return imp.StmtStart >= 0 && imp.StmtStart <= imp.SpecStart &&
		imp.SpecStart <= imp.SpecEnd && imp.SpecEnd <= imp.StmtEnd && imp.StmtEnd <= n
}
