// Package rewrite replaces local import specifiers with resolved project paths
// and strips stylesheet imports. Specifier extraction sits behind Scanner so a
// regex heuristic and a tree-sitter scan are interchangeable.
package rewrite

import (
	"fmt"
	"regexp"
	"strings"
)

// Import is one specifier occurrence. Offsets are byte positions into the
// scanned source; Spec* covers the text between the quotes, Stmt* the whole
// statement including a trailing semicolon when present.
type Import struct {
	Spec      string
	SpecStart int
	SpecEnd   int
	StmtStart int
	StmtEnd   int
}

// Scanner extracts static import and re-export specifiers. Implementations
// must not fail on malformed input; they report what they can find.
type Scanner interface {
	Name() string
	Scan(path string, src []byte) []Import
}

// Scanner names accepted by NewScanner.
const (
	ScannerPattern = "pattern"
	ScannerSyntax  = "syntax"
)

// NewScanner returns the scanner registered under name.
func NewScanner(name string) (Scanner, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ScannerPattern:
		return PatternScanner{}, nil
	case ScannerSyntax:
		return NewSyntaxScanner(), nil
	default:
		return nil, fmt.Errorf("unknown scanner %q (want %s or %s)", name, ScannerPattern, ScannerSyntax)
	}
}

// importPattern matches `import "x"`, `import ... from "x"` and
// `export ... from "x"`. The clause between keyword and from may span lines
// but only holds identifiers, commas, `*` and at most one brace list, so it
// never runs across code such as a function body or JSX.
var importPattern = regexp.MustCompile(`\b(?:import|export)\b(?:\s*` + clausePattern + `\bfrom\s*|\s*)(['"])([^'"\r\n]*)(['"])(?:[ \t]*;)?`)

const clausePattern = `[\w$*,\s]*(?:\{[^{}()<>=;'"]*\}[\w$*,\s]*)?`

// PatternScanner finds specifiers with a regular expression.
type PatternScanner struct{}

func (PatternScanner) Name() string { return ScannerPattern }

func (PatternScanner) Scan(_ string, src []byte) []Import {
	var out []Import
	for _, m := range importPattern.FindAllSubmatchIndex(src, -1) {
		// m: [stmt, open quote, spec, close quote]
		if src[m[2]] != src[m[6]] {
			continue
		}
		if m[0] > 0 && isIdentByte(src[m[0]-1]) {
			continue
		}
		out = append(out, Import{
			Spec:      string(src[m[4]:m[5]]),
			SpecStart: m[4],
			SpecEnd:   m[5],
			StmtStart: m[0],
			StmtEnd:   m[1],
		})
	}
	return out
}

// isIdentByte catches `$import` and `obj.import` which \b lets through.
func isIdentByte(b byte) bool {
	return b == '$' || b == '.'
}
