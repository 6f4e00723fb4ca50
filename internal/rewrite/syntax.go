package rewrite

import (
	"context"
	"time"

	"livepreview/internal/logging"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
)

// SyntaxScanner finds specifiers by parsing with the tree-sitter TSX grammar.
// Tree-sitter recovers from syntax errors, so statements next to ERROR nodes
// are still reported.
type SyntaxScanner struct {
	lang *sitter.Language
}

// NewSyntaxScanner creates a TSX scanner. The TSX grammar is a superset of
// the one needed for .ts, .js and .jsx sources.
func NewSyntaxScanner() *SyntaxScanner {
	return &SyntaxScanner{lang: tsx.GetLanguage()}
}

func (s *SyntaxScanner) Name() string { return ScannerSyntax }

// Scan parses src and collects the source strings of import and export
// statements. A parse failure yields no imports.
func (s *SyntaxScanner) Scan(path string, src []byte) []Import {
	start := time.Now()

	// Parsers are not safe for concurrent use; files are scanned in parallel.
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(s.lang)

	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		logging.Get(logging.CategoryResolve).Warn("syntax scan of %s failed: %v", path, err)
		return nil
	}
	defer tree.Close()

	var out []Import
	s.walk(tree.RootNode(), src, &out)

	logging.ResolveDebug("syntax scan of %s: %d imports in %v", path, len(out), time.Since(start))
	return out
}

func (s *SyntaxScanner) walk(node *sitter.Node, src []byte, out *[]Import) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "import_statement", "export_statement":
			if imp, ok := importFromStatement(child, src); ok {
				*out = append(*out, imp)
			}
		case "ERROR":
			s.walk(child, src, out)
		}
	}
}

func importFromStatement(stmt *sitter.Node, src []byte) (Import, bool) {
	source := stmt.ChildByFieldName("source")
	if source == nil || source.Type() != "string" {
		return Import{}, false
	}
	start, end := int(source.StartByte()), int(source.EndByte())
	if end-start < 2 || end > len(src) {
		return Import{}, false
	}
	open, closing := src[start], src[end-1]
	if (open != '"' && open != '\'') || open != closing {
		return Import{}, false
	}
	return Import{
		Spec:      string(src[start+1 : end-1]),
		SpecStart: start + 1,
		SpecEnd:   end - 1,
		StmtStart: int(stmt.StartByte()),
		StmtEnd:   int(stmt.EndByte()),
	}, true
}
