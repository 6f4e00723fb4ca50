package document

import (
	"fmt"
	"os"
	"path/filepath"
)

// StandaloneDir is where exports land, relative to the workspace.
const StandaloneDir = ".preview/standalone"

// WriteStandalone writes doc to dir/<generation>.html and returns the path.
// The file is self-contained apart from the externals it imports.
func WriteStandalone(doc PreviewDocument, dir string) (string, error) {
	if doc.HTML == "" {
		return "", fmt.Errorf("generation %d has no document", doc.Generation)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.html", doc.Generation))
	if err := os.WriteFile(path, []byte(doc.HTML), 0644); err != nil {
		return "", fmt.Errorf("failed to write standalone document: %w", err)
	}
	return path, nil
}
