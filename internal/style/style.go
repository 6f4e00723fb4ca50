// Package style merges a project's stylesheets into one sheet.
package style

import (
	"strings"

	"livepreview/internal/project"
)

// Aggregate concatenates every stylesheet in the snapshot in key order, each
// preceded by a comment naming its path. A project without stylesheets yields
// the empty string.
func Aggregate(s project.Snapshot) string {
	styles, _ := s.Split()
	return Concat(styles)
}

// Concat joins already-selected stylesheet files.
func Concat(files []project.VirtualFile) string {
	var b strings.Builder
	for _, f := range files {
		b.WriteString("/* ")
		b.WriteString(strings.ReplaceAll(f.Path, "*/", "* /"))
		b.WriteString(" */\n")
		b.WriteString(f.Content)
		if !strings.HasSuffix(f.Content, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
