package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"livepreview/internal/rebuild"
	"livepreview/internal/sandbox"
	"livepreview/internal/store"

	"github.com/charmbracelet/lipgloss"
)

// Semantic colors for terminal output.
var (
	colorSuccess = lipgloss.Color("#8BC34A")
	colorError   = lipgloss.Color("#e53935")
	colorWarning = lipgloss.Color("#FFC107")
	colorInfo    = lipgloss.Color("#2196F3")
	colorMuted   = lipgloss.Color("#8a94a6")
)

// styles holds the styled components used by watch and history.
type styles struct {
	Badge   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Muted   lipgloss.Style
	Detail  lipgloss.Style
}

func newStyles() styles {
	return styles{
		Badge: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 1).
			Bold(true),
		Success: lipgloss.NewStyle().Foreground(colorSuccess).Bold(true),
		Error:   lipgloss.NewStyle().Foreground(colorError).Bold(true),
		Warning: lipgloss.NewStyle().Foreground(colorWarning).Bold(true),
		Info:    lipgloss.NewStyle().Foreground(colorInfo),
		Muted:   lipgloss.NewStyle().Foreground(colorMuted),
		Detail: lipgloss.NewStyle().
			Foreground(colorMuted).
			PaddingLeft(2).
			BorderLeft(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(colorMuted),
	}
}

// plainStyles renders without color, for tests and NO_COLOR terminals.
func plainStyles() styles {
	s := lipgloss.NewStyle()
	return styles{Badge: s, Success: s, Error: s, Warning: s, Info: s, Muted: s, Detail: s.PaddingLeft(2)}
}

func defaultStyles() styles {
	if os.Getenv("NO_COLOR") != "" {
		return plainStyles()
	}
	return newStyles()
}

func (s styles) badge(state rebuild.State) string {
	label := strings.ToUpper(string(state))
	switch state {
	case rebuild.StateReady:
		return s.Badge.Background(colorSuccess).Render(label)
	case rebuild.StateErrored:
		return s.Badge.Background(colorError).Render(label)
	case rebuild.StateGenerating:
		return s.Badge.Background(colorInfo).Render(label)
	default:
		return s.Badge.Background(colorMuted).Render(label)
	}
}

// renderStatus formats one status line plus any report detail.
func renderStatus(s styles, st rebuild.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", s.badge(st.State), s.Muted.Render(fmt.Sprintf("#%d", st.Generation)))

	switch st.State {
	case rebuild.StateGenerating:
		if st.Applied > 0 {
			b.WriteString(s.Muted.Render(fmt.Sprintf(" (showing #%d)", st.Applied)))
		}
	case rebuild.StateReady:
		if doc := st.Document; doc != nil {
			if doc.Placeholder {
				b.WriteString(" " + s.Info.Render("empty project"))
			} else {
				fmt.Fprintf(&b, " %s %s", s.Success.Render(string(doc.Plan.Kind)), doc.Plan.Path)
				b.WriteString(s.Muted.Render(fmt.Sprintf(" %d bytes %s", doc.Bytes, shortHash(doc.Hash))))
			}
		}
		for _, u := range st.Unresolved {
			b.WriteString("\n" + s.Warning.Render("  unresolved ") + fmt.Sprintf("%s imports %q", u.FromPath, u.Raw))
		}
	case rebuild.StateErrored:
		if r := st.Report; r != nil {
			fmt.Fprintf(&b, " %s %s", s.Error.Render(string(r.Phase)), r.Message)
			if r.Detail != "" {
				b.WriteString("\n" + s.Detail.Render(strings.TrimSpace(r.Detail)))
			}
		}
	}
	if st.Stale > 0 {
		b.WriteString(s.Muted.Render(fmt.Sprintf(" [%d superseded]", st.Stale)))
	}
	return b.String()
}

// renderFailure formats one runtime or link failure.
func renderFailure(s styles, f sandbox.Failure) string {
	label := s.Error.Render(string(f.Class))
	if f.Class == sandbox.ClassLink {
		label = s.Warning.Render(string(f.Class))
	}
	line := fmt.Sprintf("  %s %s %s %s", label, s.Muted.Render(fmt.Sprintf("#%d", f.Generation)), s.Muted.Render(f.Source), f.Message)
	if f.Detail != "" {
		line += "\n" + s.Detail.Render(strings.TrimSpace(f.Detail))
	}
	return line
}

// renderGeneration formats one history row.
func renderGeneration(s styles, g store.Generation) string {
	state := s.Success.Render(g.State)
	if g.State != string(rebuild.StateReady) {
		state = s.Error.Render(g.State)
	}
	line := fmt.Sprintf("%s %s %-7s %-8s", s.Muted.Render(g.CreatedAt.Format(time.DateTime)), s.Muted.Render(fmt.Sprintf("#%-4d", g.Generation)), state, g.Trigger)
	if g.Message != "" {
		line += fmt.Sprintf(" %s: %s", g.Phase, g.Message)
	} else if g.EntryKind != "" {
		line += fmt.Sprintf(" %s %s %d files %s", g.EntryKind, g.EntryPath, g.Files, shortHash(g.Hash))
	}
	if n := len(g.Unresolved); n > 0 {
		line += s.Warning.Render(fmt.Sprintf(" (%d unresolved)", n))
	}
	return line
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
