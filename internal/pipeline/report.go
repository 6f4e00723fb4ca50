package pipeline

import (
	"context"
	"errors"
	"fmt"

	"livepreview/internal/compile"
	"livepreview/internal/document"
	"livepreview/internal/entry"
	"livepreview/internal/project"
)

// Phase is the stage a failure belongs to.
type Phase string

const (
	PhaseResolve Phase = "resolve"
	PhaseCompile Phase = "compile"
	PhaseRuntime Phase = "runtime"
)

// Kind narrows a failure within its phase.
type Kind string

const (
	KindSnapshot     Kind = "snapshot"
	KindEntryMissing Kind = "entry-missing"
	KindCompile      Kind = "compile"
	KindRuntime      Kind = "runtime"
	KindCanceled     Kind = "canceled"
)

// ErrorReport replaces the document of a failed generation. Runtime reports
// describe failures captured inside the sandbox after a document was applied.
type ErrorReport struct {
	Phase   Phase  `json:"phase"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Path    string `json:"path,omitempty"`
}

func (r *ErrorReport) Error() string {
	if r.Path != "" {
		return fmt.Sprintf("%s error in %s: %s", r.Phase, r.Path, r.Message)
	}
	return fmt.Sprintf("%s error: %s", r.Phase, r.Message)
}

// View adapts the report for the full-panel error page.
func (r *ErrorReport) View(generation uint64) document.ErrorView {
	return document.ErrorView{
		Generation: generation,
		Phase:      string(r.Phase),
		Kind:       string(r.Kind),
		Message:    r.Message,
		Detail:     r.Detail,
		Path:       r.Path,
	}
}

// EntryMissingReport is the fatal report for a project with nothing to run.
func EntryMissingReport() *ErrorReport {
	return &ErrorReport{
		Phase:   PhaseResolve,
		Kind:    KindEntryMissing,
		Message: entry.MissingMessage(),
	}
}

// ReportFromError classifies an error raised while producing a generation.
func ReportFromError(err error) *ErrorReport {
	var report *ErrorReport
	var cerr *compile.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &report):
		return report
	case errors.As(err, &cerr):
		r := &ErrorReport{
			Phase:   PhaseCompile,
			Kind:    KindCompile,
			Message: fmt.Sprintf("Compilation Error in %s:\n%s", cerr.Path, cerr.Message),
			Path:    cerr.Path,
		}
		if cerr.Line > 0 {
			r.Detail = fmt.Sprintf("%s:%d:%d\n%s", cerr.Path, cerr.Line, cerr.Column, cerr.Snippet)
		}
		return r
	case errors.Is(err, entry.ErrNoEntry):
		return EntryMissingReport()
	case errors.Is(err, project.ErrPathCollision):
		return &ErrorReport{Phase: PhaseResolve, Kind: KindSnapshot, Message: err.Error()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &ErrorReport{Phase: PhaseCompile, Kind: KindCanceled, Message: "build canceled: " + err.Error()}
	default:
		return &ErrorReport{Phase: PhaseResolve, Kind: KindSnapshot, Message: err.Error()}
	}
}
