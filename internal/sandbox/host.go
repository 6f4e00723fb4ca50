// Package sandbox runs preview documents in an isolated execution context and
// reports what goes wrong inside them. A Host is torn down and recreated for
// every document; there is no in-place patching.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"livepreview/internal/document"
)

// Class separates failures before mount from failures after it.
type Class string

const (
	ClassLink    Class = "link"
	ClassRuntime Class = "runtime"
)

// Failure is one problem captured inside a mounted document.
type Failure struct {
	Generation uint64    `json:"generation"`
	Class      Class     `json:"class"`
	Source     string    `json:"source"` // error, rejection, console, load, resource
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

func (f Failure) String() string {
	return fmt.Sprintf("[%s/%s] %s", f.Class, f.Source, f.Message)
}

// Sink receives failures as they are captured. It may be called from any
// goroutine.
type Sink func(Failure)

// Host executes one document at a time.
type Host interface {
	// Mount tears down whatever is mounted and loads doc in a fresh context.
	Mount(ctx context.Context, doc document.PreviewDocument) error
	// Teardown discards the mounted document, if any.
	Teardown(ctx context.Context) error
	// Close releases the host for good.
	Close(ctx context.Context) error
}

// harnessRecord is the JSON the harness logs after FailureMarker.
type harnessRecord struct {
	Class   string  `json:"class"`
	Source  string  `json:"source"`
	Message string  `json:"message"`
	Detail  string  `json:"detail"`
	At      float64 `json:"at"`
}

// DecodeFailure parses a harness failure record.
func DecodeFailure(generation uint64, payload string) (Failure, error) {
	var rec harnessRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return Failure{}, fmt.Errorf("failed to decode failure record: %w", err)
	}
	f := Failure{
		Generation: generation,
		Class:      ClassLink,
		Source:     rec.Source,
		Message:    rec.Message,
		Detail:     rec.Detail,
		At:         time.Now(),
	}
	if rec.Class == string(ClassRuntime) {
		f.Class = ClassRuntime
	}
	if rec.At > 0 {
		f.At = time.UnixMilli(int64(rec.At))
	}
	return f, nil
}

// Recorder is an in-process Host that executes nothing. It keeps the mount
// history so callers can check teardown-before-mount ordering.
type Recorder struct {
	mu      sync.Mutex
	events  []string
	current *document.PreviewDocument
	closed  bool
}

// NewRecorder creates a recording host.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Mount(ctx context.Context, doc document.PreviewDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("host closed")
	}
	if r.current != nil {
		r.events = append(r.events, fmt.Sprintf("teardown %d", r.current.Generation))
	}
	r.current = &doc
	r.events = append(r.events, fmt.Sprintf("mount %d", doc.Generation))
	return nil
}

func (r *Recorder) Teardown(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.events = append(r.events, fmt.Sprintf("teardown %d", r.current.Generation))
		r.current = nil
	}
	return nil
}

func (r *Recorder) Close(ctx context.Context) error {
	if err := r.Teardown(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Events returns the mount/teardown log.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// Current returns the mounted document, if any.
func (r *Recorder) Current() (document.PreviewDocument, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return document.PreviewDocument{}, false
	}
	return *r.current, true
}
