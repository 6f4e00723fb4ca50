// Package rebuild decides when a preview is regenerated and makes sure only
// the newest generation's result is ever applied.
//
// Every trigger (a project change or an explicit Refresh) mints a generation
// token and starts a full pipeline run in its own goroutine. Runs are not
// serialized against each other; when one finishes its result is applied only
// if its token is still the latest. Superseded runs finish and are dropped.
package rebuild

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"livepreview/internal/document"
	"livepreview/internal/logging"
	"livepreview/internal/pipeline"
	"livepreview/internal/project"
	"livepreview/internal/resolve"
	"livepreview/internal/sandbox"
)

// State of the controller.
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	StateReady      State = "ready"
	StateErrored    State = "errored"
)

// ErrNotReady is returned by Standalone when there is no document to export.
var ErrNotReady = errors.New("no preview document available")

// maxRuntimeFailures bounds the failures kept in Status.
const maxRuntimeFailures = 20

// Status is a snapshot of the controller. While Generating, Document or
// Report still describe the last applied generation.
type Status struct {
	State      State                     `json:"state"`
	Generation uint64                    `json:"generation"` // newest minted token
	Applied    uint64                    `json:"applied"`    // generation of Document/Report
	Document   *document.PreviewDocument `json:"document,omitempty"`
	Report     *pipeline.ErrorReport     `json:"report,omitempty"`
	Unresolved []resolve.ResolvedImport  `json:"unresolved,omitempty"`
	Runtime    []sandbox.Failure         `json:"runtime,omitempty"`
	Stale      int                       `json:"stale"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// History persists generation outcomes and runtime failures.
type History interface {
	SaveOutcome(ctx context.Context, res pipeline.Result, trigger string) error
	SaveFailure(ctx context.Context, f sandbox.Failure) error
}

// Options wires a controller.
type Options struct {
	Source   project.Source
	Pipeline *pipeline.Pipeline
	Host     sandbox.Host // optional; nil when the user's browser is the host
	History  History      // optional
}

// Controller runs the Idle -> Generating -> Ready|Errored state machine.
type Controller struct {
	source   project.Source
	pipeline *pipeline.Pipeline
	host     sandbox.Host
	history  History

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	gen     atomic.Uint64
	applyMu sync.Mutex // sequences apply + host remount

	mu     sync.RWMutex
	status Status
	// Failures captured while mountGen is being mounted, before it is applied.
	mountGen uint64
	pending  []sandbox.Failure

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int

	// beforeApply lets tests hold a finished run before it is applied.
	beforeApply func(generation uint64)
}

// New creates a controller in the Idle state.
func New(opts Options) (*Controller, error) {
	if opts.Source == nil {
		return nil, errors.New("rebuild: source is required")
	}
	if opts.Pipeline == nil {
		return nil, errors.New("rebuild: pipeline is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		source:   opts.Source,
		pipeline: opts.Pipeline,
		host:     opts.Host,
		history:  opts.History,
		ctx:      ctx,
		cancel:   cancel,
		status:   Status{State: StateIdle, UpdatedAt: time.Now()},
		subs:     make(map[int]chan Event),
	}, nil
}

// Run builds once, then rebuilds on every change signal until ctx is done.
// It waits for in-flight runs before returning.
func (c *Controller) Run(ctx context.Context) error {
	c.trigger("start")
	changes := c.source.Changes()
	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return nil
		case <-c.ctx.Done():
			c.wg.Wait()
			return nil
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			c.trigger("change")
		}
	}
}

// Refresh starts a new generation and returns its token.
func (c *Controller) Refresh() uint64 {
	return c.trigger("refresh")
}

func (c *Controller) trigger(reason string) uint64 {
	gen := c.gen.Add(1)

	c.mu.Lock()
	c.status.State = StateGenerating
	// Concurrent triggers may take the lock out of token order.
	c.status.Generation = max(c.status.Generation, gen)
	c.status.UpdatedAt = time.Now()
	st := c.copyStatusLocked()
	c.mu.Unlock()

	logging.Rebuild("generation %d started (%s)", gen, reason)
	c.publish(Event{Type: EventStatus, Status: &st})

	c.wg.Add(1)
	go c.run(gen, reason)
	return gen
}

func (c *Controller) run(gen uint64, reason string) {
	defer c.wg.Done()

	var res pipeline.Result
	snap, err := c.source.Snapshot(c.ctx)
	if err != nil {
		res = pipeline.Result{Generation: gen, Report: pipeline.ReportFromError(err)}
	} else {
		res = c.pipeline.Build(c.ctx, gen, snap)
	}

	if c.beforeApply != nil {
		c.beforeApply(gen)
	}
	c.apply(res, reason)
}

// apply installs res if its token is still the newest.
func (c *Controller) apply(res pipeline.Result, reason string) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	log := logging.WithGeneration(logging.CategoryRebuild, res.Generation)
	if res.Generation != c.gen.Load() {
		log.Debug("superseded by generation %d, discarding", c.gen.Load())
		c.markStale()
		return
	}

	if c.host != nil {
		if res.OK() {
			c.mu.Lock()
			c.mountGen, c.pending = res.Generation, nil
			c.mu.Unlock()
			if err := c.host.Mount(c.ctx, *res.Document); err != nil {
				log.Warn("mount failed: %v", err)
			}
		} else if err := c.host.Teardown(c.ctx); err != nil {
			log.Warn("teardown failed: %v", err)
		}
	}

	c.mu.Lock()
	pending := c.pending
	c.mountGen, c.pending = 0, nil
	if res.Generation != c.gen.Load() {
		// A newer trigger arrived while mounting; it will remount.
		c.status.Stale++
		c.mu.Unlock()
		log.Debug("superseded during mount, discarding")
		return
	}
	c.status.Applied = res.Generation
	c.status.Unresolved = res.Unresolved
	c.status.Runtime = boundFailures(pending)
	if res.OK() {
		c.status.State = StateReady
		c.status.Document = res.Document
		c.status.Report = nil
	} else {
		c.status.State = StateErrored
		c.status.Document = nil
		c.status.Report = res.Report
	}
	c.status.UpdatedAt = time.Now()
	st := c.copyStatusLocked()
	c.mu.Unlock()

	if res.OK() {
		log.Info("ready in %v (%d files, %d unresolved)", res.Duration, res.Files, len(res.Unresolved))
	} else {
		log.Warn("errored: %s", res.Report.Error())
	}
	c.publish(Event{Type: EventStatus, Status: &st})

	if c.history != nil {
		if err := c.history.SaveOutcome(c.ctx, res, reason); err != nil {
			logging.StoreWarn("failed to record generation %d: %v", res.Generation, err)
		}
	}
}

func (c *Controller) markStale() {
	c.mu.Lock()
	c.status.Stale++
	c.mu.Unlock()
}

// ReportFailure records a failure captured inside the sandbox. Failures for
// anything but the applied document, or the one being mounted, are dropped.
// State never changes.
func (c *Controller) ReportFailure(f sandbox.Failure) bool {
	if f.At.IsZero() {
		f.At = time.Now()
	}
	c.mu.Lock()
	switch {
	case f.Generation != 0 && f.Generation == c.mountGen:
		c.pending = append(c.pending, f)
	case c.status.Document != nil && f.Generation == c.status.Applied:
		c.status.Runtime = boundFailures(append(c.status.Runtime, f))
	default:
		c.mu.Unlock()
		logging.RebuildDebug("dropping failure for generation %d: %s", f.Generation, f)
		return false
	}
	c.mu.Unlock()

	logging.Rebuild("generation %d %s", f.Generation, f)
	c.publish(Event{Type: EventFailure, Failure: &f})
	if c.history != nil {
		if err := c.history.SaveFailure(c.ctx, f); err != nil {
			logging.StoreWarn("failed to record failure: %v", err)
		}
	}
	return true
}

func boundFailures(fs []sandbox.Failure) []sandbox.Failure {
	if len(fs) > maxRuntimeFailures {
		return fs[len(fs)-maxRuntimeFailures:]
	}
	return fs
}

// RuntimeReport converts a sandbox failure into a runtime-phase report.
func RuntimeReport(f sandbox.Failure) *pipeline.ErrorReport {
	return &pipeline.ErrorReport{
		Phase:   pipeline.PhaseRuntime,
		Kind:    pipeline.KindRuntime,
		Message: f.Message,
		Detail:  f.Detail,
	}
}

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.copyStatusLocked()
}

func (c *Controller) copyStatusLocked() Status {
	st := c.status
	st.Unresolved = append([]resolve.ResolvedImport(nil), c.status.Unresolved...)
	st.Runtime = append([]sandbox.Failure(nil), c.status.Runtime...)
	return st
}

// Standalone returns the current document for viewing outside the tool.
func (c *Controller) Standalone() (document.PreviewDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status.Document == nil {
		return document.PreviewDocument{}, ErrNotReady
	}
	return *c.status.Document, nil
}

// Wait blocks until every started run has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close stops accepting work, waits for runs and closes subscriptions.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()

	c.subMu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subMu.Unlock()
}
