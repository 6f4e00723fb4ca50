package rebuild

import (
	"context"
	"sync"
	"testing"
	"time"

	"livepreview/internal/document"
	"livepreview/internal/pipeline"
	"livepreview/internal/project"
	"livepreview/internal/sandbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeHistory struct {
	mu       sync.Mutex
	outcomes []uint64
	triggers []string
	failures []sandbox.Failure
}

func (h *fakeHistory) SaveOutcome(_ context.Context, res pipeline.Result, trigger string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcomes = append(h.outcomes, res.Generation)
	h.triggers = append(h.triggers, trigger)
	return nil
}

func (h *fakeHistory) SaveFailure(_ context.Context, f sandbox.Failure) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, f)
	return nil
}

func (h *fakeHistory) generations() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint64(nil), h.outcomes...)
}

type fixture struct {
	ctrl    *Controller
	mem     *project.Memory
	host    *sandbox.Recorder
	history *fakeHistory
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	p, err := pipeline.New(pipeline.Options{})
	require.NoError(t, err)

	f := &fixture{
		mem:     project.NewMemory(project.MustSnapshot(files)),
		host:    sandbox.NewRecorder(),
		history: &fakeHistory{},
	}
	f.ctrl, err = New(Options{Source: f.mem, Pipeline: p, Host: f.host, History: f.history})
	require.NoError(t, err)
	t.Cleanup(f.ctrl.Close)
	return f
}

const app = "export default function App(){ return <h1>hi</h1> }"

func TestNewRequiresSourceAndPipeline(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	_, err = New(Options{Source: project.NewMemory(project.MustSnapshot(nil))})
	assert.Error(t, err)
}

func TestInitialStateIsIdle(t *testing.T) {
	f := newFixture(t, nil)
	st := f.ctrl.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Zero(t, st.Generation)

	_, err := f.ctrl.Standalone()
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestRefreshBecomesReady(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, map[string]string{"src/App.tsx": app})

	gen := f.ctrl.Refresh()
	f.ctrl.Wait()

	st := f.ctrl.Status()
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, gen, st.Applied)
	require.NotNil(t, st.Document)
	assert.Nil(t, st.Report)
	assert.Equal(t, []string{"mount 1"}, f.host.Events())
	assert.Equal(t, []uint64{1}, f.history.generations())

	doc, err := f.ctrl.Standalone()
	require.NoError(t, err)
	assert.Equal(t, st.Document.Hash, doc.Hash)
}

func TestEmptyProjectIsReadyWithPlaceholder(t *testing.T) {
	f := newFixture(t, nil)
	f.ctrl.Refresh()
	f.ctrl.Wait()

	st := f.ctrl.Status()
	assert.Equal(t, StateReady, st.State)
	require.NotNil(t, st.Document)
	assert.True(t, st.Document.Placeholder)
}

func TestErroredThenRecovers(t *testing.T) {
	f := newFixture(t, map[string]string{"src/index.tsx": "const = ;"})

	f.ctrl.Refresh()
	f.ctrl.Wait()
	st := f.ctrl.Status()
	assert.Equal(t, StateErrored, st.State)
	require.NotNil(t, st.Report)
	assert.Equal(t, pipeline.PhaseCompile, st.Report.Phase)
	assert.Nil(t, st.Document)
	assert.Empty(t, f.host.Events())

	f.mem.Apply(project.Update{Path: "src/index.tsx", Content: "document.body.dataset.ok = '1';"})
	f.ctrl.Refresh()
	f.ctrl.Wait()
	st = f.ctrl.Status()
	assert.Equal(t, StateReady, st.State)
	assert.Nil(t, st.Report)
	assert.Equal(t, uint64(2), st.Applied)
	assert.Equal(t, []string{"mount 2"}, f.host.Events())
}

func TestMissingEntryIsResolvePhase(t *testing.T) {
	f := newFixture(t, map[string]string{"src/util.ts": "export const x = 1"})
	f.ctrl.Refresh()
	f.ctrl.Wait()

	st := f.ctrl.Status()
	assert.Equal(t, StateErrored, st.State)
	require.NotNil(t, st.Report)
	assert.Equal(t, pipeline.PhaseResolve, st.Report.Phase)
	assert.Equal(t, pipeline.KindEntryMissing, st.Report.Kind)
}

func TestStaleGenerationIsDiscarded(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, map[string]string{"src/App.tsx": app})

	release := make(chan struct{})
	f.ctrl.beforeApply = func(gen uint64) {
		if gen == 1 {
			<-release
		}
	}

	first := f.ctrl.Refresh()
	second := f.ctrl.Refresh()
	require.Equal(t, first+1, second)

	require.Eventually(t, func() bool {
		return f.ctrl.Status().Applied == second
	}, 5*time.Second, 10*time.Millisecond)

	close(release)
	f.ctrl.Wait()

	st := f.ctrl.Status()
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, second, st.Applied)
	assert.Equal(t, 1, st.Stale)
	assert.Equal(t, []string{"mount 2"}, f.host.Events())
	assert.Equal(t, []uint64{2}, f.history.generations())
}

func TestOlderRunFinishingFirstIsDiscarded(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, map[string]string{"src/App.tsx": app})
	events, cancel := f.ctrl.Subscribe(64)
	defer cancel()

	hold := make(chan struct{})
	f.ctrl.beforeApply = func(gen uint64) {
		if gen == 2 {
			<-hold
		}
	}

	first := f.ctrl.Refresh()
	second := f.ctrl.Refresh()

	// The older run reaches apply while the newer one is still building.
	require.Eventually(t, func() bool {
		return f.ctrl.Status().Stale == 1
	}, 5*time.Second, 10*time.Millisecond)
	st := f.ctrl.Status()
	assert.Equal(t, StateGenerating, st.State)
	assert.Zero(t, st.Applied)
	assert.Empty(t, f.host.Events())

	close(hold)
	f.ctrl.Wait()

	st = f.ctrl.Status()
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, second, st.Applied)
	assert.Equal(t, []string{"mount 2"}, f.host.Events())
	assert.Equal(t, []uint64{2}, f.history.generations())

	for len(events) > 0 {
		ev := <-events
		if ev.Type == EventStatus && ev.Status.State != StateGenerating {
			assert.NotEqual(t, first, ev.Status.Applied, "older generation was published")
		}
	}
}

// blockingHost holds the first Mount until release is closed.
type blockingHost struct {
	*sandbox.Recorder
	once    sync.Once
	entered chan uint64
	release chan struct{}
}

func (h *blockingHost) Mount(ctx context.Context, doc document.PreviewDocument) error {
	h.once.Do(func() {
		h.entered <- doc.Generation
		<-h.release
	})
	return h.Recorder.Mount(ctx, doc)
}

func TestSupersededDuringMountIsDiscarded(t *testing.T) {
	defer goleak.VerifyNone(t)
	p, err := pipeline.New(pipeline.Options{})
	require.NoError(t, err)
	host := &blockingHost{Recorder: sandbox.NewRecorder(), entered: make(chan uint64, 1), release: make(chan struct{})}
	history := &fakeHistory{}
	ctrl, err := New(Options{
		Source:   project.NewMemory(project.MustSnapshot(map[string]string{"src/App.tsx": app})),
		Pipeline: p,
		Host:     host,
		History:  history,
	})
	require.NoError(t, err)
	defer ctrl.Close()

	first := ctrl.Refresh()
	select {
	case gen := <-host.entered:
		require.Equal(t, first, gen)
	case <-time.After(5 * time.Second):
		t.Fatal("first generation never mounted")
	}

	second := ctrl.Refresh()
	// Captured while the superseded document is still loading.
	assert.True(t, ctrl.ReportFailure(sandbox.Failure{Generation: first, Class: sandbox.ClassLink, Source: "load", Message: "404 lodash"}))

	close(host.release)
	ctrl.Wait()

	st := ctrl.Status()
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, second, st.Generation)
	assert.Equal(t, second, st.Applied)
	assert.Equal(t, second, st.Document.Generation)
	assert.Equal(t, 1, st.Stale)
	assert.Empty(t, st.Runtime)
	assert.Equal(t, []string{"mount 1", "teardown 1", "mount 2"}, host.Events())
	assert.Equal(t, []uint64{2}, history.generations())
}

func TestConcurrentTriggersKeepNewestGeneration(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, map[string]string{"src/App.tsx": app})

	const n = 32
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.ctrl.Refresh()
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(n), f.ctrl.Status().Generation)

	f.ctrl.Wait()
	st := f.ctrl.Status()
	assert.Equal(t, uint64(n), st.Generation)
	assert.Equal(t, uint64(n), st.Applied)
	assert.Equal(t, StateReady, st.State)
}

func TestGeneratingKeepsPreviousDocument(t *testing.T) {
	f := newFixture(t, map[string]string{"src/App.tsx": app})
	f.ctrl.Refresh()
	f.ctrl.Wait()
	prev := f.ctrl.Status().Document
	require.NotNil(t, prev)

	hold := make(chan struct{})
	f.ctrl.beforeApply = func(uint64) { <-hold }
	f.ctrl.Refresh()

	st := f.ctrl.Status()
	assert.Equal(t, StateGenerating, st.State)
	assert.Equal(t, uint64(2), st.Generation)
	assert.Equal(t, uint64(1), st.Applied)
	assert.Equal(t, prev.Hash, st.Document.Hash)

	close(hold)
	f.ctrl.Wait()
	assert.Equal(t, StateReady, f.ctrl.Status().State)
}

func TestRunRebuildsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, map[string]string{"src/App.tsx": app})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ctrl.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.ctrl.Status().State == StateReady
	}, 5*time.Second, 10*time.Millisecond)

	f.mem.Apply(project.Create{Path: "src/index.css", Content: "body{color:red}"})
	require.Eventually(t, func() bool {
		st := f.ctrl.Status()
		return st.Applied >= 2 && st.State == StateReady
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, f.ctrl.Status().Document.HTML, "body{color:red}")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestReportFailureKeepsState(t *testing.T) {
	f := newFixture(t, map[string]string{"src/App.tsx": app})
	events, cancel := f.ctrl.Subscribe(8)
	defer cancel()

	f.ctrl.Refresh()
	f.ctrl.Wait()

	assert.False(t, f.ctrl.ReportFailure(sandbox.Failure{Generation: 7, Class: sandbox.ClassRuntime, Message: "old"}))
	assert.True(t, f.ctrl.ReportFailure(sandbox.Failure{Generation: 1, Class: sandbox.ClassRuntime, Source: "error", Message: "boom"}))

	st := f.ctrl.Status()
	assert.Equal(t, StateReady, st.State)
	require.Len(t, st.Runtime, 1)
	assert.Equal(t, "boom", st.Runtime[0].Message)
	assert.False(t, st.Runtime[0].At.IsZero())

	var sawFailure bool
	for len(events) > 0 {
		ev := <-events
		if ev.Type == EventFailure {
			sawFailure = true
			assert.Equal(t, "boom", ev.Failure.Message)
		}
	}
	assert.True(t, sawFailure)

	f.history.mu.Lock()
	assert.Len(t, f.history.failures, 1)
	f.history.mu.Unlock()

	report := RuntimeReport(st.Runtime[0])
	assert.Equal(t, pipeline.PhaseRuntime, report.Phase)
}

// reportingHost reports a link failure from inside Mount, the way the Chrome
// host does when a module fails to load before the document settles.
type reportingHost struct {
	*sandbox.Recorder
	ctrl *Controller
}

func (h *reportingHost) Mount(ctx context.Context, doc document.PreviewDocument) error {
	h.ctrl.ReportFailure(sandbox.Failure{Generation: doc.Generation, Class: sandbox.ClassLink, Source: "load", Message: "404 lodash"})
	return h.Recorder.Mount(ctx, doc)
}

func TestFailuresDuringMountAreKept(t *testing.T) {
	p, err := pipeline.New(pipeline.Options{})
	require.NoError(t, err)
	host := &reportingHost{Recorder: sandbox.NewRecorder()}
	ctrl, err := New(Options{Source: project.NewMemory(project.MustSnapshot(map[string]string{"src/App.tsx": app})), Pipeline: p, Host: host})
	require.NoError(t, err)
	defer ctrl.Close()
	host.ctrl = ctrl

	ctrl.Refresh()
	ctrl.Wait()

	st := ctrl.Status()
	assert.Equal(t, StateReady, st.State)
	require.Len(t, st.Runtime, 1)
	assert.Equal(t, sandbox.ClassLink, st.Runtime[0].Class)
	assert.Equal(t, uint64(1), st.Runtime[0].Generation)
}

func TestSubscribeCancelAndClose(t *testing.T) {
	f := newFixture(t, nil)
	_, cancel := f.ctrl.Subscribe(1)
	cancel()
	cancel()

	events, _ := f.ctrl.Subscribe(1)
	f.ctrl.Close()
	_, ok := <-events
	assert.False(t, ok)
}
