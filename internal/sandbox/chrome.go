package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"livepreview/internal/document"
	"livepreview/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// ChromeConfig configures the headless Chrome host.
type ChromeConfig struct {
	ControlURL      string   `yaml:"control_url" json:"control_url"` // attach instead of launching
	Bin             string   `yaml:"bin" json:"bin"`
	Flags           []string `yaml:"flags" json:"flags"`
	Headless        bool     `yaml:"headless" json:"headless"`
	ViewportWidth   int      `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight  int      `yaml:"viewport_height" json:"viewport_height"`
	MountTimeoutMs  int      `yaml:"mount_timeout_ms" json:"mount_timeout_ms"`
	BlockNavigation bool     `yaml:"block_navigation" json:"block_navigation"`
}

// DefaultChromeConfig returns sensible defaults.
func DefaultChromeConfig() ChromeConfig {
	return ChromeConfig{
		Headless:        true,
		ViewportWidth:   1280,
		ViewportHeight:  800,
		MountTimeoutMs:  15000,
		BlockNavigation: true,
	}
}

// GetViewportWidth returns viewport width.
func (c ChromeConfig) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1280
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c ChromeConfig) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 800
	}
	return c.ViewportHeight
}

// MountTimeout bounds how long Mount waits for the document to settle.
func (c ChromeConfig) MountTimeout() time.Duration {
	if c.MountTimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.MountTimeoutMs) * time.Millisecond
}

// ChromeHost runs each document in a fresh incognito browser context of a
// launched or attached Chrome.
type ChromeHost struct {
	cfg  ChromeConfig
	sink Sink

	mu         sync.Mutex
	browser    *rod.Browser
	launch     *launcher.Launcher
	controlURL string
	active     *mount
}

type mount struct {
	generation uint64
	context    *rod.Browser
	page       *rod.Page
	router     *rod.HijackRouter
	cancel     context.CancelFunc
	done       chan struct{}
	mounted    atomic.Bool
	failures   atomic.Int32
	settleOnce sync.Once
	settled    chan struct{}
}

func (m *mount) settle() {
	m.settleOnce.Do(func() { close(m.settled) })
}

// NewChromeHost creates a host. Chrome starts lazily on the first Mount.
func NewChromeHost(cfg ChromeConfig, sink Sink) *ChromeHost {
	if sink == nil {
		sink = func(Failure) {}
	}
	return &ChromeHost{cfg: cfg, sink: sink}
}

// Start connects to an existing Chrome or launches a new one.
func (h *ChromeHost) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startLocked(ctx)
}

func (h *ChromeHost) startLocked(ctx context.Context) error {
	if h.browser != nil {
		if _, err := h.browser.Version(); err == nil {
			return nil
		}
		logging.SandboxWarn("stale browser connection detected, reconnecting")
		_ = h.browser.Close()
		h.browser = nil
		h.controlURL = ""
		h.active = nil
	}

	controlURL := h.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(h.cfg.Headless)
		if h.cfg.Bin != "" {
			l = l.Bin(h.cfg.Bin)
		}
		for _, raw := range h.cfg.Flags {
			name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
			if hasVal {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		h.launch = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	h.browser = browser
	h.controlURL = controlURL
	logging.Sandbox("connected to chrome at %s", controlURL)
	return nil
}

// ControlURL returns the DevTools websocket URL.
func (h *ChromeHost) ControlURL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.controlURL
}

// Mount tears down the previous document and loads doc into a new incognito
// context. It returns once the entry script mounted, a load failure was
// captured, or the mount timeout passed.
func (h *ChromeHost) Mount(ctx context.Context, doc document.PreviewDocument) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.startLocked(ctx); err != nil {
		return err
	}
	h.teardownLocked()

	incognito, err := h.browser.Incognito()
	if err != nil {
		return fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = incognito.Close()
		return fmt.Errorf("create page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             h.cfg.GetViewportWidth(),
		Height:            h.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
	}).Call(page); err != nil {
		logging.SandboxDebug("failed to set viewport: %v", err)
	}

	eventCtx, cancel := context.WithCancel(context.Background())
	m := &mount{
		generation: doc.Generation,
		context:    incognito,
		page:       page,
		cancel:     cancel,
		done:       make(chan struct{}),
		settled:    make(chan struct{}),
	}
	h.startEventStream(eventCtx, m)

	if h.cfg.BlockNavigation {
		m.router = page.HijackRequests()
		err := m.router.Add("*", proto.NetworkResourceTypeDocument, func(hj *rod.Hijack) {
			logging.SandboxWarn("generation %d: blocked navigation to %s", m.generation, hj.Request.URL())
			hj.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		})
		if err != nil {
			logging.SandboxWarn("failed to install navigation guard: %v", err)
		} else {
			go m.router.Run()
		}
	}
	h.active = m

	if err := page.Context(ctx).SetDocumentContent(doc.HTML); err != nil {
		h.teardownLocked()
		return fmt.Errorf("load document: %w", err)
	}

	timer := time.NewTimer(h.cfg.MountTimeout())
	defer timer.Stop()
	select {
	case <-m.settled:
	case <-timer.C:
		logging.SandboxWarn("generation %d: not mounted after %v", doc.Generation, h.cfg.MountTimeout())
	case <-ctx.Done():
		return ctx.Err()
	}
	logging.Sandbox("generation %d mounted=%v failures=%d", doc.Generation, m.mounted.Load(), m.failures.Load())
	return nil
}

// startEventStream forwards harness output from the page console to the sink.
func (h *ChromeHost) startEventStream(ctx context.Context, m *mount) {
	wait := m.page.Context(ctx).EachEvent(
		func(ev *proto.RuntimeConsoleAPICalled) {
			if ev.Type != proto.RuntimeConsoleAPICalledTypeDebug || len(ev.Args) == 0 {
				return
			}
			switch ev.Args[0].Value.Str() {
			case document.MountedMarker:
				m.mounted.Store(true)
				m.settle()
			case document.FailureMarker:
				if len(ev.Args) < 2 {
					return
				}
				f, err := DecodeFailure(m.generation, ev.Args[1].Value.Str())
				if err != nil {
					logging.SandboxWarn("%v", err)
					return
				}
				m.failures.Add(1)
				logging.SandboxDebug("generation %d: %s", m.generation, f)
				h.sink(f)
				if f.Class == ClassLink {
					m.settle()
				}
			}
		},
		func(ev *proto.PageJavascriptDialogOpening) {
			// alert/confirm would block the page forever
			go func() {
				_ = proto.PageHandleJavaScriptDialog{Accept: true}.Call(m.page)
			}()
		},
	)
	go func() {
		defer close(m.done)
		wait()
	}()
}

// Teardown closes the mounted document's page and browser context.
func (h *ChromeHost) Teardown(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.teardownLocked()
	return nil
}

func (h *ChromeHost) teardownLocked() {
	m := h.active
	if m == nil {
		return
	}
	h.active = nil

	m.cancel()
	<-m.done
	if m.router != nil {
		_ = m.router.Stop()
	}
	_ = m.page.Close()
	if err := m.context.Close(); err != nil {
		logging.SandboxDebug("closing browser context: %v", err)
	}
	logging.SandboxDebug("generation %d torn down", m.generation)
}

// Screenshot captures the mounted document.
func (h *ChromeHost) Screenshot(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil {
		return nil, errors.New("nothing mounted")
	}
	return h.active.page.Context(ctx).Screenshot(true, nil)
}

// Mounted reports whether the current document signalled a successful mount.
func (h *ChromeHost) Mounted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active != nil && h.active.mounted.Load()
}

// Close tears down the document and shuts the browser.
func (h *ChromeHost) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.teardownLocked()
	var err error
	if h.browser != nil {
		err = h.browser.Close()
		h.browser = nil
	}
	if h.launch != nil {
		h.launch.Cleanup()
		h.launch = nil
	}
	h.controlURL = ""
	return err
}
