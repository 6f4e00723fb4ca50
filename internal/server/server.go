// Package server exposes the rebuild controller over HTTP: the shell page with
// the sandboxed preview frame, the current document, a small JSON API and a
// websocket status stream.
package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"livepreview/internal/document"
	"livepreview/internal/logging"
	"livepreview/internal/project"
	"livepreview/internal/rebuild"
	"livepreview/internal/sandbox"
	"livepreview/internal/store"

	"github.com/google/uuid"
)

// SandboxPolicy is applied to the preview frame and, through CSP, to the
// document itself so it runs in an opaque origin even when opened directly.
const SandboxPolicy = "allow-scripts allow-popups"

const maxBodyBytes = 8 << 20

//go:embed shell.html
var shellHTML []byte

// Options wires a server.
type Options struct {
	Addr       string
	Controller *rebuild.Controller
	// Project receives POST /api/files. Nil when the project lives on disk.
	Project *project.Memory
	History *store.History
	// StandaloneDir is where GET /preview/standalone writes exports.
	StandaloneDir string
}

// Server is the preview HTTP server.
type Server struct {
	opts Options
	mux  *http.ServeMux
	http *http.Server
}

// New builds the server and its routes.
func New(opts Options) (*Server, error) {
	if opts.Controller == nil {
		return nil, errors.New("server: controller is required")
	}
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:5173"
	}
	if opts.StandaloneDir == "" {
		opts.StandaloneDir = document.StandaloneDir
	}
	s := &Server{opts: opts, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /{$}", s.handleShell)
	s.mux.HandleFunc("GET /preview/document", s.handleDocument)
	s.mux.HandleFunc("GET /preview/standalone", s.handleStandalone)
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/files", s.handleFiles)
	s.mux.HandleFunc("POST /api/failures", s.handleFailure)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	s.mux.HandleFunc("GET /ws", s.handleWS)

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	return requestLog(s.mux)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logging.Server("listening on http://%s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return s.http.Close()
		}
		return <-errCh
	}
}

func (s *Server) handleShell(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(shellHTML)
}

// currentPage renders whatever the preview frame should show right now.
func (s *Server) currentPage() (uint64, string) {
	st := s.opts.Controller.Status()
	switch {
	case st.Document != nil:
		return st.Applied, st.Document.HTML
	case st.Report != nil:
		return st.Applied, document.ErrorPage(st.Report.View(st.Applied))
	default:
		return 0, document.Placeholder(0).HTML
	}
}

func (s *Server) handleDocument(w http.ResponseWriter, _ *http.Request) {
	gen, page := s.currentPage()
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Security-Policy", "sandbox "+SandboxPolicy)
	h.Set("X-Preview-Generation", strconv.FormatUint(gen, 10))
	_, _ = io.WriteString(w, page)
}

func (s *Server) handleStandalone(w http.ResponseWriter, _ *http.Request) {
	doc, err := s.opts.Controller.Standalone()
	if errors.Is(err, rebuild.ErrNotReady) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	path, err := document.WriteStandalone(doc, s.opts.StandaloneDir)
	if err != nil {
		logging.ServerWarn("standalone export failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Standalone-Path", path)
	h.Set("X-Preview-Generation", strconv.FormatUint(doc.Generation, 10))
	_, _ = io.WriteString(w, doc.HTML)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Controller.Status())
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	gen := s.opts.Controller.Refresh()
	writeJSON(w, http.StatusAccepted, map[string]uint64{"generation": gen})
}

// handleFiles applies a JSON array of file actions to the in-memory project.
// The controller rebuilds from the resulting change signal.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if s.opts.Project == nil {
		http.Error(w, "project is read-only", http.StatusConflict)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	actions, err := project.DecodeActions(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	snap := s.opts.Project.Apply(actions...)
	logging.Server("applied %d file actions (%d files)", len(actions), snap.Len())
	writeJSON(w, http.StatusAccepted, map[string]int{"applied": len(actions), "files": snap.Len()})
}

type failureRequest struct {
	Generation uint64          `json:"generation"`
	Failure    json.RawMessage `json:"failure"`
}

// handleFailure accepts a harness failure record forwarded by the shell.
func (s *Server) handleFailure(w http.ResponseWriter, r *http.Request) {
	var req failureRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, err := sandbox.DecodeFailure(req.Generation, string(req.Failure))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.opts.Controller.ReportFailure(f) {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "stale"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	rows, err := s.opts.History.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []store.Generation{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.ServerWarn("failed to encode response: %v", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.NewString()[:8]
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if r.URL.Path == "/ws" {
			// The upgrader needs the raw writer to hijack.
			next.ServeHTTP(w, r)
			logging.Get(logging.CategoryServer).Debug("[%s] %s %s (websocket closed after %v)", id, r.Method, r.URL.Path, time.Since(start))
			return
		}
		next.ServeHTTP(rec, r)
		logging.Get(logging.CategoryServer).Debug("[%s] %s %s %d %v", id, r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
