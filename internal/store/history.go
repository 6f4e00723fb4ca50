// Package store keeps a local history of preview generations and the runtime
// failures captured for them.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"livepreview/internal/logging"
	"livepreview/internal/pipeline"
	"livepreview/internal/sandbox"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Generation is one recorded rebuild outcome.
type Generation struct {
	Session    string        `json:"session"`
	Generation uint64        `json:"generation"`
	Trigger    string        `json:"trigger"`
	State      string        `json:"state"` // ready or errored
	Phase      string        `json:"phase,omitempty"`
	Kind       string        `json:"kind,omitempty"`
	Message    string        `json:"message,omitempty"`
	EntryKind  string        `json:"entry_kind,omitempty"`
	EntryPath  string        `json:"entry_path,omitempty"`
	Hash       string        `json:"hash,omitempty"`
	Bytes      int           `json:"bytes"`
	Files      int           `json:"files"`
	Styles     int           `json:"styles"`
	Unresolved []string      `json:"unresolved,omitempty"` // "from: raw"
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}

// History is a SQLite-backed generation log. Generation numbers restart with
// every process, so rows are keyed by a per-Open session id.
type History struct {
	db      *sql.DB
	dbPath  string
	session string
	mu      sync.Mutex
}

// Open creates or opens the history database. path may be ":memory:".
func Open(path string) (*History, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", "PRAGMA foreign_keys = ON"} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("%s failed: %v", pragma, err)
		}
	}

	h := &History{db: db, dbPath: path, session: uuid.NewString()}
	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("history opened at %s (session %s)", path, h.session)
	return h, nil
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

// Path returns the database file path.
func (h *History) Path() string { return h.dbPath }

// Session returns the id rows written by this History are tagged with.
func (h *History) Session() string { return h.session }

func (h *History) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS generations (
		session TEXT NOT NULL,
		generation INTEGER NOT NULL,
		trigger_reason TEXT NOT NULL,
		state TEXT NOT NULL,
		phase TEXT,
		kind TEXT,
		message TEXT,
		entry_kind TEXT,
		entry_path TEXT,
		hash TEXT,
		bytes INTEGER NOT NULL DEFAULT 0,
		files INTEGER NOT NULL DEFAULT 0,
		styles INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (session, generation)
	);
	CREATE INDEX IF NOT EXISTS idx_generations_created ON generations(created_at);

	CREATE TABLE IF NOT EXISTS runtime_failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL,
		generation INTEGER NOT NULL,
		class TEXT NOT NULL,
		source TEXT NOT NULL,
		message TEXT NOT NULL,
		detail TEXT,
		at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_failures_generation ON runtime_failures(session, generation);
	`
	_, err := h.db.Exec(schema)
	return err
}

// SaveOutcome records an applied generation.
func (h *History) SaveOutcome(ctx context.Context, res pipeline.Result, trigger string) error {
	g := Generation{
		Session:    h.session,
		Generation: res.Generation,
		Trigger:    trigger,
		EntryKind:  string(res.Plan.Kind),
		EntryPath:  res.Plan.Path,
		Files:      res.Files,
		Styles:     res.Styles,
		Duration:   res.Duration,
		CreatedAt:  time.Now(),
	}
	for _, u := range res.Unresolved {
		g.Unresolved = append(g.Unresolved, u.FromPath+": "+u.Raw)
	}
	if res.OK() {
		g.State = "ready"
		g.Hash = res.Document.Hash
		g.Bytes = res.Document.Bytes
	} else {
		g.State = "errored"
		if res.Report != nil {
			g.Phase = string(res.Report.Phase)
			g.Kind = string(res.Report.Kind)
			g.Message = res.Report.Message
		}
	}
	return h.Insert(ctx, g)
}

// Insert writes g, replacing any row with the same session and generation.
func (h *History) Insert(ctx context.Context, g Generation) error {
	unresolved, err := json.Marshal(g.Unresolved)
	if err != nil {
		return err
	}
	if g.Session == "" {
		g.Session = h.session
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO generations
			(session, generation, trigger_reason, state, phase, kind, message, entry_kind, entry_path,
			 hash, bytes, files, styles, unresolved_json, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.Session, int64(g.Generation), g.Trigger, g.State, g.Phase, g.Kind, g.Message, g.EntryKind, g.EntryPath,
		g.Hash, g.Bytes, g.Files, g.Styles, string(unresolved), g.Duration.Milliseconds(), g.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert generation %d: %w", g.Generation, err)
	}
	return nil
}

// SaveFailure records a runtime failure for the current session.
func (h *History) SaveFailure(ctx context.Context, f sandbox.Failure) error {
	if f.At.IsZero() {
		f.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO runtime_failures (session, generation, class, source, message, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.session, int64(f.Generation), string(f.Class), f.Source, f.Message, f.Detail, f.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert failure: %w", err)
	}
	return nil
}

// Recent returns up to limit generations, newest first, across sessions.
func (h *History) Recent(ctx context.Context, limit int) ([]Generation, error) {
	if limit <= 0 {
		limit = 20
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	rows, err := h.db.QueryContext(ctx, `
		SELECT session, generation, trigger_reason, state, phase, kind, message, entry_kind, entry_path,
		       hash, bytes, files, styles, unresolved_json, duration_ms, created_at
		FROM generations
		ORDER BY created_at DESC, generation DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query generations: %w", err)
	}
	defer rows.Close()

	var out []Generation
	for rows.Next() {
		var (
			g                                                     Generation
			gen, durationMs                                       int64
			phase, kind, message, entryKind, entryPath, hash, unr sql.NullString
		)
		if err := rows.Scan(&g.Session, &gen, &g.Trigger, &g.State, &phase, &kind, &message, &entryKind, &entryPath,
			&hash, &g.Bytes, &g.Files, &g.Styles, &unr, &durationMs, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.Generation = uint64(gen)
		g.Phase, g.Kind, g.Message = phase.String, kind.String, message.String
		g.EntryKind, g.EntryPath, g.Hash = entryKind.String, entryPath.String, hash.String
		g.Duration = time.Duration(durationMs) * time.Millisecond
		if unr.Valid && unr.String != "" {
			if err := json.Unmarshal([]byte(unr.String), &g.Unresolved); err != nil {
				logging.StoreWarn("bad unresolved_json for generation %d: %v", g.Generation, err)
			}
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Failures returns the runtime failures recorded for a generation of session.
// An empty session means the current one.
func (h *History) Failures(ctx context.Context, session string, generation uint64) ([]sandbox.Failure, error) {
	if session == "" {
		session = h.session
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	rows, err := h.db.QueryContext(ctx, `
		SELECT class, source, message, detail, at FROM runtime_failures
		WHERE session = ? AND generation = ?
		ORDER BY id`, session, int64(generation))
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []sandbox.Failure
	for rows.Next() {
		var (
			f      sandbox.Failure
			class  string
			detail sql.NullString
		)
		if err := rows.Scan(&class, &f.Source, &f.Message, &detail, &f.At); err != nil {
			return nil, err
		}
		f.Generation = generation
		f.Class = sandbox.Class(class)
		f.Detail = detail.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// Prune deletes everything but the newest keep generations and their failures.
func (h *History) Prune(ctx context.Context, keep int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM generations WHERE rowid NOT IN (
			SELECT rowid FROM generations ORDER BY created_at DESC, generation DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune generations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM runtime_failures WHERE NOT EXISTS (
			SELECT 1 FROM generations g
			WHERE g.session = runtime_failures.session AND g.generation = runtime_failures.generation
		)`); err != nil {
		return 0, fmt.Errorf("prune failures: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Store("pruned %d generations", n)
	}
	return n, nil
}

// Stats returns row counts per table.
func (h *History) Stats(ctx context.Context) (map[string]int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	stats := make(map[string]int)
	for _, table := range []string{"generations", "runtime_failures"} {
		var n int
		if err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, err
		}
		stats[table] = n
	}
	return stats, nil
}
