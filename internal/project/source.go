package project

import (
	"context"
	"sync"

	"livepreview/internal/logging"
)

// Source hands out project snapshots and signals when they change.
// Snapshot is called once per rebuild generation.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	Changes() <-chan struct{}
}

// Memory is a mutable in-memory project. Every Apply produces a new immutable
// snapshot and a change notification.
type Memory struct {
	mu      sync.RWMutex
	current Snapshot
	changes chan struct{}
}

// NewMemory creates an in-memory project seeded with initial.
func NewMemory(initial Snapshot) *Memory {
	return &Memory{
		current: initial,
		changes: make(chan struct{}, 1),
	}
}

// Snapshot returns the current snapshot.
func (m *Memory) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, nil
}

// Changes returns the change signal. Bursts of changes collapse into one
// pending notification.
func (m *Memory) Changes() <-chan struct{} {
	return m.changes
}

// Apply mutates the project and notifies listeners.
func (m *Memory) Apply(actions ...FileAction) Snapshot {
	m.mu.Lock()
	m.current = Apply(m.current, actions...)
	next := m.current
	m.mu.Unlock()

	logging.ProjectDebug("applied %d file actions, %d files now", len(actions), next.Len())
	m.notify()
	return next
}

// Replace swaps in a whole new snapshot.
func (m *Memory) Replace(s Snapshot) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	m.notify()
}

func (m *Memory) notify() {
	select {
	case m.changes <- struct{}{}:
	default:
	}
}
