// Package history records the outcome of sync operations.
package history

import (
	"context"
	"sync"
	"time"
)

// Operation names.
const (
	OpRefreshCredential  = "refresh_credential"
	OpUpdateRefreshToken = "update_refresh_token"
	OpRefreshCatalog     = "refresh_catalog"
	OpReconcile          = "reconcile"
)

// Run is one finished operation.
type Run struct {
	ID         int64     `json:"id"`
	Operation  string    `json:"operation"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Success    bool      `json:"success"`
	Count      int       `json:"count"`
	Error      string    `json:"error,omitempty"`
}

// Store persists runs.
type Store interface {
	Record(ctx context.Context, run Run) error
	// Recent returns up to limit runs, newest first.
	Recent(ctx context.Context, limit int) ([]Run, error)
	Close() error
}

// MemoryStore keeps the most recent runs in a fixed-size ring.
type MemoryStore struct {
	mu     sync.Mutex
	runs   []Run
	next   int
	full   bool
	nextID int64
}

// NewMemoryStore creates a ring holding up to capacity runs.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryStore{runs: make([]Run, capacity)}
}

// Record stores run, evicting the oldest when the ring is full.
func (m *MemoryStore) Record(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	run.ID = m.nextID
	m.runs[m.next] = run
	m.next = (m.next + 1) % len(m.runs)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.next
	if m.full {
		size = len(m.runs)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]Run, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.runs)) % len(m.runs)
		out = append(out, m.runs[idx])
	}
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
