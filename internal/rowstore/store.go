// Package rowstore stores ingested telemetry rows per project. Rows are
// opaque to the gateway; this package only appends them and answers
// aggregate queries for the analytics endpoints.
package rowstore

import (
	"context"
	"sync"
	"time"
)

// defaultMaxRowsPerProject bounds in-memory retention per project.
const defaultMaxRowsPerProject = 100000

// Row is an opaque telemetry row. The gateway validates shape at the
// handler boundary but does not interpret fields here, except the
// optional "type" used for summary grouping.
type Row map[string]any

// Summary aggregates a project's ingested rows.
type Summary struct {
	// ProjectID is the tenant the summary describes.
	ProjectID string `json:"project_id"`

	// RowCount is the number of retained rows.
	RowCount int64 `json:"row_count"`

	// ByType counts rows per "type" field value. Rows without a string
	// type are counted under "unknown".
	ByType map[string]int64 `json:"by_type"`

	// FirstReceivedAt is the receipt time of the oldest retained row.
	FirstReceivedAt *time.Time `json:"first_received_at,omitempty"`

	// LastReceivedAt is the receipt time of the newest retained row.
	LastReceivedAt *time.Time `json:"last_received_at,omitempty"`
}

// Store persists telemetry rows.
type Store interface {
	// Append stores rows for a project and returns the number accepted.
	Append(ctx context.Context, projectID string, rows []Row) (int, error)

	// Summary aggregates the project's retained rows.
	Summary(ctx context.Context, projectID string) (*Summary, error)

	// Close releases store resources.
	Close() error
}

// storedRow pairs a row with its receipt time.
type storedRow struct {
	row        Row
	receivedAt time.Time
}

// MemoryStore is an in-memory Store with bounded per-project retention.
// Oldest rows are dropped once the bound is reached.
type MemoryStore struct {
	mu      sync.RWMutex
	rows    map[string][]storedRow
	maxRows int
	now     func() time.Time
}

// MemoryStoreOption is a functional option for the memory store.
type MemoryStoreOption func(*MemoryStore)

// WithMaxRowsPerProject bounds retained rows per project.
func WithMaxRowsPerProject(n int) MemoryStoreOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxRows = n
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory row store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		rows:    make(map[string][]storedRow),
		maxRows: defaultMaxRowsPerProject,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append stores rows for a project.
func (s *MemoryStore) Append(_ context.Context, projectID string, rows []Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	stored := s.rows[projectID]
	for _, row := range rows {
		stored = append(stored, storedRow{row: row, receivedAt: now})
	}
	if overflow := len(stored) - s.maxRows; overflow > 0 {
		stored = stored[overflow:]
	}
	s.rows[projectID] = stored
	return len(rows), nil
}

// Summary aggregates the project's retained rows.
func (s *MemoryStore) Summary(_ context.Context, projectID string) (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &Summary{
		ProjectID: projectID,
		ByType:    make(map[string]int64),
	}

	stored := s.rows[projectID]
	if len(stored) == 0 {
		return summary, nil
	}

	summary.RowCount = int64(len(stored))
	first := stored[0].receivedAt
	last := stored[len(stored)-1].receivedAt
	summary.FirstReceivedAt = &first
	summary.LastReceivedAt = &last

	for _, sr := range stored {
		kind := "unknown"
		if t, ok := sr.row["type"].(string); ok && t != "" {
			kind = t
		}
		summary.ByType[kind]++
	}
	return summary, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
