package rowstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_AppendAndSummary(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(WithClock(func() time.Time { return now }))

	n, err := s.Append(ctx, "p1", []Row{
		{"type": "metric", "value": 1.5},
		{"type": "metric", "value": 2.5},
		{"type": "event", "name": "deploy"},
		{"value": 9},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	summary, err := s.Summary(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", summary.ProjectID)
	assert.Equal(t, int64(4), summary.RowCount)
	assert.Equal(t, int64(2), summary.ByType["metric"])
	assert.Equal(t, int64(1), summary.ByType["event"])
	assert.Equal(t, int64(1), summary.ByType["unknown"])
	require.NotNil(t, summary.FirstReceivedAt)
	assert.Equal(t, now, *summary.FirstReceivedAt)
}

func TestMemoryStore_EmptyProject(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	summary, err := s.Summary(ctx, "absent")
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.RowCount)
	assert.Nil(t, summary.FirstReceivedAt)
	assert.Empty(t, summary.ByType)
}

func TestMemoryStore_ProjectsIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Append(ctx, "p1", []Row{{"type": "metric"}})
	require.NoError(t, err)
	_, err = s.Append(ctx, "p2", []Row{{"type": "event"}, {"type": "event"}})
	require.NoError(t, err)

	s1, err := s.Summary(ctx, "p1")
	require.NoError(t, err)
	s2, err := s.Summary(ctx, "p2")
	require.NoError(t, err)

	assert.Equal(t, int64(1), s1.RowCount)
	assert.Equal(t, int64(2), s2.RowCount)
}

func TestMemoryStore_RetentionBound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithMaxRowsPerProject(3))

	_, err := s.Append(ctx, "p1", []Row{
		{"type": "a"}, {"type": "b"}, {"type": "c"}, {"type": "d"},
	})
	require.NoError(t, err)

	summary, err := s.Summary(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.RowCount)
	assert.Zero(t, summary.ByType["a"], "oldest row must be dropped")
	assert.Equal(t, int64(1), summary.ByType["d"])
}

func TestMemoryStore_AppendEmpty(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	n, err := s.Append(ctx, "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
