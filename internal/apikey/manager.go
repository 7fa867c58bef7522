package apikey

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/optiwave/telemetry-gateway/internal/observability"
)

// defaultUsageTimeout bounds a single asynchronous usage write.
const defaultUsageTimeout = 2 * time.Second

// rotatedLabelSuffix is appended to the label of a key created by rotation
// so it does not collide with the still-active old key.
const rotatedLabelSuffix = " (rotated)"

// Manager implements the API key lifecycle: creation, lookup, usage
// accounting, revocation, and rotation.
type Manager struct {
	store        Store
	logger       observability.Logger
	metrics      *Metrics
	usageTimeout time.Duration
	now          func() time.Time
}

// ManagerOption is a functional option for the manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger for the manager.
func WithManagerLogger(logger observability.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithManagerMetrics sets the metrics for the manager.
func WithManagerMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithUsageTimeout sets the timeout for asynchronous usage writes.
func WithUsageTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.usageTimeout = timeout
	}
}

// withClock overrides the time source for tests.
func withClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a new key lifecycle manager backed by the given store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:        store,
		logger:       observability.NopLogger(),
		usageTimeout: defaultUsageTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create generates a fresh key for the project and stores its record.
// The raw key is returned exactly once; only its hash is persisted.
func (m *Manager) Create(ctx context.Context, projectID, projectName, label string) (string, *Record, error) {
	if strings.TrimSpace(projectID) == "" {
		return "", nil, fmt.Errorf("project id is required")
	}
	if strings.TrimSpace(label) == "" {
		return "", nil, fmt.Errorf("label is required")
	}

	raw, err := GenerateKey()
	if err != nil {
		m.metrics.RecordLifecycle("create", "error")
		return "", nil, err
	}

	rec := &Record{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		ProjectName: projectName,
		KeyHash:     HashKey(raw),
		KeyPrefix:   DisplayPrefix(raw),
		Label:       label,
		Active:      true,
		CreatedAt:   m.now().UTC(),
	}

	if err := m.store.Insert(ctx, rec); err != nil {
		m.metrics.RecordLifecycle("create", "error")
		return "", nil, err
	}

	m.metrics.RecordLifecycle("create", "success")
	m.logger.Info("api key created",
		observability.String("key_id", rec.ID),
		observability.String("project_id", rec.ProjectID),
		observability.String("label", rec.Label),
		observability.String("key_prefix", rec.KeyPrefix),
	)
	return raw, rec, nil
}

// FindByRawKey resolves a presented raw key to its active record. Missing,
// revoked, and malformed keys all return ErrKeyNotFound so callers cannot
// distinguish them.
func (m *Manager) FindByRawKey(ctx context.Context, raw string) (*Record, error) {
	start := m.now()

	if !ValidFormat(raw) {
		m.metrics.RecordLookup("malformed", m.now().Sub(start))
		return nil, ErrKeyNotFound
	}

	rec, err := m.store.FindActiveByHash(ctx, HashKey(raw))
	if err != nil {
		if err == ErrKeyNotFound {
			m.metrics.RecordLookup("miss", m.now().Sub(start))
		} else {
			m.metrics.RecordLookup("error", m.now().Sub(start))
		}
		return nil, err
	}

	m.metrics.RecordLookup("hit", m.now().Sub(start))
	return rec, nil
}

// Get returns the record with the given ID regardless of state.
func (m *Manager) Get(ctx context.Context, id string) (*Record, error) {
	return m.store.FindByID(ctx, id)
}

// List returns all records for a project, newest first.
func (m *Manager) List(ctx context.Context, projectID string) ([]*Record, error) {
	return m.store.List(ctx, projectID)
}

// TouchUsage records a successful authentication asynchronously. Failures
// are logged and counted but never surfaced; usage accounting is not
// correctness-critical.
func (m *Manager) TouchUsage(id string) {
	at := m.now().UTC()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.usageTimeout)
		defer cancel()

		if err := m.store.IncrementUsage(ctx, id, at); err != nil {
			m.metrics.RecordUsageWriteFailure()
			m.logger.Warn("failed to record key usage",
				observability.String("key_id", id),
				observability.Error(err),
			)
		}
	}()
}

// Revoke deactivates a key. Revoking an already-revoked key is a no-op;
// concurrent revokes converge on a single terminal state.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	rec, err := m.store.FindByID(ctx, id)
	if err != nil {
		m.metrics.RecordLifecycle("revoke", "error")
		return err
	}
	if !rec.Active {
		m.metrics.RecordLifecycle("revoke", "noop")
		return nil
	}

	now := m.now().UTC()
	rec.Active = false
	rec.RevokedAt = &now
	if err := m.store.Update(ctx, rec); err != nil {
		m.metrics.RecordLifecycle("revoke", "error")
		return err
	}

	m.metrics.RecordLifecycle("revoke", "success")
	m.logger.Info("api key revoked",
		observability.String("key_id", rec.ID),
		observability.String("project_id", rec.ProjectID),
	)
	return nil
}

// Rotate creates a replacement key cloned from the old record, then revokes
// the old one. The two steps are not atomic: both keys are valid between
// them, giving clients a grace window to switch over.
func (m *Manager) Rotate(ctx context.Context, id string) (string, *Record, error) {
	old, err := m.store.FindByID(ctx, id)
	if err != nil {
		m.metrics.RecordLifecycle("rotate", "error")
		return "", nil, err
	}
	if !old.Active {
		m.metrics.RecordLifecycle("rotate", "error")
		return "", nil, ErrKeyNotFound
	}

	raw, rec, err := m.Create(ctx, old.ProjectID, old.ProjectName, old.Label+rotatedLabelSuffix)
	if err != nil {
		m.metrics.RecordLifecycle("rotate", "error")
		return "", nil, err
	}

	if err := m.Revoke(ctx, old.ID); err != nil {
		m.metrics.RecordLifecycle("rotate", "error")
		return "", nil, fmt.Errorf("replacement key %s created but old key not revoked: %w", rec.ID, err)
	}

	m.metrics.RecordLifecycle("rotate", "success")
	m.logger.Info("api key rotated",
		observability.String("old_key_id", old.ID),
		observability.String("new_key_id", rec.ID),
		observability.String("project_id", old.ProjectID),
	)
	return raw, rec, nil
}

// Purge permanently deletes a key record. Unlike Revoke this removes the
// audit trail and is intended for operator cleanup only.
func (m *Manager) Purge(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		m.metrics.RecordLifecycle("purge", "error")
		return err
	}
	m.metrics.RecordLifecycle("purge", "success")
	m.logger.Info("api key purged", observability.String("key_id", id))
	return nil
}
