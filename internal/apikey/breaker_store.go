package apikey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/optiwave/telemetry-gateway/internal/observability"
)

// Breaker defaults.
const (
	defaultBreakerMaxRequests = 5
	defaultBreakerInterval    = 30 * time.Second
	defaultBreakerTimeout     = 15 * time.Second
	defaultBreakerMinRequests = 10
)

// BreakerStore wraps a Store with a circuit breaker so a struggling
// backend sheds lookups quickly instead of holding every request for a
// full timeout. Domain errors such as ErrKeyNotFound count as successes;
// only transport failures trip the breaker.
type BreakerStore struct {
	store   Store
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
}

// BreakerStoreOption is a functional option for the breaker store.
type BreakerStoreOption func(*BreakerStore)

// WithBreakerStoreLogger sets the logger for the breaker store.
func WithBreakerStoreLogger(logger observability.Logger) BreakerStoreOption {
	return func(s *BreakerStore) {
		s.logger = logger
	}
}

// NewBreakerStore wraps the given store with a circuit breaker.
func NewBreakerStore(store Store, opts ...BreakerStoreOption) *BreakerStore {
	s := &BreakerStore{
		store:  store,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	settings := gobreaker.Settings{
		Name:        "apikey-store",
		MaxRequests: defaultBreakerMaxRequests,
		Interval:    defaultBreakerInterval,
		Timeout:     defaultBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < defaultBreakerMinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isDomainError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("key store circuit breaker state changed",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	}
	s.breaker = gobreaker.NewCircuitBreaker(settings)
	return s
}

// isDomainError reports whether the error is an expected store outcome
// rather than a backend failure.
func isDomainError(err error) bool {
	return errors.Is(err, ErrKeyNotFound) ||
		errors.Is(err, ErrLabelTaken) ||
		errors.Is(err, ErrDuplicateHash)
}

// execute runs fn through the breaker, mapping an open breaker to
// ErrStoreUnavailable.
func (s *BreakerStore) execute(fn func() error) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

// Insert stores a new record.
func (s *BreakerStore) Insert(ctx context.Context, rec *Record) error {
	return s.execute(func() error { return s.store.Insert(ctx, rec) })
}

// Update replaces an existing record.
func (s *BreakerStore) Update(ctx context.Context, rec *Record) error {
	return s.execute(func() error { return s.store.Update(ctx, rec) })
}

// FindByID returns the record with the given ID.
func (s *BreakerStore) FindByID(ctx context.Context, id string) (*Record, error) {
	var rec *Record
	err := s.execute(func() error {
		var findErr error
		rec, findErr = s.store.FindByID(ctx, id)
		return findErr
	})
	return rec, err
}

// FindActiveByHash returns the active record matching the given hash.
func (s *BreakerStore) FindActiveByHash(ctx context.Context, hash string) (*Record, error) {
	var rec *Record
	err := s.execute(func() error {
		var findErr error
		rec, findErr = s.store.FindActiveByHash(ctx, hash)
		return findErr
	})
	return rec, err
}

// IncrementUsage bumps the usage counter and last-used timestamp.
func (s *BreakerStore) IncrementUsage(ctx context.Context, id string, at time.Time) error {
	return s.execute(func() error { return s.store.IncrementUsage(ctx, id, at) })
}

// Delete permanently removes a record.
func (s *BreakerStore) Delete(ctx context.Context, id string) error {
	return s.execute(func() error { return s.store.Delete(ctx, id) })
}

// List returns all records for a project.
func (s *BreakerStore) List(ctx context.Context, projectID string) ([]*Record, error) {
	var recs []*Record
	err := s.execute(func() error {
		var listErr error
		recs, listErr = s.store.List(ctx, projectID)
		return listErr
	})
	return recs, err
}

// Close closes the underlying store.
func (s *BreakerStore) Close() error {
	return s.store.Close()
}
