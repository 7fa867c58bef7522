package apikey

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists API key records. Implementations must enforce hash
// uniqueness and label uniqueness among a project's active keys.
type Store interface {
	// Insert stores a new record. It returns ErrDuplicateHash if the hash
	// already exists and ErrLabelTaken if an active key with the same
	// (project, label) pair exists.
	Insert(ctx context.Context, rec *Record) error

	// Update replaces an existing record. It returns ErrKeyNotFound if no
	// record with the given ID exists.
	Update(ctx context.Context, rec *Record) error

	// FindByID returns the record with the given ID regardless of state.
	FindByID(ctx context.Context, id string) (*Record, error)

	// FindActiveByHash returns the active record matching the given key
	// hash. Missing and revoked keys both return ErrKeyNotFound.
	FindActiveByHash(ctx context.Context, hash string) (*Record, error)

	// IncrementUsage bumps the usage counter and last-used timestamp.
	IncrementUsage(ctx context.Context, id string, at time.Time) error

	// Delete permanently removes a record.
	Delete(ctx context.Context, id string) error

	// List returns all records for a project, newest first.
	List(ctx context.Context, projectID string) ([]*Record, error)

	// Close releases store resources.
	Close() error
}

// MemoryStore is an in-memory Store for tests and single-instance
// deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	byID        map[string]*Record
	byHash      map[string]string // key hash -> record ID
	activeLabel map[string]string // projectID + "\x00" + label -> record ID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:        make(map[string]*Record),
		byHash:      make(map[string]string),
		activeLabel: make(map[string]string),
	}
}

func labelIndexKey(projectID, label string) string {
	return projectID + "\x00" + label
}

// Insert stores a new record.
func (s *MemoryStore) Insert(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[rec.KeyHash]; ok {
		return ErrDuplicateHash
	}
	if rec.Active {
		if _, ok := s.activeLabel[labelIndexKey(rec.ProjectID, rec.Label)]; ok {
			return ErrLabelTaken
		}
	}

	s.byID[rec.ID] = rec.Clone()
	s.byHash[rec.KeyHash] = rec.ID
	if rec.Active {
		s.activeLabel[labelIndexKey(rec.ProjectID, rec.Label)] = rec.ID
	}
	return nil
}

// Update replaces an existing record.
func (s *MemoryStore) Update(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.byID[rec.ID]
	if !ok {
		return ErrKeyNotFound
	}

	if prev.Active && !rec.Active {
		delete(s.activeLabel, labelIndexKey(prev.ProjectID, prev.Label))
	}
	s.byID[rec.ID] = rec.Clone()
	return nil
}

// FindByID returns the record with the given ID.
func (s *MemoryStore) FindByID(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return rec.Clone(), nil
}

// FindActiveByHash returns the active record matching the given hash.
func (s *MemoryStore) FindActiveByHash(_ context.Context, hash string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	rec, ok := s.byID[id]
	if !ok || !rec.Active {
		return nil, ErrKeyNotFound
	}
	return rec.Clone(), nil
}

// IncrementUsage bumps the usage counter and last-used timestamp.
func (s *MemoryStore) IncrementUsage(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return ErrKeyNotFound
	}
	rec.UsageCount++
	t := at
	rec.LastUsedAt = &t
	return nil
}

// Delete permanently removes a record.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return ErrKeyNotFound
	}
	delete(s.byID, id)
	delete(s.byHash, rec.KeyHash)
	if rec.Active {
		delete(s.activeLabel, labelIndexKey(rec.ProjectID, rec.Label))
	}
	return nil
}

// List returns all records for a project, newest first.
func (s *MemoryStore) List(_ context.Context, projectID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, rec := range s.byID {
		if rec.ProjectID == projectID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
