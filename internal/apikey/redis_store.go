package apikey

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/optiwave/telemetry-gateway/internal/observability"
)

// RedisStore is a Redis-backed Store shared across gateway instances.
//
// Layout (all keys carry the configured prefix):
//
//	key:<id>                     JSON record without usage fields
//	keyhash:<hash>               record ID, for lookup by presented key
//	keylabel:<project>:<label>   record ID, present only while the key is active
//	keyusage:<id>                usage counter, incremented atomically
//	keylastused:<id>             RFC 3339 timestamp of the last use
//
// Usage counters live outside the JSON record so IncrementUsage is a
// single INCR and never races concurrent record updates.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	logger observability.Logger
}

// RedisStoreOption is a functional option for the Redis store.
type RedisStoreOption func(*RedisStore)

// WithRedisStoreLogger sets the logger for the Redis store.
func WithRedisStoreLogger(logger observability.Logger) RedisStoreOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

// NewRedisStore creates a Redis-backed key store.
func NewRedisStore(client redis.UniversalClient, prefix string, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: prefix,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) recordKey(id string) string { return s.prefix + "key:" + id }
func (s *RedisStore) hashKey(hash string) string { return s.prefix + "keyhash:" + hash }
func (s *RedisStore) usageKey(id string) string  { return s.prefix + "keyusage:" + id }
func (s *RedisStore) lastUsedKey(id string) string {
	return s.prefix + "keylastused:" + id
}
func (s *RedisStore) labelKey(projectID, label string) string {
	return s.prefix + "keylabel:" + projectID + ":" + label
}

// Insert stores a new record.
func (s *RedisStore) Insert(ctx context.Context, rec *Record) error {
	if rec.Active {
		ok, err := s.client.SetNX(ctx, s.labelKey(rec.ProjectID, rec.Label), rec.ID, 0).Result()
		if err != nil {
			return fmt.Errorf("failed to reserve label: %w", err)
		}
		if !ok {
			return ErrLabelTaken
		}
	}

	ok, err := s.client.SetNX(ctx, s.hashKey(rec.KeyHash), rec.ID, 0).Result()
	if err == nil && !ok {
		err = ErrDuplicateHash
	}
	if err != nil {
		if rec.Active {
			s.client.Del(ctx, s.labelKey(rec.ProjectID, rec.Label))
		}
		if err == ErrDuplicateHash {
			return err
		}
		return fmt.Errorf("failed to index key hash: %w", err)
	}

	if err := s.setRecord(ctx, rec); err != nil {
		s.client.Del(ctx, s.hashKey(rec.KeyHash))
		if rec.Active {
			s.client.Del(ctx, s.labelKey(rec.ProjectID, rec.Label))
		}
		return err
	}
	return nil
}

// Update replaces an existing record.
func (s *RedisStore) Update(ctx context.Context, rec *Record) error {
	prev, err := s.FindByID(ctx, rec.ID)
	if err != nil {
		return err
	}

	if err := s.setRecord(ctx, rec); err != nil {
		return err
	}

	if prev.Active && !rec.Active {
		if err := s.client.Del(ctx, s.labelKey(prev.ProjectID, prev.Label)).Err(); err != nil {
			return fmt.Errorf("failed to release label: %w", err)
		}
	}
	return nil
}

// FindByID returns the record with the given ID.
func (s *RedisStore) FindByID(ctx context.Context, id string) (*Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load key record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode key record: %w", err)
	}

	if err := s.mergeUsage(ctx, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindActiveByHash returns the active record matching the given hash.
func (s *RedisStore) FindActiveByHash(ctx context.Context, hash string) (*Record, error) {
	id, err := s.client.Get(ctx, s.hashKey(hash)).Result()
	if err == redis.Nil {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve key hash: %w", err)
	}

	rec, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Active {
		return nil, ErrKeyNotFound
	}
	return rec, nil
}

// IncrementUsage bumps the usage counter and last-used timestamp.
func (s *RedisStore) IncrementUsage(ctx context.Context, id string, at time.Time) error {
	pipe := s.client.Pipeline()
	pipe.Incr(ctx, s.usageKey(id))
	pipe.Set(ctx, s.lastUsedKey(id), at.UTC().Format(time.RFC3339Nano), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record key usage: %w", err)
	}
	return nil
}

// Delete permanently removes a record and its indexes.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	rec, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}

	keys := []string{
		s.recordKey(id),
		s.hashKey(rec.KeyHash),
		s.usageKey(id),
		s.lastUsedKey(id),
	}
	if rec.Active {
		keys = append(keys, s.labelKey(rec.ProjectID, rec.Label))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete key record: %w", err)
	}
	return nil
}

// List returns all records for a project, newest first.
func (s *RedisStore) List(ctx context.Context, projectID string) ([]*Record, error) {
	var out []*Record

	iter := s.client.Scan(ctx, 0, s.recordKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load key record: %w", err)
		}

		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.logger.Warn("skipping undecodable key record",
				observability.String("key", iter.Val()),
				observability.Error(err),
			)
			continue
		}
		if rec.ProjectID != projectID {
			continue
		}
		if err := s.mergeUsage(ctx, &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan key records: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// setRecord writes the record JSON without usage fields; those live in
// dedicated counter keys.
func (s *RedisStore) setRecord(ctx context.Context, rec *Record) error {
	stored := rec.Clone()
	stored.UsageCount = 0
	stored.LastUsedAt = nil

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode key record: %w", err)
	}
	if err := s.client.Set(ctx, s.recordKey(rec.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store key record: %w", err)
	}
	return nil
}

// mergeUsage overlays the usage counter keys onto the record.
func (s *RedisStore) mergeUsage(ctx context.Context, rec *Record) error {
	count, err := s.client.Get(ctx, s.usageKey(rec.ID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to load usage counter: %w", err)
	}
	if count != "" {
		n, convErr := strconv.ParseInt(count, 10, 64)
		if convErr == nil {
			rec.UsageCount = n
		}
	}

	last, err := s.client.Get(ctx, s.lastUsedKey(rec.ID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to load last-used timestamp: %w", err)
	}
	if last != "" {
		if t, parseErr := time.Parse(time.RFC3339Nano, last); parseErr == nil {
			rec.LastUsedAt = &t
		}
	}
	return nil
}
