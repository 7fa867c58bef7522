package apikey

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, "test:")
}

func TestRedisStore_InsertAndFind(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	rec := newTestRecord("p1", "ci")
	require.NoError(t, store.Insert(ctx, rec))

	byHash, err := store.FindActiveByHash(ctx, rec.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, byHash.ID)
	assert.Equal(t, "p1", byHash.ProjectID)
	assert.True(t, byHash.Active)

	byID, err := store.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Label, byID.Label)
}

func TestRedisStore_LabelConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	require.NoError(t, store.Insert(ctx, newTestRecord("p1", "ci")))
	assert.ErrorIs(t, store.Insert(ctx, newTestRecord("p1", "ci")), ErrLabelTaken)
	assert.NoError(t, store.Insert(ctx, newTestRecord("p2", "ci")))
}

func TestRedisStore_DuplicateHash(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	rec := newTestRecord("p1", "ci")
	require.NoError(t, store.Insert(ctx, rec))

	dup := newTestRecord("p1", "other")
	dup.KeyHash = rec.KeyHash
	assert.ErrorIs(t, store.Insert(ctx, dup), ErrDuplicateHash)

	// The reserved label must be rolled back so it stays available.
	assert.NoError(t, store.Insert(ctx, newTestRecord("p1", "other")))
}

func TestRedisStore_UpdateReleasesLabel(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	rec := newTestRecord("p1", "ci")
	require.NoError(t, store.Insert(ctx, rec))

	now := time.Now().UTC()
	rec.Active = false
	rec.RevokedAt = &now
	require.NoError(t, store.Update(ctx, rec))

	_, err := store.FindActiveByHash(ctx, rec.KeyHash)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	assert.NoError(t, store.Insert(ctx, newTestRecord("p1", "ci")))
}

func TestRedisStore_IncrementUsage(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	rec := newTestRecord("p1", "ci")
	require.NoError(t, store.Insert(ctx, rec))

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.IncrementUsage(ctx, rec.ID, at))
	require.NoError(t, store.IncrementUsage(ctx, rec.ID, at.Add(time.Second)))

	got, err := store.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.UsageCount)
	require.NotNil(t, got.LastUsedAt)
	assert.True(t, got.LastUsedAt.Equal(at.Add(time.Second)))
}

func TestRedisStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	rec := newTestRecord("p1", "ci")
	require.NoError(t, store.Insert(ctx, rec))
	require.NoError(t, store.Delete(ctx, rec.ID))

	_, err := store.FindByID(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = store.FindActiveByHash(ctx, rec.KeyHash)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	assert.ErrorIs(t, store.Delete(ctx, rec.ID), ErrKeyNotFound)
}

func TestRedisStore_List(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	oldest := newTestRecord("p1", "a")
	oldest.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newest := newTestRecord("p1", "b")
	other := newTestRecord("p2", "c")

	require.NoError(t, store.Insert(ctx, oldest))
	require.NoError(t, store.Insert(ctx, newest))
	require.NoError(t, store.Insert(ctx, other))

	recs, err := store.List(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, newest.ID, recs[0].ID)
	assert.Equal(t, oldest.ID, recs[1].ID)
}

func TestRedisStore_Unavailable(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, "test:")

	mr.Close()

	_, err := store.FindActiveByHash(ctx, HashKey("tk_whatever"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrKeyNotFound)
}
