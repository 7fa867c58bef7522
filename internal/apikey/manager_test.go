package apikey

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewManager(store, opts...), store
}

func TestManager_Create(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	raw, rec, err := m.Create(ctx, "p1", "Project One", "ci")
	require.NoError(t, err)

	assert.True(t, ValidFormat(raw))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "p1", rec.ProjectID)
	assert.Equal(t, "Project One", rec.ProjectName)
	assert.Equal(t, HashKey(raw), rec.KeyHash)
	assert.Equal(t, DisplayPrefix(raw), rec.KeyPrefix)
	assert.True(t, rec.Active)
	assert.NotContains(t, rec.KeyHash, raw[len(KeyPrefix):])
}

func TestManager_Create_Validation(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, _, err := m.Create(ctx, "", "name", "ci")
	require.Error(t, err)

	_, _, err = m.Create(ctx, "p1", "name", "  ")
	require.Error(t, err)
}

func TestManager_Create_DuplicateLabel(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, _, err := m.Create(ctx, "p1", "", "ci")
	require.NoError(t, err)

	_, _, err = m.Create(ctx, "p1", "", "ci")
	assert.ErrorIs(t, err, ErrLabelTaken)

	_, _, err = m.Create(ctx, "p2", "", "ci")
	assert.NoError(t, err)
}

func TestManager_FindByRawKey(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	raw, rec, err := m.Create(ctx, "p1", "", "ci")
	require.NoError(t, err)

	t.Run("valid key resolves", func(t *testing.T) {
		got, err := m.FindByRawKey(ctx, raw)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
	})

	t.Run("malformed key is not found", func(t *testing.T) {
		_, err := m.FindByRawKey(ctx, "not-a-key")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("unknown key is not found", func(t *testing.T) {
		other, genErr := GenerateKey()
		require.NoError(t, genErr)
		_, err := m.FindByRawKey(ctx, other)
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("revoked key matches unknown key error exactly", func(t *testing.T) {
		require.NoError(t, m.Revoke(ctx, rec.ID))

		_, revokedErr := m.FindByRawKey(ctx, raw)
		other, genErr := GenerateKey()
		require.NoError(t, genErr)
		_, unknownErr := m.FindByRawKey(ctx, other)

		assert.ErrorIs(t, revokedErr, ErrKeyNotFound)
		assert.Equal(t, unknownErr.Error(), revokedErr.Error())
	})
}

func TestManager_TouchUsage(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	_, rec, err := m.Create(ctx, "p1", "", "ci")
	require.NoError(t, err)

	m.TouchUsage(rec.ID)

	require.Eventually(t, func() bool {
		got, findErr := store.FindByID(ctx, rec.ID)
		return findErr == nil && got.UsageCount == 1 && got.LastUsedAt != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_TouchUsage_SwallowsErrors(t *testing.T) {
	m, _ := newTestManager(t)

	// Unknown ID: the write fails but nothing panics or surfaces.
	m.TouchUsage("absent")
	time.Sleep(50 * time.Millisecond)
}

func TestManager_Revoke_Idempotent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, rec, err := m.Create(ctx, "p1", "", "ci")
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, rec.ID))
	require.NoError(t, m.Revoke(ctx, rec.ID))

	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.NotNil(t, got.RevokedAt)

	assert.ErrorIs(t, m.Revoke(ctx, "absent"), ErrKeyNotFound)
}

func TestManager_Revoke_Concurrent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, rec, err := m.Create(ctx, "p1", "", "ci")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Revoke(ctx, rec.ID)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestManager_Rotate(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, old, err := m.Create(ctx, "p1", "Project One", "ci")
	require.NoError(t, err)

	newRaw, newRec, err := m.Rotate(ctx, old.ID)
	require.NoError(t, err)

	assert.NotEqual(t, old.ID, newRec.ID)
	assert.Equal(t, "p1", newRec.ProjectID)
	assert.Equal(t, "Project One", newRec.ProjectName)
	assert.Equal(t, "ci (rotated)", newRec.Label)
	assert.True(t, newRec.Active)

	// The new key authenticates; the old record is revoked.
	got, err := m.FindByRawKey(ctx, newRaw)
	require.NoError(t, err)
	assert.Equal(t, newRec.ID, got.ID)

	oldRec, err := m.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, oldRec.Active)
}

func TestManager_Rotate_Errors(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, _, err := m.Rotate(ctx, "absent")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, rec, err := m.Create(ctx, "p1", "", "ci")
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, rec.ID))

	_, _, err = m.Rotate(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestManager_Purge(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, rec, err := m.Create(ctx, "p1", "", "ci")
	require.NoError(t, err)

	require.NoError(t, m.Purge(ctx, rec.ID))

	_, err = m.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	assert.ErrorIs(t, m.Purge(ctx, rec.ID), ErrKeyNotFound)
}

func TestManager_List(t *testing.T) {
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	m, _ := newTestManager(t, withClock(func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}))

	_, first, err := m.Create(ctx, "p1", "", "a")
	require.NoError(t, err)
	_, second, err := m.Create(ctx, "p1", "", "b")
	require.NoError(t, err)
	_, _, err = m.Create(ctx, "p2", "", "c")
	require.NoError(t, err)

	recs, err := m.List(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, second.ID, recs[0].ID)
	assert.Equal(t, first.ID, recs[1].ID)
}

// failingStore returns a transport error from every lookup.
type failingStore struct {
	*MemoryStore
}

func (f *failingStore) FindActiveByHash(context.Context, string) (*Record, error) {
	return nil, errors.New("connection refused")
}

func TestManager_FindByRawKey_StoreError(t *testing.T) {
	ctx := context.Background()
	m := NewManager(&failingStore{MemoryStore: NewMemoryStore()})

	raw, err := GenerateKey()
	require.NoError(t, err)

	_, err = m.FindByRawKey(ctx, raw)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrKeyNotFound)
}
