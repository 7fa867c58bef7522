package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiwave/telemetry-gateway/internal/apikey"
)

func newTestAuthenticator(t *testing.T, opts ...AuthenticatorOption) (*Authenticator, *apikey.Manager) {
	t.Helper()
	manager := apikey.NewManager(apikey.NewMemoryStore())
	return NewAuthenticator(manager, opts...), manager
}

func TestExtractCredential(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "bearer form", header: "Bearer tk_abc", want: "tk_abc"},
		{name: "lowercase bearer", header: "bearer tk_abc", want: "tk_abc"},
		{name: "bare key", header: "tk_abc", want: "tk_abc"},
		{name: "missing", header: "", wantErr: true},
		{name: "bearer with no key", header: "Bearer   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("authorization", tt.header)
			}

			got, err := ExtractCredential(r)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsUnauthorized(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticator_Validate(t *testing.T) {
	ctx := context.Background()
	a, manager := newTestAuthenticator(t)

	raw, rec, err := manager.Create(ctx, "p1", "Project One", "ci")
	require.NoError(t, err)

	t.Run("valid key", func(t *testing.T) {
		id, err := a.Validate(ctx, raw)
		require.NoError(t, err)
		assert.Equal(t, "p1", id.ProjectID)
		assert.Equal(t, "Project One", id.ProjectName)
		assert.Equal(t, rec.ID, id.RecordID)
	})

	t.Run("malformed key fails fast", func(t *testing.T) {
		_, err := a.Validate(ctx, "garbage")
		var ue *UnauthorizedError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, ReasonMalformed, ue.Reason)
	})

	t.Run("unknown key", func(t *testing.T) {
		other, genErr := apikey.GenerateKey()
		require.NoError(t, genErr)

		_, err := a.Validate(ctx, other)
		var ue *UnauthorizedError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, ReasonInvalid, ue.Reason)
	})
}

func TestAuthenticator_Validate_CachesSuccess(t *testing.T) {
	ctx := context.Background()
	store := apikey.NewMemoryStore()
	manager := apikey.NewManager(store)
	a := NewAuthenticator(manager)

	raw, rec, err := manager.Create(ctx, "p1", "", "ci")
	require.NoError(t, err)

	_, err = a.Validate(ctx, raw)
	require.NoError(t, err)

	// Deactivate behind the cache's back: the cached entry still answers
	// until TTL or invalidation, proving the store is not consulted.
	require.NoError(t, manager.Revoke(ctx, rec.ID))

	id, err := a.Validate(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, id.RecordID)

	// After invalidation the revoked state is visible.
	a.Invalidate(rec.ID)
	_, err = a.Validate(ctx, raw)
	assert.True(t, IsUnauthorized(err))
}

func TestAuthenticator_Validate_FailuresNotCached(t *testing.T) {
	ctx := context.Background()
	store := apikey.NewMemoryStore()
	manager := apikey.NewManager(store)
	a := NewAuthenticator(manager)

	raw, err := apikey.GenerateKey()
	require.NoError(t, err)

	_, err = a.Validate(ctx, raw)
	assert.True(t, IsUnauthorized(err))

	// The key is created after the failed attempt; the next attempt must
	// hit the store again and succeed.
	rec := &apikey.Record{
		ID:        "r1",
		ProjectID: "p1",
		KeyHash:   apikey.HashKey(raw),
		KeyPrefix: apikey.DisplayPrefix(raw),
		Label:     "late",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Insert(ctx, rec))

	id, err := a.Validate(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "r1", id.RecordID)
}

// unreachableStore simulates a key store outage.
type unreachableStore struct {
	*apikey.MemoryStore
}

func (s *unreachableStore) FindActiveByHash(context.Context, string) (*apikey.Record, error) {
	return nil, errors.New("dial tcp: i/o timeout")
}

func TestAuthenticator_Validate_FailsClosedOnStoreError(t *testing.T) {
	ctx := context.Background()
	manager := apikey.NewManager(&unreachableStore{MemoryStore: apikey.NewMemoryStore()})
	a := NewAuthenticator(manager)

	raw, err := apikey.GenerateKey()
	require.NoError(t, err)

	_, err = a.Validate(ctx, raw)
	require.Error(t, err)
	assert.False(t, IsUnauthorized(err), "store outage must not look like a credential rejection")
	assert.True(t, IsInternal(err))
}

func TestAuthenticator_Authenticate(t *testing.T) {
	ctx := context.Background()
	a, manager := newTestAuthenticator(t)

	raw, _, err := manager.Create(ctx, "p1", "", "ci")
	require.NoError(t, err)

	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer "+raw)

		id, err := a.Authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, "p1", id.ProjectID)
	})

	t.Run("bare header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", raw)

		id, err := a.Authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, "p1", id.ProjectID)
	})

	t.Run("no header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)

		_, err := a.Authenticate(r)
		var ue *UnauthorizedError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, ReasonMissing, ue.Reason)
	})
}

func TestAuthenticator_ClearAll(t *testing.T) {
	ctx := context.Background()
	a, manager := newTestAuthenticator(t)

	raw, rec, err := manager.Create(ctx, "p1", "", "ci")
	require.NoError(t, err)

	_, err = a.Validate(ctx, raw)
	require.NoError(t, err)
	require.NoError(t, manager.Revoke(ctx, rec.ID))

	a.ClearAll()
	_, err = a.Validate(ctx, raw)
	assert.True(t, IsUnauthorized(err))
}

func TestAuthenticator_Invalidate_AcceptsRawKey(t *testing.T) {
	ctx := context.Background()
	a, manager := newTestAuthenticator(t)

	raw, rec, err := manager.Create(ctx, "p1", "", "ci")
	require.NoError(t, err)

	_, err = a.Validate(ctx, raw)
	require.NoError(t, err)
	require.NoError(t, manager.Revoke(ctx, rec.ID))

	a.Invalidate(raw)
	_, err = a.Validate(ctx, raw)
	assert.True(t, IsUnauthorized(err))
}
