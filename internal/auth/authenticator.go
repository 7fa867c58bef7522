package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/optiwave/telemetry-gateway/internal/apikey"
	"github.com/optiwave/telemetry-gateway/internal/observability"
)

// Default verification settings.
const (
	DefaultCacheTTL     = time.Minute
	DefaultStoreTimeout = 2 * time.Second
)

// Identity is the result of successful authentication.
type Identity struct {
	// ProjectID is the authenticated tenant.
	ProjectID string `json:"project_id"`

	// ProjectName is the tenant's display name.
	ProjectName string `json:"project_name,omitempty"`

	// RecordID is the ID of the key record that authenticated the request.
	RecordID string `json:"record_id"`

	// KeyPrefix is the non-secret display prefix of the key.
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// Authenticator resolves request credentials to identities. Lookups go
// through a bounded-TTL cache; misses hit the key store with a deadline
// and fail closed when the store is unreachable.
type Authenticator struct {
	manager      *apikey.Manager
	cache        *Cache
	storeTimeout time.Duration
	logger       observability.Logger
	metrics      *Metrics
}

// AuthenticatorOption is a functional option for the authenticator.
type AuthenticatorOption func(*Authenticator)

// WithLogger sets the logger for the authenticator.
func WithLogger(logger observability.Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithMetrics sets the metrics for the authenticator.
func WithMetrics(metrics *Metrics) AuthenticatorOption {
	return func(a *Authenticator) {
		a.metrics = metrics
	}
}

// WithCache sets the verification cache.
func WithCache(cache *Cache) AuthenticatorOption {
	return func(a *Authenticator) {
		a.cache = cache
	}
}

// WithStoreTimeout bounds a single key store lookup.
func WithStoreTimeout(timeout time.Duration) AuthenticatorOption {
	return func(a *Authenticator) {
		if timeout > 0 {
			a.storeTimeout = timeout
		}
	}
}

// NewAuthenticator creates an authenticator backed by the given manager.
func NewAuthenticator(manager *apikey.Manager, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		manager:      manager,
		storeTimeout: DefaultStoreTimeout,
		logger:       observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cache == nil {
		a.cache = NewCache(DefaultCacheTTL)
	}
	return a
}

// Authenticate extracts the bearer credential from the request and
// validates it. Both "Authorization: Bearer <key>" and a bare
// "Authorization: <key>" are accepted; header names match
// case-insensitively per net/http semantics.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	raw, err := ExtractCredential(r)
	if err != nil {
		a.metrics.RecordFailure(ReasonMissing)
		return nil, err
	}
	return a.Validate(r.Context(), raw)
}

// ExtractCredential pulls the raw key out of the Authorization header.
func ExtractCredential(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", NewUnauthorizedError(ReasonMissing)
	}

	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		header = strings.TrimSpace(header[7:])
	}
	if header == "" {
		return "", NewUnauthorizedError(ReasonMissing)
	}
	return header, nil
}

// Validate resolves a raw key to an identity. The format check runs first
// so malformed input never reaches the store. Successful verifications are
// cached; failures are not, so a key created moments ago is usable as soon
// as the store sees it.
func (a *Authenticator) Validate(ctx context.Context, raw string) (*Identity, error) {
	start := time.Now()

	if !apikey.ValidFormat(raw) {
		a.metrics.RecordRequest("failure", time.Since(start))
		a.metrics.RecordFailure(ReasonMalformed)
		return nil, NewUnauthorizedError(ReasonMalformed)
	}

	hash := apikey.HashKey(raw)

	if rec, ok := a.cache.Get(hash); ok {
		a.metrics.RecordCacheHit()
		a.metrics.RecordRequest("success", time.Since(start))
		a.manager.TouchUsage(rec.ID)
		return identityFromRecord(rec), nil
	}
	a.metrics.RecordCacheMiss()

	lookupCtx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()

	rec, err := a.manager.FindByRawKey(lookupCtx, raw)
	if err != nil {
		a.metrics.RecordRequest("failure", time.Since(start))
		if errors.Is(err, apikey.ErrKeyNotFound) {
			a.metrics.RecordFailure(ReasonInvalid)
			return nil, NewUnauthorizedError(ReasonInvalid)
		}

		// Store failure or timeout: fail closed. An unreachable key store
		// must never admit traffic.
		a.metrics.RecordFailure("store_error")
		a.logger.Error("key store lookup failed during authentication",
			observability.Error(err),
		)
		return nil, &internalError{err: err}
	}

	a.cache.Set(hash, rec)
	a.manager.TouchUsage(rec.ID)
	a.metrics.RecordRequest("success", time.Since(start))
	return identityFromRecord(rec), nil
}

// Invalidate evicts a cached verification. It accepts either the raw key
// or the record ID, so revoke and rotate handlers can evict without
// holding the secret.
func (a *Authenticator) Invalidate(rawKeyOrRecordID string) {
	if apikey.ValidFormat(rawKeyOrRecordID) {
		a.cache.InvalidateHash(apikey.HashKey(rawKeyOrRecordID))
		return
	}
	a.cache.InvalidateRecordID(rawKeyOrRecordID)
}

// ClearAll evicts every cached verification.
func (a *Authenticator) ClearAll() {
	a.cache.Clear()
}

// IsInternal reports whether err is a surfaced store failure rather than a
// credential rejection.
func IsInternal(err error) bool {
	var ie *internalError
	return errors.As(err, &ie)
}

func identityFromRecord(rec *apikey.Record) *Identity {
	return &Identity{
		ProjectID:   rec.ProjectID,
		ProjectName: rec.ProjectName,
		RecordID:    rec.ID,
		KeyPrefix:   rec.KeyPrefix,
	}
}
