// Package apikey implements API key generation, storage, and lifecycle
// management for telemetry ingestion credentials.
package apikey

import (
	"errors"
	"time"
)

// Common errors for API key operations.
var (
	// ErrKeyNotFound indicates that no usable key matched the lookup.
	// Revoked and missing keys are deliberately indistinguishable.
	ErrKeyNotFound = errors.New("api key not found")

	// ErrLabelTaken indicates that an active key with the same label
	// already exists for the project.
	ErrLabelTaken = errors.New("active api key with this label already exists for project")

	// ErrDuplicateHash indicates a key hash collision on insert.
	ErrDuplicateHash = errors.New("api key hash already exists")

	// ErrInvalidKeyFormat indicates that the presented key does not have
	// the expected structure.
	ErrInvalidKeyFormat = errors.New("malformed api key")

	// ErrStoreUnavailable indicates that the key store is unreachable.
	ErrStoreUnavailable = errors.New("api key store unavailable")
)

// Record is the stored representation of an API key. The raw key material
// is never persisted; only its SHA-256 digest and a short display prefix.
type Record struct {
	// ID is the unique identifier for the key.
	ID string `json:"id"`

	// ProjectID identifies the tenant the key belongs to.
	ProjectID string `json:"project_id"`

	// ProjectName is a human-readable name for the tenant.
	ProjectName string `json:"project_name,omitempty"`

	// KeyHash is the hex-encoded SHA-256 digest of the raw key.
	KeyHash string `json:"key_hash"`

	// KeyPrefix is the first characters of the raw key, kept so operators
	// can correlate a key with dashboards without seeing the secret.
	KeyPrefix string `json:"key_prefix"`

	// Label is a human-assigned name, unique among the project's active keys.
	Label string `json:"label"`

	// Active indicates whether the key is accepted for authentication.
	Active bool `json:"active"`

	// UsageCount is the number of successful authentications.
	UsageCount int64 `json:"usage_count"`

	// LastUsedAt is the time of the most recent successful authentication.
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`

	// CreatedAt is when the key was created.
	CreatedAt time.Time `json:"created_at"`

	// RevokedAt is when the key was revoked, if it has been.
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.LastUsedAt != nil {
		t := *r.LastUsedAt
		cp.LastUsedAt = &t
	}
	if r.RevokedAt != nil {
		t := *r.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}
