package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// Key format constants.
const (
	// KeyPrefix marks raw telemetry keys so they are recognizable in
	// configuration files and secret scanners.
	KeyPrefix = "tk_"

	// keyRandomBytes is the entropy of a raw key (256 bits).
	keyRandomBytes = 32

	// RawKeyLength is the total length of a well-formed raw key:
	// the prefix plus the hex encoding of keyRandomBytes.
	RawKeyLength = len(KeyPrefix) + keyRandomBytes*2

	// DisplayPrefixLength is how many leading characters of the raw key
	// are stored for operator display.
	DisplayPrefixLength = 12
)

// GenerateKey returns a new raw API key built from the crypto/rand source.
func GenerateKey() (string, error) {
	buf := make([]byte, keyRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key material: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// HashKey returns the hex-encoded SHA-256 digest of a raw key. The digest
// is deterministic so stored keys can be located by exact hash match.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the short non-secret prefix of a raw key.
func DisplayPrefix(raw string) string {
	if len(raw) <= DisplayPrefixLength {
		return raw
	}
	return raw[:DisplayPrefixLength]
}

// ValidFormat reports whether a presented key is structurally well-formed.
// It is a cheap check run before any hashing or store lookup.
func ValidFormat(raw string) bool {
	if len(raw) != RawKeyLength {
		return false
	}
	if !strings.HasPrefix(raw, KeyPrefix) {
		return false
	}
	for _, c := range raw[len(KeyPrefix):] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

// HashEquals compares two hex-encoded digests in constant time.
func HashEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
