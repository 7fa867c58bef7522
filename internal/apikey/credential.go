package apikey

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Supported secret hash algorithms. API key lookups always use SHA-256
// (see HashKey); these cover operator-managed secrets such as the
// bootstrap admin token, where bcrypt is the default.
const (
	HashAlgSHA256 = "sha256"
	HashAlgSHA512 = "sha512"
	HashAlgBcrypt = "bcrypt"
)

// HashSecret hashes an operator-managed secret with the given algorithm.
func HashSecret(secret, algorithm string) (string, error) {
	switch algorithm {
	case HashAlgSHA256:
		sum := sha256.Sum256([]byte(secret))
		return hex.EncodeToString(sum[:]), nil
	case HashAlgSHA512:
		sum := sha512.Sum512([]byte(secret))
		return hex.EncodeToString(sum[:]), nil
	case HashAlgBcrypt:
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return "", err
		}
		return string(hash), nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
}

// VerifySecret reports whether the secret matches the stored hash. Bcrypt
// hashes are recognized by their prefix; everything else compares digests
// in constant time.
func VerifySecret(secret, storedHash string) bool {
	if len(storedHash) > 4 && storedHash[0] == '$' {
		return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(secret)) == nil
	}

	var digest string
	switch len(storedHash) {
	case sha256.Size * 2:
		sum := sha256.Sum256([]byte(secret))
		digest = hex.EncodeToString(sum[:])
	case sha512.Size * 2:
		sum := sha512.Sum512([]byte(secret))
		digest = hex.EncodeToString(sum[:])
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(digest), []byte(storedHash)) == 1
}
