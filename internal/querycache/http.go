package querycache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CacheControl describes the Cache-Control directives attached to cached
// responses.
type CacheControl struct {
	// MaxAge is the max-age directive.
	MaxAge time.Duration

	// SMaxAge is the s-maxage directive for shared caches. Zero omits it.
	SMaxAge time.Duration

	// StaleWhileRevalidate is the stale-while-revalidate directive. Zero
	// omits it.
	StaleWhileRevalidate time.Duration

	// Public marks the response publicly cacheable; otherwise it is
	// private.
	Public bool
}

// Header renders the Cache-Control header value.
func (cc CacheControl) Header() string {
	parts := make([]string, 0, 4)
	if cc.Public {
		parts = append(parts, "public")
	} else {
		parts = append(parts, "private")
	}
	parts = append(parts, "max-age="+strconv.Itoa(int(cc.MaxAge.Seconds())))
	if cc.SMaxAge > 0 {
		parts = append(parts, "s-maxage="+strconv.Itoa(int(cc.SMaxAge.Seconds())))
	}
	if cc.StaleWhileRevalidate > 0 {
		parts = append(parts, "stale-while-revalidate="+strconv.Itoa(int(cc.StaleWhileRevalidate.Seconds())))
	}
	return strings.Join(parts, ", ")
}

// GenerateETag derives a strong ETag from the canonical JSON encoding of
// v. Identical values always produce identical tags; map keys are sorted
// by encoding/json, so field order does not matter.
func GenerateETag(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode value for etag: %w", err)
	}
	sum := sha256.Sum256(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`, nil
}

// CheckConditional reports whether the request's If-None-Match header
// matches the given ETag, meaning the client's copy is current.
func CheckConditional(r *http.Request, etag string) bool {
	header := r.Header.Get("If-None-Match")
	if header == "" || etag == "" {
		return false
	}
	if header == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		// Weak comparison: a weak validator prefix still matches for GET.
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}

// Send writes the value with ETag and Cache-Control headers, replying
// 304 Not Modified without a body when the client already holds the
// current representation.
func Send(c *gin.Context, status int, value any, etag string, cc CacheControl) {
	c.Header("ETag", etag)
	c.Header("Cache-Control", cc.Header())

	if CheckConditional(c.Request, etag) {
		c.Status(http.StatusNotModified)
		return
	}
	c.JSON(status, value)
}
