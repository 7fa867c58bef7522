package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/optiwave/telemetry-gateway/internal/apikey"
	"github.com/optiwave/telemetry-gateway/internal/auth"
	"github.com/optiwave/telemetry-gateway/internal/config"
	"github.com/optiwave/telemetry-gateway/internal/observability"
	"github.com/optiwave/telemetry-gateway/internal/ratelimit"
	"github.com/optiwave/telemetry-gateway/internal/util"
)

// Header and context key names.
const (
	RequestIDHeader  = "X-Request-ID"
	AdminTokenHeader = "X-Admin-Token"

	identityContextKey = "identity"
)

// RequestIDMiddleware assigns each request an ID, honoring one supplied by
// the client, and propagates it through the context and response header.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := observability.ContextWithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// RecoveryMiddleware converts panics into opaque 500 responses.
func RecoveryMiddleware(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					observability.Any("panic", r),
					observability.String("path", c.Request.URL.Path),
				)
				apiErr := util.NewInternalError()
				c.AbortWithStatusJSON(apiErr.Status, apiErr)
			}
		}()
		c.Next()
	}
}

// AccessLogMiddleware logs one line per request with latency and status.
func AccessLogMiddleware(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithContext(c.Request.Context()).Info("request completed",
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
			observability.Int("status", c.Writer.Status()),
			observability.String("client_ip", util.ClientIP(c.Request)),
			observability.Duration("latency", time.Since(start)),
		)
	}
}

// LocalLimitMiddleware sheds load per instance before any distributed
// check, keyed by client IP.
func LocalLimitMiddleware(limiter *ratelimit.LocalLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(util.ClientIP(c.Request)) {
			apiErr := util.FromError(&ratelimit.RateLimitError{
				Key:        "local",
				RetryAfter: time.Second,
			})
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(apiErr.Status, apiErr)
			return
		}
		c.Next()
	}
}

// AuthMiddleware authenticates the request and stores the identity in the
// gin context. Store outages surface as 503, never as 401.
func AuthMiddleware(authenticator *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := authenticator.Authenticate(c.Request)
		if err != nil {
			if auth.IsUnauthorized(err) {
				apiErr := util.NewUnauthorizedError(err.Error())
				c.AbortWithStatusJSON(apiErr.Status, apiErr)
				return
			}
			apiErr := util.FromError(err)
			if apiErr.Status < 500 {
				apiErr = util.NewInternalError()
			}
			c.AbortWithStatusJSON(apiErr.Status, apiErr)
			return
		}

		ctx := observability.ContextWithProjectID(c.Request.Context(), identity.ProjectID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(identityContextKey, identity)
		c.Next()
	}
}

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(c *gin.Context) (*auth.Identity, bool) {
	v, ok := c.Get(identityContextKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*auth.Identity)
	return identity, ok
}

// RateLimitMiddleware enforces the distributed budgets: per client IP
// first, then per authenticated identity when one is present. Responses
// carry X-RateLimit headers; 429s add Retry-After.
func RateLimitMiddleware(limiter *ratelimit.Limiter, cfg config.RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		result, err := limiter.Enforce(ctx,
			ratelimit.IPKey(util.ClientIP(c.Request)),
			cfg.IPLimit, cfg.IPWindow.Duration(),
		)
		if err == nil {
			if identity, ok := IdentityFromContext(c); ok {
				result, err = limiter.Enforce(ctx,
					ratelimit.IdentityKey(identity.RecordID),
					cfg.KeyLimit, cfg.KeyWindow.Duration(),
				)
			}
		}

		if result != nil {
			setRateLimitHeaders(c, result)
		}
		if err != nil {
			apiErr := util.FromError(err)
			if rle, ok := err.(*ratelimit.RateLimitError); ok {
				c.Header("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())))
			}
			c.AbortWithStatusJSON(apiErr.Status, apiErr)
			return
		}
		c.Next()
	}
}

// setRateLimitHeaders exposes the tightest budget seen for this request.
// The reset hint is an absolute ISO 8601 timestamp.
func setRateLimitHeaders(c *gin.Context, result *ratelimit.Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if result.ResetAfter > 0 {
		reset := time.Now().Add(result.ResetAfter).UTC().Format(time.RFC3339)
		c.Header("X-RateLimit-Reset", reset)
	}
}

// AdminAuthMiddleware guards key management endpoints. Access is granted
// either by the bootstrap admin token (bcrypt-verified, usable before any
// key exists) or by an API key belonging to an admin project.
func AdminAuthMiddleware(cfg config.AuthConfig, authenticator *auth.Authenticator) gin.HandlerFunc {
	adminProjects := make(map[string]struct{}, len(cfg.AdminProjects))
	for _, p := range cfg.AdminProjects {
		adminProjects[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if token := c.GetHeader(AdminTokenHeader); token != "" && cfg.AdminTokenHash != "" {
			if apikey.VerifySecret(token, cfg.AdminTokenHash) {
				c.Next()
				return
			}
			apiErr := util.NewUnauthorizedError("unauthorized: invalid admin token")
			c.AbortWithStatusJSON(apiErr.Status, apiErr)
			return
		}

		identity, err := authenticator.Authenticate(c.Request)
		if err != nil {
			apiErr := util.FromError(err)
			if !auth.IsUnauthorized(err) && apiErr.Status < 500 {
				apiErr = util.NewInternalError()
			}
			c.AbortWithStatusJSON(apiErr.Status, apiErr)
			return
		}
		if _, admin := adminProjects[identity.ProjectID]; !admin {
			apiErr := util.NewUnauthorizedError("unauthorized: admin access required")
			c.AbortWithStatusJSON(apiErr.Status, apiErr)
			return
		}

		c.Set(identityContextKey, identity)
		c.Next()
	}
}
