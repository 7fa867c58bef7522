package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/optiwave/telemetry-gateway/internal/apikey"
	"github.com/optiwave/telemetry-gateway/internal/health"
	"github.com/optiwave/telemetry-gateway/internal/observability"
	"github.com/optiwave/telemetry-gateway/internal/querycache"
	"github.com/optiwave/telemetry-gateway/internal/rowstore"
	"github.com/optiwave/telemetry-gateway/internal/util"
)

// Request size bounds.
const maxBatchRows = 1000

// ingestRequest is the POST /v1/telemetry payload.
type ingestRequest struct {
	Rows []rowstore.Row `json:"rows" binding:"required"`
}

// ingestResponse acknowledges accepted rows.
type ingestResponse struct {
	Accepted int `json:"accepted"`
}

// handleIngest appends a batch of telemetry rows for the authenticated
// project.
func (s *Server) handleIngest(c *gin.Context) {
	identity, ok := IdentityFromContext(c)
	if !ok {
		apiErr := util.NewUnauthorizedError("unauthorized: missing API key")
		c.AbortWithStatusJSON(apiErr.Status, apiErr)
		return
	}

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiErr := util.NewValidationError("invalid request body", err.Error())
		c.AbortWithStatusJSON(apiErr.Status, apiErr)
		return
	}
	if len(req.Rows) == 0 {
		apiErr := util.NewValidationError("rows must not be empty", nil)
		c.AbortWithStatusJSON(apiErr.Status, apiErr)
		return
	}
	if len(req.Rows) > maxBatchRows {
		apiErr := util.NewValidationError("too many rows in one batch", gin.H{"max": maxBatchRows})
		c.AbortWithStatusJSON(apiErr.Status, apiErr)
		return
	}

	accepted, err := s.rows.Append(c.Request.Context(), identity.ProjectID, req.Rows)
	if err != nil {
		s.logger.Error("failed to append telemetry rows", observability.Error(err))
		apiErr := util.FromError(err)
		c.AbortWithStatusJSON(apiErr.Status, apiErr)
		return
	}

	// Ingest changes the aggregate; drop the cached summary eagerly
	// instead of waiting out its TTL.
	s.queryCache.Invalidate(summaryCacheKey(identity.ProjectID))

	c.JSON(http.StatusAccepted, ingestResponse{Accepted: accepted})
}

func summaryCacheKey(projectID string) string {
	return "analytics:summary:" + projectID
}

// handleAnalyticsSummary serves the project's aggregate through the query
// cache with conditional request support.
func (s *Server) handleAnalyticsSummary(c *gin.Context) {
	identity, ok := IdentityFromContext(c)
	if !ok {
		apiErr := util.NewUnauthorizedError("unauthorized: missing API key")
		c.AbortWithStatusJSON(apiErr.Status, apiErr)
		return
	}

	projectID := identity.ProjectID
	value, etag, err := s.queryCache.GetOrCompute(
		c.Request.Context(),
		summaryCacheKey(projectID),
		s.cfg.Cache.TTL.Duration(),
		func(ctx context.Context) (any, error) {
			return s.rows.Summary(ctx, projectID)
		},
	)
	if err != nil {
		s.logger.Error("failed to compute analytics summary", observability.Error(err))
		apiErr := util.FromError(err)
		c.AbortWithStatusJSON(apiErr.Status, apiErr)
		return
	}

	querycache.Send(c, http.StatusOK, value, etag, s.cacheControl())
}

func (s *Server) cacheControl() querycache.CacheControl {
	return querycache.CacheControl{
		MaxAge:               s.cfg.Cache.MaxAge.Duration(),
		SMaxAge:              s.cfg.Cache.SMaxAge.Duration(),
		StaleWhileRevalidate: s.cfg.Cache.StaleWhileRevalidate.Duration(),
		Public:               s.cfg.Cache.Public,
	}
}

// createKeyRequest is the POST /v1/keys payload.
type createKeyRequest struct {
	ProjectID   string `json:"project_id" binding:"required"`
	ProjectName string `json:"project_name"`
	Label       string `json:"label" binding:"required"`
}

// keyResponse is the serialized key record. The raw key appears only in
// create and rotate responses, exactly once.
type keyResponse struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	ProjectName string     `json:"project_name,omitempty"`
	KeyPrefix   string     `json:"key_prefix"`
	Label       string     `json:"label"`
	Active      bool       `json:"active"`
	UsageCount  int64      `json:"usage_count"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	RawKey      string     `json:"raw_key,omitempty"`
}

func keyResponseFrom(rec *apikey.Record) keyResponse {
	return keyResponse{
		ID:          rec.ID,
		ProjectID:   rec.ProjectID,
		ProjectName: rec.ProjectName,
		KeyPrefix:   rec.KeyPrefix,
		Label:       rec.Label,
		Active:      rec.Active,
		UsageCount:  rec.UsageCount,
		LastUsedAt:  rec.LastUsedAt,
		CreatedAt:   rec.CreatedAt,
		RevokedAt:   rec.RevokedAt,
	}
}

// handleCreateKey creates an API key and returns the raw key once.
func (s *Server) handleCreateKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiErr := util.NewValidationError("invalid request body", err.Error())
		c.AbortWithStatusJSON(apiErr.Status, apiErr)
		return
	}

	raw, rec, err := s.keys.Create(c.Request.Context(), req.ProjectID, req.ProjectName, req.Label)
	if err != nil {
		apiErr := util.FromError(err)
		c.AbortWithStatusJSON(apiErr.Status, apiErr)
		return
	}

	resp := keyResponseFrom(rec)
	resp.RawKey = raw
	c.JSON(http.StatusCreated, resp)
}

// handleListKeys lists a project's keys. Only prefixes are exposed.
func (s *Server) handleListKeys(c *gin.Context) {
	projectID := c.Query("project_id")
	if projectID == "" {
		apiErr := util.NewValidationError("project_id query parameter is required", nil)
		c.AbortWithStatusJSON(apiErr.Status, apiErr)
		return
	}

	recs, err := s.keys.List(c.Request.Context(), projectID)
	if err != nil {
		apiErr := util.FromError(err)
		c.AbortWithStatusJSON(apiErr.Status, apiErr)
		return
	}

	out := make([]keyResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, keyResponseFrom(rec))
	}
	c.JSON(http.StatusOK, gin.H{"keys": out})
}

// handleRevokeKey revokes a key and evicts it from the verification cache.
func (s *Server) handleRevokeKey(c *gin.Context) {
	id := c.Param("id")

	if err := s.keys.Revoke(c.Request.Context(), id); err != nil {
		apiErr := util.FromError(err)
		c.AbortWithStatusJSON(apiErr.Status, apiErr)
		return
	}

	s.authenticator.Invalidate(id)
	c.Status(http.StatusNoContent)
}

// handleRotateKey rotates a key: the response carries the new raw key, the
// old record is revoked and evicted from the verification cache.
func (s *Server) handleRotateKey(c *gin.Context) {
	id := c.Param("id")

	raw, rec, err := s.keys.Rotate(c.Request.Context(), id)
	if err != nil {
		apiErr := util.FromError(err)
		c.AbortWithStatusJSON(apiErr.Status, apiErr)
		return
	}

	s.authenticator.Invalidate(id)

	resp := keyResponseFrom(rec)
	resp.RawKey = raw
	c.JSON(http.StatusCreated, resp)
}

// handlePurgeKey permanently deletes a key record.
func (s *Server) handlePurgeKey(c *gin.Context) {
	id := c.Param("id")

	if err := s.keys.Purge(c.Request.Context(), id); err != nil {
		apiErr := util.FromError(err)
		c.AbortWithStatusJSON(apiErr.Status, apiErr)
		return
	}

	s.authenticator.Invalidate(id)
	c.Status(http.StatusNoContent)
}

// handleHealthz reports liveness without consulting dependencies.
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, s.checker.Liveness())
}

// handleReadyz runs the registered dependency checks. Any failing check
// makes the probe answer 503.
func (s *Server) handleReadyz(c *gin.Context) {
	resp := s.checker.Readiness(c.Request.Context())
	status := http.StatusOK
	if resp.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
