// Package health provides liveness and readiness probes for the gateway.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status represents a probe outcome.
type Status string

const (
	// StatusHealthy indicates the dependency is reachable.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the dependency is down.
	StatusUnhealthy Status = "unhealthy"
)

// Check is an individual dependency check result.
type Check struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// CheckFunc probes one dependency. It must respect the context deadline.
type CheckFunc func(ctx context.Context) Check

// LivenessResponse is the liveness probe body.
type LivenessResponse struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse is the readiness probe body. Status is unhealthy when
// any registered check fails.
type ReadinessResponse struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Checker aggregates dependency checks behind liveness and readiness
// probes.
type Checker struct {
	version   string
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker creates a checker carrying the build version.
func NewChecker(version string) *Checker {
	return &Checker{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
	}
}

// Register adds a named dependency check.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Unregister removes a dependency check.
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// Liveness reports process liveness. It never consults dependencies; a
// process that can answer is alive.
func (c *Checker) Liveness() LivenessResponse {
	return LivenessResponse{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
}

// Readiness runs every registered check and aggregates the results.
func (c *Checker) Readiness(ctx context.Context) ReadinessResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()

	response := ReadinessResponse{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check, len(c.checks)),
		Timestamp: time.Now(),
	}

	for name, checkFunc := range c.checks {
		check := checkFunc(ctx)
		response.Checks[name] = check
		if check.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
		}
	}

	return response
}

// RedisCheck probes a Redis connection with PING.
func RedisCheck(client redis.UniversalClient) CheckFunc {
	return func(ctx context.Context) Check {
		if err := client.Ping(ctx).Err(); err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		}
		return Check{Status: StatusHealthy}
	}
}
