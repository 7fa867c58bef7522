package health

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveness(t *testing.T) {
	checker := NewChecker("1.2.3")

	resp := checker.Liveness()
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.NotZero(t, resp.Timestamp)
}

func TestReadiness(t *testing.T) {
	checker := NewChecker("dev")

	t.Run("no checks means ready", func(t *testing.T) {
		resp := checker.Readiness(context.Background())
		assert.Equal(t, StatusHealthy, resp.Status)
	})

	t.Run("one failing check flips the aggregate", func(t *testing.T) {
		checker.Register("ok", func(ctx context.Context) Check {
			return Check{Status: StatusHealthy}
		})
		checker.Register("down", func(ctx context.Context) Check {
			return Check{Status: StatusUnhealthy, Message: "connection refused"}
		})

		resp := checker.Readiness(context.Background())
		assert.Equal(t, StatusUnhealthy, resp.Status)
		assert.Equal(t, StatusHealthy, resp.Checks["ok"].Status)
		assert.Equal(t, "connection refused", resp.Checks["down"].Message)
	})

	t.Run("unregistering the failing check restores readiness", func(t *testing.T) {
		checker.Unregister("down")
		resp := checker.Readiness(context.Background())
		assert.Equal(t, StatusHealthy, resp.Status)
	})
}

func TestRedisCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { require.NoError(t, client.Close()) }()

	check := RedisCheck(client)

	assert.Equal(t, StatusHealthy, check(context.Background()).Status)

	mr.Close()
	result := check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.NotEmpty(t, result.Message)
}
