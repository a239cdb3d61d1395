package integration

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/seu-repo/ocpi-hub/internal/adapter/cache"
)

// TestRedis_CacheAdapter exercises the Redis-backed Cache implementation.
func TestRedis_CacheAdapter(t *testing.T) {
	env := SetupTestEnvironment(t)
	if env == nil || env.Redis == nil {
		t.Skip("Redis not available")
	}
	FlushRedis(t, env.Redis)

	c, err := cache.NewRedisCache(env.RedisURL, env.Logger)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	ctx := context.Background()

	t.Run("SetGet", func(t *testing.T) {
		if err := c.Set(ctx, "revoked_token:abc", "revoked", time.Minute); err != nil {
			t.Fatalf("Failed to set key: %v", err)
		}
		val, err := c.Get(ctx, "revoked_token:abc")
		if err != nil {
			t.Fatalf("Failed to get key: %v", err)
		}
		if val != "revoked" {
			t.Errorf("Expected 'revoked', got '%s'", val)
		}
	})

	t.Run("Expiration", func(t *testing.T) {
		if err := c.Set(ctx, "test:expiring", "value", 100*time.Millisecond); err != nil {
			t.Fatalf("Failed to set key: %v", err)
		}
		time.Sleep(150 * time.Millisecond)
		if _, err := c.Get(ctx, "test:expiring"); err != goredis.Nil {
			t.Error("Key should have expired")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := c.Set(ctx, "test:delete", "value", time.Minute); err != nil {
			t.Fatalf("Failed to set key: %v", err)
		}
		if err := c.Delete(ctx, "test:delete"); err != nil {
			t.Fatalf("Failed to delete key: %v", err)
		}
		if _, err := c.Get(ctx, "test:delete"); err != goredis.Nil {
			t.Error("Key should be gone after delete")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := c.Ping(); err != nil {
			t.Fatalf("Failed to ping: %v", err)
		}
	})
}
