// Package bootstrap establishes process-wide runtime dependencies.
package bootstrap

import (
	"fmt"

	"driftchat/internal/cache"
	"driftchat/internal/config"
	"driftchat/internal/database"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// InitRuntime connects to the database and Redis. Redis may come back nil if
// unreachable; the server degrades (no WebSocket tickets, fail-open HTTP
// rate limits) rather than refusing to start.
func InitRuntime(cfg *config.Config) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()

	return db, r, nil
}
