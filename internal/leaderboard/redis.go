package leaderboard

import (
	"context"
	"fmt"

	"arena-backend/internal/config"
	"arena-backend/internal/constants"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewRedisClient connects to the cache store. A failed ping is logged rather than
// returned: reads fall back to the durable store while the cache is unreachable.
func NewRedisClient(cfg *config.Config, logger zerolog.Logger) (redis.UniversalClient, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis not reachable, leaderboard will read from the database")
	} else {
		logger.Info().Str("addr", cfg.RedisAddr).Msg("redis connected")
	}
	return client, nil
}
