package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"arena-backend/internal/constants"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	ServerPort      string
	DBPath          string
	LogLevel        string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	IdentityURL     string
	GameConfigPath  string
	LeaderboardTopN int
	LeaderboardTTL  time.Duration
	Tuning          Tuning
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		DBPath:          getEnv("DB_PATH", "arena.db"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		IdentityURL:     getEnv("IDENTITY_URL", ""),
		GameConfigPath:  getEnv("GAME_CONFIG_PATH", ""),
		LeaderboardTopN: constants.LeaderboardTopN,
		LeaderboardTTL:  constants.LeaderboardTTL,
		Tuning:          DefaultTuning(),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.LeaderboardTopN, err = getEnvInt("LEADERBOARD_TOP_N", cfg.LeaderboardTopN); err != nil {
		return nil, err
	}
	if cfg.LeaderboardTTL, err = getEnvDuration("LEADERBOARD_TTL", cfg.LeaderboardTTL); err != nil {
		return nil, err
	}

	if cfg.IdentityURL == "" {
		return nil, fmt.Errorf("IDENTITY_URL is required")
	}
	if cfg.LeaderboardTopN <= 0 {
		return nil, fmt.Errorf("LEADERBOARD_TOP_N must be positive, got %d", cfg.LeaderboardTopN)
	}
	if cfg.LeaderboardTTL <= 0 {
		return nil, fmt.Errorf("LEADERBOARD_TTL must be positive, got %s", cfg.LeaderboardTTL)
	}

	if cfg.GameConfigPath != "" {
		if err := cfg.Tuning.LoadFile(cfg.GameConfigPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, err
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Str("redis_addr", cfg.RedisAddr).
		Str("game_config_path", cfg.GameConfigPath).
		Int("tick_rate", cfg.Tuning.TickRate).
		Int("leaderboard_top_n", cfg.LeaderboardTopN).
		Dur("leaderboard_ttl", cfg.LeaderboardTTL).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

var Module = fx.Provide(Load)
