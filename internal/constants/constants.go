package constants

import "time"

const (
	IdentityCacheTTL   = 5 * time.Minute
	LeaderboardTTL     = 300 * time.Second
	LeaderboardTopN    = 100
	LeaderboardLockTTL = 5 * time.Second
)

const (
	IdentityAPITimeout = 5 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
	ReportTimeout      = 10 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout   = 5 * time.Second
	ReconcileInterval = 1 * time.Minute
)

const (
	DefaultRating           = 1000
	DefaultLeaderboardLimit = 50
	MaxLeaderboardLimit     = 100
	RatingHistoryLimit      = 20
	MaxRatingHistoryLimit   = 100
)

const (
	WSReadLimit    = 4096
	WSPongWait     = 60 * time.Second
	WSPingInterval = 20 * time.Second
	WSWriteWait    = 10 * time.Second
	WSSendBuffer   = 64
)
