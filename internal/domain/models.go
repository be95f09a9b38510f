package domain

import (
	"time"
)

// Player is an authenticated principal together with its current rating row.
type Player struct {
	ID       string
	Username string
	Rating   int
}

type PlayerRating struct {
	PlayerID         string
	Username         string
	Rating           int
	Wins             int
	Losses           int
	LastMatchID      string
	LastRatingChange int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	Username string `json:"username"`
	Rating   int    `json:"rating"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
}

const (
	EndReasonNormal        = "normal"
	EndReasonTie           = "tie"
	EndReasonDisconnection = "disconnection"
	EndReasonCancelled     = "cancelled" // ready-up failed; never persisted or rated
)

const (
	MatchStatusCompleted = "completed" // result stored, ratings not yet applied
	MatchStatusRated     = "rated"
)

// MatchRecord is the persisted completed-match record exposed to statistics consumers.
type MatchRecord struct {
	MatchID             string
	Player1ID           string
	Player2ID           string
	WinnerID            string // empty on a tie or a no-winner disconnection
	DisconnectedID      string // set when endReason=disconnection credited a winner
	EndReason           string // "normal", "tie" or "disconnection"
	Status              string
	Player1RatingBefore int
	Player2RatingBefore int
	Player1RatingAfter  int
	Player2RatingAfter  int
	Player1Damage       int
	Player2Damage       int
	Ticks               uint64
	StartedAt           time.Time
	EndedAt             time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type RatingHistory struct {
	ID           string // nanoid
	MatchID      string
	PlayerID     string
	RatingBefore int
	RatingAfter  int
	Change       int
	CreatedAt    time.Time
}
