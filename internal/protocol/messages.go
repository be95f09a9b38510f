// Package protocol defines the closed set of events exchanged with game clients over
// a persistent connection, and their JSON envelope.
package protocol

const (
	EventQueueJoin    = "queue:join"
	EventQueueLeave   = "queue:leave"
	EventQueueStatus  = "queue:status"
	EventMatchFound   = "match:found"
	EventMatchReady   = "match:ready"
	EventMatchStart   = "match:start"
	EventGameInput    = "game:input"
	EventGameSnapshot = "game:snapshot"
	EventGameEnd      = "game:end"
	EventError        = "error"
)

// Message is implemented by every payload type in this package and nothing else.
type Message interface {
	Event() string
	isMessage()
}

// Sender delivers a message to whichever connection currently belongs to a player.
// Implementations must not block; false means the message was dropped.
type Sender interface {
	Send(playerID string, msg Message) bool
}

// client -> server

type QueueJoin struct{}

type QueueLeave struct{}

type MatchReady struct {
	MatchID string `json:"matchId"`
}

type GameInput struct {
	MoveX           float64 `json:"moveX"`
	MoveY           float64 `json:"moveY"`
	Fire            bool    `json:"fire"`
	Ability         bool    `json:"ability"`
	ClientTimestamp int64   `json:"clientTimestamp"`
}

// server -> client

type QueueStatus struct {
	Position             int     `json:"position"`
	EstimatedWaitSeconds float64 `json:"estimatedWaitSeconds"`
}

type Opponent struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Rating   int    `json:"rating"`
}

type MatchFound struct {
	MatchID  string   `json:"matchId"`
	Opponent Opponent `json:"opponent"`
}

type MatchStart struct {
	MatchID string `json:"matchId"`
	Side    string `json:"side"`
	Color   string `json:"color"`
}

type PlayerState struct {
	ID           string  `json:"id"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Rotation     float64 `json:"rotation"`
	Health       int     `json:"health"`
	ShieldHealth int     `json:"shieldHealth"`
	ShieldActive bool    `json:"shieldActive"`
	AbilityReady bool    `json:"abilityReady"`
	DamageDealt  int     `json:"damageDealt"`
	Connected    bool    `json:"connected"`
}

type GameSnapshot struct {
	MatchID         string      `json:"matchId"`
	Tick            uint64      `json:"tick"`
	ServerTimestamp int64       `json:"serverTimestamp"`
	Player1         PlayerState `json:"player1"`
	Player2         PlayerState `json:"player2"`
	Status          string      `json:"status"`
	Winner          *string     `json:"winner,omitempty"`
}

type GameEnd struct {
	MatchID    string       `json:"matchId"`
	Winner     *string      `json:"winner"`
	EndReason  string       `json:"endReason"`
	FinalState GameSnapshot `json:"finalState"`
}

type Error struct {
	Message string `json:"message"`
}

func (QueueJoin) Event() string    { return EventQueueJoin }
func (QueueLeave) Event() string   { return EventQueueLeave }
func (MatchReady) Event() string   { return EventMatchReady }
func (GameInput) Event() string    { return EventGameInput }
func (QueueStatus) Event() string  { return EventQueueStatus }
func (MatchFound) Event() string   { return EventMatchFound }
func (MatchStart) Event() string   { return EventMatchStart }
func (GameSnapshot) Event() string { return EventGameSnapshot }
func (GameEnd) Event() string      { return EventGameEnd }
func (Error) Event() string        { return EventError }

func (QueueJoin) isMessage()    {}
func (QueueLeave) isMessage()   {}
func (MatchReady) isMessage()   {}
func (GameInput) isMessage()    {}
func (QueueStatus) isMessage()  {}
func (MatchFound) isMessage()   {}
func (MatchStart) isMessage()   {}
func (GameSnapshot) isMessage() {}
func (GameEnd) isMessage()      {}
func (Error) isMessage()        {}
