// Package rating implements the Elo-style rating rules applied when a match concludes.
// Every function is pure and total; callers validate inputs before calling.
package rating

import (
	"math"
	"strconv"
)

const (
	K               = 32
	DrawBonus       = 5
	DisconnectBonus = 5

	Min = 0
	Max = 3000
)

// ExpectedScore is the probability that a player rated a beats a player rated b.
func ExpectedScore(a, b int) float64 {
	return 1 / (1 + math.Pow(10, float64(b-a)/400))
}

// Normal returns the rating changes for a decisive result.
func Normal(winner, loser int) (winnerChange, loserChange int) {
	winnerChange = int(math.Round(K * (1 - ExpectedScore(winner, loser))))
	loserChange = -int(math.Round(K * (1 - ExpectedScore(loser, winner))))
	return winnerChange, loserChange
}

// Tie gives both players the flat draw bonus regardless of rating.
func Tie(p1, p2 int) (p1Change, p2Change int) {
	return DrawBonus, DrawBonus
}

// Disconnection scores the match as a normal loss for the disconnected player and
// stacks the flat bonus on top of the opponent's normal win.
func Disconnection(disconnected, opponent int) (disconnectedChange, opponentChange int) {
	opponentChange, disconnectedChange = Normal(opponent, disconnected)
	return disconnectedChange, opponentChange + DisconnectBonus
}

func Clamp(r int) int {
	if r < Min {
		return Min
	}
	if r > Max {
		return Max
	}
	return r
}

func ApplyChange(current, delta int) int {
	return Clamp(current + delta)
}

// WinRate is the percentage of decided matches won, 0 when none were played.
func WinRate(wins, losses int) float64 {
	total := wins + losses
	if total <= 0 {
		return 0
	}
	return float64(wins) / float64(total) * 100
}

// FormatWinRate renders a win rate with one decimal and a trailing percent sign.
func FormatWinRate(wins, losses int) string {
	return strconv.FormatFloat(WinRate(wins, losses), 'f', 1, 64) + "%"
}

// Winner identifies which side of a match took the result, if any.
type Winner int

const (
	NoWinner Winner = iota
	Player1Won
	Player2Won
)

// Outcome is everything needed to score a finished match.
type Outcome struct {
	Player1      int
	Player2      int
	Winner       Winner
	Disconnected bool // the loser forfeited by disconnecting
}

// ForOutcome dispatches to the rule matching the outcome. Matches without a winner
// are scored as a tie whatever their end reason.
func ForOutcome(o Outcome) (p1Change, p2Change int) {
	switch o.Winner {
	case Player1Won:
		if o.Disconnected {
			p2Change, p1Change = Disconnection(o.Player2, o.Player1)
			return p1Change, p2Change
		}
		return Normal(o.Player1, o.Player2)
	case Player2Won:
		if o.Disconnected {
			return Disconnection(o.Player1, o.Player2)
		}
		p2Change, p1Change = Normal(o.Player2, o.Player1)
		return p1Change, p2Change
	default:
		return Tie(o.Player1, o.Player2)
	}
}
