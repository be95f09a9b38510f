// Package matchmaking keeps the pool of waiting players and turns it into fair
// pairings.
package matchmaking

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"arena-backend/internal/config"
	"arena-backend/internal/domain"
	"arena-backend/internal/match"
	"arena-backend/internal/metrics"
	"arena-backend/internal/protocol"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

var (
	ErrAdmission      = eris.New("admission rejected")
	ErrAlreadyQueued  = eris.Wrap(ErrAdmission, "player is already queued")
	ErrAlreadyInMatch = eris.Wrap(ErrAdmission, "player is already in a match")
)

// latencyWeight is the EWMA weight given to each newly observed pairing wait.
const latencyWeight = 0.2

// Sessions is the part of the session registry the matchmaker needs.
type Sessions interface {
	Start(p1, p2 domain.Player) (*match.Session, error)
	ActiveFor(playerID string) bool
}

type entry struct {
	player     domain.Player
	enqueuedAt time.Time
	seq        uint64
}

type Matchmaker struct {
	tuning   config.Matchmaking
	sessions Sessions
	sender   protocol.Sender
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	// mu serializes every pool mutation and each whole pairing pass
	mu         sync.Mutex
	pool       map[string]*entry
	seq        uint64
	avgLatency time.Duration
	observed   bool

	nudge chan struct{}
}

func New(
	cfg *config.Config,
	sessions Sessions,
	sender protocol.Sender,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Matchmaker {
	return &Matchmaker{
		tuning:     cfg.Tuning.Matchmaking,
		sessions:   sessions,
		sender:     sender,
		metrics:    m,
		logger:     logger.With().Str("component", "matchmaker").Logger(),
		now:        time.Now,
		pool:       make(map[string]*entry),
		avgLatency: cfg.Tuning.Matchmaking.DefaultPairingLatency,
		nudge:      make(chan struct{}, 1),
	}
}

// Enqueue admits a player to the pool. Pairing happens asynchronously.
func (m *Matchmaker) Enqueue(player domain.Player) error {
	m.mu.Lock()
	if _, ok := m.pool[player.ID]; ok {
		m.mu.Unlock()
		return ErrAlreadyQueued
	}
	if m.sessions.ActiveFor(player.ID) {
		m.mu.Unlock()
		return ErrAlreadyInMatch
	}
	m.seq++
	m.pool[player.ID] = &entry{player: player, enqueuedAt: m.now(), seq: m.seq}
	position := len(m.pool)
	estimate := m.estimate(position)
	m.metrics.QueueSize.Set(float64(len(m.pool)))
	m.mu.Unlock()

	m.logger.Debug().Str("player_id", player.ID).Int("rating", player.Rating).Msg("player queued")
	m.sender.Send(player.ID, protocol.QueueStatus{Position: position, EstimatedWaitSeconds: estimate})

	select {
	case m.nudge <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue removes a player from the pool. Unknown players are ignored.
func (m *Matchmaker) Dequeue(playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pool[playerID]; !ok {
		return false
	}
	delete(m.pool, playerID)
	m.metrics.QueueSize.Set(float64(len(m.pool)))
	m.logger.Debug().Str("player_id", playerID).Msg("player left queue")
	return true
}

func (m *Matchmaker) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pool)
}

// Position is the 1-based place of a player in enqueue order.
func (m *Matchmaker) Position(playerID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.ordered() {
		if e.player.ID == playerID {
			return i + 1, true
		}
	}
	return 0, false
}

// Run pairs on every enqueue and on a fixed cadence, and publishes queue status,
// until ctx is cancelled.
func (m *Matchmaker) Run(ctx context.Context) {
	pairTicker := time.NewTicker(m.tuning.PairingInterval)
	defer pairTicker.Stop()
	statusTicker := time.NewTicker(m.tuning.StatusInterval)
	defer statusTicker.Stop()

	m.logger.Info().Msg("matchmaker started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("matchmaker stopped")
			return
		case <-m.nudge:
			m.pair(m.now())
		case <-pairTicker.C:
			m.pair(m.now())
		case <-statusTicker.C:
			m.publishStatus()
		}
	}
}

// pair runs one pairing pass, repeatedly taking the best acceptable pair until none
// is left. It returns the number of sessions started.
func (m *Matchmaker) pair(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	started := 0
	for {
		a, b, ok := m.bestPair(now)
		if !ok {
			break
		}
		delete(m.pool, a.player.ID)
		delete(m.pool, b.player.ID)

		s, err := m.sessions.Start(a.player, b.player)
		if err != nil {
			m.logger.Error().Err(err).
				Str("player1", a.player.ID).
				Str("player2", b.player.ID).
				Msg("failed to start match session")
			for _, e := range []*entry{a, b} {
				m.sender.Send(e.player.ID, protocol.Error{Message: "could not start match, please queue again"})
			}
			if errors.Is(err, match.ErrRegistryClosed) {
				break
			}
			continue
		}

		m.observe(now.Sub(a.enqueuedAt))
		m.observe(now.Sub(b.enqueuedAt))
		m.metrics.Pairings.Inc()
		started++

		m.logger.Info().
			Str("match_id", s.ID()).
			Str("player1", a.player.ID).
			Int("rating1", a.player.Rating).
			Str("player2", b.player.ID).
			Int("rating2", b.player.Rating).
			Msg("players paired")
	}
	m.metrics.QueueSize.Set(float64(len(m.pool)))
	return started
}

// bestPair picks the acceptable pair with the smallest rating difference, preferring
// the longer combined wait and then the earlier arrival. The earlier entry comes first.
func (m *Matchmaker) bestPair(now time.Time) (*entry, *entry, bool) {
	entries := m.ordered()

	var bestA, bestB *entry
	bestDiff := math.MaxInt
	var bestWait time.Duration

	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			a, b := entries[i], entries[j]
			diff := abs(a.player.Rating - b.player.Rating)
			if float64(diff) > max(m.window(a, now), m.window(b, now)) {
				continue
			}
			wait := now.Sub(a.enqueuedAt) + now.Sub(b.enqueuedAt)
			if diff < bestDiff || (diff == bestDiff && wait > bestWait) {
				bestA, bestB, bestDiff, bestWait = a, b, diff, wait
			}
		}
	}
	return bestA, bestB, bestA != nil
}

// window is the rating difference an entry accepts after waiting since enqueue.
func (m *Matchmaker) window(e *entry, now time.Time) float64 {
	wait := now.Sub(e.enqueuedAt)
	if m.tuning.UnlimitedAfter > 0 && wait >= m.tuning.UnlimitedAfter {
		return math.Inf(1)
	}
	return float64(m.tuning.BaseWindow) + m.tuning.WindowGrowthPerSecond*wait.Seconds()
}

func (m *Matchmaker) observe(wait time.Duration) {
	if !m.observed {
		m.avgLatency = wait
		m.observed = true
		return
	}
	m.avgLatency += time.Duration(latencyWeight * float64(wait-m.avgLatency))
}

func (m *Matchmaker) estimate(position int) float64 {
	return float64(position) * m.avgLatency.Seconds()
}

func (m *Matchmaker) publishStatus() {
	m.mu.Lock()
	entries := m.ordered()
	statuses := make([]protocol.QueueStatus, len(entries))
	for i := range entries {
		statuses[i] = protocol.QueueStatus{Position: i + 1, EstimatedWaitSeconds: m.estimate(i + 1)}
	}
	m.mu.Unlock()

	for i, e := range entries {
		m.sender.Send(e.player.ID, statuses[i])
	}
}

func (m *Matchmaker) ordered() []*entry {
	entries := make([]*entry, 0, len(m.pool))
	for _, e := range m.pool {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
