// Package match runs live 1v1 matches: the ready-up handshake, the fixed-rate
// simulation and the single result handoff when a match ends.
package match

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"arena-backend/internal/config"
	"arena-backend/internal/constants"
	"arena-backend/internal/domain"
	"arena-backend/internal/metrics"
	"arena-backend/internal/protocol"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

var (
	ErrNotParticipant = eris.New("player is not part of this match")
	ErrWrongMatch     = eris.New("match id does not match the player's session")
	ErrNotActive      = eris.New("match is not active")
	ErrSessionClosed  = eris.New("match session is closed")
)

type Status int32

const (
	StatusPending Status = iota
	StatusActive
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	}
	return "unknown"
}

var (
	sides  = [2]string{"left", "right"}
	colors = [2]string{"blue", "red"}
)

// ResultReporter receives the outcome of every match that reached a result.
type ResultReporter interface {
	ReportResult(ctx context.Context, res Result) error
}

// Result is the completed-match handoff. Player ratings are the values seen at
// pairing time.
type Result struct {
	MatchID        string
	Player1        domain.Player
	Player2        domain.Player
	WinnerID       string
	DisconnectedID string
	EndReason      string
	Ticks          uint64
	Player1Damage  int
	Player2Damage  int
	StartedAt      time.Time
	EndedAt        time.Time
}

type controlKind int

const (
	controlReady controlKind = iota
	controlDisconnect
	controlReconnect
)

type control struct {
	kind controlKind
	slot int
}

// Session is the authority for one match. Run is the only goroutine that touches
// slot state; everything else talks to it through the control channel or the input
// buffers.
type Session struct {
	id       string
	players  [2]domain.Player
	slots    [2]*Slot
	tuning   config.Tuning
	maxTicks uint64

	sender   protocol.Sender
	reporter ResultReporter
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	status atomic.Int32
	tick   uint64

	startedAt    time.Time
	endedAt      time.Time
	endReason    string
	winner       int
	disconnected int

	last atomic.Pointer[protocol.GameSnapshot]

	controls   chan control
	stop       chan struct{}
	stopOnce   sync.Once
	closed     chan struct{}
	closeOnce  sync.Once
	reportOnce sync.Once
}

func newSession(
	id string,
	p1, p2 domain.Player,
	tuning config.Tuning,
	sender protocol.Sender,
	reporter ResultReporter,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Session {
	midY := tuning.MapHeight / 2
	s := &Session{
		id:      id,
		players: [2]domain.Player{p1, p2},
		slots: [2]*Slot{
			newSlot(p1.ID, tuning.MapWidth*0.25, midY, 0),
			newSlot(p2.ID, tuning.MapWidth*0.75, midY, math.Pi),
		},
		tuning:       tuning,
		maxTicks:     tuning.Ticks(tuning.MaxMatchDuration),
		sender:       sender,
		reporter:     reporter,
		metrics:      m,
		logger:       logger.With().Str("match_id", id).Logger(),
		now:          time.Now,
		winner:       -1,
		disconnected: -1,
		controls:     make(chan control, 8),
		stop:         make(chan struct{}),
		closed:       make(chan struct{}),
	}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Status() Status { return Status(s.status.Load()) }

func (s *Session) Players() [2]domain.Player { return s.players }

// LastSnapshot returns the most recently broadcast snapshot, if any.
func (s *Session) LastSnapshot() (protocol.GameSnapshot, bool) {
	snap := s.last.Load()
	if snap == nil {
		return protocol.GameSnapshot{}, false
	}
	return *snap, true
}

func (s *Session) slotOf(playerID string) (int, bool) {
	for i, p := range s.players {
		if p.ID == playerID {
			return i, true
		}
	}
	return -1, false
}

// Ready records a player's match:ready.
func (s *Session) Ready(playerID, matchID string) error {
	i, ok := s.slotOf(playerID)
	if !ok {
		return ErrNotParticipant
	}
	if matchID != s.id {
		return ErrWrongMatch
	}
	return s.send(control{kind: controlReady, slot: i})
}

// SubmitInput buffers a sample for the next tick. Samples older than the one already
// buffered are dropped.
func (s *Session) SubmitInput(playerID string, in protocol.GameInput) error {
	i, ok := s.slotOf(playerID)
	if !ok {
		return ErrNotParticipant
	}
	if s.Status() != StatusActive {
		return ErrNotActive
	}
	sample := Input{
		MoveX:           in.MoveX,
		MoveY:           in.MoveY,
		Fire:            in.Fire,
		Ability:         in.Ability,
		ClientTimestamp: in.ClientTimestamp,
	}
	if !sample.valid() || !s.slots[i].input.offer(sample) {
		s.metrics.DroppedInputs.Inc()
	}
	return nil
}

// Disconnect starts the grace window for a player whose connection closed.
func (s *Session) Disconnect(playerID string) error {
	i, ok := s.slotOf(playerID)
	if !ok {
		return ErrNotParticipant
	}
	return s.send(control{kind: controlDisconnect, slot: i})
}

// Reconnect cancels a running grace window.
func (s *Session) Reconnect(playerID string) error {
	i, ok := s.slotOf(playerID)
	if !ok {
		return ErrNotParticipant
	}
	return s.send(control{kind: controlReconnect, slot: i})
}

// Stop ends the session as if the server were shutting down.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Session) send(c control) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	select {
	case s.controls <- c:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	}
}

// Run drives the session from ready-up to its result and returns when the session is
// over. Cancelling ctx behaves like Stop.
func (s *Session) Run(ctx context.Context) {
	defer s.close()

	s.startedAt = s.now()
	s.announce()

	if !s.awaitReady(ctx) {
		return
	}
	s.activate()

	period := s.tuning.TickPeriod()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for s.Status() == StatusActive {
		select {
		case <-ctx.Done():
			s.forceEnd()
		case <-s.stop:
			s.forceEnd()
		case c := <-s.controls:
			s.handle(c)
		case <-ticker.C:
			s.advance(period)
		}
	}

	s.finish(ctx)
}

// advance runs one tick. The tick that ends the match is published by finish, not here.
func (s *Session) advance(budget time.Duration) {
	start := s.now()
	s.step()
	if s.Status() == StatusActive {
		s.broadcast(s.snapshot())
	}

	elapsed := s.now().Sub(start)
	s.metrics.ObserveTick(elapsed)
	if elapsed > budget {
		s.metrics.TickOverruns.Inc()
		s.logger.Warn().
			Uint64("tick", s.tick).
			Dur("duration", elapsed).
			Dur("budget", budget).
			Msg("tick budget overrun")
	}
}

func (s *Session) announce() {
	for i, p := range s.players {
		opp := s.players[1-i]
		s.sender.Send(p.ID, protocol.MatchFound{
			MatchID:  s.id,
			Opponent: protocol.Opponent{ID: opp.ID, Username: opp.Username, Rating: opp.Rating},
		})
	}
}

// awaitReady blocks until both players are ready. It reports false when the match was
// cancelled instead.
func (s *Session) awaitReady(ctx context.Context) bool {
	timer := time.NewTimer(s.tuning.ReadyTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.cancel("server is shutting down")
			return false
		case <-s.stop:
			s.cancel("match was stopped")
			return false
		case <-timer.C:
			s.cancel("ready-up timed out")
			return false
		case c := <-s.controls:
			switch c.kind {
			case controlReady:
				s.slots[c.slot].Ready = true
				if s.slots[0].Ready && s.slots[1].Ready {
					return true
				}
			case controlDisconnect:
				s.slots[c.slot].Connected = false
				s.cancel("opponent disconnected before the match started")
				return false
			case controlReconnect:
				s.slots[c.slot].Connected = true
			}
		}
	}
}

func (s *Session) activate() {
	s.status.Store(int32(StatusActive))
	for i, p := range s.players {
		s.sender.Send(p.ID, protocol.MatchStart{MatchID: s.id, Side: sides[i], Color: colors[i]})
	}
	s.broadcast(s.snapshot())
	s.logger.Info().
		Str("player1", s.players[0].ID).
		Str("player2", s.players[1].ID).
		Msg("match started")
}

func (s *Session) handle(c control) {
	sl := s.slots[c.slot]
	switch c.kind {
	case controlDisconnect:
		if !sl.Connected {
			return
		}
		sl.Connected = false
		sl.graceDeadline = s.tick + s.tuning.Ticks(s.tuning.DisconnectGrace)
		// an absent player stands still until a new sample arrives after reconnect
		sl.current = Input{}
		sl.consumed = sl.input.load()
		sl.input.reset()
		s.logger.Info().Str("player_id", sl.PlayerID).Uint64("tick", s.tick).Msg("player disconnected, grace started")
	case controlReconnect:
		wasGone := !sl.Connected
		sl.Connected = true
		sl.graceDeadline = 0
		s.sender.Send(sl.PlayerID, protocol.MatchStart{MatchID: s.id, Side: sides[c.slot], Color: colors[c.slot]})
		if snap, ok := s.LastSnapshot(); ok {
			s.sender.Send(sl.PlayerID, snap)
		}
		if wasGone {
			s.logger.Info().Str("player_id", sl.PlayerID).Uint64("tick", s.tick).Msg("player reconnected")
		}
	}
}

// complete records the terminal transition. Indices are slot numbers, -1 for none.
func (s *Session) complete(reason string, winner, disconnected int) {
	if s.Status() == StatusCompleted {
		return
	}
	s.endReason = reason
	s.winner = winner
	s.disconnected = disconnected
	s.endedAt = s.now()
	s.status.Store(int32(StatusCompleted))
}

// forceEnd completes an active match during shutdown. A lone disconnected player
// forfeits; otherwise nobody wins and the match is rated as a draw.
func (s *Session) forceEnd() {
	gone1, gone2 := !s.slots[0].Connected, !s.slots[1].Connected
	switch {
	case gone1 && !gone2:
		s.complete(domain.EndReasonDisconnection, 1, 0)
	case gone2 && !gone1:
		s.complete(domain.EndReasonDisconnection, 0, 1)
	default:
		s.complete(domain.EndReasonDisconnection, -1, -1)
	}
}

func (s *Session) cancel(reason string) {
	s.complete(domain.EndReasonCancelled, -1, -1)
	s.close()
	for _, p := range s.players {
		s.sender.Send(p.ID, protocol.Error{Message: "match cancelled: " + reason})
	}
	s.metrics.MatchesCompleted.WithLabelValues(domain.EndReasonCancelled).Inc()
	s.logger.Info().Str("reason", reason).Msg("match cancelled")
}

// finish publishes the final state and hands the result off exactly once.
func (s *Session) finish(ctx context.Context) {
	s.close()

	final := s.snapshot()
	s.broadcast(final)
	end := protocol.GameEnd{
		MatchID:    s.id,
		Winner:     final.Winner,
		EndReason:  s.endReason,
		FinalState: final,
	}
	for _, p := range s.players {
		s.sender.Send(p.ID, end)
	}

	s.metrics.MatchesCompleted.WithLabelValues(s.endReason).Inc()
	s.logger.Info().
		Str("end_reason", s.endReason).
		Str("winner", s.idAt(s.winner)).
		Uint64("ticks", s.tick).
		Msg("match completed")

	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ReportTimeout)
	defer cancel()
	s.report(reportCtx)
}

func (s *Session) report(ctx context.Context) {
	s.reportOnce.Do(func() {
		if err := s.reporter.ReportResult(ctx, s.result()); err != nil {
			s.logger.Error().Err(err).Msg("failed to report match result")
		}
	})
}

func (s *Session) result() Result {
	return Result{
		MatchID:        s.id,
		Player1:        s.players[0],
		Player2:        s.players[1],
		WinnerID:       s.idAt(s.winner),
		DisconnectedID: s.idAt(s.disconnected),
		EndReason:      s.endReason,
		Ticks:          s.tick,
		Player1Damage:  s.slots[0].DamageDealt,
		Player2Damage:  s.slots[1].DamageDealt,
		StartedAt:      s.startedAt,
		EndedAt:        s.endedAt,
	}
}

func (s *Session) idAt(i int) string {
	if i < 0 {
		return ""
	}
	return s.players[i].ID
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *Session) snapshot() protocol.GameSnapshot {
	snap := protocol.GameSnapshot{
		MatchID:         s.id,
		Tick:            s.tick,
		ServerTimestamp: s.now().UnixMilli(),
		Player1:         s.slots[0].view(),
		Player2:         s.slots[1].view(),
		Status:          s.Status().String(),
	}
	if s.Status() == StatusCompleted && s.winner >= 0 {
		w := s.players[s.winner].ID
		snap.Winner = &w
	}
	return snap
}

// broadcast never blocks; a slow or absent connection simply misses the frame.
func (s *Session) broadcast(snap protocol.GameSnapshot) {
	s.last.Store(&snap)
	for _, p := range s.players {
		s.sender.Send(p.ID, snap)
	}
}
