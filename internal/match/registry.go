package match

import (
	"context"
	"sync"
	"time"

	"arena-backend/internal/config"
	"arena-backend/internal/domain"
	"arena-backend/internal/metrics"
	"arena-backend/internal/protocol"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrPlayerBusy     = eris.New("player already has an active match")
	ErrRegistryClosed = eris.New("session registry is shut down")
)

// Registry creates sessions and indexes them by match and by player. A player is
// bound to at most one session from pairing until that session has reported.
type Registry struct {
	tuning   config.Tuning
	sender   protocol.Sender
	reporter ResultReporter
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu       sync.RWMutex
	byID     map[string]*Session
	byPlayer map[string]*Session
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
}

func NewRegistry(
	cfg *config.Config,
	sender protocol.Sender,
	reporter ResultReporter,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		tuning:   cfg.Tuning,
		sender:   sender,
		reporter: reporter,
		metrics:  m,
		logger:   logger.With().Str("component", "sessions").Logger(),
		byID:     make(map[string]*Session),
		byPlayer: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start creates a Pending session for two players and starts running it.
func (r *Registry) Start(p1, p2 domain.Player) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if _, busy := r.byPlayer[p1.ID]; busy {
		return nil, eris.Wrapf(ErrPlayerBusy, "player %s", p1.ID)
	}
	if _, busy := r.byPlayer[p2.ID]; busy {
		return nil, eris.Wrapf(ErrPlayerBusy, "player %s", p2.ID)
	}

	s := newSession(uuid.New().String(), p1, p2, r.tuning, r.sender, r.reporter, r.metrics, r.logger)
	r.byID[s.id] = s
	r.byPlayer[p1.ID] = s
	r.byPlayer[p2.ID] = s
	r.metrics.ActiveSessions.Inc()

	r.group.Go(func() error {
		s.Run(r.ctx)
		r.release(s)
		return nil
	})
	return s, nil
}

// release frees both players immediately and keeps the session addressable by id for
// the final-snapshot grace.
func (r *Registry) release(s *Session) {
	r.mu.Lock()
	for _, p := range s.players {
		if r.byPlayer[p.ID] == s {
			delete(r.byPlayer, p.ID)
		}
	}
	r.mu.Unlock()
	r.metrics.ActiveSessions.Dec()

	time.AfterFunc(r.tuning.FinalSnapshotGrace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.byID[s.id] == s {
			delete(r.byID, s.id)
		}
	})
}

// ForPlayer returns the session a player is bound to.
func (r *Registry) ForPlayer(playerID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byPlayer[playerID]
	return s, ok
}

func (r *Registry) ActiveFor(playerID string) bool {
	_, ok := r.ForPlayer(playerID)
	return ok
}

func (r *Registry) Get(matchID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[matchID]
	return s, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPlayer) / 2
}

// Shutdown refuses new sessions, ends every running one and waits for their results
// to be reported or for ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	waited := make(chan error, 1)
	go func() { waited <- r.group.Wait() }()

	select {
	case err := <-waited:
		r.logger.Info().Msg("all sessions stopped")
		return err
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "sessions did not stop before the deadline")
	}
}
