package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"arena-backend/internal/domain"
	"arena-backend/internal/match"
	"arena-backend/internal/metrics"
	"arena-backend/internal/rating"
	"arena-backend/internal/repository"

	"github.com/rs/zerolog"
)

var (
	ErrAlreadyRated = errors.New("match already rated")
	ErrStore        = errors.New("rating store failure")
)

// reconcileBatch bounds how many unrated matches one reconciliation pass handles.
const reconcileBatch = 100

// Refresher is told when ratings changed so ranked views can be rebuilt.
type Refresher interface {
	Refresh(ctx context.Context)
}

// ResultService persists completed matches and applies their rating changes.
type ResultService struct {
	db          *sql.DB
	players     *repository.PlayerRepository
	matches     *repository.MatchRepository
	history     *repository.RatingHistoryRepository
	leaderboard Refresher
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

func NewResultService(
	db *sql.DB,
	players *repository.PlayerRepository,
	matches *repository.MatchRepository,
	history *repository.RatingHistoryRepository,
	leaderboard Refresher,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *ResultService {
	return &ResultService{
		db:          db,
		players:     players,
		matches:     matches,
		history:     history,
		leaderboard: leaderboard,
		metrics:     m,
		logger:      logger.With().Str("component", "results").Logger(),
	}
}

// ReportResult records a finished match and rates it. A second report of the same
// match changes nothing and returns ErrAlreadyRated.
func (s *ResultService) ReportResult(ctx context.Context, res match.Result) error {
	if res.EndReason == domain.EndReasonCancelled {
		return nil
	}

	rec := &domain.MatchRecord{
		MatchID:             res.MatchID,
		Player1ID:           res.Player1.ID,
		Player2ID:           res.Player2.ID,
		WinnerID:            res.WinnerID,
		DisconnectedID:      res.DisconnectedID,
		EndReason:           res.EndReason,
		Player1RatingBefore: res.Player1.Rating,
		Player2RatingBefore: res.Player2.Rating,
		Player1Damage:       res.Player1Damage,
		Player2Damage:       res.Player2Damage,
		Ticks:               res.Ticks,
		StartedAt:           res.StartedAt,
		EndedAt:             res.EndedAt,
	}

	inserted, err := s.matches.InsertCompleted(ctx, rec)
	if err != nil {
		s.storeFailed(err, res.MatchID)
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !inserted {
		s.logger.Debug().Str("match_id", res.MatchID).Msg("match already recorded")
	}

	if err := s.applyRatings(ctx, res.MatchID); err != nil {
		if errors.Is(err, ErrAlreadyRated) {
			s.logger.Info().Str("match_id", res.MatchID).Msg("duplicate result report ignored")
			return err
		}
		s.storeFailed(err, res.MatchID)
		return fmt.Errorf("%w: %w", ErrStore, err)
	}

	s.leaderboard.Refresh(ctx)
	return nil
}

// Reconcile rates completed matches a previous store failure left unrated.
func (s *ResultService) Reconcile(ctx context.Context) (int, error) {
	pending, err := s.matches.ListUnrated(ctx, reconcileBatch)
	if err != nil {
		return 0, err
	}

	rated := 0
	for _, m := range pending {
		err := s.applyRatings(ctx, m.MatchID)
		switch {
		case err == nil:
			rated++
		case errors.Is(err, ErrAlreadyRated):
		default:
			s.storeFailed(err, m.MatchID)
		}
	}

	if rated > 0 {
		s.logger.Info().Int("rated", rated).Int("pending", len(pending)).Msg("reconciled unrated matches")
		s.leaderboard.Refresh(ctx)
	}
	return rated, nil
}

// applyRatings updates both players, their history and the match row in a single
// transaction. The immediate-lock DSN serializes concurrent writers on the same rows.
func (s *ResultService) applyRatings(ctx context.Context, matchID string) error {
	return repository.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		matches := s.matches.WithTx(tx)
		players := s.players.WithTx(tx)
		history := s.history.WithTx(tx)

		m, err := matches.Get(ctx, matchID)
		if err != nil {
			return err
		}
		if m.Status == domain.MatchStatusRated {
			return ErrAlreadyRated
		}

		p1, err := players.Get(ctx, m.Player1ID)
		if err != nil {
			return err
		}
		p2, err := players.Get(ctx, m.Player2ID)
		if err != nil {
			return err
		}

		outcome := rating.Outcome{
			Player1:      p1.Rating,
			Player2:      p2.Rating,
			Disconnected: m.DisconnectedID != "",
		}
		switch m.WinnerID {
		case m.Player1ID:
			outcome.Winner = rating.Player1Won
		case m.Player2ID:
			outcome.Winner = rating.Player2Won
		}
		d1, d2 := rating.ForOutcome(outcome)

		m.Player1RatingBefore, m.Player2RatingBefore = p1.Rating, p2.Rating
		m.Player1RatingAfter = apply(p1, d1, matchID, outcome.Winner, rating.Player1Won)
		m.Player2RatingAfter = apply(p2, d2, matchID, outcome.Winner, rating.Player2Won)

		if err := players.UpdateRating(ctx, p1); err != nil {
			return err
		}
		if err := players.UpdateRating(ctx, p2); err != nil {
			return err
		}

		err = history.InsertBatch(ctx, []domain.RatingHistory{
			{MatchID: matchID, PlayerID: p1.PlayerID, RatingBefore: m.Player1RatingBefore, RatingAfter: m.Player1RatingAfter, Change: p1.LastRatingChange},
			{MatchID: matchID, PlayerID: p2.PlayerID, RatingBefore: m.Player2RatingBefore, RatingAfter: m.Player2RatingAfter, Change: p2.LastRatingChange},
		})
		if err != nil {
			return err
		}

		ok, err := matches.MarkRated(ctx, m)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyRated
		}

		s.logger.Info().
			Str("match_id", matchID).
			Str("end_reason", m.EndReason).
			Str("player1", p1.PlayerID).
			Int("player1_change", p1.LastRatingChange).
			Str("player2", p2.PlayerID).
			Int("player2_change", p2.LastRatingChange).
			Msg("ratings applied")
		return nil
	})
}

// apply moves one player's row to its post-match state and returns the new rating.
// The recorded change is the clamped one actually applied.
func apply(p *domain.PlayerRating, delta int, matchID string, winner, side rating.Winner) int {
	before := p.Rating
	p.Rating = rating.ApplyChange(before, delta)
	p.LastRatingChange = p.Rating - before
	p.LastMatchID = matchID
	switch winner {
	case rating.NoWinner:
	case side:
		p.Wins++
	default:
		p.Losses++
	}
	return p.Rating
}

func (s *ResultService) storeFailed(err error, matchID string) {
	s.metrics.RatingStoreErrors.Inc()
	s.logger.Error().Err(err).Str("match_id", matchID).Msg("match left unrated, reconciliation required")
}
