package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"arena-backend/internal/constants"
	"arena-backend/internal/domain"

	"github.com/rs/zerolog"
)

type PlayerRepository struct {
	q      querier
	db     *sql.DB
	logger zerolog.Logger
}

func NewPlayerRepository(sqlDB *sql.DB, logger zerolog.Logger) *PlayerRepository {
	return &PlayerRepository{
		q:      sqlDB,
		db:     sqlDB,
		logger: logger,
	}
}

// WithTx returns a copy of the repository bound to tx.
func (r *PlayerRepository) WithTx(tx *sql.Tx) *PlayerRepository {
	return &PlayerRepository{q: tx, db: r.db, logger: r.logger}
}

const playerColumns = `id, username, rating, wins, losses, last_match_id, last_rating_change, created_at, updated_at`

func scanPlayer(row rowScanner) (*domain.PlayerRating, error) {
	var p domain.PlayerRating
	err := row.Scan(
		&p.PlayerID,
		&p.Username,
		&p.Rating,
		&p.Wins,
		&p.Losses,
		&p.LastMatchID,
		&p.LastRatingChange,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PlayerRepository) Get(ctx context.Context, playerID string) (*domain.PlayerRating, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE id = ?`, playerID)
	player, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player %s: %w", playerID, err)
	}
	return player, nil
}

// Ensure creates the rating row on first sight of a player and keeps the username current.
func (r *PlayerRepository) Ensure(ctx context.Context, playerID, username string) (*domain.PlayerRating, error) {
	now := time.Now().UTC()
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO players (id, username, rating, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET username = excluded.username, updated_at = excluded.updated_at
		WHERE players.username <> excluded.username`,
		playerID, username, constants.DefaultRating, now, now,
	)
	if err != nil {
		r.logger.Error().Err(err).Str("player_id", playerID).Msg("failed to ensure player")
		return nil, fmt.Errorf("failed to ensure player %s: %w", playerID, err)
	}
	return r.Get(ctx, playerID)
}

// UpdateRating persists the post-match rating fields of a player row.
func (r *PlayerRepository) UpdateRating(ctx context.Context, p *domain.PlayerRating) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE players
		SET rating = ?, wins = ?, losses = ?, last_match_id = ?, last_rating_change = ?, updated_at = ?
		WHERE id = ?`,
		p.Rating, p.Wins, p.Losses, p.LastMatchID, p.LastRatingChange, time.Now().UTC(), p.PlayerID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rating for %s: %w", p.PlayerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, p.PlayerID)
	}
	return nil
}

// Top returns a page of the global ordering (rating desc, wins desc). Ranks are
// 1-based and continue from offset.
func (r *PlayerRepository) Top(ctx context.Context, offset, limit int) ([]domain.LeaderboardEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, username, rating, wins, losses
		FROM players
		ORDER BY rating DESC, wins DESC, id ASC
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.LeaderboardEntry, 0, limit)
	for rows.Next() {
		e := domain.LeaderboardEntry{Rank: offset + len(entries) + 1}
		if err := rows.Scan(&e.PlayerID, &e.Username, &e.Rating, &e.Wins, &e.Losses); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate leaderboard: %w", err)
	}
	return entries, nil
}

// Rank is the number of players with a strictly greater rating, plus one.
func (r *PlayerRepository) Rank(ctx context.Context, playerID string) (int, *domain.PlayerRating, error) {
	player, err := r.Get(ctx, playerID)
	if err != nil {
		return 0, nil, err
	}

	var above int
	err = r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM players WHERE rating > ?`, player.Rating).Scan(&above)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to count players above %s: %w", playerID, err)
	}

	r.logger.Debug().
		Str("player_id", playerID).
		Int("rating", player.Rating).
		Int("rank", above+1).
		Msg("computed player rank")

	return above + 1, player, nil
}
