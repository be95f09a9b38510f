package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"arena-backend/internal/domain"

	"github.com/rs/zerolog"
)

type MatchRepository struct {
	q      querier
	db     *sql.DB
	logger zerolog.Logger
}

func NewMatchRepository(sqlDB *sql.DB, logger zerolog.Logger) *MatchRepository {
	return &MatchRepository{
		q:      sqlDB,
		db:     sqlDB,
		logger: logger,
	}
}

func (r *MatchRepository) WithTx(tx *sql.Tx) *MatchRepository {
	return &MatchRepository{q: tx, db: r.db, logger: r.logger}
}

const matchColumns = `id, player1_id, player2_id, winner_id, disconnected_id, end_reason, status,
	player1_rating_before, player2_rating_before, player1_rating_after, player2_rating_after,
	player1_damage, player2_damage, ticks, started_at, ended_at, created_at, updated_at`

func scanMatch(row rowScanner) (*domain.MatchRecord, error) {
	var m domain.MatchRecord
	var ticks int64
	err := row.Scan(
		&m.MatchID,
		&m.Player1ID,
		&m.Player2ID,
		&m.WinnerID,
		&m.DisconnectedID,
		&m.EndReason,
		&m.Status,
		&m.Player1RatingBefore,
		&m.Player2RatingBefore,
		&m.Player1RatingAfter,
		&m.Player2RatingAfter,
		&m.Player1Damage,
		&m.Player2Damage,
		&ticks,
		&m.StartedAt,
		&m.EndedAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Ticks = uint64(ticks)
	return &m, nil
}

// InsertCompleted stores a freshly completed match as unrated. It reports false when
// a row with the same id already exists, leaving that row untouched.
func (r *MatchRepository) InsertCompleted(ctx context.Context, m *domain.MatchRecord) (bool, error) {
	now := time.Now().UTC()
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO matches (
			id, player1_id, player2_id, winner_id, disconnected_id, end_reason, status,
			player1_rating_before, player2_rating_before, player1_damage, player2_damage,
			ticks, started_at, ended_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		m.MatchID, m.Player1ID, m.Player2ID, m.WinnerID, m.DisconnectedID, m.EndReason, domain.MatchStatusCompleted,
		m.Player1RatingBefore, m.Player2RatingBefore, m.Player1Damage, m.Player2Damage,
		int64(m.Ticks), m.StartedAt.UTC(), m.EndedAt.UTC(), now, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert match %s: %w", m.MatchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *MatchRepository) Get(ctx context.Context, matchID string) (*domain.MatchRecord, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, matchID)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match %s: %w", matchID, err)
	}
	return m, nil
}

// MarkRated records the applied ratings. Only a row still in the completed state is
// updated, so a second caller observes false.
func (r *MatchRepository) MarkRated(ctx context.Context, m *domain.MatchRecord) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE matches
		SET status = ?, player1_rating_before = ?, player2_rating_before = ?,
			player1_rating_after = ?, player2_rating_after = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.MatchStatusRated, m.Player1RatingBefore, m.Player2RatingBefore,
		m.Player1RatingAfter, m.Player2RatingAfter, time.Now().UTC(),
		m.MatchID, domain.MatchStatusCompleted,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark match %s rated: %w", m.MatchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// ListUnrated returns completed matches whose ratings were never applied, oldest first.
func (r *MatchRepository) ListUnrated(ctx context.Context, limit int) ([]domain.MatchRecord, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE status = ? ORDER BY ended_at ASC LIMIT ?`,
		domain.MatchStatusCompleted, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unrated matches: %w", err)
	}
	defer rows.Close()

	var result []domain.MatchRecord
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		result = append(result, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate matches: %w", err)
	}
	return result, nil
}
