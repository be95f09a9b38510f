package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"arena-backend/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

type RatingHistoryRepository struct {
	q      querier
	db     *sql.DB
	logger zerolog.Logger
}

func NewRatingHistoryRepository(sqlDB *sql.DB, logger zerolog.Logger) *RatingHistoryRepository {
	return &RatingHistoryRepository{
		q:      sqlDB,
		db:     sqlDB,
		logger: logger,
	}
}

func (r *RatingHistoryRepository) WithTx(tx *sql.Tx) *RatingHistoryRepository {
	return &RatingHistoryRepository{q: tx, db: r.db, logger: r.logger}
}

func (r *RatingHistoryRepository) InsertBatch(ctx context.Context, records []domain.RatingHistory) error {
	for _, record := range records {
		id := record.ID
		if id == "" {
			var err error
			id, err = gonanoid.New()
			if err != nil {
				return fmt.Errorf("failed to generate nanoid: %w", err)
			}
		}
		createdAt := record.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		_, err := r.q.ExecContext(ctx, `
			INSERT INTO rating_history (id, match_id, player_id, rating_before, rating_after, rating_change, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, record.MatchID, record.PlayerID, record.RatingBefore, record.RatingAfter, record.Change, createdAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert rating history: %w", err)
		}
	}
	return nil
}

func (r *RatingHistoryRepository) GetByPlayer(ctx context.Context, playerID string, limit int) ([]domain.RatingHistory, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, match_id, player_id, rating_before, rating_after, rating_change, created_at
		FROM rating_history
		WHERE player_id = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		playerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rating history: %w", err)
	}
	defer rows.Close()

	var result []domain.RatingHistory
	for rows.Next() {
		var h domain.RatingHistory
		if err := rows.Scan(&h.ID, &h.MatchID, &h.PlayerID, &h.RatingBefore, &h.RatingAfter, &h.Change, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rating history: %w", err)
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rating history: %w", err)
	}
	return result, nil
}
