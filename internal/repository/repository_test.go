package repository

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"arena-backend/internal/config"
	"arena-backend/internal/constants"
	"arena-backend/internal/database"
	"arena-backend/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.New(&config.Config{DBPath: filepath.Join(t.TempDir(), "arena.db")}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedPlayer(t *testing.T, repo *PlayerRepository, id string, rating, wins, losses int) {
	t.Helper()
	ctx := context.Background()
	p, err := repo.Ensure(ctx, id, "user-"+id)
	require.NoError(t, err)
	p.Rating = rating
	p.Wins = wins
	p.Losses = losses
	require.NoError(t, repo.UpdateRating(ctx, p))
}

func TestPlayerRepository_EnsureCreatesDefaultRow(t *testing.T) {
	repo := NewPlayerRepository(newTestDB(t), zerolog.Nop())
	ctx := context.Background()

	p, err := repo.Ensure(ctx, "p1", "alice")
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultRating, p.Rating)
	assert.Equal(t, "alice", p.Username)
	assert.Zero(t, p.Wins)

	p.Rating = 1400
	require.NoError(t, repo.UpdateRating(ctx, p))

	// a second Ensure never resets the rating but follows username changes
	again, err := repo.Ensure(ctx, "p1", "alice2")
	require.NoError(t, err)
	assert.Equal(t, 1400, again.Rating)
	assert.Equal(t, "alice2", again.Username)
}

func TestPlayerRepository_GetMissing(t *testing.T) {
	repo := NewPlayerRepository(newTestDB(t), zerolog.Nop())
	_, err := repo.Get(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestPlayerRepository_TopOrdering(t *testing.T) {
	repo := NewPlayerRepository(newTestDB(t), zerolog.Nop())
	seedPlayer(t, repo, "a", 1500, 10, 5)
	seedPlayer(t, repo, "b", 1600, 1, 1)
	seedPlayer(t, repo, "c", 1500, 20, 0)
	seedPlayer(t, repo, "d", 900, 0, 9)

	entries, err := repo.Top(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.PlayerID
		assert.Equal(t, i+1, e.Rank)
	}
	assert.Equal(t, []string{"b", "c", "a", "d"}, ids)

	page2, err := repo.Top(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, 3, page2[0].Rank)
	assert.Equal(t, "a", page2[0].PlayerID)
}

func TestPlayerRepository_Rank(t *testing.T) {
	repo := NewPlayerRepository(newTestDB(t), zerolog.Nop())
	seedPlayer(t, repo, "a", 1500, 0, 0)
	seedPlayer(t, repo, "b", 1700, 0, 0)
	seedPlayer(t, repo, "c", 1500, 3, 0)
	seedPlayer(t, repo, "d", 1200, 0, 0)

	ctx := context.Background()
	for id, want := range map[string]int{"b": 1, "a": 2, "c": 2, "d": 4} {
		rank, p, err := repo.Rank(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, rank, id)
		assert.Equal(t, id, p.PlayerID)
	}

	_, _, err := repo.Rank(ctx, "ghost")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func testMatch(id string) *domain.MatchRecord {
	now := time.Now().UTC()
	return &domain.MatchRecord{
		MatchID:             id,
		Player1ID:           "a",
		Player2ID:           "b",
		WinnerID:            "b",
		EndReason:           "normal",
		Player1RatingBefore: 1500,
		Player2RatingBefore: 1500,
		Ticks:               240,
		StartedAt:           now.Add(-12 * time.Second),
		EndedAt:             now,
	}
}

func TestMatchRepository_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	players := NewPlayerRepository(db, zerolog.Nop())
	seedPlayer(t, players, "a", 1500, 0, 0)
	seedPlayer(t, players, "b", 1500, 0, 0)

	repo := NewMatchRepository(db, zerolog.Nop())
	ctx := context.Background()

	inserted, err := repo.InsertCompleted(ctx, testMatch("m1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertCompleted(ctx, testMatch("m1"))
	require.NoError(t, err)
	assert.False(t, inserted)

	unrated, err := repo.ListUnrated(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unrated, 1)
	assert.Equal(t, uint64(240), unrated[0].Ticks)

	m := unrated[0]
	m.Player1RatingAfter = 1484
	m.Player2RatingAfter = 1516
	ok, err := repo.MarkRated(ctx, &m)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkRated(ctx, &m)
	require.NoError(t, err)
	assert.False(t, ok, "second mark must not match a rated row")

	got, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusRated, got.Status)
	assert.Equal(t, 1516, got.Player2RatingAfter)

	unrated, err = repo.ListUnrated(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unrated)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestRatingHistoryRepository(t *testing.T) {
	db := newTestDB(t)
	players := NewPlayerRepository(db, zerolog.Nop())
	seedPlayer(t, players, "a", 1500, 0, 0)
	seedPlayer(t, players, "b", 1500, 0, 0)
	matches := NewMatchRepository(db, zerolog.Nop())
	repo := NewRatingHistoryRepository(db, zerolog.Nop())
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("m%d", i)
		_, err := matches.InsertCompleted(ctx, testMatch(id))
		require.NoError(t, err)
		require.NoError(t, repo.InsertBatch(ctx, []domain.RatingHistory{
			{MatchID: id, PlayerID: "a", RatingBefore: 1500, RatingAfter: 1500 + i, Change: i, CreatedAt: base.Add(time.Duration(i) * time.Second)},
		}))
	}

	history, err := repo.GetByPlayer(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "m2", history[0].MatchID)
	assert.NotEmpty(t, history[0].ID)
	assert.Equal(t, 2, history[0].Change)
}

func TestRunInTx_RollsBack(t *testing.T) {
	db := newTestDB(t)
	players := NewPlayerRepository(db, zerolog.Nop())
	seedPlayer(t, players, "a", 1500, 0, 0)
	ctx := context.Background()

	err := RunInTx(ctx, db, func(tx *sql.Tx) error {
		p, err := players.WithTx(tx).Get(ctx, "a")
		if err != nil {
			return err
		}
		p.Rating = 2000
		if err := players.WithTx(tx).UpdateRating(ctx, p); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)

	p, err := players.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1500, p.Rating)
}
