package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"arena-backend/internal/config"
	"arena-backend/internal/domain"
	"arena-backend/internal/match"
	"arena-backend/internal/metrics"
	"arena-backend/internal/protocol"
	"arena-backend/internal/repository"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeLeaderboard struct {
	entries   []domain.LeaderboardEntry
	gotPage   atomic.Int32
	gotLimit  atomic.Int32
	players   map[string]*domain.PlayerRating
	failReads atomic.Bool
}

func (f *fakeLeaderboard) GetLeaderboard(_ context.Context, page, limit int) ([]domain.LeaderboardEntry, error) {
	f.gotPage.Store(int32(page))
	f.gotLimit.Store(int32(limit))
	if f.failReads.Load() {
		return nil, errors.New("database is locked")
	}
	return f.entries, nil
}

func (f *fakeLeaderboard) GetPlayerRank(_ context.Context, playerID string) (int, *domain.PlayerRating, error) {
	p, ok := f.players[playerID]
	if !ok {
		return 0, nil, repository.ErrPlayerNotFound
	}
	return 3, p, nil
}

type fakeMatches map[string]*domain.MatchRecord

func (f fakeMatches) Get(_ context.Context, matchID string) (*domain.MatchRecord, error) {
	m, ok := f[matchID]
	if !ok {
		return nil, repository.ErrMatchNotFound
	}
	return m, nil
}

type fakeHistory struct {
	records  []domain.RatingHistory
	gotLimit atomic.Int32
}

func (f *fakeHistory) GetByPlayer(_ context.Context, _ string, limit int) ([]domain.RatingHistory, error) {
	f.gotLimit.Store(int32(limit))
	return f.records, nil
}

type nopSender struct{}

func (nopSender) Send(string, protocol.Message) bool { return true }

type nopReporter struct{}

func (nopReporter) ReportResult(context.Context, match.Result) error { return nil }

type fixture struct {
	lb       *fakeLeaderboard
	history  *fakeHistory
	registry *match.Registry
	url      string
	client   *http.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := &fixture{
		lb: &fakeLeaderboard{
			entries: []domain.LeaderboardEntry{
				{Rank: 1, PlayerID: "b", Username: "bob", Rating: 1620, Wins: 3, Losses: 1},
				{Rank: 2, PlayerID: "a", Username: "alice", Rating: 1500, Wins: 0, Losses: 0},
			},
			players: map[string]*domain.PlayerRating{
				"a": {PlayerID: "a", Username: "alice", Rating: 1500, Wins: 1, Losses: 2, LastMatchID: "m1", LastRatingChange: -16},
			},
		},
		history: &fakeHistory{records: []domain.RatingHistory{
			{ID: "h1", MatchID: "m1", PlayerID: "a", RatingBefore: 1516, RatingAfter: 1500, Change: -16, CreatedAt: started},
		}},
	}
	matches := fakeMatches{"m1": {
		MatchID:            "m1",
		Player1ID:          "a",
		Player2ID:          "b",
		WinnerID:           "b",
		EndReason:          domain.EndReasonNormal,
		Status:             domain.MatchStatusRated,
		Player1RatingAfter: 1500,
		Player2RatingAfter: 1620,
		Ticks:              240,
		StartedAt:          started,
		EndedAt:            started.Add(12 * time.Second),
	}}

	f.registry = match.NewRegistry(&config.Config{Tuning: config.DefaultTuning()}, nopSender{}, nopReporter{}, metrics.New(), zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.registry.Shutdown(ctx)
	})

	srv := newArenaServer(f.lb, matches, f.history, f.registry, zerolog.Nop())
	path, handler := srv.Handler()
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	f.url = ts.URL
	f.client = ts.Client()
	return f
}

func (f *fixture) call(t *testing.T, procedure string, fields map[string]any) (*structpb.Struct, error) {
	t.Helper()
	client := connect.NewClient[structpb.Struct, structpb.Struct](f.client, f.url+procedure)
	req, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func TestGetLeaderboard(t *testing.T) {
	f := newFixture(t)

	msg, err := f.call(t, GetLeaderboardProcedure, map[string]any{"page": 0, "limit": 500})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.lb.gotPage.Load())
	assert.Equal(t, int32(100), f.lb.gotLimit.Load())

	out := msg.AsMap()
	entries := out["entries"].([]any)
	require.Len(t, entries, 2)
	first := entries[0].(map[string]any)
	assert.Equal(t, "b", first["playerId"])
	assert.Equal(t, float64(1620), first["rating"])
	assert.Equal(t, "75.0%", first["winRate"])
	assert.Equal(t, "0.0%", entries[1].(map[string]any)["winRate"])
}

func TestGetLeaderboard_InternalError(t *testing.T) {
	f := newFixture(t)
	f.lb.failReads.Store(true)

	_, err := f.call(t, GetLeaderboardProcedure, map[string]any{})
	require.Error(t, err)
	assert.Equal(t, connect.CodeInternal, connect.CodeOf(err))
}

func TestGetPlayerRank(t *testing.T) {
	f := newFixture(t)

	msg, err := f.call(t, GetPlayerRankProcedure, map[string]any{"playerId": "a"})
	require.NoError(t, err)
	out := msg.AsMap()
	assert.Equal(t, float64(3), out["rank"])
	assert.Equal(t, "33.3%", out["winRate"])
	assert.Equal(t, float64(-16), out["lastRatingChange"])

	_, err = f.call(t, GetPlayerRankProcedure, map[string]any{"playerId": "ghost"})
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = f.call(t, GetPlayerRankProcedure, map[string]any{})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestGetMatch(t *testing.T) {
	f := newFixture(t)

	msg, err := f.call(t, GetMatchProcedure, map[string]any{"matchId": "m1"})
	require.NoError(t, err)
	out := msg.AsMap()
	assert.Equal(t, "b", out["winnerId"])
	assert.Equal(t, "normal", out["endReason"])
	assert.Equal(t, float64(240), out["ticks"])
	assert.Equal(t, float64(12), out["durationSeconds"])
	assert.Equal(t, "2026-01-02T03:04:05Z", out["startedAt"])

	assert.Equal(t, false, out["live"])

	_, err = f.call(t, GetMatchProcedure, map[string]any{"matchId": "nope"})
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}

func TestGetMatch_UnstoredMatchComesFromRegistry(t *testing.T) {
	f := newFixture(t)
	session, err := f.registry.Start(
		domain.Player{ID: "a", Username: "alice", Rating: 1500},
		domain.Player{ID: "b", Username: "bob", Rating: 1500},
	)
	require.NoError(t, err)

	msg, err := f.call(t, GetMatchProcedure, map[string]any{"matchId": session.ID()})
	require.NoError(t, err)
	out := msg.AsMap()
	assert.Equal(t, true, out["live"])
	assert.Equal(t, "pending", out["status"])
	assert.Equal(t, "a", out["player1Id"])
	assert.Equal(t, "b", out["player2Id"])
	assert.Equal(t, float64(0), out["ticks"])
}

func TestGetRatingHistory(t *testing.T) {
	f := newFixture(t)

	msg, err := f.call(t, GetRatingHistoryProcedure, map[string]any{"playerId": "a"})
	require.NoError(t, err)
	assert.Equal(t, int32(20), f.history.gotLimit.Load())

	history := msg.AsMap()["history"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, float64(-16), history[0].(map[string]any)["change"])

	_, err = f.call(t, GetRatingHistoryProcedure, map[string]any{"playerId": "a", "limit": 1000})
	require.NoError(t, err)
	assert.Equal(t, int32(100), f.history.gotLimit.Load())
}
