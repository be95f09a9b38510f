package server

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"arena-backend/internal/constants"
	"arena-backend/internal/domain"
	"arena-backend/internal/leaderboard"
	"arena-backend/internal/match"
	"arena-backend/internal/rating"
	"arena-backend/internal/repository"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/structpb"
)

const ArenaServicePath = "/arena.v1.ArenaService/"

const (
	GetLeaderboardProcedure   = ArenaServicePath + "GetLeaderboard"
	GetPlayerRankProcedure    = ArenaServicePath + "GetPlayerRank"
	GetMatchProcedure         = ArenaServicePath + "GetMatch"
	GetRatingHistoryProcedure = ArenaServicePath + "GetRatingHistory"
)

type LeaderboardReader interface {
	GetLeaderboard(ctx context.Context, page, limit int) ([]domain.LeaderboardEntry, error)
	GetPlayerRank(ctx context.Context, playerID string) (int, *domain.PlayerRating, error)
}

type MatchReader interface {
	Get(ctx context.Context, matchID string) (*domain.MatchRecord, error)
}

type HistoryReader interface {
	GetByPlayer(ctx context.Context, playerID string, limit int) ([]domain.RatingHistory, error)
}

// LiveMatches finds sessions that have not been persisted yet.
type LiveMatches interface {
	Get(matchID string) (*match.Session, bool)
}

// ArenaServer is the read-only statistics surface over the durable store and the
// leaderboard cache.
type ArenaServer struct {
	leaderboard LeaderboardReader
	matches     MatchReader
	history     HistoryReader
	live        LiveMatches
	logger      zerolog.Logger
}

func NewArenaServer(
	lb *leaderboard.Service,
	matches *repository.MatchRepository,
	history *repository.RatingHistoryRepository,
	registry *match.Registry,
	logger zerolog.Logger,
) *ArenaServer {
	return newArenaServer(lb, matches, history, registry, logger)
}

func newArenaServer(lb LeaderboardReader, matches MatchReader, history HistoryReader, live LiveMatches, logger zerolog.Logger) *ArenaServer {
	return &ArenaServer{
		leaderboard: lb,
		matches:     matches,
		history:     history,
		live:        live,
		logger:      logger.With().Str("component", "arena_api").Logger(),
	}
}

// Handler returns the path prefix and the handler serving every procedure under it.
func (s *ArenaServer) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(GetLeaderboardProcedure, connect.NewUnaryHandler(GetLeaderboardProcedure, s.GetLeaderboard, opts...))
	mux.Handle(GetPlayerRankProcedure, connect.NewUnaryHandler(GetPlayerRankProcedure, s.GetPlayerRank, opts...))
	mux.Handle(GetMatchProcedure, connect.NewUnaryHandler(GetMatchProcedure, s.GetMatch, opts...))
	mux.Handle(GetRatingHistoryProcedure, connect.NewUnaryHandler(GetRatingHistoryProcedure, s.GetRatingHistory, opts...))
	return ArenaServicePath, mux
}

func (s *ArenaServer) GetLeaderboard(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	defer s.timed(ctx, "GetLeaderboard")()

	page, limit := leaderboard.NormalizePage(intField(req.Msg, "page"), intField(req.Msg, "limit"))
	entries, err := s.leaderboard.GetLeaderboard(ctx, page, limit)
	if err != nil {
		return nil, s.toConnectError(err)
	}

	rows := make([]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, map[string]any{
			"rank":     e.Rank,
			"playerId": e.PlayerID,
			"username": e.Username,
			"rating":   e.Rating,
			"wins":     e.Wins,
			"losses":   e.Losses,
			"winRate":  rating.FormatWinRate(e.Wins, e.Losses),
		})
	}

	return respond(map[string]any{
		"page":    page,
		"limit":   limit,
		"entries": rows,
	})
}

func (s *ArenaServer) GetPlayerRank(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	defer s.timed(ctx, "GetPlayerRank")()

	playerID := stringField(req.Msg, "playerId")
	if playerID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("playerId is required"))
	}

	rank, p, err := s.leaderboard.GetPlayerRank(ctx, playerID)
	if err != nil {
		return nil, s.toConnectError(err)
	}

	return respond(map[string]any{
		"rank":             rank,
		"playerId":         p.PlayerID,
		"username":         p.Username,
		"rating":           p.Rating,
		"wins":             p.Wins,
		"losses":           p.Losses,
		"winRate":          rating.FormatWinRate(p.Wins, p.Losses),
		"lastMatchId":      p.LastMatchID,
		"lastRatingChange": p.LastRatingChange,
	})
}

func (s *ArenaServer) GetMatch(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	defer s.timed(ctx, "GetMatch")()

	matchID := stringField(req.Msg, "matchId")
	if matchID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("matchId is required"))
	}

	m, err := s.matches.Get(ctx, matchID)
	if errors.Is(err, repository.ErrMatchNotFound) {
		if session, ok := s.live.Get(matchID); ok {
			return respond(liveMatch(session))
		}
	}
	if err != nil {
		return nil, s.toConnectError(err)
	}

	return respond(map[string]any{
		"matchId":             m.MatchID,
		"player1Id":           m.Player1ID,
		"player2Id":           m.Player2ID,
		"winnerId":            m.WinnerID,
		"disconnectedId":      m.DisconnectedID,
		"endReason":           m.EndReason,
		"status":              m.Status,
		"player1RatingBefore": m.Player1RatingBefore,
		"player2RatingBefore": m.Player2RatingBefore,
		"player1RatingAfter":  m.Player1RatingAfter,
		"player2RatingAfter":  m.Player2RatingAfter,
		"player1Damage":       m.Player1Damage,
		"player2Damage":       m.Player2Damage,
		"ticks":               m.Ticks,
		"durationSeconds":     math.Round(m.EndedAt.Sub(m.StartedAt).Seconds()*10) / 10,
		"startedAt":           m.StartedAt.Format(time.RFC3339),
		"endedAt":             m.EndedAt.Format(time.RFC3339),
		"live":                false,
	})
}

// liveMatch describes a match that is still running or has just ended and is not
// stored yet.
func liveMatch(session *match.Session) map[string]any {
	players := session.Players()
	out := map[string]any{
		"matchId":   session.ID(),
		"player1Id": players[0].ID,
		"player2Id": players[1].ID,
		"status":    session.Status().String(),
		"ticks":     0,
		"live":      true,
	}
	if snap, ok := session.LastSnapshot(); ok {
		out["ticks"] = snap.Tick
		out["player1Damage"] = snap.Player1.DamageDealt
		out["player2Damage"] = snap.Player2.DamageDealt
		if snap.Winner != nil {
			out["winnerId"] = *snap.Winner
		}
	}
	return out
}

func (s *ArenaServer) GetRatingHistory(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	defer s.timed(ctx, "GetRatingHistory")()

	playerID := stringField(req.Msg, "playerId")
	if playerID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("playerId is required"))
	}
	limit := intField(req.Msg, "limit")
	if limit < 1 {
		limit = constants.RatingHistoryLimit
	}
	if limit > constants.MaxRatingHistoryLimit {
		limit = constants.MaxRatingHistoryLimit
	}

	history, err := s.history.GetByPlayer(ctx, playerID, limit)
	if err != nil {
		return nil, s.toConnectError(err)
	}

	rows := make([]any, 0, len(history))
	for _, h := range history {
		rows = append(rows, map[string]any{
			"id":           h.ID,
			"matchId":      h.MatchID,
			"ratingBefore": h.RatingBefore,
			"ratingAfter":  h.RatingAfter,
			"change":       h.Change,
			"createdAt":    h.CreatedAt.Format(time.RFC3339),
		})
	}

	return respond(map[string]any{
		"playerId": playerID,
		"history":  rows,
	})
}

func (s *ArenaServer) toConnectError(err error) error {
	switch {
	case errors.Is(err, repository.ErrPlayerNotFound), errors.Is(err, repository.ErrMatchNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		s.logger.Error().Err(err).Msg("read api request failed")
		return connect.NewError(connect.CodeInternal, err)
	}
}

func (s *ArenaServer) timed(ctx context.Context, procedure string) func() {
	start := time.Now()
	return func() {
		zerolog.Ctx(ctx).Debug().
			Str("procedure", procedure).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("rpc served")
	}
}

func respond(fields map[string]any) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func stringField(msg *structpb.Struct, key string) string {
	return msg.GetFields()[key].GetStringValue()
}

// intField reads a numeric field; absent or non-numeric values read as zero.
func intField(msg *structpb.Struct, key string) int {
	n := msg.GetFields()[key].GetNumberValue()
	if math.IsNaN(n) || n < math.MinInt32 || n > math.MaxInt32 {
		return 0
	}
	return int(n)
}
