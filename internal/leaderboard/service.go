package leaderboard

import (
	"context"

	"arena-backend/internal/constants"
	"arena-backend/internal/domain"
	"arena-backend/internal/metrics"
	"arena-backend/internal/repository"

	"github.com/rs/zerolog"
)

const (
	sourceTop   = "top"
	sourcePage  = "page"
	sourceStore = "store"
)

// Service answers leaderboard reads. Cache failures never reach the caller; they are
// logged, counted and answered from the store.
type Service struct {
	cache   *Cache
	store   Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewService(cache *Cache, players *repository.PlayerRepository, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return newService(cache, players, m, logger)
}

func newService(cache *Cache, store Store, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		cache:   cache,
		store:   store,
		metrics: m,
		logger:  logger.With().Str("component", "leaderboard").Logger(),
	}
}

// NormalizePage clamps paging parameters to the supported range.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = constants.DefaultLeaderboardLimit
	}
	if limit > constants.MaxLeaderboardLimit {
		limit = constants.MaxLeaderboardLimit
	}
	return page, limit
}

func (s *Service) GetLeaderboard(ctx context.Context, page, limit int) ([]domain.LeaderboardEntry, error) {
	page, limit = NormalizePage(page, limit)
	offset := (page - 1) * limit

	entries, ok, err := s.cache.Window(ctx, offset, limit)
	if err != nil {
		s.cacheFailed(err, "leaderboard window read failed")
	} else if ok {
		s.metrics.LeaderboardReads.WithLabelValues(sourceTop).Inc()
		return entries, nil
	}

	if page > 1 {
		entries, ok, err = s.cache.Page(ctx, page, limit)
		if err != nil {
			s.cacheFailed(err, "leaderboard page read failed")
		} else if ok {
			s.metrics.LeaderboardReads.WithLabelValues(sourcePage).Inc()
			return entries, nil
		}
	}

	entries, err = s.store.Top(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	s.metrics.LeaderboardReads.WithLabelValues(sourceStore).Inc()

	if page == 1 {
		if err := s.cache.Rebuild(ctx, s.store); err != nil {
			s.cacheFailed(err, "leaderboard repopulate failed")
		}
	} else if err := s.cache.PutPage(ctx, page, limit, entries); err != nil {
		s.cacheFailed(err, "leaderboard page write failed")
	}
	return entries, nil
}

// GetPlayerRank always comes from the store: the cache only knows the top-N.
func (s *Service) GetPlayerRank(ctx context.Context, playerID string) (int, *domain.PlayerRating, error) {
	return s.store.Rank(ctx, playerID)
}

// Refresh is called after ratings change. It is best-effort and never fails.
func (s *Service) Refresh(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.cacheFailed(err, "leaderboard invalidate failed")
	}
	if err := s.cache.Rebuild(ctx, s.store); err != nil {
		s.cacheFailed(err, "leaderboard rebuild failed")
	}
}

func (s *Service) cacheFailed(err error, msg string) {
	s.metrics.CacheErrors.Inc()
	s.logger.Warn().Err(err).Msg(msg)
}
