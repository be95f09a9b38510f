// Package leaderboard serves ranked-player pages from redis, falling back to the
// database whenever the cache is cold, expired or unavailable.
package leaderboard

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"arena-backend/internal/config"
	"arena-backend/internal/constants"
	"arena-backend/internal/domain"

	"github.com/bsm/redislock"
	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const (
	keyTop        = "leaderboard:top"
	keyEntries    = "leaderboard:entries"
	keyPages      = "leaderboard:pages"
	keyPagePrefix = "leaderboard:page:"
	keyLock       = "leaderboard:lock"
	keyDirty      = "leaderboard:dirty"

	lockRetryBackoff = 50 * time.Millisecond
	lockRetries      = 3
	rebuildPasses    = 3
)

// Store is the durable ordering the cache mirrors.
type Store interface {
	Top(ctx context.Context, offset, limit int) ([]domain.LeaderboardEntry, error)
	Rank(ctx context.Context, playerID string) (int, *domain.PlayerRating, error)
}

// Cache keeps the top-N players as a sorted set scored by rating then wins, with a
// hash of display fields beside it. Pages outside the top-N are cached individually.
type Cache struct {
	client redis.UniversalClient
	locker *redislock.Client
	topN   int
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCache(client redis.UniversalClient, cfg *config.Config, logger zerolog.Logger) *Cache {
	return &Cache{
		client: client,
		locker: redislock.New(client),
		topN:   cfg.LeaderboardTopN,
		ttl:    cfg.LeaderboardTTL,
		logger: logger.With().Str("component", "leaderboard_cache").Logger(),
	}
}

type cachedEntry struct {
	Username string `json:"username"`
	Rating   int    `json:"rating"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
}

func score(rating, wins int) float64 {
	return float64(rating)*1e6 + float64(wins)
}

func pageKey(page, limit int) string {
	return keyPagePrefix + strconv.Itoa(page) + ":" + strconv.Itoa(limit)
}

// InWindow reports whether rows [offset, offset+limit) lie inside the cached top-N.
func (c *Cache) InWindow(offset, limit int) bool {
	return offset >= 0 && offset+limit <= c.topN
}

// Window serves a slice of the top-N. The bool is false on a miss.
func (c *Cache) Window(ctx context.Context, offset, limit int) ([]domain.LeaderboardEntry, bool, error) {
	if !c.InWindow(offset, limit) {
		return nil, false, nil
	}

	members, err := c.client.ZRevRangeWithScores(ctx, keyTop, 0, -1).Result()
	if err != nil {
		return nil, false, eris.Wrap(err, "failed to read cached leaderboard")
	}
	if len(members) == 0 {
		return nil, false, nil
	}

	ids := make([]string, len(members))
	for i, z := range members {
		ids[i] = z.Member.(string)
	}
	fields, err := c.client.HMGet(ctx, keyEntries, ids...).Result()
	if err != nil {
		return nil, false, eris.Wrap(err, "failed to read cached leaderboard entries")
	}

	all := make([]domain.LeaderboardEntry, 0, len(ids))
	for i, raw := range fields {
		s, ok := raw.(string)
		if !ok {
			// the hash expired or was rebuilt underneath us
			return nil, false, nil
		}
		var ce cachedEntry
		if err := json.Unmarshal([]byte(s), &ce); err != nil {
			return nil, false, eris.Wrapf(err, "corrupt cached entry for %s", ids[i])
		}
		all = append(all, domain.LeaderboardEntry{
			PlayerID: ids[i],
			Username: ce.Username,
			Rating:   ce.Rating,
			Wins:     ce.Wins,
			Losses:   ce.Losses,
		})
	}

	// equal scores come back in reverse member order; restore the database tie-break
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		return a.PlayerID < b.PlayerID
	})

	if offset >= len(all) {
		return []domain.LeaderboardEntry{}, true, nil
	}
	end := min(offset+limit, len(all))
	page := make([]domain.LeaderboardEntry, 0, end-offset)
	for i := offset; i < end; i++ {
		e := all[i]
		e.Rank = i + 1
		page = append(page, e)
	}
	return page, true, nil
}

// Page returns a cached page outside the top-N window.
func (c *Cache) Page(ctx context.Context, page, limit int) ([]domain.LeaderboardEntry, bool, error) {
	raw, err := c.client.Get(ctx, pageKey(page, limit)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "failed to read cached page")
	}
	var entries []domain.LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, eris.Wrap(err, "corrupt cached page")
	}
	return entries, true, nil
}

func (c *Cache) PutPage(ctx context.Context, page, limit int, entries []domain.LeaderboardEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return eris.Wrap(err, "failed to encode page")
	}
	key := pageKey(page, limit)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, raw, c.ttl)
		pipe.SAdd(ctx, keyPages, key)
		pipe.Expire(ctx, keyPages, c.ttl)
		return nil
	})
	return eris.Wrap(err, "failed to cache page")
}

// Invalidate drops every cached page.
func (c *Cache) Invalidate(ctx context.Context) error {
	keys, err := c.client.SMembers(ctx, keyPages).Result()
	if err != nil {
		return eris.Wrap(err, "failed to list cached pages")
	}
	keys = append(keys, keyPages)
	return eris.Wrap(c.client.Del(ctx, keys...).Err(), "failed to delete cached pages")
}

// Rebuild replaces the top-N set from the store. When another rebuild holds the lock
// the set is dropped and marked dirty, so reads fall back to the store and the holder
// runs again with the newer rows.
func (c *Cache) Rebuild(ctx context.Context, store Store) error {
	lock, err := c.locker.Obtain(ctx, keyLock, constants.LeaderboardLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(lockRetryBackoff), lockRetries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		c.logger.Debug().Msg("leaderboard rebuild already in progress, dropping top-N")
		_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keyDirty, 1, constants.LeaderboardLockTTL)
			pipe.Del(ctx, keyTop, keyEntries)
			return nil
		})
		return eris.Wrap(err, "failed to drop leaderboard")
	}
	if err != nil {
		return eris.Wrap(err, "failed to obtain leaderboard lock")
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			c.logger.Warn().Err(err).Msg("failed to release leaderboard lock")
		}
	}()

	for pass := 0; pass < rebuildPasses; pass++ {
		if err := c.client.Del(ctx, keyDirty).Err(); err != nil {
			return eris.Wrap(err, "failed to clear leaderboard dirty mark")
		}
		if err := c.rebuild(ctx, store); err != nil {
			return err
		}
		dirty, err := c.client.Exists(ctx, keyDirty).Result()
		if err != nil {
			return eris.Wrap(err, "failed to read leaderboard dirty mark")
		}
		if dirty == 0 {
			return nil
		}
	}

	// still changing underneath us; leave it to the store until the next refresh
	c.logger.Warn().Int("passes", rebuildPasses).Msg("leaderboard kept changing during rebuild")
	return eris.Wrap(c.client.Del(ctx, keyTop, keyEntries, keyDirty).Err(), "failed to drop leaderboard")
}

func (c *Cache) rebuild(ctx context.Context, store Store) error {
	entries, err := store.Top(ctx, 0, c.topN)
	if err != nil {
		return eris.Wrap(err, "failed to load top players")
	}

	zs := make([]redis.Z, 0, len(entries))
	fields := make(map[string]any, len(entries))
	for _, e := range entries {
		raw, err := json.Marshal(cachedEntry{Username: e.Username, Rating: e.Rating, Wins: e.Wins, Losses: e.Losses})
		if err != nil {
			return eris.Wrapf(err, "failed to encode entry for %s", e.PlayerID)
		}
		zs = append(zs, redis.Z{Score: score(e.Rating, e.Wins), Member: e.PlayerID})
		fields[e.PlayerID] = raw
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keyTop, keyEntries)
		if len(zs) == 0 {
			return nil
		}
		pipe.ZAdd(ctx, keyTop, zs...)
		pipe.HSet(ctx, keyEntries, fields)
		pipe.Expire(ctx, keyTop, c.ttl)
		pipe.Expire(ctx, keyEntries, c.ttl)
		return nil
	})
	if err != nil {
		return eris.Wrap(err, "failed to write leaderboard")
	}

	c.logger.Debug().Int("entries", len(entries)).Msg("leaderboard rebuilt")
	return nil
}
