package service

import (
	"context"
	"fmt"

	"arena-backend/internal/api"
	"arena-backend/internal/constants"
	"arena-backend/internal/domain"
	"arena-backend/internal/repository"

	"github.com/rs/zerolog"
)

// Identifier resolves a bearer token to a principal.
type Identifier interface {
	Identify(ctx context.Context, token string) (*api.Identity, error)
}

type PlayerService struct {
	identity Identifier
	repo     *repository.PlayerRepository
	logger   zerolog.Logger
}

func NewPlayerService(identity *api.IdentityClient, repo *repository.PlayerRepository, logger zerolog.Logger) *PlayerService {
	return newPlayerService(identity, repo, logger)
}

func newPlayerService(identity Identifier, repo *repository.PlayerRepository, logger zerolog.Logger) *PlayerService {
	return &PlayerService{identity: identity, repo: repo, logger: logger}
}

// Authenticate resolves a connection's token and makes sure the player has a rating
// row. It returns api.ErrUnauthenticated for unknown tokens.
func (s *PlayerService) Authenticate(ctx context.Context, token string) (*domain.Player, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	id, err := s.identity.Identify(ctx, token)
	if err != nil {
		return nil, err
	}

	row, err := s.repo.Ensure(ctx, id.ID, id.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to load rating for %s: %w", id.ID, err)
	}

	s.logger.Debug().Str("player_id", row.PlayerID).Int("rating", row.Rating).Msg("player authenticated")
	return &domain.Player{ID: row.PlayerID, Username: row.Username, Rating: row.Rating}, nil
}

// Current re-reads a player's rating, e.g. before queueing again after a match.
func (s *PlayerService) Current(ctx context.Context, playerID string) (*domain.Player, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	row, err := s.repo.Get(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return &domain.Player{ID: row.PlayerID, Username: row.Username, Rating: row.Rating}, nil
}
