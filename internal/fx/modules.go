package fx

import (
	"arena-backend/internal/api"
	"arena-backend/internal/config"
	"arena-backend/internal/database"
	"arena-backend/internal/gateway"
	"arena-backend/internal/leaderboard"
	"arena-backend/internal/logger"
	"arena-backend/internal/match"
	"arena-backend/internal/matchmaking"
	"arena-backend/internal/metrics"
	"arena-backend/internal/protocol"
	"arena-backend/internal/repository"
	"arena-backend/internal/server"
	"arena-backend/internal/service"

	"go.uber.org/fx"
)

// The game packages depend on small interfaces; these bind them to the concrete
// providers below.

func ProvideSender(hub *gateway.Hub) protocol.Sender { return hub }

func ProvideReporter(results *service.ResultService) match.ResultReporter { return results }

func ProvideRefresher(lb *leaderboard.Service) service.Refresher { return lb }

func ProvideSessionStarter(registry *match.Registry) matchmaking.Sessions { return registry }

func ProvideGatewaySessions(registry *match.Registry) gateway.Sessions { return registry }

func ProvideQueue(mm *matchmaking.Matchmaker) gateway.Queue { return mm }

func ProvideAuthenticator(players *service.PlayerService) gateway.Authenticator { return players }

var Module = fx.Options(
	logger.Module,
	config.Module,
	metrics.Module,
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewPlayerRepository),
	fx.Provide(repository.NewMatchRepository),
	fx.Provide(repository.NewRatingHistoryRepository),
	// cache
	fx.Provide(leaderboard.NewRedisClient),
	fx.Provide(leaderboard.NewCache),
	fx.Provide(leaderboard.NewService),
	fx.Provide(ProvideRefresher),
	// api client
	fx.Provide(api.NewIdentityClient),
	// svc
	fx.Provide(service.NewPlayerService),
	fx.Provide(service.NewResultService),
	fx.Provide(ProvideReporter),
	fx.Provide(ProvideAuthenticator),
	// game
	fx.Provide(gateway.NewHub),
	fx.Provide(ProvideSender),
	fx.Provide(match.NewRegistry),
	fx.Provide(ProvideSessionStarter),
	fx.Provide(ProvideGatewaySessions),
	fx.Provide(matchmaking.New),
	fx.Provide(ProvideQueue),
	// server
	fx.Provide(gateway.NewServer),
	fx.Provide(server.NewArenaServer),
)
