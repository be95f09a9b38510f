package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"arena-backend/internal/api"
	"arena-backend/internal/constants"
	"arena-backend/internal/domain"
	"arena-backend/internal/match"
	"arena-backend/internal/matchmaking"
	"arena-backend/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.Player, error)
	Current(ctx context.Context, playerID string) (*domain.Player, error)
}

type Queue interface {
	Enqueue(player domain.Player) error
	Dequeue(playerID string) bool
}

type Sessions interface {
	ForPlayer(playerID string) (*match.Session, bool)
}

type Server struct {
	hub      *Hub
	auth     Authenticator
	queue    Queue
	sessions Sessions
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func NewServer(hub *Hub, auth Authenticator, queue Queue, sessions Sessions, logger zerolog.Logger) *Server {
	return &Server{
		hub:      hub,
		auth:     auth,
		queue:    queue,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "gateway").Logger(),
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// ServeHTTP authenticates and upgrades a player connection, then runs its read loop
// until the connection closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	player, err := s.auth.Authenticate(r.Context(), bearerToken(r))
	if errors.Is(err, api.ErrUnauthenticated) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("authentication failed")
		http.Error(w, "identity service unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("player_id", player.ID).Msg("ws upgrade failed")
		return
	}

	log := s.logger.With().Str("player_id", player.ID).Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("ws connect")

	c := newClient(player.ID, conn)
	s.hub.register(c)

	conn.SetReadLimit(constants.WSReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(constants.WSPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(constants.WSPongWait))
	})

	go s.writePump(c, log)

	if session, ok := s.sessions.ForPlayer(player.ID); ok {
		_ = session.Reconnect(player.ID)
	}

	s.readLoop(c, *player, log)

	c.close()
	if s.hub.unregister(c) {
		s.queue.Dequeue(player.ID)
		if session, ok := s.sessions.ForPlayer(player.ID); ok {
			_ = session.Disconnect(player.ID)
		}
	}
	log.Info().Msg("ws disconnect")
}

func (s *Server) readLoop(c *client, player domain.Player, log zerolog.Logger) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("ws read closed")
			}
			return
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			log.Debug().Err(err).Msg("rejected client message")
			s.hub.Send(player.ID, protocol.Error{Message: err.Error()})
			continue
		}
		s.dispatch(player, msg, log)
	}
}

func (s *Server) dispatch(player domain.Player, msg protocol.Message, log zerolog.Logger) {
	switch m := msg.(type) {
	case protocol.QueueJoin:
		p := player
		if cur, err := s.auth.Current(context.Background(), player.ID); err == nil {
			p = *cur
		} else {
			log.Warn().Err(err).Msg("using rating from connect time")
		}
		if err := s.queue.Enqueue(p); err != nil {
			text := "could not join queue"
			if errors.Is(err, matchmaking.ErrAdmission) {
				text = err.Error()
			}
			s.hub.Send(player.ID, protocol.Error{Message: text})
		}

	case protocol.QueueLeave:
		s.queue.Dequeue(player.ID)

	case protocol.MatchReady:
		session, ok := s.sessions.ForPlayer(player.ID)
		if !ok {
			return
		}
		if err := session.Ready(player.ID, m.MatchID); err != nil {
			log.Debug().Err(err).Msg("ignored match:ready")
		}

	case protocol.GameInput:
		if session, ok := s.sessions.ForPlayer(player.ID); ok {
			_ = session.SubmitInput(player.ID, m)
		}
	}
}

func (s *Server) writePump(c *client, log zerolog.Logger) {
	ticker := time.NewTicker(constants.WSPingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(constants.WSWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Msg("ws write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(constants.WSWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Msg("ws ping failed")
				return
			}
		}
	}
}
