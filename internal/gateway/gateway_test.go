package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"arena-backend/internal/api"
	"arena-backend/internal/config"
	"arena-backend/internal/domain"
	"arena-backend/internal/match"
	"arena-backend/internal/matchmaking"
	"arena-backend/internal/metrics"
	"arena-backend/internal/protocol"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuth map[string]domain.Player

func (f fakeAuth) Authenticate(_ context.Context, token string) (*domain.Player, error) {
	p, ok := f[token]
	if !ok {
		return nil, api.ErrUnauthenticated
	}
	return &p, nil
}

func (f fakeAuth) Current(_ context.Context, playerID string) (*domain.Player, error) {
	for _, p := range f {
		if p.ID == playerID {
			return &p, nil
		}
	}
	return nil, api.ErrUnauthenticated
}

type nopReporter struct{}

func (nopReporter) ReportResult(context.Context, match.Result) error { return nil }

type env struct {
	url      string
	hub      *Hub
	mm       *matchmaking.Matchmaker
	registry *match.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := &config.Config{Tuning: config.DefaultTuning()}
	m := metrics.New()
	hub := NewHub(zerolog.Nop())
	registry := match.NewRegistry(cfg, hub, nopReporter{}, m, zerolog.Nop())
	mm := matchmaking.New(cfg, registry, hub, m, zerolog.Nop())

	auth := fakeAuth{
		"tok-a": {ID: "a", Username: "alice", Rating: 1500},
		"tok-b": {ID: "b", Username: "bob", Rating: 1500},
	}
	srv := httptest.NewServer(NewServer(hub, auth, mm, registry, zerolog.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mm.Run(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		_ = registry.Shutdown(shutdownCtx)
		srv.Close()
	})
	return &env{url: "ws" + strings.TrimPrefix(srv.URL, "http"), hub: hub, mm: mm, registry: registry}
}

func (e *env) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(e.url, header)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

// await reads frames until one with the given event arrives.
func await(t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Event == event {
			return f
		}
	}
}

func TestGateway_RejectsUnauthenticated(t *testing.T) {
	e := newEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(e.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(e.url+"?token=wrong", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_QueryTokenAccepted(t *testing.T) {
	e := newEnv(t)
	conn, _, err := websocket.DefaultDialer.Dial(e.url+"?token=tok-a", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return e.hub.Connected("a") }, time.Second, 5*time.Millisecond)
}

func TestGateway_MalformedMessageKeepsConnection(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, "tok-a")

	send(t, conn, `{"event":"game:snapshot","data":{}}`)
	f := await(t, conn, protocol.EventError)
	assert.Contains(t, string(f.Data), "unsupported event")

	send(t, conn, `not json`)
	await(t, conn, protocol.EventError)

	send(t, conn, `{"event":"queue:join"}`)
	f = await(t, conn, protocol.EventQueueStatus)
	var st protocol.QueueStatus
	require.NoError(t, json.Unmarshal(f.Data, &st))
	assert.Equal(t, 1, st.Position)

	send(t, conn, `{"event":"queue:join"}`)
	f = await(t, conn, protocol.EventError)
	assert.Contains(t, string(f.Data), "already queued")
}

func TestGateway_DisconnectWhileQueuedLeavesPool(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, "tok-a")

	send(t, conn, `{"event":"queue:join"}`)
	await(t, conn, protocol.EventQueueStatus)
	require.Equal(t, 1, e.mm.Size())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return e.mm.Size() == 0 && !e.hub.Connected("a") }, time.Second, 5*time.Millisecond)
}

func TestGateway_QueueToLiveMatch(t *testing.T) {
	e := newEnv(t)
	a := e.dial(t, "tok-a")
	b := e.dial(t, "tok-b")

	send(t, a, `{"event":"queue:join"}`)
	send(t, b, `{"event":"queue:join"}`)

	var found protocol.MatchFound
	require.NoError(t, json.Unmarshal(await(t, a, protocol.EventMatchFound).Data, &found))
	assert.Equal(t, "bob", found.Opponent.Username)
	await(t, b, protocol.EventMatchFound)

	ready := `{"event":"match:ready","data":{"matchId":"` + found.MatchID + `"}}`
	send(t, a, ready)
	send(t, b, ready)

	var start protocol.MatchStart
	require.NoError(t, json.Unmarshal(await(t, a, protocol.EventMatchStart).Data, &start))
	assert.Equal(t, found.MatchID, start.MatchID)

	send(t, a, `{"event":"game:input","data":{"moveX":1,"moveY":0,"fire":false,"ability":false,"clientTimestamp":1}}`)

	var snap protocol.GameSnapshot
	for i := 0; i < 60; i++ {
		require.NoError(t, json.Unmarshal(await(t, b, protocol.EventGameSnapshot).Data, &snap))
		if snap.Player1.X > 250 {
			break
		}
	}
	assert.Greater(t, snap.Player1.X, 250.0)
	assert.Equal(t, "active", snap.Status)
	assert.Equal(t, "a", snap.Player1.ID)

	// a second connection for the same player replaces the first
	a2 := e.dial(t, "tok-a")
	await(t, a2, protocol.EventMatchStart)
	s, ok := e.registry.ForPlayer("a")
	require.True(t, ok)
	assert.Equal(t, match.StatusActive, s.Status())
}
