package match

import (
	"context"
	"testing"
	"time"

	"arena-backend/internal/config"
	"arena-backend/internal/domain"
	"arena-backend/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runSession runs s in the background; the returned channel closes when Run returns.
func runSession(t *testing.T, s *Session) <-chan struct{} {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return done
}

func TestSession_ReadyUpStartsTicking(t *testing.T) {
	s, rec, rep := testSession(t, config.DefaultTuning())
	done := runSession(t, s)

	require.Eventually(t, func() bool {
		return len(rec.events("a", protocol.EventMatchFound)) == 1
	}, time.Second, 5*time.Millisecond)
	found := rec.events("b", protocol.EventMatchFound)[0].(protocol.MatchFound)
	assert.Equal(t, "m1", found.MatchID)
	assert.Equal(t, "alice", found.Opponent.Username)
	assert.Equal(t, StatusPending, s.Status())

	require.NoError(t, s.Ready("a", "m1"))
	require.NoError(t, s.Ready("b", "m1"))

	require.Eventually(t, func() bool { return s.Status() == StatusActive }, time.Second, 5*time.Millisecond)
	start := rec.events("b", protocol.EventMatchStart)[0].(protocol.MatchStart)
	assert.Equal(t, "right", start.Side)

	started := time.Now()
	require.Eventually(t, func() bool {
		return len(rec.events("a", protocol.EventGameSnapshot)) >= 6
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(started), 200*time.Millisecond, "snapshots follow the tick rate")

	snaps := rec.events("a", protocol.EventGameSnapshot)
	for i, m := range snaps[:6] {
		assert.Equal(t, uint64(i), m.(protocol.GameSnapshot).Tick)
	}

	s.Stop()
	<-done
	results := rep.all()
	require.Len(t, results, 1)
	assert.Equal(t, domain.EndReasonDisconnection, results[0].EndReason)
	assert.Empty(t, results[0].WinnerID)
	assert.ErrorIs(t, s.Ready("a", "m1"), ErrSessionClosed)
}

func TestSession_ReadyTimeoutCancels(t *testing.T) {
	tuning := config.DefaultTuning()
	tuning.ReadyTimeout = 50 * time.Millisecond
	s, rec, rep := testSession(t, tuning)
	done := runSession(t, s)

	require.NoError(t, s.Ready("a", "m1"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session did not time out")
	}

	assert.Equal(t, StatusCompleted, s.Status())
	assert.Equal(t, domain.EndReasonCancelled, s.endReason)
	assert.Empty(t, rep.all())
	assert.Len(t, rec.events("a", protocol.EventError), 1)
	assert.Len(t, rec.events("b", protocol.EventError), 1)
	assert.Empty(t, rec.events("a", protocol.EventGameEnd))
}

func TestSession_DisconnectWhilePendingCancels(t *testing.T) {
	s, rec, rep := testSession(t, config.DefaultTuning())
	done := runSession(t, s)

	require.NoError(t, s.Disconnect("b"))
	<-done

	assert.Equal(t, domain.EndReasonCancelled, s.endReason)
	assert.Empty(t, rep.all())
	assert.Len(t, rec.events("a", protocol.EventError), 1)
}

func TestSession_RejectsOutsiders(t *testing.T) {
	s, _, _ := testSession(t, config.DefaultTuning())

	assert.ErrorIs(t, s.Ready("mallory", "m1"), ErrNotParticipant)
	assert.ErrorIs(t, s.Ready("a", "other"), ErrWrongMatch)
	assert.ErrorIs(t, s.SubmitInput("mallory", protocol.GameInput{}), ErrNotParticipant)
	assert.ErrorIs(t, s.SubmitInput("a", protocol.GameInput{MoveX: 1}), ErrNotActive)
	assert.ErrorIs(t, s.Disconnect("mallory"), ErrNotParticipant)
}

func TestSession_InputReachesSimulation(t *testing.T) {
	s, _, _ := activeSession(t, config.DefaultTuning())

	require.NoError(t, s.SubmitInput("a", protocol.GameInput{MoveX: 1, ClientTimestamp: 5}))
	require.NoError(t, s.SubmitInput("a", protocol.GameInput{MoveX: -1, ClientTimestamp: 4}))
	s.step()

	assert.InDelta(t, 260, s.slots[0].X, 1e-9)
}

func TestSession_StopReportsOnce(t *testing.T) {
	s, _, rep := activeSession(t, config.DefaultTuning())
	s.forceEnd()
	s.finish(context.Background())
	s.report(context.Background())

	assert.Len(t, rep.all(), 1)
}
