package match

import (
	"context"
	"testing"
	"time"

	"arena-backend/internal/config"
	"arena-backend/internal/domain"
	"arena-backend/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) (*Registry, *recorder, *fakeReporter, *metrics.Metrics) {
	t.Helper()
	cfg := &config.Config{Tuning: config.DefaultTuning()}
	cfg.Tuning.FinalSnapshotGrace = 20 * time.Millisecond
	rec := newRecorder()
	rep := &fakeReporter{}
	m := metrics.New()
	r := NewRegistry(cfg, rec, rep, m, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r, rec, rep, m
}

func TestRegistry_OneSessionPerPlayer(t *testing.T) {
	r, _, _, m := testRegistry(t)

	s, err := r.Start(alice, bob)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, s.Status())
	assert.True(t, r.ActiveFor("a"))
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))

	got, ok := r.ForPlayer("b")
	require.True(t, ok)
	assert.Same(t, s, got)

	carol := domain.Player{ID: "c", Username: "carol", Rating: 1400}
	_, err = r.Start(carol, alice)
	assert.ErrorIs(t, err, ErrPlayerBusy)
	assert.False(t, r.ActiveFor("c"))
}

func TestRegistry_ReleasesAfterSessionEnds(t *testing.T) {
	r, _, rep, m := testRegistry(t)

	s, err := r.Start(alice, bob)
	require.NoError(t, err)
	require.NoError(t, s.Ready("a", s.ID()))
	require.NoError(t, s.Ready("b", s.ID()))
	require.Eventually(t, func() bool { return s.Status() == StatusActive }, time.Second, 5*time.Millisecond)

	s.Stop()
	require.Eventually(t, func() bool { return !r.ActiveFor("a") && !r.ActiveFor("b") }, time.Second, 5*time.Millisecond)
	assert.Len(t, rep.all(), 1)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveSessions))

	require.Eventually(t, func() bool {
		_, ok := r.Get(s.ID())
		return !ok
	}, time.Second, 5*time.Millisecond)

	_, err = r.Start(alice, bob)
	assert.NoError(t, err)
}

func TestRegistry_ShutdownEndsEverySession(t *testing.T) {
	r, _, rep, _ := testRegistry(t)

	active, err := r.Start(alice, bob)
	require.NoError(t, err)
	pending, err := r.Start(
		domain.Player{ID: "c", Username: "carol", Rating: 1200},
		domain.Player{ID: "d", Username: "dave", Rating: 1210},
	)
	require.NoError(t, err)

	require.NoError(t, active.Ready("a", active.ID()))
	require.NoError(t, active.Ready("b", active.ID()))
	require.Eventually(t, func() bool { return active.Status() == StatusActive }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	assert.Equal(t, StatusCompleted, pending.Status())
	results := rep.all()
	require.Len(t, results, 1)
	assert.Equal(t, active.ID(), results[0].MatchID)
	assert.Equal(t, domain.EndReasonDisconnection, results[0].EndReason)

	_, err = r.Start(alice, bob)
	assert.ErrorIs(t, err, ErrRegistryClosed)
}
