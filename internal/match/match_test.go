package match

import (
	"context"
	"sync"
	"testing"

	"arena-backend/internal/config"
	"arena-backend/internal/domain"
	"arena-backend/internal/metrics"
	"arena-backend/internal/protocol"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs map[string][]protocol.Message
}

func newRecorder() *recorder {
	return &recorder{msgs: make(map[string][]protocol.Message)}
}

func (r *recorder) Send(playerID string, msg protocol.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[playerID] = append(r.msgs[playerID], msg)
	return true
}

func (r *recorder) events(playerID, event string) []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Message
	for _, m := range r.msgs[playerID] {
		if m.Event() == event {
			out = append(out, m)
		}
	}
	return out
}

type fakeReporter struct {
	mu      sync.Mutex
	results []Result
}

func (f *fakeReporter) ReportResult(_ context.Context, res Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, res)
	return nil
}

func (f *fakeReporter) all() []Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Result(nil), f.results...)
}

var (
	alice = domain.Player{ID: "a", Username: "alice", Rating: 1500}
	bob   = domain.Player{ID: "b", Username: "bob", Rating: 1500}
)

func testSession(t *testing.T, tuning config.Tuning) (*Session, *recorder, *fakeReporter) {
	t.Helper()
	rec := newRecorder()
	rep := &fakeReporter{}
	s := newSession("m1", alice, bob, tuning, rec, rep, metrics.New(), zerolog.Nop())
	return s, rec, rep
}

// activeSession skips the ready-up handshake for tests that drive step directly.
func activeSession(t *testing.T, tuning config.Tuning) (*Session, *recorder, *fakeReporter) {
	s, rec, rep := testSession(t, tuning)
	s.status.Store(int32(StatusActive))
	return s, rec, rep
}

func offer(t *testing.T, s *Session, slot int, in Input) {
	t.Helper()
	require.True(t, s.slots[slot].input.offer(in))
}

func stepUntil(s *Session, tick uint64) {
	for s.tick < tick && s.Status() == StatusActive {
		s.step()
	}
}
