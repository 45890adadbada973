package room

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/live-chess-backend/internal/clock"
	"github.com/DoyleJ11/live-chess-backend/internal/engine"
	"github.com/DoyleJ11/live-chess-backend/internal/monitor"
	"github.com/DoyleJ11/live-chess-backend/internal/pairing"
	"github.com/DoyleJ11/live-chess-backend/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeRules struct{}

func (fakeRules) ApplyMove(pos engine.Position, move string) (engine.MoveResult, error) {
	if move == "e2e5" {
		return engine.MoveResult{}, engine.ErrIllegalMove
	}
	next := pos
	next.Moves = append(append([]string(nil), pos.Moves...), move)
	return engine.MoveResult{Position: next, IsMate: move == "d8h4"}, nil
}

type chanPublisher struct{ ch chan engine.Event }

func (p chanPublisher) Publish(events []engine.Event) {
	for _, ev := range events {
		p.ch <- ev
	}
}

// switchable fails every save while down is set.
type switchable struct {
	*store.Memory
	down atomic.Bool
}

func (s *switchable) Save(ctx context.Context, sess engine.Session) error {
	if s.down.Load() {
		return errors.Join(engine.ErrPersistenceUnavailable, errors.New("db down"))
	}
	return s.Memory.Save(ctx, sess)
}

type resultSink struct{ n *atomic.Int32 }

func (s resultSink) Report(context.Context, pairing.Result) error {
	s.n.Add(1)
	return nil
}

type fixture struct {
	room    *Room
	store   *switchable
	events  chan engine.Event
	now     *atomic.Int64
	retired chan string
	reports *atomic.Int32
}

func activeSession() engine.Session {
	s := engine.NewSession("s1",
		engine.Seat{Principal: "alice", Kind: engine.SeatHuman, Handshake: true},
		engine.Seat{Principal: "bob", Kind: engine.SeatHuman, Handshake: true},
		engine.Position{}, engine.TimeControl{InitialMs: 600000}, t0)
	s.Status = engine.StatusActive
	s.Clock.Running = clock.SideWhite
	s.Clock.LastServerMs = t0.UnixMilli()
	s.WhiteLive.LastHeartbeatAt = t0
	s.BlackLive.LastHeartbeatAt = t0
	return s
}

func newFixture(t *testing.T, initial engine.Session) *fixture {
	t.Helper()
	f := &fixture{
		store:   &switchable{Memory: store.NewMemory()},
		events:  make(chan engine.Event, 64),
		now:     &atomic.Int64{},
		retired: make(chan string, 4),
		reports: &atomic.Int32{},
	}
	f.now.Store(t0.UnixMilli())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f.room = New(ctx, initial, Config{
		Policy:      engine.Policy{OfferTTL: time.Minute, ResumeTTL: time.Minute, AbortTTL: time.Minute},
		Thresholds:  monitor.DefaultThresholds(),
		SaveTimeout: time.Second,
		HistorySize: 4,
	}, Deps{
		Rules:     fakeRules{},
		Store:     f.store,
		Retrier:   f.store,
		Results:   resultSink{f.reports},
		Publisher: chanPublisher{f.events},
		Now:       func() time.Time { return time.UnixMilli(f.now.Load()).UTC() },
		Log:       zaptest.NewLogger(t),
		Retire:    func(id string) { f.retired <- id },
	})
	return f
}

func (f *fixture) at(d time.Duration) { f.now.Store(t0.Add(d).UnixMilli()) }

func (f *fixture) submit(t *testing.T, principal string, cmd engine.Command) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := f.room.Submit(ctx, engine.Submission{Principal: principal, Command: cmd})
	require.NoError(t, err)
	return out
}

func recvEvent(t *testing.T, ch <-chan engine.Event, within time.Duration) engine.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for event")
		return engine.Event{}
	}
}

func recvNoEvent(t *testing.T, ch <-chan engine.Event, within time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("expected no event within %v, got %+v", within, ev)
	case <-time.After(within):
	}
}

func TestRoom_MovePersistsThenPublishes(t *testing.T) {
	f := newFixture(t, activeSession())
	f.at(12 * time.Second)

	out := f.submit(t, "alice", engine.Move{UCI: "e2e4"})
	require.NoError(t, out.Err)
	require.NoError(t, out.SaveErr)
	assert.Equal(t, int64(588000), out.Session.Clock.WhiteMs)
	assert.Equal(t, int64(1), out.Session.Clock.Revision)

	ev := recvEvent(t, f.events, time.Second)
	assert.Equal(t, engine.EvtMoveMade, ev.Type)
	assert.Equal(t, int64(1), ev.Revision)

	saved, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Clock.Revision)
}

func TestRoom_RejectionChangesNothing(t *testing.T) {
	f := newFixture(t, activeSession())

	out := f.submit(t, "bob", engine.Move{UCI: "e7e5"})
	require.ErrorIs(t, out.Err, engine.ErrNotYourTurn)
	out = f.submit(t, "mallory", engine.Resign{})
	require.ErrorIs(t, out.Err, engine.ErrUnauthorized)
	out = f.submit(t, "alice", engine.Move{UCI: "e2e5"})
	require.ErrorIs(t, out.Err, engine.ErrIllegalMove)

	recvNoEvent(t, f.events, 50*time.Millisecond)
	_, err := f.store.Load(context.Background(), "s1")
	require.ErrorIs(t, err, engine.ErrSessionNotFound)
	assert.Equal(t, int64(0), out.Session.Clock.Revision)
}

func TestRoom_SaveFailureKeepsTransitionAndRetries(t *testing.T) {
	f := newFixture(t, activeSession())
	f.store.down.Store(true)

	out := f.submit(t, "alice", engine.Move{UCI: "e2e4"})
	require.NoError(t, out.Err)
	require.ErrorIs(t, out.SaveErr, engine.ErrPersistenceUnavailable)
	assert.Equal(t, clock.SideBlack, out.Session.Turn)
	recvEvent(t, f.events, time.Second)

	v, err := f.room.State(context.Background())
	require.NoError(t, err)
	assert.True(t, v.Dirty)

	f.store.down.Store(false)
	// The retry may have given up while the store was down; a tick restarts it.
	require.Eventually(t, func() bool {
		f.room.Tick(t0)
		v, err := f.room.State(context.Background())
		return err == nil && !v.Dirty
	}, 2*time.Second, 10*time.Millisecond)

	saved, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Clock.Revision)
}

func TestRoom_TickRunsMonitor(t *testing.T) {
	f := newFixture(t, activeSession())
	f.at(12 * time.Second)
	f.submit(t, "alice", engine.Move{UCI: "e2e4"})
	recvEvent(t, f.events, time.Second)

	require.True(t, f.room.Tick(t0.Add(60*time.Second)))
	warn := recvEvent(t, f.events, time.Second)
	assert.Equal(t, engine.EvtInactivityWarning, warn.Type)
	assert.Equal(t, "bob", warn.Recipient)
	assert.True(t, warn.Private)

	require.True(t, f.room.Tick(t0.Add(70*time.Second)))
	paused := recvEvent(t, f.events, time.Second)
	assert.Equal(t, engine.EvtSessionPaused, paused.Type)
	assert.Equal(t, string(engine.PauseInactivity), paused.Reason)
	assert.Equal(t, clock.SideBlack, paused.Side)

	require.True(t, f.room.Tick(t0.Add(70*time.Second+30*time.Minute)))
	finished := recvEvent(t, f.events, time.Second)
	assert.Equal(t, engine.EvtSessionFinished, finished.Type)
	require.NotNil(t, finished.Terminal)
	assert.Equal(t, engine.ResultWhiteWins, finished.Terminal.Result)
	assert.Equal(t, engine.EndTimeoutByInactivity, finished.Terminal.EndReason)
}

func TestRoom_FinishReportsOnceAndRetires(t *testing.T) {
	f := newFixture(t, activeSession())

	out := f.submit(t, "bob", engine.Resign{})
	require.NoError(t, out.Err)
	assert.Equal(t, "s1", <-f.retired)
	assert.Equal(t, int32(1), f.reports.Load())

	out = f.submit(t, "alice", engine.Resign{})
	require.ErrorIs(t, out.Err, engine.ErrSessionFinished)
	f.room.Tick(t0.Add(time.Hour))
	_, err := f.room.State(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.reports.Load())
	select {
	case id := <-f.retired:
		t.Fatalf("retired twice: %s", id)
	default:
	}
}

func TestRoom_SinceReturnsRetainedTail(t *testing.T) {
	f := newFixture(t, activeSession())
	moves := []struct {
		who string
		uci string
	}{{"alice", "e2e4"}, {"bob", "e7e5"}, {"alice", "g1f3"}, {"bob", "b8c6"}, {"alice", "f1b5"}, {"bob", "a7a6"}}
	for i, mv := range moves {
		f.at(time.Duration(i+1) * time.Second)
		require.NoError(t, f.submit(t, mv.who, engine.Move{UCI: mv.uci}).Err)
	}

	v, err := f.room.Since(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, v.Events, 3)
	assert.Equal(t, []int64{4, 5, 6}, []int64{v.Events[0].Revision, v.Events[1].Revision, v.Events[2].Revision})
	assert.True(t, v.Complete)

	// History holds four events; revision 1 is gone.
	v, err = f.room.Since(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, v.Complete)
	assert.Equal(t, int64(6), v.Session.Clock.Revision)

	v, err = f.room.Since(context.Background(), 6)
	require.NoError(t, err)
	assert.Empty(t, v.Events)
	assert.True(t, v.Complete)
}

func TestRoom_ConcurrentSubmissionsAreSerialized(t *testing.T) {
	f := newFixture(t, activeSession())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_, _ = f.room.Submit(ctx, engine.Submission{Principal: "alice", Command: engine.OfferDraw{}})
			_, _ = f.room.Submit(ctx, engine.Submission{Principal: "bob", Command: engine.DeclineDraw{}})
		}()
	}
	wg.Wait()

	v, err := f.room.State(context.Background())
	require.NoError(t, err)
	last := int64(0)
	for i := int64(0); i < v.Session.Clock.Revision; i++ {
		ev := recvEvent(t, f.events, time.Second)
		assert.Greater(t, ev.Revision, last)
		last = ev.Revision
	}
	assert.Equal(t, v.Session.Clock.Revision, last)
}

func TestRoom_ShutdownStopsTicks(t *testing.T) {
	f := newFixture(t, activeSession())
	f.room.Inbox() <- Shutdown{}
	<-f.room.Done()

	assert.False(t, f.room.Tick(t0))
	_, err := f.room.Submit(context.Background(), engine.Submission{Principal: "alice", Command: engine.Heartbeat{}})
	require.ErrorIs(t, err, ErrClosed)
}
