package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/live-chess-backend/internal/clock"
	"github.com/DoyleJ11/live-chess-backend/internal/engine"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func activeSession() engine.Session {
	s := engine.NewSession("s1",
		engine.Seat{Principal: "alice", Kind: engine.SeatHuman, Handshake: true},
		engine.Seat{Principal: "bob", Kind: engine.SeatHuman, Handshake: true},
		engine.Position{}, engine.TimeControl{InitialMs: 600000}, t0)
	s.Status = engine.StatusActive
	s.Clock.Running = clock.SideBlack
	s.Turn = clock.SideBlack
	s.Clock.LastServerMs = t0.UnixMilli()
	s.WhiteLive.LastHeartbeatAt = t0
	s.BlackLive.LastHeartbeatAt = t0
	return s
}

func TestEvaluate_ThreePhases(t *testing.T) {
	th := DefaultThresholds()
	s := activeSession()

	assert.Empty(t, Evaluate(s, t0.Add(59*time.Second), th))

	// white keeps heartbeating, black goes quiet
	s.WhiteLive.LastHeartbeatAt = t0.Add(55 * time.Second)
	cmds := Evaluate(s, t0.Add(60*time.Second), th)
	require.Equal(t, []engine.Command{engine.Warn{Side: clock.SideBlack}}, cmds)

	s.BlackLive.WarnedAt = t0.Add(60 * time.Second)
	assert.Empty(t, Evaluate(s, t0.Add(65*time.Second), th), "warning is emitted once")

	cmds = Evaluate(s, t0.Add(70*time.Second), th)
	require.Equal(t, []engine.Command{engine.InactivityPause{Side: clock.SideBlack}}, cmds)

	s.Status = engine.StatusPaused
	s.Clock.Running = clock.SideNone
	s.Pause = &engine.Pause{At: t0.Add(70 * time.Second), Reason: engine.PauseInactivity, By: clock.SideBlack}
	assert.Empty(t, Evaluate(s, t0.Add(70*time.Second+29*time.Minute), th))
	cmds = Evaluate(s, t0.Add(70*time.Second+30*time.Minute), th)
	assert.Equal(t, []engine.Command{engine.PauseExpired{}}, cmds)
}

func TestEvaluate_CumulativeInactivityPause(t *testing.T) {
	th := DefaultThresholds()
	s := activeSession()
	s.Status = engine.StatusPaused
	s.Clock.Running = clock.SideNone
	s.BlackLive.InactivePausedMs = (20 * time.Minute).Milliseconds()
	s.Pause = &engine.Pause{At: t0, Reason: engine.PauseInactivity, By: clock.SideBlack}

	assert.Empty(t, Evaluate(s, t0.Add(9*time.Minute), th))
	assert.Equal(t, []engine.Command{engine.PauseExpired{}}, Evaluate(s, t0.Add(10*time.Minute), th))
}

func TestEvaluate_BothQuietPausesSideOnMove(t *testing.T) {
	s := activeSession()
	cmds := Evaluate(s, t0.Add(2*time.Minute), DefaultThresholds())
	assert.Equal(t, []engine.Command{engine.InactivityPause{Side: clock.SideBlack}}, cmds)
}

func TestEvaluate_SyntheticSeatExempt(t *testing.T) {
	s := activeSession()
	s.Black.Kind = engine.SeatSynthetic
	s.WhiteLive.LastHeartbeatAt = t0.Add(2 * time.Minute)
	assert.Empty(t, Evaluate(s, t0.Add(2*time.Minute), DefaultThresholds()))
}

func TestEvaluate_FlagFallBeatsInactivity(t *testing.T) {
	s := activeSession()
	s.Clock.BlackMs = 30000
	cmds := Evaluate(s, t0.Add(2*time.Minute), DefaultThresholds())
	assert.Equal(t, []engine.Command{engine.FlagFall{}}, cmds)
}

func TestEvaluate_ExpiresRequestsFirst(t *testing.T) {
	s := activeSession()
	s.Draw = &engine.Request{By: clock.SideWhite, At: t0, ExpiresAt: t0.Add(time.Minute), Status: engine.RequestPending}
	s.Abort = &engine.Request{By: clock.SideWhite, At: t0, ExpiresAt: t0.Add(time.Hour), Status: engine.RequestPending}
	s.WhiteLive.LastHeartbeatAt = t0.Add(time.Minute)
	s.BlackLive.LastHeartbeatAt = t0.Add(time.Minute)

	cmds := Evaluate(s, t0.Add(time.Minute), DefaultThresholds())
	assert.Equal(t, []engine.Command{engine.ExpireRequest{Kind: engine.KindDraw}}, cmds)
}

func TestEvaluate_FinishedIsIgnored(t *testing.T) {
	s := activeSession()
	s.Status = engine.StatusFinished
	s.Clock.Running = clock.SideNone
	assert.Nil(t, Evaluate(s, t0.Add(time.Hour), DefaultThresholds()))
}

func TestEvaluate_AppliesCleanlyThroughEngine(t *testing.T) {
	th := DefaultThresholds()
	s := activeSession()
	env := engine.Env{Policy: engine.Policy{}}
	s.WhiteLive.LastHeartbeatAt = t0.Add(65 * time.Second)

	for _, at := range []time.Duration{60 * time.Second, 70 * time.Second, 70*time.Second + 30*time.Minute} {
		env.Now = t0.Add(at)
		for _, cmd := range Evaluate(s, env.Now, th) {
			_, next, err := engine.Apply(s, engine.Submission{Command: cmd}, env)
			require.NoError(t, err, engine.Name(cmd))
			s = next
		}
	}
	require.Equal(t, engine.StatusFinished, s.Status)
	assert.Equal(t, engine.ResultWhiteWins, s.Terminal.Result)
	assert.Equal(t, engine.EndTimeoutByInactivity, s.Terminal.EndReason)
}

func TestEvaluate_VoluntaryPauseNeverCostsAnActiveSide(t *testing.T) {
	th := DefaultThresholds()
	s := activeSession()
	env := engine.Env{Policy: engine.Policy{ResumeTTL: time.Minute}}
	try := func(principal string, cmd engine.Command) {
		if _, next, err := engine.Apply(s, engine.Submission{Principal: principal, Command: cmd}, env); err == nil {
			s = next
		}
	}

	env.Now = t0.Add(10 * time.Second)
	try("alice", engine.PauseRequest{})
	require.Equal(t, engine.StatusPaused, s.Status)

	// alice keeps asking to resume, bob keeps declining.
	resumed := false
	for minute := 1; minute <= 45; minute++ {
		env.Now = t0.Add(10*time.Second + time.Duration(minute)*time.Minute)
		try("alice", engine.Heartbeat{})
		try("bob", engine.Heartbeat{})
		try("alice", engine.ResumeRequest{})
		try("bob", engine.ResumeResponse{Accept: false})
		for _, cmd := range Evaluate(s, env.Now, th) {
			events, next, err := engine.Apply(s, engine.Submission{Command: cmd}, env)
			require.NoError(t, err, engine.Name(cmd))
			if engine.ContainsEvent(events, engine.EvtSessionResumed) {
				resumed = true
				assert.Equal(t, engine.ReasonPauseElapsed, events[0].Reason)
			}
			s = next
		}
		require.False(t, s.Finished(), "minute %d: %+v", minute, s.Terminal)
	}
	assert.True(t, resumed)
	assert.Equal(t, engine.StatusActive, s.Status)
}

type fakeTarget struct {
	mu    sync.Mutex
	ticks []time.Time
	busy  bool
}

func (f *fakeTarget) Tick(now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return false
	}
	f.ticks = append(f.ticks, now)
	return true
}

type fakeRegistry []Target

func (r fakeRegistry) Targets(context.Context) []Target { return r }

func TestSweeper_TicksEveryTarget(t *testing.T) {
	a, b := &fakeTarget{}, &fakeTarget{busy: true}
	sw := NewSweeper(fakeRegistry{a, b}, time.Second, func() time.Time { return t0 }, zap.NewNop(), nil)

	missed := sw.Sweep(context.Background())

	assert.Equal(t, 1, missed)
	assert.Equal(t, []time.Time{t0}, a.ticks)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	a := &fakeTarget{}
	sw := NewSweeper(fakeRegistry{a}, 5*time.Millisecond, nil, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return len(a.ticks) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
