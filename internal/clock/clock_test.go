package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMove_ChargesElapsedAndFlips(t *testing.T) {
	s := Start(New(600000, 0), 1000, SideWhite)
	s.Revision = 0

	next, timedOut := Move(s, 13000, SideWhite)
	require.False(t, timedOut)
	assert.Equal(t, int64(588000), next.WhiteMs)
	assert.Equal(t, int64(600000), next.BlackMs)
	assert.Equal(t, SideBlack, next.Running)
	assert.Equal(t, int64(1), next.Revision)
	assert.Equal(t, int64(13000), next.LastServerMs)
}

func TestMove_IncrementAddedAfterDecrement(t *testing.T) {
	cases := []struct {
		name      string
		remaining int64
		elapsed   int64
		want      int64
		timedOut  bool
	}{
		{name: "normal", remaining: 5000, elapsed: 2000, want: 5000},
		{name: "increment cannot rescue a flag", remaining: 2000, elapsed: 2000, want: 0, timedOut: true},
		{name: "overdrawn clamps to zero", remaining: 1000, elapsed: 9000, want: 0, timedOut: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Snapshot{WhiteMs: tc.remaining, BlackMs: 1000, Running: SideWhite, IncrementMs: 2000}
			next, timedOut := Move(s, tc.elapsed, SideWhite)
			if timedOut != tc.timedOut {
				t.Fatalf("timedOut: got %v, want %v", timedOut, tc.timedOut)
			}
			if next.WhiteMs != tc.want {
				t.Fatalf("white_ms: got %d, want %d", next.WhiteMs, tc.want)
			}
			if timedOut && next.Running != SideNone {
				t.Fatalf("running side should be cleared on timeout, got %q", next.Running)
			}
		})
	}
}

func TestMove_BackwardSkewChargesNothing(t *testing.T) {
	s := Snapshot{WhiteMs: 5000, BlackMs: 5000, Running: SideWhite, LastServerMs: 10000}
	next, timedOut := Move(s, 9000, SideWhite)
	require.False(t, timedOut)
	assert.Equal(t, int64(5000), next.WhiteMs)
}

func TestClockConservation(t *testing.T) {
	s := Snapshot{WhiteMs: 300000, BlackMs: 300000, Running: SideBlack, LastServerMs: 50}
	for _, elapsed := range []int64{0, 1, 999, 45000, 299949} {
		next, _ := Move(s, s.LastServerMs+elapsed, SideBlack)
		assert.Equal(t, elapsed, s.BlackMs-next.BlackMs, "elapsed=%d", elapsed)
	}
}

func TestRevisionStrictlyIncreases(t *testing.T) {
	s := Start(New(60000, 1000), 0, SideWhite)
	last := s.Revision
	now := int64(0)
	steps := []func(Snapshot) Snapshot{
		func(s Snapshot) Snapshot { now += 500; n, _ := Move(s, now, SideWhite); return n },
		func(s Snapshot) Snapshot { return Bump(s) },
		func(s Snapshot) Snapshot { now += 500; n, _ := Stop(s, now); return n },
		func(s Snapshot) Snapshot { now += 500; return Resume(s, s, now, SideBlack, 0) },
		func(s Snapshot) Snapshot { now += 500; n, _ := Move(s, now, SideBlack); return n },
	}
	for i, step := range steps {
		s = step(s)
		if s.Revision <= last {
			t.Fatalf("step %d: revision %d did not increase past %d", i, s.Revision, last)
		}
		last = s.Revision
	}
}

func TestStopAndResume_NoDrainWhilePaused(t *testing.T) {
	s := Snapshot{WhiteMs: 100000, BlackMs: 100000, Running: SideBlack, LastServerMs: 0, Revision: 4}

	paused, mover := Stop(s, 70000)
	require.Equal(t, SideBlack, mover)
	assert.Equal(t, int64(30000), paused.BlackMs)
	assert.Equal(t, SideNone, paused.Running)

	live := Bump(paused)
	resumed := Resume(live, paused, 900000, mover, 5000)
	assert.Equal(t, int64(35000), resumed.BlackMs)
	assert.Equal(t, SideBlack, resumed.Running)
	assert.Equal(t, int64(900000), resumed.LastServerMs)
	assert.Equal(t, live.Revision+1, resumed.Revision)
}

func TestFlagged(t *testing.T) {
	s := Snapshot{WhiteMs: 1000, BlackMs: 1000, Running: SideWhite}
	_, ok := Flagged(s, 999)
	assert.False(t, ok)
	side, ok := Flagged(s, 1000)
	assert.True(t, ok)
	assert.Equal(t, SideWhite, side)

	s.Running = SideNone
	_, ok = Flagged(s, 5000)
	assert.False(t, ok)
}

func TestTracker_DiscardsStaleAndDuplicate(t *testing.T) {
	var tr Tracker
	assert.True(t, tr.Accept(0))
	assert.False(t, tr.Accept(0))
	assert.True(t, tr.Accept(3))
	assert.False(t, tr.Accept(2))
	assert.False(t, tr.Accept(3))
	assert.True(t, tr.Accept(4))
	assert.Equal(t, int64(4), tr.Last())

	seeded := NewTracker(10)
	assert.False(t, seeded.Accept(10))
	assert.True(t, seeded.Accept(11))
}
