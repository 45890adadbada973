// Package clock is the server-side clock authority. Everything here is a pure
// function of a Snapshot and the server time in milliseconds.
package clock

type Side string

const (
	SideNone  Side = ""
	SideWhite Side = "white"
	SideBlack Side = "black"
)

func (s Side) Opponent() Side {
	switch s {
	case SideWhite:
		return SideBlack
	case SideBlack:
		return SideWhite
	default:
		return SideNone
	}
}

func (s Side) Valid() bool { return s == SideWhite || s == SideBlack }

type Snapshot struct {
	WhiteMs      int64 `json:"white_ms"`
	BlackMs      int64 `json:"black_ms"`
	Running      Side  `json:"running_side"`
	LastServerMs int64 `json:"last_server_ms"`
	IncrementMs  int64 `json:"increment_ms"`
	Revision     int64 `json:"revision"`
}

func New(initialMs, incrementMs int64) Snapshot {
	return Snapshot{WhiteMs: initialMs, BlackMs: initialMs, IncrementMs: incrementMs}
}

func (s Snapshot) RemainingOf(side Side) int64 {
	if side == SideBlack {
		return s.BlackMs
	}
	return s.WhiteMs
}

func (s *Snapshot) set(side Side, ms int64) {
	if side == SideBlack {
		s.BlackMs = ms
		return
	}
	s.WhiteMs = ms
}

// elapsed never goes negative, so a server clock stepping backwards cannot
// credit time to anyone.
func elapsed(s Snapshot, nowMs int64) int64 {
	d := nowMs - s.LastServerMs
	if d < 0 {
		return 0
	}
	return d
}

// Bump stamps a transition that does not touch the clocks.
func Bump(s Snapshot) Snapshot {
	s.Revision++
	return s
}

// Start sets the first side running at nowMs.
func Start(s Snapshot, nowMs int64, first Side) Snapshot {
	s.Running = first
	s.LastServerMs = nowMs
	s.Revision++
	return s
}

// Move charges the mover for the time since the last transition, adds the
// increment and hands the clock to the opponent. When the mover has no time
// left the returned snapshot has the mover at zero with nothing running and
// timedOut is true; the move must not be completed.
func Move(s Snapshot, nowMs int64, mover Side) (next Snapshot, timedOut bool) {
	remaining := s.RemainingOf(mover) - elapsed(s, nowMs)
	s.LastServerMs = nowMs
	s.Revision++
	if remaining <= 0 {
		s.set(mover, 0)
		s.Running = SideNone
		return s, true
	}
	s.set(mover, remaining+s.IncrementMs)
	s.Running = mover.Opponent()
	return s, false
}

// Project returns the snapshot as it would read at nowMs without stamping a
// new revision. Used for display and flag checks.
func Project(s Snapshot, nowMs int64) Snapshot {
	if !s.Running.Valid() {
		return s
	}
	remaining := s.RemainingOf(s.Running) - elapsed(s, nowMs)
	if remaining < 0 {
		remaining = 0
	}
	s.set(s.Running, remaining)
	s.LastServerMs = nowMs
	return s
}

// Flagged reports the running side when its time is exhausted at nowMs.
func Flagged(s Snapshot, nowMs int64) (Side, bool) {
	if !s.Running.Valid() {
		return SideNone, false
	}
	if s.RemainingOf(s.Running)-elapsed(s, nowMs) <= 0 {
		return s.Running, true
	}
	return SideNone, false
}

// Stop charges the running side and halts the clock. The running side is
// returned so a pause can remember who was mid-turn.
func Stop(s Snapshot, nowMs int64) (next Snapshot, wasRunning Side) {
	wasRunning = s.Running
	s = Project(s, nowMs)
	s.Running = SideNone
	s.LastServerMs = nowMs
	s.Revision++
	return s, wasRunning
}

// Resume restores a saved pause snapshot. The revision continues from live so
// it never goes backwards; graceMs is credited once to the side that was
// mid-turn when the pause began.
func Resume(live, saved Snapshot, nowMs int64, mover Side, graceMs int64) Snapshot {
	next := saved
	if graceMs > 0 && mover.Valid() {
		next.set(mover, next.RemainingOf(mover)+graceMs)
	}
	next.Running = mover
	next.LastServerMs = nowMs
	next.Revision = live.Revision + 1
	return next
}
