package engine

import (
	"time"

	"github.com/DoyleJ11/live-chess-backend/internal/clock"
)

type TimeControl struct {
	InitialMs   int64 `json:"initial_ms"`
	IncrementMs int64 `json:"increment_ms"`
}

// NewSession builds a Waiting session. Synthetic seats count as handshaken.
func NewSession(id string, white, black Seat, start Position, tc TimeControl, now time.Time) Session {
	if white.Kind == SeatSynthetic {
		white.Handshake = true
	}
	if black.Kind == SeatSynthetic {
		black.Handshake = true
	}
	if start.FEN == "" {
		start.FEN = start.StartFEN
	}
	return Session{
		ID:        id,
		White:     white,
		Black:     black,
		Status:    StatusWaiting,
		Position:  start,
		Turn:      clock.SideWhite,
		Clock:     clock.New(tc.InitialMs, tc.IncrementMs),
		CreatedAt: now,
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func Winner(side clock.Side) Result {
	switch side {
	case clock.SideWhite:
		return ResultWhiteWins
	case clock.SideBlack:
		return ResultBlackWins
	}
	return ResultNoResult
}

func touch(n *Session, side clock.Side, now time.Time) {
	live := n.Live(side)
	live.LastHeartbeatAt = now
	live.WarnedAt = time.Time{}
}

// Rebase restarts the time bases of a session read back from storage after
// the process was down, so the outage is charged to neither side. Running
// clocks count from now, both liveness windows reopen and a pause starts
// its window again. The revision is unchanged.
func Rebase(s Session, now time.Time) Session {
	if s.Status != StatusActive && s.Status != StatusPaused {
		return s
	}
	n := s.Clone()
	if n.Status == StatusActive && n.Clock.Running.Valid() {
		n.Clock.LastServerMs = now.UnixMilli()
	}
	if n.Status == StatusPaused && n.Pause != nil {
		n.Pause.At = now
	}
	touch(&n, clock.SideWhite, now)
	touch(&n, clock.SideBlack, now)
	return n
}

func maybeStart(n *Session, env Env, actor clock.Side) (Event, bool) {
	if n.Status != StatusWaiting {
		return Event{}, false
	}
	for _, seat := range []Seat{n.White, n.Black} {
		if !seat.Bound() || !seat.Handshake {
			return Event{}, false
		}
	}
	n.Status = StatusActive
	n.Clock = clock.Start(n.Clock, env.ms(), n.Turn)
	// Both sides start with a clean liveness window.
	touch(n, clock.SideWhite, env.Now)
	touch(n, clock.SideBlack, env.Now)
	return stamp(n, Event{Type: EvtSessionStarted, Side: n.Turn, Recipient: n.PrincipalOf(actor.Opponent())}), true
}

func pause(n *Session, env Env, reason PauseReason, by clock.Side) Event {
	stopped, mover := clock.Stop(n.Clock, env.ms())
	n.Clock = stopped
	n.Status = StatusPaused
	n.Resume = nil
	n.Pause = &Pause{
		At:             env.Now,
		Reason:         reason,
		By:             by,
		Saved:          stopped,
		Mover:          mover,
		GraceGrantedMs: map[clock.Side]int64{mover: env.Policy.ResumeGrace.Milliseconds()},
	}
	return stamp(n, Event{
		Type:      EvtSessionPaused,
		Side:      by,
		Reason:    string(reason),
		Recipient: n.PrincipalOf(by.Opponent()),
	})
}

func resume(n *Session, env Env) Event {
	p := n.Pause
	if p.Reason == PauseInactivity {
		n.Live(p.By).InactivePausedMs += env.Now.Sub(p.At).Milliseconds()
	}
	if n.Resume.Pending() {
		n.Resume.Status = RequestCancelled
	}
	n.Clock = clock.Resume(n.Clock, p.Saved, env.ms(), p.Mover, p.GraceGrantedMs[p.Mover])
	n.Status = StatusActive
	n.Pause = nil
	touch(n, clock.SideWhite, env.Now)
	touch(n, clock.SideBlack, env.Now)
	return stamp(n, Event{
		Type:      EvtSessionResumed,
		Side:      p.By,
		Reason:    string(p.Reason),
		Recipient: n.PrincipalOf(p.By.Opponent()),
	})
}

// finish ends the session with loser losing, stamping a new revision.
func finish(n *Session, env Env, loser clock.Side, reason EndReason) Event {
	haltClock(n, env)
	return finishStamped(n, env, loser, reason)
}

// finishStamped ends the session when the caller has already advanced the
// revision for this transition.
func finishStamped(n *Session, env Env, loser clock.Side, reason EndReason) Event {
	winner := loser.Opponent()
	return conclude(n, env, Terminal{Result: Winner(winner), EndReason: reason, Winner: winner}, loser, n.PrincipalOf(winner))
}

func finishDraw(n *Session, env Env, reason EndReason, recipient string) Event {
	haltClock(n, env)
	return finishDrawStamped(n, env, reason, recipient)
}

func finishDrawStamped(n *Session, env Env, reason EndReason, recipient string) Event {
	return conclude(n, env, Terminal{Result: ResultDraw, EndReason: reason}, clock.SideNone, recipient)
}

func finishNoResult(n *Session, env Env, recipient string) Event {
	haltClock(n, env)
	return conclude(n, env, Terminal{Result: ResultNoResult, EndReason: EndAbortedByAgreement}, clock.SideNone, recipient)
}

func haltClock(n *Session, env Env) {
	if n.Clock.Running.Valid() {
		n.Clock, _ = clock.Stop(n.Clock, env.ms())
		return
	}
	n.Clock = clock.Bump(n.Clock)
}

func conclude(n *Session, env Env, t Terminal, side clock.Side, recipient string) Event {
	t.EndedAt = env.Now
	n.Clock.Running = clock.SideNone
	n.Status = StatusFinished
	n.Pause = nil
	n.Terminal = &t
	return stamp(n, Event{Type: EvtSessionFinished, Side: side, Reason: string(t.EndReason), Recipient: recipient})
}

func bump(n *Session, ev Event) Event {
	n.Clock = clock.Bump(n.Clock)
	return stamp(n, ev)
}

func stamp(n *Session, ev Event) Event {
	ev.SessionID = n.ID
	ev.Revision = n.Clock.Revision
	ev.Status = n.Status
	ev.Clock = n.Clock
	if n.Terminal != nil {
		t := *n.Terminal
		ev.Terminal = &t
	}
	return ev
}
