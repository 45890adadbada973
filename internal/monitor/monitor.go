// Package monitor decides liveness transitions. Evaluate is the policy; the
// Sweeper only asks every live session to evaluate itself on a fixed interval.
package monitor

import (
	"time"

	"github.com/DoyleJ11/live-chess-backend/internal/clock"
	"github.com/DoyleJ11/live-chess-backend/internal/engine"
)

type Thresholds struct {
	WarnAfter    time.Duration
	PauseAfter   time.Duration
	ForfeitAfter time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{WarnAfter: 60 * time.Second, PauseAfter: 70 * time.Second, ForfeitAfter: 30 * time.Minute}
}

var requestKinds = []engine.RequestKind{engine.KindResume, engine.KindDraw, engine.KindAbort}

// Evaluate returns the system commands that are due for s at now, in the
// order they should be applied. It never mutates s.
func Evaluate(s engine.Session, now time.Time, th Thresholds) []engine.Command {
	if s.Finished() {
		return nil
	}

	var cmds []engine.Command
	for _, kind := range requestKinds {
		if s.Request(kind).Expired(now) {
			cmds = append(cmds, engine.ExpireRequest{Kind: kind})
		}
	}

	switch s.Status {
	case engine.StatusActive:
		if _, flagged := clock.Flagged(s.Clock, now.UnixMilli()); flagged {
			return append(cmds, engine.FlagFall{})
		}
		return append(cmds, inactivity(s, now, th)...)

	case engine.StatusPaused:
		if s.Pause == nil {
			return cmds
		}
		paused := now.Sub(s.Pause.At)
		if s.Pause.Reason == engine.PauseInactivity {
			paused += time.Duration(s.Live(s.Pause.By).InactivePausedMs) * time.Millisecond
		}
		if paused >= th.ForfeitAfter {
			cmds = append(cmds, engine.PauseExpired{})
		}
	}
	return cmds
}

func inactivity(s engine.Session, now time.Time, th Thresholds) []engine.Command {
	var idle, warn []clock.Side
	for _, side := range []clock.Side{clock.SideWhite, clock.SideBlack} {
		// Synthetic opponents never go quiet.
		if s.Seat(side).Kind != engine.SeatHuman {
			continue
		}
		live := s.Live(side)
		quiet := now.Sub(live.LastHeartbeatAt)
		switch {
		case quiet >= th.PauseAfter:
			idle = append(idle, side)
		case quiet >= th.WarnAfter && live.WarnedAt.IsZero():
			warn = append(warn, side)
		}
	}

	if len(idle) > 0 {
		// When both went quiet the side on move is the one holding things up.
		side := idle[0]
		for _, candidate := range idle {
			if candidate == s.Clock.Running {
				side = candidate
			}
		}
		return []engine.Command{engine.InactivityPause{Side: side}}
	}

	var cmds []engine.Command
	for _, side := range warn {
		cmds = append(cmds, engine.Warn{Side: side})
	}
	return cmds
}
