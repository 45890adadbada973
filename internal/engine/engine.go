// Package engine is the session state machine. Apply is a pure reducer: it
// never mutates its input, and on error the returned session is the input.
package engine

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/DoyleJ11/live-chess-backend/internal/clock"
)

const maxTokens = 32

// Policy holds the tunables the reducer needs. The monitor thresholds live
// with the monitor.
type Policy struct {
	OfferTTL    time.Duration
	ResumeTTL   time.Duration
	AbortTTL    time.Duration
	ResumeGrace time.Duration
}

type Env struct {
	Now    time.Time
	Rules  Rules
	Policy Policy
}

func (e Env) ms() int64 { return e.Now.UnixMilli() }

/*
	Move           -> MoveMade (or SessionFinished when the move ends the game or the mover flagged)
	Heartbeat      -> nothing, SessionStarted (both handshakes in) or SessionResumed (inactive side back)
	PauseRequest   -> SessionPaused
	ResumeRequest  -> ResumeRequested, or SessionResumed when the inactive side asks
	ResumeResponse -> SessionResumed | ResumeDeclined
	Resign/Forfeit -> SessionFinished, actor loses
	OfferDraw      -> DrawOffered;  AcceptDraw -> SessionFinished;  DeclineDraw/CancelDraw -> DrawDeclined/DrawCancelled
	RequestAbort   -> AbortRequested, or SessionFinished (unilateral, actor loses)
	RespondAbort   -> SessionFinished (no result) | AbortDeclined
*/

func Apply(s Session, sub Submission, env Env) ([]Event, Session, error) {
	if s.Finished() {
		return nil, s, ErrSessionFinished
	}
	if sub.Command == nil {
		return nil, s, ErrUnsupportedCommand
	}
	system := System(sub.Command)
	side, ok := s.SideOf(sub.Principal)
	if !system && !ok {
		return nil, s, ErrUnauthorized
	}
	if sub.ExpectedRevision != nil && *sub.ExpectedRevision != s.Clock.Revision {
		return nil, s, fmt.Errorf("%w: have %d, session at %d", ErrStaleRevision, *sub.ExpectedRevision, s.Clock.Revision)
	}
	if system {
		return applySystem(s, sub.Command, env)
	}

	n := s.Clone()
	var events []Event
	var err error

	switch cmd := sub.Command.(type) {
	case Move:
		if sub.ClientToken != "" && slices.Contains(s.Tokens, sub.ClientToken) {
			return nil, s, ErrConcurrentConflict
		}
		events, err = applyMove(&n, side, cmd, sub.ClientToken, env)

	case Heartbeat:
		events, err = applyHeartbeat(&n, side, env)

	case PauseRequest:
		if err = requireActive(&n); err == nil {
			events = []Event{pause(&n, env, PauseRequested, side)}
		}

	case ResumeRequest:
		events, err = applyResumeRequest(&n, side, env)

	case ResumeResponse:
		events, err = applyResumeResponse(&n, side, cmd.Accept, env)

	case Resign:
		if err = requireStarted(&n); err == nil {
			events = []Event{finish(&n, env, side, EndResignation)}
		}

	case Forfeit:
		if err = requireStarted(&n); err == nil {
			events = []Event{finish(&n, env, side, EndForfeit)}
		}

	case OfferDraw:
		if err = requireActive(&n); err == nil {
			events, err = openRequest(&n, KindDraw, side, env.Policy.OfferTTL, EvtDrawOffered, env)
		}

	case AcceptDraw:
		if err = requireActive(&n); err == nil {
			if _, err = respondable(&n, KindDraw, side, env); err == nil {
				n.Draw.Status = RequestAccepted
				events = []Event{finishDraw(&n, env, EndDrawAgreed, n.PrincipalOf(n.Draw.By))}
			}
		}

	case DeclineDraw:
		if err = requireActive(&n); err == nil {
			var r *Request
			if r, err = respondable(&n, KindDraw, side, env); err == nil {
				r.Status = RequestDeclined
				events = []Event{bump(&n, Event{Type: EvtDrawDeclined, Side: side, Recipient: n.PrincipalOf(r.By)})}
			}
		}

	case CancelDraw:
		events, err = applyCancelDraw(&n, side, env)

	case RequestAbort:
		if err = requireStarted(&n); err != nil {
			break
		}
		if cmd.Unilateral {
			events = []Event{finish(&n, env, side, EndAbandoned)}
			break
		}
		events, err = openRequest(&n, KindAbort, side, env.Policy.AbortTTL, EvtAbortRequested, env)

	case RespondAbort:
		if err = requireStarted(&n); err != nil {
			break
		}
		var r *Request
		if r, err = respondable(&n, KindAbort, side, env); err != nil {
			break
		}
		if cmd.Accept {
			r.Status = RequestAccepted
			events = []Event{finishNoResult(&n, env, n.PrincipalOf(r.By))}
			break
		}
		r.Status = RequestDeclined
		events = []Event{bump(&n, Event{Type: EvtAbortDeclined, Side: side, Recipient: n.PrincipalOf(r.By)})}

	case Ping:
		return nil, s, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}

	if err != nil {
		return nil, s, err
	}
	return events, n, nil
}

func applySystem(s Session, c Command, env Env) ([]Event, Session, error) {
	n := s.Clone()
	switch cmd := c.(type) {
	case BindSeat:
		if n.Status != StatusWaiting {
			return nil, s, ErrNotReady
		}
		if !cmd.Side.Valid() || cmd.Principal == "" || cmd.Kind == SeatEmpty {
			return nil, s, ErrUnsupportedCommand
		}
		if other, ok := n.SideOf(cmd.Principal); ok && other != cmd.Side {
			return nil, s, ErrSeatTaken
		}
		seat := n.Seat(cmd.Side)
		if seat.Bound() {
			return nil, s, ErrSeatTaken
		}
		*seat = Seat{Principal: cmd.Principal, Kind: cmd.Kind, Handshake: cmd.Kind == SeatSynthetic}
		events := []Event{bump(&n, Event{Type: EvtSeatBound, Side: cmd.Side, Recipient: n.PrincipalOf(cmd.Side.Opponent())})}
		if ev, ok := maybeStart(&n, env, cmd.Side); ok {
			events = append(events, ev)
		}
		return events, n, nil

	case Disconnect:
		side, ok := n.SideOf(cmd.Principal)
		if !ok {
			return nil, s, ErrUnauthorized
		}
		n.Live(side).DisconnectCount++
		return nil, n, nil

	case Warn:
		if n.Status != StatusActive {
			return nil, s, ErrNotReady
		}
		n.Live(cmd.Side).WarnedAt = env.Now
		ev := bump(&n, Event{Type: EvtInactivityWarning, Side: cmd.Side, Recipient: n.PrincipalOf(cmd.Side), Private: true})
		return []Event{ev}, n, nil

	case InactivityPause:
		if n.Status != StatusActive {
			return nil, s, ErrNotReady
		}
		n.Live(cmd.Side).DisconnectCount++
		return []Event{pause(&n, env, PauseInactivity, cmd.Side)}, n, nil

	case PauseExpired:
		if n.Status != StatusPaused || n.Pause == nil {
			return nil, s, ErrNotPaused
		}
		if n.Pause.Reason != PauseInactivity {
			// Nobody went quiet, so nobody loses: the pause runs out and play
			// continues. Whoever is really gone is caught by the monitor.
			ev := resume(&n, env)
			ev.Reason = ReasonPauseElapsed
			return []Event{ev}, n, nil
		}
		return []Event{finish(&n, env, n.Pause.By, EndTimeoutByInactivity)}, n, nil

	case FlagFall:
		side, flagged := clock.Flagged(n.Clock, env.ms())
		if n.Status != StatusActive || !flagged {
			return nil, s, ErrNotReady
		}
		return []Event{finish(&n, env, side, EndTimeout)}, n, nil

	case ExpireRequest:
		r := n.Request(cmd.Kind)
		if !r.Expired(env.Now) {
			return nil, s, ErrNoPendingRequest
		}
		r.Status = RequestExpired
		ev := bump(&n, Event{Type: EvtRequestExpired, Side: r.By, Reason: string(cmd.Kind), Recipient: n.PrincipalOf(r.By)})
		return []Event{ev}, n, nil
	}
	return nil, s, ErrUnsupportedCommand
}

func applyMove(n *Session, side clock.Side, cmd Move, token string, env Env) ([]Event, error) {
	var events []Event
	switch n.Status {
	case StatusWaiting:
		return nil, ErrNotReady
	case StatusPaused:
		// A move from the side that went quiet counts as coming back. It
		// resumes only together with a valid move on turn; any rejection
		// leaves the pause in place and a heartbeat is the way back.
		if n.Pause.Reason != PauseInactivity || n.Pause.By != side {
			return nil, ErrSessionPaused
		}
		events = append(events, resume(n, env))
	}
	if n.Turn != side {
		return nil, ErrNotYourTurn
	}
	if env.Rules == nil {
		return nil, fmt.Errorf("%w: no rules engine", ErrNotReady)
	}

	res, err := env.Rules.ApplyMove(n.Position, cmd.UCI)
	if err != nil {
		if !errors.Is(err, ErrIllegalMove) {
			err = fmt.Errorf("%w: %v", ErrIllegalMove, err)
		}
		return nil, err
	}

	touch(n, side, env.Now)
	next, timedOut := clock.Move(n.Clock, env.ms(), side)
	n.Clock = next
	if timedOut {
		return append(events, finishStamped(n, env, side, EndTimeout)), nil
	}

	n.Position = res.Position
	n.Turn = side.Opponent()
	if token != "" {
		n.Tokens = append(n.Tokens, token)
		if len(n.Tokens) > maxTokens {
			n.Tokens = n.Tokens[len(n.Tokens)-maxTokens:]
		}
	}
	// Moving declines a draw the opponent offered.
	if n.Draw.Pending() && n.Draw.By != side {
		n.Draw.Status = RequestDeclined
	}

	if reason, loser, over := outcomeOf(res, side); over {
		if loser.Valid() {
			ev := finishStamped(n, env, loser, reason)
			ev.Move, ev.FEN, ev.Check = cmd.UCI, n.Position.FEN, res.IsCheck
			return append(events, ev), nil
		}
		ev := finishDrawStamped(n, env, reason, n.PrincipalOf(side.Opponent()))
		ev.Move, ev.FEN = cmd.UCI, n.Position.FEN
		return append(events, ev), nil
	}

	ev := stamp(n, Event{
		Type:      EvtMoveMade,
		Side:      side,
		Move:      cmd.UCI,
		FEN:       n.Position.FEN,
		Check:     res.IsCheck,
		Recipient: n.PrincipalOf(side.Opponent()),
	})
	return append(events, ev), nil
}

// outcomeOf derives a terminal outcome from the rules engine's flags. loser
// is SideNone for draws.
func outcomeOf(res MoveResult, mover clock.Side) (EndReason, clock.Side, bool) {
	switch {
	case res.IsMate:
		return EndCheckmate, mover.Opponent(), true
	case res.IsStalemate:
		return EndStalemate, clock.SideNone, true
	case res.IsInsufficientMaterial:
		return EndInsufficientMaterial, clock.SideNone, true
	case res.IsThreefold:
		return EndThreefold, clock.SideNone, true
	case res.IsFiftyMove:
		return EndFiftyMove, clock.SideNone, true
	}
	return "", clock.SideNone, false
}

func applyHeartbeat(n *Session, side clock.Side, env Env) ([]Event, error) {
	touch(n, side, env.Now)
	switch n.Status {
	case StatusWaiting:
		n.Seat(side).Handshake = true
		if ev, ok := maybeStart(n, env, side); ok {
			return []Event{ev}, nil
		}
	case StatusPaused:
		if n.Pause.Reason == PauseInactivity && n.Pause.By == side {
			return []Event{resume(n, env)}, nil
		}
	}
	return nil, nil
}

func applyResumeRequest(n *Session, side clock.Side, env Env) ([]Event, error) {
	if n.Status != StatusPaused {
		return nil, ErrNotPaused
	}
	if n.Pause.Reason == PauseInactivity && n.Pause.By == side {
		touch(n, side, env.Now)
		return []Event{resume(n, env)}, nil
	}
	return openRequest(n, KindResume, side, env.Policy.ResumeTTL, EvtResumeRequested, env)
}

func applyResumeResponse(n *Session, side clock.Side, accept bool, env Env) ([]Event, error) {
	if n.Status != StatusPaused {
		return nil, ErrNotPaused
	}
	r, err := respondable(n, KindResume, side, env)
	if err != nil {
		return nil, err
	}
	if !accept {
		r.Status = RequestDeclined
		return []Event{bump(n, Event{Type: EvtResumeDeclined, Side: side, Recipient: n.PrincipalOf(r.By)})}, nil
	}
	r.Status = RequestAccepted
	return []Event{resume(n, env)}, nil
}

func applyCancelDraw(n *Session, side clock.Side, env Env) ([]Event, error) {
	if err := requireActive(n); err != nil {
		return nil, err
	}
	r := n.Draw
	if !r.Pending() {
		return nil, ErrNoPendingRequest
	}
	if r.By != side {
		return nil, ErrUnauthorized
	}
	if r.Expired(env.Now) {
		return nil, ErrRequestExpired
	}
	r.Status = RequestCancelled
	return []Event{bump(n, Event{Type: EvtDrawCancelled, Side: side, Recipient: n.PrincipalOf(side.Opponent())})}, nil
}

// openRequest creates a pending request of kind. An expired request that the
// sweep has not cleared yet does not block a new one.
func openRequest(n *Session, kind RequestKind, side clock.Side, ttl time.Duration, typ EventType, env Env) ([]Event, error) {
	if n.Request(kind).Live(env.Now) {
		return nil, ErrRequestAlreadyPending
	}
	n.setRequest(kind, &Request{By: side, At: env.Now, ExpiresAt: env.Now.Add(ttl), Status: RequestPending})
	return []Event{bump(n, Event{Type: typ, Side: side, Recipient: n.PrincipalOf(side.Opponent())})}, nil
}

// respondable returns the pending request of kind when side may answer it.
func respondable(n *Session, kind RequestKind, side clock.Side, env Env) (*Request, error) {
	r := n.Request(kind)
	if !r.Pending() {
		return nil, ErrNoPendingRequest
	}
	if r.By == side {
		return nil, ErrUnauthorized
	}
	if r.Expired(env.Now) {
		return nil, ErrRequestExpired
	}
	return r, nil
}

func requireActive(n *Session) error {
	switch n.Status {
	case StatusActive:
		return nil
	case StatusPaused:
		return ErrSessionPaused
	}
	return ErrNotReady
}

func requireStarted(n *Session) error {
	if n.Status == StatusActive || n.Status == StatusPaused {
		return nil
	}
	return ErrNotReady
}
