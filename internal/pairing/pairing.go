// Package pairing is the contract with the matchmaking and tournament side:
// it hands sessions in and takes terminal results back.
package pairing

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/live-chess-backend/internal/clock"
	"github.com/DoyleJ11/live-chess-backend/internal/engine"
)

var ErrInvalidHandoff = errors.New("invalid session hand-off")

// Handoff is what the pairing service sends to open a session. An empty
// principal leaves that seat unassigned until a BindSeat arrives.
type Handoff struct {
	White       string          `json:"white"`
	Black       string          `json:"black"`
	WhiteKind   engine.SeatKind `json:"white_kind,omitempty"`
	BlackKind   engine.SeatKind `json:"black_kind,omitempty"`
	InitialMs   int64           `json:"initial_ms,omitempty"`
	IncrementMs int64           `json:"increment_ms,omitempty"`
	StartFEN    string          `json:"start_fen,omitempty"`
}

// Seats resolves the two seats, defaulting bound principals to human.
func (h Handoff) Seats() (white, black engine.Seat, err error) {
	white, err = seat(h.White, h.WhiteKind)
	if err != nil {
		return
	}
	black, err = seat(h.Black, h.BlackKind)
	if err != nil {
		return
	}
	if white.Bound() && black.Bound() && white.Principal == black.Principal {
		err = errors.Join(ErrInvalidHandoff, errors.New("same principal on both seats"))
	}
	return
}

func (h Handoff) TimeControl(def engine.TimeControl) (engine.TimeControl, error) {
	if h.InitialMs < 0 || h.IncrementMs < 0 {
		return engine.TimeControl{}, errors.Join(ErrInvalidHandoff, errors.New("negative time control"))
	}
	tc := def
	if h.InitialMs > 0 {
		tc.InitialMs = h.InitialMs
		tc.IncrementMs = h.IncrementMs
	}
	return tc, nil
}

func seat(principal string, kind engine.SeatKind) (engine.Seat, error) {
	if principal == "" {
		if kind != engine.SeatEmpty {
			return engine.Seat{}, errors.Join(ErrInvalidHandoff, errors.New("seat kind without principal"))
		}
		return engine.Seat{}, nil
	}
	switch kind {
	case engine.SeatEmpty:
		kind = engine.SeatHuman
	case engine.SeatHuman, engine.SeatSynthetic:
	default:
		return engine.Seat{}, errors.Join(ErrInvalidHandoff, errors.New("unknown seat kind "+string(kind)))
	}
	return engine.Seat{Principal: principal, Kind: kind}, nil
}

// Result is the terminal outcome reported back once a session finishes.
type Result struct {
	SessionID string           `json:"session_id"`
	White     string           `json:"white"`
	Black     string           `json:"black"`
	Result    engine.Result    `json:"result"`
	EndReason engine.EndReason `json:"end_reason"`
	Winner    clock.Side       `json:"winner,omitempty"`
	Moves     int              `json:"moves"`
	EndedAt   time.Time        `json:"ended_at"`
}

// ResultOf extracts the result of a finished session.
func ResultOf(s engine.Session) (Result, bool) {
	if !s.Finished() || s.Terminal == nil {
		return Result{}, false
	}
	return Result{
		SessionID: s.ID,
		White:     s.White.Principal,
		Black:     s.Black.Principal,
		Result:    s.Terminal.Result,
		EndReason: s.Terminal.EndReason,
		Winner:    s.Terminal.Winner,
		Moves:     len(s.Position.Moves),
		EndedAt:   s.Terminal.EndedAt,
	}, true
}

// ResultSink receives results. Report must be idempotent per session id.
type ResultSink interface {
	Report(ctx context.Context, r Result) error
}

// Discard drops every result; used when no pairing service is wired.
type Discard struct{}

func (Discard) Report(context.Context, Result) error { return nil }
