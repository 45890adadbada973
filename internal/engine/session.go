package engine

import (
	"slices"
	"time"

	"github.com/DoyleJ11/live-chess-backend/internal/clock"
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
)

type SeatKind string

const (
	SeatEmpty     SeatKind = ""
	SeatHuman     SeatKind = "human"
	SeatSynthetic SeatKind = "synthetic"
)

type Seat struct {
	Principal string   `json:"principal"`
	Kind      SeatKind `json:"kind"`
	Handshake bool     `json:"handshake"`
}

func (s Seat) Bound() bool { return s.Kind != SeatEmpty && s.Principal != "" }

type PauseReason string

const (
	PauseInactivity PauseReason = "inactivity"
	PauseRequested  PauseReason = "requested"
)

// ReasonPauseElapsed marks the SessionResumed of a voluntary pause that ran
// past the forfeit window.
const ReasonPauseElapsed = "pause_elapsed"

type Pause struct {
	At     time.Time      `json:"paused_at"`
	Reason PauseReason    `json:"paused_reason"`
	By     clock.Side     `json:"paused_by"`
	Saved  clock.Snapshot `json:"saved_clock_snapshot"`
	// Mover is the side whose clock was running when the pause began.
	Mover          clock.Side           `json:"mover"`
	GraceGrantedMs map[clock.Side]int64 `json:"grace_ms_granted_per_side"`
}

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestDeclined  RequestStatus = "declined"
	RequestCancelled RequestStatus = "cancelled"
	RequestExpired   RequestStatus = "expired"
)

// Request is the shared shape of resume requests, draw offers and abort
// requests.
type Request struct {
	By        clock.Side    `json:"by"`
	At        time.Time     `json:"at"`
	ExpiresAt time.Time     `json:"expires_at"`
	Status    RequestStatus `json:"status"`
}

func (r *Request) Pending() bool { return r != nil && r.Status == RequestPending }

func (r *Request) Expired(now time.Time) bool {
	return r.Pending() && !now.Before(r.ExpiresAt)
}

// Live is pending and still inside its TTL.
func (r *Request) Live(now time.Time) bool { return r.Pending() && !r.Expired(now) }

type RequestKind string

const (
	KindResume RequestKind = "resume"
	KindDraw   RequestKind = "draw"
	KindAbort  RequestKind = "abort"
)

type Liveness struct {
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	DisconnectCount int       `json:"disconnect_count"`
	WarnedAt        time.Time `json:"warned_at"`
	// InactivePausedMs accumulates time spent in inactivity pauses caused by
	// this side.
	InactivePausedMs int64 `json:"inactive_paused_ms"`
}

type Result string

const (
	ResultWhiteWins Result = "white_wins"
	ResultBlackWins Result = "black_wins"
	ResultDraw      Result = "draw"
	ResultNoResult  Result = "no_result"
)

type EndReason string

const (
	EndCheckmate            EndReason = "checkmate"
	EndStalemate            EndReason = "stalemate"
	EndThreefold            EndReason = "threefold_repetition"
	EndFiftyMove            EndReason = "fifty_move_rule"
	EndInsufficientMaterial EndReason = "insufficient_material"
	EndTimeout              EndReason = "timeout"
	EndTimeoutByInactivity  EndReason = "timeout_by_inactivity"
	EndResignation          EndReason = "resignation"
	EndForfeit              EndReason = "forfeit"
	EndAbandoned            EndReason = "abandoned"
	EndDrawAgreed           EndReason = "draw_agreed"
	EndAbortedByAgreement   EndReason = "aborted_by_agreement"
)

type Terminal struct {
	Result    Result     `json:"result"`
	EndReason EndReason  `json:"end_reason"`
	Winner    clock.Side `json:"winner"`
	EndedAt   time.Time  `json:"ended_at"`
}

type Session struct {
	ID        string         `json:"id"`
	White     Seat           `json:"white"`
	Black     Seat           `json:"black"`
	Status    Status         `json:"status"`
	Position  Position       `json:"position"`
	Turn      clock.Side     `json:"turn"`
	Clock     clock.Snapshot `json:"clock"`
	Pause     *Pause         `json:"pause,omitempty"`
	Resume    *Request       `json:"resume_request,omitempty"`
	Draw      *Request       `json:"draw_offer,omitempty"`
	Abort     *Request       `json:"abort_request,omitempty"`
	WhiteLive Liveness       `json:"white_liveness"`
	BlackLive Liveness       `json:"black_liveness"`
	Terminal  *Terminal      `json:"terminal,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	// Tokens holds the most recent client tokens of applied moves.
	Tokens []string `json:"tokens,omitempty"`
}

func (s *Session) Seat(side clock.Side) *Seat {
	if side == clock.SideBlack {
		return &s.Black
	}
	return &s.White
}

func (s *Session) Live(side clock.Side) *Liveness {
	if side == clock.SideBlack {
		return &s.BlackLive
	}
	return &s.WhiteLive
}

// SideOf resolves a principal to the seat it is bound to.
func (s *Session) SideOf(principal string) (clock.Side, bool) {
	if principal == "" {
		return clock.SideNone, false
	}
	switch principal {
	case s.White.Principal:
		return clock.SideWhite, true
	case s.Black.Principal:
		return clock.SideBlack, true
	}
	return clock.SideNone, false
}

func (s *Session) PrincipalOf(side clock.Side) string {
	if !side.Valid() {
		return ""
	}
	return s.Seat(side).Principal
}

func (s *Session) Request(kind RequestKind) *Request {
	switch kind {
	case KindResume:
		return s.Resume
	case KindDraw:
		return s.Draw
	case KindAbort:
		return s.Abort
	}
	return nil
}

func (s *Session) setRequest(kind RequestKind, r *Request) {
	switch kind {
	case KindResume:
		s.Resume = r
	case KindDraw:
		s.Draw = r
	case KindAbort:
		s.Abort = r
	}
}

func (s Session) Finished() bool { return s.Status == StatusFinished }

// Clone returns a deep copy so a transition can be computed without touching
// the caller's value.
func (s Session) Clone() Session {
	c := s
	c.Position.Moves = slices.Clone(s.Position.Moves)
	c.Tokens = slices.Clone(s.Tokens)
	if s.Pause != nil {
		p := *s.Pause
		if s.Pause.GraceGrantedMs != nil {
			p.GraceGrantedMs = make(map[clock.Side]int64, len(s.Pause.GraceGrantedMs))
			for k, v := range s.Pause.GraceGrantedMs {
				p.GraceGrantedMs[k] = v
			}
		}
		c.Pause = &p
	}
	c.Resume = cloneRequest(s.Resume)
	c.Draw = cloneRequest(s.Draw)
	c.Abort = cloneRequest(s.Abort)
	if s.Terminal != nil {
		t := *s.Terminal
		c.Terminal = &t
	}
	return c
}

func cloneRequest(r *Request) *Request {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
