package engine

import "github.com/DoyleJ11/live-chess-backend/internal/clock"

// Command is the closed set of inputs the state machine accepts. Client
// commands arrive through the dispatcher; system commands are issued by the
// session's own room (monitor sweep, transport, seat binding) and carry no
// principal.
type Command interface{ isCommand() }

type Move struct{ UCI string }
type Heartbeat struct{}
type PauseRequest struct{}
type ResumeRequest struct{}
type ResumeResponse struct{ Accept bool }
type Resign struct{}
type Forfeit struct{}
type OfferDraw struct{}
type AcceptDraw struct{}
type DeclineDraw struct{}
type CancelDraw struct{}
type RequestAbort struct{ Unilateral bool }
type RespondAbort struct{ Accept bool }
type Ping struct{}

type BindSeat struct {
	Side      clock.Side
	Principal string
	Kind      SeatKind
}
type Disconnect struct{ Principal string }
type Warn struct{ Side clock.Side }
type InactivityPause struct{ Side clock.Side }
type PauseExpired struct{}
type FlagFall struct{}
type ExpireRequest struct{ Kind RequestKind }

func (Move) isCommand()           {}
func (Heartbeat) isCommand()      {}
func (PauseRequest) isCommand()   {}
func (ResumeRequest) isCommand()  {}
func (ResumeResponse) isCommand() {}
func (Resign) isCommand()         {}
func (Forfeit) isCommand()        {}
func (OfferDraw) isCommand()      {}
func (AcceptDraw) isCommand()     {}
func (DeclineDraw) isCommand()    {}
func (CancelDraw) isCommand()     {}
func (RequestAbort) isCommand()   {}
func (RespondAbort) isCommand()   {}
func (Ping) isCommand()           {}

func (BindSeat) isCommand()        {}
func (Disconnect) isCommand()      {}
func (Warn) isCommand()            {}
func (InactivityPause) isCommand() {}
func (PauseExpired) isCommand()    {}
func (FlagFall) isCommand()        {}
func (ExpireRequest) isCommand()   {}

// System reports whether cmd is issued by the server rather than a client.
func System(cmd Command) bool {
	switch cmd.(type) {
	case BindSeat, Disconnect, Warn, InactivityPause, PauseExpired, FlagFall, ExpireRequest:
		return true
	}
	return false
}

// Name is the command's wire and metrics name.
func Name(cmd Command) string {
	switch cmd.(type) {
	case Move:
		return "Move"
	case Heartbeat:
		return "Heartbeat"
	case PauseRequest:
		return "PauseRequest"
	case ResumeRequest:
		return "ResumeRequest"
	case ResumeResponse:
		return "ResumeResponse"
	case Resign:
		return "Resign"
	case Forfeit:
		return "Forfeit"
	case OfferDraw:
		return "OfferDraw"
	case AcceptDraw:
		return "AcceptDraw"
	case DeclineDraw:
		return "DeclineDraw"
	case CancelDraw:
		return "CancelDraw"
	case RequestAbort:
		return "RequestAbort"
	case RespondAbort:
		return "RespondAbort"
	case Ping:
		return "Ping"
	case BindSeat:
		return "BindSeat"
	case Disconnect:
		return "Disconnect"
	case Warn:
		return "Warn"
	case InactivityPause:
		return "InactivityPause"
	case PauseExpired:
		return "PauseExpired"
	case FlagFall:
		return "FlagFall"
	case ExpireRequest:
		return "ExpireRequest"
	}
	return "Unknown"
}

// Submission is a command together with who sent it and the optional
// optimistic-concurrency fields from the envelope.
type Submission struct {
	Principal        string
	Command          Command
	ExpectedRevision *int64
	ClientToken      string
}
