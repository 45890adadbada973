package engine

import "github.com/DoyleJ11/live-chess-backend/internal/clock"

type EventType string

const (
	EvtSeatBound         EventType = "SeatBound"
	EvtSessionStarted    EventType = "SessionStarted"
	EvtMoveMade          EventType = "MoveMade"
	EvtSessionPaused     EventType = "SessionPaused"
	EvtSessionResumed    EventType = "SessionResumed"
	EvtResumeRequested   EventType = "ResumeRequested"
	EvtResumeDeclined    EventType = "ResumeDeclined"
	EvtDrawOffered       EventType = "DrawOffered"
	EvtDrawDeclined      EventType = "DrawDeclined"
	EvtDrawCancelled     EventType = "DrawCancelled"
	EvtAbortRequested    EventType = "AbortRequested"
	EvtAbortDeclined     EventType = "AbortDeclined"
	EvtRequestExpired    EventType = "RequestExpired"
	EvtInactivityWarning EventType = "InactivityWarning"
	EvtSessionFinished   EventType = "SessionFinished"
)

// Event is produced once per applied transition and stamped with the
// revision that transition created.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Revision  int64          `json:"revision"`
	Status    Status         `json:"status"`
	Side      clock.Side     `json:"side,omitempty"`
	Move      string         `json:"move,omitempty"`
	FEN       string         `json:"fen,omitempty"`
	Check     bool           `json:"check,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Clock     clock.Snapshot `json:"clock"`
	Terminal  *Terminal      `json:"terminal,omitempty"`
	// Recipient is the principal notified on its user channel. Private events
	// are shown to the recipient only.
	Recipient string `json:"-"`
	Private   bool   `json:"-"`
}

// VisibleTo reports whether principal may see ev.
func (e Event) VisibleTo(principal string) bool {
	return !e.Private || e.Recipient == principal
}
