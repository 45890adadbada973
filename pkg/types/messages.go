// Package types holds the public wire shapes shared by the live socket, the
// HTTP fallback and any client library.
package types

import "encoding/json"

// Command types accepted from clients.
const (
	CmdMove           = "Move"
	CmdHeartbeat      = "Heartbeat"
	CmdPauseRequest   = "PauseRequest"
	CmdResumeRequest  = "ResumeRequest"
	CmdResumeResponse = "ResumeResponse"
	CmdResign         = "Resign"
	CmdForfeit        = "Forfeit"
	CmdOfferDraw      = "OfferDraw"
	CmdAcceptDraw     = "AcceptDraw"
	CmdDeclineDraw    = "DeclineDraw"
	CmdCancelDraw     = "CancelDraw"
	CmdRequestAbort   = "RequestAbort"
	CmdRespondAbort   = "RespondAbort"
	CmdPing           = "Ping"
)

// CommandEnvelope: {session_id, command_type, principal_id, payload, client_token?}
//
// On the socket principal_id may be omitted; the connection's principal is used.
type CommandEnvelope struct {
	RequestID        string          `json:"request_id,omitempty"`
	SessionID        string          `json:"session_id"`
	Type             string          `json:"command_type"`
	Principal        string          `json:"principal_id,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	ClientToken      string          `json:"client_token,omitempty"`
	ExpectedRevision *int64          `json:"expected_revision,omitempty"`
}

// Move: { "uci": "e2e4" }
type MovePayload struct {
	UCI string `json:"uci"`
}

// ResumeResponse, RespondAbort: { "accept": true }
type AnswerPayload struct {
	Accept bool `json:"accept"`
}

// RequestAbort: { "unilateral": false }
type AbortPayload struct {
	Unilateral bool `json:"unilateral"`
}

// Response: {success, error_code?, new_state_summary?}
type Response struct {
	RequestID string   `json:"request_id,omitempty"`
	Success   bool     `json:"success"`
	ErrorCode string   `json:"error_code,omitempty"`
	Message   string   `json:"message,omitempty"`
	State     *Summary `json:"new_state_summary,omitempty"`
	// ServerMs is set on Ping replies for client clock sync.
	ServerMs int64 `json:"server_ms,omitempty"`
}

// EventEnvelope: {session_id, revision, event_type, data}
type EventEnvelope struct {
	SessionID string    `json:"session_id"`
	Revision  int64     `json:"revision"`
	EventType string    `json:"event_type"`
	Data      EventData `json:"data"`
}

type EventData struct {
	Status   string    `json:"status"`
	Side     string    `json:"side,omitempty"`
	Move     string    `json:"move,omitempty"`
	FEN      string    `json:"fen,omitempty"`
	Check    bool      `json:"check,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Clock    Clock     `json:"clock"`
	Terminal *Terminal `json:"terminal,omitempty"`
}

// CreateSession is the pairing hand-off body for POST /sessions.
type CreateSession struct {
	White       string `json:"white"`
	Black       string `json:"black"`
	WhiteKind   string `json:"white_kind,omitempty"`
	BlackKind   string `json:"black_kind,omitempty"`
	InitialMs   int64  `json:"initial_ms,omitempty"`
	IncrementMs int64  `json:"increment_ms,omitempty"`
	StartFEN    string `json:"start_fen,omitempty"`
}

type CreateSessionResponse struct {
	SessionID string   `json:"session_id"`
	State     Snapshot `json:"state"`
}

// BindSeat is the body for POST /sessions/{id}/seats/{side}.
type BindSeat struct {
	Principal string `json:"principal_id"`
	Kind      string `json:"kind,omitempty"`
}

type Events struct {
	SessionID string          `json:"session_id"`
	Revision  int64           `json:"revision"`
	Complete  bool            `json:"complete"`
	Events    []EventEnvelope `json:"events"`
}
