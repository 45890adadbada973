package types

import "time"

type Clock struct {
	WhiteMs      int64  `json:"white_ms"`
	BlackMs      int64  `json:"black_ms"`
	Running      string `json:"running_side,omitempty"`
	LastServerMs int64  `json:"last_server_ms"`
	IncrementMs  int64  `json:"increment_ms"`
	Revision     int64  `json:"revision"`
}

type Terminal struct {
	Result    string    `json:"result"`
	EndReason string    `json:"end_reason"`
	Winner    string    `json:"winner,omitempty"`
	EndedAt   time.Time `json:"ended_at"`
}

// Summary is the compact state returned with every command response.
type Summary struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Turn      string    `json:"turn,omitempty"`
	FEN       string    `json:"fen"`
	Ply       int       `json:"ply"`
	Clock     Clock     `json:"clock"`
	Terminal  *Terminal `json:"terminal,omitempty"`
}

type Seat struct {
	Principal string `json:"principal_id,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Ready     bool   `json:"ready"`
}

type Pause struct {
	At     time.Time `json:"paused_at"`
	Reason string    `json:"paused_reason"`
	By     string    `json:"paused_by"`
}

type Request struct {
	By        string    `json:"by"`
	At        time.Time `json:"at"`
	ExpiresAt time.Time `json:"expires_at"`
	Status    string    `json:"status"`
}

type Liveness struct {
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	DisconnectCount int       `json:"disconnect_count"`
	Warned          bool      `json:"warned"`
}

// Snapshot is the full session view served to the polling fallback and sent
// when a socket connects.
type Snapshot struct {
	Summary
	White     Seat      `json:"white"`
	Black     Seat      `json:"black"`
	Moves     []string  `json:"moves"`
	Pause     *Pause    `json:"pause,omitempty"`
	Resume    *Request  `json:"resume_request,omitempty"`
	Draw      *Request  `json:"draw_offer,omitempty"`
	Abort     *Request  `json:"abort_request,omitempty"`
	WhiteLive Liveness  `json:"white_liveness"`
	BlackLive Liveness  `json:"black_liveness"`
	CreatedAt time.Time `json:"created_at"`
}
