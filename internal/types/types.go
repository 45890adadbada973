package types

import "github.com/DoyleJ11/live-chess-backend/pkg/types"

// Client frame types.
const (
	FrameCommand = "Command"
	FrameResync  = "Resync"
)

// Server frame types.
const (
	FrameSnapshot = "Snapshot"
	FrameEvent    = "Event"
	FrameResponse = "Response"
	FrameError    = "Error"
)

type ClientMessage struct {
	Type    string                 `json:"type"` // "Command" | "Resync"
	Command *types.CommandEnvelope `json:"command,omitempty"`
}

type ServerMessage struct {
	Type     string               `json:"type"` // "Snapshot" | "Event" | "Response" | "Error"
	Revision int64                `json:"revision,omitempty"`
	Snapshot *types.Snapshot      `json:"snapshot,omitempty"`
	Event    *types.EventEnvelope `json:"event,omitempty"`
	Response *types.Response      `json:"response,omitempty"`
	Error    string               `json:"error,omitempty"`
}
