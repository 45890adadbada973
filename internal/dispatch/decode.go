package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/DoyleJ11/live-chess-backend/internal/engine"
	"github.com/DoyleJ11/live-chess-backend/pkg/types"
)

// Decode turns a wire envelope into a typed submission. Only client commands
// decode; system commands have no wire form.
func Decode(env types.CommandEnvelope) (engine.Submission, error) {
	if env.SessionID == "" {
		return engine.Submission{}, fmt.Errorf("%w: missing session_id", engine.ErrUnsupportedCommand)
	}
	if env.Principal == "" {
		return engine.Submission{}, fmt.Errorf("%w: missing principal_id", engine.ErrUnsupportedCommand)
	}

	var cmd engine.Command
	switch env.Type {
	case types.CmdMove:
		var p types.MovePayload
		if err := payload(env, &p, true); err != nil {
			return engine.Submission{}, err
		}
		uci := strings.ToLower(strings.TrimSpace(p.UCI))
		if uci == "" {
			return engine.Submission{}, fmt.Errorf("%w: Move needs payload.uci", engine.ErrUnsupportedCommand)
		}
		cmd = engine.Move{UCI: uci}
	case types.CmdHeartbeat:
		cmd = engine.Heartbeat{}
	case types.CmdPauseRequest:
		cmd = engine.PauseRequest{}
	case types.CmdResumeRequest:
		cmd = engine.ResumeRequest{}
	case types.CmdResumeResponse:
		var p types.AnswerPayload
		if err := payload(env, &p, true); err != nil {
			return engine.Submission{}, err
		}
		cmd = engine.ResumeResponse{Accept: p.Accept}
	case types.CmdResign:
		cmd = engine.Resign{}
	case types.CmdForfeit:
		cmd = engine.Forfeit{}
	case types.CmdOfferDraw:
		cmd = engine.OfferDraw{}
	case types.CmdAcceptDraw:
		cmd = engine.AcceptDraw{}
	case types.CmdDeclineDraw:
		cmd = engine.DeclineDraw{}
	case types.CmdCancelDraw:
		cmd = engine.CancelDraw{}
	case types.CmdRequestAbort:
		var p types.AbortPayload
		if err := payload(env, &p, false); err != nil {
			return engine.Submission{}, err
		}
		cmd = engine.RequestAbort{Unilateral: p.Unilateral}
	case types.CmdRespondAbort:
		var p types.AnswerPayload
		if err := payload(env, &p, true); err != nil {
			return engine.Submission{}, err
		}
		cmd = engine.RespondAbort{Accept: p.Accept}
	case types.CmdPing:
		cmd = engine.Ping{}
	default:
		return engine.Submission{}, fmt.Errorf("%w: %q", engine.ErrUnsupportedCommand, env.Type)
	}

	return engine.Submission{
		Principal:        env.Principal,
		Command:          cmd,
		ExpectedRevision: env.ExpectedRevision,
		ClientToken:      env.ClientToken,
	}, nil
}

func payload(env types.CommandEnvelope, v any, required bool) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		if required {
			return fmt.Errorf("%w: %s needs a payload", engine.ErrUnsupportedCommand, env.Type)
		}
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", engine.ErrUnsupportedCommand, env.Type, err)
	}
	return nil
}
