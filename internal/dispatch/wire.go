package dispatch

import (
	"github.com/DoyleJ11/live-chess-backend/internal/clock"
	"github.com/DoyleJ11/live-chess-backend/internal/engine"
	"github.com/DoyleJ11/live-chess-backend/pkg/types"
)

func wireClock(c clock.Snapshot) types.Clock {
	return types.Clock{
		WhiteMs:      c.WhiteMs,
		BlackMs:      c.BlackMs,
		Running:      string(c.Running),
		LastServerMs: c.LastServerMs,
		IncrementMs:  c.IncrementMs,
		Revision:     c.Revision,
	}
}

func wireTerminal(t *engine.Terminal) *types.Terminal {
	if t == nil {
		return nil
	}
	return &types.Terminal{
		Result:    string(t.Result),
		EndReason: string(t.EndReason),
		Winner:    string(t.Winner),
		EndedAt:   t.EndedAt,
	}
}

func wireRequest(r *engine.Request) *types.Request {
	if r == nil {
		return nil
	}
	return &types.Request{By: string(r.By), At: r.At, ExpiresAt: r.ExpiresAt, Status: string(r.Status)}
}

func wireSeat(s engine.Seat) types.Seat {
	return types.Seat{Principal: s.Principal, Kind: string(s.Kind), Ready: s.Handshake}
}

func wireLiveness(l engine.Liveness) types.Liveness {
	return types.Liveness{
		LastHeartbeatAt: l.LastHeartbeatAt,
		DisconnectCount: l.DisconnectCount,
		Warned:          !l.WarnedAt.IsZero(),
	}
}

func Summary(s engine.Session) types.Summary {
	sum := types.Summary{
		SessionID: s.ID,
		Status:    string(s.Status),
		FEN:       s.Position.FEN,
		Ply:       len(s.Position.Moves),
		Clock:     wireClock(s.Clock),
		Terminal:  wireTerminal(s.Terminal),
	}
	if !s.Finished() {
		sum.Turn = string(s.Turn)
	}
	return sum
}

func Snapshot(s engine.Session) types.Snapshot {
	snap := types.Snapshot{
		Summary:   Summary(s),
		White:     wireSeat(s.White),
		Black:     wireSeat(s.Black),
		Moves:     append([]string{}, s.Position.Moves...),
		Resume:    wireRequest(s.Resume),
		Draw:      wireRequest(s.Draw),
		Abort:     wireRequest(s.Abort),
		WhiteLive: wireLiveness(s.WhiteLive),
		BlackLive: wireLiveness(s.BlackLive),
		CreatedAt: s.CreatedAt,
	}
	if p := s.Pause; p != nil {
		snap.Pause = &types.Pause{At: p.At, Reason: string(p.Reason), By: string(p.By)}
	}
	return snap
}

func Envelope(ev engine.Event) types.EventEnvelope {
	return types.EventEnvelope{
		SessionID: ev.SessionID,
		Revision:  ev.Revision,
		EventType: string(ev.Type),
		Data: types.EventData{
			Status:   string(ev.Status),
			Side:     string(ev.Side),
			Move:     ev.Move,
			FEN:      ev.FEN,
			Check:    ev.Check,
			Reason:   ev.Reason,
			Clock:    wireClock(ev.Clock),
			Terminal: wireTerminal(ev.Terminal),
		},
	}
}

// Visible filters out private events addressed to someone other than
// principal.
func Visible(events []engine.Event, principal string) []types.EventEnvelope {
	out := make([]types.EventEnvelope, 0, len(events))
	for _, ev := range events {
		if !ev.VisibleTo(principal) {
			continue
		}
		out = append(out, Envelope(ev))
	}
	return out
}
