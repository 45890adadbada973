// Package dispatch is the single entry point for client commands, whatever
// transport they arrive on. It resolves the session's room, hands the typed
// command to it and maps the outcome to a wire response.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/live-chess-backend/internal/clock"
	"github.com/DoyleJ11/live-chess-backend/internal/engine"
	"github.com/DoyleJ11/live-chess-backend/internal/metrics"
	"github.com/DoyleJ11/live-chess-backend/internal/pairing"
	"github.com/DoyleJ11/live-chess-backend/internal/room"
	"github.com/DoyleJ11/live-chess-backend/internal/rules"
	"github.com/DoyleJ11/live-chess-backend/internal/store"
	"github.com/DoyleJ11/live-chess-backend/pkg/types"
)

// Registry is the live session registry, normally *hub.Hub.
type Registry interface {
	Create(ctx context.Context, s engine.Session) (*room.Room, error)
	Get(ctx context.Context, id string) (*room.Room, error)
	Ensure(ctx context.Context, s engine.Session) (*room.Room, error)
}

type Dispatcher struct {
	rooms    Registry
	store    store.Gateway
	defaults engine.TimeControl
	now      func() time.Time
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func New(rooms Registry, gw store.Gateway, defaults engine.TimeControl, now func() time.Time, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{rooms: rooms, store: gw, defaults: defaults, now: now, log: log.Named("dispatch"), metrics: m}
}

// Dispatch applies one client command and always returns a response; failures
// are carried in it as error codes.
func (d *Dispatcher) Dispatch(ctx context.Context, env types.CommandEnvelope) types.Response {
	resp := types.Response{RequestID: env.RequestID}
	sub, err := Decode(env)
	if err != nil {
		d.observe("Invalid", err)
		return fail(resp, err)
	}
	name := engine.Name(sub.Command)

	out, err := d.submit(ctx, env.SessionID, sub)
	if err != nil {
		d.observe(name, err)
		return fail(resp, err)
	}

	sum := Summary(out.Session)
	resp.State = &sum
	if out.Err != nil {
		d.observe(name, out.Err)
		return fail(resp, out.Err)
	}

	resp.Success = true
	if _, ok := sub.Command.(engine.Ping); ok {
		resp.ServerMs = d.now().UnixMilli()
	}
	if out.SaveErr != nil {
		// Applied and broadcast, just not durable yet.
		resp.ErrorCode = string(engine.CodePersistenceUnavailable)
		resp.Message = out.SaveErr.Error()
	}
	d.observe(name, out.SaveErr)
	if len(out.Events) > 0 {
		d.log.Debug("command applied",
			zap.String("session_id", env.SessionID),
			zap.String("principal", env.Principal),
			zap.String("command", name),
			zap.Int64("revision", out.Session.Clock.Revision))
	}
	return resp
}

// CreateSession opens a session from a pairing hand-off. The session is saved
// before it is registered so a crash never leaves a live session unknown to
// the store.
func (d *Dispatcher) CreateSession(ctx context.Context, req types.CreateSession) (engine.Session, error) {
	h := pairing.Handoff{
		White:       req.White,
		Black:       req.Black,
		WhiteKind:   engine.SeatKind(req.WhiteKind),
		BlackKind:   engine.SeatKind(req.BlackKind),
		InitialMs:   req.InitialMs,
		IncrementMs: req.IncrementMs,
		StartFEN:    req.StartFEN,
	}
	white, black, err := h.Seats()
	if err != nil {
		return engine.Session{}, fmt.Errorf("%w: %v", engine.ErrUnsupportedCommand, err)
	}
	tc, err := h.TimeControl(d.defaults)
	if err != nil {
		return engine.Session{}, fmt.Errorf("%w: %v", engine.ErrUnsupportedCommand, err)
	}
	pos, err := rules.FromFEN(h.StartFEN)
	if err != nil {
		return engine.Session{}, fmt.Errorf("%w: %v", engine.ErrUnsupportedCommand, err)
	}

	s := engine.NewSession(uuid.NewString(), white, black, pos, tc, d.now())
	if err := d.store.Save(ctx, s); err != nil {
		return engine.Session{}, err
	}
	if _, err := d.rooms.Create(ctx, s); err != nil {
		return engine.Session{}, err
	}
	d.log.Info("session created",
		zap.String("session_id", s.ID),
		zap.String("white", white.Principal),
		zap.String("black", black.Principal),
		zap.Int64("initial_ms", tc.InitialMs),
		zap.Int64("increment_ms", tc.IncrementMs))
	return s, nil
}

// BindSeat assigns principal to an open seat of a waiting session.
func (d *Dispatcher) BindSeat(ctx context.Context, id, side string, req types.BindSeat) types.Response {
	resp := types.Response{}
	kind := engine.SeatKind(req.Kind)
	if kind == engine.SeatEmpty {
		kind = engine.SeatHuman
	}
	cmd := engine.BindSeat{Side: clock.Side(side), Principal: req.Principal, Kind: kind}
	out, err := d.submit(ctx, id, engine.Submission{Command: cmd})
	if err != nil {
		d.observe("BindSeat", err)
		return fail(resp, err)
	}
	sum := Summary(out.Session)
	resp.State = &sum
	d.observe("BindSeat", out.Err)
	if out.Err != nil {
		return fail(resp, out.Err)
	}
	resp.Success = true
	return resp
}

// Disconnect records a dropped live connection. Unknown or finished sessions
// are ignored.
func (d *Dispatcher) Disconnect(ctx context.Context, id, principal string) {
	rm, err := d.rooms.Get(ctx, id)
	if err != nil || rm == nil {
		return
	}
	if _, err := rm.Submit(ctx, engine.Submission{Command: engine.Disconnect{Principal: principal}}); err != nil {
		d.log.Debug("disconnect not recorded", zap.String("session_id", id), zap.Error(err))
	}
}

// Snapshot reads the current session, from its room when live and from the
// store otherwise. Finished sessions stay readable after archival.
func (d *Dispatcher) Snapshot(ctx context.Context, id string) (engine.Session, error) {
	rm, err := d.rooms.Get(ctx, id)
	if err != nil {
		return engine.Session{}, err
	}
	if rm != nil {
		v, err := rm.State(ctx)
		if err == nil {
			return v.Session, nil
		}
		if !errors.Is(err, room.ErrClosed) {
			return engine.Session{}, err
		}
	}
	return d.store.Load(ctx, id)
}

// Events returns the retained events after a revision. For a session that is
// no longer live only the snapshot is available.
func (d *Dispatcher) Events(ctx context.Context, id string, after int64) (room.View, error) {
	rm, err := d.rooms.Get(ctx, id)
	if err != nil {
		return room.View{}, err
	}
	if rm != nil {
		v, err := rm.Since(ctx, after)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, room.ErrClosed) {
			return room.View{}, err
		}
	}
	s, err := d.store.Load(ctx, id)
	if err != nil {
		return room.View{}, err
	}
	return room.View{Session: s, Complete: after >= s.Clock.Revision}, nil
}

// submit routes sub to the session's room, reviving the room from the store
// when the session is not live. A room that retired between lookup and
// submission is resolved once more.
func (d *Dispatcher) submit(ctx context.Context, id string, sub engine.Submission) (room.Outcome, error) {
	for attempt := 0; ; attempt++ {
		rm, err := d.resolve(ctx, id)
		if err != nil {
			return room.Outcome{}, err
		}
		out, err := rm.Submit(ctx, sub)
		if errors.Is(err, room.ErrClosed) && attempt == 0 {
			continue
		}
		return out, err
	}
}

func (d *Dispatcher) resolve(ctx context.Context, id string) (*room.Room, error) {
	rm, err := d.rooms.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rm != nil {
		return rm, nil
	}
	s, err := d.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Finished() {
		return nil, engine.ErrSessionFinished
	}
	return d.rooms.Ensure(ctx, engine.Rebase(s, d.now()))
}

func (d *Dispatcher) observe(command string, err error) {
	code := string(engine.CodeOf(err))
	if code == "" {
		code = "OK"
	}
	d.metrics.ObserveCommand(command, code)
}

func fail(resp types.Response, err error) types.Response {
	resp.Success = false
	resp.ErrorCode = string(engine.CodeOf(err))
	resp.Message = err.Error()
	return resp
}
