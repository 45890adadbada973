// Package hub is the registry of live sessions. Like a room it is an actor:
// the map is only read and written by the hub goroutine.
package hub

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/live-chess-backend/internal/engine"
	"github.com/DoyleJ11/live-chess-backend/internal/metrics"
	"github.com/DoyleJ11/live-chess-backend/internal/monitor"
	"github.com/DoyleJ11/live-chess-backend/internal/room"
)

var ErrHubClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	Session engine.Session
	Reply   chan *room.Room
}

type GetRoom struct {
	ID    string
	Reply chan *room.Room
}

// EnsureRoom returns the live room for Session.ID, starting one from Session
// when none is registered.
type EnsureRoom struct {
	Session engine.Session
	Reply   chan *room.Room
}

type RemoveRoom struct {
	ID string
}

type ListRooms struct {
	Reply chan []*room.Room
}

type ShutdownHub struct {
	Done chan struct{}
}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (EnsureRoom) isHubMsg()  {}
func (RemoveRoom) isHubMsg()  {}
func (ListRooms) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

type Options struct {
	Room room.Config
	Deps room.Deps
	// Linger keeps a finished room registered so late readers still get the
	// final snapshot from memory.
	Linger time.Duration
	// OnRemove runs after a room leaves the registry.
	OnRemove func(id string)
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

type Hub struct {
	inbox chan HubMsg
	rooms map[string]*room.Room
	opts  Options
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		opts:   opts,
		log:    opts.Log.Named("hub"),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				msg.Reply <- h.ensure(msg.Session)

			case GetRoom:
				msg.Reply <- h.rooms[msg.ID] // May be nil

			case EnsureRoom:
				msg.Reply <- h.ensure(msg.Session)

			case RemoveRoom:
				rm := h.rooms[msg.ID]
				if rm == nil {
					break
				}
				delete(h.rooms, msg.ID)
				rm.Close()
				h.opts.Metrics.SetLive(len(h.rooms))
				if h.opts.OnRemove != nil {
					h.opts.OnRemove(msg.ID)
				}
				h.log.Debug("room removed", zap.String("session_id", msg.ID))

			case ListRooms:
				out := make([]*room.Room, 0, len(h.rooms))
				for _, rm := range h.rooms {
					out = append(out, rm)
				}
				msg.Reply <- out

			case ShutdownHub:
				h.closeAll()
				h.cancel()
				close(msg.Done)
				return
			}
		}
	}
}

func (h *Hub) ensure(s engine.Session) *room.Room {
	if rm := h.rooms[s.ID]; rm != nil {
		return rm
	}
	deps := h.opts.Deps
	deps.Retire = h.retire
	rm := room.New(h.ctx, s, h.opts.Room, deps)
	h.rooms[s.ID] = rm
	h.opts.Metrics.SetLive(len(h.rooms))
	return rm
}

// retire runs on the room goroutine, so it must not wait on the hub.
func (h *Hub) retire(id string) {
	time.AfterFunc(h.opts.Linger, func() {
		select {
		case h.inbox <- RemoveRoom{ID: id}:
		case <-h.ctx.Done():
		}
	})
}

func (h *Hub) closeAll() {
	for id, rm := range h.rooms {
		rm.Close()
		<-rm.Done()
		delete(h.rooms, id)
	}
	h.opts.Metrics.SetLive(0)
}

func (h *Hub) Create(ctx context.Context, s engine.Session) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	return h.roundTrip(ctx, CreateRoom{Session: s, Reply: reply}, reply)
}

// Get returns nil when the session is not live.
func (h *Hub) Get(ctx context.Context, id string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	return h.roundTrip(ctx, GetRoom{ID: id, Reply: reply}, reply)
}

func (h *Hub) Ensure(ctx context.Context, s engine.Session) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	return h.roundTrip(ctx, EnsureRoom{Session: s, Reply: reply}, reply)
}

func (h *Hub) Remove(id string) {
	select {
	case h.inbox <- RemoveRoom{ID: id}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) Rooms(ctx context.Context) ([]*room.Room, error) {
	reply := make(chan []*room.Room, 1)
	select {
	case h.inbox <- ListRooms{Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, ErrHubClosed
	}
	select {
	case rooms := <-reply:
		return rooms, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, ErrHubClosed
	}
}

// Targets lets the sweeper tick every live room.
func (h *Hub) Targets(ctx context.Context) []monitor.Target {
	rooms, err := h.Rooms(ctx)
	if err != nil {
		return nil
	}
	out := make([]monitor.Target, len(rooms))
	for i, rm := range rooms {
		out[i] = rm
	}
	return out
}

// Shutdown stops every room, letting dirty sessions make a last save.
func (h *Hub) Shutdown(ctx context.Context) error {
	if h.ctx.Err() != nil {
		return nil
	}
	done := make(chan struct{})
	select {
	case h.inbox <- ShutdownHub{Done: done}:
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) roundTrip(ctx context.Context, msg HubMsg, reply chan *room.Room) (*room.Room, error) {
	select {
	case h.inbox <- msg:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, ErrHubClosed
	}
	select {
	case rm := <-reply:
		return rm, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, ErrHubClosed
	}
}
