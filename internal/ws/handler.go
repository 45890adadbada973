package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/live-chess-backend/internal/broadcast"
	"github.com/DoyleJ11/live-chess-backend/internal/clock"
	"github.com/DoyleJ11/live-chess-backend/internal/dispatch"
	"github.com/DoyleJ11/live-chess-backend/internal/engine"
	"github.com/DoyleJ11/live-chess-backend/internal/types"
	wire "github.com/DoyleJ11/live-chess-backend/pkg/types"
)

// PrincipalHeader is set by the authenticating gateway in front of us.
const PrincipalHeader = "X-Principal-ID"

// Principal returns the authenticated caller. The query parameter is accepted
// for browsers, which cannot set headers on a socket upgrade.
func Principal(r *http.Request) string {
	if p := r.Header.Get(PrincipalHeader); p != "" {
		return p
	}
	return r.URL.Query().Get("principal")
}

type Dispatcher interface {
	Dispatch(ctx context.Context, env wire.CommandEnvelope) wire.Response
	Snapshot(ctx context.Context, id string) (engine.Session, error)
	Disconnect(ctx context.Context, id, principal string)
}

type Subscriber interface {
	SubscribeSession(id string) *broadcast.Subscription
	SubscribeUser(principal string) *broadcast.Subscription
}

type Options struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	OriginPatterns []string
}

type client struct {
	conn      *websocket.Conn
	sessionID string
	principal string
	out       chan types.ServerMessage
	trackers  map[string]*clock.Tracker
	opts      Options
	log       *zap.Logger
}

// Handler serves GET /ws?session=<id>. One connection follows one session
// plus the caller's own notifications.
func Handler(d Dispatcher, subs Subscriber, opts Options, log *zap.Logger) http.HandlerFunc {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session")
		principal := Principal(r)
		if sessionID == "" || principal == "" {
			http.Error(w, "missing session or principal", http.StatusBadRequest)
			return
		}

		// Subscribe before reading the snapshot so nothing published in
		// between is lost; the tracker drops what the snapshot already covers.
		sessSub := subs.SubscribeSession(sessionID)
		defer sessSub.Close()
		userSub := subs.SubscribeUser(principal)
		defer userSub.Close()

		snap, err := d.Snapshot(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, engine.ErrSessionNotFound) {
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}
			http.Error(w, "session unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		c := &client{
			conn:      conn,
			sessionID: sessionID,
			principal: principal,
			out:       make(chan types.ServerMessage, 16),
			trackers:  make(map[string]*clock.Tracker),
			opts:      opts,
			log:       log.With(zap.String("session_id", sessionID), zap.String("principal", principal)),
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go c.writeLoop(ctx, cancel, sessSub, userSub, snap)
		c.readLoop(ctx, d)

		dctx, dcancel := context.WithTimeout(context.Background(), time.Second)
		d.Disconnect(dctx, sessionID, principal)
		dcancel()
	}
}

// NotificationsHandler serves GET /ws/notifications: the caller's user
// channel only, across every session they play in.
func NotificationsHandler(subs Subscriber, opts Options, log *zap.Logger) http.HandlerFunc {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		principal := Principal(r)
		if principal == "" {
			http.Error(w, "missing principal", http.StatusBadRequest)
			return
		}
		userSub := subs.SubscribeUser(principal)
		defer userSub.Close()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		ctx := conn.CloseRead(r.Context())

		c := &client{conn: conn, principal: principal, trackers: make(map[string]*clock.Tracker), opts: opts, log: log.With(zap.String("principal", principal))}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-userSub.C:
				if !ok {
					conn.Close(websocket.StatusTryAgainLater, "resync")
					return
				}
				if !c.event(ctx, ev) {
					return
				}
			}
		}
	}
}

func (c *client) writeLoop(ctx context.Context, cancel context.CancelFunc, sess, user *broadcast.Subscription, snap engine.Session) {
	defer cancel()
	if !c.write(ctx, snapshotFrame(snap)) {
		return
	}
	c.trackers[snap.ID] = clock.NewTracker(snap.Clock.Revision)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sess.C:
			if !ok {
				// Dropped as a slow subscriber; the client reconnects and resyncs.
				c.conn.Close(websocket.StatusTryAgainLater, "resync")
				return
			}
			if !c.event(ctx, ev) {
				return
			}
		case ev, ok := <-user.C:
			if !ok {
				c.conn.Close(websocket.StatusTryAgainLater, "resync")
				return
			}
			// The followed session is read from sess.C only, in revision order.
			if ev.SessionID == c.sessionID {
				continue
			}
			if !c.event(ctx, ev) {
				return
			}
		case msg := <-c.out:
			if msg.Type == types.FrameSnapshot && msg.Snapshot != nil {
				id := msg.Snapshot.SessionID
				if tr := c.trackers[id]; tr == nil || msg.Revision > tr.Last() {
					c.trackers[id] = clock.NewTracker(msg.Revision)
				}
			}
			if !c.write(ctx, msg) {
				return
			}
		}
	}
}

// event writes ev unless this connection already applied its revision.
// Private events for someone else still advance the tracker.
func (c *client) event(ctx context.Context, ev engine.Event) bool {
	tr := c.trackers[ev.SessionID]
	if tr == nil {
		tr = &clock.Tracker{}
		c.trackers[ev.SessionID] = tr
	}
	if !tr.Accept(ev.Revision) || !ev.VisibleTo(c.principal) {
		return true
	}
	env := dispatch.Envelope(ev)
	return c.write(ctx, types.ServerMessage{Type: types.FrameEvent, Revision: ev.Revision, Event: &env})
}

func (c *client) readLoop(ctx context.Context, d Dispatcher) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, c.opts.ReadTimeout)
		_, data, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					c.log.Debug("read ended", zap.Error(err))
				}
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			c.send(ctx, types.ServerMessage{Type: types.FrameError, Error: "bad json"})
			continue
		}

		switch cm.Type {
		case types.FrameCommand:
			if cm.Command == nil {
				c.send(ctx, types.ServerMessage{Type: types.FrameError, Error: "missing command"})
				continue
			}
			env := *cm.Command
			// The socket's principal is authoritative.
			env.Principal = c.principal
			if env.SessionID == "" {
				env.SessionID = c.sessionID
			}
			resp := d.Dispatch(ctx, env)
			msg := types.ServerMessage{Type: types.FrameResponse, Response: &resp}
			if resp.State != nil {
				msg.Revision = resp.State.Clock.Revision
			}
			c.send(ctx, msg)

		case types.FrameResync:
			snap, err := d.Snapshot(ctx, c.sessionID)
			if err != nil {
				c.send(ctx, types.ServerMessage{Type: types.FrameError, Error: string(engine.CodeOf(err))})
				continue
			}
			c.send(ctx, snapshotFrame(snap))

		default:
			c.send(ctx, types.ServerMessage{Type: types.FrameError, Error: "unknown type"})
		}
	}
}

func (c *client) send(ctx context.Context, msg types.ServerMessage) {
	select {
	case c.out <- msg:
	case <-ctx.Done():
	}
}

func (c *client) write(ctx context.Context, msg types.ServerMessage) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("encode frame", zap.Error(err))
		return false
	}
	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	if err := c.conn.Write(wctx, websocket.MessageText, payload); err != nil {
		c.log.Debug("write failed", zap.Error(err))
		return false
	}
	return true
}

func snapshotFrame(s engine.Session) types.ServerMessage {
	snap := dispatch.Snapshot(s)
	return types.ServerMessage{Type: types.FrameSnapshot, Revision: s.Clock.Revision, Snapshot: &snap}
}
