// Package broadcast fans applied events out to session subscribers and to the
// per-user notification channel of the participant an event concerns.
package broadcast

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/live-chess-backend/internal/engine"
	"github.com/DoyleJ11/live-chess-backend/internal/metrics"
)

// Relay forwards user notifications to other server processes.
type Relay interface {
	Publish(ctx context.Context, principal string, ev engine.Event) error
}

const relayTimeout = time.Second

type Broadcaster struct {
	mu       sync.Mutex
	sessions map[string]map[uint64]*Subscription
	users    map[string]map[uint64]*Subscription
	nextID   uint64
	buffer   int

	relay   Relay
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(buffer int, relay Relay, log *zap.Logger, m *metrics.Metrics) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{
		sessions: make(map[string]map[uint64]*Subscription),
		users:    make(map[string]map[uint64]*Subscription),
		buffer:   buffer,
		relay:    relay,
		log:      log.Named("broadcast"),
		metrics:  m,
	}
}

type Subscription struct {
	C <-chan engine.Event

	ch   chan engine.Event
	id   uint64
	key  string
	user bool
	b    *Broadcaster
}

// Close unsubscribes. Safe to call more than once and after the broadcaster
// already dropped the subscription.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.remove(s)
}

func (b *Broadcaster) SubscribeSession(sessionID string) *Subscription {
	return b.subscribe(b.sessions, sessionID, false)
}

func (b *Broadcaster) SubscribeUser(principal string) *Subscription {
	return b.subscribe(b.users, principal, true)
}

func (b *Broadcaster) subscribe(index map[string]map[uint64]*Subscription, key string, user bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	ch := make(chan engine.Event, b.buffer)
	sub := &Subscription{C: ch, ch: ch, id: b.nextID, key: key, user: user, b: b}
	if index[key] == nil {
		index[key] = make(map[uint64]*Subscription)
	}
	index[key][sub.id] = sub
	return sub
}

// Publish delivers events in order. Callers publish one session's events from
// a single goroutine, which is what keeps per-session order intact.
//
// The session channel carries every revision, private ones included, so a
// session subscriber sees a gapless sequence. It must not forward an event
// that is not VisibleTo its viewer.
func (b *Broadcaster) Publish(events []engine.Event) {
	for _, ev := range events {
		b.mu.Lock()
		b.deliver(b.sessions[ev.SessionID], ev, "session")
		if ev.Recipient != "" {
			b.deliver(b.users[ev.Recipient], ev, "user")
		}
		b.mu.Unlock()

		if ev.Recipient != "" && b.relay != nil {
			ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
			if err := b.relay.Publish(ctx, ev.Recipient, ev); err != nil {
				b.log.Warn("relay publish failed",
					zap.String("session_id", ev.SessionID),
					zap.Int64("revision", ev.Revision),
					zap.Error(err))
			}
			cancel()
		}
	}
}

// DeliverUser hands a notification that arrived from another process to the
// local user subscribers only.
func (b *Broadcaster) DeliverUser(principal string, ev engine.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliver(b.users[principal], ev, "user")
}

// Subscribers counts the live subscribers of a session.
func (b *Broadcaster) Subscribers(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions[sessionID])
}

// CloseSession ends every subscription to sessionID.
func (b *Broadcaster) CloseSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.sessions[sessionID] {
		b.remove(sub)
	}
}

func (b *Broadcaster) deliver(subs map[uint64]*Subscription, ev engine.Event, channel string) {
	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber: drop it. It resynchronises from a snapshot.
			b.remove(sub)
			b.metrics.SubscriberDropped(channel)
			b.log.Info("dropped slow subscriber",
				zap.String("channel", channel),
				zap.String("key", sub.key),
				zap.String("session_id", ev.SessionID))
		}
	}
}

// remove must be called with b.mu held.
func (b *Broadcaster) remove(sub *Subscription) {
	index := b.sessions
	if sub.user {
		index = b.users
	}
	subs := index[sub.key]
	if _, ok := subs[sub.id]; !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(index, sub.key)
	}
	close(sub.ch)
}
