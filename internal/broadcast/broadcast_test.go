package broadcast

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/live-chess-backend/internal/engine"
)

type recordingRelay struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingRelay) Publish(_ context.Context, principal string, ev engine.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, principal+":"+string(ev.Type))
	return nil
}

func ev(rev int64, typ engine.EventType, recipient string) engine.Event {
	return engine.Event{Type: typ, SessionID: "s1", Revision: rev, Recipient: recipient}
}

func drain(sub *Subscription) []int64 {
	var revs []int64
	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				return revs
			}
			revs = append(revs, e.Revision)
		default:
			return revs
		}
	}
}

func TestBroadcaster_SessionAndUserAudiences(t *testing.T) {
	relay := &recordingRelay{}
	b := New(8, relay, zap.NewNop(), nil)
	watcher := b.SubscribeSession("s1")
	other := b.SubscribeSession("s2")
	bob := b.SubscribeUser("bob")
	alice := b.SubscribeUser("alice")

	b.Publish([]engine.Event{
		ev(1, engine.EvtMoveMade, "bob"),
		ev(2, engine.EvtDrawOffered, "alice"),
	})

	assert.Equal(t, []int64{1, 2}, drain(watcher))
	assert.Empty(t, drain(other))
	assert.Equal(t, []int64{1}, drain(bob))
	assert.Equal(t, []int64{2}, drain(alice))
	assert.Equal(t, []string{"bob:MoveMade", "alice:DrawOffered"}, relay.sent)
}

func TestBroadcaster_SessionChannelIsGapless(t *testing.T) {
	b := New(8, nil, zap.NewNop(), nil)
	watcher := b.SubscribeSession("s1")
	bob := b.SubscribeUser("bob")
	alice := b.SubscribeUser("alice")

	warn := ev(3, engine.EvtInactivityWarning, "bob")
	warn.Private = true
	b.Publish([]engine.Event{ev(2, engine.EvtMoveMade, "alice"), warn, ev(4, engine.EvtMoveMade, "bob")})

	assert.Equal(t, []int64{2, 3, 4}, drain(watcher))
	assert.Equal(t, []int64{3, 4}, drain(bob))
	assert.Equal(t, []int64{2}, drain(alice))

	assert.True(t, warn.VisibleTo("bob"))
	assert.False(t, warn.VisibleTo("alice"))
}

func TestBroadcaster_DropsSlowSubscriber(t *testing.T) {
	b := New(1, nil, zap.NewNop(), nil)
	slow := b.SubscribeSession("s1")
	fast := b.SubscribeSession("s1")

	b.Publish([]engine.Event{ev(1, engine.EvtMoveMade, "")})
	<-fast.C
	b.Publish([]engine.Event{ev(2, engine.EvtMoveMade, "")})

	// slow still holds rev 1 and was closed when rev 2 did not fit.
	got := <-slow.C
	assert.Equal(t, int64(1), got.Revision)
	_, open := <-slow.C
	assert.False(t, open)
	assert.Equal(t, 1, b.Subscribers("s1"))

	slow.Close() // already dropped
	fast.Close()
	fast.Close()
	assert.Equal(t, 0, b.Subscribers("s1"))
}

func TestBroadcaster_DeliverUserDoesNotRelay(t *testing.T) {
	relay := &recordingRelay{}
	b := New(4, relay, zap.NewNop(), nil)
	bob := b.SubscribeUser("bob")

	b.DeliverUser("bob", ev(7, engine.EvtSessionPaused, "bob"))

	assert.Equal(t, []int64{7}, drain(bob))
	assert.Empty(t, relay.sent)
}

func TestBroadcaster_CloseSession(t *testing.T) {
	b := New(4, nil, zap.NewNop(), nil)
	sub := b.SubscribeSession("s1")
	b.CloseSession("s1")
	_, open := <-sub.C
	assert.False(t, open)
}

func TestBroadcaster_OrderUnderConcurrentSessions(t *testing.T) {
	b := New(256, nil, zap.NewNop(), nil)
	subs := map[string]*Subscription{}
	for _, id := range []string{"a", "b", "c", "d"} {
		subs[id] = b.SubscribeSession(id)
	}

	var g errgroup.Group
	for id := range subs {
		g.Go(func() error {
			for rev := int64(1); rev <= 100; rev++ {
				b.Publish([]engine.Event{{SessionID: id, Revision: rev, Type: engine.EvtMoveMade}})
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for id, sub := range subs {
		revs := drain(sub)
		require.Len(t, revs, 100, id)
		for i, rev := range revs {
			assert.Equal(t, int64(i+1), rev)
		}
	}
}
