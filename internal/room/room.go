// Package room owns one session. A room is an actor: a single goroutine reads
// its inbox and is the only code that ever touches the session, so commands
// for the same session are applied one at a time in arrival order.
package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/live-chess-backend/internal/engine"
	"github.com/DoyleJ11/live-chess-backend/internal/metrics"
	"github.com/DoyleJ11/live-chess-backend/internal/monitor"
	"github.com/DoyleJ11/live-chess-backend/internal/pairing"
	"github.com/DoyleJ11/live-chess-backend/internal/store"
)

var ErrClosed = errors.New("room closed")

type Msg interface{ isRoomMsg() }

type Submit struct {
	Sub   engine.Submission
	Reply chan Outcome
}

// Tick asks the room to run the monitor policy at Now.
type Tick struct{ Now time.Time }

type GetState struct {
	Reply chan View
}

// Since asks for the retained events newer than After.
type Since struct {
	After int64
	Reply chan View
}

type Shutdown struct{}

type saved struct {
	revision int64
	err      error
}

func (Submit) isRoomMsg()   {}
func (Tick) isRoomMsg()     {}
func (GetState) isRoomMsg() {}
func (Since) isRoomMsg()    {}
func (Shutdown) isRoomMsg() {}
func (saved) isRoomMsg()    {}

// Outcome is the result of one submission. Err is a rejection and means no
// state changed. SaveErr means the transition applied but is not durable yet.
type Outcome struct {
	Session engine.Session
	Events  []engine.Event
	Err     error
	SaveErr error
}

type View struct {
	Session engine.Session
	Events  []engine.Event
	// Complete is false when events older than the retained tail were asked
	// for; the caller should fall back to the snapshot.
	Complete bool
	Dirty    bool
}

type Publisher interface {
	Publish(events []engine.Event)
}

// Saver is the background save path, normally a *store.Retrier.
type Saver interface {
	Save(ctx context.Context, s engine.Session) error
}

type Config struct {
	Policy      engine.Policy
	Thresholds  monitor.Thresholds
	SaveTimeout time.Duration
	HistorySize int
}

type Deps struct {
	Rules     engine.Rules
	Store     store.Gateway
	Retrier   Saver
	Results   pairing.ResultSink
	Publisher Publisher
	Now       func() time.Time
	Log       *zap.Logger
	Metrics   *metrics.Metrics
	// Retire is called once, from the room goroutine, when the session finishes.
	Retire func(id string)
}

type Room struct {
	id     string
	inbox  chan Msg
	outbox chan []engine.Event
	state  engine.Session
	cfg    Config
	deps   Deps
	log    *zap.Logger

	history  []engine.Event
	dirty    bool
	retrying bool
	reported bool
	retired  bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, initial engine.Session, cfg Config, deps Deps) *Room {
	ctx, cancel := context.WithCancel(parent)
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Store == nil {
		deps.Store = store.NewMemory()
	}
	if deps.Results == nil {
		deps.Results = pairing.Discard{}
	}
	if deps.Retrier == nil {
		deps.Retrier = deps.Store
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 256
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 2 * time.Second
	}

	r := &Room{
		id:     initial.ID,
		inbox:  make(chan Msg, 64),
		outbox: make(chan []engine.Event, 256),
		state:  initial,
		cfg:    cfg,
		deps:   deps,
		log:    deps.Log.Named("room").With(zap.String("session_id", initial.ID)),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.pump()
	go r.loop()
	return r
}

func (r *Room) ID() string { return r.id }

// Inbox exposes the inbox so the hub and tests can post messages.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Close stops the room without blocking; pending state is saved on the way out.
func (r *Room) Close() { r.cancel() }

// Done is closed once the room goroutine has exited.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) Submit(ctx context.Context, sub engine.Submission) (Outcome, error) {
	reply := make(chan Outcome, 1)
	if err := r.post(ctx, Submit{Sub: sub, Reply: reply}); err != nil {
		return Outcome{}, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-r.done:
		return Outcome{}, ErrClosed
	}
}

func (r *Room) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	return r.ask(ctx, GetState{Reply: reply}, reply)
}

func (r *Room) Since(ctx context.Context, after int64) (View, error) {
	reply := make(chan View, 1)
	return r.ask(ctx, Since{After: after, Reply: reply}, reply)
}

// Tick never blocks. It reports false when the inbox is full or the room is
// gone; the session simply waits for the next sweep.
func (r *Room) Tick(now time.Time) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.inbox <- Tick{Now: now}:
		return true
	default:
		return false
	}
}

func (r *Room) ask(ctx context.Context, msg Msg, reply chan View) (View, error) {
	if err := r.post(ctx, msg); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-r.done:
		return View{}, ErrClosed
	}
}

func (r *Room) post(ctx context.Context, msg Msg) error {
	select {
	case r.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrClosed
	}
}

func (r *Room) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Submit:
				msg.Reply <- r.apply(msg.Sub, r.deps.Now())

			case Tick:
				r.tick(msg.Now)

			case GetState:
				msg.Reply <- View{Session: r.state.Clone(), Complete: true, Dirty: r.dirty}

			case Since:
				msg.Reply <- r.since(msg.After)

			case saved:
				r.onSaved(msg)

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) apply(sub engine.Submission, now time.Time) Outcome {
	env := engine.Env{Now: now, Rules: r.deps.Rules, Policy: r.cfg.Policy}
	events, next, err := engine.Apply(r.state, sub, env)
	if err != nil {
		return Outcome{Session: r.state.Clone(), Err: err}
	}
	r.state = next
	if len(events) == 0 {
		// Liveness bookkeeping only: nothing to persist or broadcast.
		return Outcome{Session: r.state.Clone()}
	}

	saveErr := r.persist()
	r.record(events)
	// Queued before the reply; pump publishes in revision order right after.
	r.outbox <- events
	if r.state.Finished() {
		r.conclude()
	}
	return Outcome{Session: r.state.Clone(), Events: events, SaveErr: saveErr}
}

func (r *Room) tick(now time.Time) {
	if r.dirty && !r.retrying {
		r.startRetry()
	}
	if r.state.Finished() {
		r.conclude()
		return
	}
	for _, cmd := range monitor.Evaluate(r.state, now, r.cfg.Thresholds) {
		out := r.apply(engine.Submission{Command: cmd}, now)
		if out.Err != nil {
			r.log.Debug("sweep command rejected", zap.String("command", engine.Name(cmd)), zap.Error(out.Err))
		}
	}
}

func (r *Room) persist() error {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.SaveTimeout)
	defer cancel()
	err := r.deps.Store.Save(ctx, r.state)
	if err == nil {
		r.setDirty(false)
		return nil
	}
	r.log.Warn("save failed, session marked dirty",
		zap.Int64("revision", r.state.Clock.Revision),
		zap.Error(err))
	r.setDirty(true)
	if !r.retrying {
		r.startRetry()
	}
	if !errors.Is(err, engine.ErrPersistenceUnavailable) {
		err = fmt.Errorf("%w: %v", engine.ErrPersistenceUnavailable, err)
	}
	return err
}

// startRetry runs at most one background save at a time, always of the
// latest state.
func (r *Room) startRetry() {
	r.retrying = true
	snapshot := r.state.Clone()
	r.deps.Metrics.SaveRetried()
	go func() {
		err := r.deps.Retrier.Save(r.ctx, snapshot)
		select {
		case r.inbox <- saved{revision: snapshot.Clock.Revision, err: err}:
		case <-r.ctx.Done():
		}
	}()
}

func (r *Room) onSaved(msg saved) {
	r.retrying = false
	if msg.err != nil {
		r.log.Error("background save gave up; next sweep retries",
			zap.Int64("revision", msg.revision),
			zap.Error(msg.err))
		return
	}
	if msg.revision >= r.state.Clock.Revision {
		r.setDirty(false)
		return
	}
	if r.dirty {
		r.startRetry()
	}
}

func (r *Room) setDirty(dirty bool) {
	if r.dirty == dirty {
		return
	}
	r.dirty = dirty
	if dirty {
		r.deps.Metrics.AddDirty(1)
	} else {
		r.deps.Metrics.AddDirty(-1)
	}
}

// conclude hands the result to the pairing side once and retires the room.
// A failed report is retried on the next tick.
func (r *Room) conclude() {
	if !r.reported {
		result, _ := pairing.ResultOf(r.state)
		ctx, cancel := context.WithTimeout(r.ctx, r.cfg.SaveTimeout)
		err := r.deps.Results.Report(ctx, result)
		cancel()
		if err != nil {
			r.log.Warn("result report failed", zap.Error(err))
		} else {
			r.reported = true
			r.deps.Metrics.ObserveResult(string(result.EndReason))
			r.log.Info("session finished",
				zap.String("result", string(result.Result)),
				zap.String("end_reason", string(result.EndReason)),
				zap.Int64("revision", r.state.Clock.Revision))
		}
	}
	if !r.retired && r.deps.Retire != nil {
		r.retired = true
		r.deps.Retire(r.id)
	}
}

func (r *Room) record(events []engine.Event) {
	for _, ev := range events {
		r.deps.Metrics.ObserveTransition(string(ev.Type))
	}
	r.history = append(r.history, events...)
	if over := len(r.history) - r.cfg.HistorySize; over > 0 {
		r.history = append(r.history[:0:0], r.history[over:]...)
	}
}

func (r *Room) since(after int64) View {
	v := View{Session: r.state.Clone(), Dirty: r.dirty}
	current := r.state.Clock.Revision
	if after >= current {
		v.Complete = true
		return v
	}
	for _, ev := range r.history {
		if ev.Revision > after {
			v.Events = append(v.Events, ev)
		}
	}
	v.Complete = len(v.Events) > 0 && v.Events[0].Revision == after+1
	return v
}

func (r *Room) shutdown() {
	if r.dirty {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SaveTimeout)
		if err := r.deps.Store.Save(ctx, r.state); err != nil {
			r.log.Error("final save failed", zap.Error(err))
		} else {
			r.setDirty(false)
		}
		cancel()
	}
	close(r.outbox)
	r.cancel()
}

// pump publishes outbound events in the order the room produced them, off the
// room goroutine.
func (r *Room) pump() {
	for events := range r.outbox {
		if r.deps.Publisher != nil {
			r.deps.Publisher.Publish(events)
		}
	}
}
