package clock

import "sync"

// IsNewer is the one ordering rule every consumer of broadcast state applies:
// anything at or below the last applied revision is stale.
func IsNewer(rev, lastApplied int64) bool { return rev > lastApplied }

// Tracker remembers the highest revision a consumer has applied. The zero
// value accepts revision 0 once.
type Tracker struct {
	mu   sync.Mutex
	last int64
	seen bool
}

func NewTracker(last int64) *Tracker {
	return &Tracker{last: last, seen: true}
}

// Accept reports whether rev should be applied and records it when it is.
func (t *Tracker) Accept(rev int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen && !IsNewer(rev, t.last) {
		return false
	}
	t.last = rev
	t.seen = true
	return true
}

func (t *Tracker) Last() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
