// Package store is the persistence gateway. Every implementation keeps the
// row with the highest revision: a save carrying an older revision than the
// stored one is ignored rather than treated as an error, so a slow retry can
// never roll a session back.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/DoyleJ11/live-chess-backend/internal/engine"
	"github.com/DoyleJ11/live-chess-backend/internal/pairing"
)

type Gateway interface {
	Load(ctx context.Context, id string) (engine.Session, error)
	Save(ctx context.Context, s engine.Session) error
}

// Lister is implemented by gateways that can enumerate unfinished sessions
// for recovery on boot.
type Lister interface {
	ListActive(ctx context.Context) ([]engine.Session, error)
}

// Memory is the gateway used when no database is configured.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]engine.Session
	results  map[string]pairing.Result
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]engine.Session),
		results:  make(map[string]pairing.Result),
	}
}

func (m *Memory) Load(_ context.Context, id string) (engine.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return engine.Session{}, engine.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) Save(_ context.Context, s engine.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.ID]; ok && cur.Clock.Revision > s.Clock.Revision {
		return nil
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *Memory) ListActive(context.Context) ([]engine.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.Session
	for _, s := range m.sessions {
		if !s.Finished() {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Report keeps the first result seen per session.
func (m *Memory) Report(_ context.Context, r pairing.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[r.SessionID]; !ok {
		m.results[r.SessionID] = r
	}
	return nil
}

func (m *Memory) Result(id string) (pairing.Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[id]
	return r, ok
}
