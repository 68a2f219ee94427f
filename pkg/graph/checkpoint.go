package graph

import (
	"sync"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

// MemorySaver is the in-memory checkpointer. It keeps the latest state
// snapshot per session so a reconnecting caller can observe where a run
// stands. Snapshots do not survive process restarts; the database sink is
// the durable record.
type MemorySaver struct {
	mu     sync.RWMutex
	states map[string]*models.GraphState
}

// NewMemorySaver builds an empty checkpointer.
func NewMemorySaver() *MemorySaver {
	return &MemorySaver{states: make(map[string]*models.GraphState)}
}

// Save stores a snapshot of state keyed by its session id.
func (m *MemorySaver) Save(state *models.GraphState) {
	if state == nil || state.SessionID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.SessionID] = state.Clone()
}

// Load returns the latest snapshot for the session, or nil.
func (m *MemorySaver) Load(sessionID string) *models.GraphState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[sessionID]
	if !ok {
		return nil
	}
	return state.Clone()
}

// Delete drops the session's snapshot.
func (m *MemorySaver) Delete(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
}
