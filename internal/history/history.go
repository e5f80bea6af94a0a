// Package history implements the bounded undo/redo manager: a past/present/
// future triple over State snapshots. Because State is built from
// structurally shared pools, N entries cost roughly the diffs between them,
// not N full documents.
package history

import (
	"strings"
	"sync"
	"time"

	"moduforge.dev/moduforge/internal/state"
	"moduforge.dev/moduforge/internal/transaction"
)

// DefaultLimit bounds the past deque when the host does not configure one.
const DefaultLimit = 100

// Entry is one undoable transition: the state that was current before it,
// the transaction ids that produced the move away from it, and a joined
// human-readable description.
type Entry struct {
	State          *state.State
	TransactionIDs []transaction.ID
	Description    string
	Timestamp      time.Time
}

// Manager holds the bounded undo/redo triple. It is safe for concurrent
// use; the runtime records on its dispatch path while handlers may undo or
// redo from event callbacks.
type Manager struct {
	mu      sync.Mutex
	past    []Entry
	present *state.State
	future  []Entry
	limit   int
}

// NewManager constructs a manager whose present is the runtime's initial
// state. limit <= 0 selects DefaultLimit.
func NewManager(present *state.State, limit int) *Manager {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Manager{present: present, limit: limit}
}

// Record pushes the current present onto the past and installs newState as
// present. The redo stack is cleared: recording after an undo forks the
// timeline, and the abandoned branch is dropped. The past is trimmed from
// the front to the configured limit.
func (m *Manager) Record(committed []*transaction.Transaction, newState *state.State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]transaction.ID, len(committed))
	descs := make([]string, 0, len(committed))
	for i, tr := range committed {
		ids[i] = tr.ID()
		if d, ok := tr.GetMeta("description"); ok {
			if ds, ok := d.(string); ok && ds != "" {
				descs = append(descs, ds)
			}
		}
	}
	m.past = append(m.past, Entry{
		State:          m.present,
		TransactionIDs: ids,
		Description:    strings.Join(descs, "; "),
		Timestamp:      time.Now(),
	})
	if overflow := len(m.past) - m.limit; overflow > 0 {
		m.past = append([]Entry(nil), m.past[overflow:]...)
	}
	m.present = newState
	m.future = nil
}

// Undo steps back one entry, returning the restored state, or nil when the
// past is empty.
func (m *Manager) Undo() *state.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.past) == 0 {
		return nil
	}
	entry := m.past[len(m.past)-1]
	m.past = m.past[:len(m.past)-1]
	m.future = append(m.future, Entry{
		State:          m.present,
		TransactionIDs: entry.TransactionIDs,
		Description:    entry.Description,
		Timestamp:      entry.Timestamp,
	})
	m.present = entry.State
	return m.present
}

// Redo steps forward one entry, symmetric to Undo.
func (m *Manager) Redo() *state.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.future) == 0 {
		return nil
	}
	entry := m.future[len(m.future)-1]
	m.future = m.future[:len(m.future)-1]
	m.past = append(m.past, Entry{
		State:          m.present,
		TransactionIDs: entry.TransactionIDs,
		Description:    entry.Description,
		Timestamp:      entry.Timestamp,
	})
	m.present = entry.State
	return m.present
}

// Present returns the current state the manager considers live.
func (m *Manager) Present() *state.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.present
}

// Depths returns the current undo and redo stack depths.
func (m *Manager) Depths() (past, future int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.past), len(m.future)
}
