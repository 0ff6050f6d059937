// Package journal records undo actions so a unit of work can be rolled back
// to a snapshot when any step of it fails.
package journal

import "sync"

// Journal is an append-only list of undo actions.
type Journal struct {
	mu      sync.Mutex
	entries []func()
}

// New creates an empty journal.
func New() *Journal {
	return &Journal{}
}

// Append records undo, to be run if the enclosing snapshot is reverted.
// A nil journal silently drops the entry.
func (j *Journal) Append(undo func()) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.entries = append(j.entries, undo)
	j.mu.Unlock()
}

// Snapshot returns an identifier for the current journal position.
func (j *Journal) Snapshot() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// RevertTo runs undo actions newest-first down to snapshot id and drops them.
func (j *Journal) RevertTo(id int) {
	j.mu.Lock()
	if id < 0 || id > len(j.entries) {
		j.mu.Unlock()
		return
	}
	pending := j.entries[id:]
	j.entries = j.entries[:id]
	j.mu.Unlock()

	for i := len(pending) - 1; i >= 0; i-- {
		pending[i]()
	}
}

// Commit discards undo actions recorded after snapshot id, keeping the effects.
func (j *Journal) Commit(id int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if id >= 0 && id <= len(j.entries) {
		j.entries = j.entries[:id]
	}
}

// Len returns the number of pending undo actions.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}
