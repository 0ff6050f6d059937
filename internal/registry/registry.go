// Package registry records which quote ids have been consumed.
package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Checker-Finance/settlement/internal/journal"
)

// ErrAlreadyExecuted is returned when a quote id has already been consumed.
var ErrAlreadyExecuted = errors.New("quote already executed")

// Registry is an atomic check-and-set over quote ids. A claim made by
// Consume is undone when the journal it was recorded in is reverted.
type Registry interface {
	Consume(ctx context.Context, j *journal.Journal, id common.Hash) error
	IsConsumed(ctx context.Context, id common.Hash) (bool, error)
}

// Memory is an in-process registry.
type Memory struct {
	mu       sync.RWMutex
	consumed map[common.Hash]struct{}
}

func NewMemory() *Memory {
	return &Memory{consumed: make(map[common.Hash]struct{})}
}

func (m *Memory) Consume(_ context.Context, j *journal.Journal, id common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.consumed[id]; ok {
		return ErrAlreadyExecuted
	}
	m.consumed[id] = struct{}{}
	j.Append(func() {
		m.mu.Lock()
		delete(m.consumed, id)
		m.mu.Unlock()
	})
	return nil
}

func (m *Memory) IsConsumed(_ context.Context, id common.Hash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.consumed[id]
	return ok, nil
}
