// Package optimistic models a UI change applied before the backend confirms it.
//
// A Mutation starts Pending with a snapshot of the prior value. The caller
// then either confirms it once the backend write succeeds or rolls it back,
// which restores the snapshot. Each mutation settles exactly once.
package optimistic

import (
	"errors"
	"sync"
)

// Status of a mutation.
type Status string

const (
	Pending    Status = "pending"
	Confirmed  Status = "confirmed"
	RolledBack Status = "rolled_back"
)

// ErrSettled is returned when confirming or rolling back a mutation that
// already left Pending.
var ErrSettled = errors.New("optimistic: mutation already settled")

// Mutation tracks one optimistic change of a value of type T.
type Mutation[T any] struct {
	mu       sync.Mutex
	status   Status
	snapshot T
	restore  func(T)
}

// Begin snapshots the current value, applies the change and returns the
// pending mutation. restore is called with the snapshot on rollback.
func Begin[T any](snapshot T, apply func(), restore func(T)) *Mutation[T] {
	if apply != nil {
		apply()
	}
	return &Mutation[T]{status: Pending, snapshot: snapshot, restore: restore}
}

// Confirm marks the change as accepted by the backend.
func (m *Mutation[T]) Confirm() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != Pending {
		return ErrSettled
	}
	m.status = Confirmed
	return nil
}

// Rollback restores the snapshot.
func (m *Mutation[T]) Rollback() error {
	m.mu.Lock()
	if m.status != Pending {
		m.mu.Unlock()
		return ErrSettled
	}
	m.status = RolledBack
	restore, snap := m.restore, m.snapshot
	m.mu.Unlock()

	if restore != nil {
		restore(snap)
	}
	return nil
}

// Settle confirms the mutation when err is nil and rolls it back otherwise.
// It returns err unchanged so callers can write `return m.Settle(err)`.
func (m *Mutation[T]) Settle(err error) error {
	if err != nil {
		_ = m.Rollback()
		return err
	}
	_ = m.Confirm()
	return nil
}

// Status returns the current state.
func (m *Mutation[T]) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Snapshot returns the value captured by Begin.
func (m *Mutation[T]) Snapshot() T {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}
