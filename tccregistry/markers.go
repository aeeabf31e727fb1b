package tccregistry

import (
	"fmt"
	"sync"
)

// MarkerState is the tried/confirmed/cancelled state of one branch, as
// tracked for TCC idempotency and anti-suspension.
type MarkerState struct {
	Tried               bool
	Confirmed           bool
	Cancelled           bool
	CancelledWithoutTry bool
}

// MarkerStore keeps per-(xid, branchId) TCC markers in an in-memory map
// guarded by a mutex; the markers are not persisted and do not survive
// a process restart.
type MarkerStore struct {
	mu      sync.Mutex
	markers map[string]*MarkerState
}

// NewMarkerStore builds an empty marker store.
func NewMarkerStore() *MarkerStore {
	return &MarkerStore{markers: map[string]*MarkerState{}}
}

func key(xid string, branchID int64) string {
	return fmt.Sprintf("%s:%d", xid, branchID)
}

func (m *MarkerStore) get(xid string, branchID int64) *MarkerState {
	k := key(xid, branchID)
	s, ok := m.markers[k]
	if !ok {
		s = &MarkerState{}
		m.markers[k] = s
	}
	return s
}

// MarkTried records a successful Try. Returns false ("anti-hanging")
// if a cancel-without-try marker already exists for this branch,
// meaning phase-2 rollback arrived before this delayed Try.
func (m *MarkerStore) MarkTried(xid string, branchID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(xid, branchID)
	if s.CancelledWithoutTry {
		return false
	}
	s.Tried = true
	return true
}

// ShouldConfirm reports whether Confirm should actually run its
// callback: idempotent no-op if already confirmed.
func (m *MarkerStore) ShouldConfirm(xid string, branchID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(xid, branchID)
	return !s.Confirmed
}

// MarkConfirmed records a successful Confirm.
func (m *MarkerStore) MarkConfirmed(xid string, branchID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(xid, branchID).Confirmed = true
}

// ShouldCancel reports whether Cancel should run its callback, and
// whether this is a cancel-without-try (no prior MarkTried call): both
// cases succeed idempotently, but a cancel-without-try also blocks any
// later-arriving Try.
func (m *MarkerStore) ShouldCancel(xid string, branchID int64) (run bool, cancelWithoutTry bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(xid, branchID)
	if s.Cancelled {
		return false, s.CancelledWithoutTry
	}
	if !s.Tried {
		s.CancelledWithoutTry = true
	}
	return true, s.CancelledWithoutTry
}

// MarkCancelled records a successful Cancel.
func (m *MarkerStore) MarkCancelled(xid string, branchID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(xid, branchID).Cancelled = true
}
