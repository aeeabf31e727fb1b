package tc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxytx/galaxytx/config"
	"github.com/galaxytx/galaxytx/rm"
	"github.com/galaxytx/galaxytx/store"
	"github.com/galaxytx/galaxytx/tccregistry"
	"github.com/galaxytx/galaxytx/txutil"
)

// memStore is a minimal in-memory store.Store used only to exercise the
// coordinator's orchestration logic end to end.
type memStore struct {
	mu       sync.Mutex
	globals  map[string]*store.GlobalTransaction
	branches map[string][]store.BranchTransaction
	locks    map[string]store.GlobalLock
}

func newMemStore() *memStore {
	return &memStore{
		globals:  map[string]*store.GlobalTransaction{},
		branches: map[string][]store.BranchTransaction{},
		locks:    map[string]store.GlobalLock{},
	}
}

func (s *memStore) Ping() error { return nil }

func (s *memStore) FindGlobal(xid string) (*store.GlobalTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.globals[xid]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *memStore) ScanGlobals(position *string, limit int) ([]store.GlobalTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	skip := position != nil
	out := make([]store.GlobalTransaction, 0, len(s.globals))
	for xid, g := range s.globals {
		if skip {
			if xid == *position {
				skip = false
			}
			continue
		}
		out = append(out, *g)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) SaveNewGlobal(g *store.GlobalTransaction, branches []store.BranchTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.globals[g.XID] = &cp
	s.branches[g.XID] = append([]store.BranchTransaction{}, branches...)
	return nil
}

func (s *memStore) ChangeGlobalStatus(xid string, oldStatus, newStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.globals[xid]
	if !ok {
		return store.ErrNotFound
	}
	if g.Status != oldStatus {
		return store.ErrUniqueConflict
	}
	g.Status = newStatus
	return nil
}

func (s *memStore) TouchCronTime(xid string, nextIntervalSec int64) error { return nil }

func (s *memStore) LockOneGlobalTrans(dueWithin time.Duration, eligibleStatuses []string, leaseSec int64) (*store.GlobalTransaction, error) {
	return nil, store.ErrNotFound
}

func (s *memStore) FindBranches(xid string) ([]store.BranchTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.BranchTransaction{}, s.branches[xid]...), nil
}

func (s *memStore) FindBranch(xid string, branchID int64) (*store.BranchTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.branches[xid] {
		if b.BranchID == branchID {
			cp := b
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memStore) InsertBranches(branches []store.BranchTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range branches {
		s.branches[b.XID] = append(s.branches[b.XID], b)
	}
	return nil
}

func (s *memStore) UpdateBranches(branches []store.BranchTransaction, fields []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, upd := range branches {
		list := s.branches[upd.XID]
		for i := range list {
			if list[i].BranchID == upd.BranchID {
				list[i].Status = upd.Status
			}
		}
	}
	return len(branches), nil
}

func (s *memStore) AcquireLock(rowKeys []string, xid string, branchID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range rowKeys {
		if existing, ok := s.locks[k]; ok && (existing.XID != xid || existing.BranchID != branchID) {
			return store.ErrLockConflict
		}
	}
	for _, k := range rowKeys {
		s.locks[k] = store.GlobalLock{RowKey: k, XID: xid, BranchID: branchID}
	}
	return nil
}

func (s *memStore) ReleaseLocksForBranch(xid string, branchID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.locks {
		if v.XID == xid && v.BranchID == branchID {
			delete(s.locks, k)
		}
	}
	return nil
}

func (s *memStore) ListLocksByXID(xid string) ([]store.GlobalLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.GlobalLock
	for _, v := range s.locks {
		if v.XID == xid {
			out = append(out, v)
		}
	}
	return out, nil
}

func newTestCoordinator() (*Coordinator, *memStore) {
	cfg := config.Default()
	s := newMemStore()
	dispatcher := rm.NewDispatcher()
	dispatcher.Register(&stubRMHandler{branchType: "AT", result: rm.CommunicationResult{Status: rm.StatusSuccess}})
	return NewCoordinator(cfg, s, dispatcher, nil), s
}

func TestCoordinatorBeginRegisterCommit(t *testing.T) {
	c, _ := newTestCoordinator()
	xid, err := c.Begin("app1", "create-order", 0)
	require.NoError(t, err)
	require.NotEmpty(t, xid)

	branchID, err := c.RegisterBranch(context.Background(), xid, "orderGroup", "orderService", "AT", "orderService:t_order:1", nil, 0)
	require.NoError(t, err)
	require.NotZero(t, branchID)

	done, err := c.Commit(context.Background(), xid)
	require.NoError(t, err)
	assert.True(t, done)

	status, err := c.Status(xid)
	require.NoError(t, err)
	assert.Equal(t, GlobalStatusCommitted, status)
}

func TestCoordinatorRollbackOnBranchFailure(t *testing.T) {
	c, s := newTestCoordinator()
	dispatcher := rm.NewDispatcher()
	dispatcher.Register(&stubRMHandler{branchType: "AT", result: rm.CommunicationResult{Status: rm.StatusSuccess}})
	c = NewCoordinator(config.Default(), s, dispatcher, nil)

	xid, err := c.Begin("app1", "create-order", 0)
	require.NoError(t, err)
	branchID, err := c.RegisterBranch(context.Background(), xid, "g", "orderService", "AT", "", nil, 0)
	require.NoError(t, err)

	require.NoError(t, c.ReportBranchStatus(xid, branchID, BranchStatusPhaseOneFailed))

	status, err := c.Status(xid)
	require.NoError(t, err)
	assert.Equal(t, GlobalStatusRolledBack, status)
}

func TestCoordinatorLockConflictOnRegister(t *testing.T) {
	c, s := newTestCoordinator()
	// pre-seed the row lock as held by an unrelated (xid, branchId).
	require.NoError(t, s.AcquireLock([]string{"svcA:t_order:1"}, "other-xid", 99))
	c.locks.retryInterval = time.Millisecond
	c.locks.maxRetries = 2

	xid, err := c.Begin("app1", "tx", 0)
	require.NoError(t, err)

	_, err = c.RegisterBranch(context.Background(), xid, "g", "svcA", "AT", "svcA:t_order:1", nil, 0)
	require.Error(t, err)
}

func TestCoordinatorCommitRejectedAfterRolledBack(t *testing.T) {
	c, s := newTestCoordinator()
	xid, err := c.Begin("app1", "create-order", 0)
	require.NoError(t, err)
	_, err = c.RegisterBranch(context.Background(), xid, "g", "orderService", "AT", "", nil, 0)
	require.NoError(t, err)

	done, err := c.Rollback(context.Background(), xid)
	require.NoError(t, err)
	assert.True(t, done)

	status, err := c.Status(xid)
	require.NoError(t, err)
	require.Equal(t, GlobalStatusRolledBack, status)

	branchesBefore, err := s.FindBranches(xid)
	require.NoError(t, err)

	// A business thread that only now gets around to committing a
	// transaction the scanner already rolled back must be rejected,
	// not silently flip the rolled-back global and its branches to
	// committed.
	done, err = c.Commit(context.Background(), xid)
	require.Error(t, err)
	assert.False(t, done)
	assert.True(t, errors.Is(err, txutil.ErrGlobalNotActive))

	status, err = c.Status(xid)
	require.NoError(t, err)
	assert.Equal(t, GlobalStatusRolledBack, status)

	branchesAfter, err := s.FindBranches(xid)
	require.NoError(t, err)
	require.Len(t, branchesAfter, 1)
	assert.Equal(t, branchesBefore[0].Status, branchesAfter[0].Status)
	assert.Equal(t, BranchStatusPhaseTwoRolledBack, branchesAfter[0].Status)
}

func TestCoordinatorRegisterBranchNonexistentXID(t *testing.T) {
	c, _ := newTestCoordinator()
	_, err := c.RegisterBranch(context.Background(), "no-such-xid", "g", "orderService", "AT", "", nil, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, txutil.ErrGlobalNotFound))
}

func TestCoordinatorRegisterBranchTerminalXID(t *testing.T) {
	c, _ := newTestCoordinator()
	xid, err := c.Begin("app1", "create-order", 0)
	require.NoError(t, err)
	_, err = c.RegisterBranch(context.Background(), xid, "g", "orderService", "AT", "", nil, 0)
	require.NoError(t, err)

	done, err := c.Commit(context.Background(), xid)
	require.NoError(t, err)
	require.True(t, done)

	_, err = c.RegisterBranch(context.Background(), xid, "g", "orderService2", "AT", "", nil, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, txutil.ErrGlobalNotActive))
}

func TestCoordinatorPermanentBranchFailureGoesCommitFailed(t *testing.T) {
	cfg := config.Default()
	s := newMemStore()
	dispatcher := rm.NewDispatcher()
	dispatcher.SetPolicy("AT", rm.RetryPolicy{MaxAttempts: 1})
	dispatcher.Register(&stubRMHandler{branchType: "AT", result: rm.CommunicationResult{Status: rm.StatusNonRetryableError}})
	c := NewCoordinator(cfg, s, dispatcher, nil)

	xid, err := c.Begin("app1", "create-order", 0)
	require.NoError(t, err)
	_, err = c.RegisterBranch(context.Background(), xid, "g", "orderService", "AT", "", nil, 0)
	require.NoError(t, err)

	done, err := c.Commit(context.Background(), xid)
	require.Error(t, err)
	assert.False(t, done)

	status, err := c.Status(xid)
	require.NoError(t, err)
	assert.Equal(t, GlobalStatusCommitFailed, status)

	branches, err := s.FindBranches(xid)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, BranchStatusPhaseTwoCommitFailed, branches[0].Status)

	// A CommitFailed global is terminal: a later scanner tick or
	// business retry must not resurrect it.
	done, err = c.Commit(context.Background(), xid)
	require.Error(t, err)
	assert.False(t, done)
	assert.True(t, errors.Is(err, txutil.ErrGlobalNotActive))
}

func TestCoordinatorLateTryRejectedAfterCancelWithoutTry(t *testing.T) {
	cfg := config.Default()
	s := newMemStore()
	markers := tccregistry.NewMarkerStore()
	registry := tccregistry.NewRegistry()
	var confirmed, cancelled bool
	registry.Register(tccregistry.Registration{
		ResourceID: "payService",
		Confirm:    func(ctx context.Context, xid string, branchID int64) error { confirmed = true; return nil },
		Cancel:     func(ctx context.Context, xid string, branchID int64) error { cancelled = true; return nil },
	})
	dispatcher := rm.NewDispatcher()
	dispatcher.Register(rm.NewTCCHandler(registry, markers))
	c := NewCoordinator(cfg, s, dispatcher, nil)
	c.SetMarkers(markers)

	xid, err := c.Begin("app1", "pay-order", 0)
	require.NoError(t, err)
	branchID, err := c.RegisterBranch(context.Background(), xid, "g", "payService", "TCC", "", nil, 0)
	require.NoError(t, err)

	// Phase-2 rollback runs before the business thread's Try ever
	// reports success: ShouldCancel marks this branch
	// cancel-without-try.
	done, err := c.Rollback(context.Background(), xid)
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, cancelled)
	assert.False(t, confirmed)

	// The delayed Try now finally reports PhaseOneDone. It must be
	// rejected rather than resurrect a branch phase-2 already settled.
	err = c.ReportBranchStatus(xid, branchID, BranchStatusPhaseOneDone)
	require.Error(t, err)
	assert.True(t, errors.Is(err, txutil.ErrGlobalNotActive))
}
