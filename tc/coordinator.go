package tc

import (
	"context"
	"time"

	"github.com/galaxytx/galaxytx/config"
	"github.com/galaxytx/galaxytx/idgen"
	"github.com/galaxytx/galaxytx/logger"
	"github.com/galaxytx/galaxytx/rm"
	"github.com/galaxytx/galaxytx/store"
	"github.com/galaxytx/galaxytx/tccregistry"
	"github.com/galaxytx/galaxytx/txutil"
)

// Coordinator is the transaction coordinator core: it owns global/
// branch lifecycle transitions and delegates persistence to a
// store.Store, phase-2 dispatch to rm.Dispatcher, and lock arbitration
// to a LockManager across all five branch types.
type Coordinator struct {
	cfg     *config.Config
	store   store.Store
	xids    *idgen.XIDGenerator
	branchIDs *idgen.BranchIDGenerator
	locks   *LockManager
	driver  *PhaseTwoDriver
	cache   *GlobalCache
	metrics *Metrics
	markers *tccregistry.MarkerStore
}

// NewCoordinator wires a coordinator from its collaborators.
func NewCoordinator(cfg *config.Config, s store.Store, dispatcher *rm.Dispatcher, metrics *Metrics) *Coordinator {
	locks := NewLockManager(s, time.Duration(cfg.Lock.RetryIntervalMs)*time.Millisecond, cfg.Lock.MaxRetries)
	return &Coordinator{
		cfg:       cfg,
		store:     s,
		xids:      idgen.NewXIDGenerator(appID(cfg)),
		branchIDs: idgen.NewBranchIDGenerator(cfg.Server.WorkerID),
		locks:     locks,
		driver:    NewPhaseTwoDriver(dispatcher, s, locks),
		cache:     NewGlobalCache(4096),
		metrics:   metrics,
	}
}

// SetMarkers attaches the tccregistry.MarkerStore shared with any
// rm.TCCHandler registered on this coordinator's dispatcher, so a
// late-arriving Try success report can be checked against a
// cancel-without-try marker already recorded by phase-2. A
// coordinator with no TCC branches registered never needs this.
func (c *Coordinator) SetMarkers(markers *tccregistry.MarkerStore) {
	c.markers = markers
}

func appID(cfg *config.Config) string {
	if cfg.Server.Address == "" {
		return "galaxytx-tc"
	}
	return "galaxytx-tc@" + cfg.Server.Address
}

// Begin starts a new global transaction and returns its xid.
func (c *Coordinator) Begin(applicationID, transactionName string, timeoutMs int64) (string, error) {
	xid := c.xids.Next()
	now := time.Now()
	g := &store.GlobalTransaction{
		XID:             xid,
		Status:          GlobalStatusBegin,
		ApplicationID:   applicationID,
		TransactionName: transactionName,
		TimeoutMs:       c.cfg.ClampTimeout(timeoutMs),
		BeginTimeMs:     now.UnixNano() / int64(time.Millisecond),
		NextCronTime:    now.Add(time.Duration(c.cfg.ClampTimeout(timeoutMs)) * time.Millisecond),
		NextCronInterval: c.cfg.ClampTimeout(timeoutMs) / 1000,
		CreateTime:      now,
		UpdateTime:      now,
	}
	if err := c.store.SaveNewGlobal(g, nil); err != nil {
		return "", err
	}
	c.cache.Put(g)
	if c.metrics != nil {
		c.metrics.GlobalBegun.Inc()
	}
	logger.Infof("global begin xid=%s name=%s timeoutMs=%d", xid, transactionName, g.TimeoutMs)
	return xid, nil
}

// RegisterBranch registers one branch against xid, acquiring its
// global lock (if any lockKey is given) before persisting the branch
// row, matching the AT-mode ordering requirement that the lock be held
// before the branch's local transaction commits.
func (c *Coordinator) RegisterBranch(ctx context.Context, xid, resourceGroupID, resourceID, branchType, lockKey string, appData []byte, timeoutMs int64) (int64, error) {
	g, err := c.findGlobal(xid)
	if err != nil {
		if err == store.ErrNotFound {
			return 0, txutil.NewTagged(txutil.ErrGlobalNotFound, false, "global transaction not found: "+xid)
		}
		return 0, err
	}
	// Any status past Begin means phase-2 has already started (or
	// finished, or failed): a branch registering now could never be
	// picked up by the DriveAll pass already in flight or already
	// done, so it is rejected outright rather than left to register
	// successfully and hang.
	if g.Status != GlobalStatusBegin {
		return 0, txutil.NewTagged(txutil.ErrGlobalNotActive, false, "global transaction not active: "+xid)
	}

	branchID := c.branchIDs.Next()
	if lockKey != "" {
		if err := c.locks.Acquire(lockKey, xid, branchID); err != nil {
			if c.metrics != nil {
				c.metrics.LockConflicts.Inc()
			}
			return 0, txutil.NewTagged(txutil.ErrLockConflict, true, "branch registration lock conflict")
		}
	}

	now := time.Now()
	b := store.BranchTransaction{
		BranchID:        branchID,
		XID:             xid,
		ResourceGroupID: resourceGroupID,
		ResourceID:      resourceID,
		BranchType:      branchType,
		LockKey:         lockKey,
		Status:          BranchStatusRegistered,
		ApplicationData: appData,
		BeginTimeMs:     now.UnixNano() / int64(time.Millisecond),
		TimeoutMs:       c.cfg.ClampBranchTimeout(timeoutMs),
		CreateTime:      now,
		UpdateTime:      now,
	}
	if err := c.store.InsertBranches([]store.BranchTransaction{b}); err != nil {
		if lockKey != "" {
			_ = c.locks.Release(xid, branchID)
		}
		return 0, err
	}
	if c.metrics != nil {
		c.metrics.BranchRegistered.WithLabelValues(branchType).Inc()
	}
	return branchID, nil
}

// ReportBranchStatus records a branch's self-reported phase-one
// outcome (used by TCC Try failures and AT local-transaction failures
// to short-circuit the global transaction to rollback).
func (c *Coordinator) ReportBranchStatus(xid string, branchID int64, status string) error {
	b, err := c.store.FindBranch(xid, branchID)
	if err != nil {
		return err
	}
	if status == BranchStatusPhaseOneDone && b.BranchType == "TCC" && c.markers != nil {
		if !c.markers.MarkTried(xid, branchID) {
			return txutil.NewTagged(txutil.ErrGlobalNotActive, false, "branch already cancelled without try: "+xid)
		}
	}
	b.Status = status
	_, err = c.store.UpdateBranches([]store.BranchTransaction{*b}, []string{"status"})
	if err != nil {
		return err
	}
	if status == BranchStatusPhaseOneFailed {
		_, _ = c.Rollback(context.Background(), xid)
	}
	return nil
}

// Commit drives every branch of xid through phase-2 commit. It returns
// (true, nil) once every branch is durably committed, or (false,
// txutil.ErrOngoing) if some branches are still retrying and the
// caller should poll GlobalStatus later.
func (c *Coordinator) Commit(ctx context.Context, xid string) (bool, error) {
	return c.drivePhaseTwo(ctx, xid, rm.OpCommit, GlobalStatusCommitting, GlobalStatusCommitted)
}

// Rollback drives every branch of xid through phase-2 rollback.
func (c *Coordinator) Rollback(ctx context.Context, xid string) (bool, error) {
	return c.drivePhaseTwo(ctx, xid, rm.OpRollback, GlobalStatusRollingBack, GlobalStatusRolledBack)
}

func (c *Coordinator) drivePhaseTwo(ctx context.Context, xid string, op rm.Operation, inflightStatus, doneStatus string) (bool, error) {
	g, err := c.findGlobal(xid)
	if err != nil {
		if err == store.ErrNotFound {
			return false, txutil.NewTagged(txutil.ErrGlobalNotFound, false, "global transaction not found: "+xid)
		}
		return false, err
	}
	if g.Status == doneStatus || g.Status == GlobalStatusFinished {
		return true, nil
	}
	// A terminal status other than doneStatus means the global
	// finished (or permanently failed) in the other direction; redoing
	// it now would silently overwrite that outcome, so it is rejected
	// rather than re-driven.
	if isTerminal(g.Status) {
		return false, txutil.NewTagged(txutil.ErrGlobalNotActive, false, "global transaction already terminal: "+xid)
	}

	retryStatus := GlobalStatusCommitRetrying
	failStatus := GlobalStatusCommitFailed
	if op == rm.OpRollback {
		retryStatus = GlobalStatusRollbackRetrying
		failStatus = GlobalStatusRollbackFailed
	}

	if g.Status != inflightStatus && g.Status != retryStatus {
		if err := c.store.ChangeGlobalStatus(xid, g.Status, inflightStatus); err != nil && err != store.ErrUniqueConflict {
			return false, err
		}
	}
	g.Status = inflightStatus
	c.cache.Put(g)

	branches, err := c.store.FindBranches(xid)
	if err != nil {
		return false, err
	}

	allSucceeded, anyFailed, driveErr := c.driver.DriveAll(ctx, branches, op)
	if anyFailed {
		if err := c.store.ChangeGlobalStatus(xid, inflightStatus, failStatus); err != nil && err != store.ErrUniqueConflict {
			_ = c.store.ChangeGlobalStatus(xid, retryStatus, failStatus)
		}
		g.Status = failStatus
		c.cache.Put(g)
		if c.metrics != nil {
			c.metrics.GlobalFailed.Inc()
		}
		logger.Warnf("phase two terminally failed xid=%s op=%v: %v", xid, op, driveErr)
		return false, txutil.NewTagged(txutil.ErrFailure, false, "phase two failed, operator review required")
	}
	if !allSucceeded {
		_ = c.store.ChangeGlobalStatus(xid, inflightStatus, retryStatus)
		g.Status = retryStatus
		c.cache.Put(g)
		if driveErr != nil {
			logger.Warnf("phase two still retrying xid=%s op=%v: %v", xid, op, driveErr)
		}
		return false, txutil.NewTagged(txutil.ErrOngoing, true, "phase two still retrying")
	}

	if err := c.store.ChangeGlobalStatus(xid, inflightStatus, doneStatus); err != nil && err != store.ErrUniqueConflict {
		// the global may have moved to its retry status between the
		// read above and this write; that's still a valid predecessor.
		_ = c.store.ChangeGlobalStatus(xid, retryStatus, doneStatus)
	}
	c.cache.Invalidate(xid)
	if c.metrics != nil {
		if op == rm.OpCommit {
			c.metrics.GlobalCommitted.Inc()
		} else {
			c.metrics.GlobalRolledBack.Inc()
		}
	}
	return true, nil
}

// Status returns the current global status, preferring the hot cache.
func (c *Coordinator) Status(xid string) (string, error) {
	g, err := c.findGlobal(xid)
	if err != nil {
		return "", err
	}
	return g.Status, nil
}

// ScanGlobals lists global transactions for operator tooling, paging
// through position/limit exactly as the underlying store.Store does.
func (c *Coordinator) ScanGlobals(position *string, limit int) ([]store.GlobalTransaction, error) {
	return c.store.ScanGlobals(position, limit)
}

func (c *Coordinator) findGlobal(xid string) (*store.GlobalTransaction, error) {
	if g, ok := c.cache.Get(xid); ok {
		return g, nil
	}
	g, err := c.store.FindGlobal(xid)
	if err != nil {
		return nil, err
	}
	c.cache.Put(g)
	return g, nil
}
