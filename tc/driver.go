package tc

import (
	"context"
	"fmt"
	"sync"

	"github.com/galaxytx/galaxytx/rm"
	"github.com/galaxytx/galaxytx/store"
)

// PhaseTwoDriver drives every branch of one global transaction to a
// terminal phase-2 outcome, in parallel, delegating retry/backoff to
// the rm.Dispatcher and persisting each branch's resulting status.
type PhaseTwoDriver struct {
	dispatcher *rm.Dispatcher
	store      store.Store
	locks      *LockManager
}

// NewPhaseTwoDriver builds a driver over dispatcher and store.
func NewPhaseTwoDriver(dispatcher *rm.Dispatcher, s store.Store, locks *LockManager) *PhaseTwoDriver {
	return &PhaseTwoDriver{dispatcher: dispatcher, store: s, locks: locks}
}

// branchOutcome pairs a branch with the result of driving it.
type branchOutcome struct {
	branch store.BranchTransaction
	result rm.CommunicationResult
}

// DriveAll runs op against every non-terminal branch concurrently and
// blocks until each has either succeeded or exhausted its retry
// ceiling. dispatcher.Drive already owns the full retry loop for a
// branch, so any non-success result it returns is final for this
// phase-2 pass: there is nothing left to retry, and the branch is
// moved straight to its terminal Phase-Two-failed status rather than
// being handed back to the scanner for another pass. DriveAll reports
// allSucceeded (every branch reached its terminal success status) and
// anyFailed (at least one branch is now terminally failed); neither
// true means the remaining branches are still retryable and the
// caller should keep re-driving.
func (d *PhaseTwoDriver) DriveAll(ctx context.Context, branches []store.BranchTransaction, op rm.Operation) (allSucceeded bool, anyFailed bool, err error) {
	var wg sync.WaitGroup
	outcomes := make([]branchOutcome, len(branches))

	for i := range branches {
		if branchTerminal(branches[i].Status) {
			outcomes[i] = branchOutcome{branch: branches[i], result: rm.CommunicationResult{Status: rm.StatusSuccess}}
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := branches[i]
			res := d.dispatcher.Drive(ctx, &b, op)
			outcomes[i] = branchOutcome{branch: b, result: res}
		}(i)
	}
	wg.Wait()

	allSucceeded = true
	var firstErr error
	updates := make([]store.BranchTransaction, 0, len(outcomes))
	for _, o := range outcomes {
		b := o.branch
		switch {
		case o.result.Status == rm.StatusSuccess:
			if op == rm.OpCommit {
				b.Status = BranchStatusPhaseTwoCommitted
			} else {
				b.Status = BranchStatusPhaseTwoRolledBack
			}
			if d.locks != nil {
				_ = d.locks.Release(b.XID, b.BranchID)
			}
		default:
			allSucceeded = false
			anyFailed = true
			if firstErr == nil {
				firstErr = o.result.Err
				if firstErr == nil {
					firstErr = fmt.Errorf("tc: branch %d phase two ended with status %s", b.BranchID, o.result.Status)
				}
			}
			if op == rm.OpCommit {
				b.Status = BranchStatusPhaseTwoCommitFailed
			} else {
				b.Status = BranchStatusPhaseTwoRollbackFailed
			}
			if d.locks != nil {
				_ = d.locks.Release(b.XID, b.BranchID)
			}
		}
		updates = append(updates, b)
	}

	if _, err := d.store.UpdateBranches(updates, []string{"status"}); err != nil {
		return false, anyFailed, err
	}
	return allSucceeded, anyFailed, firstErr
}
