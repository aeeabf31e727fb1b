package client

import (
	"context"
	"fmt"
)

// TryFunc runs a TCC branch's try step against the caller's business
// data, returning an error to vote the branch to fail; TryBranch returns
// that error, and once it reaches WithGlobalTransaction the whole global
// transaction is rolled back.
type TryFunc func(ctx context.Context) error

// TransactionInterceptor wraps business methods with global-transaction
// bookkeeping: beginning a global transaction, registering each TCC
// branch with the coordinator, invoking try, reporting its outcome,
// and finally committing or rolling back, all driven over this
// module's own wire client rather than an HTTP round trip per phase.
type TransactionInterceptor struct {
	tc              *TcClient
	applicationID   string
	resourceGroupID string
}

// NewTransactionInterceptor builds an interceptor over tc.
func NewTransactionInterceptor(tc *TcClient, applicationID, resourceGroupID string) *TransactionInterceptor {
	return &TransactionInterceptor{tc: tc, applicationID: applicationID, resourceGroupID: resourceGroupID}
}

// GlobalFunc defines the branches of a TCC global transaction: it
// receives a context carrying the freshly-begun TxContext and calls
// TryBranch for each participant.
type GlobalFunc func(ctx context.Context) error

// WithGlobalTransaction begins a global transaction, runs fn with the
// transaction bound to ctx, and commits on success or rolls back on
// any error from fn or its registered branches.
func (ti *TransactionInterceptor) WithGlobalTransaction(ctx context.Context, transactionName string, timeoutMs int64, fn GlobalFunc) (rerr error) {
	xid, err := ti.tc.Begin(ctx, ti.applicationID, transactionName, timeoutMs)
	if err != nil {
		return err
	}
	tx := &TxContext{XID: xid, ApplicationID: ti.applicationID, ResourceGroupID: ti.resourceGroupID}
	txCtx := WithTx(ctx, tx)

	defer func() {
		if rerr != nil {
			_ = ti.tc.Rollback(ctx, xid)
			return
		}
		rerr = ti.tc.Commit(ctx, xid)
	}()

	return fn(txCtx)
}

// TryBranch registers a TCC branch of the active transaction with the
// coordinator, invokes try, and reports PhaseOneDone or PhaseOneFailed.
// It does not touch any tccregistry.Registry: phase-2 finds the
// branch's Confirm/Cancel callbacks there by resourceID, so they are
// registered in the RM process's registry separately.
func (ti *TransactionInterceptor) TryBranch(ctx context.Context, resourceID string, lockKey string, appData []byte, timeoutMs int64, try TryFunc) error {
	tx, ok := FromContext(ctx)
	if !ok {
		return fmt.Errorf("client: TryBranch called outside an active global transaction")
	}

	branchID, err := ti.tc.RegisterBranch(ctx, tx.XID, tx.ResourceGroupID, resourceID, "TCC", lockKey, appData, timeoutMs)
	if err != nil {
		return err
	}

	if err := try(ctx); err != nil {
		_ = ti.tc.ReportBranchStatus(ctx, tx.XID, branchID, "PhaseOneFailed")
		return err
	}
	return ti.tc.ReportBranchStatus(ctx, tx.XID, branchID, "PhaseOneDone")
}

// TryBranchAsync runs TryBranch on a goroutine, carrying the caller's
// bound transaction across the handoff, and returns a Future for the
// outcome.
func (ti *TransactionInterceptor) TryBranchAsync(ctx context.Context, resourceID, lockKey string, appData []byte, timeoutMs int64, try TryFunc) *Future {
	f := newFuture()
	bound := Bind(ctx)
	go func() {
		childCtx := bound.Rebind(context.Background())
		f.complete(ti.TryBranch(childCtx, resourceID, lockKey, appData, timeoutMs, try))
	}()
	return f
}
