package rm

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/galaxytx/galaxytx/store"
)

// XAResourceRegistry maps a resourceId to the *sql.DB holding its
// prepared XA branch, mirroring the in-process ResourceRegistration
// binding named in SPEC_FULL §3a.
type XAResourceRegistry interface {
	DBFor(resourceID string) (*sql.DB, error)
}

// XAHandler drives phase-2 for XA branches via native "XA COMMIT"/
// "XA ROLLBACK" statements against the registered connection.
type XAHandler struct {
	registry XAResourceRegistry
}

// NewXAHandler builds an XA handler.
func NewXAHandler(registry XAResourceRegistry) *XAHandler {
	return &XAHandler{registry: registry}
}

// BranchType returns "XA".
func (h *XAHandler) BranchType() string { return "XA" }

// xaID formats the branch as the XA transaction identifier used at
// prepare time by the driver (gtrid=xid, bqual=branchId).
func xaID(branch *store.BranchTransaction) string {
	return fmt.Sprintf("'%s','%d'", branch.XID, branch.BranchID)
}

// Dispatch performs one XA COMMIT or XA ROLLBACK attempt.
func (h *XAHandler) Dispatch(ctx context.Context, branch *store.BranchTransaction, op Operation) CommunicationResult {
	db, err := h.registry.DBFor(branch.ResourceID)
	if err != nil {
		return CommunicationResult{Status: StatusResourceError, Err: err}
	}
	verb := "XA COMMIT"
	if op == OpRollback {
		verb = "XA ROLLBACK"
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf("%s %s", verb, xaID(branch)))
	if err != nil {
		return CommunicationResult{Status: StatusRetryableError, Err: err}
	}
	return CommunicationResult{Status: StatusSuccess}
}
