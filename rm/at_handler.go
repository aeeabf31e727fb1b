package rm

import (
	"context"
	"errors"

	"github.com/galaxytx/galaxytx/atmode"
	"github.com/galaxytx/galaxytx/store"
	"github.com/galaxytx/galaxytx/txutil"
)

// UndoLogDeleter is the subset of atmode.UndoLogStore the AT handler
// needs for a successful commit.
type UndoLogDeleter interface {
	Delete(xid string, branchID int64) error
}

// Compensator is the subset of atmode.Compensator the AT handler needs
// for rollback.
type Compensator interface {
	Compensate(xid string, branchID int64, phaseOneNeverCompleted bool) error
}

// ResourceResolver looks up the per-resourceId undo-log store and
// compensator, since each AT resourceId names a distinct business
// database connection.
type ResourceResolver interface {
	UndoLogsFor(resourceID string) (UndoLogDeleter, error)
	CompensatorFor(resourceID string) (Compensator, error)
}

// ATHandler drives phase-2 for AT-mode branches: delete the undo log on
// commit, run reverse-SQL compensation on rollback.
type ATHandler struct {
	resolver ResourceResolver
}

// NewATHandler builds an AT handler backed by resolver.
func NewATHandler(resolver ResourceResolver) *ATHandler {
	return &ATHandler{resolver: resolver}
}

// BranchType returns "AT".
func (h *ATHandler) BranchType() string { return "AT" }

// Dispatch performs one commit or rollback attempt.
func (h *ATHandler) Dispatch(ctx context.Context, branch *store.BranchTransaction, op Operation) CommunicationResult {
	if op == OpCommit {
		deleter, err := h.resolver.UndoLogsFor(branch.ResourceID)
		if err != nil {
			return classify(err)
		}
		if err := deleter.Delete(branch.XID, branch.BranchID); err != nil {
			return classify(err)
		}
		return CommunicationResult{Status: StatusSuccess}
	}

	comp, err := h.resolver.CompensatorFor(branch.ResourceID)
	if err != nil {
		return classify(err)
	}
	phaseOneNeverCompleted := branch.Status == "Registered"
	if err := comp.Compensate(branch.XID, branch.BranchID, phaseOneNeverCompleted); err != nil {
		return classify(err)
	}
	return CommunicationResult{Status: StatusSuccess}
}

// classify maps an atmode/store error into a CommunicationResult,
// treating dirty-write and protocol-shaped failures as non-retryable
// and everything else as a retryable resource error.
func classify(err error) CommunicationResult {
	var tagged *txutil.TaggedError
	if errors.As(err, &tagged) {
		status := StatusRetryableError
		if !tagged.Retryable {
			status = StatusNonRetryableError
		}
		return CommunicationResult{Status: status, Err: err}
	}
	return CommunicationResult{Status: StatusResourceError, Err: err}
}

var _ Compensator = (*atmode.Compensator)(nil)
var _ UndoLogDeleter = (*atmode.UndoLogStore)(nil)
