package rm

import (
	"context"

	"github.com/galaxytx/galaxytx/store"
	"github.com/galaxytx/galaxytx/tccregistry"
)

// TCCHandler drives phase-2 for TCC branches: invoke the registered
// confirm/cancel callback, enforcing idempotency and anti-suspension
// via tccregistry.MarkerStore.
type TCCHandler struct {
	registry *tccregistry.Registry
	markers  *tccregistry.MarkerStore
}

// NewTCCHandler builds a TCC handler over a registry and marker store.
func NewTCCHandler(registry *tccregistry.Registry, markers *tccregistry.MarkerStore) *TCCHandler {
	return &TCCHandler{registry: registry, markers: markers}
}

// BranchType returns "TCC".
func (h *TCCHandler) BranchType() string { return "TCC" }

// Dispatch performs one confirm or cancel attempt.
func (h *TCCHandler) Dispatch(ctx context.Context, branch *store.BranchTransaction, op Operation) CommunicationResult {
	reg, err := h.registry.Lookup(branch.ResourceID)
	if err != nil {
		return CommunicationResult{Status: StatusResourceError, Err: err}
	}

	if op == OpCommit {
		if !h.markers.ShouldConfirm(branch.XID, branch.BranchID) {
			return CommunicationResult{Status: StatusSuccess}
		}
		if err := reg.Confirm(ctx, branch.XID, branch.BranchID); err != nil {
			return classify(err)
		}
		h.markers.MarkConfirmed(branch.XID, branch.BranchID)
		return CommunicationResult{Status: StatusSuccess}
	}

	run, _ := h.markers.ShouldCancel(branch.XID, branch.BranchID)
	if !run {
		return CommunicationResult{Status: StatusSuccess}
	}
	if err := reg.Cancel(ctx, branch.XID, branch.BranchID); err != nil {
		return classify(err)
	}
	h.markers.MarkCancelled(branch.XID, branch.BranchID)
	return CommunicationResult{Status: StatusSuccess}
}
