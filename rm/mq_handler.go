package rm

import (
	"context"
	"errors"

	"github.com/galaxytx/galaxytx/store"
)

// ErrHalfMessageExpired is returned by a MessageBroker when the
// half-message backing a branch can no longer be confirmed or
// discarded (e.g. it already expired and was auto-discarded by the
// broker's own back-check).
var ErrHalfMessageExpired = errors.New("rm: half-message expired")

// MessageBroker abstracts the transactional/half-message broker a MQ
// branch confirms or discards against. msgID is the broker-native
// identifier stashed in BranchTransaction.ResourceID at registration
// time (e.g. a Redis Streams "<stream>:<id>" pair).
type MessageBroker interface {
	Confirm(ctx context.Context, msgID string) error
	Discard(ctx context.Context, msgID string) error
}

// MQHandler drives phase-2 for MQ branches: confirm the half-message
// on commit (makes it visible to consumers), discard it on rollback.
type MQHandler struct {
	broker MessageBroker
}

// NewMQHandler builds an MQ handler over broker.
func NewMQHandler(broker MessageBroker) *MQHandler {
	return &MQHandler{broker: broker}
}

// BranchType returns "MQ".
func (h *MQHandler) BranchType() string { return "MQ" }

// Dispatch performs one confirm or discard attempt.
func (h *MQHandler) Dispatch(ctx context.Context, branch *store.BranchTransaction, op Operation) CommunicationResult {
	var err error
	if op == OpCommit {
		err = h.broker.Confirm(ctx, branch.ResourceID)
	} else {
		err = h.broker.Discard(ctx, branch.ResourceID)
	}
	if err == nil {
		return CommunicationResult{Status: StatusSuccess}
	}
	if errors.Is(err, ErrHalfMessageExpired) {
		return CommunicationResult{Status: StatusNonRetryableError, Err: err}
	}
	return classify(err)
}
