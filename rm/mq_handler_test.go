package rm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/galaxytx/galaxytx/store"
)

type stubBroker struct {
	confirmErr error
	discardErr error
	confirmed  []string
	discarded  []string
}

func (b *stubBroker) Confirm(ctx context.Context, msgID string) error {
	b.confirmed = append(b.confirmed, msgID)
	return b.confirmErr
}

func (b *stubBroker) Discard(ctx context.Context, msgID string) error {
	b.discarded = append(b.discarded, msgID)
	return b.discardErr
}

func TestMQHandlerConfirmOnCommit(t *testing.T) {
	broker := &stubBroker{}
	h := NewMQHandler(broker)
	branch := &store.BranchTransaction{XID: "x1", BranchID: 1, ResourceID: "orders:1-0", BranchType: "MQ"}
	res := h.Dispatch(context.Background(), branch, OpCommit)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []string{"orders:1-0"}, broker.confirmed)
}

func TestMQHandlerDiscardOnRollback(t *testing.T) {
	broker := &stubBroker{}
	h := NewMQHandler(broker)
	branch := &store.BranchTransaction{XID: "x1", BranchID: 1, ResourceID: "orders:1-0", BranchType: "MQ"}
	res := h.Dispatch(context.Background(), branch, OpRollback)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []string{"orders:1-0"}, broker.discarded)
}

func TestMQHandlerExpiredIsNonRetryable(t *testing.T) {
	broker := &stubBroker{confirmErr: ErrHalfMessageExpired}
	h := NewMQHandler(broker)
	branch := &store.BranchTransaction{XID: "x1", BranchID: 1, ResourceID: "orders:1-0", BranchType: "MQ"}
	res := h.Dispatch(context.Background(), branch, OpCommit)
	assert.Equal(t, StatusNonRetryableError, res.Status)
}

func TestMQHandlerNetworkErrorRetryable(t *testing.T) {
	broker := &stubBroker{confirmErr: errors.New("dial tcp: timeout")}
	h := NewMQHandler(broker)
	branch := &store.BranchTransaction{XID: "x1", BranchID: 1, ResourceID: "orders:1-0", BranchType: "MQ"}
	res := h.Dispatch(context.Background(), branch, OpCommit)
	assert.Equal(t, StatusResourceError, res.Status)
}
