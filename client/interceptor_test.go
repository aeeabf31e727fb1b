package client

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithGlobalTransactionCommitsOnSuccess(t *testing.T) {
	c, cleanup := newLoopbackClient(t)
	defer cleanup()
	ti := NewTransactionInterceptor(c, "app1", "orderGroup")

	var sawXID string
	err := ti.WithGlobalTransaction(context.Background(), "create-order", 0, func(ctx context.Context) error {
		tx, ok := FromContext(ctx)
		require.True(t, ok)
		sawXID = tx.XID
		return ti.TryBranch(ctx, "orderService", "", nil, 0, func(ctx context.Context) error { return nil })
	})
	require.NoError(t, err)
	assert.Equal(t, "gtx-1", sawXID)
}

func TestWithGlobalTransactionRollsBackOnTryFailure(t *testing.T) {
	c, cleanup := newLoopbackClient(t)
	defer cleanup()
	ti := NewTransactionInterceptor(c, "app1", "orderGroup")

	tryErr := errors.New("insufficient stock")
	err := ti.WithGlobalTransaction(context.Background(), "create-order", 0, func(ctx context.Context) error {
		return ti.TryBranch(ctx, "orderService", "", nil, 0, func(ctx context.Context) error { return tryErr })
	})
	assert.ErrorIs(t, err, tryErr)
}

func TestTryBranchOutsideTransaction(t *testing.T) {
	c, cleanup := newLoopbackClient(t)
	defer cleanup()
	ti := NewTransactionInterceptor(c, "app1", "orderGroup")

	err := ti.TryBranch(context.Background(), "orderService", "", nil, 0, func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}

func TestTryBranchAsync(t *testing.T) {
	c, cleanup := newLoopbackClient(t)
	defer cleanup()
	ti := NewTransactionInterceptor(c, "app1", "orderGroup")

	err := ti.WithGlobalTransaction(context.Background(), "create-order", 0, func(ctx context.Context) error {
		f := ti.TryBranchAsync(ctx, "orderService", "", nil, 0, func(ctx context.Context) error { return nil })
		return f.Wait(ctx)
	})
	require.NoError(t, err)
}
