package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithTxAndFromContext(t *testing.T) {
	tx := &TxContext{XID: "x1"}
	ctx := WithTx(context.Background(), tx)
	got, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "x1", got.XID)
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}

func TestBindRebind(t *testing.T) {
	tx := &TxContext{XID: "x1"}
	ctx := WithTx(context.Background(), tx)
	bound := Bind(ctx)

	fresh := bound.Rebind(context.Background())
	got, ok := FromContext(fresh)
	assert.True(t, ok)
	assert.Equal(t, "x1", got.XID)
}

func TestBindNoActiveTx(t *testing.T) {
	bound := Bind(context.Background())
	fresh := bound.Rebind(context.Background())
	_, ok := FromContext(fresh)
	assert.False(t, ok)
}
