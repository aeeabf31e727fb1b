package tccregistry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(Registration{
		ResourceID: "orderService",
		Confirm:    func(ctx context.Context, xid string, branchID int64) error { return nil },
		Cancel:     func(ctx context.Context, xid string, branchID int64) error { return nil },
	})
	reg, err := r.Lookup("orderService")
	assert.NoError(t, err)
	assert.True(t, reg.Enabled)
}

func TestLookupNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupByNamingConvention(t *testing.T) {
	r := NewRegistry()
	r.Register(Registration{ResourceID: "orderServiceImpl", Confirm: noop, Cancel: noop})
	reg, ok := r.LookupByName("order")
	assert.True(t, ok)
	assert.Equal(t, "orderServiceImpl", reg.ResourceID)
	_, ok = r.LookupByName("orderService")
	assert.False(t, ok)
}

func noop(ctx context.Context, xid string, branchID int64) error { return nil }

func TestMarkerIdempotency(t *testing.T) {
	m := NewMarkerStore()
	assert.True(t, m.ShouldConfirm("x1", 1))
	m.MarkConfirmed("x1", 1)
	assert.False(t, m.ShouldConfirm("x1", 1))
}

func TestMarkerCancelWithoutTry(t *testing.T) {
	m := NewMarkerStore()
	run, cwt := m.ShouldCancel("x1", 1)
	assert.True(t, run)
	assert.True(t, cwt)
	m.MarkCancelled("x1", 1)

	ok := m.MarkTried("x1", 1)
	assert.False(t, ok, "late Try after cancel-without-try must be rejected")
}

func TestMarkerNormalTryConfirm(t *testing.T) {
	m := NewMarkerStore()
	assert.True(t, m.MarkTried("x2", 1))
	run, cwt := m.ShouldCancel("x2", 1)
	assert.True(t, run)
	assert.False(t, cwt)
}
