package client

import "context"

type txContextKey struct{}

// TxContext carries the active global transaction's identity across a
// request as a context.Context value, since branch calls in this
// module don't cross an inbound HTTP hop between services.
type TxContext struct {
	XID             string
	ApplicationID   string
	ResourceGroupID string
}

// WithTx returns a child context carrying tx, replacing any existing one.
func WithTx(ctx context.Context, tx *TxContext) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// FromContext returns the active TxContext, if any was bound.
func FromContext(ctx context.Context) (*TxContext, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*TxContext)
	return tx, ok
}

// Bind captures the TxContext currently active on ctx into a plain
// value usable after a goroutine handoff, where the original context
// may be cancelled before the spawned goroutine runs. Rebind restores
// it onto a fresh context in that goroutine.
type Bound struct {
	tx *TxContext
}

// Bind snapshots ctx's active transaction for later goroutine handoff.
func Bind(ctx context.Context) Bound {
	tx, _ := FromContext(ctx)
	return Bound{tx: tx}
}

// Rebind attaches the snapshotted transaction onto a fresh context.
func (b Bound) Rebind(ctx context.Context) context.Context {
	if b.tx == nil {
		return ctx
	}
	return WithTx(ctx, b.tx)
}
