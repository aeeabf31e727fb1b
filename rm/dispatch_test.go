package rm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxytx/galaxytx/store"
)

type stubHandler struct {
	branchType string
	results    []CommunicationResult
	calls      int
}

func (s *stubHandler) BranchType() string { return s.branchType }
func (s *stubHandler) Dispatch(ctx context.Context, branch *store.BranchTransaction, op Operation) CommunicationResult {
	r := s.results[s.calls]
	s.calls++
	return r
}

func TestDispatcherRetriesThenSucceeds(t *testing.T) {
	h := &stubHandler{branchType: "AT", results: []CommunicationResult{
		{Status: StatusNetworkError}, {Status: StatusNetworkError}, {Status: StatusSuccess},
	}}
	d := NewDispatcher()
	d.Register(h)
	d.sleep = func(time.Duration) {}

	res := d.Drive(context.Background(), &store.BranchTransaction{BranchType: "AT"}, OpCommit)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 3, h.calls)
}

func TestDispatcherNonRetryableStopsImmediately(t *testing.T) {
	h := &stubHandler{branchType: "HTTP", results: []CommunicationResult{
		{Status: StatusAuthError},
	}}
	d := NewDispatcher()
	d.Register(h)
	d.sleep = func(time.Duration) {}

	res := d.Drive(context.Background(), &store.BranchTransaction{BranchType: "HTTP"}, OpRollback)
	assert.Equal(t, StatusAuthError, res.Status)
	assert.Equal(t, 1, h.calls)
}

func TestDispatcherExhaustsCeiling(t *testing.T) {
	h := &stubHandler{branchType: "MQ", results: []CommunicationResult{
		{Status: StatusTimeout}, {Status: StatusTimeout}, {Status: StatusTimeout},
	}}
	d := NewDispatcher()
	d.Register(h)
	d.sleep = func(time.Duration) {}

	res := d.Drive(context.Background(), &store.BranchTransaction{BranchType: "MQ"}, OpCommit)
	assert.Equal(t, StatusTimeout, res.Status)
	assert.Equal(t, 3, h.calls) // MQ ceiling is 3
}

func TestDispatcherNoHandler(t *testing.T) {
	d := NewDispatcher()
	res := d.Drive(context.Background(), &store.BranchTransaction{BranchType: "XA"}, OpCommit)
	require.Error(t, res.Err)
	assert.Equal(t, StatusNonRetryableError, res.Status)
}

func TestBackoffDelayCapped(t *testing.T) {
	p := RetryPolicy{InitialInterval: time.Second, Multiplier: 1.5, MaxInterval: 5 * time.Second, Jitter: false}
	assert.Equal(t, time.Second, p.backoffDelay(1))
	assert.LessOrEqual(t, p.backoffDelay(10), 5*time.Second)
}
