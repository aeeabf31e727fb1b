// Package rm implements phase-2 dispatch to resource managers: the
// retry/back-off policy shared by every branch type, and the five
// concrete handlers (AT, TCC, XA, MQ, HTTP).
package rm

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/galaxytx/galaxytx/store"
)

// CommunicationResultStatus classifies the outcome of one dispatch
// attempt.
type CommunicationResultStatus string

// Status values, per the error-handling taxonomy.
const (
	StatusSuccess         CommunicationResultStatus = "Success"
	StatusFailure         CommunicationResultStatus = "Failure"
	StatusTimeout         CommunicationResultStatus = "Timeout"
	StatusNetworkError    CommunicationResultStatus = "NetworkError"
	StatusProtocolError   CommunicationResultStatus = "ProtocolError"
	StatusAuthError       CommunicationResultStatus = "AuthError"
	StatusResourceError   CommunicationResultStatus = "ResourceError"
	StatusRetryableError  CommunicationResultStatus = "RetryableError"
	StatusNonRetryableError CommunicationResultStatus = "NonRetryableError"
)

// retryable reports whether a status should be retried per the error
// handling design: Timeout, NetworkError, ResourceError, RetryableError.
func (s CommunicationResultStatus) retryable() bool {
	switch s {
	case StatusTimeout, StatusNetworkError, StatusResourceError, StatusRetryableError:
		return true
	default:
		return false
	}
}

// CommunicationResult is the outcome of one dispatch attempt.
type CommunicationResult struct {
	Status    CommunicationResultStatus
	Err       error
	Retryable bool
}

// Operation selects commit or rollback semantics on a handler.
type Operation int

// The two phase-2 operations.
const (
	OpCommit Operation = iota
	OpRollback
)

// ResourceHandler drives phase-2 for one branch type.
type ResourceHandler interface {
	// BranchType names the branch type this handler serves (e.g. "AT").
	BranchType() string
	// Dispatch performs one attempt of op against branch. It must not
	// itself retry; the Dispatcher owns backoff and attempt counting.
	Dispatch(ctx context.Context, branch *store.BranchTransaction, op Operation) CommunicationResult
}

// RetryPolicy configures exponential backoff and an attempt ceiling.
type RetryPolicy struct {
	MaxAttempts       int
	InitialInterval   time.Duration
	Multiplier        float64
	MaxInterval       time.Duration
	Jitter            bool
}

// DefaultRetryPolicies returns the per-branch-type attempt ceilings
// (AT=5, TCC=5, HTTP=3, MQ=3, XA=3), all sharing the same exponential
// curve (factor 1.5, cap 30s).
func DefaultRetryPolicies() map[string]RetryPolicy {
	base := RetryPolicy{InitialInterval: time.Second, Multiplier: 1.5, MaxInterval: 30 * time.Second, Jitter: true}
	at, tcc, http, mq, xa := base, base, base, base, base
	at.MaxAttempts = 5
	tcc.MaxAttempts = 5
	http.MaxAttempts = 3
	mq.MaxAttempts = 3
	xa.MaxAttempts = 3
	return map[string]RetryPolicy{"AT": at, "TCC": tcc, "HTTP": http, "MQ": mq, "XA": xa}
}

// backoffDelay returns the delay before attempt number n (1-based).
func (p RetryPolicy) backoffDelay(n int) time.Duration {
	d := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(n-1))
	if d > float64(p.MaxInterval) {
		d = float64(p.MaxInterval)
	}
	if p.Jitter {
		d = d * (0.8 + 0.4*rand.Float64())
	}
	return time.Duration(d)
}

// Dispatcher owns the registry of ResourceHandlers and drives each
// phase-2 call with retry/backoff until success or ceiling exhaustion.
type Dispatcher struct {
	handlers map[string]ResourceHandler
	policies map[string]RetryPolicy
	sleep    func(time.Duration)
}

// NewDispatcher builds a dispatcher with the default retry ceilings.
// Handlers must be registered with Register before use.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: map[string]ResourceHandler{},
		policies: DefaultRetryPolicies(),
		sleep:    time.Sleep,
	}
}

// Register adds (or replaces) the handler for one branch type.
func (d *Dispatcher) Register(h ResourceHandler) {
	d.handlers[h.BranchType()] = h
}

// SetPolicy overrides the retry policy for one branch type.
func (d *Dispatcher) SetPolicy(branchType string, p RetryPolicy) {
	d.policies[branchType] = p
}

// ErrNoHandler is returned when no handler is registered for a branch's
// type.
type ErrNoHandler struct{ BranchType string }

func (e *ErrNoHandler) Error() string { return "rm: no handler registered for branch type " + e.BranchType }

// Drive dispatches op against branch, retrying per the branch type's
// policy until success, a non-retryable result, or attempts exhausted.
// It never returns until the branch has reached a terminal outcome for
// this phase, matching the coordinator's expectation that phase-2
// driving fully owns its own retry loop.
func (d *Dispatcher) Drive(ctx context.Context, branch *store.BranchTransaction, op Operation) CommunicationResult {
	h, ok := d.handlers[branch.BranchType]
	if !ok {
		return CommunicationResult{Status: StatusNonRetryableError, Err: &ErrNoHandler{BranchType: branch.BranchType}}
	}
	policy, ok := d.policies[branch.BranchType]
	if !ok {
		policy = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Second, Multiplier: 1.5, MaxInterval: 30 * time.Second}
	}

	var last CommunicationResult
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return CommunicationResult{Status: StatusTimeout, Err: ctx.Err()}
		default:
		}
		last = h.Dispatch(ctx, branch, op)
		if last.Status == StatusSuccess {
			return last
		}
		if !last.Status.retryable() {
			last.Retryable = false
			return last
		}
		last.Retryable = true
		if attempt < policy.MaxAttempts {
			d.sleep(policy.backoffDelay(attempt))
		}
	}
	return last
}
