// Package tccregistry implements TCC service discovery and idempotency
// markers, grounded on xiaoxuxiansheng-gotcc's TCCComponent/
// registryCenter shape: since Go has no runtime annotation scan,
// discovery here is explicit registration plus an optional
// naming-convention lookup.
package tccregistry

import (
	"context"
	"fmt"
	"sync"
)

// ConfirmFunc and CancelFunc are the two callback shapes a TCC service
// registers. All four common signatures (no-arg, xid-only,
// xid+branchId, or full branch struct) collapse to this one closure
// type at registration time — the caller adapts their own method into
// it.
type ConfirmFunc func(ctx context.Context, xid string, branchID int64) error

// CancelFunc mirrors ConfirmFunc for the cancel path.
type CancelFunc func(ctx context.Context, xid string, branchID int64) error

// Registration is one TCC service's discovery metadata, the Go
// equivalent of the original's @TCCService-annotated class.
type Registration struct {
	ResourceID string
	Confirm    ConfirmFunc
	Cancel     CancelFunc
	Timeout    int64
	MaxRetries int
	Enabled    bool
}

// Registry holds every registered TCC service, keyed by resourceId.
type Registry struct {
	mu   sync.RWMutex
	regs map[string]Registration
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{regs: map[string]Registration{}}
}

// Register adds or replaces a TCC service's registration.
func (r *Registry) Register(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !reg.Enabled {
		reg.Enabled = true
	}
	r.regs[reg.ResourceID] = reg
}

// ErrNotFound is returned by Lookup when a resourceId has no enabled
// registration; Lookup matches the resourceId exactly and does not try
// the naming-convention candidates of LookupByName.
var ErrNotFound = fmt.Errorf("tccregistry: service not found")

// Lookup resolves a resourceId to its registration.
func (r *Registry) Lookup(resourceID string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[resourceID]
	if !ok || !reg.Enabled {
		return Registration{}, ErrNotFound
	}
	return reg, nil
}

// LookupByName is the ServiceLocator.LookupByName seam (SPEC_FULL
// §4.6): naming-convention discovery for callers that never explicitly
// registered a resourceId, trying "<name>" then "<name>Service" then
// "<name>ServiceImpl".
func (r *Registry) LookupByName(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, candidate := range []string{name, name + "Service", name + "ServiceImpl"} {
		if reg, ok := r.regs[candidate]; ok && reg.Enabled {
			return reg, true
		}
	}
	return Registration{}, false
}

// All returns every registered service, for operator inspection.
func (r *Registry) All() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(r.regs))
	for _, reg := range r.regs {
		out = append(out, reg)
	}
	return out
}
