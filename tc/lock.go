package tc

import (
	"math/rand"
	"strings"
	"time"

	"github.com/galaxytx/galaxytx/store"
)

// LockManager arbitrates global-lock acquisition ahead of a branch's
// phase-one commit, retrying a conflicting acquisition with jitter up
// to a configured ceiling before giving up.
type LockManager struct {
	store         store.Store
	retryInterval time.Duration
	maxRetries    int
	sleep         func(time.Duration)
}

// NewLockManager builds a lock manager over store, retrying a
// conflicting AcquireLock call up to maxRetries times.
func NewLockManager(s store.Store, retryInterval time.Duration, maxRetries int) *LockManager {
	return &LockManager{store: s, retryInterval: retryInterval, maxRetries: maxRetries, sleep: time.Sleep}
}

// SplitLockKey parses the "resourceId:tableName:pk1_pk2,pk1_pk2" lock
// key format into its individual row keys, one per touched row.
func SplitLockKey(lockKey string) []string {
	if lockKey == "" {
		return nil
	}
	parts := strings.SplitN(lockKey, ":", 3)
	if len(parts) != 3 {
		return []string{lockKey}
	}
	prefix := parts[0] + ":" + parts[1] + ":"
	rows := strings.Split(parts[2], ",")
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		if r == "" {
			continue
		}
		keys = append(keys, prefix+r)
	}
	return keys
}

// Acquire takes ownership of every row named by lockKey for (xid,
// branchId), retrying store.ErrLockConflict with jitter until
// maxRetries is exhausted.
func (m *LockManager) Acquire(lockKey, xid string, branchID int64) error {
	rowKeys := SplitLockKey(lockKey)
	if len(rowKeys) == 0 {
		return nil
	}
	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		err := m.store.AcquireLock(rowKeys, xid, branchID)
		if err == nil {
			return nil
		}
		lastErr = err
		if err != store.ErrLockConflict {
			return err
		}
		if attempt < m.maxRetries {
			m.sleep(m.jittered())
		}
	}
	return lastErr
}

func (m *LockManager) jittered() time.Duration {
	base := float64(m.retryInterval)
	return time.Duration(base * (0.5 + rand.Float64()))
}

// Release drops every lock held by (xid, branchId), called after a
// branch's phase-2 outcome is durable regardless of commit or rollback.
func (m *LockManager) Release(xid string, branchID int64) error {
	return m.store.ReleaseLocksForBranch(xid, branchID)
}
