// Package store defines the metadata-store contract shared by every
// backend (SQL, MongoDB, embedded bbolt, Redis) and the plain data
// types persisted through it.
package store

import (
	"errors"
	"time"
)

// Sentinel storage errors, shared by every backend implementation.
var (
	ErrNotFound      = errors.New("store: not found")
	ErrUniqueConflict = errors.New("store: unique key conflict")
	ErrLockConflict   = errors.New("store: global lock conflict")
)

// GlobalTransaction is the durable record of one distributed
// transaction.
type GlobalTransaction struct {
	XID             string    `bson:"xid"`
	Status          string    `bson:"status"`
	ApplicationID   string    `bson:"applicationId"`
	TransactionName string    `bson:"transactionName"`
	TimeoutMs       int64     `bson:"timeoutMs"`
	BeginTimeMs     int64     `bson:"beginTimeMs"`
	ApplicationData []byte    `bson:"applicationData,omitempty"`
	Owner           string    `bson:"owner,omitempty"`
	NextCronTime    time.Time `bson:"nextCronTime"`
	NextCronInterval int64    `bson:"nextCronInterval"`
	CreateTime      time.Time `bson:"createTime"`
	UpdateTime      time.Time `bson:"updateTime"`
}

// BranchTransaction is one participant of a global transaction.
type BranchTransaction struct {
	BranchID        int64     `bson:"branchId"`
	XID             string    `bson:"xid"`
	ResourceGroupID string    `bson:"resourceGroupId"`
	ResourceID      string    `bson:"resourceId"`
	BranchType      string    `bson:"branchType"`
	LockKey         string    `bson:"lockKey,omitempty"`
	Status          string    `bson:"status"`
	ApplicationData []byte    `bson:"applicationData,omitempty"`
	BeginTimeMs     int64     `bson:"beginTimeMs"`
	EndTimeMs       int64     `bson:"endTimeMs,omitempty"`
	TimeoutMs       int64     `bson:"timeoutMs"`
	CreateTime      time.Time `bson:"createTime"`
	UpdateTime      time.Time `bson:"updateTime"`
}

// GlobalLock is an AT-mode row-level logical lock.
type GlobalLock struct {
	RowKey       string `bson:"rowKey"`
	XID          string `bson:"xid"`
	BranchID     int64  `bson:"branchId"`
	AcquiredAtMs int64  `bson:"acquiredAtMs"`
}

// Store is the contract every metadata backend implements. It is
// intentionally table/collection-shaped (not a generic KV store) so the
// relational schema maps onto it directly.
type Store interface {
	Ping() error

	FindGlobal(xid string) (*GlobalTransaction, error)
	ScanGlobals(position *string, limit int) ([]GlobalTransaction, error)
	SaveNewGlobal(g *GlobalTransaction, branches []BranchTransaction) error
	ChangeGlobalStatus(xid string, oldStatus, newStatus string) error
	TouchCronTime(xid string, nextIntervalSec int64) error
	LockOneGlobalTrans(dueWithin time.Duration, eligibleStatuses []string, leaseSec int64) (*GlobalTransaction, error)

	FindBranches(xid string) ([]BranchTransaction, error)
	FindBranch(xid string, branchID int64) (*BranchTransaction, error)
	InsertBranches(branches []BranchTransaction) error
	UpdateBranches(branches []BranchTransaction, updateFields []string) (int, error)

	// AcquireLock attempts to take ownership of every rowKey for
	// (xid, branchId), self-reacquisition succeeding, a different
	// owner's row yielding ErrLockConflict.
	AcquireLock(rowKeys []string, xid string, branchID int64) error
	ReleaseLocksForBranch(xid string, branchID int64) error
	ListLocksByXID(xid string) ([]GlobalLock, error)
}
