// Package sql implements store.Store over a relational database via
// gorm: optimistic-update-by-status, OnConflict-insert and row-locking
// idioms applied to GLOBAL_TABLE/BRANCH_TABLE/GLOBAL_LOCK.
package sql

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/lithammer/shortuuid/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/galaxytx/galaxytx/store"
	"github.com/galaxytx/galaxytx/txutil"
)

// Driver names accepted by Open.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Store implements store.Store on top of a *gorm.DB.
type Store struct {
	db     *gorm.DB
	driver string
}

// New wraps an already-opened *gorm.DB. driver must be DriverMySQL or
// DriverPostgres, since a couple of queries (the cron date arithmetic)
// are dialect-specific.
func New(db *gorm.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

type globalRow struct {
	ID               uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	XID              string    `gorm:"column:xid"`
	Status           string    `gorm:"column:status"`
	ApplicationID    string    `gorm:"column:application_id"`
	TransactionName  string    `gorm:"column:transaction_name"`
	TimeoutMs        int64     `gorm:"column:timeout_ms"`
	BeginTimeMs      int64     `gorm:"column:begin_time_ms"`
	ApplicationData  []byte    `gorm:"column:application_data"`
	Owner            string    `gorm:"column:owner"`
	NextCronTime     time.Time `gorm:"column:next_cron_time"`
	NextCronInterval int64     `gorm:"column:next_cron_interval"`
	CreateTime       time.Time `gorm:"column:create_time"`
	UpdateTime       time.Time `gorm:"column:update_time"`
}

func (globalRow) TableName() string { return "global_table" }

type branchRow struct {
	ID              uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	BranchID        int64     `gorm:"column:branch_id"`
	XID             string    `gorm:"column:xid"`
	ResourceGroupID string    `gorm:"column:resource_group_id"`
	ResourceID      string    `gorm:"column:resource_id"`
	BranchType      string    `gorm:"column:branch_type"`
	LockKey         string    `gorm:"column:lock_key"`
	Status          string    `gorm:"column:status"`
	ApplicationData []byte    `gorm:"column:application_data"`
	BeginTimeMs     int64     `gorm:"column:begin_time_ms"`
	EndTimeMs       int64     `gorm:"column:end_time_ms"`
	TimeoutMs       int64     `gorm:"column:timeout_ms"`
	CreateTime      time.Time `gorm:"column:create_time"`
	UpdateTime      time.Time `gorm:"column:update_time"`
}

func (branchRow) TableName() string { return "branch_table" }

type lockRow struct {
	RowKey       string `gorm:"column:row_key;primaryKey"`
	XID          string `gorm:"column:xid"`
	BranchID     int64  `gorm:"column:branch_id"`
	AcquiredAtMs int64  `gorm:"column:acquired_at_ms"`
}

func (lockRow) TableName() string { return "global_lock" }

// Ping checks connectivity.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func toGlobal(r *globalRow) *store.GlobalTransaction {
	return &store.GlobalTransaction{
		XID: r.XID, Status: r.Status, ApplicationID: r.ApplicationID,
		TransactionName: r.TransactionName, TimeoutMs: r.TimeoutMs,
		BeginTimeMs: r.BeginTimeMs, ApplicationData: r.ApplicationData,
		Owner: r.Owner, NextCronTime: r.NextCronTime,
		NextCronInterval: r.NextCronInterval, CreateTime: r.CreateTime, UpdateTime: r.UpdateTime,
	}
}

func fromGlobal(g *store.GlobalTransaction) *globalRow {
	return &globalRow{
		XID: g.XID, Status: g.Status, ApplicationID: g.ApplicationID,
		TransactionName: g.TransactionName, TimeoutMs: g.TimeoutMs,
		BeginTimeMs: g.BeginTimeMs, ApplicationData: g.ApplicationData,
		Owner: g.Owner, NextCronTime: g.NextCronTime,
		NextCronInterval: g.NextCronInterval, CreateTime: g.CreateTime, UpdateTime: g.UpdateTime,
	}
}

func toBranch(r *branchRow) store.BranchTransaction {
	return store.BranchTransaction{
		BranchID: r.BranchID, XID: r.XID, ResourceGroupID: r.ResourceGroupID,
		ResourceID: r.ResourceID, BranchType: r.BranchType, LockKey: r.LockKey,
		Status: r.Status, ApplicationData: r.ApplicationData, BeginTimeMs: r.BeginTimeMs,
		EndTimeMs: r.EndTimeMs, TimeoutMs: r.TimeoutMs, CreateTime: r.CreateTime, UpdateTime: r.UpdateTime,
	}
}

func fromBranch(b *store.BranchTransaction) *branchRow {
	return &branchRow{
		BranchID: b.BranchID, XID: b.XID, ResourceGroupID: b.ResourceGroupID,
		ResourceID: b.ResourceID, BranchType: b.BranchType, LockKey: b.LockKey,
		Status: b.Status, ApplicationData: b.ApplicationData, BeginTimeMs: b.BeginTimeMs,
		EndTimeMs: b.EndTimeMs, TimeoutMs: b.TimeoutMs, CreateTime: b.CreateTime, UpdateTime: b.UpdateTime,
	}
}

// FindGlobal finds a global transaction by xid.
func (s *Store) FindGlobal(xid string) (*store.GlobalTransaction, error) {
	row := &globalRow{}
	dbr := s.db.Where("xid = ?", xid).First(row)
	if dbr.Error == gorm.ErrRecordNotFound {
		return nil, store.ErrNotFound
	}
	if dbr.Error != nil {
		return nil, dbr.Error
	}
	return toGlobal(row), nil
}

// ScanGlobals paginates global transactions by decreasing id.
func (s *Store) ScanGlobals(position *string, limit int) ([]store.GlobalTransaction, error) {
	rows := []globalRow{}
	lastID := int64(math.MaxInt64)
	if position != nil && *position != "" {
		v, err := strconv.ParseInt(*position, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid position: %w", err)
		}
		lastID = v
	}
	dbr := s.db.Where("id < ?", lastID).Order("id desc").Limit(limit).Find(&rows)
	if dbr.Error != nil {
		return nil, dbr.Error
	}
	out := make([]store.GlobalTransaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, *toGlobal(&r))
	}
	if len(rows) < limit {
		*position = ""
	} else {
		*position = strconv.FormatUint(rows[len(rows)-1].ID, 10)
	}
	return out, nil
}

// SaveNewGlobal inserts a global transaction and its initial branches
// (if any) in one local transaction, rejecting a duplicate xid with
// store.ErrUniqueConflict.
func (s *Store) SaveNewGlobal(g *store.GlobalTransaction, branches []store.BranchTransaction) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		row := fromGlobal(g)
		dbr := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
		if dbr.Error != nil {
			return dbr.Error
		}
		if dbr.RowsAffected == 0 {
			return store.ErrUniqueConflict
		}
		if len(branches) > 0 {
			rows := make([]branchRow, 0, len(branches))
			for i := range branches {
				rows = append(rows, *fromBranch(&branches[i]))
			}
			if dbr2 := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows); dbr2.Error != nil {
				return dbr2.Error
			}
		}
		return nil
	})
}

// ChangeGlobalStatus performs an optimistic status transition,
// rejecting the update if the row's status no longer matches oldStatus.
func (s *Store) ChangeGlobalStatus(xid string, oldStatus, newStatus string) error {
	dbr := s.db.Model(&globalRow{}).
		Where("xid = ? and status = ?", xid, oldStatus).
		Updates(map[string]interface{}{"status": newStatus, "update_time": time.Now()})
	if dbr.Error != nil {
		return dbr.Error
	}
	if dbr.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// TouchCronTime advances the next scan time for a global transaction.
func (s *Store) TouchCronTime(xid string, nextIntervalSec int64) error {
	next := txutil.GetNextTime(nextIntervalSec)
	dbr := s.db.Model(&globalRow{}).Where("xid = ?", xid).Updates(map[string]interface{}{
		"next_cron_time":     *next,
		"next_cron_interval": nextIntervalSec,
		"update_time":        time.Now(),
	})
	return dbr.Error
}

// LockOneGlobalTrans claims one due global transaction with an
// owner-token compare-and-swap so concurrent TC instances never
// double-drive the same xid.
func (s *Store) LockOneGlobalTrans(dueWithin time.Duration, eligibleStatuses []string, leaseSec int64) (*store.GlobalTransaction, error) {
	expireSec := int(dueWithin / time.Second)
	whereTime := fmt.Sprintf("next_cron_time < %s", s.nowPlus(expireSec))
	owner := shortuuid.New()

	dbr := s.db.Model(&globalRow{}).
		Where(whereTime+" and status in (?)", eligibleStatuses).
		Limit(1).
		Updates(map[string]interface{}{
			"owner":          owner,
			"next_cron_time": *txutil.GetNextTime(leaseSec),
		})
	if dbr.Error != nil {
		return nil, dbr.Error
	}
	if dbr.RowsAffected == 0 {
		return nil, nil
	}
	row := &globalRow{}
	if err := s.db.Where("owner = ?", owner).First(row).Error; err != nil {
		return nil, err
	}
	return toGlobal(row), nil
}

func (s *Store) nowPlus(seconds int) string {
	if s.driver == DriverPostgres {
		return fmt.Sprintf("current_timestamp + interval '%d second'", seconds)
	}
	return fmt.Sprintf("date_add(now(), interval %d second)", seconds)
}

// FindBranches returns every branch of a global transaction in
// registration order.
func (s *Store) FindBranches(xid string) ([]store.BranchTransaction, error) {
	rows := []branchRow{}
	if err := s.db.Where("xid = ?", xid).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.BranchTransaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, toBranch(&r))
	}
	return out, nil
}

// FindBranch returns one branch by (xid, branchId).
func (s *Store) FindBranch(xid string, branchID int64) (*store.BranchTransaction, error) {
	row := &branchRow{}
	dbr := s.db.Where("xid = ? and branch_id = ?", xid, branchID).First(row)
	if dbr.Error == gorm.ErrRecordNotFound {
		return nil, store.ErrNotFound
	}
	if dbr.Error != nil {
		return nil, dbr.Error
	}
	b := toBranch(row)
	return &b, nil
}

// InsertBranches inserts new branch rows, ignoring duplicates.
func (s *Store) InsertBranches(branches []store.BranchTransaction) error {
	rows := make([]branchRow, 0, len(branches))
	for i := range branches {
		rows = append(rows, *fromBranch(&branches[i]))
	}
	dbr := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	return dbr.Error
}

// UpdateBranches upserts branch status rows in bulk, matching the
// teacher's batched-async-flush usage pattern.
func (s *Store) UpdateBranches(branches []store.BranchTransaction, updateFields []string) (int, error) {
	rows := make([]branchRow, 0, len(branches))
	for i := range branches {
		rows = append(rows, *fromBranch(&branches[i]))
	}
	dbr := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "branch_id"}},
		DoUpdates: clause.AssignmentColumns(updateFields),
	}).Create(&rows)
	return int(dbr.RowsAffected), dbr.Error
}

// AcquireLock inserts lock rows for every rowKey, treating a collision
// with the caller's own xid as success and any other collision as
// store.ErrLockConflict.
func (s *Store) AcquireLock(rowKeys []string, xid string, branchID int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, rk := range rowKeys {
			existing := &lockRow{}
			dbr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("row_key = ?", rk).First(existing)
			if dbr.Error == nil {
				if existing.XID == xid {
					continue
				}
				return store.ErrLockConflict
			}
			if dbr.Error != gorm.ErrRecordNotFound {
				return dbr.Error
			}
			row := &lockRow{RowKey: rk, XID: xid, BranchID: branchID, AcquiredAtMs: time.Now().UnixNano() / int64(time.Millisecond)}
			ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
			if ins.Error != nil {
				return ins.Error
			}
			if ins.RowsAffected == 0 {
				return store.ErrLockConflict
			}
		}
		return nil
	})
}

// ReleaseLocksForBranch deletes every lock row owned by (xid, branchId).
func (s *Store) ReleaseLocksForBranch(xid string, branchID int64) error {
	return s.db.Where("xid = ? and branch_id = ?", xid, branchID).Delete(&lockRow{}).Error
}

// ListLocksByXID lists every lock row held by a global transaction.
func (s *Store) ListLocksByXID(xid string) ([]store.GlobalLock, error) {
	rows := []lockRow{}
	if err := s.db.Where("xid = ?", xid).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.GlobalLock, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.GlobalLock{RowKey: r.RowKey, XID: r.XID, BranchID: r.BranchID, AcquiredAtMs: r.AcquiredAtMs})
	}
	return out, nil
}

// SetPoolLimits configures the underlying *sql.DB connection pool for
// a newly opened gorm.DB.
func SetPoolLimits(db *gorm.DB, maxOpen, maxIdle int, maxLifeMinutes int) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Duration(maxLifeMinutes) * time.Minute)
	return nil
}
