// Package atmode implements the AT-mode data-source interceptor:
// SQL parse, before/after image capture, undo-log persistence and
// reverse-SQL compensation, grounded on the algorithm description and
// on the Seata-integration hook shape in the springrain-zorm example
// (ISeata.go/IGlobalTransaction.go) for how a thin interceptor sits in
// front of a *sql.DB without owning the connection itself.
package atmode

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLType enumerates the DML kinds the interceptor understands.
type SQLType string

// Supported SQL types.
const (
	SQLTypeInsert SQLType = "INSERT"
	SQLTypeUpdate SQLType = "UPDATE"
	SQLTypeDelete SQLType = "DELETE"
)

// LogStatus tracks an undo log row's compensation lifecycle.
type LogStatus int

// Undo log statuses.
const (
	LogStatusNormal LogStatus = iota
	LogStatusCompensating
	LogStatusCompensated
)

// Row is a generic column-name -> value map, the representation used
// for both before and after images.
type Row map[string]interface{}

// RowSet is an ordered list of rows (DML may touch more than one row).
type RowSet []Row

// UndoLog is the business-database-resident compensation record
// written in the same local transaction as the business DML.
type UndoLog struct {
	ID         int64
	XID        string
	BranchID   int64
	TableName  string
	SQLType    SQLType
	Before     RowSet
	After      RowSet
	SQLText    string
	Parameters []interface{}
	LogStatus  LogStatus
	CreateTime time.Time
	UpdateTime time.Time
}

// UndoLogStore persists undo logs in the business database, alongside
// business tables, via a dedicated UNDO_LOG table.
type UndoLogStore struct {
	db *sql.DB
}

// NewUndoLogStore wraps a business-database handle. The same *sql.DB
// (or a *sql.Tx begun on it and passed to Insert) is used for both the
// business DML and the undo log write, which is the single most
// important invariant of AT mode.
func NewUndoLogStore(db *sql.DB) *UndoLogStore {
	return &UndoLogStore{db: db}
}

// EnsureSchema creates the UNDO_LOG table if absent. Safe to call on
// every startup.
func (s *UndoLogStore) EnsureSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS undo_log (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		xid VARCHAR(128) NOT NULL,
		branch_id BIGINT NOT NULL,
		table_name VARCHAR(128) NOT NULL,
		sql_type VARCHAR(16) NOT NULL,
		before_image TEXT,
		after_image TEXT,
		sql_text TEXT,
		parameters TEXT,
		log_status TINYINT NOT NULL DEFAULT 0,
		create_time DATETIME NOT NULL,
		update_time DATETIME NOT NULL,
		KEY idx_xid_branch (xid, branch_id),
		KEY idx_create_time (create_time)
	)`)
	return err
}

// Insert writes one undo log row within tx, the same local transaction
// the business DML ran in.
func (s *UndoLogStore) Insert(tx *sql.Tx, log *UndoLog) error {
	before, err := json.Marshal(log.Before)
	if err != nil {
		return err
	}
	after, err := json.Marshal(log.After)
	if err != nil {
		return err
	}
	params, err := json.Marshal(log.Parameters)
	if err != nil {
		return err
	}
	now := time.Now()
	_, err = tx.Exec(
		`INSERT INTO undo_log (xid, branch_id, table_name, sql_type, before_image, after_image, sql_text, parameters, log_status, create_time, update_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.XID, log.BranchID, log.TableName, string(log.SQLType), before, after, log.SQLText, params, log.LogStatus, now, now)
	return err
}

// Find returns the undo log row for (xid, branchId), or nil if absent.
func (s *UndoLogStore) Find(xid string, branchID int64) (*UndoLog, error) {
	row := s.db.QueryRow(
		`SELECT id, table_name, sql_type, before_image, after_image, sql_text, parameters, log_status, create_time, update_time
		 FROM undo_log WHERE xid = ? AND branch_id = ?`, xid, branchID)

	var (
		id                             int64
		tableName, sqlType             string
		before, after, params, sqlText string
		logStatus                      LogStatus
		createTime, updateTime         time.Time
	)
	if err := row.Scan(&id, &tableName, &sqlType, &before, &after, &sqlText, &params, &logStatus, &createTime, &updateTime); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	log := &UndoLog{
		ID: id, XID: xid, BranchID: branchID, TableName: tableName, SQLType: SQLType(sqlType),
		SQLText: sqlText, LogStatus: logStatus, CreateTime: createTime, UpdateTime: updateTime,
	}
	if err := json.Unmarshal([]byte(before), &log.Before); err != nil {
		return nil, fmt.Errorf("atmode: decode before image: %w", err)
	}
	if err := json.Unmarshal([]byte(after), &log.After); err != nil {
		return nil, fmt.Errorf("atmode: decode after image: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &log.Parameters); err != nil {
		return nil, fmt.Errorf("atmode: decode parameters: %w", err)
	}
	return log, nil
}

// Delete removes the undo log rows for (xid, branchId), called by the
// AT resource handler on a successful phase-2 commit.
func (s *UndoLogStore) Delete(xid string, branchID int64) error {
	_, err := s.db.Exec(`DELETE FROM undo_log WHERE xid = ? AND branch_id = ?`, xid, branchID)
	return err
}

// MarkStatus updates the log_status column for (xid, branchId).
func (s *UndoLogStore) MarkStatus(xid string, branchID int64, status LogStatus) error {
	_, err := s.db.Exec(`UPDATE undo_log SET log_status = ?, update_time = ? WHERE xid = ? AND branch_id = ?`,
		status, time.Now(), xid, branchID)
	return err
}
