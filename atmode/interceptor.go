package atmode

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/galaxytx/galaxytx/txutil"
)

// BranchRegistrar is what the interceptor needs from the coordinator:
// registering a branch and acquiring its global locks before the local
// transaction commits. client.TcClient does not implement it directly:
// its RegisterBranch also takes a resource group, application data and
// a timeout.
type BranchRegistrar interface {
	RegisterBranch(ctx context.Context, xid, resourceID, branchType, lockKey string) (int64, error)
}

// TxContext carries the ambient global-transaction identity the
// interceptor needs for a client-side branch call.
type TxContext struct {
	XID             string
	ResourceGroupID string
	ResourceID      string
}

// Interceptor wraps a *sql.DB, intercepting supported DML executed
// through it while a TxContext is active, and running the AT-mode
// algorithm in full: parse -> before-image -> execute -> after-image ->
// branch registration -> undo-log write -> commit.
type Interceptor struct {
	db         *sql.DB
	undoLogs   *UndoLogStore
	registrar  BranchRegistrar
	pkResolver func(table string) []string // primary-key columns per table
}

// NewInterceptor builds an interceptor over db. pkResolver returns the
// primary-key column names for a table; the interceptor has no schema
// introspection of its own (a general multi-dialect catalog reader is
// out of scope), so the caller supplies it.
func NewInterceptor(db *sql.DB, undoLogs *UndoLogStore, registrar BranchRegistrar, pkResolver func(string) []string) *Interceptor {
	return &Interceptor{db: db, undoLogs: undoLogs, registrar: registrar, pkResolver: pkResolver}
}

// ExecContext runs one DML statement under an active TxContext,
// following the AT-mode execution algorithm. When tc is nil (no active
// global transaction), the statement is executed directly with no
// interception, matching the "only activates when transactional" rule.
func (i *Interceptor) ExecContext(ctx context.Context, tc *TxContext, sqlText string, params ...interface{}) (sql.Result, error) {
	if tc == nil || !IsSupportedDML(sqlText) {
		return i.db.ExecContext(ctx, sqlText, params...)
	}

	parsed, err := Parse(sqlText, params)
	if err != nil {
		return i.db.ExecContext(ctx, sqlText, params...)
	}
	pkCols := i.pkResolver(parsed.TableName)
	if len(pkCols) == 0 {
		return nil, fmt.Errorf("atmode: no primary key known for table %q", parsed.TableName)
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var before RowSet
	if parsed.SQLType != SQLTypeInsert {
		// the SELECT binds only the WHERE clause's placeholders, which are
		// the statement's trailing parameters
		whereArgs := params
		if n := strings.Count(parsed.Where, "?"); n <= len(params) {
			whereArgs = params[len(params)-n:]
		}
		selectSQL := fmt.Sprintf("SELECT * FROM %s WHERE %s", parsed.TableName, parsed.Where)
		before, err = CaptureRows(tx, selectSQL, whereArgs...)
		if err != nil {
			return nil, err
		}
	}

	result, err := tx.ExecContext(ctx, sqlText, params...)
	if err != nil {
		return nil, err
	}

	after, err := i.captureAfterImage(tx, parsed, pkCols, before, result)
	if err != nil {
		return nil, err
	}

	lockKey := buildLockKey(parsed.TableName, pkCols, before, after)
	branchID, err := i.registrar.RegisterBranch(ctx, tc.XID, tc.ResourceID, "AT", lockKey)
	if err != nil {
		return nil, txutil.NewTagged(txutil.ErrLockConflict, true, err.Error())
	}

	if err := i.undoLogs.Insert(tx, &UndoLog{
		XID: tc.XID, BranchID: branchID, TableName: parsed.TableName, SQLType: parsed.SQLType,
		Before: before, After: after, SQLText: sqlText, Parameters: params, LogStatus: LogStatusNormal,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return result, nil
}

func (i *Interceptor) captureAfterImage(tx *sql.Tx, parsed *ParsedDML, pkCols []string, before RowSet, result sql.Result) (RowSet, error) {
	switch parsed.SQLType {
	case SQLTypeDelete:
		return RowSet{}, nil
	case SQLTypeInsert:
		id, err := result.LastInsertId()
		if err != nil {
			return nil, err
		}
		if len(pkCols) != 1 {
			return RowSet{}, nil
		}
		where, args := fmt.Sprintf("%s = ?", pkCols[0]), []interface{}{id}
		return CaptureRows(tx, fmt.Sprintf("SELECT * FROM %s WHERE %s", parsed.TableName, where), args...)
	default: // UPDATE
		if len(before) == 0 {
			return RowSet{}, nil
		}
		out := RowSet{}
		for _, row := range before {
			where, args := BuildWhereFromPK(row, pkCols)
			rows, err := CaptureRows(tx, fmt.Sprintf("SELECT * FROM %s WHERE %s", parsed.TableName, where), args...)
			if err != nil {
				return nil, err
			}
			out = append(out, rows...)
		}
		return out, nil
	}
}

func buildLockKey(table string, pkCols []string, before, after RowSet) string {
	rows := after
	if len(rows) == 0 {
		rows = before
	}
	key := ""
	for _, row := range rows {
		vals := make([]string, 0, len(pkCols))
		for _, c := range pkCols {
			vals = append(vals, fmt.Sprint(row[c]))
		}
		if key != "" {
			key += ";"
		}
		key += table + ":" + fmt.Sprint(vals)
	}
	return key
}
