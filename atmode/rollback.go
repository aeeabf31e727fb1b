package atmode

import (
	"database/sql"
	"fmt"
	"reflect"
	"time"

	"github.com/galaxytx/galaxytx/txutil"
)

// Compensator runs the AT-mode rollback algorithm against the business
// database, invoked by the AT resource handler during phase-2 rollback.
type Compensator struct {
	db         *sql.DB
	undoLogs   *UndoLogStore
	pkResolver func(table string) []string
}

// NewCompensator builds a Compensator over the business database.
func NewCompensator(db *sql.DB, undoLogs *UndoLogStore, pkResolver func(string) []string) *Compensator {
	return &Compensator{db: db, undoLogs: undoLogs, pkResolver: pkResolver}
}

// PhaseOneNeverCompleted is supplied by the caller (the RM handler
// knows the branch's own status) so a missing undo log can be told
// apart from a lost one: absence is success only if phase-1 never
// completed.
func (c *Compensator) Compensate(xid string, branchID int64, phaseOneNeverCompleted bool) error {
	log, err := c.undoLogs.Find(xid, branchID)
	if err != nil {
		return err
	}
	if log == nil {
		if phaseOneNeverCompleted {
			return nil
		}
		return txutil.NewTagged(txutil.ErrNoUndoLog, false, fmt.Sprintf("no undo log for xid=%s branch=%d", xid, branchID))
	}
	if log.LogStatus == LogStatusCompensated {
		return nil // idempotent: already compensated
	}

	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	pkCols := c.pkResolver(log.TableName)
	if err := c.checkDirtyWrite(tx, log, pkCols); err != nil {
		return err
	}

	if err := c.applyReverse(tx, log, pkCols); err != nil {
		return err
	}

	if _, err := tx.Exec(`UPDATE undo_log SET log_status = ?, update_time = ? WHERE xid = ? AND branch_id = ?`,
		LogStatusCompensated, time.Now(), xid, branchID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM undo_log WHERE xid = ? AND branch_id = ?`, xid, branchID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// checkDirtyWrite verifies the current row state still matches the
// after-image; a mismatch means another transaction wrote the row
// since, and compensation must abort rather than clobber it.
func (c *Compensator) checkDirtyWrite(tx *sql.Tx, log *UndoLog, pkCols []string) error {
	if log.SQLType == SQLTypeDelete || len(log.After) == 0 {
		return nil
	}
	for _, afterRow := range log.After {
		where, args := BuildWhereFromPK(afterRow, pkCols)
		current, err := CaptureRows(tx, fmt.Sprintf("SELECT * FROM %s WHERE %s", log.TableName, where), args...)
		if err != nil {
			return err
		}
		if len(current) == 0 {
			return txutil.NewTagged(txutil.ErrDirtyWrite, false, "row missing at compensation time")
		}
		if !rowsEqual(current[0], afterRow) {
			return txutil.NewTagged(txutil.ErrDirtyWrite, false, fmt.Sprintf("row %v modified since after-image capture", afterRow))
		}
	}
	return nil
}

func rowsEqual(a, b Row) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		// an image read back from the undo log has been through JSON
		// (decimals as strings, numbers as float64), so values of
		// different Go types are compared by their printed form
		if !reflect.DeepEqual(v, bv) && fmt.Sprint(v) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}

// applyReverse builds and executes the reverse statement for one undo
// log entry: INSERT -> DELETE, UPDATE -> UPDATE-to-before, DELETE ->
// INSERT-from-before.
func (c *Compensator) applyReverse(tx *sql.Tx, log *UndoLog, pkCols []string) error {
	switch log.SQLType {
	case SQLTypeInsert:
		for _, row := range log.After {
			where, args := BuildWhereFromPK(row, pkCols)
			if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s", log.TableName, where), args...); err != nil {
				return err
			}
		}
	case SQLTypeDelete:
		for _, row := range log.Before {
			cols, vals := rowColumnsAndValues(row)
			placeholders := placeholderList(len(cols))
			sqlText := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", log.TableName, joinCols(cols), placeholders)
			if _, err := tx.Exec(sqlText, vals...); err != nil {
				return err
			}
		}
	case SQLTypeUpdate:
		for i, afterRow := range log.After {
			if i >= len(log.Before) {
				break
			}
			beforeRow := log.Before[i]
			setClause, setArgs := buildSetClause(beforeRow, pkCols)
			where, whereArgs := BuildWhereFromPK(afterRow, pkCols)
			sqlText := fmt.Sprintf("UPDATE %s SET %s WHERE %s", log.TableName, setClause, where)
			args := append(setArgs, whereArgs...)
			if _, err := tx.Exec(sqlText, args...); err != nil {
				return err
			}
		}
	}
	return nil
}

func rowColumnsAndValues(row Row) ([]string, []interface{}) {
	cols := make([]string, 0, len(row))
	vals := make([]interface{}, 0, len(row))
	for c, v := range row {
		cols = append(cols, c)
		vals = append(vals, v)
	}
	return cols, vals
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

func placeholderList(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ", "
		}
		out += "?"
	}
	return out
}

func buildSetClause(row Row, excludeCols []string) (string, []interface{}) {
	excluded := map[string]bool{}
	for _, c := range excludeCols {
		excluded[c] = true
	}
	clause := ""
	args := []interface{}{}
	first := true
	for c, v := range row {
		if excluded[c] {
			continue
		}
		if !first {
			clause += ", "
		}
		clause += c + " = ?"
		args = append(args, v)
		first = false
	}
	return clause, args
}
