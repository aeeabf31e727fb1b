package atmode

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/demdxx/gocast"
	"github.com/shopspring/decimal"
)

// stringifyForImage renders any driver scalar as a string via gocast,
// the representation undo-log images store non-numeric columns in.
func stringifyForImage(v interface{}) string {
	return gocast.ToString(v)
}

// CaptureRows runs query with args and materializes every row into a
// RowSet, converting numeric columns to decimal.Decimal so monetary
// values survive capture/undo/rebind without float64 drift, and using
// gocast for any other column whose driver value doesn't already match
// a plain Go scalar.
func CaptureRows(queryer interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
}, query string, args ...interface{}) (RowSet, error) {
	rows, err := queryer.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := RowSet{}
	for rows.Next() {
		raw := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := Row{}
		for i, col := range cols {
			row[col] = normalizeValue(raw[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeValue converts a driver value into a stable, JSON-safe
// representation: byte slices that look numeric become decimal.Decimal,
// everything else is cast with gocast into the nearest plain Go scalar.
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		s := string(t)
		if d, err := decimal.NewFromString(s); err == nil && looksNumeric(s) {
			return d
		}
		return s
	case decimal.Decimal:
		return t
	case int64, int, float64, bool, string:
		return t
	default:
		return stringifyForImage(t)
	}
}

func looksNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	seenDot := false
	for i, c := range s {
		if c == '-' && i == 0 {
			continue
		}
		if c == '.' && !seenDot {
			seenDot = true
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// BuildWhereFromPK builds a "col1 = ? AND col2 = ?" clause and its
// bound args from a row's primary-key columns, used to re-select the
// after-image by primary key and to build reverse-compensation WHERE
// clauses.
func BuildWhereFromPK(row Row, pkColumns []string) (string, []interface{}) {
	clauses := make([]string, 0, len(pkColumns))
	args := make([]interface{}, 0, len(pkColumns))
	for _, col := range pkColumns {
		clauses = append(clauses, fmt.Sprintf("%s = ?", col))
		args = append(args, row[col])
	}
	return strings.Join(clauses, " AND "), args
}
