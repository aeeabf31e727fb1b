package atmode

import (
	"fmt"
	"regexp"
	"strings"
)

// ParsedDML is the structured result of parsing one DML statement,
// covering single-table INSERT/UPDATE/DELETE; a general multi-dialect
// grammar is out of scope.
type ParsedDML struct {
	SQLType    SQLType
	TableName  string
	Where      string
	Columns    []string
	Parameters []interface{}
}

var (
	insertRe = regexp.MustCompile(`(?is)^\s*insert\s+into\s+([` + "`" + `\w.]+)\s*\(([^)]*)\)\s*values`)
	updateRe = regexp.MustCompile(`(?is)^\s*update\s+([` + "`" + `\w.]+)\s+set\s+.+?(?:\s+where\s+(.*))?$`)
	deleteRe = regexp.MustCompile(`(?is)^\s*delete\s+from\s+([` + "`" + `\w.]+)\s*(?:where\s+(.*))?$`)
)

// ErrUnsupportedSQL is returned for SQL the interceptor does not
// recognize as a supported single-table DML (including all read-only
// and DDL statements, which bypass the interceptor entirely).
var ErrUnsupportedSQL = fmt.Errorf("atmode: unsupported or non-DML statement")

// Parse extracts sqlType/tableName/where (or target columns) from a
// single-table DML statement. params, the statement's parameter
// bindings, are stored unchanged in ParsedDML.Parameters.
func Parse(sqlText string, params []interface{}) (*ParsedDML, error) {
	trimmed := strings.TrimSpace(sqlText)
	switch {
	case insertRe.MatchString(trimmed):
		m := insertRe.FindStringSubmatch(trimmed)
		cols := splitColumns(m[2])
		return &ParsedDML{SQLType: SQLTypeInsert, TableName: unquote(m[1]), Columns: cols, Parameters: params}, nil
	case updateRe.MatchString(trimmed):
		m := updateRe.FindStringSubmatch(trimmed)
		return &ParsedDML{SQLType: SQLTypeUpdate, TableName: unquote(m[1]), Where: strings.TrimSpace(m[2]), Parameters: params}, nil
	case deleteRe.MatchString(trimmed):
		m := deleteRe.FindStringSubmatch(trimmed)
		return &ParsedDML{SQLType: SQLTypeDelete, TableName: unquote(m[1]), Where: strings.TrimSpace(m[2]), Parameters: params}, nil
	default:
		return nil, ErrUnsupportedSQL
	}
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, unquote(strings.TrimSpace(p)))
	}
	return out
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), "`")
}

// IsSupportedDML reports whether sqlText looks like a single-table
// INSERT/UPDATE/DELETE the interceptor can handle, without fully
// parsing it — used as the narrow-interception gate before any image
// capture work is done.
func IsSupportedDML(sqlText string) bool {
	trimmed := strings.TrimSpace(sqlText)
	return insertRe.MatchString(trimmed) || updateRe.MatchString(trimmed) || deleteRe.MatchString(trimmed)
}
