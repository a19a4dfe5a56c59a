package pg

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Row is one record of a generic table, keyed by column name.
type Row struct {
	Table  string
	Values map[string]any
}

func (r Row) MarshalJSON() ([]byte, error) {
	if r.Values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.Values)
}

func (r Row) AuditTable() string { return r.Table }

// AuditID reads the column named id (any case). Integers and numeric strings count; anything
// else yields 0.
func (r Row) AuditID() int64 {
	for k, v := range r.Values {
		if !strings.EqualFold(k, "id") {
			continue
		}
		switch x := v.(type) {
		case int64:
			return x
		case int32:
			return int64(x)
		case int:
			return int64(x)
		case float64:
			if x == float64(int64(x)) {
				return int64(x)
			}
		case json.Number:
			if n, err := x.Int64(); err == nil {
				return n
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
				return n
			}
		case []byte:
			if n, err := strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64); err == nil {
				return n
			}
		}
		return 0
	}
	return 0
}

type scanner interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

var _ scanner = (*sql.Rows)(nil)

// scanRows reads every row into a column map, stopping after limit rows when limit > 0.
func scanRows(table string, rows scanner, limit int) ([]string, []Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	out := []Row{}
	for rows.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan %s: %w", table, err)
		}
		values := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := dest[i].([]byte); ok {
				values[c] = string(b)
				continue
			}
			values[c] = dest[i]
		}
		out = append(out, Row{Table: table, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return cols, out, nil
}
