package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"sigep.org/internal/query"
)

// QueryExecutor runs validated dynamic statements. Ad-hoc SELECTs run in a read-only
// transaction; procedures run with the caller's privileges in autocommit.
type QueryExecutor struct {
	db *sql.DB
}

var _ query.Executor = (*QueryExecutor)(nil)

func (s *Store) Executor() *QueryExecutor { return &QueryExecutor{db: s.db} }

func (e *QueryExecutor) Query(ctx context.Context, sqlText string, params []query.Param, limit int, schema string) (query.Table, error) {
	stmt, args, err := BindNamed(sqlText, params)
	if err != nil {
		return query.Table{}, err
	}
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return query.Table{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if schema != "" {
		path := pgx.Identifier(strings.Split(schema, ".")[:1]).Sanitize()
		if _, err := tx.ExecContext(ctx, "set local search_path to "+path); err != nil {
			return query.Table{}, mapError("set search_path", err)
		}
	}
	rows, err := tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return query.Table{}, mapError("query", err)
	}
	defer rows.Close()
	return toTable(rows, limit)
}

func (e *QueryExecutor) Procedure(ctx context.Context, name string, params []query.Param) (query.Table, error) {
	ident := pgx.Identifier(strings.Split(name, ".")).Sanitize()
	named := make([]string, len(params))
	args := make([]any, len(params))
	for i, p := range params {
		named[i] = p.Bare() + " => $" + strconv.Itoa(i+1)
		args[i] = argValue(p.Value)
	}
	stmt := "select * from " + ident + "(" + strings.Join(named, ", ") + ")"
	rows, err := e.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return query.Table{}, mapError("procedure "+name, err)
	}
	defer rows.Close()
	return toTable(rows, 0)
}

func toTable(rows *sql.Rows, limit int) (query.Table, error) {
	cols, out, err := scanRows("", rows, limit)
	if err != nil {
		return query.Table{}, mapError("read rows", err)
	}
	tbl := query.Table{Columns: cols, Rows: make([]map[string]any, len(out))}
	for i, r := range out {
		tbl.Rows[i] = r.Values
	}
	return tbl, nil
}

func argValue(v any) any {
	if _, ok := v.(query.Null); ok {
		return nil
	}
	return v
}

// BindNamed rewrites @name references to positional $n placeholders. A name used more than once
// shares one placeholder. Text inside quotes, quoted identifiers and comments is left alone, and
// '@' not followed by a word character (operators such as @> or @@) is kept verbatim.
func BindNamed(sqlText string, params []query.Param) (string, []any, error) {
	values := make(map[string]any, len(params))
	for _, p := range params {
		values[strings.ToLower(p.Bare())] = argValue(p.Value)
	}
	var (
		b     strings.Builder
		args  []any
		index = map[string]int{}
	)
	b.Grow(len(sqlText))
	for i := 0; i < len(sqlText); {
		c := sqlText[i]
		switch {
		case c == '\'' || c == '"':
			end := skipQuoted(sqlText, i, c)
			b.WriteString(sqlText[i:end])
			i = end
		case c == '-' && i+1 < len(sqlText) && sqlText[i+1] == '-':
			end := strings.IndexByte(sqlText[i:], '\n')
			if end < 0 {
				end = len(sqlText) - i
			}
			b.WriteString(sqlText[i : i+end])
			i += end
		case c == '/' && i+1 < len(sqlText) && sqlText[i+1] == '*':
			end := strings.Index(sqlText[i+2:], "*/")
			if end < 0 {
				end = len(sqlText)
			} else {
				end = i + 2 + end + 2
			}
			b.WriteString(sqlText[i:end])
			i = end
		case c == '@' && i+1 < len(sqlText) && isWord(sqlText[i+1]) && (i == 0 || sqlText[i-1] != '@'):
			j := i + 1
			for j < len(sqlText) && isWord(sqlText[j]) {
				j++
			}
			name := strings.ToLower(sqlText[i+1 : j])
			n, seen := index[name]
			if !seen {
				v, ok := values[name]
				if !ok {
					return "", nil, fmt.Errorf("%w: no value for @%s", query.ErrInvalidParam, name)
				}
				args = append(args, v)
				n = len(args)
				index[name] = n
			}
			b.WriteString("$" + strconv.Itoa(n))
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), args, nil
}

// skipQuoted returns the index just past the quoted run starting at start. Doubled quotes escape.
func skipQuoted(s string, start int, q byte) int {
	for i := start + 1; i < len(s); i++ {
		if s[i] != q {
			continue
		}
		if i+1 < len(s) && s[i+1] == q {
			i++
			continue
		}
		return i + 1
	}
	return len(s)
}

func isWord(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
