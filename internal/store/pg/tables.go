package pg

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	squirrel "github.com/Masterminds/squirrel"

	"sigep.org/internal/query"
)

// List returns every row of table matching the equality filters, ordered by the first column.
func (s *Store) List(ctx context.Context, table string, filters map[string]string) ([]Row, error) {
	if err := checkNames(table, keys(filters)...); err != nil {
		return nil, err
	}
	q := s.builder.Select("*").From(table).OrderBy("1")
	if len(filters) > 0 {
		eq := squirrel.Eq{}
		for k, v := range filters {
			eq[k] = v
		}
		q = q.Where(eq)
	}
	stmt, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list %s sql: %w", table, err)
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, mapError("list "+table, err)
	}
	defer rows.Close()
	_, out, err := scanRows(table, rows, 0)
	if err != nil {
		return nil, mapError("list "+table, err)
	}
	return out, nil
}

// Get returns the first row whose keyField equals keyValue.
func (s *Store) Get(ctx context.Context, table, keyField, keyValue string) (Row, error) {
	if err := checkNames(table, keyField); err != nil {
		return Row{}, err
	}
	stmt, args, err := s.builder.Select("*").From(table).
		Where(squirrel.Eq{keyField: keyValue}).
		Limit(1).
		ToSql()
	if err != nil {
		return Row{}, fmt.Errorf("build get %s sql: %w", table, err)
	}
	return s.one(ctx, s.db, table, stmt, args)
}

// Insert adds a row and returns it as stored.
func (s *Store) Insert(ctx context.Context, table string, values map[string]any) (Row, error) {
	cols := keys(values)
	if len(cols) == 0 {
		return Row{}, fmt.Errorf("%w: no columns to insert", ErrBadRequest)
	}
	if err := checkNames(table, cols...); err != nil {
		return Row{}, err
	}
	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = dbValue(values[c])
	}
	stmt, args, err := s.builder.Insert(table).Columns(cols...).Values(vals...).Suffix("RETURNING *").ToSql()
	if err != nil {
		return Row{}, fmt.Errorf("build insert %s sql: %w", table, err)
	}
	return s.one(ctx, s.db, table, stmt, args)
}

// Update replaces the row identified by keyField and returns it before and after. Columns the
// body omits go back to their DEFAULT (NULL when none is declared); the key, id and the table's
// kept columns are never rewritten that way.
func (s *Store) Update(ctx context.Context, table, keyField, keyValue string, values map[string]any) (Row, Row, error) {
	set := make(map[string]any, len(values))
	for k, v := range values {
		if strings.EqualFold(k, keyField) {
			continue
		}
		set[k] = dbValue(v)
	}
	if len(set) == 0 {
		return Row{}, Row{}, fmt.Errorf("%w: no columns to update", ErrBadRequest)
	}
	if err := checkNames(table, append(keys(set), keyField)...); err != nil {
		return Row{}, Row{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Row{}, Row{}, err
	}
	defer func() { _ = tx.Rollback() }()

	lock, largs, err := s.builder.Select("*").From(table).
		Where(squirrel.Eq{keyField: keyValue}).
		Limit(1).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return Row{}, Row{}, fmt.Errorf("build lock %s sql: %w", table, err)
	}
	before, err := s.one(ctx, tx, table, lock, largs)
	if err != nil {
		return Row{}, Row{}, err
	}
	for _, col := range s.resetColumns(table, keyField, before, set) {
		set[col] = squirrel.Expr("DEFAULT")
	}

	stmt, args, err := s.builder.Update(table).SetMap(set).
		Where(squirrel.Eq{keyField: keyValue}).
		Suffix("RETURNING *").
		ToSql()
	if err != nil {
		return Row{}, Row{}, fmt.Errorf("build update %s sql: %w", table, err)
	}
	after, err := s.one(ctx, tx, table, stmt, args)
	if err != nil {
		return Row{}, Row{}, err
	}
	if err := tx.Commit(); err != nil {
		return Row{}, Row{}, mapError("commit update "+table, err)
	}
	return before, after, nil
}

// resetColumns lists the columns of before that the update body does not mention.
func (s *Store) resetColumns(table, keyField string, before Row, set map[string]any) []string {
	skip := map[string]bool{"id": true, strings.ToLower(keyField): true}
	for k := range set {
		skip[strings.ToLower(k)] = true
	}
	for _, c := range s.kept[strings.ToLower(table)] {
		skip[c] = true
	}
	var out []string
	for col := range before.Values {
		if skip[strings.ToLower(col)] || !query.ValidIdentifier(col) {
			continue
		}
		out = append(out, col)
	}
	return out
}

// Delete removes the row and returns it. Tables with a soft-delete flag get the flag cleared
// instead; an already disabled row counts as gone.
func (s *Store) Delete(ctx context.Context, table, keyField, keyValue string) (Row, error) {
	if err := checkNames(table, keyField); err != nil {
		return Row{}, err
	}
	var (
		stmt string
		args []any
		err  error
	)
	if flag, ok := s.soft[strings.ToLower(table)]; ok {
		stmt, args, err = s.builder.Update(table).Set(flag, false).
			Where(squirrel.Eq{keyField: keyValue, flag: true}).
			Suffix("RETURNING *").
			ToSql()
	} else {
		stmt, args, err = s.builder.Delete(table).
			Where(squirrel.Eq{keyField: keyValue}).
			Suffix("RETURNING *").
			ToSql()
	}
	if err != nil {
		return Row{}, fmt.Errorf("build delete %s sql: %w", table, err)
	}
	return s.one(ctx, s.db, table, stmt, args)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) one(ctx context.Context, q queryer, table, stmt string, args []any) (Row, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return Row{}, mapError(table, err)
	}
	defer rows.Close()
	_, out, err := scanRows(table, rows, 1)
	if err != nil {
		return Row{}, mapError(table, err)
	}
	if len(out) == 0 {
		return Row{}, ErrNotFound
	}
	return out[0], nil
}

func checkNames(table string, columns ...string) error {
	if !query.ValidIdentifier(table) {
		return fmt.Errorf("%w: invalid table %q", ErrBadRequest, table)
	}
	for _, c := range columns {
		if strings.Contains(c, ".") || !query.ValidIdentifier(c) {
			return fmt.Errorf("%w: invalid column %q", ErrBadRequest, c)
		}
	}
	return nil
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// dbValue converts decoded JSON into driver arguments.
func dbValue(v any) any {
	switch x := query.ConvertValue(v).(type) {
	case query.Null:
		return nil
	default:
		return x
	}
}
