package pg

import (
	"context"
	"database/sql"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"sigep.org/internal/audit"
)

// AuditRepository appends to table auditoria. Each append is a single insert; ids come from
// the table's sequence.
type AuditRepository struct {
	db      *sql.DB
	builder squirrel.StatementBuilderType
}

var _ audit.Repository = (*AuditRepository)(nil)

func (s *Store) Audit() *AuditRepository {
	return &AuditRepository{db: s.db, builder: s.builder}
}

func (r *AuditRepository) Append(ctx context.Context, rec audit.Record) (audit.Record, error) {
	stmt, args, err := r.builder.Insert("auditoria").
		Columns("tabla", "accion", "entidad_id", "datos_anteriores", "datos_nuevos", "usuario_id", "ip", "user_agent", "fecha").
		Values(rec.Table, string(rec.Action), rec.EntityID, rec.Before, rec.After, rec.UserID, rec.IP, rec.UserAgent, rec.Timestamp).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return audit.Record{}, fmt.Errorf("build insert audit sql: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, stmt, args...).Scan(&rec.ID); err != nil {
		return audit.Record{}, fmt.Errorf("insert audit: %w", err)
	}
	return rec, nil
}

func (r *AuditRepository) Query(ctx context.Context, f audit.Filter) ([]audit.Record, error) {
	q := r.builder.Select("id", "tabla", "accion", "entidad_id", "datos_anteriores", "datos_nuevos",
		"usuario_id", "ip", "user_agent", "fecha").
		From("auditoria").
		OrderBy("fecha DESC", "id DESC")
	if f.Table != "" {
		q = q.Where(squirrel.Expr("lower(tabla) = lower(?)", f.Table))
	}
	if !f.From.IsZero() {
		q = q.Where(squirrel.GtOrEq{"fecha": f.From})
	}
	if !f.To.IsZero() {
		q = q.Where(squirrel.LtOrEq{"fecha": f.To})
	}
	stmt, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit query sql: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	out := []audit.Record{}
	for rows.Next() {
		var (
			rec           audit.Record
			action        string
			before, after sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Table, &action, &rec.EntityID, &before, &after,
			&rec.UserID, &rec.IP, &rec.UserAgent, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		rec.Action = audit.Action(action)
		if before.Valid {
			rec.Before = &before.String
		}
		if after.Valid {
			rec.After = &after.String
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return out, nil
}
