package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"sigep.org/internal/auth"
)

var _ auth.UserStore = (*Store)(nil)

// FindUser loads the account used by login. Email comparison ignores case.
func (s *Store) FindUser(ctx context.Context, email string) (auth.User, error) {
	stmt, args, err := s.builder.Select("email", "clave", "activo").
		From("usuario").
		Where(squirrel.Expr("lower(email) = lower(?)", email)).
		Limit(1).
		ToSql()
	if err != nil {
		return auth.User{}, fmt.Errorf("build find user sql: %w", err)
	}
	var (
		u    auth.User
		hash sql.NullString
	)
	err = s.db.QueryRowContext(ctx, stmt, args...).Scan(&u.Email, &hash, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrUserNotFound
	}
	if err != nil {
		return auth.User{}, fmt.Errorf("find user: %w", err)
	}
	u.PasswordHash = hash.String
	return u, nil
}

// RoleNames lists the names of the roles assigned to email.
func (s *Store) RoleNames(ctx context.Context, email string) ([]string, error) {
	stmt, args, err := s.builder.Select("r.nombre").
		From("usuario_rol ur").
		Join("rol r ON r.id = ur.rol_id").
		Where(squirrel.Eq{"ur.email": email}).
		OrderBy("r.nombre").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build role names sql: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query role names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan role name: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role names: %w", err)
	}
	return names, nil
}
