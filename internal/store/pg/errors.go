package pg

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound   = errors.New("pg: row not found")
	ErrConflict   = errors.New("pg: row already exists")
	ErrReference  = errors.New("pg: referenced row missing or still referenced")
	ErrBadRequest = errors.New("pg: statement rejected")
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrNotNullViolation    = "23502"
	pgErrReadOnlyTx          = "25006"
)

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapError turns driver errors into the package sentinels. Data (22) and syntax/access (42)
// classes are the caller's fault; anything else is returned wrapped as is.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	pgErr, ok := maybePgError(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case pgErr.Code == pgErrUniqueViolation:
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Detail)
	case pgErr.Code == pgErrForeignKeyViolation:
		return fmt.Errorf("%w: %s", ErrReference, pgErr.Detail)
	case pgErr.Code == pgErrNotNullViolation, pgErr.Code == pgErrReadOnlyTx:
		return fmt.Errorf("%w: %s", ErrBadRequest, pgErr.Message)
	case len(pgErr.Code) == 5 && (pgErr.Code[:2] == "22" || pgErr.Code[:2] == "42"):
		return fmt.Errorf("%w: %s", ErrBadRequest, pgErr.Message)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
