package query

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"sigep.org/internal/auth"
	"sigep.org/internal/obs"
)

// Table is a result set with column order preserved.
type Table struct {
	Columns []string         `json:"columnas"`
	Rows    []map[string]any `json:"filas"`
}

// Executor runs already validated statements against the database.
type Executor interface {
	Query(ctx context.Context, sql string, params []Param, limit int, schema string) (Table, error)
	Procedure(ctx context.Context, name string, params []Param) (Table, error)
}

type Options struct {
	ForbiddenTables []string
	DefaultLimit    int
	MaxLimit        int
}

// Service validates, types and, where asked, hashes parameters before handing them to the Executor.
type Service struct {
	exec Executor
	opts Options
}

func NewService(exec Executor, opts Options) *Service {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 500
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 5000
	}
	if opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = opts.MaxLimit
	}
	return &Service{exec: exec, opts: opts}
}

// ExecuteParametrized runs one SELECT. limit <= 0 means the default; larger values are capped.
func (s *Service) ExecuteParametrized(ctx context.Context, sql string, params map[string]any, limit int, schema string) (Table, error) {
	if err := Validate(sql, s.opts.ForbiddenTables); err != nil {
		obs.WithRequest(ctx).Info("query rejected", zap.Error(err))
		return Table{}, err
	}
	typed, err := ConvertParams(params)
	if err != nil {
		return Table{}, err
	}
	schema = strings.TrimSpace(schema)
	if schema != "" && !ValidIdentifier(schema) {
		return Table{}, fmt.Errorf("%w: schema %q", ErrInvalidName, schema)
	}
	return s.exec.Query(ctx, sql, typed, s.limit(limit), schema)
}

// ExecuteStoredProcedure hashes the string values named in encryptFields, then runs the procedure.
// The caller's map is not modified.
func (s *Service) ExecuteStoredProcedure(ctx context.Context, name string, params map[string]any, encryptFields []string) (Table, error) {
	name = strings.TrimSpace(name)
	if !ValidIdentifier(name) {
		return Table{}, fmt.Errorf("%w: procedure %q", ErrInvalidName, name)
	}
	values := make(map[string]any, len(params))
	for k, v := range params {
		values[k] = v
	}
	if err := auth.EncryptFields(values, encryptFields); err != nil {
		return Table{}, fmt.Errorf("encrypt parameters: %w", err)
	}
	typed, err := ConvertParams(values)
	if err != nil {
		return Table{}, err
	}
	return s.exec.Procedure(ctx, name, typed)
}

func (s *Service) limit(requested int) int {
	switch {
	case requested <= 0:
		return s.opts.DefaultLimit
	case requested > s.opts.MaxLimit:
		return s.opts.MaxLimit
	default:
		return requested
	}
}
