// Package audit records who changed which row, when, and what it looked like before and after.
// Recording is best-effort: failures are logged and counted, never returned to the mutation
// that triggered them.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Record is one append-only audit entry. Before/After hold indented JSON snapshots.
type Record struct {
	ID        int64     `json:"id"`
	Table     string    `json:"tabla"`
	Action    Action    `json:"accion"`
	EntityID  int64     `json:"entidadId"`
	Before    *string   `json:"datosAnteriores"`
	After     *string   `json:"datosNuevos"`
	UserID    string    `json:"usuarioId"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"userAgent"`
	Timestamp time.Time `json:"fecha"`
}

// Entity is anything the recorder can snapshot. AuditID returns 0 when the entity has no
// usable numeric id.
type Entity interface {
	AuditTable() string
	AuditID() int64
}

// Actor describes who performed a mutation and from where.
type Actor struct {
	UserID    string
	IP        string
	UserAgent string
}

// Filter narrows Query. Zero values mean "no bound".
type Filter struct {
	Table string
	From  time.Time
	To    time.Time
}

// Match reports whether r falls inside the filter. Bounds are inclusive.
func (f Filter) Match(r Record) bool {
	if f.Table != "" && !strings.EqualFold(f.Table, r.Table) {
		return false
	}
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Repository stores records. Append assigns the id and returns the stored record.
type Repository interface {
	Append(ctx context.Context, r Record) (Record, error)
	Query(ctx context.Context, f Filter) ([]Record, error)
}

var ErrInvalidBound = errors.New("audit: invalid date bound")

// ParseBound accepts RFC3339 timestamps or YYYY-MM-DD dates. A date used as an upper bound
// covers the whole day.
func ParseBound(raw string, upper bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidBound, raw)
	}
	if upper {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return d.UTC(), nil
}
