// Package query runs ad-hoc SELECT statements and stored procedures with named parameters.
//
// The table deny-list is a case-insensitive substring check on the raw statement. It does not
// parse SQL: it can reject statements that merely contain a denied name inside another
// identifier, and it can be bypassed through quoting or aliasing. Database permissions remain
// the real boundary.
package query

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"sigep.org/internal/obs"
)

var (
	ErrInvalidQuery   = errors.New("invalid query")
	ErrEmptyQuery     = fmt.Errorf("%w: statement is empty", ErrInvalidQuery)
	ErrNotSelect      = fmt.Errorf("%w: only SELECT statements are allowed", ErrInvalidQuery)
	ErrForbiddenTable = fmt.Errorf("%w: statement references a restricted table", ErrInvalidQuery)
	ErrInvalidParam   = fmt.Errorf("%w: invalid parameter name", ErrInvalidQuery)
	ErrInvalidName    = fmt.Errorf("%w: invalid identifier", ErrInvalidQuery)
)

// Validate applies the checks in order: non-empty, SELECT only, no denied table names.
func Validate(sql string, forbidden []string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		obs.QueryRejections.WithLabelValues("empty").Inc()
		return ErrEmptyQuery
	}
	if !startsWithSelect(trimmed) {
		obs.QueryRejections.WithLabelValues("not_select").Inc()
		return ErrNotSelect
	}
	lower := strings.ToLower(sql)
	for _, table := range forbidden {
		table = strings.ToLower(strings.TrimSpace(table))
		if table != "" && strings.Contains(lower, table) {
			obs.QueryRejections.WithLabelValues("forbidden_table").Inc()
			return fmt.Errorf("%w: %s", ErrForbiddenTable, table)
		}
	}
	return nil
}

func startsWithSelect(s string) bool {
	const verb = "select"
	if len(s) < len(verb) || !strings.EqualFold(s[:len(verb)], verb) {
		return false
	}
	if len(s) == len(verb) {
		return true
	}
	next := rune(s[len(verb)])
	return !(unicode.IsLetter(next) || unicode.IsDigit(next) || next == '_')
}

// ValidIdentifier accepts plain or schema-qualified SQL identifiers.
func ValidIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, ".") {
		if part == "" || len(part) > 63 {
			return false
		}
		for i, r := range part {
			switch {
			case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			case i > 0 && r >= '0' && r <= '9':
			default:
				return false
			}
		}
	}
	return true
}
