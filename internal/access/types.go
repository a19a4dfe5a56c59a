// Package access decides which console routes a user may open. Resolver computes the
// user's (route, role) grants once at login; Guard checks each page request against them.
package access

import (
	"sort"
	"strings"

	"sigep.org/internal/session"
)

// Role is a row of table rol.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"nombre"`
}

// UserRole is a row of table usuario_rol.
type UserRole struct {
	Email  string `json:"email"`
	RoleID int64  `json:"rol_id"`
}

// Route is a row of table ruta.
type Route struct {
	Path        string `json:"ruta"`
	Description string `json:"descripcion"`
}

// RouteRole is a row of table ruta_rol. It is comparable, so sets of grants are keyed by value.
type RouteRole struct {
	Route string `json:"ruta"`
	Role  string `json:"rol"`
}

// RouteSet is an immutable set of grants, de-duplicated on the (route, role) pair.
type RouteSet struct {
	pairs []RouteRole
}

// NewRouteSet collapses duplicates and orders the pairs by route then role.
func NewRouteSet(grants []RouteRole) RouteSet {
	seen := make(map[RouteRole]struct{}, len(grants))
	out := make([]RouteRole, 0, len(grants))
	for _, g := range grants {
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Route == out[j].Route {
			return out[i].Role < out[j].Role
		}
		return out[i].Route < out[j].Route
	})
	return RouteSet{pairs: out}
}

func (s RouteSet) Len() int { return len(s.pairs) }

// Pairs returns a copy of the grants.
func (s RouteSet) Pairs() []RouteRole {
	out := make([]RouteRole, len(s.pairs))
	copy(out, s.pairs)
	return out
}

// Allows reports whether any grant names path. Comparison ignores ASCII case and a trailing slash.
func (s RouteSet) Allows(path string) bool {
	path = normalizePath(path)
	for _, p := range s.pairs {
		if strings.EqualFold(normalizePath(p.Route), path) {
			return true
		}
	}
	return false
}

// Session converts the set to its persisted form.
func (s RouteSet) Session() []session.RouteRole {
	out := make([]session.RouteRole, len(s.pairs))
	for i, p := range s.pairs {
		out[i] = session.RouteRole{Route: p.Route, Role: p.Role}
	}
	return out
}

// FromSession rebuilds a set from persisted session grants.
func FromSession(grants []session.RouteRole) RouteSet {
	pairs := make([]RouteRole, len(grants))
	for i, g := range grants {
		pairs[i] = RouteRole{Route: g.Route, Role: g.Role}
	}
	return NewRouteSet(pairs)
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		return "/"
	}
	return p
}
