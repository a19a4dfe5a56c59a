package access

import (
	"strings"

	"sigep.org/internal/obs"
	"sigep.org/internal/session"
)

const (
	LoginPath = "/login"
	HomePath  = "/home"
)

var publicPaths = []string{"/", LoginPath, HomePath}

// Decision is the guard's verdict for one page request.
type Decision struct {
	Allowed  bool
	Redirect string
}

// Guard gates page paths on the session's resolved grants.
type Guard struct{}

func NewGuard() *Guard { return &Guard{} }

// Check evaluates a path. The login page is always reachable; everything else needs a token,
// then either a public path or a matching grant.
func (g *Guard) Check(state session.State, hasSession bool, path string) Decision {
	path = normalizePath(path)
	switch {
	case strings.EqualFold(path, LoginPath):
		return g.decide("allow", Decision{Allowed: true})
	case !hasSession || strings.TrimSpace(state.Token) == "":
		return g.decide("login", Decision{Redirect: LoginPath})
	case IsPublic(path):
		return g.decide("allow", Decision{Allowed: true})
	case FromSession(state.RouteRoles).Allows(path):
		return g.decide("allow", Decision{Allowed: true})
	default:
		return g.decide("forbidden", Decision{Redirect: HomePath})
	}
}

func (g *Guard) decide(label string, d Decision) Decision {
	obs.AccessDecisions.WithLabelValues(label).Inc()
	return d
}

// IsPublic reports whether path is open to any signed-in user.
func IsPublic(path string) bool {
	path = normalizePath(path)
	for _, p := range publicPaths {
		if strings.EqualFold(p, path) {
			return true
		}
	}
	return false
}
