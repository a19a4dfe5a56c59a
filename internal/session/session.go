// Package session keeps the console's per-browser credential state: the bearer token, the
// user's email and the routes resolved at login. The three values live and die together.
package session

import (
	"context"
	"errors"
	"strings"
)

// ErrIncomplete is returned when saving a state that lacks token or email.
var ErrIncomplete = errors.New("session: token and email must be set together")

// RouteRole is the persisted form of a resolved (route, role) grant.
type RouteRole struct {
	Route string `json:"route"`
	Role  string `json:"role"`
}

// State is the session payload.
type State struct {
	Token      string      `json:"token"`
	Email      string      `json:"email"`
	RouteRoles []RouteRole `json:"routeRoles"`
}

// Valid reports whether the state satisfies the all-or-nothing invariant.
func (s State) Valid() bool {
	return strings.TrimSpace(s.Token) != "" && strings.TrimSpace(s.Email) != ""
}

func (s State) clone() State {
	out := State{Token: s.Token, Email: s.Email}
	if s.RouteRoles != nil {
		out.RouteRoles = make([]RouteRole, len(s.RouteRoles))
		copy(out.RouteRoles, s.RouteRoles)
	} else {
		out.RouteRoles = []RouteRole{}
	}
	return out
}

// Store persists session state keyed by session id. Save replaces the whole state;
// readers never observe a mix of old and new values.
type Store interface {
	Load(ctx context.Context, sid string) (State, bool, error)
	Save(ctx context.Context, sid string, state State) error
	Clear(ctx context.Context, sid string) error
}

func checkSave(sid string, state State) error {
	if strings.TrimSpace(sid) == "" {
		return errors.New("session: id is required")
	}
	if !state.Valid() {
		return ErrIncomplete
	}
	return nil
}
