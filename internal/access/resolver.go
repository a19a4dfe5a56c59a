package access

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"sigep.org/internal/crud"
	"sigep.org/internal/obs"
)

// Source provides the three tables the resolver joins.
type Source interface {
	UserRoles(ctx context.Context, email string) ([]UserRole, error)
	Roles(ctx context.Context) ([]Role, error)
	RouteRoles(ctx context.Context) ([]RouteRole, error)
}

// Resolver computes the set of (route, role) grants for a user.
type Resolver struct {
	src Source
}

func NewResolver(src Source) *Resolver {
	return &Resolver{src: src}
}

// Resolve joins the user's roles with the route matrix. It never fails: a failing step is
// logged and counted, and the result is whatever was resolved before it (usually empty),
// leaving the user with public routes only. ok is false when any step failed.
func (r *Resolver) Resolve(ctx context.Context, userID string) (RouteSet, bool) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return RouteSet{}, false
	}
	lg := obs.WithRequest(ctx).With(zap.String("user_id", userID))

	userRoles, err := r.src.UserRoles(ctx, userID)
	if err != nil {
		r.failed(lg, "user_roles", err)
		return RouteSet{}, false
	}
	roleIDs := make(map[int64]struct{}, len(userRoles))
	for _, ur := range userRoles {
		if strings.EqualFold(strings.TrimSpace(ur.Email), userID) {
			roleIDs[ur.RoleID] = struct{}{}
		}
	}
	if len(roleIDs) == 0 {
		return RouteSet{}, true
	}

	roles, err := r.src.Roles(ctx)
	if err != nil {
		r.failed(lg, "roles", err)
		return RouteSet{}, false
	}
	names := make(map[string]struct{}, len(roleIDs))
	for _, role := range roles {
		if _, ok := roleIDs[role.ID]; ok {
			names[strings.TrimSpace(role.Name)] = struct{}{}
		}
	}
	if len(names) == 0 {
		return RouteSet{}, true
	}

	matrix, err := r.src.RouteRoles(ctx)
	if err != nil {
		r.failed(lg, "route_roles", err)
		return RouteSet{}, false
	}
	var grants []RouteRole
	for _, rr := range matrix {
		if _, ok := names[strings.TrimSpace(rr.Role)]; ok {
			grants = append(grants, rr)
		}
	}
	set := NewRouteSet(grants)
	lg.Debug("routes resolved", zap.Int("roles", len(names)), zap.Int("grants", set.Len()))
	return set, true
}

func (r *Resolver) failed(lg *zap.Logger, step string, err error) {
	obs.RouteResolutionFailures.WithLabelValues(step).Inc()
	lg.Warn("route resolution step failed", zap.String("step", step), zap.Error(err))
}

// CRUDSource reads the RBAC tables through the generic API.
type CRUDSource struct {
	client *crud.Client
}

func NewCRUDSource(client *crud.Client) *CRUDSource {
	return &CRUDSource{client: client}
}

func (s *CRUDSource) UserRoles(ctx context.Context, email string) ([]UserRole, error) {
	return crud.GetAll[UserRole](ctx, s.client, "usuario_rol", crud.Filter{Field: "email", Value: email})
}

func (s *CRUDSource) Roles(ctx context.Context) ([]Role, error) {
	return crud.GetAll[Role](ctx, s.client, "rol")
}

func (s *CRUDSource) RouteRoles(ctx context.Context) ([]RouteRole, error) {
	return crud.GetAll[RouteRole](ctx, s.client, "ruta_rol")
}
