package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"sigep.org/internal/auth"
	"sigep.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/api/auth/login",
	"/metrics",
	"/healthz",
	"/readyz",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		ctx, err := a.deps.Auth.Authenticate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				obs.WithRequest(r.Context()).Warn("token authentication failed", zap.Error(err))
			}
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin writes 403 and returns false when the caller lacks the admin role.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if auth.HasRole(r.Context(), a.adminRole) {
		return true
	}
	user, _ := auth.UserIDFromContext(r.Context())
	obs.WithRequest(r.Context()).Info("admin role required",
		zap.String("user_id", user),
		zap.String("path", r.URL.Path),
	)
	writeError(w, r, http.StatusForbidden, "forbidden")
	return false
}

// requireWriter writes 403 and returns false unless the caller is an admin or holds one of the
// write roles configured for table. RBAC tables never have write roles.
func (a *API) requireWriter(w http.ResponseWriter, r *http.Request, table string) bool {
	ctx := r.Context()
	if auth.HasRole(ctx, a.adminRole) {
		return true
	}
	for _, role := range a.writeRoles[table] {
		if auth.HasRole(ctx, role) {
			return true
		}
	}
	user, _ := auth.UserIDFromContext(ctx)
	obs.WithRequest(ctx).Info("write role required",
		zap.String("user_id", user),
		zap.String("table", table),
		zap.String("method", r.Method),
	)
	writeError(w, r, http.StatusForbidden, "forbidden")
	return false
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
