package console

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"sigep.org/internal/access"
	"sigep.org/internal/auth"
	"sigep.org/internal/ids"
	"sigep.org/internal/obs"
	"sigep.org/internal/session"
)

// RequestLogger logs one entry per request with the matched route pattern.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			started := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			obs.WithRequest(c.Request().Context()).Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.String("route_pattern", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(started)),
			)
			return nil
		}
	}
}

// ungated paths handle a missing session themselves.
var ungated = map[string]bool{"/healthz": true, "/metrics": true, "/logout": true}

// guard loads the session once per request and evaluates the access guard against the page
// the route belongs to. Allowed requests carry the session state and bearer token onward.
func (s *Server) guard(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sid, state, ok := s.loadSession(c)
		if ok {
			c.Set(sidKey, sid)
			c.Set(stateKey, state)
			req := c.Request()
			ctx := auth.ContextWithToken(req.Context(), state.Token)
			ctx = auth.ContextWithUser(ctx, state.Email, nil)
			c.SetRequest(req.WithContext(ctx))
		}
		if ungated[c.Path()] {
			return next(c)
		}
		page := c.Request().URL.Path
		if p, found := s.pages[c.Path()]; found {
			page = p
		}
		d := s.deps.Guard.Check(state, ok, page)
		if !d.Allowed {
			obs.WithRequest(c.Request().Context()).Debug("page denied",
				zap.String("page", page),
				zap.String("redirect", d.Redirect),
			)
			return c.Redirect(http.StatusFound, d.Redirect)
		}
		return next(c)
	}
}

func (s *Server) loadSession(c echo.Context) (string, session.State, bool) {
	cookie, err := c.Cookie(cookieName)
	if err != nil || !ids.Valid(cookie.Value) {
		return "", session.State{}, false
	}
	state, ok, err := s.deps.Sessions.Load(c.Request().Context(), cookie.Value)
	if err != nil {
		obs.WithRequest(c.Request().Context()).Warn("session load failed", zap.Error(err))
		return "", session.State{}, false
	}
	if !ok {
		return "", session.State{}, false
	}
	return cookie.Value, state, true
}

func (s *Server) setCookie(c echo.Context, sid string, maxAge int) {
	c.SetCookie(&http.Cookie{
		Name:     cookieName,
		Value:    sid,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func currentState(c echo.Context) (session.State, bool) {
	st, ok := c.Get(stateKey).(session.State)
	return st, ok
}

// routes lists the grant paths of the session without duplicates, for the navigation menu.
func routes(st session.State) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, rr := range access.FromSession(st.RouteRoles).Pairs() {
		if !seen[rr.Route] {
			seen[rr.Route] = true
			out = append(out, rr.Route)
		}
	}
	return out
}
