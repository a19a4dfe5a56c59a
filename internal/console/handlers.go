package console

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"sigep.org/internal/access"
	"sigep.org/internal/audit"
	"sigep.org/internal/auth"
	"sigep.org/internal/crud"
	"sigep.org/internal/ids"
	"sigep.org/internal/obs"
	"sigep.org/internal/session"
)

type loginForm struct {
	Email string `json:"email" form:"email"`
	Clave string `json:"clave" form:"clave"`
}

func (s *Server) loginPage(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"pagina": access.LoginPath})
}

func (s *Server) login(c echo.Context) error {
	var form loginForm
	if err := c.Bind(&form); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"mensaje": "invalid payload"})
	}
	form.Email = strings.TrimSpace(form.Email)
	if form.Email == "" || form.Clave == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"mensaje": "email and clave are required"})
	}
	ctx := c.Request().Context()
	lg := obs.WithRequest(ctx).With(zap.String("email", form.Email))

	sess, err := s.deps.Client.Login(ctx, form.Email, form.Clave)
	if err != nil {
		lg.Info("console login rejected", zap.Error(err))
		switch {
		case errors.Is(err, crud.ErrUnauthorized), errors.Is(err, crud.ErrBadRequest):
			return c.JSON(http.StatusUnauthorized, map[string]string{"mensaje": "invalid credentials"})
		case errors.Is(err, crud.ErrForbidden):
			return c.JSON(http.StatusForbidden, map[string]string{"mensaje": "account disabled"})
		default:
			return c.JSON(http.StatusBadGateway, map[string]string{"mensaje": "login service unavailable"})
		}
	}

	// Grants are resolved once here and live as long as the session.
	set, _ := s.deps.Resolver.Resolve(auth.ContextWithToken(ctx, sess.Token), sess.Email)
	state := session.State{Token: sess.Token, Email: sess.Email, RouteRoles: set.Session()}

	if old, ok := c.Get(sidKey).(string); ok {
		if err := s.deps.Sessions.Clear(ctx, old); err != nil {
			lg.Warn("clear previous session", zap.Error(err))
		}
	}
	sid := ids.New()
	if err := s.deps.Sessions.Save(ctx, sid, state); err != nil {
		lg.Error("save session", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"mensaje": "could not start session"})
	}
	maxAge := int(s.opts.SessionTTL / time.Second)
	if !sess.ExpiresAt.IsZero() {
		if untilExpiry := int(time.Until(sess.ExpiresAt) / time.Second); untilExpiry > 0 && untilExpiry < maxAge {
			maxAge = untilExpiry
		}
	}
	s.setCookie(c, sid, maxAge)
	lg.Info("console login", zap.Int("grants", set.Len()))
	return c.Redirect(http.StatusSeeOther, access.HomePath)
}

func (s *Server) logout(c echo.Context) error {
	if sid, ok := c.Get(sidKey).(string); ok {
		if err := s.deps.Sessions.Clear(c.Request().Context(), sid); err != nil {
			obs.WithRequest(c.Request().Context()).Warn("clear session", zap.Error(err))
		}
	}
	s.setCookie(c, "", -1)
	return c.Redirect(http.StatusSeeOther, access.LoginPath)
}

func (s *Server) home(c echo.Context) error {
	st, _ := currentState(c)
	return c.JSON(http.StatusOK, map[string]any{
		"pagina": access.HomePath,
		"email":  st.Email,
		"rutas":  routes(st),
	})
}

func (s *Server) listPage(resource string) echo.HandlerFunc {
	return func(c echo.Context) error {
		var filters []crud.Filter
		for k, v := range c.QueryParams() {
			if len(v) > 0 {
				filters = append(filters, crud.Filter{Field: k, Value: v[0]})
			}
		}
		rows, err := crud.GetAll[map[string]any](c.Request().Context(), s.deps.Client, resource, filters...)
		if err != nil {
			if errors.Is(err, crud.ErrNotFound) {
				rows = []map[string]any{}
			} else {
				return s.handleError(c, err)
			}
		}
		return c.JSON(http.StatusOK, map[string]any{"pagina": c.Path(), "recurso": resource, "datos": rows})
	}
}

func (s *Server) getRow(resource string) echo.HandlerFunc {
	return func(c echo.Context) error {
		row, err := crud.GetByKey[map[string]any](c.Request().Context(), s.deps.Client, resource, c.Param("keyField"), c.Param("keyValue"))
		if err != nil && !errors.Is(err, crud.ErrNotFound) {
			return s.handleError(c, err)
		}
		var data any
		if row != nil {
			data = *row
		}
		return c.JSON(http.StatusOK, map[string]any{"recurso": resource, "datos": data})
	}
}

func (s *Server) createRow(page, resource string) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, ok := rowBody(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"mensaje": "invalid payload"})
		}
		row, err := crud.Create(c.Request().Context(), s.deps.Client, resource, body, encryptFields(c)...)
		if err != nil {
			return s.handleError(c, err)
		}
		return c.JSON(http.StatusCreated, map[string]any{"pagina": page, "recurso": resource, "datos": row})
	}
}

func (s *Server) updateRow(page, resource string) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, ok := rowBody(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"mensaje": "invalid payload"})
		}
		row, err := crud.Update(c.Request().Context(), s.deps.Client, resource, c.Param("keyField"), c.Param("keyValue"), body, encryptFields(c)...)
		if err != nil {
			return s.handleError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"pagina": page, "recurso": resource, "datos": row})
	}
}

func (s *Server) deleteRow(page, resource string) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := crud.Delete(c.Request().Context(), s.deps.Client, resource, c.Param("keyField"), c.Param("keyValue")); err != nil {
			return s.handleError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func (s *Server) auditPage(c echo.Context) error {
	f := crud.AuditFilter{Table: c.QueryParam("tabla")}
	var err error
	if f.From, err = audit.ParseBound(c.QueryParam("desde"), false); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"mensaje": err.Error()})
	}
	if f.To, err = audit.ParseBound(c.QueryParam("hasta"), true); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"mensaje": err.Error()})
	}
	records, err := s.deps.Client.Audit(c.Request().Context(), f)
	if err != nil {
		if !errors.Is(err, crud.ErrNotFound) {
			return s.handleError(c, err)
		}
		records = nil
	}
	if records == nil {
		return c.JSON(http.StatusOK, map[string]any{"pagina": "/auditoria", "datos": []any{}})
	}
	return c.JSON(http.StatusOK, map[string]any{"pagina": "/auditoria", "datos": records})
}

// handleError maps CRUD client failures to console behavior: an expired token ends the
// session, a refused operation sends the user home, anything else is a gateway failure.
func (s *Server) handleError(c echo.Context, err error) error {
	lg := obs.WithRequest(c.Request().Context())
	switch {
	case errors.Is(err, crud.ErrUnauthorized):
		if sid, ok := c.Get(sidKey).(string); ok {
			if cerr := s.deps.Sessions.Clear(c.Request().Context(), sid); cerr != nil {
				lg.Warn("clear session", zap.Error(cerr))
			}
		}
		s.setCookie(c, "", -1)
		return c.Redirect(http.StatusFound, access.LoginPath)
	case errors.Is(err, crud.ErrForbidden):
		return c.Redirect(http.StatusFound, access.HomePath)
	case errors.Is(err, crud.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]any{"mensaje": "no data"})
	case errors.Is(err, crud.ErrBadRequest):
		var apiErr *crud.Error
		detail := "invalid request"
		if errors.As(err, &apiErr) && apiErr.Detail != "" {
			detail = apiErr.Detail
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"mensaje": detail})
	default:
		lg.Error("api call failed", zap.String("path", c.Path()), zap.Error(err))
		return c.JSON(http.StatusBadGateway, map[string]string{"mensaje": "the service is temporarily unavailable"})
	}
}

// rowBody reads only the request body. c.Bind would also copy path params into a map target.
func rowBody(c echo.Context) (map[string]any, bool) {
	var body map[string]any
	if err := (&echo.DefaultBinder{}).BindBody(c, &body); err != nil || len(body) == 0 {
		return nil, false
	}
	return body, true
}

func encryptFields(c echo.Context) []string {
	return auth.ParseFieldList(c.QueryParam("encryptFields"))
}
