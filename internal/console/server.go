// Package console is the admin console's backend-for-frontend. It owns the browser session,
// runs the access guard on every page request and reads or writes data through the generic
// CRUD client.
package console

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"sigep.org/internal/access"
	"sigep.org/internal/crud"
	"sigep.org/internal/ids"
	"sigep.org/internal/obs"
	"sigep.org/internal/session"
)

const (
	cookieName = "sigep_sid"
	stateKey   = "session_state"
	sidKey     = "session_id"
)

type Deps struct {
	Sessions session.Store
	Client   *crud.Client
	Resolver *access.Resolver
	Guard    *access.Guard
}

type Options struct {
	// Pages maps a console path such as /proyectos to the API resource it lists.
	Pages        map[string]string
	SessionTTL   time.Duration
	SecureCookie bool
}

type Server struct {
	echo  *echo.Echo
	deps  Deps
	opts  Options
	pages map[string]string // route pattern -> guarded page path
}

func New(deps Deps, opts Options) (*Server, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("session store is required")
	case deps.Client == nil:
		return nil, errors.New("crud client is required")
	case deps.Resolver == nil:
		return nil, errors.New("route resolver is required")
	}
	if deps.Guard == nil {
		deps.Guard = access.NewGuard()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 8 * time.Hour
	}

	s := &Server{echo: echo.New(), deps: deps, opts: opts, pages: map[string]string{}}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: ids.New,
		RequestIDHandler: func(c echo.Context, rid string) {
			req := c.Request()
			c.SetRequest(req.WithContext(obs.ContextWithRequestID(req.Context(), rid)))
		},
	}))
	e.Use(RequestLogger())
	e.Use(s.guard)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"estado": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(obs.Handler()))
	e.GET(access.LoginPath, s.loginPage)
	e.POST(access.LoginPath, s.login)
	e.POST("/logout", s.logout)
	e.GET("/", s.home)
	e.GET(access.HomePath, s.home)
	e.GET("/auditoria", s.auditPage)

	paths := make([]string, 0, len(opts.Pages))
	for p := range opts.Pages {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		resource := strings.TrimSpace(opts.Pages[p])
		page := "/" + strings.Trim(p, "/")
		item := page + "/:keyField/:keyValue"
		s.pages[page] = page
		s.pages[item] = page
		e.GET(page, s.listPage(resource))
		e.POST(page, s.createRow(page, resource))
		e.GET(item, s.getRow(resource))
		e.PUT(item, s.updateRow(page, resource))
		e.DELETE(item, s.deleteRow(page, resource))
	}
	return s, nil
}

// Handler exposes the echo instance as an http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Echo is used by the binary to start and stop the server.
func (s *Server) Echo() *echo.Echo { return s.echo }
