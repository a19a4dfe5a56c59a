// Package httpapi is the REST transport: generic table CRUD, login, dynamic queries,
// procedures and the audit trail, all answered in the {estado, mensaje, datos} envelope.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"sigep.org/internal/audit"
	"sigep.org/internal/auth"
	"sigep.org/internal/obs"
	"sigep.org/internal/query"
	"sigep.org/internal/store/pg"
)

// Tables is the generic row store behind /api/{resource}.
type Tables interface {
	List(ctx context.Context, table string, filters map[string]string) ([]pg.Row, error)
	Get(ctx context.Context, table, keyField, keyValue string) (pg.Row, error)
	Insert(ctx context.Context, table string, values map[string]any) (pg.Row, error)
	Update(ctx context.Context, table, keyField, keyValue string, values map[string]any) (pg.Row, pg.Row, error)
	Delete(ctx context.Context, table, keyField, keyValue string) (pg.Row, error)
}

// Pinger backs /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Tables Tables
	Auth   *auth.Service
	Query  *query.Service
	Audit  *audit.Recorder
	Ready  Pinger
}

type Options struct {
	Resources    []string
	AdminRole    string
	RateBurst    int
	RatePerSec   int
	MaxBodyBytes int64
	Version      string
	// WriteRoles lists, per resource, the roles besides the admin role that may create,
	// replace and delete rows. Resources missing here are admin-only for writes.
	WriteRoles map[string][]string
}

// rbacTables hold the authorization matrix; only admins may write them.
var rbacTables = map[string]bool{
	"usuario": true, "rol": true, "usuario_rol": true, "ruta": true, "ruta_rol": true,
}

// redacted columns never leave the API, not even in audit snapshots.
var redacted = map[string][]string{
	"usuario": {"clave"},
}

type API struct {
	mux       *http.ServeMux
	deps      Deps
	resources  map[string]bool
	writeRoles map[string][]string
	adminRole  string
	version   string

	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
}

func New(deps Deps, opts Options) (*API, error) {
	if deps.Tables == nil {
		return nil, errors.New("table store is required")
	}
	if deps.Auth == nil {
		return nil, errors.New("auth service is required")
	}
	a := &API{
		mux:          http.NewServeMux(),
		deps:         deps,
		resources:    make(map[string]bool, len(opts.Resources)),
		writeRoles:   make(map[string][]string, len(opts.WriteRoles)),
		adminRole:    opts.AdminRole,
		version:      opts.Version,
		rateBurst:    opts.RateBurst,
		ratePerSec:   opts.RatePerSec,
		maxBodyBytes: opts.MaxBodyBytes,
	}
	for _, r := range opts.Resources {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			a.resources[r] = true
		}
	}
	for table, roles := range opts.WriteRoles {
		table = strings.ToLower(strings.TrimSpace(table))
		if rbacTables[table] {
			continue
		}
		for _, role := range roles {
			if role = strings.TrimSpace(role); role != "" {
				a.writeRoles[table] = append(a.writeRoles[table], role)
			}
		}
	}
	if a.adminRole == "" {
		a.adminRole = "Administrador"
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 50
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 25
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}

	a.mux.HandleFunc("/healthz", a.healthz)
	a.mux.HandleFunc("/readyz", a.ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/api/auth/login", a.handleLogin)
	a.mux.HandleFunc("/api/query", a.handleQuery)
	a.mux.HandleFunc("/api/procedures/execute", a.handleProcedure)
	a.mux.HandleFunc("/api/auditoria", a.handleAudit)
	a.mux.HandleFunc("/api/auditoria/stream", a.handleAuditStream)
	a.mux.HandleFunc("/api/{resource}", a.handleCollection)
	a.mux.HandleFunc("/api/{resource}/{keyField}/{keyValue}", a.handleItem)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	return a, nil
}

// Handler wraps the mux in the middleware chain, outermost first.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = obs.Instrument(h)
	h = Logging(h)
	return RequestID(h)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, "ok", map[string]any{
		"service": "sigep-api",
		"version": a.version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if a.deps.Ready != nil {
		if err := a.deps.Ready.Ping(r.Context()); err != nil {
			obs.WithRequest(r.Context()).Warn("readiness check failed")
			writeError(w, r, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeData(w, http.StatusOK, "ready", nil)
}
