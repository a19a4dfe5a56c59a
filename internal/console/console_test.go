package console

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigep.org/internal/access"
	"sigep.org/internal/crud"
	"sigep.org/internal/session"
)

const testToken = "tok-ana"

type fakeAPI struct {
	mu          sync.Mutex
	proyectoErr int
	auths       []string
	lastQuery   url.Values
	deleted     []string
	updated     map[string]any
}

func (f *fakeAPI) handler() http.Handler {
	reply := func(w http.ResponseWriter, status int, datos any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"estado": status, "mensaje": http.StatusText(status), "datos": datos})
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "ana@example.com" || body["clave"] != "secreta" {
			reply(w, http.StatusUnauthorized, nil)
			return
		}
		reply(w, http.StatusOK, map[string]any{
			"token":    testToken,
			"email":    "ana@example.com",
			"roles":    []string{"Vendedor"},
			"expiraEn": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("GET /api/usuario_rol", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, []map[string]any{{"email": "ana@example.com", "rol_id": 2}})
	})
	mux.HandleFunc("GET /api/rol", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, []map[string]any{{"id": 1, "nombre": "Administrador"}, {"id": 2, "nombre": "Vendedor"}})
	})
	mux.HandleFunc("GET /api/ruta_rol", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, []map[string]any{
			{"ruta": "/proyectos", "rol": "Vendedor"},
			{"ruta": "/auditoria", "rol": "Vendedor"},
			{"ruta": "/usuarios", "rol": "Administrador"},
		})
	})
	mux.HandleFunc("GET /api/proyecto", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auths = append(f.auths, r.Header.Get("Authorization"))
		f.lastQuery = r.URL.Query()
		status := f.proyectoErr
		f.mu.Unlock()
		if status != 0 {
			reply(w, status, nil)
			return
		}
		reply(w, http.StatusOK, []map[string]any{{"id": 1, "nombre": "Puente"}})
	})
	mux.HandleFunc("DELETE /api/proyecto/{field}/{value}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deleted = append(f.deleted, r.PathValue("field")+"="+r.PathValue("value"))
		f.mu.Unlock()
		reply(w, http.StatusOK, nil)
	})
	mux.HandleFunc("PUT /api/proyecto/{field}/{value}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.updated = body
		f.mu.Unlock()
		body[r.PathValue("field")] = r.PathValue("value")
		reply(w, http.StatusOK, body)
	})
	mux.HandleFunc("GET /api/auditoria", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastQuery = r.URL.Query()
		f.mu.Unlock()
		reply(w, http.StatusOK, []map[string]any{{"id": 7, "tabla": "proyecto", "accion": "CREATE"}})
	})
	return mux
}

func (f *fakeAPI) failWith(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proyectoErr = status
}

func (f *fakeAPI) snapshot() (url.Values, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery, append([]string(nil), f.deleted...)
}

type harness struct {
	srv      *Server
	api      *fakeAPI
	sessions *session.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	api := &fakeAPI{}
	upstream := httptest.NewServer(api.handler())
	t.Cleanup(upstream.Close)

	client, err := crud.New(upstream.URL)
	require.NoError(t, err)
	sessions := session.NewMemoryStore()
	srv, err := New(Deps{
		Sessions: sessions,
		Client:   client,
		Resolver: access.NewResolver(access.NewCRUDSource(client)),
	}, Options{
		Pages:      map[string]string{"/proyectos": "proyecto", "/usuarios": "usuario"},
		SessionTTL: time.Hour,
	})
	require.NoError(t, err)
	return &harness{srv: srv, api: api, sessions: sessions}
}

func (h *harness) do(t *testing.T, method, target string, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) login(t *testing.T) *http.Cookie {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/login", `{"email":"ana@example.com","clave":"secreta"}`, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(t, "/home", rec.Header().Get("Location"))
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			assert.True(t, c.HttpOnly)
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestLoginStoresResolvedGrants(t *testing.T) {
	h := newHarness(t)
	cookie := h.login(t)

	state, ok, err := h.sessions.Load(context.Background(), cookie.Value)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testToken, state.Token)
	assert.Equal(t, "ana@example.com", state.Email)
	assert.ElementsMatch(t, []session.RouteRole{
		{Route: "/auditoria", Role: "Vendedor"},
		{Route: "/proyectos", Role: "Vendedor"},
	}, state.RouteRoles)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/login", `{"email":"ana@example.com","clave":"mala"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	rec = h.do(t, http.MethodPost, "/login", `{"email":"","clave":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGuardRedirects(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/proyectos", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = h.do(t, http.MethodGet, "/login", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	cookie := h.login(t)
	rec = h.do(t, http.MethodGet, "/usuarios", "", cookie)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/home", rec.Header().Get("Location"))

	rec = h.do(t, http.MethodGet, "/home", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var home struct {
		Email string   `json:"email"`
		Rutas []string `json:"rutas"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &home))
	assert.Equal(t, "ana@example.com", home.Email)
	assert.Equal(t, []string{"/auditoria", "/proyectos"}, home.Rutas)
}

func TestGrantedPageListsRowsWithToken(t *testing.T) {
	h := newHarness(t)
	cookie := h.login(t)

	rec := h.do(t, http.MethodGet, "/proyectos?nombre=Puente", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page struct {
		Recurso string           `json:"recurso"`
		Datos   []map[string]any `json:"datos"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, "proyecto", page.Recurso)
	require.Len(t, page.Datos, 1)
	assert.Equal(t, "Puente", page.Datos[0]["nombre"])

	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	assert.Equal(t, []string{"Bearer " + testToken}, h.api.auths)
	assert.Equal(t, "Puente", h.api.lastQuery.Get("nombre"))
}

func TestItemRoutesAreGuardedByTheirPage(t *testing.T) {
	h := newHarness(t)
	cookie := h.login(t)

	rec := h.do(t, http.MethodDelete, "/proyectos/id/4", "", cookie)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, deleted := h.api.snapshot()
	assert.Equal(t, []string{"id=4"}, deleted)

	rec = h.do(t, http.MethodDelete, "/usuarios/email/x@example.com", "", cookie)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/home", rec.Header().Get("Location"))
}

func TestUpdateSendsOnlyTheBody(t *testing.T) {
	h := newHarness(t)
	cookie := h.login(t)

	rec := h.do(t, http.MethodPut, "/proyectos/id/4", `{"nombre":"Puente norte"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	assert.Equal(t, map[string]any{"nombre": "Puente norte"}, h.api.updated)
}

func TestExpiredTokenEndsSession(t *testing.T) {
	h := newHarness(t)
	cookie := h.login(t)
	h.api.failWith(http.StatusUnauthorized)

	rec := h.do(t, http.MethodGet, "/proyectos", "", cookie)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	_, ok, err := h.sessions.Load(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAPIErrorMapping(t *testing.T) {
	cases := []struct {
		status   int
		code     int
		location string
	}{
		{http.StatusForbidden, http.StatusFound, "/home"},
		{http.StatusNotFound, http.StatusOK, ""},
		{http.StatusInternalServerError, http.StatusBadGateway, ""},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			h := newHarness(t)
			cookie := h.login(t)
			h.api.failWith(tc.status)

			rec := h.do(t, http.MethodGet, "/proyectos", "", cookie)
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.location, rec.Header().Get("Location"))
			if tc.status == http.StatusNotFound {
				assert.JSONEq(t, `[]`, extractDatos(t, rec))
			}
		})
	}
}

func TestAuditPagePassesFilters(t *testing.T) {
	h := newHarness(t)
	cookie := h.login(t)

	rec := h.do(t, http.MethodGet, "/auditoria?tabla=proyecto&desde=2024-01-01&hasta=2024-01-31", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	q, _ := h.api.snapshot()
	assert.Equal(t, "proyecto", q.Get("tabla"))
	assert.Equal(t, "2024-01-01T00:00:00Z", q.Get("desde"))
	assert.Equal(t, "2024-01-31T23:59:59Z", q.Get("hasta"))

	rec = h.do(t, http.MethodGet, "/auditoria?desde=ayer", "", cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid date bound")
}

func TestLogoutClearsSession(t *testing.T) {
	h := newHarness(t)
	cookie := h.login(t)

	rec := h.do(t, http.MethodPost, "/logout", "", cookie)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	_, ok, err := h.sessions.Load(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.False(t, ok)

	rec = h.do(t, http.MethodGet, "/home", "", cookie)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func extractDatos(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Datos json.RawMessage `json:"datos"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return string(body.Datos)
}
