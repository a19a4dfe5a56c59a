package crud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigep.org/internal/auth"
)

type proyecto struct {
	ID     int64  `json:"id"`
	Nombre string `json:"nombre"`
}

type captured struct {
	method string
	path   string
	raw    string
	query  string
	auth   string
	body   map[string]any
}

func newServer(t *testing.T, status int, body string) (*Client, *captured) {
	t.Helper()
	seen := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.method = r.Method
		seen.path = r.URL.Path
		seen.raw = r.URL.EscapedPath()
		seen.query = r.URL.RawQuery
		seen.auth = r.Header.Get("Authorization")
		if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			if len(data) > 0 {
				_ = json.Unmarshal(data, &seen.body)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	c, err := New(srv.URL)
	require.NoError(t, err)
	return c, seen
}

func TestGetAllEmptyTable(t *testing.T) {
	c, seen := newServer(t, http.StatusOK, `{"estado":200,"mensaje":"ok","datos":[]}`)
	rows, err := GetAll[proyecto](context.Background(), c, "proyecto")
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
	assert.Equal(t, http.MethodGet, seen.method)
	assert.Equal(t, "/api/proyecto", seen.path)
}

func TestGetAllMissingEnvelopeYieldsEmptyList(t *testing.T) {
	for _, body := range []string{``, `{"estado":200}`, `{"estado":200,"datos":null}`} {
		c, _ := newServer(t, http.StatusOK, body)
		rows, err := GetAll[proyecto](context.Background(), c, "proyecto")
		require.NoError(t, err, body)
		assert.NotNil(t, rows, body)
		assert.Empty(t, rows, body)
	}
}

func TestGetAllSendsFiltersAndToken(t *testing.T) {
	c, seen := newServer(t, http.StatusOK, `{"estado":200,"datos":[{"id":1,"nombre":"Puente"}]}`)
	ctx := auth.ContextWithToken(context.Background(), "tok-123")
	rows, err := GetAll[proyecto](ctx, c, "usuario_rol", Filter{Field: "email", Value: "ana@example.com"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Puente", rows[0].Nombre)
	assert.Equal(t, "email=ana%40example.com", seen.query)
	assert.Equal(t, "Bearer tok-123", seen.auth)
}

func TestMissingTokenIsNotAnError(t *testing.T) {
	c, seen := newServer(t, http.StatusOK, `{"estado":200,"datos":[]}`)
	_, err := GetAll[proyecto](context.Background(), c, "proyecto")
	require.NoError(t, err)
	assert.Empty(t, seen.auth)
}

func TestGetByKeyEscapesSegments(t *testing.T) {
	c, seen := newServer(t, http.StatusOK, `{"estado":200,"datos":{"id":7,"nombre":"x"}}`)
	row, err := GetByKey[proyecto](context.Background(), c, "ruta", "ruta", "/clientes")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.EqualValues(t, 7, row.ID)
	assert.Equal(t, "/api/ruta/ruta/%2Fclientes", seen.raw)
}

func TestGetByKeyNotFound(t *testing.T) {
	c, _ := newServer(t, http.StatusNotFound, `{"estado":404,"mensaje":"registro no encontrado"}`)
	row, err := GetByKey[proyecto](context.Background(), c, "proyecto", "id", "9")
	assert.Nil(t, row)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsNotFound(err))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "registro no encontrado", apiErr.Detail)
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
		detail string
	}{
		{http.StatusBadRequest, `{"estado":400,"mensaje":"campo nombre requerido"}`, ErrBadRequest, "campo nombre requerido"},
		{http.StatusUnauthorized, `unauthorized`, ErrUnauthorized, "unauthorized"},
		{http.StatusForbidden, ``, ErrForbidden, ""},
		{http.StatusInternalServerError, `{"estado":500}`, ErrServerError, `{"estado":500}`},
		{http.StatusBadGateway, `upstream down`, ErrUnexpected, "upstream down"},
	}
	for _, tc := range cases {
		c, _ := newServer(t, tc.status, tc.body)
		err := Delete(context.Background(), c, "proyecto", "id", "1")
		require.Error(t, err)
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, tc.detail, apiErr.Detail)
		assert.Equal(t, tc.status, apiErr.Status)
	}
}

func TestCreateSendsEncryptMarker(t *testing.T) {
	c, seen := newServer(t, http.StatusCreated, `{"estado":201,"datos":{"email":"ana@example.com"}}`)
	type usuario struct {
		Email string `json:"email"`
		Clave string `json:"clave,omitempty"`
	}
	out, err := Create(context.Background(), c, "usuario", usuario{Email: "ana@example.com", Clave: "secreto"}, "clave")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, http.MethodPost, seen.method)
	assert.Equal(t, "encryptFields=clave", seen.query)
	assert.Equal(t, "secreto", seen.body["clave"], "hashing happens on the server")
}

func TestUpdateUsesPut(t *testing.T) {
	c, seen := newServer(t, http.StatusOK, `{"estado":200,"datos":{"id":3,"nombre":"nuevo"}}`)
	out, err := Update(context.Background(), c, "proyecto", "id", "3", proyecto{ID: 3, Nombre: "nuevo"})
	require.NoError(t, err)
	assert.Equal(t, "nuevo", out.Nombre)
	assert.Equal(t, http.MethodPut, seen.method)
	assert.Equal(t, "/api/proyecto/id/3", seen.path)
	assert.Empty(t, seen.query)
}

func TestExecuteStoredProcedureFlattensParams(t *testing.T) {
	c, seen := newServer(t, http.StatusOK, `{"estado":200,"datos":[{"total":3}]}`)
	out, err := ExecuteStoredProcedure[[]map[string]any](context.Background(), c, "crear_usuario",
		map[string]any{"email": "ana@example.com", "clave": "x"}, "clave")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "/api/procedures/execute", seen.path)
	assert.Equal(t, "crear_usuario", seen.body["procedureName"])
	assert.Equal(t, "ana@example.com", seen.body["email"])
	assert.Equal(t, "encryptFields=clave", seen.query)

	_, err = ExecuteStoredProcedure[any](context.Background(), c, " ", nil)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestLoginSkipsBearerToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	body, _ := json.Marshal(map[string]any{
		"estado": 200,
		"datos":  auth.Session{Token: "jwt", Email: "ana@example.com", Roles: []string{"Vendedor"}, ExpiresAt: exp},
	})
	c, seen := newServer(t, http.StatusOK, string(body))
	ctx := auth.ContextWithToken(context.Background(), "stale")
	sess, err := c.Login(ctx, "ana@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "jwt", sess.Token)
	assert.Equal(t, []string{"Vendedor"}, sess.Roles)
	assert.Empty(t, seen.auth)
	assert.Equal(t, "pw", seen.body["clave"])
}

func TestLoginWithoutTokenIsUnexpected(t *testing.T) {
	c, _ := newServer(t, http.StatusOK, `{"estado":200,"datos":{}}`)
	_, err := c.Login(context.Background(), "ana@example.com", "pw")
	assert.ErrorIs(t, err, ErrUnexpected)
}

func TestAuditQuery(t *testing.T) {
	c, seen := newServer(t, http.StatusOK, `{"estado":200,"datos":[{"id":2,"tabla":"proyecto","accion":"UPDATE"}]}`)
	records, err := c.Audit(context.Background(), AuditFilter{
		Table: "proyecto",
		From:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "proyecto", records[0].Table)
	assert.Equal(t, "/api/auditoria", seen.path)
	assert.Contains(t, seen.query, "tabla=proyecto")
	assert.Contains(t, seen.query, "desde=2025-01-01T00%3A00%3A00Z")
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New("localhost:8080")
	assert.Error(t, err)
	_, err = New("/api")
	assert.Error(t, err)
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindNotFound, Status: http.StatusNotFound}
	assert.Equal(t, "resource not found", err.Error())
	err = &Error{Kind: KindUnexpected, Status: http.StatusTeapot, Detail: "short and stout"}
	assert.Contains(t, err.Error(), "short and stout")
}

func TestErrorDetailKeepsWholeRunes(t *testing.T) {
	// 511 ASCII bytes followed by a two-byte rune straddling the limit.
	body := strings.Repeat("a", 511) + "ñ" + "tail"
	e := errorFromResponse(http.StatusInternalServerError, []byte(body))
	assert.Equal(t, strings.Repeat("a", 511), e.Detail)
	assert.True(t, utf8.ValidString(e.Detail))

	short := errorFromResponse(http.StatusBadRequest, []byte(`{"mensaje":"año inválido"}`))
	assert.Equal(t, "año inválido", short.Detail)
}
