// Package crud is the HTTP client for the generic table API. Every response arrives in the
// {estado, mensaje, datos} envelope; non-2xx responses become *Error values.
package crud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sigep.org/internal/audit"
	"sigep.org/internal/auth"
)

const procedurePath = "/api/procedures/execute"

// TokenSource supplies the bearer token for an outgoing call.
type TokenSource func(ctx context.Context) (string, bool)

// Client issues calls against /api/{resource}.
type Client struct {
	base   *url.URL
	http   *http.Client
	tokens TokenSource
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTokenSource overrides where the bearer token comes from. The default reads the token
// attached with auth.ContextWithToken.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		if ts != nil {
			c.tokens = ts
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api base url %q must be absolute", baseURL)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: 15 * time.Second},
		tokens: auth.TokenFromContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Filter is an equality condition sent as a query parameter on list calls.
type Filter struct {
	Field string
	Value string
}

type envelope[T any] struct {
	Estado  int    `json:"estado"`
	Mensaje string `json:"mensaje,omitempty"`
	Datos   *T     `json:"datos"`
}

// GetAll lists a resource. A missing envelope or missing data yields an empty, non-nil slice.
func GetAll[T any](ctx context.Context, c *Client, resource string, filters ...Filter) ([]T, error) {
	q := url.Values{}
	for _, f := range filters {
		q.Set(f.Field, f.Value)
	}
	datos, err := do[[]T](ctx, c, http.MethodGet, resourcePath(resource), q, nil)
	if err != nil {
		return nil, err
	}
	var out []T
	if datos != nil {
		out = *datos
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// GetByKey fetches one row. A 404 surfaces as ErrNotFound; a 2xx without data returns nil.
func GetByKey[T any](ctx context.Context, c *Client, resource, keyField, keyValue string) (*T, error) {
	return do[T](ctx, c, http.MethodGet, keyPath(resource, keyField, keyValue), nil, nil)
}

// Create posts a new row. Fields named in encryptFields are hashed by the server.
func Create[T any](ctx context.Context, c *Client, resource string, entity T, encryptFields ...string) (*T, error) {
	return do[T](ctx, c, http.MethodPost, resourcePath(resource), encryptQuery(encryptFields), entity)
}

// Update replaces the row identified by keyField=keyValue.
func Update[T any](ctx context.Context, c *Client, resource, keyField, keyValue string, entity T, encryptFields ...string) (*T, error) {
	return do[T](ctx, c, http.MethodPut, keyPath(resource, keyField, keyValue), encryptQuery(encryptFields), entity)
}

// Delete removes the row identified by keyField=keyValue. A row that is already gone yields ErrNotFound.
func Delete(ctx context.Context, c *Client, resource, keyField, keyValue string) error {
	_, err := do[json.RawMessage](ctx, c, http.MethodDelete, keyPath(resource, keyField, keyValue), nil, nil)
	return err
}

// ExecuteStoredProcedure runs a named procedure; params are flattened next to procedureName.
func ExecuteStoredProcedure[T any](ctx context.Context, c *Client, name string, params map[string]any, encryptFields ...string) (T, error) {
	var zero T
	if strings.TrimSpace(name) == "" {
		return zero, &Error{Kind: KindBadRequest, Status: http.StatusBadRequest, Detail: "procedure name is required"}
	}
	body := make(map[string]any, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	body["procedureName"] = name
	datos, err := do[T](ctx, c, http.MethodPost, procedurePath, encryptQuery(encryptFields), body)
	if err != nil || datos == nil {
		return zero, err
	}
	return *datos, nil
}

// Login exchanges credentials for a token. It does not attach any bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	ctx = context.WithValue(ctx, skipTokenKey{}, true)
	datos, err := do[auth.Session](ctx, c, http.MethodPost, "/api/auth/login", nil, map[string]string{
		"email": email,
		"clave": password,
	})
	if err != nil {
		return auth.Session{}, err
	}
	if datos == nil || datos.Token == "" {
		return auth.Session{}, &Error{Kind: KindUnexpected, Status: http.StatusOK, Detail: "login response carried no token"}
	}
	return *datos, nil
}

// AuditFilter narrows audit queries.
type AuditFilter struct {
	Table string
	From  time.Time
	To    time.Time
}

// Audit lists audit records newest-first.
func (c *Client) Audit(ctx context.Context, f AuditFilter) ([]audit.Record, error) {
	q := url.Values{}
	if f.Table != "" {
		q.Set("tabla", f.Table)
	}
	if !f.From.IsZero() {
		q.Set("desde", f.From.UTC().Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		q.Set("hasta", f.To.UTC().Format(time.RFC3339))
	}
	datos, err := do[[]audit.Record](ctx, c, http.MethodGet, "/api/auditoria", q, nil)
	if err != nil {
		return nil, err
	}
	if datos == nil || *datos == nil {
		return []audit.Record{}, nil
	}
	return *datos, nil
}

type skipTokenKey struct{}

func do[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any) (*T, error) {
	target := c.base.String() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if skip, _ := ctx.Value(skipTokenKey{}).(bool); !skip {
		if token, ok := c.tokens(ctx); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errorFromResponse(resp.StatusCode, raw)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var env envelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &Error{Kind: KindUnexpected, Status: resp.StatusCode, Detail: "malformed response envelope"}
	}
	return env.Datos, nil
}

func resourcePath(resource string) string {
	return "/api/" + url.PathEscape(strings.Trim(resource, "/"))
}

// keyPath escapes each segment so key values containing '/' or '?' stay in one segment.
func keyPath(resource, keyField, keyValue string) string {
	return resourcePath(resource) + "/" + url.PathEscape(keyField) + "/" + url.PathEscape(keyValue)
}

func encryptQuery(fields []string) url.Values {
	var clean []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			clean = append(clean, f)
		}
	}
	if len(clean) == 0 {
		return nil
	}
	return url.Values{"encryptFields": {strings.Join(clean, ",")}}
}

// IsNotFound is a convenience for callers treating absence as "no data".
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
