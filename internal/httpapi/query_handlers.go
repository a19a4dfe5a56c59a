package httpapi

import (
	"net/http"
	"strings"

	"sigep.org/internal/audit"
	"sigep.org/internal/auth"
)

type queryRequest struct {
	SQL    string         `json:"sql"`
	Params map[string]any `json:"params"`
	Limit  int            `json:"limit"`
	Schema string         `json:"schema"`
}

func (a *API) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	if a.deps.Query == nil {
		writeError(w, r, http.StatusServiceUnavailable, "query service unavailable")
		return
	}
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tbl, err := a.deps.Query.ExecuteParametrized(r.Context(), req.SQL, req.Params, req.Limit, req.Schema)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "ok", tbl)
}

func (a *API) handleProcedure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	if a.deps.Query == nil {
		writeError(w, r, http.StatusServiceUnavailable, "query service unavailable")
		return
	}
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name, _ := body["procedureName"].(string)
	if strings.TrimSpace(name) == "" {
		writeError(w, r, http.StatusBadRequest, "procedureName is required")
		return
	}
	delete(body, "procedureName")
	fields := auth.ParseFieldList(r.URL.Query().Get(encryptParam))
	tbl, err := a.deps.Query.ExecuteStoredProcedure(r.Context(), name, body, fields)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "ok", tbl.Rows)
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	if a.deps.Audit == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit unavailable")
		return
	}
	q := r.URL.Query()
	from, err := audit.ParseBound(q.Get("desde"), false)
	if err != nil {
		handleError(w, r, err)
		return
	}
	to, err := audit.ParseBound(q.Get("hasta"), true)
	if err != nil {
		handleError(w, r, err)
		return
	}
	records, err := a.deps.Audit.Query(r.Context(), audit.Filter{Table: strings.TrimSpace(q.Get("tabla")), From: from, To: to})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "ok", records)
}
