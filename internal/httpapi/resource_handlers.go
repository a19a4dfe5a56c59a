package httpapi

import (
	"context"
	"net/http"
	"strings"

	"sigep.org/internal/audit"
	"sigep.org/internal/auth"
	"sigep.org/internal/store/pg"
)

const encryptParam = "encryptFields"

// resource resolves {resource} against the allow-list, writing 404 when unknown.
func (a *API) resource(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := strings.ToLower(strings.TrimSpace(r.PathValue("resource")))
	if !a.resources[name] {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return "", false
	}
	return name, true
}

func (a *API) handleCollection(w http.ResponseWriter, r *http.Request) {
	table, ok := a.resource(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		filters := map[string]string{}
		for k, v := range r.URL.Query() {
			if k == encryptParam || len(v) == 0 {
				continue
			}
			filters[k] = v[0]
		}
		rows, err := a.deps.Tables.List(r.Context(), table, filters)
		if err != nil {
			handleError(w, r, err)
			return
		}
		if rows == nil {
			rows = []pg.Row{}
		}
		for i := range rows {
			rows[i] = redact(rows[i])
		}
		writeData(w, http.StatusOK, "ok", rows)
	case http.MethodPost:
		if !a.requireWriter(w, r, table) {
			return
		}
		values, ok := a.decodeValues(w, r)
		if !ok {
			return
		}
		row, err := a.deps.Tables.Insert(r.Context(), table, values)
		if err != nil {
			handleError(w, r, err)
			return
		}
		row = redact(row)
		// the row is committed; a client hanging up must not cancel its audit record
		if a.deps.Audit != nil {
			a.deps.Audit.RecordCreate(context.WithoutCancel(r.Context()), row, actor(r))
		}
		writeData(w, http.StatusCreated, "created", row)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleItem(w http.ResponseWriter, r *http.Request) {
	table, ok := a.resource(w, r)
	if !ok {
		return
	}
	keyField, keyValue := r.PathValue("keyField"), r.PathValue("keyValue")

	switch r.Method {
	case http.MethodGet:
		row, err := a.deps.Tables.Get(r.Context(), table, keyField, keyValue)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, "ok", redact(row))
	case http.MethodPut:
		if !a.requireWriter(w, r, table) {
			return
		}
		values, ok := a.decodeValues(w, r)
		if !ok {
			return
		}
		before, after, err := a.deps.Tables.Update(r.Context(), table, keyField, keyValue, values)
		if err != nil {
			handleError(w, r, err)
			return
		}
		after = redact(after)
		if a.deps.Audit != nil {
			a.deps.Audit.RecordUpdate(context.WithoutCancel(r.Context()), redact(before), after, actor(r))
		}
		writeData(w, http.StatusOK, "updated", after)
	case http.MethodDelete:
		if !a.requireWriter(w, r, table) {
			return
		}
		row, err := a.deps.Tables.Delete(r.Context(), table, keyField, keyValue)
		if err != nil {
			handleError(w, r, err)
			return
		}
		row = redact(row)
		if a.deps.Audit != nil {
			a.deps.Audit.RecordDelete(context.WithoutCancel(r.Context()), row, actor(r))
		}
		writeData(w, http.StatusOK, "deleted", row)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// decodeValues reads a JSON object body and hashes the fields named by ?encryptFields.
func (a *API) decodeValues(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var values map[string]any
	if err := decodeJSON(r, &values); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if len(values) == 0 {
		writeError(w, r, http.StatusBadRequest, "request body must be a non-empty object")
		return nil, false
	}
	if err := auth.EncryptFields(values, auth.ParseFieldList(r.URL.Query().Get(encryptParam))); err != nil {
		handleError(w, r, err)
		return nil, false
	}
	return values, true
}

func redact(row pg.Row) pg.Row {
	cols, ok := redacted[strings.ToLower(row.Table)]
	if !ok || row.Values == nil {
		return row
	}
	out := pg.Row{Table: row.Table, Values: make(map[string]any, len(row.Values))}
	for k, v := range row.Values {
		out.Values[k] = v
	}
	for _, c := range cols {
		for k := range out.Values {
			if strings.EqualFold(k, c) {
				delete(out.Values, k)
			}
		}
	}
	return out
}

func actor(r *http.Request) audit.Actor {
	user, _ := auth.UserIDFromContext(r.Context())
	return audit.Actor{UserID: user, IP: clientIP(r), UserAgent: r.UserAgent()}
}
