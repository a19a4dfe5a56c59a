package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"sigep.org/internal/audit"
	"sigep.org/internal/obs"
)

var streamHeartbeat = 15 * time.Second

// handleAuditStream pushes newly stored audit records as Server-Sent Events. The optional
// tabla parameter narrows the feed to one table.
func (a *API) handleAuditStream(w http.ResponseWriter, r *http.Request) {
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

	ch := a.deps.Audit.Subscribe(r.Context(), audit.Filter{Table: strings.TrimSpace(r.URL.Query().Get("tabla"))})
	rc := http.NewResponseController(w)
	// the server write timeout would otherwise cut long-lived streams
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(": stream started\n\n")); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		obs.WithRequest(r.Context()).Warn("audit stream unsupported", zap.Error(err))
		return
	}

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: " + string(rec.Action) + "\ndata: " + string(payload) + "\n\n")); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
