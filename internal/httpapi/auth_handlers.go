package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"sigep.org/internal/obs"
)

type loginRequest struct {
	Email string `json:"email"`
	Clave string `json:"clave"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Clave == "" {
		writeError(w, r, http.StatusBadRequest, "email and clave are required")
		return
	}
	session, err := a.deps.Auth.Login(r.Context(), email, req.Clave)
	if err != nil {
		obs.WithRequest(r.Context()).Info("login rejected", zap.String("email", email), zap.Error(err))
		handleError(w, r, err)
		return
	}
	obs.WithRequest(r.Context()).Info("login succeeded",
		zap.String("email", session.Email),
		zap.Strings("roles", session.Roles),
	)
	writeData(w, http.StatusOK, "login ok", session)
}
