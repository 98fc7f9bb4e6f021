package httpapi

import (
	"net/http"
	"strings"
	"time"

	"certledger.org/internal/auth"
)

type tokenRequest struct {
	Account string `json:"account"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	Account   string    `json:"account"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleAuthToken exchanges the static API key for a short-lived bearer
// token bound to an account.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok || caller.Method != auth.MethodAPIKey {
		writeError(w, r, http.StatusForbidden, "token issuance requires the api key")
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	account := strings.TrimSpace(req.Account)
	if account == "" {
		writeError(w, r, http.StatusBadRequest, "account is required")
		return
	}
	if err := auth.ValidateAccountID(account); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	token, expiresAt, err := auth.GenerateToken(account, a.cfg.TokenTTL)
	if err != nil {
		a.log.Error().Err(err).Msg("token generation failed")
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	a.audit(r.Context(), "auth.token.issued", map[string]any{
		"account":    account,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		Account:   account,
		ExpiresAt: expiresAt,
	})
}
