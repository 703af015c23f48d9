package httpapi

import (
	"net/http"
	"strings"
	"time"

	"authgrid.org/internal/audit"
	"authgrid.org/internal/auth"
)

type createTokenRequest struct {
	Name       string `json:"name"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// createTokenResponse carries the secret exactly once. Subsequent listings
// only expose the projection.
type createTokenResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	auth.AppTokenView
	Secret string `json:"secret"`
}

type validateTokenRequest struct {
	Secret string `json:"secret"`
}

func (a *API) handleServiceTokens(w http.ResponseWriter, r *http.Request, serviceID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermTokenRead) {
			return
		}
		tokens, err := a.appTokens.List(r.Context(), serviceID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
	case http.MethodPost:
		if !a.ensurePermissions(w, r, auth.PermTokenWrite) {
			return
		}
		var req createTokenRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.TTLSeconds < 0 {
			writeError(w, r, http.StatusBadRequest, "ttl_seconds must not be negative")
			return
		}
		ttl := time.Duration(req.TTLSeconds) * time.Second
		tok, err := a.appTokens.Create(r.Context(), serviceID, req.Name, ttl)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.Event(r.Context(), "token.created",
			"token_id", tok.ID, "service_id", serviceID, "name", tok.Name)
		writeJSON(w, http.StatusCreated, createTokenResponse{
			Success:      true,
			Message:      "token created, store the secret now",
			AppTokenView: tok.View(serviceID),
			Secret:       tok.Secret,
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleTokenValidate lets downstream services check a machine credential.
// It is deliberately public: the secret itself is the proof.
func (a *API) handleTokenValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req validateTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Secret == "" {
		writeError(w, r, http.StatusBadRequest, "secret is required")
		return
	}
	tok, svc, err := a.appTokens.Validate(r.Context(), req.Secret)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, "token valid", map[string]any{
		"token":   tok.View(svc.PublicID),
		"service": svc.View(),
	})
}

func (a *API) handleTokenResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/tokens/"), "/")
	if path == "" || path == "validate" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	tokenID := parts[0]
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		if !a.ensurePermissions(w, r, auth.PermTokenDelete) {
			return
		}
		if err := a.appTokens.Delete(r.Context(), tokenID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.Event(r.Context(), "token.deleted", "token_id", tokenID)
		writeResult(w, http.StatusOK, "token deleted", nil)
	case len(parts) == 2 && parts[1] == "revoke":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if !a.ensurePermissions(w, r, auth.PermTokenWrite) {
			return
		}
		if err := a.appTokens.Revoke(r.Context(), tokenID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.Event(r.Context(), "token.revoked", "token_id", tokenID)
		writeResult(w, http.StatusOK, "token revoked", nil)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}
