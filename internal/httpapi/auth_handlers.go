package httpapi

import (
	"errors"
	"net/http"

	"authgrid.org/internal/audit"
	"authgrid.org/internal/auth"
	"authgrid.org/internal/token"
)

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	User    auth.UserView `json:"user"`
	token.Pair
}

type refreshResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	token.Pair
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type logoutRequest struct {
	SessionID string `json:"session_id"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.accounts.Register(r.Context(), req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.Event(r.Context(), "auth.user.registered", "user_id", user.PublicID)
	writeResult(w, http.StatusCreated, "user registered, verification email sent", map[string]any{
		"user": user.View(),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, pair, err := a.accounts.Login(r.Context(), req.Email, req.Password, r.UserAgent())
	if err != nil {
		if errors.Is(err, auth.ErrEmailNotVerified) {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"success":            false,
				"message":            "email address has not been verified",
				"needs_verification": true,
			})
			return
		}
		handleDomainError(w, r, err)
		return
	}
	_ = audit.Event(r.Context(), "auth.user.login",
		"user_id", user.PublicID, "session_id", pair.SessionID)
	writeJSON(w, http.StatusOK, loginResponse{
		Success: true,
		Message: "login successful",
		User:    user.View(),
		Pair:    pair,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}
	pair, err := a.accounts.Refresh(r.Context(), req.RefreshToken, r.UserAgent())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.Event(r.Context(), "auth.token.refreshed", "session_id", pair.SessionID)
	writeJSON(w, http.StatusOK, refreshResponse{
		Success: true,
		Message: "token pair refreshed",
		Pair:    pair,
	})
}

// handleLogout terminates one session. With no body, the session behind the
// presented access token ends; an explicit session_id may name any of the
// caller's own sessions.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	sessionID, _ := auth.JTIFromContext(r.Context())
	if r.ContentLength > 0 {
		var req logoutRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.SessionID != "" {
			sessionID = req.SessionID
		}
	}
	if sessionID == "" {
		writeError(w, r, http.StatusBadRequest, "session_id is required")
		return
	}
	if err := a.accounts.Logout(r.Context(), principal.User.PublicID, sessionID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.Event(r.Context(), "auth.user.logout", "session_id", sessionID)
	writeResult(w, http.StatusOK, "session terminated", nil)
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.accounts.LogoutAll(r.Context(), principal.User.PublicID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.Event(r.Context(), "auth.user.logout_all")
	writeResult(w, http.StatusOK, "all sessions terminated", nil)
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.accounts.VerifyEmail(r.Context(), req.Token); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.Event(r.Context(), "auth.email.verified")
	writeResult(w, http.StatusOK, "email verified", nil)
}

// handleForgotPassword answers success for every well-formed request so the
// endpoint cannot be used to probe which addresses are registered.
func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.accounts.RequestPasswordReset(r.Context(), req.Email); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.Event(r.Context(), "auth.password.reset_requested")
	writeResult(w, http.StatusAccepted, "if the address is registered, a reset link has been sent", nil)
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.accounts.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.Event(r.Context(), "auth.password.reset")
	writeResult(w, http.StatusOK, "password reset", nil)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.accounts.ChangePassword(r.Context(), principal.User.PublicID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.Event(r.Context(), "auth.password.changed")
	writeResult(w, http.StatusOK, "password changed", nil)
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	sessions, err := a.accounts.Sessions(r.Context(), principal.User.PublicID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	roles, err := a.rbac.RolesForUser(r.Context(), principal.User.PublicID, principal.ServiceID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  principal.User.View(),
		"roles": roles,
	})
}
