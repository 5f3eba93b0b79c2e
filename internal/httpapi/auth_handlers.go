package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"authcore.org/internal/authn"
	"authcore.org/internal/identity"
	"authcore.org/internal/session"
	"authcore.org/internal/token"
)

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(id *identity.Identity) userResponse {
	return userResponse{
		ID:        id.ID,
		Email:     id.Email,
		Username:  id.Username,
		FullName:  id.FullName,
		AvatarURL: id.AvatarURL,
		Role:      string(id.Role),
		Active:    id.Active,
		Verified:  id.Verified,
		CreatedAt: id.CreatedAt,
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	id, err := a.authn.Register(r.Context(), authn.RegisterInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		FullName: req.FullName,
	}, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, authn.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, identity.ErrEmailTaken):
			writeError(w, r, http.StatusConflict, "email is already registered")
		case errors.Is(err, identity.ErrUsernameTaken):
			writeError(w, r, http.StatusConflict, "username is already taken")
		default:
			writeError(w, r, http.StatusInternalServerError, "registration failed")
		}
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(id))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		Identifier string `json:"identifier"`
		Email      string `json:"email"`
		Username   string `json:"username"`
		Password   string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		identifier = strings.TrimSpace(req.Email)
	}
	if identifier == "" {
		identifier = strings.TrimSpace(req.Username)
	}

	grant, id, err := a.authn.Login(r.Context(), identifier, req.Password, requestMeta(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"grant": grant,
		"user":  toUserResponse(id),
	})
}

// writeAuthError maps verification failures to responses. Unknown accounts
// and wrong passwords produce the same answer so responses cannot be used to
// probe which accounts exist.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authn.ErrUserNotFound), errors.Is(err, authn.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, authn.ErrAccountLocked):
		writeError(w, r, http.StatusForbidden, "account is temporarily locked")
	case errors.Is(err, authn.ErrAccountInactive):
		writeError(w, r, http.StatusForbidden, "account is inactive")
	case errors.Is(err, authn.ErrEmailNotVerified):
		writeError(w, r, http.StatusForbidden, "email is not verified")
	default:
		writeError(w, r, http.StatusInternalServerError, "authentication failed")
	}
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	grant, err := a.sessions.Refresh(r.Context(), req.RefreshToken, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound),
			errors.Is(err, session.ErrRevoked),
			errors.Is(err, session.ErrExpired):
			writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
		default:
			writeError(w, r, http.StatusInternalServerError, "token refresh failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	// Body is optional: without a refresh token only the access token dies.
	_ = decodeJSON(w, r, &req)

	if raw := rawTokenFromContext(r.Context()); raw != "" {
		if err := a.sessions.BlacklistAccessToken(r.Context(), raw, "logout"); err != nil {
			writeError(w, r, http.StatusInternalServerError, "logout failed")
			return
		}
	}
	if strings.TrimSpace(req.RefreshToken) != "" {
		err := a.sessions.RevokeByRefresh(r.Context(), req.RefreshToken, claims.Subject, "logout", requestMeta(r))
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			if errors.Is(err, session.ErrNotOwner) {
				writeError(w, r, http.StatusForbidden, "session belongs to another account")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "logout failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var verifyToken string
	switch r.Method {
	case http.MethodGet:
		verifyToken = r.URL.Query().Get("token")
	case http.MethodPost:
		var req struct {
			Token string `json:"token"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		verifyToken = req.Token
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}
	if strings.TrimSpace(verifyToken) == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	id, err := a.authn.VerifyEmail(r.Context(), verifyToken, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			writeError(w, r, http.StatusBadRequest, "verification link expired")
		case errors.Is(err, token.ErrMalformed),
			errors.Is(err, token.ErrSignatureInvalid),
			errors.Is(err, token.ErrWrongKind),
			errors.Is(err, authn.ErrTokenUsed),
			errors.Is(err, identity.ErrNotFound):
			writeError(w, r, http.StatusBadRequest, "invalid verification link")
		default:
			writeError(w, r, http.StatusInternalServerError, "verification failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(id))
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	err := a.authn.ChangePassword(r.Context(), claims.Subject, req.CurrentPassword, req.NewPassword, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, authn.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, authn.ErrInvalidCredentials):
			writeError(w, r, http.StatusForbidden, "current password is incorrect")
		default:
			writeError(w, r, http.StatusInternalServerError, "password change failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

func (a *API) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}

	// Always accepted; the response never reveals whether the address is
	// registered.
	_ = a.authn.RequestPasswordReset(r.Context(), req.Email, requestMeta(r))
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "reset_requested"})
}

func (a *API) handleResetComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	presented := ""
	if raw, err := extractBearerToken(r.Header.Get(authHeader)); err == nil {
		presented = raw
	}
	err := a.authn.CompletePasswordReset(r.Context(), req.Token, req.NewPassword, presented, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, authn.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, token.ErrExpired):
			writeError(w, r, http.StatusBadRequest, "reset link expired")
		case errors.Is(err, token.ErrMalformed),
			errors.Is(err, token.ErrSignatureInvalid),
			errors.Is(err, token.ErrWrongKind),
			errors.Is(err, authn.ErrTokenUsed),
			errors.Is(err, identity.ErrNotFound):
			writeError(w, r, http.StatusBadRequest, "invalid reset link")
		default:
			writeError(w, r, http.StatusInternalServerError, "password reset failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_reset"})
}
