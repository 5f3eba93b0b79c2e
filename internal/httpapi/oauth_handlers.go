package httpapi

import (
	"errors"
	"net/http"

	"authcore.org/internal/identity"
	"authcore.org/internal/oauth"
)

func (a *API) handleOAuthInitiate(w http.ResponseWriter, r *http.Request, provider string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.oauth == nil {
		writeError(w, r, http.StatusNotFound, "federated login is not configured")
		return
	}
	redirect, err := a.oauth.Initiate(r.Context(), provider)
	if err != nil {
		if errors.Is(err, oauth.ErrUnknownProvider) {
			writeError(w, r, http.StatusNotFound, "unknown provider")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "handshake initiation failed")
		return
	}
	http.Redirect(w, r, redirect, http.StatusTemporaryRedirect)
}

func (a *API) handleOAuthCallback(w http.ResponseWriter, r *http.Request, provider string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.oauth == nil {
		writeError(w, r, http.StatusNotFound, "federated login is not configured")
		return
	}
	q := r.URL.Query()
	state, code := q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		writeError(w, r, http.StatusBadRequest, "state and code are required")
		return
	}

	grant, id, err := a.oauth.Complete(r.Context(), provider, state, code, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, oauth.ErrUnknownProvider):
			writeError(w, r, http.StatusNotFound, "unknown provider")
		case errors.Is(err, oauth.ErrInvalidState),
			errors.Is(err, oauth.ErrStateExpired),
			errors.Is(err, oauth.ErrProviderMismatch):
			writeError(w, r, http.StatusBadRequest, "invalid or expired state")
		case errors.Is(err, oauth.ErrNoEmail):
			writeError(w, r, http.StatusBadGateway, "provider returned no email address")
		case errors.Is(err, identity.ErrProviderLinked):
			writeError(w, r, http.StatusConflict, "account is linked to another provider")
		default:
			writeError(w, r, http.StatusBadGateway, "federated login failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"grant": grant,
		"user":  toUserResponse(id),
	})
}
