package httpapi

import (
	"errors"
	"net/http"

	"authcore.org/internal/session"
)

func (a *API) handleSessionList(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	list, err := a.sessions.List(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (a *API) handleSessionRevoke(w http.ResponseWriter, r *http.Request, sessionID string) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	err := a.sessions.Revoke(r.Context(), sessionID, claims.Subject, "revoked by user", requestMeta(r))
	if errors.Is(err, session.ErrNotOwner) && a.authn.Elevated(r.Context(), claims.Subject) {
		err = a.sessions.ForceRevoke(r.Context(), sessionID, claims.Subject, "revoked by administrator", requestMeta(r))
	}
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "session not found")
		case errors.Is(err, session.ErrNotOwner):
			writeError(w, r, http.StatusForbidden, "session belongs to another account")
		default:
			writeError(w, r, http.StatusInternalServerError, "session revocation failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

func (a *API) handleSessionRevokeAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	// Keep the caller's own session alive when it can be identified.
	except := r.URL.Query().Get("except")
	n, err := a.sessions.RevokeAll(r.Context(), claims.Subject, "revoked by user", except, requestMeta(r))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session revocation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked", "count": n})
}
