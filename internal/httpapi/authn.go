package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"authcore.org/internal/audit"
	"authcore.org/internal/session"
	"authcore.org/internal/token"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

const (
	claimsKey ctxKey = iota + 100
	rawTokenKey
)

// requireAuth verifies the bearer token, checks the blacklist and puts the
// verified claims on the context.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.sessions.VerifyAccess(r.Context(), raw)
		if err != nil {
			switch {
			case errors.Is(err, token.ErrExpired):
				writeError(w, r, http.StatusUnauthorized, "token expired")
			case errors.Is(err, session.ErrRevoked):
				writeError(w, r, http.StatusUnauthorized, "token revoked")
			case errors.Is(err, token.ErrMalformed),
				errors.Is(err, token.ErrSignatureInvalid),
				errors.Is(err, token.ErrWrongKind):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		ctx = context.WithValue(ctx, rawTokenKey, raw)
		next(w, r.WithContext(ctx))
	}
}

func claimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*token.Claims)
	return claims, ok
}

func rawTokenFromContext(ctx context.Context) string {
	raw, _ := ctx.Value(rawTokenKey).(string)
	return raw
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	raw := strings.TrimSpace(header[len(bearer):])
	if raw == "" {
		return "", errors.New("missing bearer token")
	}
	return raw, nil
}

// requestMeta collects the request metadata attached to audit events and
// session records.
func requestMeta(r *http.Request) audit.Meta {
	return audit.Meta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Device:    strings.TrimSpace(r.Header.Get("X-Device-Name")),
	}
}
