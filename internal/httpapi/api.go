// Package httpapi exposes the identity core over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"authcore.org/internal/authn"
	"authcore.org/internal/oauth"
	"authcore.org/internal/obs"
	"authcore.org/internal/session"
)

// ReadyProbe reports readiness, pinging the database when one is attached.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options carries the wiring for the HTTP layer.
type Options struct {
	Authn      *authn.Service
	Sessions   *session.Service
	OAuth      *oauth.Coordinator
	ReadyProbe ReadyProbe
	Version    string

	RateLimitBurst     int
	RateLimitPerSecond int
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	authn    *authn.Service
	sessions *session.Service
	oauth    *oauth.Coordinator

	readyProbe ReadyProbe
	version    string

	rateBurst     int
	ratePerSecond int
}

func New(opts Options) *API {
	a := &API{
		mux:           http.NewServeMux(),
		authn:         opts.Authn,
		sessions:      opts.Sessions,
		oauth:         opts.OAuth,
		readyProbe:    opts.ReadyProbe,
		version:       opts.Version,
		rateBurst:     opts.RateLimitBurst,
		ratePerSecond: opts.RateLimitPerSecond,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.requireAuth(a.handleLogout))
	a.mux.HandleFunc("/v1/auth/verify-email", a.handleVerifyEmail)
	a.mux.HandleFunc("/v1/auth/password", a.requireAuth(a.handleChangePassword))
	a.mux.HandleFunc("/v1/auth/password-reset/request", a.handleResetRequest)
	a.mux.HandleFunc("/v1/auth/password-reset/complete", a.handleResetComplete)

	a.mux.HandleFunc("/v1/sessions", a.requireAuth(a.handleSessions))
	a.mux.HandleFunc("/v1/sessions/", a.requireAuth(a.handleSessionByID))

	a.mux.HandleFunc("/v1/oauth/", a.handleOAuth)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	if a.rateBurst > 0 && a.ratePerSecond > 0 {
		h = RateLimit(h, a.rateBurst, a.ratePerSecond)
	}
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "authcore-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	providers := []string{}
	if a.oauth != nil {
		providers = a.oauth.Providers()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      "authcore-api",
		"time":      time.Now().UTC().Format(time.RFC3339),
		"version":   a.version,
		"providers": providers,
	})
}

// handleSessions serves the collection endpoint; per-session operations live
// under /v1/sessions/{id}.
func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.handleSessionList(w, r)
	case http.MethodDelete:
		a.handleSessionRevokeAll(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	a.handleSessionRevoke(w, r, id)
}

// handleOAuth routes /v1/oauth/{provider}/{initiate|callback}.
func (a *API) handleOAuth(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/oauth/")
	provider, action, ok := strings.Cut(rest, "/")
	if !ok || provider == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch action {
	case "initiate":
		a.handleOAuthInitiate(w, r, provider)
	case "callback":
		a.handleOAuthCallback(w, r, provider)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}
