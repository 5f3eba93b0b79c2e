package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"authcore.org/internal/audit"
	"authcore.org/internal/identity"
	"authcore.org/internal/lockout"
	"authcore.org/internal/obs"
	"authcore.org/internal/session"
)

const defaultStateTTL = 30 * time.Minute

// Coordinator drives the full handshake across providers, the state store
// and the identity core.
type Coordinator struct {
	providers map[string]Provider
	states    StateStore
	store     identity.Store
	guard     *lockout.Guard
	sessions  *session.Service
	recorder  *audit.Recorder

	baseURL  string
	stateTTL time.Duration
	now      func() time.Time
}

// CoordinatorOption configures Coordinator behavior.
type CoordinatorOption func(*Coordinator)

// WithStateTTL sets how long an issued state stays redeemable.
func WithStateTTL(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.stateTTL = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if fn != nil {
			c.now = fn
		}
	}
}

func NewCoordinator(states StateStore, store identity.Store, guard *lockout.Guard, sessions *session.Service, recorder *audit.Recorder, baseURL string, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		providers: make(map[string]Provider),
		states:    states,
		store:     store,
		guard:     guard,
		sessions:  sessions,
		recorder:  recorder,
		baseURL:   strings.TrimRight(baseURL, "/"),
		stateTTL:  defaultStateTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterProvider adds a provider to the coordinator.
func (c *Coordinator) RegisterProvider(p Provider) {
	c.providers[p.Name()] = p
}

// Providers lists the registered provider names.
func (c *Coordinator) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	return names
}

func (c *Coordinator) redirectURI(provider string) string {
	return c.baseURL + "/v1/oauth/" + provider + "/callback"
}

// Initiate opens a handshake: generates state and PKCE material, stores the
// pending handshake server-side and returns the authorization redirect URL.
func (c *Coordinator) Initiate(ctx context.Context, providerName string) (string, error) {
	provider, ok := c.providers[providerName]
	if !ok {
		return "", ErrUnknownProvider
	}
	state, err := NewStateToken()
	if err != nil {
		return "", err
	}
	verifier, challenge, err := GeneratePKCE()
	if err != nil {
		return "", err
	}
	redirectURI := c.redirectURI(providerName)
	err = c.states.Put(ctx, state, Handshake{
		Provider:     providerName,
		CodeVerifier: verifier,
		RedirectURI:  redirectURI,
		IssuedAt:     c.now(),
	}, c.stateTTL)
	if err != nil {
		return "", fmt.Errorf("oauth: store state: %w", err)
	}
	return provider.AuthorizationURL(state, challenge, redirectURI), nil
}

// Complete redeems the callback: consumes the state, exchanges the code and
// signs the account in, creating or linking it as needed.
func (c *Coordinator) Complete(ctx context.Context, providerName, state, code string, meta audit.Meta) (*session.Grant, *identity.Identity, error) {
	provider, ok := c.providers[providerName]
	if !ok {
		return nil, nil, ErrUnknownProvider
	}

	handshake, found, err := c.states.TakeOnce(ctx, state)
	if err != nil {
		return nil, nil, fmt.Errorf("oauth: take state: %w", err)
	}
	if !found {
		obs.OAuthHandshakes.WithLabelValues(providerName, "failure").Inc()
		c.recorder.Record(ctx, audit.Event{
			Type:        audit.UnauthorizedAccess,
			IP:          meta.IP,
			UserAgent:   meta.UserAgent,
			Description: "oauth callback with unknown or reused state",
			Success:     false,
			Error:       "invalid state",
		})
		return nil, nil, ErrInvalidState
	}
	if c.now().After(handshake.IssuedAt.Add(c.stateTTL)) {
		obs.OAuthHandshakes.WithLabelValues(providerName, "failure").Inc()
		return nil, nil, ErrStateExpired
	}
	if handshake.Provider != providerName {
		obs.OAuthHandshakes.WithLabelValues(providerName, "failure").Inc()
		return nil, nil, ErrProviderMismatch
	}

	accessToken, err := provider.Exchange(ctx, code, handshake.CodeVerifier, handshake.RedirectURI)
	if err != nil {
		obs.OAuthHandshakes.WithLabelValues(providerName, "failure").Inc()
		return nil, nil, fmt.Errorf("oauth: exchange: %w", err)
	}
	profile, err := provider.FetchProfile(ctx, accessToken)
	if err != nil {
		obs.OAuthHandshakes.WithLabelValues(providerName, "failure").Inc()
		return nil, nil, fmt.Errorf("oauth: fetch profile: %w", err)
	}

	id, err := c.resolveIdentity(ctx, providerName, profile)
	if err != nil {
		obs.OAuthHandshakes.WithLabelValues(providerName, "failure").Inc()
		return nil, nil, err
	}
	if err := c.guard.Succeed(ctx, id); err != nil {
		return nil, nil, err
	}

	grant, err := c.sessions.Create(ctx, id.ID, meta)
	if err != nil {
		return nil, nil, err
	}
	obs.OAuthHandshakes.WithLabelValues(providerName, "success").Inc()
	c.recorder.Record(ctx, audit.Event{
		Type:        audit.LoginSuccess,
		ActorID:     id.ID,
		Username:    id.Username,
		SessionID:   grant.SessionID,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		Description: "federated login via " + providerName,
		Success:     true,
	})
	return grant, id, nil
}

// resolveIdentity upserts the account for a provider profile: an existing
// linkage wins, then an email match gets linked, otherwise a fresh federated
// account is created.
func (c *Coordinator) resolveIdentity(ctx context.Context, providerName string, profile *Profile) (*identity.Identity, error) {
	email := strings.ToLower(strings.TrimSpace(profile.Email))
	if email == "" {
		return nil, ErrNoEmail
	}

	id, err := c.store.FindByProvider(ctx, providerName, profile.Subject)
	switch {
	case err == nil:
		return c.refreshProfile(ctx, id, profile)
	case !errors.Is(err, identity.ErrNotFound):
		return nil, err
	}

	id, err = c.store.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if id.Linked() && (id.Provider != providerName || id.ProviderSubject != profile.Subject) {
			return nil, identity.ErrProviderLinked
		}
		id.Provider = providerName
		id.ProviderSubject = profile.Subject
		if err := c.store.Update(ctx, id); err != nil {
			return nil, err
		}
		return c.refreshProfile(ctx, id, profile)
	case !errors.Is(err, identity.ErrNotFound):
		return nil, err
	}

	return c.createFederated(ctx, providerName, email, profile)
}

// refreshProfile syncs mutable profile fields onto an existing account. A
// completed handshake also marks the address verified: the provider only
// issues codes for addresses it controls.
func (c *Coordinator) refreshProfile(ctx context.Context, id *identity.Identity, profile *Profile) (*identity.Identity, error) {
	changed := false
	if !id.Verified {
		now := c.now()
		id.Verified = true
		id.EmailVerifiedAt = &now
		changed = true
	}
	if profile.FullName != "" && id.FullName != profile.FullName {
		id.FullName = profile.FullName
		changed = true
	}
	if profile.AvatarURL != "" && id.AvatarURL != profile.AvatarURL {
		id.AvatarURL = profile.AvatarURL
		changed = true
	}
	if changed {
		if err := c.store.Update(ctx, id); err != nil {
			return nil, err
		}
	}
	return id, nil
}

func (c *Coordinator) createFederated(ctx context.Context, providerName, email string, profile *Profile) (*identity.Identity, error) {
	var verifiedAt *time.Time
	if profile.EmailVerified {
		now := c.now()
		verifiedAt = &now
	}
	base := usernameFromEmail(email)
	for attempt := 0; attempt < 10; attempt++ {
		username := base
		if attempt > 0 {
			username = fmt.Sprintf("%s%d", base, attempt)
		}
		id := &identity.Identity{
			Email:           email,
			Username:        username,
			FullName:        profile.FullName,
			AvatarURL:       profile.AvatarURL,
			Role:            identity.RoleGuest,
			Active:          true,
			Verified:        profile.EmailVerified,
			EmailVerifiedAt: verifiedAt,
			Provider:        providerName,
			ProviderSubject: profile.Subject,
		}
		err := c.store.Create(ctx, id)
		if err == nil {
			c.recorder.Record(ctx, audit.Event{
				Type:        audit.UserCreated,
				ActorID:     id.ID,
				Username:    id.Username,
				Description: "federated account created via " + providerName,
				Success:     true,
			})
			return id, nil
		}
		if errors.Is(err, identity.ErrUsernameTaken) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("oauth: could not allocate username for %s", email)
}

func usernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	local = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return -1
		}
	}, local)
	if local == "" {
		local = "user"
	}
	return local
}
