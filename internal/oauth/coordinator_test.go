package oauth

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authcore.org/internal/audit"
	"authcore.org/internal/identity"
	"authcore.org/internal/lockout"
	"authcore.org/internal/session"
	"authcore.org/internal/token"
)

type fakeProvider struct {
	name      string
	profile   Profile
	lastState string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthorizationURL(state, codeChallenge, redirectURI string) string {
	p.lastState = state
	q := url.Values{"state": {state}, "code_challenge": {codeChallenge}, "redirect_uri": {redirectURI}}
	return "https://provider.example/authorize?" + q.Encode()
}

func (p *fakeProvider) Exchange(_ context.Context, code, codeVerifier, _ string) (string, error) {
	if code == "" || codeVerifier == "" {
		return "", ErrInvalidState
	}
	return "provider-access-token", nil
}

func (p *fakeProvider) FetchProfile(_ context.Context, _ string) (*Profile, error) {
	prof := p.profile
	return &prof, nil
}

func newTestCoordinator(t *testing.T, p Provider) (*Coordinator, *identity.MemoryStore, *session.Service) {
	t.Helper()
	store := identity.NewMemoryStore()
	recorder := audit.NewRecorder(audit.LogSink{})
	codec, err := token.NewCodec("test-secret")
	require.NoError(t, err)
	guard := lockout.NewGuard(store, recorder)
	sessions := session.NewService(session.NewMemoryStore(), session.NewMemoryBlacklist(), codec, recorder)

	c := NewCoordinator(NewMemoryStateStore(), store, guard, sessions, recorder, "http://localhost:8080",
		WithStateTTL(30*time.Minute))
	c.RegisterProvider(p)
	return c, store, sessions
}

func TestHandshakeCreatesFederatedAccount(t *testing.T) {
	provider := &fakeProvider{
		name: "fake",
		profile: Profile{
			Subject:       "sub-1",
			Email:         "Alice@Example.com",
			EmailVerified: true,
			FullName:      "Alice",
			AvatarURL:     "https://img.example/alice",
		},
	}
	c, store, _ := newTestCoordinator(t, provider)
	ctx := context.Background()

	redirect, err := c.Initiate(ctx, "fake")
	require.NoError(t, err)
	parsed, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, provider.lastState, parsed.Query().Get("state"))
	assert.Equal(t, "http://localhost:8080/v1/oauth/fake/callback", parsed.Query().Get("redirect_uri"))

	grant, id, err := c.Complete(ctx, "fake", provider.lastState, "auth-code", audit.Meta{})
	require.NoError(t, err)
	assert.NotEmpty(t, grant.AccessToken)
	assert.NotEmpty(t, grant.RefreshToken)

	assert.Equal(t, "alice@example.com", id.Email)
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, identity.RoleGuest, id.Role)
	assert.True(t, id.Verified)
	assert.False(t, id.HasPassword())
	assert.Equal(t, "fake", id.Provider)
	assert.Equal(t, "sub-1", id.ProviderSubject)

	stored, err := store.FindByProvider(ctx, "fake", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, id.ID, stored.ID)
	assert.NotNil(t, stored.LastLogin)
}

func TestHandshakeStateIsSingleUse(t *testing.T) {
	provider := &fakeProvider{
		name:    "fake",
		profile: Profile{Subject: "sub-1", Email: "alice@example.com", EmailVerified: true},
	}
	c, _, _ := newTestCoordinator(t, provider)
	ctx := context.Background()

	_, err := c.Initiate(ctx, "fake")
	require.NoError(t, err)

	_, _, err = c.Complete(ctx, "fake", provider.lastState, "auth-code", audit.Meta{})
	require.NoError(t, err)

	_, _, err = c.Complete(ctx, "fake", provider.lastState, "auth-code", audit.Meta{})
	assert.ErrorIs(t, err, ErrInvalidState)

	_, _, err = c.Complete(ctx, "fake", "never-issued", "auth-code", audit.Meta{})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestHandshakeProviderMismatch(t *testing.T) {
	one := &fakeProvider{name: "one", profile: Profile{Subject: "s", Email: "a@example.com"}}
	two := &fakeProvider{name: "two", profile: Profile{Subject: "s", Email: "a@example.com"}}
	c, _, _ := newTestCoordinator(t, one)
	c.RegisterProvider(two)
	ctx := context.Background()

	_, err := c.Initiate(ctx, "one")
	require.NoError(t, err)

	_, _, err = c.Complete(ctx, "two", one.lastState, "auth-code", audit.Meta{})
	assert.ErrorIs(t, err, ErrProviderMismatch)
}

func TestHandshakeLinksExistingAccount(t *testing.T) {
	provider := &fakeProvider{
		name:    "fake",
		profile: Profile{Subject: "sub-9", Email: "alice@example.com", EmailVerified: true},
	}
	c, store, _ := newTestCoordinator(t, provider)
	ctx := context.Background()

	existing := &identity.Identity{
		Email:        "alice@example.com",
		Username:     "alice",
		PasswordHash: "some-hash",
		Role:         identity.RoleUser,
		Active:       true,
	}
	require.NoError(t, store.Create(ctx, existing))

	_, err := c.Initiate(ctx, "fake")
	require.NoError(t, err)
	_, id, err := c.Complete(ctx, "fake", provider.lastState, "auth-code", audit.Meta{})
	require.NoError(t, err)

	assert.Equal(t, existing.ID, id.ID, "must link, not create")
	assert.Equal(t, "fake", id.Provider)
	assert.Equal(t, "sub-9", id.ProviderSubject)
	assert.True(t, id.Verified, "verified provider email verifies the account")
	assert.True(t, id.HasPassword(), "linking must not drop the password")
}

func TestHandshakeForcesVerification(t *testing.T) {
	provider := &fakeProvider{
		name:    "fake",
		profile: Profile{Subject: "sub-3", Email: "alice@example.com", EmailVerified: false},
	}
	c, store, _ := newTestCoordinator(t, provider)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &identity.Identity{
		Email:        "alice@example.com",
		Username:     "alice",
		PasswordHash: "some-hash",
		Role:         identity.RoleUser,
		Active:       true,
		Verified:     false,
	}))

	_, err := c.Initiate(ctx, "fake")
	require.NoError(t, err)
	_, id, err := c.Complete(ctx, "fake", provider.lastState, "auth-code", audit.Meta{})
	require.NoError(t, err)

	// Completing the handshake proves control of the address even when the
	// provider does not report it verified.
	assert.True(t, id.Verified)
	assert.NotNil(t, id.EmailVerifiedAt)

	stored, err := store.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, stored.Verified)
}

func TestRepeatHandshakeVerifiesFederatedAccount(t *testing.T) {
	provider := &fakeProvider{
		name:    "fake",
		profile: Profile{Subject: "sub-4", Email: "dora@example.com", EmailVerified: false},
	}
	c, store, _ := newTestCoordinator(t, provider)
	ctx := context.Background()

	_, err := c.Initiate(ctx, "fake")
	require.NoError(t, err)
	_, id, err := c.Complete(ctx, "fake", provider.lastState, "auth-code", audit.Meta{})
	require.NoError(t, err)
	assert.False(t, id.Verified, "unverified provider email starts unverified")

	_, err = c.Initiate(ctx, "fake")
	require.NoError(t, err)
	_, id, err = c.Complete(ctx, "fake", provider.lastState, "auth-code", audit.Meta{})
	require.NoError(t, err)
	assert.True(t, id.Verified, "returning federated account becomes verified")

	stored, err := store.FindByProvider(ctx, "fake", "sub-4")
	require.NoError(t, err)
	assert.True(t, stored.Verified)
}

func TestHandshakeUsernameCollision(t *testing.T) {
	provider := &fakeProvider{
		name:    "fake",
		profile: Profile{Subject: "sub-2", Email: "alice@elsewhere.com", EmailVerified: true},
	}
	c, store, _ := newTestCoordinator(t, provider)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &identity.Identity{
		Email:    "alice@example.com",
		Username: "alice",
		Role:     identity.RoleUser,
		Active:   true,
	}))

	_, err := c.Initiate(ctx, "fake")
	require.NoError(t, err)
	_, id, err := c.Complete(ctx, "fake", provider.lastState, "auth-code", audit.Meta{})
	require.NoError(t, err)

	assert.Equal(t, "alice1", id.Username)
}

func TestInitiateUnknownProvider(t *testing.T) {
	c, _, _ := newTestCoordinator(t, &fakeProvider{name: "fake"})
	_, err := c.Initiate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
