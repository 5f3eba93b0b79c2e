package authn

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"authcore.org/internal/audit"
	"authcore.org/internal/identity"
	"authcore.org/internal/lockout"
	"authcore.org/internal/session"
	"authcore.org/internal/token"
)

type fixture struct {
	svc      *Service
	store    *identity.MemoryStore
	sessions *session.Service
	codec    *token.Codec
	now      *time.Time
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := identity.NewMemoryStore()
	recorder := audit.NewRecorder(audit.LogSink{})
	codec, err := token.NewCodec("test-secret", token.WithClock(clock))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	guard := lockout.NewGuard(store, recorder,
		lockout.WithThreshold(3),
		lockout.WithWindow(30*time.Minute),
		lockout.WithClock(clock),
	)
	sessions := session.NewService(session.NewMemoryStore(), session.NewMemoryBlacklist(), codec, recorder,
		session.WithServiceClock(clock))

	opts = append([]ServiceOption{
		WithHasher(BcryptHasher{Cost: bcrypt.MinCost}),
		WithClock(clock),
	}, opts...)
	svc := NewService(store, guard, sessions, codec, recorder, opts...)
	return &fixture{svc: svc, store: store, sessions: sessions, codec: codec, now: &now}
}

func (f *fixture) seedUser(t *testing.T, verified bool) *identity.Identity {
	t.Helper()
	hash, err := BcryptHasher{Cost: bcrypt.MinCost}.Hash("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	id := &identity.Identity{
		Email:        "alice@example.com",
		Username:     "alice",
		PasswordHash: hash,
		Role:         identity.RoleUser,
		Active:       true,
		Verified:     verified,
	}
	if err := f.store.Create(context.Background(), id); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, true)
	ctx := context.Background()

	grant, id, err := f.svc.Login(ctx, "alice@example.com", "correct horse", audit.Meta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if grant.AccessToken == "" || grant.RefreshToken == "" {
		t.Fatalf("incomplete grant: %+v", grant)
	}
	if id.Username != "alice" {
		t.Fatalf("unexpected identity: %s", id.Username)
	}

	stored, _ := f.store.FindByUsername(ctx, "alice")
	if stored.LastLogin == nil {
		t.Fatal("last_login not stamped")
	}
}

func TestLoginByUsername(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, true)

	if _, _, err := f.svc.Login(context.Background(), "alice", "correct horse", audit.Meta{}); err != nil {
		t.Fatalf("login by username: %v", err)
	}
}

func TestLoginUnknownAccount(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Authenticate(context.Background(), "nobody@example.com", "whatever", audit.Meta{})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestFailedLoginFeedsLockout(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, true)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Authenticate(ctx, "alice@example.com", "wrong", audit.Meta{}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	stored, _ := f.store.FindByUsername(ctx, "alice")
	if stored.FailedAttempts != 2 {
		t.Fatalf("expected 2 recorded failures, got %d", stored.FailedAttempts)
	}

	// A successful login resets the counter.
	if _, err := f.svc.Authenticate(ctx, "alice@example.com", "correct horse", audit.Meta{}); err != nil {
		t.Fatalf("login: %v", err)
	}
	stored, _ = f.store.FindByUsername(ctx, "alice")
	if stored.FailedAttempts != 0 {
		t.Fatalf("counter not reset: %d", stored.FailedAttempts)
	}
}

func TestLockedAccountRejectsCorrectPassword(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.svc.Authenticate(ctx, "alice@example.com", "wrong", audit.Meta{}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	// The hash is never consulted while the window is open.
	if _, err := f.svc.Authenticate(ctx, "alice@example.com", "correct horse", audit.Meta{}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}

	*f.now = f.now.Add(31 * time.Minute)
	if _, err := f.svc.Authenticate(ctx, "alice@example.com", "correct horse", audit.Meta{}); err != nil {
		t.Fatalf("login after window: %v", err)
	}
}

func TestInactiveAndUnverified(t *testing.T) {
	f := newFixture(t)
	id := f.seedUser(t, false)
	ctx := context.Background()

	if _, err := f.svc.Authenticate(ctx, "alice@example.com", "correct horse", audit.Meta{}); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}

	id.Active = false
	if err := f.store.Update(ctx, id); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, "alice@example.com", "correct horse", audit.Meta{}); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestAllowUnverifiedLogin(t *testing.T) {
	f := newFixture(t, WithAllowUnverified(true))
	f.seedUser(t, false)

	if _, err := f.svc.Authenticate(context.Background(), "alice@example.com", "correct horse", audit.Meta{}); err != nil {
		t.Fatalf("unverified login with override: %v", err)
	}
}

func TestFederatedAccountHasNoPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := &identity.Identity{
		Email:           "bob@example.com",
		Username:        "bob",
		Role:            identity.RoleGuest,
		Active:          true,
		Verified:        true,
		Provider:        "google",
		ProviderSubject: "sub-1",
	}
	if err := f.store.Create(ctx, id); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.svc.Authenticate(ctx, "bob@example.com", "", audit.Meta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, "bob@example.com", "anything", audit.Meta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []RegisterInput{
		{Email: "not-an-email", Username: "x", Password: "long enough"},
		{Email: "a@example.com", Username: "", Password: "long enough"},
		{Email: "a@example.com", Username: "x", Password: "short"},
	}
	for i, in := range cases {
		if _, err := f.svc.Register(ctx, in, audit.Meta{}); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}

	id, err := f.svc.Register(ctx, RegisterInput{
		Email:    "Carol@Example.com",
		Username: "carol",
		Password: "long enough",
		FullName: "Carol",
	}, audit.Meta{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if id.Email != "carol@example.com" {
		t.Fatalf("email not normalized: %s", id.Email)
	}
	if id.Verified {
		t.Fatal("new accounts must start unverified")
	}
	if id.Role != identity.RoleUser {
		t.Fatalf("unexpected role: %s", id.Role)
	}

	if _, err := f.svc.Register(ctx, RegisterInput{
		Email:    "carol@example.com",
		Username: "carol2",
		Password: "long enough",
	}, audit.Meta{}); !errors.Is(err, identity.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestVerifyEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.Register(ctx, RegisterInput{
		Email:    "carol@example.com",
		Username: "carol",
		Password: "long enough",
	}, audit.Meta{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	signed, _, err := f.codec.Issue(id.ID, token.KindVerify, 24*time.Hour, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	verified, err := f.svc.VerifyEmail(ctx, signed, audit.Meta{})
	if err != nil {
		t.Fatalf("verify email: %v", err)
	}
	if !verified.Verified || verified.EmailVerifiedAt == nil {
		t.Fatalf("not marked verified: %+v", verified)
	}

	// An access token is not a verification token.
	wrong, _, _ := f.codec.Issue(id.ID, token.KindAccess, time.Hour, nil)
	if _, err := f.svc.VerifyEmail(ctx, wrong, audit.Meta{}); !errors.Is(err, token.ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	id := f.seedUser(t, true)
	ctx := context.Background()

	// Unknown addresses are silently accepted.
	if err := f.svc.RequestPasswordReset(ctx, "nobody@example.com", audit.Meta{}); err != nil {
		t.Fatalf("reset request for unknown address: %v", err)
	}
	if err := f.svc.RequestPasswordReset(ctx, "alice@example.com", audit.Meta{}); err != nil {
		t.Fatalf("reset request: %v", err)
	}

	grant, _, err := f.svc.Login(ctx, "alice@example.com", "correct horse", audit.Meta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	signed, _, err := f.codec.Issue(id.ID, token.KindReset, time.Hour, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := f.svc.CompletePasswordReset(ctx, signed, "brand new password", grant.AccessToken, audit.Meta{}); err != nil {
		t.Fatalf("complete reset: %v", err)
	}

	if _, _, err := f.svc.Login(ctx, "alice@example.com", "correct horse", audit.Meta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "alice@example.com", "brand new password", audit.Meta{}); err != nil {
		t.Fatalf("new password: %v", err)
	}

	// Every prior session died with the reset.
	if _, err := f.sessions.Refresh(ctx, grant.RefreshToken, audit.Meta{}); err == nil {
		t.Fatal("pre-reset refresh token must be dead")
	}
	if _, err := f.sessions.VerifyAccess(ctx, grant.AccessToken); !errors.Is(err, session.ErrRevoked) {
		t.Fatalf("pre-reset access token must be blacklisted, got %v", err)
	}
}

func TestPasswordResetTokenSingleUse(t *testing.T) {
	f := newFixture(t)
	id := f.seedUser(t, true)
	ctx := context.Background()

	signed, _, err := f.codec.Issue(id.ID, token.KindReset, 24*time.Hour, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := f.svc.CompletePasswordReset(ctx, signed, "brand new password", "", audit.Meta{}); err != nil {
		t.Fatalf("complete reset: %v", err)
	}

	// The consumed token must not reset the password again.
	if err := f.svc.CompletePasswordReset(ctx, signed, "attacker password", "", audit.Meta{}); !errors.Is(err, ErrTokenUsed) {
		t.Fatalf("expected ErrTokenUsed on replay, got %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "alice@example.com", "brand new password", audit.Meta{}); err != nil {
		t.Fatalf("first reset password must survive the replay: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "alice@example.com", "attacker password", audit.Meta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("replayed password must not work, got %v", err)
	}
}

func TestVerifyEmailTokenSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.Register(ctx, RegisterInput{
		Email:    "carol@example.com",
		Username: "carol",
		Password: "long enough",
	}, audit.Meta{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	signed, _, err := f.codec.Issue(id.ID, token.KindVerify, 24*time.Hour, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := f.svc.VerifyEmail(ctx, signed, audit.Meta{}); err != nil {
		t.Fatalf("verify email: %v", err)
	}
	if _, err := f.svc.VerifyEmail(ctx, signed, audit.Meta{}); !errors.Is(err, ErrTokenUsed) {
		t.Fatalf("expected ErrTokenUsed on replay, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	id := f.seedUser(t, true)
	ctx := context.Background()

	if err := f.svc.ChangePassword(ctx, id.ID, "wrong", "brand new password", audit.Meta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := f.svc.ChangePassword(ctx, id.ID, "correct horse", "short", audit.Meta{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := f.svc.ChangePassword(ctx, id.ID, "correct horse", "brand new password", audit.Meta{}); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "alice@example.com", "brand new password", audit.Meta{}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}
