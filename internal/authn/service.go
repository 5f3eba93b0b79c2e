// Package authn implements credential authentication: registration, the
// login verification sequence, email verification and password reset flows.
package authn

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"authcore.org/internal/audit"
	"authcore.org/internal/identity"
	"authcore.org/internal/lockout"
	"authcore.org/internal/notify"
	"authcore.org/internal/session"
	"authcore.org/internal/token"
)

const (
	defaultResetTTL  = 24 * time.Hour
	defaultVerifyTTL = 24 * time.Hour

	minPasswordLength = 8
)

// Service wires the identity store, lockout guard and session ledger into
// the credential authentication flows.
type Service struct {
	store    identity.Store
	guard    *lockout.Guard
	sessions *session.Service
	codec    *token.Codec
	hasher   Hasher
	recorder *audit.Recorder
	notifier *notify.Dispatcher

	baseURL         string
	allowUnverified bool
	resetTTL        time.Duration
	verifyTTL       time.Duration
	now             func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithAllowUnverified permits login before email verification.
func WithAllowUnverified(allow bool) ServiceOption {
	return func(s *Service) { s.allowUnverified = allow }
}

// WithBaseURL sets the public base URL embedded into mailed links.
func WithBaseURL(u string) ServiceOption {
	return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithNotifier enables verification and reset mail delivery.
func WithNotifier(d *notify.Dispatcher) ServiceOption {
	return func(s *Service) { s.notifier = d }
}

// WithHasher overrides the password hasher (useful for tests).
func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithResetTTL sets the password reset token lifetime.
func WithResetTTL(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.resetTTL = d
		}
	}
}

// WithVerifyTTL sets the email verification token lifetime.
func WithVerifyTTL(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.verifyTTL = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(store identity.Store, guard *lockout.Guard, sessions *session.Service, codec *token.Codec, recorder *audit.Recorder, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		guard:     guard,
		sessions:  sessions,
		codec:     codec,
		hasher:    BcryptHasher{},
		recorder:  recorder,
		resetTTL:  defaultResetTTL,
		verifyTTL: defaultVerifyTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterInput carries the fields accepted at sign-up.
type RegisterInput struct {
	Email    string
	Username string
	Password string
	FullName string
}

// Register creates a new unverified account and mails a verification link.
func (s *Service) Register(ctx context.Context, in RegisterInput, meta audit.Meta) (*identity.Identity, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	username := strings.TrimSpace(in.Username)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if username == "" {
		return nil, fmt.Errorf("%w: username", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	id := &identity.Identity{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(in.FullName),
		Role:         identity.RoleUser,
		Active:       true,
	}
	if err := s.store.Create(ctx, id); err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Event{
		Type:        audit.UserCreated,
		ActorID:     id.ID,
		Username:    id.Username,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		Description: fmt.Sprintf("user registered: %s", id.Username),
		Success:     true,
	})
	s.sendVerificationMail(id)
	return id, nil
}

// Elevated reports whether the account may act on other accounts' sessions.
func (s *Service) Elevated(ctx context.Context, identityID string) bool {
	id, err := s.store.FindByID(ctx, identityID)
	if err != nil {
		return false
	}
	return id.Superuser || id.Role == identity.RoleAdmin
}

// VerifyEmail marks the account verified using a mailed verification token.
// The token is single-use: its jti is consumed on success.
func (s *Service) VerifyEmail(ctx context.Context, tokenString string, meta audit.Meta) (*identity.Identity, error) {
	claims, err := s.codec.VerifyKind(tokenString, token.KindVerify)
	if err != nil {
		return nil, err
	}
	used, err := s.sessions.TokenConsumed(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, ErrTokenUsed
	}
	id, err := s.store.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.ConsumeToken(ctx, claims, "email verification"); err != nil {
		return nil, err
	}
	if !id.Verified {
		now := s.now()
		id.Verified = true
		id.EmailVerifiedAt = &now
		if err := s.store.Update(ctx, id); err != nil {
			return nil, err
		}
		s.recorder.Record(ctx, audit.Event{
			Type:        audit.UserUpdated,
			ActorID:     id.ID,
			Username:    id.Username,
			IP:          meta.IP,
			UserAgent:   meta.UserAgent,
			Description: "email verified",
			Success:     true,
		})
	}
	return id, nil
}

func (s *Service) sendVerificationMail(id *identity.Identity) {
	if s.notifier == nil {
		return
	}
	signed, _, err := s.codec.Issue(id.ID, token.KindVerify, s.verifyTTL, nil)
	if err != nil {
		return
	}
	s.notifier.Submit(id.Email, "Verify your email address",
		fmt.Sprintf("<p>Welcome, %s. Confirm your email address by following <a href=%q>this link</a>.</p>",
			id.Username, s.baseURL+"/v1/auth/verify-email?token="+signed))
}
