package authn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"authcore.org/internal/audit"
	"authcore.org/internal/identity"
	"authcore.org/internal/lockout"
	"authcore.org/internal/obs"
	"authcore.org/internal/session"
)

// Authenticate runs the credential verification sequence: resolve the
// account, reject locked accounts before touching the hash, compare the
// password, then check account state. Failed comparisons feed the lockout
// counter even though the caller only ever sees a generic failure.
func (s *Service) Authenticate(ctx context.Context, identifier, password string, meta audit.Meta) (*identity.Identity, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		obs.LoginAttempts.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}

	id, err := s.resolve(ctx, identifier)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			obs.LoginAttempts.WithLabelValues("failure").Inc()
			s.recorder.Record(ctx, audit.Event{
				Type:        audit.LoginFailed,
				Username:    identifier,
				IP:          meta.IP,
				UserAgent:   meta.UserAgent,
				Description: "login attempt for unknown account",
				Success:     false,
				Error:       "user not found",
			})
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if err := s.guard.Check(ctx, id, meta); err != nil {
		if errors.Is(err, lockout.ErrLocked) {
			obs.LoginAttempts.WithLabelValues("locked").Inc()
			return nil, ErrAccountLocked
		}
		return nil, err
	}

	if !id.HasPassword() || s.hasher.Compare(id.PasswordHash, password) != nil {
		obs.LoginAttempts.WithLabelValues("failure").Inc()
		if err := s.guard.Fail(ctx, id, meta); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}

	if !id.Active {
		obs.LoginAttempts.WithLabelValues("failure").Inc()
		s.recorder.Record(ctx, audit.Event{
			Type:        audit.UnauthorizedAccess,
			ActorID:     id.ID,
			Username:    id.Username,
			IP:          meta.IP,
			UserAgent:   meta.UserAgent,
			Description: fmt.Sprintf("login attempt on inactive account: %s", id.Username),
			Success:     false,
			Error:       "account is inactive",
		})
		return nil, ErrAccountInactive
	}
	if !id.Verified && !s.allowUnverified {
		obs.LoginAttempts.WithLabelValues("failure").Inc()
		s.recorder.Record(ctx, audit.Event{
			Type:        audit.UnauthorizedAccess,
			ActorID:     id.ID,
			Username:    id.Username,
			IP:          meta.IP,
			UserAgent:   meta.UserAgent,
			Description: fmt.Sprintf("login attempt with unverified email: %s", id.Username),
			Success:     false,
			Error:       "email is not verified",
		})
		return nil, ErrEmailNotVerified
	}

	if err := s.guard.Succeed(ctx, id); err != nil {
		return nil, err
	}
	obs.LoginAttempts.WithLabelValues("success").Inc()
	s.recorder.Record(ctx, audit.Event{
		Type:        audit.LoginSuccess,
		ActorID:     id.ID,
		Username:    id.Username,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		Description: fmt.Sprintf("successful login: %s", id.Username),
		Success:     true,
	})
	return id, nil
}

// Login authenticates the credentials and opens a session for the device.
func (s *Service) Login(ctx context.Context, identifier, password string, meta audit.Meta) (*session.Grant, *identity.Identity, error) {
	id, err := s.Authenticate(ctx, identifier, password, meta)
	if err != nil {
		return nil, nil, err
	}
	grant, err := s.sessions.Create(ctx, id.ID, meta)
	if err != nil {
		return nil, nil, err
	}
	return grant, id, nil
}

// resolve looks the account up by email first, then by username.
func (s *Service) resolve(ctx context.Context, identifier string) (*identity.Identity, error) {
	if strings.Contains(identifier, "@") {
		id, err := s.store.FindByEmail(ctx, strings.ToLower(identifier))
		if err == nil || !errors.Is(err, identity.ErrNotFound) {
			return id, err
		}
	}
	return s.store.FindByUsername(ctx, identifier)
}
