package authn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"authcore.org/internal/audit"
	"authcore.org/internal/identity"
	"authcore.org/internal/obs"
	"authcore.org/internal/token"
)

// RequestPasswordReset mails a reset link when the email belongs to a known
// account. The caller always gets a nil error so responses cannot be used to
// probe which addresses are registered.
func (s *Service) RequestPasswordReset(ctx context.Context, email string, meta audit.Meta) error {
	email = strings.ToLower(strings.TrimSpace(email))
	id, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil
		}
		obs.Log(map[string]any{"level": "error", "msg": "password reset lookup failed", "error": err.Error()})
		return nil
	}

	s.recorder.Record(ctx, audit.Event{
		Type:        audit.PasswordResetRequested,
		ActorID:     id.ID,
		Username:    id.Username,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		Description: "password reset requested",
		Success:     true,
	})

	if s.notifier == nil {
		return nil
	}
	signed, _, err := s.codec.Issue(id.ID, token.KindReset, s.resetTTL, nil)
	if err != nil {
		obs.Log(map[string]any{"level": "error", "msg": "password reset token issue failed", "error": err.Error()})
		return nil
	}
	s.notifier.Submit(id.Email, "Reset your password",
		fmt.Sprintf("<p>Hello, %s. Reset your password by following <a href=%q>this link</a>. The link expires in %s.</p>",
			id.Username, s.baseURL+"/v1/auth/password-reset/complete?token="+signed, s.resetTTL))
	return nil
}

// CompletePasswordReset sets a new password from a mailed reset token. The
// token is single-use: its jti is consumed on success. Every existing session
// of the account is revoked; a bearer token presented with the request is
// blacklisted so it dies with them.
func (s *Service) CompletePasswordReset(ctx context.Context, tokenString, newPassword, presentedAccess string, meta audit.Meta) error {
	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	claims, err := s.codec.VerifyKind(tokenString, token.KindReset)
	if err != nil {
		return err
	}
	used, err := s.sessions.TokenConsumed(ctx, claims.ID)
	if err != nil {
		return err
	}
	if used {
		return ErrTokenUsed
	}
	id, err := s.store.FindByID(ctx, claims.Subject)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	id.PasswordHash = hash
	if err := s.store.Update(ctx, id); err != nil {
		return err
	}
	if err := s.sessions.ConsumeToken(ctx, claims, "password reset"); err != nil {
		return err
	}
	if err := s.store.ClearLock(ctx, id.ID, s.now()); err != nil {
		return err
	}

	if _, err := s.sessions.RevokeAll(ctx, id.ID, "password reset", "", meta); err != nil {
		return err
	}
	if presentedAccess != "" {
		if err := s.sessions.BlacklistAccessToken(ctx, presentedAccess, "password reset"); err != nil {
			obs.Log(map[string]any{"level": "error", "msg": "blacklist on password reset failed", "error": err.Error()})
		}
	}

	s.recorder.Record(ctx, audit.Event{
		Type:        audit.PasswordResetCompleted,
		ActorID:     id.ID,
		Username:    id.Username,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		Description: "password reset completed",
		Success:     true,
	})
	return nil
}

// ChangePassword rotates the password for an authenticated account after
// re-checking the current one.
func (s *Service) ChangePassword(ctx context.Context, identityID, current, next string, meta audit.Meta) error {
	if len(next) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	id, err := s.store.FindByID(ctx, identityID)
	if err != nil {
		return err
	}
	if !id.HasPassword() || s.hasher.Compare(id.PasswordHash, current) != nil {
		return ErrInvalidCredentials
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	id.PasswordHash = hash
	if err := s.store.Update(ctx, id); err != nil {
		return err
	}
	s.recorder.Record(ctx, audit.Event{
		Type:        audit.PasswordChanged,
		ActorID:     id.ID,
		Username:    id.Username,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		Description: "password changed",
		Success:     true,
	})
	return nil
}
