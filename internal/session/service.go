package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"authcore.org/internal/audit"
	"authcore.org/internal/obs"
	"authcore.org/internal/token"
)

// Service issues token pairs and maintains the per-device session ledger.
type Service struct {
	store     Store
	blacklist BlacklistStore
	codec     *token.Codec
	recorder  *audit.Recorder

	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

type ServiceOption func(*Service)

func WithAccessTTL(d time.Duration) ServiceOption {
	return func(s *Service) { s.accessTTL = d }
}

func WithRefreshTTL(d time.Duration) ServiceOption {
	return func(s *Service) { s.refreshTTL = d }
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, blacklist BlacklistStore, codec *token.Codec, recorder *audit.Recorder, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		blacklist:  blacklist,
		codec:      codec,
		recorder:   recorder,
		accessTTL:  30 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens a new session for the identity and returns its first token pair.
func (s *Service) Create(ctx context.Context, identityID string, meta audit.Meta) (*Grant, error) {
	refresh, err := newRefreshValue()
	if err != nil {
		return nil, err
	}
	access, claims, err := s.codec.Issue(identityID, token.KindAccess, s.accessTTL, nil)
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess := &Session{
		IdentityID:    identityID,
		RefreshToken:  refresh,
		AccessTokenID: claims.ID,
		IP:            meta.IP,
		UserAgent:     meta.UserAgent,
		Device:        meta.Device,
		Active:        true,
		ExpiresAt:     now.Add(s.refreshTTL),
		LastUsedAt:    now,
		CreatedAt:     now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return &Grant{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.accessTTL / time.Second),
		SessionID:    sess.ID,
	}, nil
}

// Refresh rotates the session's refresh token and issues a fresh access token.
// Presenting a value that has already been rotated revokes the session.
func (s *Service) Refresh(ctx context.Context, refreshValue string, meta audit.Meta) (*Grant, error) {
	sess, err := s.store.FindByRefreshToken(ctx, refreshValue)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if sess.Revoked || !sess.Active {
		return nil, ErrRevoked
	}
	if !sess.ExpiresAt.After(now) {
		if err := s.store.MarkRevoked(ctx, sess.ID, now, "expired"); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, ErrExpired
	}

	next, err := newRefreshValue()
	if err != nil {
		return nil, err
	}
	access, claims, err := s.codec.Issue(sess.IdentityID, token.KindAccess, s.accessTTL, nil)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.Rotate(ctx, sess.ID, refreshValue, next, claims.ID, now)
	if err != nil {
		return nil, fmt.Errorf("session: rotate: %w", err)
	}
	if !ok {
		obs.TokenRotations.WithLabelValues("reuse").Inc()
		// Lost the race or the value was replayed after rotation. Either
		// way the presented value is dead; kill the session so a stolen
		// token cannot be used again.
		if err := s.store.MarkRevoked(ctx, sess.ID, now, "refresh token reuse"); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		s.recorder.Record(ctx, audit.Event{
			Type:        audit.UnauthorizedAccess,
			ActorID:     sess.IdentityID,
			SessionID:   sess.ID,
			IP:          meta.IP,
			UserAgent:   meta.UserAgent,
			Description: "refresh token reuse detected",
			Success:     false,
			Error:       "session revoked",
		})
		return nil, ErrRevoked
	}
	obs.TokenRotations.WithLabelValues("rotated").Inc()
	return &Grant{
		AccessToken:  access,
		RefreshToken: next,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.accessTTL / time.Second),
		SessionID:    sess.ID,
	}, nil
}

// Revoke ends a single session. The caller's identity must own it.
func (s *Service) Revoke(ctx context.Context, sessionID, identityID, reason string, meta audit.Meta) error {
	sess, err := s.store.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.IdentityID != identityID {
		return ErrNotOwner
	}
	return s.revoke(ctx, sess, identityID, reason, meta)
}

// ForceRevoke ends a session regardless of who owns it. The caller must have
// already checked the actor's privilege.
func (s *Service) ForceRevoke(ctx context.Context, sessionID, actorID, reason string, meta audit.Meta) error {
	sess, err := s.store.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.revoke(ctx, sess, actorID, reason, meta)
}

func (s *Service) revoke(ctx context.Context, sess *Session, actorID, reason string, meta audit.Meta) error {
	now := s.now()
	if err := s.store.MarkRevoked(ctx, sess.ID, now, reason); err != nil {
		return err
	}
	if sess.AccessTokenID != "" {
		err := s.blacklist.Add(ctx, &BlacklistedToken{
			JTI:        sess.AccessTokenID,
			TokenType:  string(token.KindAccess),
			IdentityID: sess.IdentityID,
			SessionID:  sess.ID,
			ExpiresAt:  now.Add(s.accessTTL),
			Reason:     reason,
		})
		if err != nil {
			return err
		}
	}
	s.recorder.Record(ctx, audit.Event{
		Type:        audit.Logout,
		ActorID:     actorID,
		SessionID:   sess.ID,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		Description: reason,
		Success:     true,
	})
	return nil
}

// RevokeByRefresh ends the session holding the given refresh token. Used by
// logout, where the client identifies its session by the token it holds.
func (s *Service) RevokeByRefresh(ctx context.Context, refreshValue, identityID, reason string, meta audit.Meta) error {
	sess, err := s.store.FindByRefreshToken(ctx, refreshValue)
	if err != nil {
		return err
	}
	return s.Revoke(ctx, sess.ID, identityID, reason, meta)
}

// RevokeAll ends every active session of the identity, optionally sparing one.
func (s *Service) RevokeAll(ctx context.Context, identityID, reason, exceptID string, meta audit.Meta) (int, error) {
	n, err := s.store.RevokeAll(ctx, identityID, s.now(), reason, exceptID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.recorder.Record(ctx, audit.Event{
			Type:        audit.Logout,
			ActorID:     identityID,
			IP:          meta.IP,
			UserAgent:   meta.UserAgent,
			Description: fmt.Sprintf("revoked %d sessions: %s", n, reason),
			Success:     true,
		})
	}
	return n, nil
}

// List returns the identity's live sessions, most recently used first.
func (s *Service) List(ctx context.Context, identityID string) ([]*Summary, error) {
	rows, err := s.store.ListActive(ctx, identityID, s.now())
	if err != nil {
		return nil, err
	}
	out := make([]*Summary, 0, len(rows))
	for _, row := range rows {
		out = append(out, &Summary{
			ID:         row.ID,
			IP:         row.IP,
			UserAgent:  row.UserAgent,
			Device:     row.Device,
			LastUsedAt: row.LastUsedAt,
			CreatedAt:  row.CreatedAt,
			ExpiresAt:  row.ExpiresAt,
		})
	}
	return out, nil
}

// Sweep marks expired sessions revoked and drops dead blacklist entries.
func (s *Service) Sweep(ctx context.Context) (sessions, tokens int, err error) {
	now := s.now()
	sessions, err = s.store.SweepExpired(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	tokens, err = s.blacklist.Purge(ctx, now)
	if err != nil {
		return sessions, 0, err
	}
	return sessions, tokens, nil
}

// BlacklistAccessToken invalidates an access token ahead of its expiry.
func (s *Service) BlacklistAccessToken(ctx context.Context, accessToken, reason string) error {
	claims, err := s.codec.VerifyKind(accessToken, token.KindAccess)
	if err != nil {
		return err
	}
	return s.blacklist.Add(ctx, &BlacklistedToken{
		JTI:        claims.ID,
		TokenType:  string(token.KindAccess),
		IdentityID: claims.Subject,
		ExpiresAt:  claims.ExpiresAt.Time,
		Reason:     reason,
	})
}

// ConsumeToken records a single-use token so later presentations of the same
// jti are rejected. The entry expires with the token itself.
func (s *Service) ConsumeToken(ctx context.Context, claims *token.Claims, reason string) error {
	return s.blacklist.Add(ctx, &BlacklistedToken{
		JTI:        claims.ID,
		TokenType:  claims.TokenKind,
		IdentityID: claims.Subject,
		ExpiresAt:  claims.ExpiresAt.Time,
		Reason:     reason,
	})
}

// TokenConsumed reports whether the jti has already been consumed.
func (s *Service) TokenConsumed(ctx context.Context, jti string) (bool, error) {
	return s.blacklist.Contains(ctx, jti, s.now())
}

// VerifyAccess validates an access token and checks it against the blacklist.
func (s *Service) VerifyAccess(ctx context.Context, accessToken string) (*token.Claims, error) {
	claims, err := s.codec.VerifyKind(accessToken, token.KindAccess)
	if err != nil {
		return nil, err
	}
	dead, err := s.blacklist.Contains(ctx, claims.ID, s.now())
	if err != nil {
		return nil, err
	}
	if dead {
		return nil, ErrRevoked
	}
	return claims, nil
}

func newRefreshValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
