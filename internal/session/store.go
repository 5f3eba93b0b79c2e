package session

import (
	"context"
	"time"
)

// Store persists sessions. Rotate is the one operation that must be a single
// conditional update: two concurrent rotators of the same session must not
// both succeed.
type Store interface {
	Create(ctx context.Context, s *Session) error
	FindByID(ctx context.Context, id string) (*Session, error)
	FindByRefreshToken(ctx context.Context, value string) (*Session, error)

	// Rotate replaces the refresh-token value only when the stored value
	// still equals old. It reports false when the session is gone, revoked
	// or the value already changed (a losing concurrent rotator).
	Rotate(ctx context.Context, id, old, next, accessTokenID string, lastUsed time.Time) (bool, error)

	MarkRevoked(ctx context.Context, id string, at time.Time, reason string) error
	RevokeAll(ctx context.Context, identityID string, at time.Time, reason, exceptID string) (int, error)

	// ListActive returns active, non-revoked, non-expired sessions ordered
	// by most-recently-used first.
	ListActive(ctx context.Context, identityID string, now time.Time) ([]*Session, error)

	// SweepExpired marks naturally expired sessions revoked. Housekeeping;
	// expiry is also enforced lazily on refresh.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// BlacklistStore records early-invalidated tokens.
type BlacklistStore interface {
	Add(ctx context.Context, t *BlacklistedToken) error
	Contains(ctx context.Context, jti string, now time.Time) (bool, error)
	Purge(ctx context.Context, now time.Time) (int, error)
}
