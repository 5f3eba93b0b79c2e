package identity

import (
	"context"
	"time"
)

// Store describes persistence operations required by the identity core.
// Implementations must support the atomic counter and lock updates; the
// verifier and lockout guard rely on them surviving a later-step failure.
type Store interface {
	Create(ctx context.Context, id *Identity) error
	FindByID(ctx context.Context, id string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByUsername(ctx context.Context, username string) (*Identity, error)
	FindByProvider(ctx context.Context, provider, subject string) (*Identity, error)
	Update(ctx context.Context, id *Identity) error

	// RecordFailure atomically increments the failed-attempt counter and
	// returns the new count.
	RecordFailure(ctx context.Context, id string) (int, error)

	// SetLock stamps the lock window opened by the lockout guard.
	SetLock(ctx context.Context, id string, until time.Time) error

	// ClearLock resets the counter, clears the lock and stamps last_login.
	ClearLock(ctx context.Context, id string, lastLogin time.Time) error

	// UnlockExpired clears locks whose window has elapsed. Housekeeping
	// only; Locked state resolves lazily regardless.
	UnlockExpired(ctx context.Context, now time.Time) (int, error)
}
