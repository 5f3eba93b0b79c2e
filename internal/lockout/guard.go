// Package lockout tracks failed authentication attempts and lock windows per
// identity. An account is Open below the threshold, Locked once the counter
// reaches it, and returns to Open lazily when the window elapses; no
// background sweep is required for correctness.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"authcore.org/internal/audit"
	"authcore.org/internal/identity"
	"authcore.org/internal/notify"
	"authcore.org/internal/obs"
)

// ErrLocked indicates the account is inside an active lock window.
var ErrLocked = errors.New("lockout: account is locked")

const (
	defaultThreshold = 5
	defaultWindow    = 30 * time.Minute
)

// Guard applies the lockout transition rules over an identity store.
type Guard struct {
	store    identity.Store
	recorder *audit.Recorder
	notifier *notify.Dispatcher

	threshold int
	window    time.Duration
	now       func() time.Time
}

// Option configures Guard behavior.
type Option func(*Guard)

// WithThreshold sets the failed-attempt count that triggers a lock.
func WithThreshold(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.threshold = n
		}
	}
}

// WithWindow sets the lock duration.
func WithWindow(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.window = d
		}
	}
}

// WithNotifier enables best-effort lockout notices.
func WithNotifier(d *notify.Dispatcher) Option {
	return func(g *Guard) { g.notifier = d }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(g *Guard) {
		if fn != nil {
			g.now = fn
		}
	}
}

func NewGuard(store identity.Store, recorder *audit.Recorder, opts ...Option) *Guard {
	g := &Guard{
		store:     store,
		recorder:  recorder,
		threshold: defaultThreshold,
		window:    defaultWindow,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Locked reports whether the identity is inside an active lock window.
func (g *Guard) Locked(id *identity.Identity) bool {
	return id.LockedUntil != nil && id.LockedUntil.After(g.now())
}

// Check rejects authentication attempts against a locked account without
// touching the password hash.
func (g *Guard) Check(ctx context.Context, id *identity.Identity, meta audit.Meta) error {
	if !g.Locked(id) {
		return nil
	}
	g.recorder.Record(ctx, audit.Event{
		Type:        audit.UnauthorizedAccess,
		ActorID:     id.ID,
		Username:    id.Username,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		Description: fmt.Sprintf("login attempt on locked account: %s", id.Username),
		Success:     false,
		Error:       "account is locked",
	})
	return ErrLocked
}

// Fail records a verification failure. Reaching the threshold transitions the
// account to Locked, audits the transition and fires a best-effort notice.
// The counter mutation persists even when the caller ultimately reports a
// generic failure.
func (g *Guard) Fail(ctx context.Context, id *identity.Identity, meta audit.Meta) error {
	count, err := g.store.RecordFailure(ctx, id.ID)
	if err != nil {
		return fmt.Errorf("lockout: record failure: %w", err)
	}
	id.FailedAttempts = count

	if count < g.threshold {
		g.recorder.Record(ctx, audit.Event{
			Type:        audit.LoginFailed,
			ActorID:     id.ID,
			Username:    id.Username,
			IP:          meta.IP,
			UserAgent:   meta.UserAgent,
			Description: fmt.Sprintf("failed login attempt %d/%d", count, g.threshold),
			Success:     false,
			Error:       "invalid password",
		})
		return nil
	}

	until := g.now().Add(g.window)
	if err := g.store.SetLock(ctx, id.ID, until); err != nil {
		return fmt.Errorf("lockout: set lock: %w", err)
	}
	id.LockedUntil = &until
	obs.AccountLockouts.Inc()

	g.recorder.Record(ctx, audit.Event{
		Type:        audit.AccountLocked,
		ActorID:     id.ID,
		Username:    id.Username,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		Description: fmt.Sprintf("account locked after %d failed login attempts", count),
		Success:     true,
	})

	if g.notifier != nil {
		g.notifier.Submit(id.Email, "Your account has been locked",
			fmt.Sprintf("<p>Your account was locked after %d failed sign-in attempts. It unlocks at %s.</p>",
				count, until.UTC().Format(time.RFC1123)))
	}
	return nil
}

// Succeed resets the counter, clears any lock and stamps last_login.
func (g *Guard) Succeed(ctx context.Context, id *identity.Identity) error {
	now := g.now()
	if err := g.store.ClearLock(ctx, id.ID, now); err != nil {
		return fmt.Errorf("lockout: clear lock: %w", err)
	}
	id.FailedAttempts = 0
	id.LockedUntil = nil
	t := now
	id.LastLogin = &t
	return nil
}

// UnlockExpired clears elapsed locks. Pure housekeeping; lazy unlock in
// Locked already guarantees correctness.
func (g *Guard) UnlockExpired(ctx context.Context) (int, error) {
	return g.store.UnlockExpired(ctx, g.now())
}
