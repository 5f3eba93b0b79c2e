package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"authcore.org/internal/audit"
	"authcore.org/internal/token"
)

func newTestService(t *testing.T, now *time.Time) (*Service, *MemoryStore, *MemoryBlacklist) {
	t.Helper()
	clock := func() time.Time { return *now }
	codec, err := token.NewCodec("test-secret", token.WithClock(clock))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	store := NewMemoryStore()
	blacklist := NewMemoryBlacklist()
	svc := NewService(store, blacklist, codec, audit.NewRecorder(audit.LogSink{}),
		WithAccessTTL(30*time.Minute),
		WithRefreshTTL(7*24*time.Hour),
		WithServiceClock(clock),
	)
	return svc, store, blacklist
}

func TestCreateIssuesPair(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := newTestService(t, &now)
	ctx := context.Background()

	grant, err := svc.Create(ctx, "user-1", audit.Meta{IP: "10.0.0.1", Device: "laptop"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if grant.AccessToken == "" || grant.RefreshToken == "" || grant.SessionID == "" {
		t.Fatalf("incomplete grant: %+v", grant)
	}
	if grant.TokenType != "bearer" {
		t.Fatalf("unexpected token type: %s", grant.TokenType)
	}
	if grant.ExpiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expires_in: %d", grant.ExpiresIn)
	}

	sess, err := store.FindByID(ctx, grant.SessionID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if sess.IdentityID != "user-1" || !sess.Active || sess.Revoked {
		t.Fatalf("unexpected session state: %+v", sess)
	}
	if sess.Device != "laptop" || sess.IP != "10.0.0.1" {
		t.Fatalf("metadata not recorded: %+v", sess)
	}
}

func TestRefreshRotates(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := newTestService(t, &now)
	ctx := context.Background()

	grant, err := svc.Create(ctx, "user-1", audit.Meta{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	next, err := svc.Refresh(ctx, grant.RefreshToken, audit.Meta{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == grant.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if next.SessionID != grant.SessionID {
		t.Fatalf("rotation changed session identity: %s vs %s", next.SessionID, grant.SessionID)
	}

	sess, _ := store.FindByID(ctx, grant.SessionID)
	if sess.RefreshToken != next.RefreshToken {
		t.Fatal("store does not hold the rotated value")
	}
}

func TestRefreshReuseRevokesSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := newTestService(t, &now)
	ctx := context.Background()

	grant, _ := svc.Create(ctx, "user-1", audit.Meta{})
	next, err := svc.Refresh(ctx, grant.RefreshToken, audit.Meta{})
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	// Presenting the pre-rotation value again is treated as theft.
	if _, err := svc.Refresh(ctx, grant.RefreshToken, audit.Meta{}); !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected reuse rejection, got %v", err)
	}

	// Note: the stale value no longer resolves to the session, so the reuse
	// is rejected by lookup. A raced rotation on the live value is caught by
	// the conditional update and kills the session.
	ok, err := store.Rotate(ctx, grant.SessionID, "stale-value", "x", "jti", now)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if ok {
		t.Fatal("conditional rotation must fail for a stale value")
	}

	if _, err := svc.Refresh(ctx, next.RefreshToken, audit.Meta{}); err != nil {
		t.Fatalf("live value must still refresh: %v", err)
	}
}

func TestRefreshExpiredSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := newTestService(t, &now)
	ctx := context.Background()

	grant, _ := svc.Create(ctx, "user-1", audit.Meta{})
	now = now.Add(8 * 24 * time.Hour)

	if _, err := svc.Refresh(ctx, grant.RefreshToken, audit.Meta{}); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	sess, _ := store.FindByID(ctx, grant.SessionID)
	if !sess.Revoked || sess.RevokedReason != "expired" {
		t.Fatalf("expired session was not revoked lazily: %+v", sess)
	}
}

func TestRevokeRequiresOwnership(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, &now)
	ctx := context.Background()

	grant, _ := svc.Create(ctx, "user-1", audit.Meta{})
	if err := svc.Revoke(ctx, grant.SessionID, "user-2", "logout", audit.Meta{}); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := svc.Revoke(ctx, grant.SessionID, "user-1", "logout", audit.Meta{}); err != nil {
		t.Fatalf("owner revoke: %v", err)
	}
}

func TestForceRevokeSkipsOwnership(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := newTestService(t, &now)
	ctx := context.Background()

	grant, _ := svc.Create(ctx, "user-1", audit.Meta{})
	if err := svc.ForceRevoke(ctx, grant.SessionID, "admin-1", "revoked by administrator", audit.Meta{}); err != nil {
		t.Fatalf("force revoke: %v", err)
	}

	sess, _ := store.FindByID(ctx, grant.SessionID)
	if !sess.Revoked || sess.RevokedReason != "revoked by administrator" {
		t.Fatalf("session not revoked: %+v", sess)
	}
	// The owner's access token dies with the session.
	if _, err := svc.VerifyAccess(ctx, grant.AccessToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestRevokeBlacklistsAccessToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _, blacklist := newTestService(t, &now)
	ctx := context.Background()

	grant, _ := svc.Create(ctx, "user-1", audit.Meta{})
	if _, err := svc.VerifyAccess(ctx, grant.AccessToken); err != nil {
		t.Fatalf("access token must verify before revocation: %v", err)
	}

	if err := svc.Revoke(ctx, grant.SessionID, "user-1", "logout", audit.Meta{}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.VerifyAccess(ctx, grant.AccessToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked after revocation, got %v", err)
	}

	// Entries die with the token's own expiry.
	now = now.Add(time.Hour)
	purged, err := blacklist.Purge(ctx, now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged entry, got %d", purged)
	}
}

func TestRevokeAllSparesException(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := newTestService(t, &now)
	ctx := context.Background()

	var keep string
	for i := 0; i < 3; i++ {
		grant, err := svc.Create(ctx, "user-1", audit.Meta{})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		keep = grant.SessionID
	}

	n, err := svc.RevokeAll(ctx, "user-1", "password reset", keep, audit.Meta{})
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked sessions, got %d", n)
	}
	sess, _ := store.FindByID(ctx, keep)
	if sess.Revoked {
		t.Fatal("excepted session was revoked")
	}

	// Second pass finds nothing left to revoke.
	n, err = svc.RevokeAll(ctx, "user-1", "password reset", "", audit.Meta{})
	if err != nil {
		t.Fatalf("second revoke all: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the spared session only, got %d", n)
	}
}

func TestListOrdersByRecency(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, &now)
	ctx := context.Background()

	first, _ := svc.Create(ctx, "user-1", audit.Meta{Device: "old"})
	now = now.Add(time.Minute)
	second, _ := svc.Create(ctx, "user-1", audit.Meta{Device: "new"})

	list, err := svc.List(ctx, "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].ID != second.SessionID || list[1].ID != first.SessionID {
		t.Fatalf("sessions not ordered by recency: %s, %s", list[0].ID, list[1].ID)
	}

	// Refreshing the older session moves it to the front.
	now = now.Add(time.Minute)
	if _, err := svc.Refresh(ctx, first.RefreshToken, audit.Meta{}); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	list, _ = svc.List(ctx, "user-1")
	if list[0].ID != first.SessionID {
		t.Fatal("refreshed session should order first")
	}
}

func TestSweepExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := newTestService(t, &now)
	ctx := context.Background()

	grant, _ := svc.Create(ctx, "user-1", audit.Meta{})
	now = now.Add(8 * 24 * time.Hour)
	grantLive, _ := svc.Create(ctx, "user-1", audit.Meta{})

	swept, _, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept session, got %d", swept)
	}
	old, _ := store.FindByID(ctx, grant.SessionID)
	if !old.Revoked || old.RevokedReason != "expired" {
		t.Fatalf("expired session untouched: %+v", old)
	}
	live, _ := store.FindByID(ctx, grantLive.SessionID)
	if live.Revoked {
		t.Fatal("live session was swept")
	}
}
