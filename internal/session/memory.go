package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"authcore.org/internal/ids"
)

var (
	_ Store          = (*MemoryStore)(nil)
	_ BlacklistStore = (*MemoryBlacklist)(nil)
)

// MemoryStore is an in-memory Store for tests and development runs.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Session)}
}

func (s *MemoryStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	sess.Active = true
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	s.rows[sess.ID] = cloneSession(sess)
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(row), nil
}

func (s *MemoryStore) FindByRefreshToken(_ context.Context, value string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.RefreshToken == value {
			return cloneSession(row), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Rotate(_ context.Context, id, old, next, accessTokenID string, lastUsed time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.RefreshToken != old || !row.Active || row.Revoked {
		return false, nil
	}
	row.RefreshToken = next
	row.AccessTokenID = accessTokenID
	row.LastUsedAt = lastUsed
	return true, nil
}

func (s *MemoryStore) MarkRevoked(_ context.Context, id string, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.Revoked {
		return ErrNotFound
	}
	row.Active = false
	row.Revoked = true
	t := at
	row.RevokedAt = &t
	row.RevokedReason = reason
	return nil
}

func (s *MemoryStore) RevokeAll(_ context.Context, identityID string, at time.Time, reason, exceptID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, row := range s.rows {
		if row.IdentityID != identityID || !row.Active || row.Revoked || row.ID == exceptID {
			continue
		}
		row.Active = false
		row.Revoked = true
		t := at
		row.RevokedAt = &t
		row.RevokedReason = reason
		n++
	}
	return n, nil
}

func (s *MemoryStore) ListActive(_ context.Context, identityID string, now time.Time) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*Session
	for _, row := range s.rows {
		if row.IdentityID == identityID && row.Active && !row.Revoked && row.ExpiresAt.After(now) {
			res = append(res, cloneSession(row))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].LastUsedAt.After(res[j].LastUsedAt)
	})
	return res, nil
}

func (s *MemoryStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, row := range s.rows {
		if row.Revoked || row.ExpiresAt.After(now) {
			continue
		}
		row.Active = false
		row.Revoked = true
		t := now
		row.RevokedAt = &t
		row.RevokedReason = "expired"
		n++
	}
	return n, nil
}

func cloneSession(sess *Session) *Session {
	out := *sess
	if sess.RevokedAt != nil {
		t := *sess.RevokedAt
		out.RevokedAt = &t
	}
	return &out
}

// MemoryBlacklist is an in-memory BlacklistStore.
type MemoryBlacklist struct {
	mu   sync.Mutex
	rows map[string]*BlacklistedToken
}

func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{rows: make(map[string]*BlacklistedToken)}
}

func (s *MemoryBlacklist) Add(_ context.Context, t *BlacklistedToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[t.JTI]; !ok {
		copied := *t
		s.rows[t.JTI] = &copied
	}
	return nil
}

func (s *MemoryBlacklist) Contains(_ context.Context, jti string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[jti]
	return ok && row.ExpiresAt.After(now), nil
}

func (s *MemoryBlacklist) Purge(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for jti, row := range s.rows {
		if !row.ExpiresAt.After(now) {
			delete(s.rows, jti)
			n++
		}
	}
	return n, nil
}
