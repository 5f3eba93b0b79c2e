package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"authcore.org/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store used by tests and single-process
// development runs.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*Identity
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Identity), now: time.Now}
}

// WithClock overrides the time source. Tests only.
func (s *MemoryStore) WithClock(fn func() time.Time) *MemoryStore {
	s.now = fn
	return s
}

func (s *MemoryStore) Create(_ context.Context, id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if strings.EqualFold(row.Email, id.Email) {
			return ErrEmailTaken
		}
		if row.Username == id.Username {
			return ErrUsernameTaken
		}
		if id.Provider != "" && row.Provider == id.Provider && row.ProviderSubject == id.ProviderSubject {
			return ErrProviderLinked
		}
	}
	if id.ID == "" {
		id.ID = ids.New()
	}
	id.Email = strings.ToLower(id.Email)
	id.CreatedAt = s.now()
	id.UpdatedAt = id.CreatedAt
	s.rows[id.ID] = clone(id)
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(row), nil
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if strings.EqualFold(row.Email, email) {
			return clone(row), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindByUsername(_ context.Context, username string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.Username == username {
			return clone(row), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindByProvider(_ context.Context, provider, subject string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.Provider == provider && row.ProviderSubject == subject {
			return clone(row), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Update(_ context.Context, id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.rows[id.ID]
	if !ok {
		return ErrNotFound
	}
	next := clone(id)
	// Counter and lock fields belong to the atomic operations below.
	next.FailedAttempts = stored.FailedAttempts
	next.LockedUntil = stored.LockedUntil
	next.LastLogin = stored.LastLogin
	next.CreatedAt = stored.CreatedAt
	next.UpdatedAt = s.now()
	s.rows[id.ID] = next
	return nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return 0, ErrNotFound
	}
	row.FailedAttempts++
	row.UpdatedAt = s.now()
	return row.FailedAttempts, nil
}

func (s *MemoryStore) SetLock(_ context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	u := until
	row.LockedUntil = &u
	row.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) ClearLock(_ context.Context, id string, lastLogin time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	row.FailedAttempts = 0
	row.LockedUntil = nil
	t := lastLogin
	row.LastLogin = &t
	row.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) UnlockExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, row := range s.rows {
		if row.LockedUntil != nil && !row.LockedUntil.After(now) {
			row.LockedUntil = nil
			row.FailedAttempts = 0
			n++
		}
	}
	return n, nil
}

func clone(id *Identity) *Identity {
	out := *id
	if id.LockedUntil != nil {
		t := *id.LockedUntil
		out.LockedUntil = &t
	}
	if id.LastLogin != nil {
		t := *id.LastLogin
		out.LastLogin = &t
	}
	if id.EmailVerifiedAt != nil {
		t := *id.EmailVerifiedAt
		out.EmailVerifiedAt = &t
	}
	return &out
}
