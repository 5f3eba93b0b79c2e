package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*CachedStore)(nil)

// CachedStore is a read-through cache decorator over another Store. Only
// FindByID is served from cache; every mutation invalidates the cached row.
// Correctness never depends on the cache: redis failures fall through to the
// inner store.
type CachedStore struct {
	inner Store
	rdb   *redis.Client
	ttl   time.Duration
}

func NewCachedStore(inner Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{inner: inner, rdb: rdb, ttl: ttl}
}

func cacheKey(id string) string { return "identity:" + id }

func (s *CachedStore) FindByID(ctx context.Context, id string) (*Identity, error) {
	if data, err := s.rdb.Get(ctx, cacheKey(id)).Bytes(); err == nil {
		var ident Identity
		if json.Unmarshal(data, &ident) == nil {
			return &ident, nil
		}
	}
	ident, err := s.inner.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(ident); err == nil {
		s.rdb.Set(ctx, cacheKey(ident.ID), data, s.ttl)
	}
	return ident, nil
}

func (s *CachedStore) Create(ctx context.Context, id *Identity) error {
	return s.inner.Create(ctx, id)
}

func (s *CachedStore) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	return s.inner.FindByEmail(ctx, email)
}

func (s *CachedStore) FindByUsername(ctx context.Context, username string) (*Identity, error) {
	return s.inner.FindByUsername(ctx, username)
}

func (s *CachedStore) FindByProvider(ctx context.Context, provider, subject string) (*Identity, error) {
	return s.inner.FindByProvider(ctx, provider, subject)
}

func (s *CachedStore) Update(ctx context.Context, id *Identity) error {
	err := s.inner.Update(ctx, id)
	if err == nil {
		s.rdb.Del(ctx, cacheKey(id.ID))
	}
	return err
}

func (s *CachedStore) RecordFailure(ctx context.Context, id string) (int, error) {
	count, err := s.inner.RecordFailure(ctx, id)
	if err == nil {
		s.rdb.Del(ctx, cacheKey(id))
	}
	return count, err
}

func (s *CachedStore) SetLock(ctx context.Context, id string, until time.Time) error {
	err := s.inner.SetLock(ctx, id, until)
	if err == nil {
		s.rdb.Del(ctx, cacheKey(id))
	}
	return err
}

func (s *CachedStore) ClearLock(ctx context.Context, id string, lastLogin time.Time) error {
	err := s.inner.ClearLock(ctx, id, lastLogin)
	if err == nil {
		s.rdb.Del(ctx, cacheKey(id))
	}
	return err
}

func (s *CachedStore) UnlockExpired(ctx context.Context, now time.Time) (int, error) {
	// Rows touched here are read again lazily; a short TTL bounds staleness.
	return s.inner.UnlockExpired(ctx, now)
}
