package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Handshake is the server-side material bound to one authorization redirect.
type Handshake struct {
	Provider     string    `json:"provider"`
	CodeVerifier string    `json:"code_verifier"`
	RedirectURI  string    `json:"redirect_uri"`
	IssuedAt     time.Time `json:"issued_at"`
}

// StateStore keeps pending handshakes keyed by state token. TakeOnce must
// consume the entry so a state value can never complete two callbacks.
type StateStore interface {
	Put(ctx context.Context, state string, h Handshake, ttl time.Duration) error
	TakeOnce(ctx context.Context, state string) (*Handshake, bool, error)
}

// MemoryStateStore is an in-process StateStore for tests and single-node
// deployments.
type MemoryStateStore struct {
	mu   sync.Mutex
	rows map[string]memoryState
	now  func() time.Time
}

type memoryState struct {
	handshake Handshake
	deadline  time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{rows: make(map[string]memoryState), now: time.Now}
}

// WithStateClock overrides the expiry clock (useful for tests).
func (s *MemoryStateStore) WithStateClock(fn func() time.Time) *MemoryStateStore {
	if fn != nil {
		s.now = fn
	}
	return s
}

func (s *MemoryStateStore) Put(_ context.Context, state string, h Handshake, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[state] = memoryState{handshake: h, deadline: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStateStore) TakeOnce(_ context.Context, state string) (*Handshake, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[state]
	if !ok {
		return nil, false, nil
	}
	delete(s.rows, state)
	if !row.deadline.After(s.now()) {
		return nil, false, nil
	}
	h := row.handshake
	return &h, true, nil
}

// RedisStateStore shares pending handshakes across instances. GETDEL gives
// the single-use guarantee atomically.
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: "oauth:state:"}
}

func (s *RedisStateStore) Put(ctx context.Context, state string, h Handshake, ttl time.Duration) error {
	payload, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("oauth: encode handshake: %w", err)
	}
	return s.client.Set(ctx, s.prefix+state, payload, ttl).Err()
}

func (s *RedisStateStore) TakeOnce(ctx context.Context, state string) (*Handshake, bool, error) {
	payload, err := s.client.GetDel(ctx, s.prefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var h Handshake
	if err := json.Unmarshal(payload, &h); err != nil {
		return nil, false, fmt.Errorf("oauth: decode handshake: %w", err)
	}
	return &h, true, nil
}
