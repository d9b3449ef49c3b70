package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"churn-calc/internal/common/config"
	"churn-calc/internal/common/errors"

	"github.com/redis/go-redis/v9"
)

// Store persists sessions between form steps.
type Store interface {
	Create(ctx context.Context) (*State, error)
	Load(ctx context.Context, id string) (*State, error)
	// Update loads the session, applies actions and saves the result
	// atomically with respect to other updates of the same session.
	Update(ctx context.Context, id string, actions ...Action) (*State, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// NewStore returns the store selected by cfg. client is only used by the redis backend.
func NewStore(cfg config.SessionConfig, client *redis.Client) (Store, error) {
	ttl := time.Duration(cfg.TTL) * time.Millisecond
	switch cfg.Backend {
	case config.SessionBackendRedis:
		if client == nil {
			return nil, fmt.Errorf("redis session backend requires a redis client")
		}
		return NewRedisStore(client, cfg.KeyPrefix, ttl), nil
	case config.SessionBackendMemory, "":
		return NewMemoryStore(ttl), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

// MemoryStore keeps sessions in process. Used by tests and single-instance deployments.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]memoryEntry
}

type memoryEntry struct {
	state     State
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]memoryEntry),
	}
}

func (m *MemoryStore) Create(_ context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictExpired()
	s := New(m.now())
	m.put(*s)
	return s, nil
}

func (m *MemoryStore) Load(_ context.Context, id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.get(id)
	if !ok {
		return nil, errors.NewSessionNotFoundError(id)
	}
	s := entry.state
	return &s, nil
}

func (m *MemoryStore) Update(_ context.Context, id string, actions ...Action) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.get(id)
	if !ok {
		return nil, errors.NewSessionNotFoundError(id)
	}

	next, err := ReduceAll(entry.state, actions...)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = m.now().UTC()
	m.put(next)
	return &next, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.get(id); !ok {
		return errors.NewSessionNotFoundError(id)
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) get(id string) (memoryEntry, bool) {
	entry, ok := m.sessions[id]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.sessions, id)
		return memoryEntry{}, false
	}
	return entry, true
}

func (m *MemoryStore) put(s State) {
	entry := memoryEntry{state: s}
	if m.ttl > 0 {
		entry.expiresAt = m.now().Add(m.ttl)
	}
	m.sessions[s.ID] = entry
}

func (m *MemoryStore) evictExpired() {
	now := m.now()
	for id, entry := range m.sessions {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(m.sessions, id)
		}
	}
}
