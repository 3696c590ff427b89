package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a single-process Locker for tests and the memory storage driver.
type Memory struct {
	mu     sync.Mutex
	now    func() time.Time
	claims map[string]claim
}

type claim struct {
	token   string
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now, claims: map[string]claim{}}
}

// WithClock replaces the time source; tests use it to expire claims.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if c, ok := m.claims[key]; ok && now.Before(c.expires) {
		return nil, ErrHeld
	}
	token := uuid.NewString()
	m.claims[key] = claim{token: token, expires: now.Add(ttl)}
	return &memoryLease{owner: m, key: key, token: token}, nil
}

func (m *Memory) extend(key, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[key]
	if !ok || c.token != token {
		return ErrLost
	}
	c.expires = m.now().Add(ttl)
	m.claims[key] = c
	return nil
}

func (m *Memory) release(key, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.claims[key]; ok && c.token == token {
		delete(m.claims, key)
	}
}

type memoryLease struct {
	owner *Memory
	key   string
	token string
}

func (l *memoryLease) Key() string { return l.key }

func (l *memoryLease) Extend(_ context.Context, ttl time.Duration) error {
	return l.owner.extend(l.key, l.token, ttl)
}

func (l *memoryLease) Release(context.Context) error {
	l.owner.release(l.key, l.token)
	return nil
}
