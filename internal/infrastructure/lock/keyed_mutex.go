// Package lock provides shared.Locker implementations.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/palmtrace/backend/internal/domain/shared"
)

// KeyedMutex is an in-process exclusive lock per key. Waiting honours
// context cancellation and the configured timeout.
type KeyedMutex struct {
	mu      sync.Mutex
	slots   map[string]*slot
	timeout time.Duration
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates a KeyedMutex; timeout <= 0 waits as long as ctx allows
func NewKeyedMutex(timeout time.Duration) *KeyedMutex {
	return &KeyedMutex{
		slots:   make(map[string]*slot),
		timeout: timeout,
	}
}

// Acquire blocks until the lock for key is held
func (m *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	s := m.ref(key)
	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		m.unref(key)
		return nil, timeoutError(key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			m.unref(key)
		})
	}, nil
}

// Held returns the number of keys currently locked or awaited
func (m *KeyedMutex) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

func (m *KeyedMutex) ref(key string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	return s
}

func (m *KeyedMutex) unref(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

func timeoutError(key string, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return shared.WrapDomainError(shared.CodeLockTimeout, fmt.Sprintf("Timed out waiting for lock %s", key), cause)
	}
	return fmt.Errorf("waiting for lock %s: %w", key, cause)
}

var _ shared.Locker = (*KeyedMutex)(nil)
