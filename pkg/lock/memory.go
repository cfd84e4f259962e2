package lock

import (
	"fmt"
	"sync"
)

// MemoryManager implements Manager within a single process.
type MemoryManager struct {
	mu   sync.Mutex
	held map[Scope]*memoryLock
}

// NewMemoryManager returns an empty in-process lock table.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{held: make(map[Scope]*memoryLock)}
}

// TryAcquire takes scope or returns ErrBusy.
func (m *MemoryManager) TryAcquire(scope Scope) (Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[scope]; ok {
		return nil, fmt.Errorf("lock %s: %w", scope, ErrBusy)
	}
	l := &memoryLock{m: m, scope: scope}
	m.held[scope] = l
	return l, nil
}

// Held reports whether scope is currently held.
func (m *MemoryManager) Held(scope Scope) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[scope]
	return ok
}

type memoryLock struct {
	m     *MemoryManager
	scope Scope
}

func (l *memoryLock) Scope() Scope { return l.scope }

func (l *memoryLock) Release() error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	// Releasing a lock we no longer hold is a no-op.
	if cur, ok := l.m.held[l.scope]; ok && cur == l {
		delete(l.m.held, l.scope)
	}
	return nil
}
