package identity

import (
	"context"
	"sync"
)

// MemoryBackend keeps namespaces in process memory. Tests use it to inspect
// what was persisted and to inject save failures.
type MemoryBackend struct {
	mutex     sync.Mutex
	stores    map[Namespace]Entries
	corrupted map[Namespace]bool
	saves     int
	failAfter int
	saveErr   error
	closed    bool
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		stores:    make(map[Namespace]Entries),
		corrupted: make(map[Namespace]bool),
		failAfter: -1,
	}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Load(ctx context.Context, ns Namespace) (Entries, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil, ErrBackendClosed
	}
	if m.corrupted[ns] {
		return nil, ErrStoreCorrupted
	}
	entries, ok := m.stores[ns]
	if !ok {
		return nil, ErrStoreNotFound
	}
	return entries.Clone(), nil
}

func (m *MemoryBackend) Save(ctx context.Context, ns Namespace, entries Entries) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return ErrBackendClosed
	}
	if m.saveErr != nil && m.failAfter >= 0 && m.saves >= m.failAfter {
		return m.saveErr
	}
	m.saves++
	m.stores[ns] = entries.Clone()
	delete(m.corrupted, ns)
	return nil
}

func (m *MemoryBackend) HealthCheck(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return ErrBackendClosed
	}
	return nil
}

// Close marks the backend closed; the stored data stays readable through Stored
func (m *MemoryBackend) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
	return nil
}

// Quarantine drops the corrupt marker, leaving the namespace absent
func (m *MemoryBackend) Quarantine(ctx context.Context, ns Namespace) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.corrupted, ns)
	delete(m.stores, ns)
	return "memory:" + string(ns) + ".corrupt", nil
}

// Seed replaces a namespace without counting a save
func (m *MemoryBackend) Seed(ns Namespace, entries Entries) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stores[ns] = entries.Clone()
}

// Corrupt makes the next Load of ns fail with ErrStoreCorrupted
func (m *MemoryBackend) Corrupt(ns Namespace) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.corrupted[ns] = true
}

// FailSavesAfter makes every save after the first n successful ones return err
func (m *MemoryBackend) FailSavesAfter(n int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.failAfter = n
	m.saveErr = err
}

// Stored returns a copy of what was last persisted for ns
func (m *MemoryBackend) Stored(ns Namespace) Entries {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.stores[ns].Clone()
}

// Saves returns the number of successful saves
func (m *MemoryBackend) Saves() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.saves
}
