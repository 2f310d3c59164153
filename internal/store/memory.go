package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation for demo mode and tests.
// TTLs are enforced lazily on access. Data does not survive a restart.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	sets   map[string]map[string]struct{}
	hashes map[string]map[string]string
	expiry map[string]time.Time

	// now is swappable so tests can step time past TTLs.
	now func() time.Time
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]string),
		sets:   make(map[string]map[string]struct{}),
		hashes: make(map[string]map[string]string),
		expiry: make(map[string]time.Time),
		now:    time.Now,
	}
}

// SetClock overrides the store's clock. Test helper.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// expireLocked drops key if its TTL has passed. Caller holds mu.
func (m *MemoryStore) expireLocked(key string) {
	if at, ok := m.expiry[key]; ok && m.now().After(at) {
		delete(m.values, key)
		delete(m.sets, key)
		delete(m.hashes, key)
		delete(m.expiry, key)
	}
}

func (m *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)

	n := int64(0)
	if cur, ok := m.values[key]; ok {
		parsed, err := strconv.ParseInt(cur, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("incr %s: value is not an integer", key)
		}
		n = parsed
	}
	n++
	m.values[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)

	_, hasValue := m.values[key]
	_, hasSet := m.sets[key]
	_, hasHash := m.hashes[key]
	if !hasValue && !hasSet && !hasHash {
		return nil
	}
	m.expiry[key] = m.now().Add(ttl)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)

	val, ok := m.values[key]
	return val, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	if ttl > 0 {
		m.expiry[key] = m.now().Add(ttl)
	} else {
		delete(m.expiry, key)
	}
	return nil
}

func (m *MemoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
		delete(m.sets, key)
		delete(m.hashes, key)
		delete(m.expiry, key)
	}
	return nil
}

func (m *MemoryStore) SetAdd(_ context.Context, set, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(set)

	if m.sets[set] == nil {
		m.sets[set] = make(map[string]struct{})
	}
	m.sets[set][member] = struct{}{}
	return nil
}

func (m *MemoryStore) SetRemove(_ context.Context, set, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(set)

	if members, ok := m.sets[set]; ok {
		delete(members, member)
	}
	return nil
}

func (m *MemoryStore) SetContains(_ context.Context, set, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(set)

	_, ok := m.sets[set][member]
	return ok, nil
}

func (m *MemoryStore) SetMembers(_ context.Context, set string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(set)

	members := make([]string, 0, len(m.sets[set]))
	for member := range m.sets[set] {
		members = append(members, member)
	}
	return members, nil
}

func (m *MemoryStore) HashGet(_ context.Context, key, field string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)

	val, ok := m.hashes[key][field]
	return val, ok, nil
}

func (m *MemoryStore) HashSet(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)

	if m.hashes[key] == nil {
		m.hashes[key] = make(map[string]string)
	}
	m.hashes[key][field] = value
	return nil
}

func (m *MemoryStore) HashIncr(_ context.Context, key, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)

	if m.hashes[key] == nil {
		m.hashes[key] = make(map[string]string)
	}
	n := int64(0)
	if cur, ok := m.hashes[key][field]; ok {
		parsed, err := strconv.ParseInt(cur, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("hincrby %s %s: value is not an integer", key, field)
		}
		n = parsed
	}
	n += delta
	m.hashes[key][field] = strconv.FormatInt(n, 10)
	return n, nil
}
