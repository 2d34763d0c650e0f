package storage

import "sync"

// Memory is an in-memory KV implementation. It backs tests and the
// memory-only degradation path, and can enforce a byte quota to exercise
// the same failure handling a full disk or browser quota would trigger.
type Memory struct {
	mu       sync.RWMutex
	data     map[string][]byte
	maxBytes int
}

// NewMemory creates an unbounded in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// NewMemoryWithQuota creates an in-memory store that rejects writes once the
// total stored bytes would exceed maxBytes.
func NewMemoryWithQuota(maxBytes int) *Memory {
	return &Memory{data: make(map[string][]byte), maxBytes: maxBytes}
}

// Get returns the value for key and whether it exists.
func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

// Set stores value under key, enforcing the quota when configured.
func (m *Memory) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxBytes > 0 {
		total := len(value)
		for k, v := range m.data {
			if k == key {
				continue
			}
			total += len(v)
		}
		if total > m.maxBytes {
			return ErrQuotaExceeded
		}
	}

	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

// Delete removes key.
func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Keys returns all stored keys.
func (m *Memory) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}
