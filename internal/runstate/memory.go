package runstate

import "sync"

// MemoryStore is an in-process Store, used by tests and single-process runs.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
	// FailOn makes Set fail for the named key.
	FailOn string
}

var (
	_ Store     = (*MemoryStore)(nil)
	_ Forgetter = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get implements Store.
func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// Set implements Store.
func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailOn != "" && m.FailOn == key {
		return errStoreUnavailable
	}
	m.values[key] = value
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Forget implements Forgetter.
func (m *MemoryStore) Forget(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
