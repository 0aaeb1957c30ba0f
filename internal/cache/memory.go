package cache

import "sync"

// Memory is a Backend that keeps values in process memory.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get implements Backend.
func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, v...), true, nil
}

// Put implements Backend.
func (m *Memory) Put(key string, value []byte) error {
	m.mu.Lock()
	m.data[key] = append([]byte{}, value...)
	m.mu.Unlock()
	return nil
}

// Delete implements Backend.
func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Close implements Backend.
func (m *Memory) Close() error { return nil }
