package deadletter

import (
	"sort"
	"sync"
)

// MemoryStore is an in-memory dead-letter store.
// Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]storedEntry
	seq     int
	closed  bool
}

// storedEntry keeps the insertion sequence to break FailedAt ties.
type storedEntry struct {
	entry    Entry
	sequence int
}

// NewMemoryStore creates a new in-memory dead-letter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]storedEntry),
	}
}

// Save implements Store.
func (m *MemoryStore) Save(entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	m.seq++
	m.entries[entry.ID] = storedEntry{entry: copyEntry(entry), sequence: m.seq}
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(id string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Entry{}, ErrStoreClosed
	}

	stored, ok := m.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return copyEntry(stored.entry), nil
}

// List implements Store.
func (m *MemoryStore) List(eventType string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	matched := make([]storedEntry, 0, len(m.entries))
	for _, stored := range m.entries {
		if eventType == "" || stored.entry.EventType == eventType {
			matched = append(matched, stored)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.entry.FailedAt.Equal(b.entry.FailedAt) {
			return a.entry.FailedAt.Before(b.entry.FailedAt)
		}
		return a.sequence < b.sequence
	})

	entries := make([]Entry, len(matched))
	for i, stored := range matched {
		entries[i] = copyEntry(stored.entry)
	}
	return entries, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.entries, id)
	return nil
}

// Purge implements Store.
func (m *MemoryStore) Purge(eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	for id, stored := range m.entries {
		if stored.entry.EventType == eventType {
			delete(m.entries, id)
		}
	}
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.entries = nil
	return nil
}

// Len returns the number of stored entries.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// copyEntry detaches the Args buffer from the caller's slice.
func copyEntry(e Entry) Entry {
	if e.Args != nil {
		args := make([]byte, len(e.Args))
		copy(args, e.Args)
		e.Args = args
	}
	return e
}
