// Package deadletter keeps failures that no caller was waiting for.
//
// Fire-and-forget broadcasts have nobody to return an error to. The engine
// hands such failures to a Store so they can be inspected or replayed later.
package deadletter

import (
	"errors"
)

// Store persists dead-letter entries.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores an entry. An entry with an existing ID replaces it.
	Save(entry Entry) error

	// Get retrieves an entry by ID.
	// Returns ErrNotFound if the entry doesn't exist.
	Get(id string) (Entry, error)

	// List returns entries for an event type, oldest failure first.
	// An empty eventType lists every entry.
	// Returns empty slice (not error) if there are none.
	List(eventType string) ([]Entry, error)

	// Delete removes an entry.
	// Returns nil if the entry doesn't exist.
	Delete(id string) error

	// Purge removes all entries for an event type.
	// Returns nil if there are none.
	Purge(eventType string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for dead-letter operations.
var (
	// ErrNotFound indicates an entry doesn't exist.
	ErrNotFound = errors.New("dead-letter entry not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("dead-letter store closed")
)
