package deadletter

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry records one failed delivery.
type Entry struct {
	ID        string `json:"id"`
	CallID    string `json:"call_id"`
	EventType string `json:"event_type"`
	Method    string `json:"method"`

	// Kind is the dispatch error kind ("handler_failure", "expired", ...).
	Kind  string `json:"kind"`
	Error string `json:"error"`

	// Args holds the call arguments as JSON, or null when they could
	// not be encoded.
	Args json.RawMessage `json:"args,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	FailedAt  time.Time `json:"failed_at"`

	// Attempts counts delivery rounds made before giving up.
	Attempts int `json:"attempts"`
}

// NewEntry creates an entry with a fresh ID and FailedAt set to now.
// Arguments that cannot be JSON-encoded are dropped.
func NewEntry(callID, eventType, method, kind string, err error, args []any, createdAt time.Time) Entry {
	e := Entry{
		ID:        uuid.NewString(),
		CallID:    callID,
		EventType: eventType,
		Method:    method,
		Kind:      kind,
		CreatedAt: createdAt.UTC(),
		FailedAt:  time.Now().UTC(),
		Attempts:  1,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if len(args) > 0 {
		if data, jerr := json.Marshal(args); jerr == nil {
			e.Args = data
		}
	}
	return e
}

// WithAttempts sets the number of delivery rounds.
func (e Entry) WithAttempts(n int) Entry {
	e.Attempts = n
	return e
}

// Marshal serializes an entry to JSON.
func (e Entry) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal deserializes an entry from JSON.
func Unmarshal(data []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}
