// Package event defines the visibility events emitted by viewwatch. These
// are the public API contract: sinks serialise them, consumers import this
// package to decode them.
package event

import (
	"encoding/json"
)

// Direction is "entered" or "left".
type Direction string

const (
	Entered Direction = "entered"
	Left    Direction = "left"
)

// Event is one visibility change of one observed target.
type Event struct {
	ID         string    `json:"id"` // UUIDv7
	PageID     string    `json:"page_id"`
	PageURL    string    `json:"page_url"`
	Seq        uint64    `json:"seq"` // monotonically increasing per page
	Target     string    `json:"target"`   // configured target name
	Selector   string    `json:"selector"` // CSS selector the target was found with
	Path       string    `json:"path"`     // element path, root first
	Direction  Direction `json:"direction"`
	Ratio      float64   `json:"ratio"`
	HostTimeMs float64   `json:"host_time_ms"` // page time origin relative
	WatcherKey string    `json:"watcher_key"`
	Timestamp  int64     `json:"timestamp"` // epoch milliseconds at emission
}

// Marshal encodes an event as JSON.
func Marshal(e *Event) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes an event.
func Unmarshal(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
