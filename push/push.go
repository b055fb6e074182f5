// Package push delivers the backend's live notifications. Two transports
// are provided behind one interface: the production SSE stream and a
// websocket stream. Both reconnect with exponential backoff and both drop
// malformed payloads silently; deciding what an event means is the
// consumer's business.
package push

import "encoding/json"

// TypeRematDone signals a completed server-side re-materialization. It is
// the only event type the sync core reacts to.
const TypeRematDone = "remat_done"

// Event is one parsed push message.
type Event struct {
	Type       string `json:"type"`
	ProjectID  int64  `json:"project_id"`
	Scope      string `json:"scope,omitempty"`
	Sheet      string `json:"sheet,omitempty"`
	HeaderRows *bool  `json:"header_rows,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Source is a live event stream. Events is closed after Close, once the
// reader goroutine has wound down.
type Source interface {
	Events() <-chan Event
	Close() error
}

// decode parses a raw payload; malformed or non-JSON payloads report false
// and are ignored without error.
func decode(raw []byte) (Event, bool) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, false
	}
	if ev.Type == "" {
		return Event{}, false
	}
	return ev, true
}
