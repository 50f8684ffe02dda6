// Package notify carries lifecycle events from the engine to whoever is listening.
package notify

import "time"

// EventType names a lifecycle event.
type EventType string

const (
	EventSessionCreated      EventType = "session_created"
	EventSessionReconnected  EventType = "session_reconnected"
	EventSessionInactive     EventType = "session_inactive"
	EventSessionDisconnected EventType = "session_disconnected"
	EventSessionRecovered    EventType = "session_recovered"
	EventRecoveryEnabled     EventType = "recovery_enabled"
	EventWindowCreated       EventType = "window_created"
	EventWindowOverlap       EventType = "window_overlap"
	EventWindowSplit         EventType = "window_split"
	EventWindowMerged        EventType = "window_merged"
	EventWindowClosed        EventType = "window_closed"
)

// Event is a single notification. WindowIDs lists the windows the event
// touched (new windows first, then the ones they relate to).
type Event struct {
	Type      EventType
	SessionID string
	WindowIDs []string
	Source    string
	At        time.Time
}

// Observer receives events synchronously on the caller's goroutine.
// Implementations must not block.
type Observer interface {
	Notify(Event)
}

// Func adapts a function to Observer.
type Func func(Event)

// Notify calls f(e).
func (f Func) Notify(e Event) { f(e) }

type nop struct{}

func (nop) Notify(Event) {}

// Nop discards every event.
var Nop Observer = nop{}

// Multi fans an event out to several observers in order. Nil entries are skipped.
func Multi(observers ...Observer) Observer {
	var live []Observer
	for _, o := range observers {
		if o != nil {
			live = append(live, o)
		}
	}
	switch len(live) {
	case 0:
		return Nop
	case 1:
		return live[0]
	}
	return multi(live)
}

type multi []Observer

func (m multi) Notify(e Event) {
	for _, o := range m {
		o.Notify(e)
	}
}

// OrNop returns o, or Nop when o is nil.
func OrNop(o Observer) Observer {
	if o == nil {
		return Nop
	}
	return o
}
