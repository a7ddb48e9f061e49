// Package tracker records coordination-relevant events as a pure,
// append-only, in-memory log per session. It performs no coordination
// logic: it only records what the orchestrator already decided, so a
// post-hoc table builder can render round-by-round progress without
// replaying agents.
package tracker

import (
	"sync"
	"time"
)

// EventType identifies the kind of coordination event.
type EventType string

const (
	EventContextReceived    EventType = "context_received"
	EventNewAnswer          EventType = "new_answer"
	EventVoteCast           EventType = "vote_cast"
	EventStatusChange       EventType = "status_change"
	EventRestartCompleted   EventType = "restart_completed"
	EventFinalAnswer        EventType = "final_answer"
	EventFinalAgentSelected EventType = "final_agent_selected"
	EventFinalRoundStart    EventType = "final_round_start"
)

// Event is one entry in the coordination log.
type Event struct {
	// Seq is strictly monotonically increasing within a session.
	Seq       uint64         `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"event_type"`
	AgentID   string         `json:"agent_id,omitempty"`
	Round     int            `json:"round,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Subscriber receives events as they are recorded. Callbacks run on
// the recording goroutine and must not block.
type Subscriber func(Event)

// Tracker is the per-session event log.
type Tracker struct {
	mu          sync.Mutex
	seq         uint64
	events      []Event
	subscribers []Subscriber
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{}
}

// Record appends an event, assigning its sequence number and
// timestamp, and notifies subscribers in registration order.
func (t *Tracker) Record(eventType EventType, agentID string, round int, details map[string]any) Event {
	t.mu.Lock()
	t.seq++
	event := Event{
		Seq:       t.seq,
		Timestamp: time.Now(),
		Type:      eventType,
		AgentID:   agentID,
		Round:     round,
		Details:   details,
	}
	t.events = append(t.events, event)
	subs := make([]Subscriber, len(t.subscribers))
	copy(subs, t.subscribers)
	t.mu.Unlock()

	for _, sub := range subs {
		sub(event)
	}
	return event
}

// Subscribe registers a callback for future events.
func (t *Tracker) Subscribe(sub Subscriber) {
	if sub == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers = append(t.subscribers, sub)
}

// Events returns a copy of the log in recording order.
func (t *Tracker) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// EventsOfType returns recorded events matching the given type.
func (t *Tracker) EventsOfType(eventType EventType) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Event
	for _, e := range t.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of recorded events.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}
