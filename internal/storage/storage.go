package storage

import "time"

// Event is one completed assistant turn: the user's message and the reply
// as it stood when the turn closed.
type Event struct {
	Timestamp         time.Time `json:"timestamp"`
	UserID            int64     `json:"user_id"`
	ThreadID          string    `json:"thread_id,omitempty"`
	UserMessage       string    `json:"user_message"`
	AssistantResponse string    `json:"assistant_response"`
	Failed            bool      `json:"failed,omitempty"`
	Cancelled         bool      `json:"cancelled,omitempty"`
	Guest             bool      `json:"guest,omitempty"`
}

// Recorder persists turns. LoadInteractions returns them in the order they
// were appended. Implementations must be safe for concurrent use.
type Recorder interface {
	AppendInteraction(event Event) error
	LoadInteractions() ([]Event, error)
}

// Query selects recorded turns. Zero fields match everything.
type Query struct {
	UserID   int64
	ThreadID string
	// Since drops turns recorded before it.
	Since time.Time
}

func (q Query) Match(ev Event) bool {
	if q.UserID != 0 && ev.UserID != q.UserID {
		return false
	}
	if q.ThreadID != "" && ev.ThreadID != q.ThreadID {
		return false
	}
	return q.Since.IsZero() || !ev.Timestamp.Before(q.Since)
}

// Filter returns the events matching q, keeping their order.
func Filter(events []Event, q Query) []Event {
	var out []Event
	for _, ev := range events {
		if q.Match(ev) {
			out = append(out, ev)
		}
	}
	return out
}
