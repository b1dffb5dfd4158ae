package types

import "time"

// EventType defines the type of event emitted while an operation runs.
type EventType string

const (
	EventTypeLog      EventType = "log"      // EventTypeLog carries a human-readable log line.
	EventTypeProgress EventType = "progress" // EventTypeProgress carries a progress update.
	EventTypeNote     EventType = "note"     // EventTypeNote carries a NoteSummary streamed by a crawl.
)

// Event represents an entry on an operation's event stream.
type Event struct {
	// Time is when the event was emitted.
	Time time.Time

	// Note is the streamed summary (for note events).
	Note *NoteSummary

	// Message is the log line or the progress caption.
	Message string

	// Type indicates the kind of event.
	Type EventType

	// Current is the progress numerator (for progress events).
	Current int

	// Total is the fixed progress denominator (for progress events).
	Total int
}

// NewLogEvent creates a log event.
func NewLogEvent(message string) *Event {
	return &Event{
		Type:    EventTypeLog,
		Message: message,
		Time:    time.Now(),
	}
}

// NewProgressEvent creates a progress event.
func NewProgressEvent(current, total int, message string) *Event {
	return &Event{
		Type:    EventTypeProgress,
		Current: current,
		Total:   total,
		Message: message,
		Time:    time.Now(),
	}
}

// NewNoteEvent creates a note event for a streamed search result.
func NewNoteEvent(note NoteSummary) *Event {
	return &Event{
		Type: EventTypeNote,
		Note: &note,
		Time: time.Now(),
	}
}

// IsProgressEvent returns true if this is a progress event.
func (e *Event) IsProgressEvent() bool {
	return e.Type == EventTypeProgress
}

// IsLogEvent returns true if this is a log event.
func (e *Event) IsLogEvent() bool {
	return e.Type == EventTypeLog
}
