package types

import (
	"fmt"
	"sync"
)

// DefaultProgressTotal is the fixed progress denominator used by operations.
const DefaultProgressTotal = 100

// Listener holds the optional synchronous callbacks for one operation.
// Callbacks are invoked from the operation's goroutine, in emission order.
// Unlike the event stream they never drop anything.
type Listener struct {
	OnLog      func(message string)
	OnProgress func(current, total int, message string)

	// OnNote receives each search result before the crawl continues.
	OnNote func(note NoteSummary)
}

// Reporter fans log and progress events out to a Listener and an optional
// event sink. Progress is clamped so that delivered values never decrease
// and never exceed the total. A nil *Reporter discards everything.
type Reporter struct {
	mu       sync.Mutex
	listener Listener
	sink     func(*Event)
	total    int
	last     int
	started  bool
	finished bool
}

// NewReporter creates a reporter with the given progress denominator.
// A non-positive total selects DefaultProgressTotal.
func NewReporter(total int, listener Listener, sink func(*Event)) *Reporter {
	if total <= 0 {
		total = DefaultProgressTotal
	}
	return &Reporter{
		listener: listener,
		sink:     sink,
		total:    total,
	}
}

// Logf emits a formatted log event.
func (r *Reporter) Logf(format string, args ...interface{}) {
	if r == nil {
		return
	}
	message := fmt.Sprintf(format, args...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listener.OnLog != nil {
		r.listener.OnLog(message)
	}
	if r.sink != nil {
		r.sink(NewLogEvent(message))
	}
}

// Progress emits a progress event. Values below the last delivered value are
// raised to it; values above the total are capped.
func (r *Reporter) Progress(current int, message string) {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return
	}
	r.emitProgress(current, message)
}

// Finish emits the final progress event (current == total). Later progress
// calls are ignored.
func (r *Reporter) Finish(message string) {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return
	}
	r.emitProgress(r.total, message)
	r.finished = true
}

// Note delivers a streamed search result to the listener and the event sink.
func (r *Reporter) Note(note NoteSummary) {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listener.OnNote != nil {
		r.listener.OnNote(note)
	}
	if r.sink != nil {
		r.sink(NewNoteEvent(note))
	}
}

// Total returns the progress denominator.
func (r *Reporter) Total() int {
	if r == nil {
		return DefaultProgressTotal
	}
	return r.total
}

// Last returns the last delivered progress value.
func (r *Reporter) Last() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// emitProgress must be called with r.mu held.
func (r *Reporter) emitProgress(current int, message string) {
	if current > r.total {
		current = r.total
	}
	if current < 0 {
		current = 0
	}
	if r.started && current < r.last {
		current = r.last
	}
	r.last = current
	r.started = true

	if r.listener.OnProgress != nil {
		r.listener.OnProgress(current, r.total, message)
	}
	if r.sink != nil {
		r.sink(NewProgressEvent(current, r.total, message))
	}
}
