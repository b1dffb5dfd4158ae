package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporterProgressIsMonotonic(t *testing.T) {
	var got []int
	r := NewReporter(100, Listener{
		OnProgress: func(current, total int, _ string) {
			assert.Equal(t, 100, total)
			got = append(got, current)
		},
	}, nil)

	r.Progress(10, "opening")
	r.Progress(40, "extracting")
	r.Progress(30, "late update")
	r.Progress(150, "overflow")
	r.Progress(95, "after cap")
	r.Finish("done")

	require.Len(t, got, 6)
	assert.Equal(t, []int{10, 40, 40, 100, 100, 100}, got)
}

func TestReporterFinishIsTerminal(t *testing.T) {
	var events []*Event
	r := NewReporter(0, Listener{}, func(e *Event) { events = append(events, e) })

	r.Progress(20, "a")
	r.Finish("done")
	r.Progress(50, "ignored")
	r.Finish("ignored too")

	require.Len(t, events, 2)
	last := events[len(events)-1]
	assert.True(t, last.IsProgressEvent())
	assert.Equal(t, DefaultProgressTotal, last.Current)
	assert.Equal(t, DefaultProgressTotal, last.Total)
	assert.Equal(t, "done", last.Message)
}

func TestReporterLogOrdering(t *testing.T) {
	var order []string
	r := NewReporter(100, Listener{
		OnLog:      func(m string) { order = append(order, "log:"+m) },
		OnProgress: func(c, _ int, m string) { order = append(order, "progress:"+m) },
		OnNote:     func(n NoteSummary) { order = append(order, "note:"+n.NoteID) },
	}, nil)

	r.Logf("step %d", 1)
	r.Progress(10, "p1")
	r.Note(NoteSummary{NoteID: "n1"})
	r.Logf("step %d", 2)

	assert.Equal(t, []string{"log:step 1", "progress:p1", "note:n1", "log:step 2"}, order)
}

func TestNilReporterIsSafe(t *testing.T) {
	var r *Reporter
	assert.NotPanics(t, func() {
		r.Logf("x")
		r.Progress(10, "x")
		r.Note(NoteSummary{})
		r.Finish("x")
	})
	assert.Equal(t, DefaultProgressTotal, r.Total())
	assert.Equal(t, 0, r.Last())
}

func TestOutcomeConstructors(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome[int]
		status  Status
		ok      bool
		text    string
	}{
		{name: "success", outcome: Succeeded(7), status: StatusSuccess, ok: true, text: "success"},
		{name: "failed", outcome: Failed[int](assert.AnError), status: StatusFailed, text: "failed: " + assert.AnError.Error()},
		{name: "failed nil error", outcome: Failed[int](nil), status: StatusFailed, text: "failed: unknown error"},
		{name: "login expired", outcome: LoginExpired[int]("cookies rejected"), status: StatusLoginExpired, text: "login_expired: cookies rejected"},
		{name: "interrupted", outcome: Interrupted[int]("browser closed"), status: StatusInterrupted, text: "interrupted: browser closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.outcome.Status)
			assert.Equal(t, tt.ok, tt.outcome.OK())
			assert.Equal(t, tt.text, tt.outcome.String())
		})
	}
	assert.Equal(t, 7, Succeeded(7).Value)
}
