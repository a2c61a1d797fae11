// Package progress turns per-file completion into progress events for a
// single observer.
package progress

import (
	"sync"
)

// Event reports how many files of a transfer have completed
type Event struct {
	Current    int     `json:"current" yaml:"current"`
	Total      int     `json:"total" yaml:"total"`
	Percentage float64 `json:"percentage" yaml:"percentage"`
}

// Done reports whether the event marks the last file
func (e Event) Done() bool {
	return e.Total > 0 && e.Current >= e.Total
}

// Observer receives progress events in completion order
type Observer interface {
	OnProgress(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) OnProgress(e Event) {
	f(e)
}

// Reporter emits one event per Report call to its observer. A nil observer
// discards events.
type Reporter struct {
	observer Observer
}

// NewReporter creates a reporter for observer
func NewReporter(observer Observer) *Reporter {
	return &Reporter{observer: observer}
}

// Report emits {completed, total, completed/total*100}
func (r *Reporter) Report(completed, total int) {
	if r == nil || r.observer == nil {
		return
	}
	r.observer.OnProgress(NewEvent(completed, total))
}

// NewEvent builds an event, guarding against a zero total
func NewEvent(completed, total int) Event {
	e := Event{Current: completed, Total: total}
	if total > 0 {
		e.Percentage = float64(completed) / float64(total) * 100
	}
	return e
}

// Tracker counts transferred files and reports after each one
type Tracker struct {
	reporter  *Reporter
	total     int
	completed int
}

// NewTracker creates a tracker for a transfer of total files
func NewTracker(reporter *Reporter, total int) *Tracker {
	return &Tracker{reporter: reporter, total: total}
}

// FileTransferred advances the counter by one and reports
func (t *Tracker) FileTransferred(relPath string, size int64) {
	t.completed++
	t.reporter.Report(t.completed, t.total)
}

// Completed returns the number of files reported so far
func (t *Tracker) Completed() int {
	return t.completed
}

// Recorder keeps every event it receives
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) OnProgress(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Percentages returns the percentage of every recorded event
func (r *Recorder) Percentages() []float64 {
	events := r.Events()
	out := make([]float64, len(events))
	for i, e := range events {
		out[i] = e.Percentage
	}
	return out
}

// Multi fans events out to several observers in order
func Multi(observers ...Observer) Observer {
	return ObserverFunc(func(e Event) {
		for _, o := range observers {
			if o != nil {
				o.OnProgress(e)
			}
		}
	})
}
