// Package monitoring carries the diagnostic logger and the recent
// diagnostic events raised by the measurement and pressure loops.
package monitoring

import (
	"log"
	"sync"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Event is a diagnostic raised when a loop absorbs a failure, e.g. a frame
// that could not be measured because processing panicked.
type Event struct {
	Time    time.Time `json:"time"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

// Diagnostics keeps the most recent events in a fixed-size ring.
type Diagnostics struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
	total  int
}

// NewDiagnostics creates a ring holding up to size events (minimum 1).
func NewDiagnostics(size int) *Diagnostics {
	if size < 1 {
		size = 1
	}
	return &Diagnostics{events: make([]Event, size)}
}

// Emit logs the event and records it. A nil receiver only logs.
func (d *Diagnostics) Emit(source, message string) {
	Logf("[%s] %s", source, message)
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events[d.next] = Event{Time: time.Now(), Source: source, Message: message}
	d.next = (d.next + 1) % len(d.events)
	if d.next == 0 {
		d.full = true
	}
	d.total++
}

// Recent returns the retained events, oldest first.
func (d *Diagnostics) Recent() []Event {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.full {
		return append([]Event(nil), d.events[:d.next]...)
	}
	out := make([]Event, 0, len(d.events))
	out = append(out, d.events[d.next:]...)
	return append(out, d.events[:d.next]...)
}

// Total returns how many events were emitted, including evicted ones.
func (d *Diagnostics) Total() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}
