package vbuf

import "sync"

// Event is a thin, edge-triggered signal a Pool or Queue raises whenever it
// gains something (a free buffer, a pushed entry). The library never
// blocks on it; it exists purely so an external, single-threaded event
// loop can observe activity without polling Pool.GetCount/Queue.GetCount
// in a spin loop.
//
// Signal is non-blocking and safe to call under a lock. Wait returns a
// channel that receives once per coalesced batch of signals and must be
// re-armed by calling Wait again after it fires.
type Event struct {
	mu sync.Mutex
	c  chan struct{}
}

// NewEvent creates a readiness event in the non-signaled state.
func NewEvent() *Event {
	return &Event{c: make(chan struct{})}
}

// Signal raises the event: it closes the channel currently handed out by
// Wait and replaces it with a fresh one. Signals are not remembered, so
// several Signals between two Wait calls coalesce into the one closed
// channel a waiter observes.
func (e *Event) Signal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	close(e.c)
	e.c = make(chan struct{})
}

// Wait returns a channel that becomes readable (closes) the next time
// Signal is called. Calls to Wait between two Signals return the same
// channel; each Signal replaces it, so a consumer should call Wait again
// after the returned channel fires to keep observing future signals.
func (e *Event) Wait() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.c
}
