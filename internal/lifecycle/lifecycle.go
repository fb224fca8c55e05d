// Package lifecycle tracks whether the host app is in the foreground.
//
// The host (a mobile shell, a CLI reacting to signals, a test) reports raw
// state changes with Set; listeners receive every distinct change.
package lifecycle

import (
	"fmt"
	"sync"
)

// State is the app's visibility state
type State string

const (
	Active     State = "active"
	Inactive   State = "inactive"
	Background State = "background"
)

// ParseState converts a host-provided string to a State
func ParseState(s string) (State, error) {
	switch State(s) {
	case Active, Inactive, Background:
		return State(s), nil
	default:
		return "", fmt.Errorf("invalid app state '%s', must be one of: active, inactive, background", s)
	}
}

// Tracker records the current app state and notifies listeners of changes
type Tracker struct {
	mu        sync.Mutex
	state     State
	listeners map[uint64]func(State)
	nextID    uint64

	// serializes deliveries so listeners observe changes in order
	deliverMu sync.Mutex
}

// NewTracker creates a tracker in the given initial state
func NewTracker(initial State) *Tracker {
	return &Tracker{
		state:     initial,
		listeners: make(map[uint64]func(State)),
	}
}

// State returns the last reported state
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Set reports a state change. Reporting the current state again still
// notifies listeners; edge detection is the listener's job.
func (t *Tracker) Set(state State) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	t.mu.Lock()
	t.state = state
	callbacks := make([]func(State), 0, len(t.listeners))
	for id := uint64(0); id < t.nextID; id++ {
		if cb, ok := t.listeners[id]; ok {
			callbacks = append(callbacks, cb)
		}
	}
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb(state)
	}
}

// OnAppStateChange registers callback and returns a function that removes it
func (t *Tracker) OnAppStateChange(callback func(State)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = callback
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.listeners, id)
			t.mu.Unlock()
		})
	}
}

// OnForeground registers callback for background/inactive to active edges
func (t *Tracker) OnForeground(callback func()) func() {
	var mu sync.Mutex
	last := t.State()

	return t.OnAppStateChange(func(next State) {
		mu.Lock()
		prev := last
		last = next
		mu.Unlock()

		if prev != Active && next == Active {
			callback()
		}
	})
}
