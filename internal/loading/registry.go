// Package loading keeps the set of named loading flags for one client and
// derives the single "is anything loading" boolean the UI shows a spinner for.
//
// The global flag is true when any registered entry is loading OR when the
// bound navigation tracker reports a route transition in progress.
package loading

import (
	"sort"
	"sync"

	"github.com/sakif/flipbook/internal/navigation"
)

// Entry is one registered loading flag.
type Entry struct {
	ID        string `json:"id"`
	IsLoading bool   `json:"isLoading"`
	Message   string `json:"message,omitempty"`
}

// Snapshot is what the session status endpoint returns.
type Snapshot struct {
	IsLoading    bool    `json:"isLoading"`
	IsNavigating bool    `json:"isNavigating"`
	States       []Entry `json:"states"`
}

// Registry is safe for concurrent use.
//
// Lock order is registry.mu then tracker.mu. The tracker never calls back
// into the registry while holding its own lock.
type Registry struct {
	tracker *navigation.Tracker

	mu      sync.Mutex
	entries map[string]Entry
	last    bool
	subs    map[int]func(bool)
	nextSub int

	unsubTracker func()
}

// NewRegistry creates a Registry bound to tracker. tracker may be nil, in
// which case only registered entries count.
func NewRegistry(tracker *navigation.Tracker) *Registry {
	r := &Registry{
		tracker: tracker,
		entries: make(map[string]Entry),
		subs:    make(map[int]func(bool)),
	}
	if tracker != nil {
		r.unsubTracker = tracker.Subscribe(func(navigation.State) { r.recompute() })
	}
	return r
}

// Register marks id as loading. The message replaces the stored one only
// when given.
func (r *Registry) Register(id string, message ...string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		e = Entry{ID: id}
	}
	e.IsLoading = true
	if len(message) > 0 {
		e.Message = message[0]
	}
	r.entries[id] = e
	r.mu.Unlock()

	r.recompute()
}

// Unregister removes id. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if ok {
		r.recompute()
	}
}

// SetMessage updates the message of an existing entry without touching its flag.
func (r *Registry) SetMessage(id, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.Message = message
	r.entries[id] = e
}

// IsLoading reports whether any entry is loading or the client is navigating.
func (r *Registry) IsLoading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.computeLocked()
}

// Has reports whether id is currently registered.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Snapshot returns the current entries sorted by id.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		states = append(states, e)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })

	nav := r.tracker != nil && r.tracker.IsNavigating()
	return Snapshot{
		IsLoading:    r.anyLocked() || nav,
		IsNavigating: nav,
		States:       states,
	}
}

// Subscribe registers fn to be called whenever the global flag flips.
func (r *Registry) Subscribe(fn func(bool)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Close detaches the registry from its tracker.
func (r *Registry) Close() {
	r.mu.Lock()
	unsub := r.unsubTracker
	r.unsubTracker = nil
	r.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (r *Registry) anyLocked() bool {
	for _, e := range r.entries {
		if e.IsLoading {
			return true
		}
	}
	return false
}

func (r *Registry) computeLocked() bool {
	if r.anyLocked() {
		return true
	}
	return r.tracker != nil && r.tracker.IsNavigating()
}

func (r *Registry) recompute() {
	r.mu.Lock()
	now := r.computeLocked()
	if now == r.last {
		r.mu.Unlock()
		return
	}
	r.last = now
	subs := make([]func(bool), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(now)
	}
}
