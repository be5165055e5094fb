// Package navigation tracks whether a client is in the middle of a route
// transition, so views that already have data can skip the loading spinner.
//
// The tracker is a heuristic debounce, not a guarantee. A route change marks
// the client as navigating and arms a settle timer. When the timer fires it
// clears the flag if no fetches are pending; otherwise it re-arms a shorter
// timer and checks again. Unregistering the last pending fetch clears the
// flag right away.
//
// The timer always re-reads live state when it fires, so a second route
// change inside the window only updates the path. It never starts a second
// timer.
package navigation

import (
	"sync"
	"time"
)

// Default debounce durations.
const (
	DefaultSettle  = 800 * time.Millisecond
	DefaultRecheck = 200 * time.Millisecond
)

// Options configures the debounce timers. Zero values fall back to the defaults.
type Options struct {
	Settle  time.Duration
	Recheck time.Duration
}

// State is a point-in-time copy of the tracker.
type State struct {
	IsNavigating   bool   `json:"isNavigating"`
	LastPath       string `json:"lastPath"`
	PendingFetches int    `json:"pendingFetches"`
}

// Tracker is the navigation state for one client. Safe for concurrent use.
type Tracker struct {
	settle  time.Duration
	recheck time.Duration

	mu         sync.Mutex
	navigating bool
	lastPath   string
	pending    map[string]struct{}
	timer      *time.Timer
	generation uint64 // bumped whenever the timer is replaced or stopped

	subs    map[int]func(State)
	nextSub int
}

// New creates a Tracker.
func New(opts Options) *Tracker {
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if opts.Recheck <= 0 {
		opts.Recheck = DefaultRecheck
	}
	return &Tracker{
		settle:  opts.Settle,
		recheck: opts.Recheck,
		pending: make(map[string]struct{}),
		subs:    make(map[int]func(State)),
	}
}

// OnRouteChange records a new path. Changing to the current path is a no-op.
func (t *Tracker) OnRouteChange(path string) {
	t.mu.Lock()
	if path == t.lastPath {
		t.mu.Unlock()
		return
	}
	t.lastPath = path
	t.navigating = true
	if t.timer == nil {
		t.armLocked(t.settle)
	}
	t.mu.Unlock()

	t.notify()
}

// RegisterFetch marks a fetch as pending.
func (t *Tracker) RegisterFetch(id string) {
	t.mu.Lock()
	t.pending[id] = struct{}{}
	t.mu.Unlock()

	t.notify()
}

// UnregisterFetch removes a pending fetch. When it was the last one and the
// client is still navigating, the flag is cleared immediately.
func (t *Tracker) UnregisterFetch(id string) {
	t.mu.Lock()
	if _, ok := t.pending[id]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.pending, id)
	if t.navigating && len(t.pending) == 0 {
		t.navigating = false
		t.stopLocked()
	}
	t.mu.Unlock()

	t.notify()
}

// ForceClear drops all state and stops the timer. Call it when the client
// goes away so no timer outlives it.
func (t *Tracker) ForceClear() {
	t.mu.Lock()
	t.stopLocked()
	t.navigating = false
	t.lastPath = ""
	t.pending = make(map[string]struct{})
	t.mu.Unlock()

	t.notify()
}

// IsNavigating reports whether a route transition is in progress.
func (t *Tracker) IsNavigating() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.navigating
}

// LastPath returns the most recent path passed to OnRouteChange.
func (t *Tracker) LastPath() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastPath
}

// PendingFetches returns the number of registered fetches.
func (t *Tracker) PendingFetches() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// ActiveTimers returns 1 while a debounce timer is armed and 0 otherwise.
func (t *Tracker) ActiveTimers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		return 1
	}
	return 0
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

// Subscribe registers fn to be called after every state change.
// The returned function removes the subscription.
func (t *Tracker) Subscribe(fn func(State)) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

func (t *Tracker) stateLocked() State {
	return State{
		IsNavigating:   t.navigating,
		LastPath:       t.lastPath,
		PendingFetches: len(t.pending),
	}
}

func (t *Tracker) armLocked(d time.Duration) {
	t.generation++
	gen := t.generation
	t.timer = time.AfterFunc(d, func() { t.fire(gen) })
}

func (t *Tracker) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.generation++
}

func (t *Tracker) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.generation {
		// Stopped or replaced after this timer was armed.
		t.mu.Unlock()
		return
	}
	t.timer = nil
	if !t.navigating {
		t.mu.Unlock()
		return
	}
	if len(t.pending) > 0 {
		t.armLocked(t.recheck)
		t.mu.Unlock()
		return
	}
	t.navigating = false
	t.mu.Unlock()

	t.notify()
}

// notify runs subscribers outside the lock so they may call back into the tracker.
func (t *Tracker) notify() {
	t.mu.Lock()
	st := t.stateLocked()
	subs := make([]func(State), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}
