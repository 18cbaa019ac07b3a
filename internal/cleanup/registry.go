// Package cleanup implements the process-wide keyed registry of cleanup
// callbacks used by the delayed-response engine to guarantee that resources
// attached to an outstanding call are released exactly once, however the
// call terminates (explicit end, expiry, or error).
package cleanup

import (
	"sync"

	"github.com/mattjoyce/spindle/internal/log"
)

// Registry maps a call id to an ordered list of cleanup callbacks. All
// operations are safe for concurrent use, though within a single worker
// process the caller is expected to be effectively single-threaded (see
// the concurrency model in SPEC_FULL.md §5).
type Registry struct {
	mu        sync.Mutex
	callbacks map[string][]func()
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{callbacks: make(map[string][]func())}
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide singleton registry.
func Default() *Registry {
	defaultOnce.Do(func() { defaultReg = New() })
	return defaultReg
}

// Register appends cb to callID's cleanup list.
func (r *Registry) Register(callID string, cb func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[callID] = append(r.callbacks[callID], cb)
}

// Execute pops and invokes all callbacks registered for callID, in order.
// A callback that panics is recovered and logged so it does not prevent
// the remaining callbacks from running. After Execute returns, callID is
// absent from the registry.
func (r *Registry) Execute(callID string) {
	r.mu.Lock()
	cbs := r.callbacks[callID]
	delete(r.callbacks, callID)
	r.mu.Unlock()

	for _, cb := range cbs {
		runCallback(callID, cb)
	}
}

func runCallback(callID string, cb func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithComponent("cleanup").Error("cleanup callback panicked",
				"call_id", callID, "panic", r)
		}
	}()
	cb()
}

// Remove discards callID's callbacks without invoking them.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.callbacks, callID)
}

// List returns a snapshot of the currently registered call ids.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.callbacks))
	for id := range r.callbacks {
		out = append(out, id)
	}
	return out
}
