// Package availability tracks which concrete models are temporarily
// disabled after a rate-limit or credit failure, so the router can skip them
// without retrying a model that just rejected a request.
package availability

import (
	"sync"
	"time"
)

// DefaultDisableDuration is used when config does not override
// model_availability.disable_duration_seconds (spec.md §4.3).
const DefaultDisableDuration = 300 * time.Second

// Entry is a snapshot row: a disabled model and the time it becomes
// available again.
type Entry struct {
	Model string
	Until time.Time
}

// Registry is a process-wide, concurrency-safe map from model id to the
// time it becomes available again. Absence means available.
type Registry struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]time.Time)}
}

// IsAvailable reports whether model may be routed to at time now. An expired
// disable entry is removed as a side effect, matching spec.md §3's "the
// cache never returns stale state" discipline extended to availability.
func (r *Registry) IsAvailable(model string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	until, ok := r.entries[model]
	if !ok {
		return true
	}
	if !now.Before(until) {
		delete(r.entries, model)
		return true
	}
	return false
}

// Disable marks model unavailable until now+d, regardless of any prior
// value. This is deliberate last-writer-wins semantics (spec.md §4.3): a
// fresh failure always extends the cool-down rather than being ignored
// because an earlier, shorter disable window is still active.
func (r *Registry) Disable(model string, now time.Time, d time.Duration) {
	if d <= 0 {
		d = DefaultDisableDuration
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[model] = now.Add(d)
}

// Clear removes any disable entry for model, making it immediately
// available again.
func (r *Registry) Clear(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, model)
}

// Snapshot returns the disable entries still in effect at now, purging any
// that have since expired as a side effect (the same lazy-cleanup
// discipline IsAvailable applies to a single model, here applied to the
// whole map so a cooled-down model stops appearing the moment its window
// elapses rather than lingering until something else happens to query it).
func (r *Registry) Snapshot(now time.Time) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for model, until := range r.entries {
		if !now.Before(until) {
			delete(r.entries, model)
			continue
		}
		out = append(out, Entry{Model: model, Until: until})
	}
	return out
}
