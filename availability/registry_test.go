package availability

import (
	"sync"
	"testing"
	"time"
)

func TestIsAvailableDefaultsTrue(t *testing.T) {
	r := New()
	if !r.IsAvailable("claude-opus", time.Now()) {
		t.Error("unknown model should be available")
	}
}

func TestDisableMakesUnavailable(t *testing.T) {
	r := New()
	now := time.Now()
	r.Disable("claude-opus", now, 5*time.Minute)

	if r.IsAvailable("claude-opus", now.Add(1*time.Minute)) {
		t.Error("model should still be disabled")
	}
}

func TestDisableExpires(t *testing.T) {
	r := New()
	now := time.Now()
	r.Disable("claude-opus", now, 1*time.Minute)

	if !r.IsAvailable("claude-opus", now.Add(2*time.Minute)) {
		t.Error("model should be available again after the cool-down elapses")
	}
}

// TestDisableMonotonicity verifies the invariant from spec.md §8: if
// Disable(m, t0, d) was the last call for m, then IsAvailable(m, t) = false
// iff t < t0+d.
func TestDisableMonotonicity(t *testing.T) {
	r := New()
	t0 := time.Now()
	d := 5 * time.Minute
	r.Disable("m", t0, d)

	boundary := t0.Add(d)

	if r.IsAvailable("m", boundary.Add(-time.Second)) {
		t.Error("expected unavailable just before the boundary")
	}
	// IsAvailable mutates state on expiry so re-create for the post-boundary check.
	r2 := New()
	r2.Disable("m", t0, d)
	if !r2.IsAvailable("m", boundary.Add(time.Second)) {
		t.Error("expected available just after the boundary")
	}
}

func TestDisableLastWriterWins(t *testing.T) {
	r := New()
	now := time.Now()
	r.Disable("m", now, 1*time.Minute)
	// A fresh failure extends the cool-down even though the prior window
	// has not elapsed yet: the first window ends at 60s, the second at 90s.
	r.Disable("m", now.Add(30*time.Second), 1*time.Minute)

	if r.IsAvailable("m", now.Add(75*time.Second)) {
		t.Error("second Disable call should have extended the cool-down")
	}
}

func TestClearRemovesEntry(t *testing.T) {
	r := New()
	now := time.Now()
	r.Disable("m", now, time.Hour)
	r.Clear("m")

	if !r.IsAvailable("m", now) {
		t.Error("Clear should make the model immediately available")
	}
}

func TestSnapshotListsEntries(t *testing.T) {
	r := New()
	now := time.Now()
	r.Disable("a", now, time.Minute)
	r.Disable("b", now, time.Minute)

	snap := r.Snapshot(now)
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
}

func TestSnapshotExcludesExpiredEntries(t *testing.T) {
	r := New()
	now := time.Now()
	r.Disable("a", now, time.Hour)
	r.Disable("b", now, time.Millisecond)

	later := now.Add(time.Minute)
	snap := r.Snapshot(later)
	if len(snap) != 1 || snap[0].Model != "a" {
		t.Fatalf("expected only the still-disabled entry, got %+v", snap)
	}
	if !r.IsAvailable("b", later) {
		t.Error("expired entry should have been purged by Snapshot")
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Disable("m", now, time.Minute)
		}()
		go func() {
			defer wg.Done()
			r.IsAvailable("m", now)
		}()
	}
	wg.Wait()
}
