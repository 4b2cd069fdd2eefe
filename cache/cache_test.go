package cache

import (
	"testing"
	"time"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := New(10, time.Minute)
	now := time.Now()

	c.Put("fp1", []byte(`{"ok":true}`), "application/json", now)

	e, ok := c.Get("fp1", now)
	if !ok {
		t.Fatal("expected a hit")
	}
	if string(e.ResponseBytes) != `{"ok":true}` {
		t.Errorf("unexpected body: %s", e.ResponseBytes)
	}
}

func TestGetMissOnUnknownKey(t *testing.T) {
	c := New(10, time.Minute)
	if _, ok := c.Get("nope", time.Now()); ok {
		t.Error("expected a miss")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(10, time.Minute)
	now := time.Now()
	c.Put("fp1", []byte("x"), "text/plain", now)

	if _, ok := c.Get("fp1", now.Add(2*time.Minute)); ok {
		t.Error("entry should have expired")
	}
}

func TestLRUEvictionAtCapacity(t *testing.T) {
	c := New(2, time.Hour)
	now := time.Now()

	c.Put("a", []byte("a"), "text/plain", now)
	c.Put("b", []byte("b"), "text/plain", now)
	c.Put("c", []byte("c"), "text/plain", now) // evicts "a" (least recently used)

	if _, ok := c.Get("a", now); ok {
		t.Error("expected 'a' to have been evicted")
	}
	if _, ok := c.Get("b", now); !ok {
		t.Error("expected 'b' to still be present")
	}
	if _, ok := c.Get("c", now); !ok {
		t.Error("expected 'c' to still be present")
	}
}

func TestMaxEntriesSizeInvariant(t *testing.T) {
	c := New(5, time.Hour)
	now := time.Now()
	for i := 0; i < 10; i++ {
		c.Put(string(rune('a'+i)), []byte{byte(i)}, "application/octet-stream", now)
	}
	if got := c.Stats().Size; got != 5 {
		t.Errorf("expected size to settle at max_entries=5, got %d", got)
	}
}

func TestStatsHitRate(t *testing.T) {
	c := New(10, time.Minute)
	now := time.Now()
	c.Put("fp1", []byte("x"), "text/plain", now)

	c.Get("fp1", now)
	c.Get("missing", now)

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("expected 1 hit and 1 miss, got hits=%d misses=%d", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("expected hit rate 0.5, got %f", stats.HitRate)
	}
}

func TestClearRemovesAllEntries(t *testing.T) {
	c := New(10, time.Minute)
	now := time.Now()
	c.Put("a", []byte("1"), "text/plain", now)
	c.Put("b", []byte("2"), "text/plain", now)

	n := c.Clear()
	if n != 2 {
		t.Errorf("expected Clear to report 2 entries removed, got %d", n)
	}
	if c.Stats().Size != 0 {
		t.Error("expected empty cache after Clear")
	}
}
