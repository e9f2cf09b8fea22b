package graphsim

import "testing"

func TestMemoryCache_FirstWriteWins(t *testing.T) {
	c := NewMemoryCache(0)

	added := c.Add(CacheEntry{ResourceType: "Patient", ResourceID: "1", Status: 200})
	if !added {
		t.Fatal("expected first Add to succeed")
	}
	added = c.Add(CacheEntry{ResourceType: "Patient", ResourceID: "1", Status: 404})
	if added {
		t.Fatal("expected second Add for the same key to be a no-op")
	}

	entry, ok := c.Get("Patient", "1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if entry.Status != 200 {
		t.Fatalf("expected first write to win, got status %d", entry.Status)
	}
}

func TestMemoryCache_HitMissCounters(t *testing.T) {
	c := NewMemoryCache(0)
	c.Add(CacheEntry{ResourceType: "Patient", ResourceID: "1", Status: 200})

	c.Get("Patient", "1")
	c.Get("Patient", "missing")
	c.Get("Patient", "1")

	hits, misses := c.Stats()
	if hits != 2 || misses != 1 {
		t.Fatalf("got hits=%d misses=%d, want hits=2 misses=1", hits, misses)
	}
}

func TestMemoryCache_BoundedEviction(t *testing.T) {
	c := NewMemoryCache(2)
	c.Add(CacheEntry{ResourceType: "Patient", ResourceID: "1"})
	c.Add(CacheEntry{ResourceType: "Patient", ResourceID: "2"})
	c.Add(CacheEntry{ResourceType: "Patient", ResourceID: "3"})

	if _, ok := c.Get("Patient", "1"); ok {
		t.Fatal("expected oldest entry to have been evicted")
	}
	if _, ok := c.Get("Patient", "3"); !ok {
		t.Fatal("expected newest entry to still be present")
	}
}

func TestMemoryCache_Clear(t *testing.T) {
	c := NewMemoryCache(0)
	c.Add(CacheEntry{ResourceType: "Patient", ResourceID: "1"})
	c.Get("Patient", "1")
	c.Clear()

	if _, ok := c.Get("Patient", "1"); ok {
		t.Fatal("expected cache to be empty after Clear")
	}
	hits, misses := c.Stats()
	if hits != 0 || misses != 1 {
		t.Fatalf("expected counters reset then one miss, got hits=%d misses=%d", hits, misses)
	}
}
