package cache

import (
	"testing"
	"time"
)

func TestLRU_NoTTLKeepsEntries(t *testing.T) {
	c := NewLRU[bool](0, 0)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.Set("p1|2025|3", true)
	c.now = func() time.Time { return base.Add(365 * 24 * time.Hour) }

	if v, ok := c.Get("p1|2025|3"); !ok || !v {
		t.Fatalf("expected cached entry to survive without ttl, got %v %v", v, ok)
	}
	if n := c.CleanExpired(); n != 0 {
		t.Fatalf("expected nothing to clean, got %d", n)
	}
}

func TestLRU_TTLExpiry(t *testing.T) {
	c := NewLRU[string](10, time.Minute)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.Set("a", "x")
	c.Set("b", "y")
	c.now = func() time.Time { return base.Add(2 * time.Minute) }

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected a to be expired")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("expected 1 expired entry cleaned, got %d", n)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Len())
	}
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("expected %s to be cached", k)
		}
	}
}

func TestLRU_DeleteAndPurge(t *testing.T) {
	c := NewLRU[int](0, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected a to be deleted")
	}
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after purge, got %d", c.Len())
	}
	c.Set("c", 3)
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Fatalf("expected cache usable after purge, got %v %v", v, ok)
	}
}
