package eventcache

import (
	"testing"
	"time"

	"qcbridge/internal/model"
)

func TestQueryCache_GetMiss(t *testing.T) {
	c := NewQueryCache(10, time.Second)
	if _, ok := c.Get("nope"); ok {
		t.Fatal("Get on empty cache = hit, want miss")
	}
}

func TestQueryCache_PutThenGet(t *testing.T) {
	c := NewQueryCache(10, time.Second)
	results := []model.ChangeEvent{{ControlName: "Mixer.gain"}}
	c.Put("key", []string{"g1"}, results)

	got, ok := c.Get("key")
	if !ok || len(got) != 1 {
		t.Fatalf("Get(key) = %v,%v", got, ok)
	}
}

func TestQueryCache_ExpiresAfterTTL(t *testing.T) {
	now := time.Now()
	c := NewQueryCache(10, time.Second)
	c.now = func() time.Time { return now }
	c.Put("key", nil, []model.ChangeEvent{{}})

	c.now = func() time.Time { return now.Add(2 * time.Second) }
	if _, ok := c.Get("key"); ok {
		t.Fatal("Get after TTL expiry = hit, want miss")
	}
}

func TestQueryCache_InvalidateGroup(t *testing.T) {
	c := NewQueryCache(10, time.Second)
	c.Put("a", []string{"g1"}, []model.ChangeEvent{{ControlName: "a"}})
	c.Put("b", []string{"g2"}, []model.ChangeEvent{{ControlName: "b"}})

	c.InvalidateGroup("g1")

	if _, ok := c.Get("a"); ok {
		t.Fatal("entry tagged with g1 should be gone after InvalidateGroup(g1)")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("entry tagged with g2 should survive InvalidateGroup(g1)")
	}
}

func TestQueryCache_Purge(t *testing.T) {
	c := NewQueryCache(10, time.Second)
	c.Put("a", []string{"g1"}, []model.ChangeEvent{{ControlName: "a"}})
	c.Put("b", []string{"g2"}, []model.ChangeEvent{{ControlName: "b"}})

	c.Purge()

	if _, ok := c.Get("a"); ok {
		t.Fatal("Get(a) after Purge = hit")
	}
	if _, ok := c.Get("b"); ok {
		t.Fatal("Get(b) after Purge = hit")
	}
}

func TestQueryCache_Stats(t *testing.T) {
	c := NewQueryCache(10, time.Second)
	c.Put("key", nil, []model.ChangeEvent{{}})
	c.Get("key")
	c.Get("missing")

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("Stats() = %+v, want 1 hit / 1 miss", stats)
	}
}

func TestCanonicalize_DefaultsToEmptyKeyParts(t *testing.T) {
	if Canonicalize(Query{}) == "" {
		t.Fatal("Canonicalize(Query{}) should still produce a stable (non-empty) key")
	}
}
