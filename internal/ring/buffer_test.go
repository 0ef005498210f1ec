package ring

import (
	"testing"
	"time"

	"qcbridge/internal/control"
	"qcbridge/internal/model"
)

func event(ts int64) model.ChangeEvent {
	return model.ChangeEvent{
		ControlName: "MainMixer.gain",
		Value:       control.Number(float64(ts)),
		Timestamp:   ts,
	}
}

func TestBuffer_QueryTimeRange_AfterWraparound(t *testing.T) {
	// Scenario F from the reference timeline: capacity 3, add timestamps
	// 1000, 2000, 3000, 4000, 500 in order. The fourth add overwrites the
	// slot holding 1000, and the fifth overwrites the slot holding 2000.
	b := New(3)
	for _, ts := range []int64{1000, 2000, 3000, 4000, 500} {
		b.Add(event(ts))
	}

	if got := b.QueryTimeRange(2000, 2000); len(got) != 0 {
		t.Fatalf("QueryTimeRange(2000,2000) = %v, want empty (2000 was evicted)", got)
	}

	got := b.QueryTimeRange(0, 1000)
	if len(got) != 1 || got[0].Timestamp != 500 {
		t.Fatalf("QueryTimeRange(0,1000) = %v, want [500]", got)
	}

	got = b.QueryTimeRange(3500, 4500)
	if len(got) != 1 || got[0].Timestamp != 4000 {
		t.Fatalf("QueryTimeRange(3500,4500) = %v, want [4000]", got)
	}

	if b.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", b.Size())
	}
}

func TestBuffer_NoStaleIndexEntries(t *testing.T) {
	// A stale (timestamp -> overwritten slot) index entry would make this
	// query return a timestamp that the ring no longer physically holds.
	b := New(2)
	b.Add(event(100))
	b.Add(event(200))
	b.Add(event(300)) // overwrites the slot holding 100

	all := b.All()
	if len(all) != 2 {
		t.Fatalf("All() = %v, want 2 events", all)
	}
	got := b.QueryTimeRange(0, 100)
	if len(got) != 0 {
		t.Fatalf("QueryTimeRange(0,100) = %v, want empty: 100 was evicted", got)
	}
}

func TestBuffer_CapacityOne(t *testing.T) {
	b := New(1)
	b.Add(event(1))
	b.Add(event(2))
	if b.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", b.Size())
	}
	all := b.All()
	if len(all) != 1 || all[0].Timestamp != 2 {
		t.Fatalf("All() = %v, want [2]", all)
	}
}

func TestBuffer_ForceEvict(t *testing.T) {
	b := New(5)
	for _, ts := range []int64{1, 2, 3, 4, 5} {
		b.Add(event(ts))
	}
	evicted := b.ForceEvict(2)
	if evicted != 2 {
		t.Fatalf("ForceEvict(2) = %d, want 2", evicted)
	}
	all := b.All()
	if len(all) != 3 || all[0].Timestamp != 3 {
		t.Fatalf("All() after evict = %v, want starting at ts=3", all)
	}
	if got := b.QueryTimeRange(0, 2); len(got) != 0 {
		t.Fatalf("QueryTimeRange(0,2) = %v, want empty after eviction", got)
	}
}

func TestBuffer_EvictOlderThan(t *testing.T) {
	base := time.Unix(100, 0)
	clock := base
	b := New(5, WithClock(func() time.Time { return clock }))

	b.Add(event(base.Add(-5 * time.Second).UnixNano()))
	b.Add(event(base.Add(-3 * time.Second).UnixNano()))
	b.Add(event(base.UnixNano()))

	dropped := b.EvictOlderThan(4000) // 4s window: only the -5s event is older
	if dropped != 1 {
		t.Fatalf("EvictOlderThan(4000) dropped %d, want 1", dropped)
	}
	if b.Size() != 2 {
		t.Fatalf("Size() after EvictOlderThan = %d, want 2", b.Size())
	}
}
