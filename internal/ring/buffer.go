// Package ring implements a fixed-capacity FIFO of change events with
// time-range queries (spec §4.1).
//
// The ring and its timestamp index are fused into a single structure
// rather than kept as two independently-maintained ones. This is
// deliberate: the source this design was distilled from had a documented
// bug where queryTimeRange degraded after buffer wraparound because an
// auxiliary (timestamp -> slot) index kept stale entries pointing at
// slots the ring had since overwritten. Fusing the two makes the
// invariant structural — every add() that overwrites a slot removes that
// slot's old timestamp from the index in the same critical section,
// before the new value becomes visible to readers — instead of relying on
// two data structures staying in lockstep by convention.
package ring

import (
	"sort"
	"sync"
	"time"

	"qcbridge/internal/model"
)

// Buffer is a fixed-capacity, single-writer/many-reader ring of
// ChangeEvents with an embedded timestamp index. The zero value is not
// usable; construct with New.
type Buffer struct {
	mu sync.RWMutex

	capacity int
	slots    []slot // fixed-size backing array
	head     int    // index of the oldest occupied slot
	count    int    // number of occupied slots

	// sortedSlots holds indices into `slots`, kept sorted by that slot's
	// timestamp. This is the "SortedIndex" of spec §4.2, fused with the
	// ring itself.
	sortedSlots []int

	maxAgeMs int64
	now      func() time.Time
}

type slot struct {
	event model.ChangeEvent
	valid bool
}

// Option configures a Buffer at construction.
type Option func(*Buffer)

// WithMaxAge sets a per-buffer max age; evictOlderThan uses this when
// called with 0. A maxAgeMs of 0 means no implicit age limit.
func WithMaxAge(maxAgeMs int64) Option {
	return func(b *Buffer) { b.maxAgeMs = maxAgeMs }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// New creates a Buffer with the given fixed capacity. Capacity must be >= 1.
func New(capacity int, opts ...Option) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	b := &Buffer{
		capacity: capacity,
		slots:    make([]slot, capacity),
		now:      time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Add inserts an event, overwriting the oldest slot if the buffer is full.
// O(1) amortized for the ring write; the sorted-index insert/delete is
// O(log n) for the search plus O(n) for the slice shift, which is
// acceptable at the bounded capacities this cache operates at (hundreds to
// low thousands of events per group).
func (b *Buffer) Add(event model.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var writeAt int
	if b.count < b.capacity {
		writeAt = (b.head + b.count) % b.capacity
		b.count++
	} else {
		// Full: overwrite the oldest slot and advance head.
		writeAt = b.head
		b.removeFromIndexLocked(writeAt)
		b.head = (b.head + 1) % b.capacity
	}

	b.slots[writeAt] = slot{event: event, valid: true}
	b.insertIntoIndexLocked(writeAt, event.Timestamp)
}

// removeFromIndexLocked removes the sorted-index entry for the given slot,
// keyed by whatever timestamp it currently holds. Must be called before
// the slot's contents are overwritten, and while b.mu is held.
func (b *Buffer) removeFromIndexLocked(s int) {
	if !b.slots[s].valid {
		return
	}
	ts := b.slots[s].event.Timestamp
	i := b.searchLocked(ts)
	for i < len(b.sortedSlots) && b.eventAt(b.sortedSlots[i]).Timestamp == ts {
		if b.sortedSlots[i] == s {
			b.sortedSlots = append(b.sortedSlots[:i], b.sortedSlots[i+1:]...)
			return
		}
		i++
	}
}

// insertIntoIndexLocked inserts slot s at its sorted position by timestamp.
func (b *Buffer) insertIntoIndexLocked(s int, ts int64) {
	i := b.searchLocked(ts)
	b.sortedSlots = append(b.sortedSlots, 0)
	copy(b.sortedSlots[i+1:], b.sortedSlots[i:])
	b.sortedSlots[i] = s
}

func (b *Buffer) searchLocked(ts int64) int {
	return sort.Search(len(b.sortedSlots), func(i int) bool {
		return b.eventAt(b.sortedSlots[i]).Timestamp >= ts
	})
}

func (b *Buffer) eventAt(s int) model.ChangeEvent {
	return b.slots[s].event
}

// QueryTimeRange returns events with from <= timestamp <= to, in
// timestamp order.
func (b *Buffer) QueryTimeRange(from, to int64) []model.ChangeEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	lo := sort.Search(len(b.sortedSlots), func(i int) bool {
		return b.eventAt(b.sortedSlots[i]).Timestamp >= from
	})
	var out []model.ChangeEvent
	for i := lo; i < len(b.sortedSlots); i++ {
		ev := b.eventAt(b.sortedSlots[i])
		if ev.Timestamp > to {
			break
		}
		out = append(out, ev)
	}
	return out
}

// ForceEvict drops the k oldest events, returning the actual count
// dropped (less than k if the buffer holds fewer events).
func (b *Buffer) ForceEvict(k int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.forceEvictLocked(k)
}

func (b *Buffer) forceEvictLocked(k int) int {
	if k > b.count {
		k = b.count
	}
	for i := 0; i < k; i++ {
		b.removeFromIndexLocked(b.head)
		b.slots[b.head] = slot{}
		b.head = (b.head + 1) % b.capacity
	}
	b.count -= k
	return k
}

// EvictOlderThan drops events whose age exceeds ageMs relative to now(),
// returning the count dropped.
func (b *Buffer) EvictOlderThan(ageMs int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ageMs <= 0 {
		ageMs = b.maxAgeMs
	}
	if ageMs <= 0 {
		return 0
	}
	cutoff := b.now().Add(-time.Duration(ageMs) * time.Millisecond).UnixNano()
	dropped := 0
	for b.count > 0 {
		ev := b.eventAt(b.head)
		if ev.Timestamp >= cutoff {
			break
		}
		b.removeFromIndexLocked(b.head)
		b.slots[b.head] = slot{}
		b.head = (b.head + 1) % b.capacity
		b.count--
		dropped++
	}
	return dropped
}

// Size returns the number of events currently held.
func (b *Buffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// IsEmpty reports whether the buffer holds no events.
func (b *Buffer) IsEmpty() bool {
	return b.Size() == 0
}

// Clear drops all events.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slots = make([]slot, b.capacity)
	b.sortedSlots = nil
	b.head = 0
	b.count = 0
}

// All returns every event currently held, oldest first by insertion order.
// Unlike QueryTimeRange it does not sort by timestamp, so the two differ
// when events were added out of timestamp order.
func (b *Buffer) All() []model.ChangeEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.ChangeEvent, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, b.eventAt((b.head+i)%b.capacity))
	}
	return out
}

// Capacity returns the buffer's fixed capacity.
func (b *Buffer) Capacity() int { return b.capacity }
