package eventcache

import (
	"sort"

	"qcbridge/internal/bus"
	"qcbridge/internal/model"
)

// checkMemory is the background memory-check job of spec §4.4. It runs on
// the manager's gocron scheduler, not the bespoke high-frequency timer the
// poller uses, since 1s-scale maintenance has no sub-100ms latency
// requirement (SPEC_FULL §4.5 added detail).
func (m *Manager) checkMemory() {
	if m.cfg.LimitBytes <= 0 {
		return
	}
	m.mu.RLock()
	usage := m.totalEstBytes
	limit := m.cfg.LimitBytes
	m.mu.RUnlock()

	pct := float64(usage) / float64(limit) * 100

	switch {
	case pct >= 100:
		freed := m.evictToTarget(0.8)
		after := m.currentUsage()
		afterPct := float64(after) / float64(limit) * 100

		// "Resolved" means usage actually returned below 80%, with one
		// documented exception: once every Low/Normal-priority group has
		// been evicted down to nothing, the only usage left is
		// High-priority data, which is allowed to stay above the target.
		if afterPct < 80 || m.onlyHighPriorityRemains() {
			m.publish(bus.Event{
				Kind: bus.KindMemoryPressureResolved,
				At:   m.cfg.Now(),
				Pressure: &bus.MemoryPressure{
					Level:        "critical",
					Percentage:   afterPct,
					TotalUsage:   usage,
					Freed:        freed,
					CurrentUsage: after,
				},
			})
		} else {
			m.publish(bus.Event{
				Kind: bus.KindMemoryPressure,
				At:   m.cfg.Now(),
				Pressure: &bus.MemoryPressure{
					Level:        "critical",
					Percentage:   afterPct,
					TotalUsage:   after,
					Freed:        freed,
					CurrentUsage: after,
				},
			})
		}
	case pct >= 90:
		m.publish(bus.Event{
			Kind: bus.KindMemoryPressure,
			At:   m.cfg.Now(),
			Pressure: &bus.MemoryPressure{
				Level:      "critical",
				Percentage: pct,
				TotalUsage: usage,
			},
		})
	case pct >= 80:
		m.publish(bus.Event{
			Kind: bus.KindMemoryPressure,
			At:   m.cfg.Now(),
			Pressure: &bus.MemoryPressure{
				Level:      "high",
				Percentage: pct,
				TotalUsage: usage,
			},
		})
	}
}

func (m *Manager) currentUsage() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalEstBytes
}

// onlyHighPriorityRemains reports whether every group still holding
// events is High priority: the documented exception where eviction has
// nothing left to reclaim below High priority.
func (m *Manager) onlyHighPriorityRemains() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, gb := range m.groups {
		if gb.priority != model.PriorityHigh && gb.ring.Size() > 0 {
			return false
		}
	}
	return true
}

// evictToTarget implements the priority-aware eviction policy of spec
// §4.4: Low priority groups first, then Normal, largest groups within a
// priority tier first, each losing its oldest 10% (at least 1) in a single
// pass, stopping as soon as usage falls to targetFraction of the limit.
// High-priority groups are trimmed the same way only when no Low or Normal
// group holds any events.
func (m *Manager) evictToTarget(targetFraction float64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := int64(float64(m.cfg.LimitBytes) * targetFraction)
	var freed int64

	for _, tier := range []model.Priority{model.PriorityLow, model.PriorityNormal, model.PriorityHigh} {
		if m.totalEstBytes <= target {
			break
		}
		if tier == model.PriorityHigh {
			lowerLeft := false
			for _, gb := range m.groups {
				if gb.priority != model.PriorityHigh && gb.ring.Size() > 0 {
					lowerLeft = true
					break
				}
			}
			if lowerLeft {
				break
			}
		}
		ids := m.groupsInTierLocked(tier)
		// Within a tier, largest groups first.
		sort.Slice(ids, func(i, j int) bool {
			return m.groups[ids[i]].ring.Size() > m.groups[ids[j]].ring.Size()
		})
		for _, id := range ids {
			if m.totalEstBytes <= target {
				break
			}
			freed += m.evictOldestFractionLocked(id, 0.10)
		}
	}

	return freed
}

func (m *Manager) groupsInTierLocked(tier model.Priority) []string {
	var out []string
	for id, gb := range m.groups {
		if gb.priority == tier {
			out = append(out, id)
		}
	}
	return out
}

// evictOldestFractionLocked force-evicts at least 1 and up to frac of a
// group's current size, returning the bytes freed. Caller must hold m.mu.
func (m *Manager) evictOldestFractionLocked(groupID string, frac float64) int64 {
	gb, ok := m.groups[groupID]
	if !ok {
		return 0
	}
	size := gb.ring.Size()
	if size == 0 {
		return 0
	}
	k := int(float64(size) * frac)
	if k < 1 {
		k = 1
	}
	evicted := gb.ring.ForceEvict(k)
	if evicted == 0 {
		return 0
	}
	freedEst := estimateBytes(model.ChangeEvent{}) * int64(evicted) // floor estimate when exact bytes of evicted events are unknown
	if freedEst > gb.estBytes {
		freedEst = gb.estBytes
	}
	gb.estBytes -= freedEst
	m.totalEstBytes -= freedEst
	return freedEst
}

// emergencyEvict drops roughly half of all events, priority-aware
// (spec §4.4's handleError response to an out-of-memory context).
func (m *Manager) emergencyEvict() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, tier := range []model.Priority{model.PriorityLow, model.PriorityNormal, model.PriorityHigh} {
		for _, id := range m.groupsInTierLocked(tier) {
			gb := m.groups[id]
			size := gb.ring.Size()
			k := size / 2
			if k < 1 && size > 0 {
				k = 1
			}
			n := gb.ring.ForceEvict(k)
			total += n
			freed := estimateBytes(model.ChangeEvent{}) * int64(n)
			if freed > gb.estBytes {
				freed = gb.estBytes
			}
			gb.estBytes -= freed
			m.totalEstBytes -= freed
		}
	}
	return total
}

// runAgeCleanup is the background age-eviction job of spec §4.4.
func (m *Manager) runAgeCleanup() {
	m.mu.Lock()
	total := 0
	for _, gb := range m.groups {
		ageMs := gb.maxAgeMs
		if ageMs <= 0 {
			continue
		}
		n := gb.ring.EvictOlderThan(ageMs)
		total += n
	}
	m.mu.Unlock()

	if total > 0 {
		m.publish(bus.Event{Kind: bus.KindCleanup, At: m.cfg.Now(), Cleanup: &bus.Cleanup{TotalEvicted: total}})
	}
}

// SetGroupMaxAge sets a group's max-age-based eviction window. A value of
// 0 disables age cleanup for this group.
func (m *Manager) SetGroupMaxAge(groupID string, maxAgeMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gb, ok := m.groups[groupID]
	if !ok {
		gb = m.newGroupLocked(groupID, model.PriorityNormal)
	}
	gb.maxAgeMs = maxAgeMs
}

func (m *Manager) publish(ev bus.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}
