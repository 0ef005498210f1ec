package eventcache

import (
	"strings"

	"qcbridge/internal/bus"
)

// handleError implements spec §4.4's error handling: increments the error
// counter, records the last error, emits an `error` bus event, and applies
// the context-sensitive policy (storage-full disables spillover,
// out-of-memory triggers emergency eviction, corruption drops the
// offending group).
func (m *Manager) handleError(err error, context string, groupID string) {
	m.errMu.Lock()
	m.errorCount++
	m.lastError = err.Error()
	m.errMu.Unlock()

	m.publish(bus.Event{
		Kind: bus.KindError,
		At:   m.cfg.Now(),
		Err: &bus.ErrorEvent{
			Error:     err.Error(),
			Context:   context,
			GroupID:   groupID,
			Timestamp: m.cfg.Now().UnixNano(),
		},
	})

	lower := strings.ToLower(context)
	switch {
	case strings.Contains(lower, "enospc") || strings.Contains(lower, "storage full") || strings.Contains(lower, "storagefull"):
		m.disableSinks()
	case strings.Contains(lower, "out of memory") || strings.Contains(lower, "outofmemory") || strings.Contains(lower, "oom"):
		n := m.emergencyEvict()
		m.publish(bus.Event{
			Kind:      bus.KindEmergencyEviction,
			At:        m.cfg.Now(),
			Emergency: &bus.EmergencyEviction{TotalEvicted: n, Timestamp: m.cfg.Now().UnixNano()},
		})
	case strings.Contains(lower, "corrupt") && groupID != "":
		m.dropGroup(groupID)
	}
}

// disableSinks stops publishing to any attached bus sinks without
// affecting in-memory ingestion, per the StorageFull error kind.
func (m *Manager) disableSinks() {
	if m.bus == nil {
		return
	}
	for _, name := range m.bus.SinkNames() {
		if sink := m.bus.RemoveSink(name); sink != nil {
			_ = sink.Close()
		}
	}
}

// dropGroup removes a group's buffer entirely, per the Corruption error
// kind.
func (m *Manager) dropGroup(groupID string) {
	m.mu.Lock()
	delete(m.groups, groupID)
	m.mu.Unlock()
	m.queryCache.InvalidateGroup(groupID)
}
