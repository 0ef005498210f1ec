// Package eventcache implements the EventCacheManager (spec §4.4): owns
// per-group ring buffers, enforces a global memory budget with
// priority-aware eviction, runs background age cleanup, and serves
// queries, optionally fronted by a QueryCache.
package eventcache

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"qcbridge/internal/bus"
	"qcbridge/internal/control"
	"qcbridge/internal/logging"
	"qcbridge/internal/model"
	"qcbridge/internal/ring"
)

// EventSource is anything a Manager can subscribe to for change batches;
// satisfied directly by *bus.Bus, since the poller and the manager
// communicate only by publishing/subscribing on a shared bus (spec §9).
type EventSource interface {
	Subscribe(name string) *bus.Subscriber
}

const (
	defaultRingCapacity = 10000
	bytesFloor          = 200
	bytesOverheadFactor = 1.2
)

// Config configures a Manager.
type Config struct {
	RingCapacity          int
	LimitBytes            int64 // 0 disables the memory budget entirely
	MemoryCheckInterval    time.Duration
	CleanupInterval        time.Duration
	DefaultMaxAgeMs        int64 // 0 disables age cleanup for groups that don't override it
	QueryCacheCapacity     int
	QueryCacheTTL          time.Duration
	Now                    func() time.Time
	Logger                 *slog.Logger
}

func (c *Config) setDefaults() {
	if c.RingCapacity <= 0 {
		c.RingCapacity = defaultRingCapacity
	}
	if c.MemoryCheckInterval <= 0 {
		c.MemoryCheckInterval = time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// groupBuffer is spec §3's GroupBuffer.
type groupBuffer struct {
	ring      *ring.Buffer
	maxAgeMs  int64
	priority  model.Priority
	estBytes  int64
	lastValue map[string]model.ChangeEvent // control name -> last event, for previous/delta when the ring has evicted the prior entry
}

// HealthLevel is the coarse health classification of GetHealthStatus.
type HealthLevel string

const (
	HealthHealthy   HealthLevel = "healthy"
	HealthDegraded  HealthLevel = "degraded"
	HealthUnhealthy HealthLevel = "unhealthy"
)

// HealthStatus is the result of GetHealthStatus.
type HealthStatus struct {
	Status            HealthLevel
	MemoryUsagePercent float64
	ErrorCount        uint64
	LastError         string
	Issues            []string
}

// Statistics is the result of GetStatistics.
type Statistics struct {
	TotalEvents   int64
	TotalGroups   int
	TotalUsage    int64
	LimitBytes    int64
	PerGroup      map[string]GroupStats
	Performance   Performance
}

// GroupStats is the per-group slice of Statistics.
type GroupStats struct {
	EventCount int
	EstBytes   int64
	Priority   model.Priority
}

// Performance reports throughput, used by scenario A's assertions.
type Performance struct {
	EventsPerSecond float64
}

// Manager is the EventCacheManager.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	bus    *bus.Bus

	mu            sync.RWMutex
	groups        map[string]*groupBuffer
	totalEstBytes int64
	nextSequence  uint64

	queryCache *QueryCache

	errMu      sync.Mutex
	errorCount uint64
	lastError  string

	firstEventAt time.Time
	totalEvents  int64

	sub       *bus.Subscriber
	scheduler gocron.Scheduler
	closeOnce sync.Once
	closed    chan struct{}
}

// NewManager constructs a Manager. Callers must call AttachPoller to start
// ingesting change batches, and Close to release background tickers.
func NewManager(cfg Config, b *bus.Bus) (*Manager, error) {
	cfg.setDefaults()
	logger := logging.Default(cfg.Logger).With("component", "event-cache-manager")

	m := &Manager{
		cfg:        cfg,
		logger:     logger,
		bus:        b,
		groups:     make(map[string]*groupBuffer),
		queryCache: NewQueryCache(cfg.QueryCacheCapacity, cfg.QueryCacheTTL),
		closed:     make(chan struct{}),
	}

	sched, err := gocron.NewScheduler(gocron.WithLimitConcurrentJobs(2, gocron.LimitModeReschedule))
	if err != nil {
		return nil, fmt.Errorf("event cache manager: create scheduler: %w", err)
	}
	m.scheduler = sched

	if cfg.LimitBytes > 0 {
		if _, err := sched.NewJob(gocron.DurationJob(cfg.MemoryCheckInterval), gocron.NewTask(m.checkMemory)); err != nil {
			return nil, fmt.Errorf("event cache manager: schedule memory check: %w", err)
		}
	}
	if _, err := sched.NewJob(gocron.DurationJob(cfg.CleanupInterval), gocron.NewTask(m.runAgeCleanup)); err != nil {
		return nil, fmt.Errorf("event cache manager: schedule age cleanup: %w", err)
	}
	sched.Start()

	return m, nil
}

// AttachPoller subscribes to change batches published by src (spec §4.4).
func (m *Manager) AttachPoller(src EventSource) {
	m.sub = src.Subscribe("event-cache-manager")
	go m.drain(m.sub)
}

func (m *Manager) drain(sub *bus.Subscriber) {
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.Kind == bus.KindChangeGroupChanges && ev.Changes != nil {
				m.ingest(*ev.Changes)
			}
		case <-m.closed:
			return
		}
	}
}

// ingest implements the event-ingestion steps of spec §4.4.
func (m *Manager) ingest(batch bus.ChangeBatch) {
	if batch.Changes == nil {
		m.handleError(fmt.Errorf("batch changes is nil"), "ingest", batch.GroupID)
		return
	}

	m.mu.Lock()
	gb, ok := m.groups[batch.GroupID]
	if !ok {
		gb = m.newGroupLocked(batch.GroupID, model.PriorityNormal)
	}

	for i := range batch.Changes {
		ev := &batch.Changes[i]
		ev.SequenceNumber = m.nextSequence
		m.nextSequence++

		// The ring buffer only holds the last RingCapacity events per
		// group, so once the physical previous entry has been evicted the
		// ring itself can no longer answer "what came before this?". The
		// per-group lastValue map is this manager's own record of it,
		// consulted here whenever the publisher (the poller) didn't
		// already attach a previous value/delta.
		if ev.PreviousValue == nil {
			if prev, ok := gb.lastValue[ev.ControlName]; ok {
				p := prev.Value
				ev.PreviousValue = &p
				if prev.String != "" {
					s := prev.String
					ev.PreviousString = &s
				}
				if delta, ok := control.Delta(ev.Value, prev.Value); ok {
					ev.Delta = &delta
				}
			}
		}

		gb.ring.Add(*ev)
		gb.lastValue[ev.ControlName] = *ev
		gb.estBytes += estimateBytes(*ev)
		m.totalEstBytes += estimateBytes(*ev)
	}
	m.totalEvents += int64(len(batch.Changes))
	if m.firstEventAt.IsZero() && len(batch.Changes) > 0 {
		m.firstEventAt = m.cfg.Now()
	}
	m.mu.Unlock()

	m.queryCache.InvalidateGroup(batch.GroupID)
}

func (m *Manager) newGroupLocked(groupID string, priority model.Priority) *groupBuffer {
	gb := &groupBuffer{
		ring:      ring.New(m.cfg.RingCapacity, ring.WithMaxAge(m.cfg.DefaultMaxAgeMs), ring.WithClock(m.cfg.Now)),
		maxAgeMs:  m.cfg.DefaultMaxAgeMs,
		priority:  priority,
		lastValue: make(map[string]model.ChangeEvent),
	}
	m.groups[groupID] = gb
	return gb
}

// estimateBytes is the approximation in spec §4.4: max(200, name +
// string-form + overhead) * 1.2. This is a documented heuristic, not a
// measurement (spec §9 Open Questions).
func estimateBytes(ev model.ChangeEvent) int64 {
	raw := len(ev.ControlName) + len(ev.String) + 64
	if raw < bytesFloor {
		raw = bytesFloor
	}
	return int64(float64(raw) * bytesOverheadFactor)
}

// Query answers a read against one or more groups' ring buffers, fronted
// by the QueryCache (spec §4.3/§4.4). Cache misses fall through to the
// ring buffers' time-indexed QueryTimeRange, then q's own filter/order/
// aggregate/paginate pipeline.
func (m *Manager) Query(q Query) []model.ChangeEvent {
	key := Canonicalize(q)
	if cached, ok := m.queryCache.Get(key); ok {
		return cached
	}

	groupIDs := q.GroupIDs
	m.mu.RLock()
	if len(groupIDs) == 0 {
		groupIDs = make([]string, 0, len(m.groups))
		for id := range m.groups {
			groupIDs = append(groupIDs, id)
		}
	}
	var raw []model.ChangeEvent
	for _, id := range groupIDs {
		gb, ok := m.groups[id]
		if !ok {
			continue
		}
		if q.From.IsZero() && q.To.IsZero() {
			raw = append(raw, gb.ring.All()...)
			continue
		}
		raw = append(raw, gb.ring.QueryTimeRange(q.From.UnixNano(), q.To.UnixNano())...)
	}
	m.mu.RUnlock()

	results := q.applyTo(raw)
	m.queryCache.Put(key, groupIDs, results)
	return results
}

// ClearQueryCache discards all cached query results without touching the
// underlying ring buffers. Called by the reconnect coordinator after a
// downtime long enough that stale query results are no longer a safe
// shortcut (spec SPEC_FULL §4.8).
func (m *Manager) ClearQueryCache() {
	m.queryCache.Purge()
}

// SetGroupPriority sets a group's eviction priority, creating the group's
// buffer on demand if it doesn't exist yet.
func (m *Manager) SetGroupPriority(groupID string, priority model.Priority) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gb, ok := m.groups[groupID]
	if !ok {
		gb = m.newGroupLocked(groupID, priority)
		return
	}
	gb.priority = priority
}

// GetStatistics returns totals, or a single group's stats if groupID is
// non-empty.
func (m *Manager) GetStatistics(groupID string) Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Statistics{
		TotalUsage: m.totalEstBytes,
		LimitBytes: m.cfg.LimitBytes,
		PerGroup:   make(map[string]GroupStats),
	}

	elapsed := m.cfg.Now().Sub(m.firstEventAt).Seconds()
	if elapsed > 0 {
		stats.Performance.EventsPerSecond = float64(m.totalEvents) / elapsed
	}

	if groupID != "" {
		if gb, ok := m.groups[groupID]; ok {
			stats.TotalGroups = 1
			stats.TotalEvents = int64(gb.ring.Size())
			stats.PerGroup[groupID] = GroupStats{EventCount: gb.ring.Size(), EstBytes: gb.estBytes, Priority: gb.priority}
		}
		return stats
	}

	stats.TotalGroups = len(m.groups)
	for id, gb := range m.groups {
		stats.TotalEvents += int64(gb.ring.Size())
		stats.PerGroup[id] = GroupStats{EventCount: gb.ring.Size(), EstBytes: gb.estBytes, Priority: gb.priority}
	}
	return stats
}

// GetHealthStatus reports the coarse health classification of spec §4.4.
func (m *Manager) GetHealthStatus() HealthStatus {
	m.mu.RLock()
	limit := m.cfg.LimitBytes
	usage := m.totalEstBytes
	m.mu.RUnlock()

	m.errMu.Lock()
	errCount := m.errorCount
	lastErr := m.lastError
	m.errMu.Unlock()

	pct := 0.0
	if limit > 0 {
		pct = float64(usage) / float64(limit) * 100
	}

	status := HealthHealthy
	var issues []string
	if pct >= 90 {
		status = HealthUnhealthy
		issues = append(issues, "memory usage critical")
	} else if pct >= 80 {
		status = HealthDegraded
		issues = append(issues, "memory usage high")
	}
	if errCount > 0 && status == HealthHealthy {
		status = HealthDegraded
		issues = append(issues, "errors recorded")
	}

	return HealthStatus{
		Status:             status,
		MemoryUsagePercent: pct,
		ErrorCount:         errCount,
		LastError:          lastErr,
		Issues:             issues,
	}
}

// Close stops background tickers and releases buffers.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
		_ = m.scheduler.Shutdown()
		if m.sub != nil && m.bus != nil {
			m.bus.Unsubscribe(m.sub)
		}
		m.mu.Lock()
		m.groups = make(map[string]*groupBuffer)
		m.mu.Unlock()
	})
	return nil
}

// sortedGroupIDs returns group ids in a stable order, for deterministic
// test output.
func (m *Manager) sortedGroupIDs() []string {
	ids := make([]string, 0, len(m.groups))
	for id := range m.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
