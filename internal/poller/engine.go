// Package poller implements the PollerEngine (spec §4.5): named change
// groups, each independently scheduled at 1-33Hz, diffing polled control
// values against their last-seen values and publishing only the changes
// onto the shared bus for the EventCacheManager to ingest.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"qcbridge/internal/bus"
	"qcbridge/internal/control"
	"qcbridge/internal/logging"
	"qcbridge/internal/model"
)

// Engine is the PollerEngine. It depends on control.System rather than
// *control.Adapter directly so it can be driven by a fake in tests.
type Engine struct {
	mu     sync.RWMutex
	groups map[string]*ChangeGroup

	system control.System
	bus    *bus.Bus
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine constructs an Engine. system supplies control values (normally
// a *control.Adapter); b is the shared bus changes are published to.
func NewEngine(system control.System, b *bus.Bus, logger *slog.Logger) *Engine {
	return &Engine{
		groups: make(map[string]*ChangeGroup),
		system: system,
		bus:    b,
		logger: logging.Default(logger).With("component", "poller-engine"),
		now:    time.Now,
	}
}

// Create registers a new change group. intervalMs selects the timing mode:
// below highFrequencyCutoffMs the group runs on the bespoke high-frequency
// scheduler, otherwise on a plain ticker.
func (e *Engine) Create(id string, controls []string, intervalMs int, priority model.Priority) (*ChangeGroup, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if intervalMs <= 0 {
		return nil, fmt.Errorf("poller: interval must be positive, got %d", intervalMs)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.groups[id]; exists {
		return nil, fmt.Errorf("poller: change group %q: %w", id, control.ErrAlreadyExists)
	}
	g := newChangeGroup(id, intervalMs, priority, controls)
	e.groups[id] = g
	e.logger.Info("change group created", "group", id, "intervalMs", intervalMs, "mode", g.mode.String(), "controls", len(controls))
	return g, nil
}

func (e *Engine) get(id string) (*ChangeGroup, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	g, ok := e.groups[id]
	if !ok {
		return nil, fmt.Errorf("poller: change group %q not found", id)
	}
	return g, nil
}

// AddControls adds controls to an existing group.
func (e *Engine) AddControls(id string, names []string) error {
	g, err := e.get(id)
	if err != nil {
		return err
	}
	g.addControls(names)
	return nil
}

// RemoveControls removes controls from an existing group.
func (e *Engine) RemoveControls(id string, names []string) error {
	g, err := e.get(id)
	if err != nil {
		return err
	}
	g.removeControls(names)
	return nil
}

// Clear resets a group's last-seen values, so its next poll reports every
// tracked control as changed.
func (e *Engine) Clear(id string) error {
	g, err := e.get(id)
	if err != nil {
		return err
	}
	g.clear()
	return nil
}

// Destroy stops auto-polling (if enabled) and removes the group.
func (e *Engine) Destroy(id string) error {
	e.mu.Lock()
	g, ok := e.groups[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("poller: change group %q not found", id)
	}
	delete(e.groups, id)
	e.mu.Unlock()

	g.mu.Lock()
	stop := g.stop
	g.stop = nil
	g.autoPoll = false
	g.mu.Unlock()
	if stop != nil {
		stop()
	}
	e.logger.Info("change group destroyed", "group", id)
	return nil
}

// SetAutoPoll starts or stops a group's background polling. Disabling
// stops the group's timer before this call returns, so no new tick starts
// after SetAutoPoll(id, false); a tick already running at that moment may
// still finish.
func (e *Engine) SetAutoPoll(id string, enabled bool) error {
	g, err := e.get(id)
	if err != nil {
		return err
	}

	g.mu.Lock()
	if enabled == g.autoPoll {
		g.mu.Unlock()
		return nil
	}
	g.autoPoll = enabled
	if !enabled {
		stop := g.stop
		g.stop = nil
		g.mu.Unlock()
		if stop != nil {
			stop()
		}
		e.logger.Info("auto poll disabled", "group", id)
		return nil
	}
	g.mu.Unlock()

	if g.mode == ModeHighFrequency {
		e.startHighFrequency(g)
	} else {
		e.startNormal(g)
	}
	e.logger.Info("auto poll enabled", "group", id, "mode", g.mode.String())
	return nil
}

// startNormal schedules a group on a plain ticker; the plain ticker is
// adequate above the high-frequency cutoff since a few milliseconds of
// jitter at 1-9Hz never accumulates into a visible rate regression.
func (e *Engine) startNormal(g *ChangeGroup) {
	ticker := time.NewTicker(time.Duration(g.intervalMs) * time.Millisecond)
	done := make(chan struct{})

	g.mu.Lock()
	g.stop = func() {
		close(done)
		ticker.Stop()
	}
	g.mu.Unlock()

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				e.tick(g)
			}
		}
	}()
}

// startHighFrequency schedules a group with a self-rescheduling
// time.AfterFunc chain rather than a ticker. Two properties matter at
// sub-100ms intervals: the next fire time is computed from the original
// start time plus n*interval (not "now + interval" after each tick), so
// jitter from a slow tick never accumulates into drift; and a tick that
// finds the previous one still running is dropped rather than queued,
// since a naive ticker backed by a blocking poll is exactly how a 33Hz
// group degrades to an effective 3Hz under load (spec §4.5).
func (e *Engine) startHighFrequency(g *ChangeGroup) {
	interval := time.Duration(g.intervalMs) * time.Millisecond
	start := e.now()
	var n int64
	stopped := make(chan struct{})
	var timerMu sync.Mutex
	var timer *time.Timer

	var schedule func()
	schedule = func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		select {
		case <-stopped:
			return
		default:
		}
		n++
		next := start.Add(time.Duration(n) * interval)
		delay := next.Sub(e.now())
		if delay < 0 {
			delay = 0
		}
		timer = time.AfterFunc(delay, func() {
			select {
			case <-stopped:
				return
			default:
			}
			if g.pollInProgress.CompareAndSwap(false, true) {
				e.tick(g)
				g.pollInProgress.Store(false)
			}
			schedule()
		})
	}

	g.mu.Lock()
	g.stop = func() {
		timerMu.Lock()
		close(stopped)
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}
	g.mu.Unlock()

	schedule()
}

func (e *Engine) tick(g *ChangeGroup) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(g.intervalMs)*time.Millisecond*10)
	defer cancel()
	changes, err := e.poll(ctx, g)
	if err != nil {
		e.logger.Warn("poll failed", "group", g.id, "error", err)
		return
	}
	if len(changes) == 0 {
		return
	}
	e.publish(g, changes)
}

// PollOnce polls a group immediately, independent of its auto-poll state,
// and returns the resulting changes without requiring auto-poll to be on.
func (e *Engine) PollOnce(ctx context.Context, id string) ([]model.ChangeEvent, error) {
	g, err := e.get(id)
	if err != nil {
		return nil, err
	}
	changes, err := e.poll(ctx, g)
	if err != nil {
		return nil, err
	}
	if len(changes) > 0 {
		e.publish(g, changes)
	}
	return changes, nil
}

func (e *Engine) poll(ctx context.Context, g *ChangeGroup) ([]model.ChangeEvent, error) {
	names := g.controlNames()
	if len(names) == 0 {
		return nil, nil
	}

	results, err := e.system.GetValues(ctx, names)
	if err != nil {
		return nil, err
	}

	now := e.now()
	tsMs := now.UnixMilli()

	g.mu.Lock()
	defer g.mu.Unlock()

	var changes []model.ChangeEvent
	for _, r := range results {
		cur := control.FromAny(r.Value)
		prev, hadPrev := g.lastValues[r.Name]
		if hadPrev && prev.Equal(cur) {
			continue
		}
		ev := model.ChangeEvent{
			GroupID:     g.id,
			ControlName: r.Name,
			Value:       cur,
			String:      r.String,
			Timestamp:   now.UnixNano(),
			TimestampMs: tsMs,
		}
		if hadPrev {
			p := prev
			ev.PreviousValue = &p
			if prevStr, ok := g.lastStrings[r.Name]; ok {
				ev.PreviousString = &prevStr
			}
			if delta, ok := control.Delta(cur, prev); ok {
				ev.Delta = &delta
			}
		}
		g.lastValues[r.Name] = cur
		g.lastStrings[r.Name] = r.String
		changes = append(changes, ev)
	}
	return changes, nil
}

func (e *Engine) publish(g *ChangeGroup, changes []model.ChangeEvent) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{
		Kind: bus.KindChangeGroupChanges,
		At:   e.now(),
		Changes: &bus.ChangeBatch{
			GroupID:     g.id,
			Changes:     changes,
			Timestamp:   e.now().UnixNano(),
			TimestampMs: e.now().UnixMilli(),
		},
	})
}

// List returns a snapshot of every registered group's configuration.
func (e *Engine) List() []Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Info, 0, len(e.groups))
	for _, g := range e.groups {
		out = append(out, g.info())
	}
	return out
}

// Close destroys every registered group, stopping all timers.
func (e *Engine) Close() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.groups))
	for id := range e.groups {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		_ = e.Destroy(id)
	}
}
