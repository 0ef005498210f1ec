// Package control implements the ControlAdapter: a stateful facade over an
// engine SDK that validates/coerces values, maintains a name index, and
// applies a retry policy for transient failures (spec §4.6-4.7).
package control

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	petname "github.com/dustinkirkland/golang-petname"

	"qcbridge/internal/engine"
	"qcbridge/internal/logging"
)

// State is the adapter's connection lifecycle, per spec §4.7.
type State int32

const (
	StateInitializing State = iota
	StateConnected
	StateDisconnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	case StateReconnecting:
		return "Reconnecting"
	default:
		return "Initializing"
	}
}

// Options configures an Adapter.
type Options struct {
	Retry              RetryPolicy
	StringMaxLength    int // default 255
	SkipValidation     bool
	Logger             *slog.Logger
}

// Adapter implements System over an engine.Client. It owns the control
// Index exclusively; no other component holds references into it.
type Adapter struct {
	client engine.Client
	index  *Index
	opts   Options
	logger *slog.Logger

	state State32
	// sessionLabel is a human-memorable tag attached to every log line
	// this adapter instance emits, so operators can follow one engine
	// session across a noisy log stream.
	sessionLabel string
}

// State32 is an atomic wrapper around State.
type State32 struct{ v atomic.Int32 }

func (s *State32) Load() State      { return State(s.v.Load()) }
func (s *State32) Store(v State)    { s.v.Store(int32(v)) }

func NewAdapter(client engine.Client, opts Options) *Adapter {
	if opts.Retry.MaxRetries == 0 && opts.Retry.Delay == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.StringMaxLength == 0 {
		opts.StringMaxLength = 255
	}
	logger := logging.Default(opts.Logger)
	label := petname.Generate(2, "-")
	logger = logger.With("component", "control-adapter", "session", label)

	a := &Adapter{
		client:       client,
		index:        NewIndex(client, logger),
		opts:         opts,
		logger:       logger,
		sessionLabel: label,
	}
	if client.IsConnected() {
		a.state.Store(StateConnected)
	}
	return a
}

// Index returns the adapter's control index, for the reconnect coordinator
// to invalidate on long downtime.
func (a *Adapter) Index() *Index { return a.index }

// SessionLabel returns this adapter instance's human-memorable log tag.
func (a *Adapter) SessionLabel() string { return a.sessionLabel }

// State returns the current connection state.
func (a *Adapter) State() State { return a.state.Load() }

// HandleConnEvent updates the adapter's state machine in response to an
// engine connection lifecycle event. The ReconnectCoordinator is the sole
// subscriber of engine.Client.Events() and forwards events here, so the
// adapter's state transitions stay consistent with the coordinator's view
// of the connection (spec §4.7's Initializing -> Connected -> Disconnected
// -> Reconnecting -> Connected machine).
func (a *Adapter) HandleConnEvent(evt engine.ConnEvent) {
	switch evt.Kind {
	case engine.EventConnected:
		prev := a.state.Load()
		a.state.Store(StateConnected)
		a.logger.Info("engine connected", "previousState", prev.String())
	case engine.EventDisconnected:
		a.state.Store(StateDisconnected)
		a.logger.Warn("engine disconnected", "reason", evt.Reason)
	case engine.EventReconnecting:
		a.state.Store(StateReconnecting)
		a.logger.Info("engine reconnecting", "attempt", evt.Attempt)
	}
}

func (a *Adapter) ensureConnectedForCommand() error {
	if a.state.Load() == StateDisconnected {
		return ErrNotConnected
	}
	return nil
}

// retry wraps an SDK call. While disconnected, fn is not called at all and
// ErrNotConnected is returned immediately, since §4.7 requires NotConnected
// to fail without retry.
func (a *Adapter) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := a.ensureConnectedForCommand(); err != nil {
		return err
	}
	return a.opts.Retry.Do(ctx, a.logger, op, fn)
}

// GetComponents implements Component.GetComponents.
func (a *Adapter) GetComponents(ctx context.Context) ([]ComponentSummary, error) {
	if err := a.index.EnsureBuilt(ctx); err != nil {
		return nil, err
	}
	var out []ComponentSummary
	err := a.retry(ctx, "Component.GetComponents", func(ctx context.Context) error {
		comps, err := a.client.ListComponents(ctx)
		if err != nil {
			return err
		}
		out = make([]ComponentSummary, len(comps))
		for i, c := range comps {
			out[i] = ComponentSummary{Name: c.Name, Type: c.Type, Properties: c.Properties}
		}
		return nil
	})
	return out, err
}

// GetControls implements Component.GetControls.
func (a *Adapter) GetControls(ctx context.Context, component string) (ComponentControls, error) {
	if err := a.index.EnsureBuilt(ctx); err != nil {
		return ComponentControls{}, err
	}
	names, ok := a.index.ControlsOf(component)
	if !ok {
		return ComponentControls{}, fmt.Errorf("%w: Component not found: %s", ErrNotFound, component)
	}
	return a.readByNames(ctx, component, names)
}

// GetComponentValues implements Component.Get: specific controls of one
// component.
func (a *Adapter) GetComponentValues(ctx context.Context, component string, controls []string) (ComponentControls, error) {
	if err := a.index.EnsureBuilt(ctx); err != nil {
		return ComponentControls{}, err
	}
	if !a.index.ComponentExists(component) {
		return ComponentControls{}, fmt.Errorf("%w: Component not found: %s", ErrNotFound, component)
	}
	full := make([]string, len(controls))
	for i, c := range controls {
		full[i] = component + "." + c
	}
	return a.readByNames(ctx, component, full)
}

func (a *Adapter) readByNames(ctx context.Context, component string, fullNames []string) (ComponentControls, error) {
	var result ComponentControls
	result.Name = component
	err := a.retry(ctx, "Component.Get", func(ctx context.Context) error {
		metas, err := a.client.GetValues(ctx, fullNames)
		if err != nil {
			return err
		}
		result.Controls = make([]ControlSummary, len(metas))
		for i, m := range metas {
			result.Controls[i] = ControlSummary{Name: m.FullName(), Value: m.Value, String: m.String}
		}
		return nil
	})
	return result, err
}

// GetAllControls implements Component.GetAllControls: a flat list across
// all components.
func (a *Adapter) GetAllControls(ctx context.Context) ([]ControlSummary, error) {
	if err := a.index.EnsureBuilt(ctx); err != nil {
		return nil, err
	}
	var all []string
	for _, comp := range a.index.Components() {
		names, _ := a.index.ControlsOf(comp)
		all = append(all, names...)
	}
	var out []ControlSummary
	err := a.retry(ctx, "Component.GetAllControls", func(ctx context.Context) error {
		metas, err := a.client.GetValues(ctx, all)
		if err != nil {
			return err
		}
		out = make([]ControlSummary, len(metas))
		for i, m := range metas {
			out[i] = ControlSummary{Name: m.FullName(), Value: m.Value, String: m.String}
		}
		return nil
	})
	return out, err
}

// GetValues implements Control.Get: values for arbitrary controls,
// resolved with the enhanced multi-dot resolution and the named-control
// placeholder rule of spec §4.7.
func (a *Adapter) GetValues(ctx context.Context, names []string) ([]ValueResult, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: empty control list", ErrInvalidArgument)
	}
	if err := a.index.EnsureBuilt(ctx); err != nil {
		return nil, err
	}

	resolved := make([]string, 0, len(names))
	placeholders := make(map[int]string) // index in `names` -> original name
	for i, n := range names {
		trimmed := strings.TrimSpace(n)
		if !strings.Contains(trimmed, ".") {
			placeholders[i] = trimmed
			continue
		}
		h, ok := a.index.Resolve(trimmed)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, trimmed)
		}
		resolved = append(resolved, h.FullName())
	}

	var byName map[string]engine.ControlMeta
	if len(resolved) > 0 {
		err := a.retry(ctx, "Control.Get", func(ctx context.Context) error {
			metas, err := a.client.GetValues(ctx, resolved)
			if err != nil {
				return err
			}
			byName = make(map[string]engine.ControlMeta, len(metas))
			for _, m := range metas {
				byName[m.FullName()] = m
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	out := make([]ValueResult, len(names))
	ri := 0
	for i, n := range names {
		if orig, ok := placeholders[i]; ok {
			out[i] = ValueResult{Name: orig, Value: 0, String: "N/A"}
			continue
		}
		full := resolved[ri]
		ri++
		m := byName[full]
		out[i] = ValueResult{Name: full, Value: m.Value, String: m.String}
	}
	return out, nil
}

// SetValues implements Control.Set / Control.SetValues.
func (a *Adapter) SetValues(ctx context.Context, writes []Write) ([]WriteResult, error) {
	if len(writes) == 0 {
		return nil, fmt.Errorf("%w: empty write batch", ErrInvalidArgument)
	}
	if err := a.index.EnsureBuilt(ctx); err != nil {
		return nil, err
	}
	return a.applyWrites(ctx, writes), nil
}

// SetComponentValues implements Component.Set: batch writes scoped to one
// component.
func (a *Adapter) SetComponentValues(ctx context.Context, component string, writes []Write) ([]WriteResult, error) {
	scoped := make([]Write, len(writes))
	for i, w := range writes {
		w.Name = component + "." + w.Name
		scoped[i] = w
	}
	return a.SetValues(ctx, scoped)
}

// applyWrites attempts every write independently; a failure on one item
// never aborts the others (spec §7).
func (a *Adapter) applyWrites(ctx context.Context, writes []Write) []WriteResult {
	results := make([]WriteResult, len(writes))
	var toSend []engine.ControlWrite
	var sendIdx []int

	for i, w := range writes {
		name := strings.TrimSpace(w.Name)
		h, ok := a.index.Resolve(name)
		if !ok {
			results[i] = WriteResult{Name: name, Success: false, Error: notFoundMessage(name)}
			continue
		}

		var value any
		if a.opts.SkipValidation {
			value = w.Value
		} else {
			meta := h.Meta
			v, err := Coerce(w.Value, &meta, a.opts.StringMaxLength)
			if err != nil {
				results[i] = WriteResult{Name: h.FullName(), Success: false, Error: err.Error()}
				continue
			}
			value = v.Any()
		}

		ew := engine.ControlWrite{Name: h.FullName(), Value: value}
		if w.Ramp != nil {
			d := secondsToDuration(*w.Ramp)
			ew.Ramp = &d
		}
		toSend = append(toSend, ew)
		sendIdx = append(sendIdx, i)
		results[i] = WriteResult{Name: h.FullName(), Success: true}
	}

	if len(toSend) == 0 {
		return results
	}

	err := a.retry(ctx, "Control.Set", func(ctx context.Context) error {
		return a.client.SetValues(ctx, toSend)
	})
	if err != nil {
		for _, i := range sendIdx {
			results[i] = WriteResult{Name: results[i].Name, Success: false, Error: err.Error()}
		}
	}
	return results
}

func notFoundMessage(name string) string {
	if !strings.Contains(name, ".") {
		return "N/A"
	}
	component := name
	if i := strings.Index(name, "."); i >= 0 {
		component = name[:i]
	}
	return "Component not found: " + component
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// Status implements Status.Get. It MUST succeed even when disconnected,
// returning a structured "Disconnected" status rather than an error
// (spec §4.7, §8 property 7).
func (a *Adapter) Status(ctx context.Context) StatusResult {
	state := a.state.Load()
	if state != StateConnected {
		return StatusResult{
			Platform: "qcbridge",
			State:    "Disconnected",
			Code:     5,
			String:   "Not connected to Q-SYS Core",
		}
	}
	return StatusResult{
		Platform: "qcbridge",
		State:    "Connected",
		Code:     0,
		String:   "OK",
	}
}
