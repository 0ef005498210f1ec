package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// FakeClient is an in-memory stand-in for the engine SDK's transport,
// which is out of scope for this module (see the package doc). It holds a
// small fixed component/control topology and lets values be read and
// written like a real Client, so the rest of the bridge (adapter, index,
// poller) can run end-to-end without a real audio-DSP engine attached.
type FakeClient struct {
	mu         sync.RWMutex
	connected  bool
	components []ComponentInfo
	controls   map[string][]ControlMeta // component -> controls
	values     map[string]any           // "Component.Control" -> current value

	events chan ConnEvent
	rng    *rand.Rand
}

// NewFakeClient builds a FakeClient pre-populated with a small mixer-like
// topology: a couple of gain controls, a mute per component, and a
// source-select string.
func NewFakeClient() *FakeClient {
	gainMin, gainMax := -100.0, 20.0
	lenLimit := 64

	c := &FakeClient{
		connected: true,
		components: []ComponentInfo{
			{Name: "MainMixer", Type: "mixer", Properties: map[string]string{"channels": "2"}},
			{Name: "InputGain1", Type: "gain", Properties: map[string]string{"channel": "1"}},
		},
		controls: map[string][]ControlMeta{
			"MainMixer": {
				{Component: "MainMixer", Name: "gain", Type: KindFloat, Min: &gainMin, Max: &gainMax, Value: 0.0, String: "0.0dB"},
				{Component: "MainMixer", Name: "mute", Type: KindBoolean, Value: false, String: "false"},
				{Component: "MainMixer", Name: "source", Type: KindString, MaxLength: &lenLimit, Value: "input1", String: "input1"},
			},
			"InputGain1": {
				{Component: "InputGain1", Name: "gain", Type: KindFloat, Min: &gainMin, Max: &gainMax, Value: -6.0, String: "-6.0dB"},
				{Component: "InputGain1", Name: "mute", Type: KindBoolean, Value: false, String: "false"},
			},
		},
		values: make(map[string]any),
		events: make(chan ConnEvent, 16),
		rng:    rand.New(rand.NewSource(1)),
	}
	for comp, ctls := range c.controls {
		for _, ctl := range ctls {
			c.values[comp+"."+ctl.Name] = ctl.Value
		}
	}
	return c
}

func (c *FakeClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *FakeClient) ListComponents(_ context.Context) ([]ComponentInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ComponentInfo, len(c.components))
	copy(out, c.components)
	return out, nil
}

func (c *FakeClient) ListControls(_ context.Context, component string) ([]ControlMeta, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ctls, ok := c.controls[component]
	if !ok {
		return nil, fmt.Errorf("fake engine: unknown component %q", component)
	}
	out := make([]ControlMeta, len(ctls))
	copy(out, ctls)
	return out, nil
}

func (c *FakeClient) GetValues(_ context.Context, names []string) ([]ControlMeta, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ControlMeta, 0, len(names))
	for _, name := range names {
		meta := c.lookupMetaLocked(name)
		meta.Value = c.values[name]
		meta.String = fmt.Sprintf("%v", meta.Value)
		out = append(out, meta)
	}
	return out, nil
}

func (c *FakeClient) lookupMetaLocked(fullName string) ControlMeta {
	for comp, ctls := range c.controls {
		prefix := comp + "."
		if len(fullName) > len(prefix) && fullName[:len(prefix)] == prefix {
			ctlName := fullName[len(prefix):]
			for _, m := range ctls {
				if m.Name == ctlName {
					return m
				}
			}
		}
	}
	return ControlMeta{Name: fullName}
}

func (c *FakeClient) SetValues(_ context.Context, writes []ControlWrite) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range writes {
		c.values[w.Name] = w.Value
	}
	return nil
}

func (c *FakeClient) Events() <-chan ConnEvent { return c.events }

// Jitter writes a small random perturbation to a numeric control, for
// exercising the poller's change detection in demos and tests without a
// real engine generating traffic.
func (c *FakeClient) Jitter(fullName string, delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.values[fullName].(float64); ok {
		c.values[fullName] = cur + delta
	}
}

// SimulateDisconnect pushes a disconnected event and flips IsConnected,
// for exercising the reconnect coordinator.
func (c *FakeClient) SimulateDisconnect(reason string) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.events <- ConnEvent{Kind: EventDisconnected, Reason: reason}
}

// SimulateReconnect pushes a reconnected event carrying the given downtime.
func (c *FakeClient) SimulateReconnect(downtimeMs int64) {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.events <- ConnEvent{Kind: EventConnected, DowntimeMs: downtimeMs, RequiresCacheInvalidation: downtimeMs >= 30000}
}

// Close releases the events channel.
func (c *FakeClient) Close() { close(c.events) }
