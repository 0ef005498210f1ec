package control

import (
	"context"
	"sync"
	"time"

	"qcbridge/internal/engine"
)

// fakeClient is a minimal engine.Client for control package tests:
// configurable connected state, a fixed topology, and hooks to inject
// errors or count calls.
type fakeClient struct {
	mu        sync.Mutex
	connected bool
	components []engine.ComponentInfo
	controls   map[string][]engine.ControlMeta
	values     map[string]any

	listComponentsErr   error
	listComponentsDelay time.Duration
	listComponentsCalls int
	getValuesErr        error
	setValuesErr        error
	getValuesCalls      int

	events chan engine.ConnEvent
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		connected: true,
		components: []engine.ComponentInfo{
			{Name: "Mixer", Type: "mixer"},
		},
		controls: map[string][]engine.ControlMeta{
			"Mixer": {
				{Component: "Mixer", Name: "gain", Type: engine.KindFloat},
				{Component: "Mixer", Name: "mute", Type: engine.KindBoolean},
			},
		},
		values: map[string]any{
			"Mixer.gain": 0.0,
			"Mixer.mute": false,
		},
		events: make(chan engine.ConnEvent, 4),
	}
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) ListComponents(context.Context) ([]engine.ComponentInfo, error) {
	f.mu.Lock()
	f.listComponentsCalls++
	delay := f.listComponentsDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if f.listComponentsErr != nil {
		return nil, f.listComponentsErr
	}
	return f.components, nil
}

func (f *fakeClient) ListControls(_ context.Context, component string) ([]engine.ControlMeta, error) {
	return f.controls[component], nil
}

func (f *fakeClient) GetValues(_ context.Context, names []string) ([]engine.ControlMeta, error) {
	f.mu.Lock()
	f.getValuesCalls++
	f.mu.Unlock()
	if f.getValuesErr != nil {
		return nil, f.getValuesErr
	}
	out := make([]engine.ControlMeta, len(names))
	for i, n := range names {
		out[i] = engine.ControlMeta{Name: n[len("Mixer."):], Component: "Mixer", Value: f.values[n], String: "x"}
	}
	return out, nil
}

func (f *fakeClient) SetValues(_ context.Context, writes []engine.ControlWrite) error {
	if f.setValuesErr != nil {
		return f.setValuesErr
	}
	for _, w := range writes {
		f.values[w.Name] = w.Value
	}
	return nil
}

func (f *fakeClient) Events() <-chan engine.ConnEvent { return f.events }
