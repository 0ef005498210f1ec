package control

import (
	"context"
	"errors"
	"testing"

	"qcbridge/internal/engine"
)

func newTestAdapter(client *fakeClient) *Adapter {
	return NewAdapter(client, Options{
		Retry: RetryPolicy{MaxRetries: 1, Sleep: noSleep},
	})
}

func TestAdapter_GetValues_ResolvesDottedNames(t *testing.T) {
	client := newFakeClient()
	a := newTestAdapter(client)

	out, err := a.GetValues(context.Background(), []string{"Mixer.gain"})
	if err != nil {
		t.Fatalf("GetValues: %v", err)
	}
	if len(out) != 1 || out[0].Name != "Mixer.gain" {
		t.Fatalf("GetValues = %+v", out)
	}
}

func TestAdapter_GetValues_NamedControlPlaceholder(t *testing.T) {
	// A name with no dot can't be resolved against the Component.Control
	// index; it gets the documented "N/A" placeholder instead of an error.
	client := newFakeClient()
	a := newTestAdapter(client)

	out, err := a.GetValues(context.Background(), []string{"gain"})
	if err != nil {
		t.Fatalf("GetValues: %v", err)
	}
	if len(out) != 1 || out[0].String != "N/A" {
		t.Fatalf("GetValues(gain) = %+v, want N/A placeholder", out)
	}
}

func TestAdapter_GetValues_UnknownDottedNameNotFound(t *testing.T) {
	client := newFakeClient()
	a := newTestAdapter(client)

	_, err := a.GetValues(context.Background(), []string{"Mixer.volume"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetValues(Mixer.volume) = %v, want ErrNotFound", err)
	}
}

func TestAdapter_GetValues_EmptyListRejected(t *testing.T) {
	client := newFakeClient()
	a := newTestAdapter(client)

	_, err := a.GetValues(context.Background(), nil)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("GetValues(nil) = %v, want ErrInvalidArgument", err)
	}
}

func TestAdapter_SetValues_ValidatesAndCoerces(t *testing.T) {
	client := newFakeClient()
	client.controls["Mixer"] = []engine.ControlMeta{
		{Component: "Mixer", Name: "gain", Type: engine.KindFloat, Min: floatPtr(-10), Max: floatPtr(10)},
	}
	a := newTestAdapter(client)

	results, err := a.SetValues(context.Background(), []Write{
		{Name: "Mixer.gain", Value: 5.0},
		{Name: "Mixer.gain", Value: 50.0}, // out of range
	})
	if err != nil {
		t.Fatalf("SetValues: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if !results[0].Success {
		t.Errorf("results[0] = %+v, want Success", results[0])
	}
	if results[1].Success {
		t.Errorf("results[1] = %+v, want failure (out of range)", results[1])
	}
}

func TestAdapter_SetValues_UnknownControlFails(t *testing.T) {
	client := newFakeClient()
	a := newTestAdapter(client)

	results, err := a.SetValues(context.Background(), []Write{
		{Name: "Mixer.volume", Value: 1.0},
	})
	if err != nil {
		t.Fatalf("SetValues: %v", err)
	}
	if len(results) != 1 || results[0].Success {
		t.Fatalf("results = %+v, want one failed write", results)
	}
}

func TestAdapter_SetValues_EmptyBatchRejected(t *testing.T) {
	client := newFakeClient()
	a := newTestAdapter(client)

	_, err := a.SetValues(context.Background(), nil)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("SetValues(nil) = %v, want ErrInvalidArgument", err)
	}
}

func TestAdapter_Status_WhileDisconnected(t *testing.T) {
	// Scenario E: Status.Get must succeed with a structured Disconnected
	// result, never an error, even when the engine is unreachable.
	client := newFakeClient()
	client.connected = false
	a := newTestAdapter(client)

	got := a.Status(context.Background())
	if got.State != "Disconnected" || got.Code != 5 {
		t.Fatalf("Status() = %+v, want Disconnected/5", got)
	}
}

func TestAdapter_Status_WhileConnected(t *testing.T) {
	client := newFakeClient()
	a := newTestAdapter(client)

	got := a.Status(context.Background())
	if got.State != "Connected" || got.Code != 0 {
		t.Fatalf("Status() = %+v, want Connected/0", got)
	}
}

func TestAdapter_GetValues_FailsWithoutRetryWhenDisconnected(t *testing.T) {
	client := newFakeClient()
	a := newTestAdapter(client)
	a.HandleConnEvent(engine.ConnEvent{Kind: engine.EventDisconnected, Reason: "test"})

	_, err := a.GetValues(context.Background(), []string{"Mixer.gain"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("GetValues while disconnected = %v, want ErrNotConnected", err)
	}
	if client.getValuesCalls != 0 {
		t.Fatalf("getValuesCalls = %d, want 0 (no retry attempts while disconnected)", client.getValuesCalls)
	}
}

func TestAdapter_HandleConnEvent_StateTransitions(t *testing.T) {
	client := newFakeClient()
	client.connected = false
	a := newTestAdapter(client)
	if got := a.State(); got != StateInitializing {
		t.Fatalf("initial State() = %v, want Initializing", got)
	}

	a.HandleConnEvent(engine.ConnEvent{Kind: engine.EventDisconnected})
	if got := a.State(); got != StateDisconnected {
		t.Fatalf("State() after Disconnected event = %v", got)
	}

	a.HandleConnEvent(engine.ConnEvent{Kind: engine.EventReconnecting, Attempt: 1})
	if got := a.State(); got != StateReconnecting {
		t.Fatalf("State() after Reconnecting event = %v", got)
	}

	a.HandleConnEvent(engine.ConnEvent{Kind: engine.EventConnected})
	if got := a.State(); got != StateConnected {
		t.Fatalf("State() after Connected event = %v", got)
	}
}

func TestAdapter_GetControls_UnknownComponent(t *testing.T) {
	client := newFakeClient()
	a := newTestAdapter(client)

	_, err := a.GetControls(context.Background(), "Nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetControls(Nonexistent) = %v, want ErrNotFound", err)
	}
}

func TestAdapter_SetComponentValues_ScopesNames(t *testing.T) {
	client := newFakeClient()
	a := newTestAdapter(client)

	results, err := a.SetComponentValues(context.Background(), "Mixer", []Write{
		{Name: "gain", Value: 1.0},
	})
	if err != nil {
		t.Fatalf("SetComponentValues: %v", err)
	}
	if len(results) != 1 || results[0].Name != "Mixer.gain" || !results[0].Success {
		t.Fatalf("results = %+v", results)
	}
}
