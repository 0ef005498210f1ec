package engine

import (
	"context"
	"testing"
)

func TestFakeClient_ListComponentsAndControls(t *testing.T) {
	c := NewFakeClient()
	comps, err := c.ListComponents(context.Background())
	if err != nil || len(comps) != 2 {
		t.Fatalf("ListComponents() = %v, %v", comps, err)
	}
	ctls, err := c.ListControls(context.Background(), "MainMixer")
	if err != nil || len(ctls) != 3 {
		t.Fatalf("ListControls(MainMixer) = %v, %v", ctls, err)
	}
	if _, err := c.ListControls(context.Background(), "NoSuchThing"); err == nil {
		t.Fatal("ListControls for unknown component should fail")
	}
}

func TestFakeClient_GetAndSetValues(t *testing.T) {
	c := NewFakeClient()
	got, err := c.GetValues(context.Background(), []string{"MainMixer.gain"})
	if err != nil || len(got) != 1 || got[0].Value != 0.0 {
		t.Fatalf("GetValues() = %+v, %v", got, err)
	}

	if err := c.SetValues(context.Background(), []ControlWrite{{Name: "MainMixer.gain", Value: -10.0}}); err != nil {
		t.Fatalf("SetValues: %v", err)
	}
	got, _ = c.GetValues(context.Background(), []string{"MainMixer.gain"})
	if got[0].Value != -10.0 {
		t.Fatalf("GetValues() after write = %v, want -10.0", got[0].Value)
	}
}

func TestFakeClient_Jitter(t *testing.T) {
	c := NewFakeClient()
	c.Jitter("MainMixer.gain", 2.5)
	got, _ := c.GetValues(context.Background(), []string{"MainMixer.gain"})
	if got[0].Value != 2.5 {
		t.Fatalf("GetValues() after Jitter = %v, want 2.5", got[0].Value)
	}
}

func TestFakeClient_SimulateDisconnectReconnect(t *testing.T) {
	c := NewFakeClient()
	c.SimulateDisconnect("test")
	if c.IsConnected() {
		t.Fatal("IsConnected() should be false after SimulateDisconnect")
	}
	ev := <-c.Events()
	if ev.Kind != EventDisconnected {
		t.Fatalf("event kind = %v, want EventDisconnected", ev.Kind)
	}

	c.SimulateReconnect(45000)
	if !c.IsConnected() {
		t.Fatal("IsConnected() should be true after SimulateReconnect")
	}
	ev = <-c.Events()
	if ev.Kind != EventConnected || !ev.RequiresCacheInvalidation {
		t.Fatalf("event = %+v, want Connected with RequiresCacheInvalidation", ev)
	}
}

func TestFakeClient_SimulateReconnect_ShortDowntimeNoInvalidationFlag(t *testing.T) {
	c := NewFakeClient()
	c.SimulateDisconnect("test")
	<-c.Events()
	c.SimulateReconnect(500)
	ev := <-c.Events()
	if ev.RequiresCacheInvalidation {
		t.Fatal("RequiresCacheInvalidation should be false for a short downtime")
	}
}
