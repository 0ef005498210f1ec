package poller

import (
	"testing"

	"qcbridge/internal/control"
	"qcbridge/internal/model"
)

func TestModeFor(t *testing.T) {
	cases := []struct {
		intervalMs int
		want       Mode
	}{
		{30, ModeHighFrequency},
		{99, ModeHighFrequency},
		{100, ModeNormal},
		{1000, ModeNormal},
	}
	for _, c := range cases {
		if got := modeFor(c.intervalMs); got != c.want {
			t.Errorf("modeFor(%d) = %v, want %v", c.intervalMs, got, c.want)
		}
	}
}

func TestChangeGroup_AddRemoveControls(t *testing.T) {
	g := newChangeGroup("g1", 1000, model.PriorityNormal, []string{"Mixer.gain"})
	g.addControls([]string{"Mixer.mute"})
	if got := g.controlNames(); len(got) != 2 {
		t.Fatalf("controlNames() = %v, want 2 entries", got)
	}

	g.lastValues["Mixer.gain"] = control.Number(1)
	g.lastStrings["Mixer.gain"] = "1.0dB"
	g.removeControls([]string{"Mixer.gain"})
	if got := g.controlNames(); len(got) != 1 {
		t.Fatalf("controlNames() after remove = %v, want 1 entry", got)
	}
	if _, ok := g.lastValues["Mixer.gain"]; ok {
		t.Fatal("removeControls should also drop lastValues for the removed control")
	}
	if _, ok := g.lastStrings["Mixer.gain"]; ok {
		t.Fatal("removeControls should also drop lastStrings for the removed control")
	}
}

func TestChangeGroup_Clear(t *testing.T) {
	g := newChangeGroup("g1", 1000, model.PriorityNormal, []string{"Mixer.gain"})
	g.lastValues["Mixer.gain"] = control.Number(5)
	g.clear()
	if len(g.lastValues) != 0 {
		t.Fatal("clear() should empty lastValues")
	}
}

func TestChangeGroup_Info(t *testing.T) {
	g := newChangeGroup("g1", 50, model.PriorityHigh, []string{"Mixer.gain", "Mixer.mute"})
	info := g.info()
	if info.ID != "g1" || info.Mode != ModeHighFrequency || info.Priority != model.PriorityHigh || info.ControlCount != 2 {
		t.Fatalf("info() = %+v", info)
	}
}
