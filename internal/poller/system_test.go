package poller

import (
	"context"
	"sync"

	"qcbridge/internal/control"
)

// fakeSystem is a minimal control.System for poller tests: GetValues reads
// from an in-memory map that the test can mutate between polls.
type fakeSystem struct {
	mu     sync.Mutex
	values map[string]fakeValue
	calls  int
	err    error
}

type fakeValue struct {
	value  any
	string string
}

func newFakeSystem() *fakeSystem {
	return &fakeSystem{values: make(map[string]fakeValue)}
}

func (f *fakeSystem) set(name string, value any, str string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[name] = fakeValue{value: value, string: str}
}

func (f *fakeSystem) GetValues(_ context.Context, names []string) ([]control.ValueResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]control.ValueResult, len(names))
	for i, n := range names {
		v := f.values[n]
		out[i] = control.ValueResult{Name: n, Value: v.value, String: v.string}
	}
	return out, nil
}

func (f *fakeSystem) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSystem) GetComponents(context.Context) ([]control.ComponentSummary, error) { return nil, nil }
func (f *fakeSystem) GetControls(context.Context, string) (control.ComponentControls, error) {
	return control.ComponentControls{}, nil
}
func (f *fakeSystem) GetComponentValues(context.Context, string, []string) (control.ComponentControls, error) {
	return control.ComponentControls{}, nil
}
func (f *fakeSystem) GetAllControls(context.Context) ([]control.ControlSummary, error) { return nil, nil }
func (f *fakeSystem) SetValues(context.Context, []control.Write) ([]control.WriteResult, error) {
	return nil, nil
}
func (f *fakeSystem) SetComponentValues(context.Context, string, []control.Write) ([]control.WriteResult, error) {
	return nil, nil
}
func (f *fakeSystem) Status(context.Context) control.StatusResult { return control.StatusResult{} }
