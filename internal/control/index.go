package control

import (
	"context"
	"log/slog"
	"sync"

	"qcbridge/internal/engine"
	"qcbridge/internal/logging"
)

// Index is the flat "Component.Control" -> Handle map described in spec
// §4.6. It is built lazily on first use after the engine reports
// connected, rebuilt at most once per invalidation (concurrent rebuild
// attempts are coalesced onto a single in-flight build), and swapped in
// atomically under a short write lock so readers never observe a
// half-built map.
type Index struct {
	client engine.Client
	logger *slog.Logger

	mu     sync.RWMutex
	built  bool
	byName map[string]Handle
	byComp map[string][]string // component -> control full names, insertion order

	buildMu  sync.Mutex
	building *indexBuild
}

// indexBuild tracks a rebuild in flight so concurrent EnsureBuilt callers
// join it instead of each triggering their own pass over the engine's
// component/control listing.
type indexBuild struct {
	done chan struct{}
	err  error
}

func NewIndex(client engine.Client, logger *slog.Logger) *Index {
	return &Index{
		client: client,
		logger: logging.Default(logger).With("component", "control-index"),
		byName: make(map[string]Handle),
		byComp: make(map[string][]string),
	}
}

// EnsureBuilt builds the index on first use. Safe to call repeatedly and
// from multiple goroutines; only one build runs at a time.
func (idx *Index) EnsureBuilt(ctx context.Context) error {
	idx.mu.RLock()
	built := idx.built
	idx.mu.RUnlock()
	if built {
		return nil
	}
	if !idx.client.IsConnected() {
		return ErrNotConnected
	}
	return idx.ensureRebuilt(ctx)
}

// ensureRebuilt runs rebuild, coalescing concurrent callers onto a single
// in-flight attempt: the first caller starts it and clears idx.building on
// completion, every other caller just waits on the same done channel.
func (idx *Index) ensureRebuilt(ctx context.Context) error {
	idx.buildMu.Lock()
	if b := idx.building; b != nil {
		idx.buildMu.Unlock()
		<-b.done
		return b.err
	}
	b := &indexBuild{done: make(chan struct{})}
	idx.building = b
	idx.buildMu.Unlock()

	b.err = idx.rebuild(ctx)
	close(b.done)

	idx.buildMu.Lock()
	idx.building = nil
	idx.buildMu.Unlock()

	return b.err
}

func (idx *Index) rebuild(ctx context.Context) error {
	components, err := idx.client.ListComponents(ctx)
	if err != nil {
		return err
	}

	byName := make(map[string]Handle, len(components)*4)
	byComp := make(map[string][]string, len(components))
	for _, c := range components {
		controls, err := idx.client.ListControls(ctx, c.Name)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(controls))
		for _, ctl := range controls {
			h := Handle{Component: c.Name, Control: ctl.Name, Meta: ctl}
			full := h.FullName()
			byName[full] = h
			names = append(names, full)
		}
		byComp[c.Name] = names
	}

	idx.mu.Lock()
	idx.byName = byName
	idx.byComp = byComp
	idx.built = true
	idx.mu.Unlock()

	idx.logger.Info("index rebuilt", "components", len(components), "controls", len(byName))
	return nil
}

// Invalidate clears the map and the built flag. The next EnsureBuilt call
// triggers a fresh rebuild.
func (idx *Index) Invalidate() {
	idx.mu.Lock()
	idx.built = false
	idx.byName = make(map[string]Handle)
	idx.byComp = make(map[string][]string)
	idx.mu.Unlock()
	idx.logger.Info("index invalidated")
}

// Lookup resolves a full "Component.Control" name directly.
func (idx *Index) Lookup(fullName string) (Handle, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	h, ok := idx.byName[fullName]
	return h, ok
}

// Resolve looks up a full "Component.Control" name. Names with more than
// one dot (a component whose own name contains a dot) resolve the same
// way: the index is keyed by the literal name the engine reported, so a
// query string that matches it byte-for-byte always succeeds regardless
// of where a caller might think the component/control boundary falls.
func (idx *Index) Resolve(name string) (Handle, bool) {
	return idx.Lookup(name)
}

// ComponentExists reports whether a component name is present in the index.
func (idx *Index) ComponentExists(component string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.byComp[component]
	return ok
}

// ControlsOf returns the full names of a component's controls, in the
// order reported by the engine.
func (idx *Index) ControlsOf(component string) ([]string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	names, ok := idx.byComp[component]
	if !ok {
		return nil, false
	}
	out := make([]string, len(names))
	copy(out, names)
	return out, true
}

// Components returns the full component list known to the index, in
// engine-reported order is not preserved (map iteration); callers that
// need stable ordering should sort.
func (idx *Index) Components() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, 0, len(idx.byComp))
	for name := range idx.byComp {
		out = append(out, name)
	}
	return out
}

// Built reports whether the index has been constructed at least once since
// the last invalidation.
func (idx *Index) Built() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.built
}
