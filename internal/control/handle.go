package control

import "qcbridge/internal/engine"

// Handle is an opaque reference to a (component, control) pair, resolved
// once by the index and cheap to copy thereafter. An active handle is
// always resolvable to a live control, or invalidated before next use
// (spec §3) — callers must not retain a Handle across an invalidate().
type Handle struct {
	Component string
	Control   string
	Meta      engine.ControlMeta
}

// FullName returns the "Component.Control" form used throughout the
// external tool surface.
func (h Handle) FullName() string {
	return h.Component + "." + h.Control
}
