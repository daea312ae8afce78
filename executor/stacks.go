package executor

import "github.com/opal-lang/genc/handler"

// NewStack builds the standard two-layer executor stack (spec §5): an
// InlineExecutor beneath a ControlFlowExecutor, both dispatching from
// the same handler.Set. This is the constructor embedders use; the
// individual layers remain exported for tests and for hosts that need
// a bare InlineExecutor (e.g. to run INLINE-only intrinsics without
// paying for the control-flow layer's scope machinery).
// A zero Config uses the default scheduler and logger for both layers.
func NewStack(handlers *handler.Set, cfg Config) *ControlFlowExecutor {
	inline := NewInlineExecutor(handlers, cfg)
	return NewControlFlowExecutor(handlers, inline, cfg)
}
