package executor

import (
	"github.com/opal-lang/genc/handler"
	"github.com/opal-lang/genc/invariant"
)

// ControlFlowExecutor is the top executor layer: it evaluates
// structural nodes (Reference, Lambda, Block, Call, Selection, Struct)
// and dispatches CONTROL_FLOW-discipline intrinsics directly. An
// Intrinsic requiring INLINE discipline is embedded into child — its
// static parameter and call argument are lowered into child's store
// and the call runs there, with the result wrapped back as a handle
// this executor owns (spec §5 "embedding").
type ControlFlowExecutor struct {
	*core
}

// NewControlFlowExecutor creates a ControlFlowExecutor dispatching
// CONTROL_FLOW handlers from handlers directly and embedding INLINE
// handlers into child.
// A zero Config uses the default scheduler and logger.
func NewControlFlowExecutor(handlers *handler.Set, child Executor, cfg Config) *ControlFlowExecutor {
	invariant.NotNil(handlers, "handlers")
	invariant.NotNil(child, "child")
	return &ControlFlowExecutor{core: newCore("cf", handlers, handler.CONTROL_FLOW, child, cfg)}
}
