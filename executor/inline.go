package executor

import (
	"context"

	"github.com/opal-lang/genc/errkind"
	"github.com/opal-lang/genc/handler"
	"github.com/opal-lang/genc/invariant"
	"github.com/opal-lang/genc/value"
)

// InlineExecutor is the bottom executor layer: it evaluates literals
// and dispatches INLINE-discipline intrinsics directly. It has no
// child — an Intrinsic requiring CONTROL_FLOW discipline reaching this
// layer is a configuration error (spec §5: INLINE handlers must not
// themselves need structural embedding).
type InlineExecutor struct {
	*core
}

// NewInlineExecutor creates an InlineExecutor dispatching INLINE
// handlers from handlers. A zero Config uses the default scheduler and
// logger.
func NewInlineExecutor(handlers *handler.Set, cfg Config) *InlineExecutor {
	invariant.NotNil(handlers, "handlers")
	return &InlineExecutor{core: newCore("inline", handlers, handler.INLINE, nil, cfg)}
}

// CreateValue implements Executor. A bare InlineExecutor accepts only a
// literal or an Intrinsic whose handler discipline is INLINE at the
// root — any other node kind (Struct, Selection, Reference, Lambda,
// Block, Call, or an Intrinsic requiring CONTROL_FLOW) is rejected
// rather than silently evaluated (spec §5: the inline layer "accepts
// only literals, and intrinsics whose handler discipline is INLINE; for
// other node kinds it returns an error"). An Intrinsic's own static
// parameter is free to be a Struct of literals (model_inference_with_config,
// rest_call) — that recursion happens inside evaluate, beneath this
// root-level check, so it is unaffected.
func (e *InlineExecutor) CreateValue(ctx context.Context, v value.Value) (Handle, error) {
	if err := e.checkRootAccepted(v); err != nil {
		return Handle{}, err
	}
	return e.core.CreateValue(ctx, v)
}

func (e *InlineExecutor) checkRootAccepted(v value.Value) error {
	switch n := v.(type) {
	case *value.Literal:
		return nil
	case *value.Intrinsic:
		hd, err := e.handlers.Lookup(n.URI)
		if err != nil {
			return err
		}
		if hd.Discipline != handler.INLINE {
			return errkind.New(errkind.InvalidArgument, "inline executor cannot accept intrinsic %q: requires %s discipline", n.URI, hd.Discipline)
		}
		return nil
	default:
		return errkind.New(errkind.InvalidArgument, "inline executor accepts only literals and INLINE intrinsics, got a %s node", v.Kind())
	}
}

// CreateCall implements Executor, requiring fn to materialize to an
// Intrinsic node — a bare InlineExecutor has no lambda-capturing scope
// of its own and must not run a lambda body directly (spec §5: the
// inline layer's create-call "requires the function handle to
// materialize to an Intrinsic node").
func (e *InlineExecutor) CreateCall(ctx context.Context, fn Handle, arg Handle) (Handle, error) {
	ev, err := e.store.get(fn)
	if err != nil {
		return Handle{}, errkind.Annotate(err, "while resolving call target")
	}
	if ev.kind != kindIntrinsic {
		return Handle{}, errkind.New(errkind.InvalidArgument, "inline executor requires the call target to be an intrinsic")
	}
	return e.core.CreateCall(ctx, fn, arg)
}
