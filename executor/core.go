package executor

import (
	"context"
	"log/slog"

	"github.com/opal-lang/genc/concurrency"
	"github.com/opal-lang/genc/errkind"
	"github.com/opal-lang/genc/handler"
	"github.com/opal-lang/genc/scope"
	"github.com/opal-lang/genc/value"
)

// Executor is the six-operation contract every executor layer — inline,
// control-flow, and remote — implements (spec §5). CreateValue and the
// four Create* operations build handles from already-evaluated pieces;
// Materialize and Dispose are the only operations that ever leave an
// executor's boundary (a remote transport speaks exactly these six,
// string-id-keyed; see transport.go).
type Executor interface {
	// CreateValue evaluates a scope-free Value (no Reference nodes) —
	// a literal, a struct/selection/lambda/intrinsic built from them —
	// into a Handle owned by this executor.
	CreateValue(ctx context.Context, v value.Value) (Handle, error)
	CreateStruct(ctx context.Context, fields []Handle) (Handle, error)
	CreateSelection(ctx context.Context, source Handle, index int) (Handle, error)
	CreateCall(ctx context.Context, fn Handle, arg Handle) (Handle, error)
	Materialize(ctx context.Context, h Handle) (value.Value, error)
	Dispose(ctx context.Context, h Handle) error
}

// intrinsicCreator is implemented by every *core-backed executor,
// letting a parent layer materialize an equivalent intrinsic value
// directly in a child's store when embedding (spec §5 "embedding").
type intrinsicCreator interface {
	createIntrinsic(ctx context.Context, uri string, staticParam Handle) (Handle, error)
}

// nativeArgumentProvider is implemented by every *core-backed executor,
// letting a parent reach past a kindEmbedded handle straight to the
// child's own native conversion instead of round-tripping through
// Materialize.
type nativeArgumentProvider interface {
	nativeArgument(ctx context.Context, h Handle) (any, error)
}

// valueLifter is implemented by every *core-backed executor, letting a
// parent push a native Go value down into a child's store when
// embedding.
type valueLifter interface {
	liftNative(ctx context.Context, v any) (Handle, error)
}

// core is the shared evaluator behind InlineExecutor and
// ControlFlowExecutor. The two differ only in which handler.Discipline
// they dispatch directly (accept) and whether they have somewhere to
// delegate a mismatched discipline to (child).
type core struct {
	store     *store
	handlers  *handler.Set
	accept    handler.Discipline
	child     Executor
	scheduler concurrency.Scheduler
	logger    *slog.Logger
	debug     DebugLevel
	policy    PolicyChecker
}

func newCore(prefix string, handlers *handler.Set, accept handler.Discipline, child Executor, cfg Config) *core {
	return &core{
		store:     newStore(prefix),
		handlers:  handlers,
		accept:    accept,
		child:     child,
		scheduler: cfg.scheduler(),
		logger:    cfg.logger(),
		debug:     cfg.Debug,
		policy:    cfg.Policy,
	}
}

// Run evaluates v in scope sc, the entry point used by control-flow
// layers (and tests) that have an actual lexical scope to evaluate
// against. It is not part of the Executor interface — embedders and
// remote peers only ever see scope-free Values via CreateValue — but
// it is the method NewStack's returned executor exposes for evaluating
// a whole program.
func (c *core) Run(ctx context.Context, v value.Value, sc *scope.Scope) (Handle, error) {
	return c.evaluate(ctx, v, sc)
}

func (c *core) evaluate(ctx context.Context, v value.Value, sc *scope.Scope) (Handle, error) {
	if c.debug >= DebugPaths {
		c.logger.Debug("evaluate", "kind", v.Kind().String())
	}
	switch n := v.(type) {
	case *value.Literal:
		return c.store.put(&execValue{kind: kindLiteral, literal: n}), nil

	case *value.Struct:
		fields := make([]Handle, len(n.Fields))
		var labels []string
		for i, f := range n.Fields {
			h, err := c.evaluate(ctx, f.Value, sc)
			if err != nil {
				return Handle{}, errkind.Annotate(err, "while evaluating struct field %d", i)
			}
			fields[i] = h
			if f.Label != "" {
				if labels == nil {
					labels = make([]string, len(n.Fields))
				}
				labels[i] = f.Label
			}
		}
		return c.createStructLabeled(ctx, fields, labels)

	case *value.Selection:
		sourceHandle, err := c.evaluate(ctx, n.Source, sc)
		if err != nil {
			return Handle{}, err
		}
		return c.CreateSelection(ctx, sourceHandle, n.Index)

	case *value.Reference:
		bound, err := sc.Lookup(n.Name)
		if err != nil {
			return Handle{}, errkind.Annotate(err, "while resolving reference %q", n.Name)
		}
		h, ok := bound.(Handle)
		if !ok {
			return Handle{}, errkind.New(errkind.Internal, "scope binding for %q is not an executor handle", n.Name)
		}
		return h, nil

	case *value.Lambda:
		return c.store.put(&execValue{kind: kindLambda, lambda: n, capture: sc}), nil

	case *value.Block:
		cur := sc
		for _, l := range n.Locals {
			h, err := c.evaluate(ctx, l.Value, cur)
			if err != nil {
				return Handle{}, errkind.Annotate(err, "while evaluating local %q in block", l.Name)
			}
			cur = cur.Extend(l.Name, h)
		}
		return c.evaluate(ctx, n.Result, cur)

	case *value.Intrinsic:
		return c.evaluateIntrinsic(ctx, n, sc)

	case *value.Call:
		fnHandle, err := c.evaluate(ctx, n.Function, sc)
		if err != nil {
			return Handle{}, errkind.Annotate(err, "while evaluating call target")
		}
		var argHandle Handle
		if n.Argument != nil {
			argHandle, err = c.evaluate(ctx, n.Argument, sc)
			if err != nil {
				return Handle{}, errkind.Annotate(err, "while evaluating call argument")
			}
		}
		return c.CreateCall(ctx, fnHandle, argHandle)

	default:
		return Handle{}, errkind.New(errkind.Internal, "unknown value node type %T", v)
	}
}

func (c *core) evaluateIntrinsic(ctx context.Context, n *value.Intrinsic, sc *scope.Scope) (Handle, error) {
	var staticHandle Handle
	if n.StaticParam != nil {
		h, err := c.evaluate(ctx, n.StaticParam, sc)
		if err != nil {
			return Handle{}, errkind.Annotate(err, "while evaluating static parameter of intrinsic %q", n.URI)
		}
		staticHandle = h
	}
	return c.createIntrinsic(ctx, n.URI, staticHandle)
}

func (c *core) createIntrinsic(ctx context.Context, uri string, staticParam Handle) (Handle, error) {
	hd, err := c.handlers.Lookup(uri)
	if err != nil {
		return Handle{}, err
	}
	if c.policy != nil && !c.policy.Allows(uri) {
		return Handle{}, errkind.New(errkind.Unimplemented, "intrinsic %q is denied by the active policy", uri)
	}
	if hd.StaticParamSchema != nil {
		native, err := c.nativeArgument(ctx, staticParam)
		if err != nil {
			return Handle{}, err
		}
		if err := c.handlers.CheckWellFormed(hd, toJSONNative(native)); err != nil {
			return Handle{}, errkind.Annotate(err, "while validating static parameter of intrinsic %q", uri)
		}
	}
	return c.store.put(&execValue{
		kind:             kindIntrinsic,
		intrinsicURI:     uri,
		intrinsicHandler: &hd,
		staticParam:      staticParam,
	}), nil
}

// CreateValue implements Executor.
func (c *core) CreateValue(ctx context.Context, v value.Value) (Handle, error) {
	return c.evaluate(ctx, v, scope.Empty)
}

// CreateStruct implements Executor. The executor contract itself is
// label-blind (spec §4.1); labels are threaded in only by evaluate's
// *value.Struct case via createStructLabeled.
func (c *core) CreateStruct(ctx context.Context, fields []Handle) (Handle, error) {
	return c.createStructLabeled(ctx, fields, nil)
}

func (c *core) createStructLabeled(ctx context.Context, fields []Handle, labels []string) (Handle, error) {
	cp := append([]Handle(nil), fields...)
	return c.store.put(&execValue{kind: kindStruct, fields: cp, fieldLabels: labels}), nil
}

// CreateSelection implements Executor.
func (c *core) CreateSelection(ctx context.Context, source Handle, index int) (Handle, error) {
	return c.store.put(&execValue{kind: kindSelection, selSource: source, selIndex: index}), nil
}

// CreateCall implements Executor.
func (c *core) CreateCall(ctx context.Context, fn Handle, arg Handle) (Handle, error) {
	ev, err := c.store.get(fn)
	if err != nil {
		return Handle{}, errkind.Annotate(err, "while resolving call target")
	}
	switch ev.kind {
	case kindLambda:
		paramScope := ev.capture.Extend(ev.lambda.Param, arg)
		return c.evaluate(ctx, ev.lambda.Result, paramScope)

	case kindIntrinsic:
		return c.dispatchIntrinsic(ctx, ev, arg)

	case kindEmbedded:
		childArg, err := c.forwardHandleToChild(ctx, ev.child, arg)
		if err != nil {
			return Handle{}, err
		}
		resultHandle, err := ev.child.CreateCall(ctx, ev.childHandle, childArg)
		if err != nil {
			return Handle{}, err
		}
		return c.store.put(&execValue{kind: kindEmbedded, child: ev.child, childHandle: resultHandle}), nil

	default:
		return Handle{}, errkind.New(errkind.InvalidArgument, "value is not callable")
	}
}

func (c *core) dispatchIntrinsic(ctx context.Context, ev *execValue, arg Handle) (Handle, error) {
	hd := *ev.intrinsicHandler
	if hd.Discipline == c.accept {
		return c.invokeHandler(ctx, ev, arg)
	}
	if c.child == nil {
		return Handle{}, errkind.New(errkind.Unimplemented,
			"intrinsic %q requires %s discipline, unavailable at this executor layer", ev.intrinsicURI, hd.Discipline)
	}

	childIntrinsicHandle, err := c.lowerIntrinsicValue(ctx, ev)
	if err != nil {
		return Handle{}, err
	}
	childArgHandle, err := c.forwardHandleToChild(ctx, c.child, arg)
	if err != nil {
		return Handle{}, err
	}
	resultHandle, err := c.child.CreateCall(ctx, childIntrinsicHandle, childArgHandle)
	if err != nil {
		return Handle{}, err
	}
	return c.store.put(&execValue{kind: kindEmbedded, child: c.child, childHandle: resultHandle}), nil
}

// lowerIntrinsicValue recreates ev (an intrinsic whose handler belongs
// to the other discipline) as an equivalent value owned by c.child —
// the spec's "embedding" of a value into the child executor.
func (c *core) lowerIntrinsicValue(ctx context.Context, ev *execValue) (Handle, error) {
	creator, ok := c.child.(intrinsicCreator)
	if !ok {
		return Handle{}, errkind.New(errkind.Internal, "child executor cannot host intrinsics")
	}
	var staticChildHandle Handle
	if !ev.staticParam.IsZero() {
		h, err := c.forwardHandleToChild(ctx, c.child, ev.staticParam)
		if err != nil {
			return Handle{}, err
		}
		staticChildHandle = h
	}
	return creator.createIntrinsic(ctx, ev.intrinsicURI, staticChildHandle)
}

// forwardHandleToChild produces, in child's store, a value equivalent
// to the one h names in c's store.
func (c *core) forwardHandleToChild(ctx context.Context, child Executor, h Handle) (Handle, error) {
	if h.IsZero() {
		return Handle{}, nil
	}
	native, err := c.nativeArgument(ctx, h)
	if err != nil {
		return Handle{}, err
	}
	lifter, ok := child.(valueLifter)
	if !ok {
		return Handle{}, errkind.New(errkind.Internal, "child executor cannot accept lowered values")
	}
	return lifter.liftNative(ctx, native)
}

func (c *core) invokeHandler(ctx context.Context, ev *execValue, arg Handle) (Handle, error) {
	hd := *ev.intrinsicHandler

	staticVal, err := c.nativeArgument(ctx, ev.staticParam)
	if err != nil {
		return Handle{}, err
	}

	nativeArg, err := c.nativeArgument(ctx, arg)
	if err != nil {
		return Handle{}, err
	}

	result, err := hd.Execute(ctx, handler.Request{
		StaticParam: staticVal,
		Argument:    nativeArg,
		Invoker:     c,
		Scheduler:   c.scheduler,
	})
	if err != nil {
		return Handle{}, errkind.Annotate(err, "while executing intrinsic %q", ev.intrinsicURI)
	}
	return c.liftNative(ctx, result)
}

// Evaluate implements handler.Invoker: it lets a handler evaluate a
// fresh, scope-free Value fragment it was not itself handed pre-
// resolved. Handlers reach nested computation primarily through
// Applicable values already present in their Request, not through
// this method — it exists for handlers that synthesize new Value
// nodes from scratch (e.g. prompt_template building a result literal
// is not a case that needs it, but a future handler that constructs
// and immediately runs a helper Value would).
func (c *core) Evaluate(ctx context.Context, v value.Value) (any, error) {
	h, err := c.evaluate(ctx, v, scope.Empty)
	if err != nil {
		return nil, err
	}
	return c.nativeArgument(ctx, h)
}

// Materialize implements Executor.
func (c *core) Materialize(ctx context.Context, h Handle) (value.Value, error) {
	ev, err := c.store.get(h)
	if err != nil {
		return nil, err
	}
	switch ev.kind {
	case kindLiteral:
		return ev.literal, nil
	case kindStruct:
		fields := make([]value.StructField, len(ev.fields))
		for i, fh := range ev.fields {
			v, err := c.Materialize(ctx, fh)
			if err != nil {
				return nil, err
			}
			fields[i] = value.StructField{Value: v}
			if i < len(ev.fieldLabels) {
				fields[i].Label = ev.fieldLabels[i]
			}
		}
		return &value.Struct{Fields: fields}, nil
	case kindSelection:
		resolved, err := c.resolveSelection(ctx, ev)
		if err != nil {
			return nil, err
		}
		return c.Materialize(ctx, resolved)
	case kindLambda:
		return ev.lambda, nil
	case kindIntrinsic:
		var sp value.Value
		if !ev.staticParam.IsZero() {
			v, err := c.Materialize(ctx, ev.staticParam)
			if err != nil {
				return nil, err
			}
			sp = v
		}
		return &value.Intrinsic{URI: ev.intrinsicURI, StaticParam: sp}, nil
	case kindEmbedded:
		return ev.child.Materialize(ctx, ev.childHandle)
	default:
		return nil, errkind.New(errkind.Internal, "unknown executor value kind %d", ev.kind)
	}
}

// Dispose implements Executor.
func (c *core) Dispose(ctx context.Context, h Handle) error {
	if h.IsZero() {
		return nil
	}
	ev, err := c.store.dispose(h)
	if err != nil {
		return err
	}
	switch ev.kind {
	case kindStruct:
		for _, fh := range ev.fields {
			_ = c.Dispose(ctx, fh)
		}
	case kindIntrinsic:
		if !ev.staticParam.IsZero() {
			_ = c.Dispose(ctx, ev.staticParam)
		}
	case kindEmbedded:
		return ev.child.Dispose(ctx, ev.childHandle)
	}
	return nil
}

func (c *core) resolveSelection(ctx context.Context, ev *execValue) (Handle, error) {
	sourceEv, err := c.store.get(ev.selSource)
	if err != nil {
		return Handle{}, errkind.Annotate(err, "while resolving selection source")
	}
	if sourceEv.kind == kindEmbedded {
		childResult, err := sourceEv.child.CreateSelection(ctx, sourceEv.childHandle, ev.selIndex)
		if err != nil {
			return Handle{}, err
		}
		return c.store.put(&execValue{kind: kindEmbedded, child: sourceEv.child, childHandle: childResult}), nil
	}
	if sourceEv.kind != kindStruct {
		return Handle{}, errkind.New(errkind.InvalidArgument, "selection source is not a struct")
	}
	if ev.selIndex < 0 || ev.selIndex >= len(sourceEv.fields) {
		return Handle{}, errkind.New(errkind.NotFound, "selection index %d out of range (struct has %d fields)", ev.selIndex, len(sourceEv.fields))
	}
	return sourceEv.fields[ev.selIndex], nil
}

func (c *core) nativeArgument(ctx context.Context, h Handle) (any, error) {
	if h.IsZero() {
		return nil, nil
	}
	ev, err := c.store.get(h)
	if err != nil {
		return nil, err
	}
	switch ev.kind {
	case kindLiteral:
		return literalToNative(ev.literal), nil
	case kindStruct:
		vals := make([]any, len(ev.fields))
		for i, fh := range ev.fields {
			v, err := c.nativeArgument(ctx, fh)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return StructNative{Values: vals, Labels: ev.fieldLabels}, nil
	case kindSelection:
		resolved, err := c.resolveSelection(ctx, ev)
		if err != nil {
			return nil, err
		}
		return c.nativeArgument(ctx, resolved)
	case kindLambda, kindIntrinsic:
		return Applicable{core: c, handle: h}, nil
	case kindEmbedded:
		if p, ok := ev.child.(nativeArgumentProvider); ok {
			return p.nativeArgument(ctx, ev.childHandle)
		}
		mv, err := ev.child.Materialize(ctx, ev.childHandle)
		if err != nil {
			return nil, err
		}
		return mv, nil
	default:
		return nil, errkind.New(errkind.Internal, "unknown executor value kind %d", ev.kind)
	}
}

func (c *core) liftNative(ctx context.Context, v any) (Handle, error) {
	switch x := v.(type) {
	case nil:
		return Handle{}, nil
	case Applicable:
		if x.core != c {
			return Handle{}, errkind.New(errkind.Unimplemented, "cannot lift an applicable value across executors")
		}
		return x.handle, nil
	case StructNative:
		handles := make([]Handle, len(x.Values))
		for i, val := range x.Values {
			h, err := c.liftNative(ctx, val)
			if err != nil {
				return Handle{}, err
			}
			handles[i] = h
		}
		return c.createStructLabeled(ctx, handles, x.Labels)
	default:
		lit, err := literalFromNative(v)
		if err != nil {
			return Handle{}, err
		}
		return c.store.put(&execValue{kind: kindLiteral, literal: lit}), nil
	}
}
