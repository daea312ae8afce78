// Package executor implements the two-layer executor stack that turns
// a value.Value computation graph into running values (spec §5
// "Executors"): an InlineExecutor handling literals and INLINE-
// discipline intrinsics, a ControlFlowExecutor handling structural
// nodes and CONTROL_FLOW-discipline intrinsics and embedding work it
// cannot dispatch itself down into its child, and a Remote executor
// fronting a peer reached over a Transport.
//
// Grounded on the teacher's runtime/executor package (session-scoped
// handle tables, a five/six-operation contract of
// create/call/materialize/dispose, transport-boundary scope checks)
// and on original_source/genc/cc/runtime/remote_executor.cc's
// pipeline-then-await CreateCall shape (see transport.go). The teacher's
// ExecutorValue was a shell-command result; ours is a node in a
// generative-computation graph, but the ownership discipline — every
// handle owned by exactly one logical holder, Dispose releases it and
// cascades into anything it exclusively owns — carries over unchanged.
package executor

import (
	"context"
	"sync"

	"github.com/opal-lang/genc/errkind"
	"github.com/opal-lang/genc/handler"
	"github.com/opal-lang/genc/idgen"
	"github.com/opal-lang/genc/scope"
	"github.com/opal-lang/genc/value"
)

// Handle is an opaque reference to a value owned by one executor. It
// carries no data of its own — the executor that produced it is the
// only thing that can resolve it into anything meaningful, the same
// boundary the teacher draws around its session handles.
type Handle struct {
	id string
}

// NewHandle wraps an externally-assigned id (e.g. a Transport's
// server-side value id) as a Handle. Only Remote and Transport
// implementations outside this package need this — ordinary callers
// only ever receive Handles back from an Executor's own Create* calls.
func NewHandle(id string) Handle { return Handle{id: id} }

// ID returns h's underlying id string, for a Transport implementation
// translating a Handle into its own wire representation.
func (h Handle) ID() string { return h.id }

// IsZero reports whether h is the zero Handle — the conventional
// stand-in for "no argument" on a zero-arity Call.
func (h Handle) IsZero() bool { return h.id == "" }

func (h Handle) String() string {
	if h.IsZero() {
		return "<no value>"
	}
	return h.id
}

type valueKind int

const (
	kindLiteral valueKind = iota
	kindStruct
	kindSelection
	kindLambda
	kindIntrinsic
	kindEmbedded
)

// execValue is the tagged-union internal representation an executor's
// store holds per Handle — the Go analogue of the spec's
// "ExecutorValue" (embedded / structure / lambda / intrinsic cases).
type execValue struct {
	kind valueKind

	literal *value.Literal // kindLiteral

	fields      []Handle // kindStruct: owned field handles
	fieldLabels []string // kindStruct: parallel to fields; "" where a field is unlabeled

	selSource Handle // kindSelection (non-owning: does not take source's ownership)
	selIndex  int

	lambda  *value.Lambda // kindLambda
	capture *scope.Scope  // kindLambda: the scope active where the lambda was defined

	intrinsicURI     string          // kindIntrinsic
	intrinsicHandler *handler.Handler
	staticParam      Handle // kindIntrinsic: owned

	child       Executor // kindEmbedded: the executor that actually owns childHandle
	childHandle Handle   // kindEmbedded: owned, in child's store

	disposed bool
}

// store is the handle table one executor owns: Handle -> execValue,
// guarded for concurrent access (parallel_map dispatches calls
// concurrently against the same executor).
type store struct {
	mu     sync.RWMutex
	values map[string]*execValue
	ids    *idgen.Factory
}

func newStore(prefix string) *store {
	return &store{
		values: make(map[string]*execValue),
		ids:    idgen.New(prefix, idgen.RandomKey()),
	}
}

func (s *store) put(ev *execValue) Handle {
	id := s.ids.Next()
	s.mu.Lock()
	s.values[id] = ev
	s.mu.Unlock()
	return Handle{id: id}
}

func (s *store) get(h Handle) (*execValue, error) {
	if h.IsZero() {
		return nil, errkind.New(errkind.InvalidArgument, "cannot resolve the empty handle")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.values[h.id]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "no value for handle %q", h.id)
	}
	if ev.disposed {
		return nil, errkind.New(errkind.FailedPrecondition, "handle %q was already disposed", h.id)
	}
	return ev, nil
}

func (s *store) dispose(h Handle) (*execValue, error) {
	if h.IsZero() {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.values[h.id]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "no value for handle %q", h.id)
	}
	if ev.disposed {
		return nil, errkind.New(errkind.FailedPrecondition, "handle %q was already disposed", h.id)
	}
	ev.disposed = true
	delete(s.values, h.id)
	return ev, nil
}

func (s *store) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// StructNative is the native Go shape of a materialized Struct value,
// handed to handlers as (part of) Request.Argument. Selection is always
// by index (spec §3); field labels, where present, travel alongside the
// ordered values in Labels.
type StructNative struct {
	Values []any
	// Labels is parallel to Values; "" where a field carries no label
	// (spec §3: Struct element labels are a Value-graph annotation, not
	// an executor-contract concept — CreateStruct itself stays
	// label-blind, but a handler that needs name-addressed fields, e.g.
	// prompt_template's "struct of labeled string elements", finds them
	// here). Nil when no field in the struct was labeled.
	Labels []string
}

// Label returns the value at the field labeled name, if any field of s
// carries that label.
func (s StructNative) Label(name string) (any, bool) {
	for i, l := range s.Labels {
		if l == name {
			return s.Values[i], true
		}
	}
	return nil, false
}

// Applicable is the native Go shape of a materialized Lambda or
// Intrinsic value: something callable that a handler (e.g. parallel_map,
// repeat, custom_function) can invoke without the executor package
// needing to expose its internal Handle/Core machinery.
type Applicable struct {
	core   *core
	handle Handle
}

// Apply calls the underlying lambda or intrinsic with arg (a native Go
// value, using the same shapes Apply itself returns) and returns its
// native result.
func (a Applicable) Apply(ctx context.Context, arg any) (any, error) {
	argHandle, err := a.core.liftNative(ctx, arg)
	if err != nil {
		return nil, errkind.Annotate(err, "while lifting argument for applicable call")
	}
	resultHandle, err := a.core.CreateCall(ctx, a.handle, argHandle)
	if err != nil {
		return nil, err
	}
	return a.core.nativeArgument(ctx, resultHandle)
}

// Materialize serializes the lambda or intrinsic a carries back into a
// Value node — the conversion delegate and confidential_computation
// (spec §4.4, §4.5) need before a computation crosses a process
// boundary. Per spec §9's Open Question, a lambda that still contains
// References to names from an enclosing scope is not closed-form;
// those References survive materialization unresolved and surface as
// a NotFound error when the receiving side evaluates them against an
// empty scope — the caller is expected to enforce closure up front.
func (a Applicable) Materialize(ctx context.Context) (value.Value, error) {
	return a.core.Materialize(ctx, a.handle)
}

// ValueFromNative converts a native Go value — anything
// nativeArgument/liftNative produce or accept (a scalar, a
// StructNative, or an Applicable) — into the Value-graph form the same
// data would take as a literal, struct, or materialized closure. It is
// the boundary-crossing counterpart delegate, confidential_computation,
// and Transport-backed executors use to hand an argument to a
// collaborator that only speaks Value, not executor internals.
func ValueFromNative(ctx context.Context, v any) (value.Value, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case Applicable:
		return x.Materialize(ctx)
	case StructNative:
		fields := make([]value.StructField, len(x.Values))
		for i, e := range x.Values {
			fv, err := ValueFromNative(ctx, e)
			if err != nil {
				return nil, err
			}
			fields[i] = value.StructField{Value: fv}
			if i < len(x.Labels) {
				fields[i].Label = x.Labels[i]
			}
		}
		return &value.Struct{Fields: fields}, nil
	default:
		return literalFromNative(v)
	}
}

func literalToNative(l *value.Literal) any {
	switch l.Type {
	case value.LiteralString:
		return l.Str
	case value.LiteralBool:
		return l.Bool
	case value.LiteralInt32:
		return l.Int32
	case value.LiteralFloat32:
		return l.Float32
	case value.LiteralMedia:
		return l.Media
	case value.LiteralTensor:
		return l.Tensor
	default:
		return nil
	}
}

func literalFromNative(v any) (*value.Literal, error) {
	switch x := v.(type) {
	case string:
		return value.StringLiteral(x), nil
	case bool:
		return value.BoolLiteral(x), nil
	case int32:
		return value.Int32Literal(x), nil
	case int:
		return value.Int32Literal(int32(x)), nil
	case float32:
		return value.Float32Literal(x), nil
	case float64:
		return value.Float32Literal(float32(x)), nil
	case []byte:
		return value.MediaLiteral(x), nil
	case value.TensorPayload:
		return &value.Literal{Type: value.LiteralTensor, Tensor: x}, nil
	default:
		return nil, errkind.New(errkind.InvalidArgument, "cannot convert %T to a literal value", v)
	}
}

// toJSONNative converts a value built from literalToNative/StructNative
// into the plain map/slice/string/bool/float64/nil shape
// encoding/json (and so jsonschema/v5) expects, for well-formedness
// checking an intrinsic's static parameter.
func toJSONNative(v any) any {
	switch x := v.(type) {
	case int32:
		return float64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case value.TensorPayload:
		return map[string]any{"shape": x.Shape, "dtype": x.Dtype}
	case StructNative:
		if len(x.Labels) == len(x.Values) {
			allLabeled := true
			for _, l := range x.Labels {
				if l == "" {
					allLabeled = false
					break
				}
			}
			if allLabeled {
				obj := make(map[string]any, len(x.Values))
				for i, e := range x.Values {
					obj[x.Labels[i]] = toJSONNative(e)
				}
				return obj
			}
		}
		arr := make([]any, len(x.Values))
		for i, e := range x.Values {
			arr[i] = toJSONNative(e)
		}
		return arr
	case Applicable:
		return nil
	default:
		return x
	}
}
