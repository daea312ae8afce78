package intrinsics

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opal-lang/genc/cache"
	"github.com/opal-lang/genc/collaborators"
	"github.com/opal-lang/genc/errkind"
	"github.com/opal-lang/genc/executor"
	"github.com/opal-lang/genc/remote"
	"github.com/opal-lang/genc/scope"
	"github.com/opal-lang/genc/value"
)

// stubFunctions is a collaborators.CustomFunction fake keyed internally
// by URI, with a call counter so tests can assert an unselected branch
// was never invoked (spec §8).
type stubFunctions struct {
	mu    sync.Mutex
	calls map[string]int
	impls map[string]func(arg any) (any, error)
}

func newStubFunctions(impls map[string]func(arg any) (any, error)) *stubFunctions {
	return &stubFunctions{calls: map[string]int{}, impls: impls}
}

func (s *stubFunctions) Call(ctx context.Context, uri string, argument any) (any, error) {
	s.mu.Lock()
	s.calls[uri]++
	s.mu.Unlock()
	impl, ok := s.impls[uri]
	if !ok {
		return nil, errkind.New(errkind.Unimplemented, "no stub for %q", uri)
	}
	return impl(argument)
}

func (s *stubFunctions) callCount(uri string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[uri]
}

func registerStub(deps *Dependencies, stub *stubFunctions, uris ...string) {
	if deps.CustomFunctions == nil {
		deps.CustomFunctions = map[string]collaborators.CustomFunction{}
	}
	for _, uri := range uris {
		deps.CustomFunctions[uri] = stub
	}
}

func runValue(t *testing.T, deps Dependencies, v value.Value) value.Value {
	t.Helper()
	set, err := DefaultHandlerSet(deps, nil)
	require.NoError(t, err, "building handler set")
	exec := executor.NewStack(set, executor.Config{})
	ctx := context.Background()
	h, err := exec.Run(ctx, v, scope.Empty)
	require.NoError(t, err, "running value")
	result, err := exec.Materialize(ctx, h)
	require.NoError(t, err, "materializing")
	return result
}

func literalString(t *testing.T, v value.Value) string {
	t.Helper()
	lit, ok := v.(*value.Literal)
	require.True(t, ok, "expected a string literal, got %#v", v)
	require.Equal(t, value.LiteralString, lit.Type, "expected a string literal, got %#v", v)
	return lit.Str
}

func customFunctionCall(uri, paramURI string, arg value.Value) *value.Call {
	return &value.Call{
		Function: &value.Intrinsic{URI: URICustomFunction, StaticParam: value.StringLiteral(paramURI)},
		Argument: arg,
	}
}

// appendSuffix builds the append_* and "good" custom functions: each
// appends suffix to its string argument. wrapSuffix below builds fn_1,
// fn_2 and fn, which wrap their argument as name(arg).
func appendSuffix(suffix string) func(arg any) (any, error) {
	return func(arg any) (any, error) {
		s, ok := arg.(string)
		if !ok {
			return nil, errkind.New(errkind.InvalidArgument, "expected a string argument")
		}
		return s + suffix, nil
	}
}

func wrapSuffix(name string) func(arg any) (any, error) {
	return func(arg any) (any, error) {
		s, ok := arg.(string)
		if !ok {
			return nil, errkind.New(errkind.InvalidArgument, "expected a string argument")
		}
		return name + "(" + s + ")", nil
	}
}

// TestRepeatAppendScenario matches spec §8 scenario 1.
func TestRepeatAppendScenario(t *testing.T) {
	stub := newStubFunctions(map[string]func(arg any) (any, error){
		"append_foo": appendSuffix("foo"),
	})
	var deps Dependencies
	registerStub(&deps, stub, "append_foo")

	bodyFn := &value.Lambda{Param: "s", Result: customFunctionCall(URICustomFunction, "append_foo", &value.Reference{Name: "s"})}
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIRepeat, StaticParam: value.NewStruct(value.Int32Literal(3), bodyFn)},
		Argument: value.StringLiteral(""),
	}

	got := literalString(t, runValue(t, deps, call))
	require.Equal(t, "foofoofoo", got)
}

// TestSerialChainScenario matches spec §8 scenario 2.
func TestSerialChainScenario(t *testing.T) {
	stub := newStubFunctions(map[string]func(arg any) (any, error){
		"fn_1": wrapSuffix("fn_1"),
		"fn_2": wrapSuffix("fn_2"),
	})
	var deps Dependencies
	registerStub(&deps, stub, "fn_1", "fn_2")

	fn1 := &value.Intrinsic{URI: URICustomFunction, StaticParam: value.StringLiteral("fn_1")}
	fn2 := &value.Intrinsic{URI: URICustomFunction, StaticParam: value.StringLiteral("fn_2")}
	call := &value.Call{
		Function: &value.Intrinsic{URI: URISerialChain, StaticParam: value.NewStruct(fn1, fn2)},
		Argument: value.StringLiteral("test_input"),
	}

	got := literalString(t, runValue(t, deps, call))
	require.Equal(t, "fn_2(fn_1(test_input))", got)
}

// TestConditionalSelectionScenario matches spec §8 scenario 3: a
// conditional routes on a regex_partial_match result, and the
// unselected branch's custom function is never invoked.
func TestConditionalSelectionScenario(t *testing.T) {
	stub := newStubFunctions(map[string]func(arg any) (any, error){
		"append_foo": appendSuffix("foo"),
		"append_bar": appendSuffix("bar"),
	})
	var deps Dependencies
	registerStub(&deps, stub, "append_foo", "append_bar")

	thenBranch := &value.Lambda{Param: "_", Result: customFunctionCall(URICustomFunction, "append_foo", &value.Reference{Name: "input"})}
	elseBranch := &value.Lambda{Param: "_", Result: customFunctionCall(URICustomFunction, "append_bar", &value.Reference{Name: "input"})}

	block := &value.Block{
		Locals: []value.Local{
			{Name: "input", Value: value.StringLiteral("call append_foo_fn:")},
		},
		Result: &value.Call{
			Function: &value.Intrinsic{URI: URIConditional, StaticParam: value.NewStruct(thenBranch, elseBranch)},
			Argument: &value.Call{
				Function: &value.Intrinsic{URI: URIRegexPartialMatch, StaticParam: value.StringLiteral("append_foo_fn")},
				Argument: &value.Reference{Name: "input"},
			},
		},
	}

	got := literalString(t, runValue(t, deps, block))
	require.Equal(t, "call append_foo_fn:foo", got)
	require.Equal(t, 0, stub.callCount("append_bar"), "unselected branch append_bar must never be invoked")
}

// TestWhileLoopScenario matches spec §8 scenario 4: condition checked
// before every iteration including the first, body mutating an
// externally tracked call count.
func TestWhileLoopScenario(t *testing.T) {
	callNum := 0
	stub := newStubFunctions(map[string]func(arg any) (any, error){
		"step": func(arg any) (any, error) {
			s, ok := arg.(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "expected a string argument")
			}
			callNum++
			if callNum >= 3 {
				return s + "Action: Finish", nil
			}
			return s + string(rune('0'+callNum)), nil
		},
	})
	var deps Dependencies
	registerStub(&deps, stub, "step")

	cond := &value.Lambda{
		Param: "s",
		Result: &value.Call{
			Function: &value.Intrinsic{URI: URILogicalNot},
			Argument: &value.Call{
				Function: &value.Intrinsic{URI: URIRegexPartialMatch, StaticParam: value.StringLiteral("Action: Finish")},
				Argument: &value.Reference{Name: "s"},
			},
		},
	}
	body := &value.Lambda{Param: "s", Result: customFunctionCall(URICustomFunction, "step", &value.Reference{Name: "s"})}
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIWhile, StaticParam: value.NewStruct(cond, body)},
		Argument: value.StringLiteral(""),
	}

	got := literalString(t, runValue(t, deps, call))
	require.Equal(t, "12Action: Finish", got)
}

// TestBreakableChainScenario matches spec §8 scenario 5: a boolean mid-
// chain result breaks and returns the most recent state, never
// reaching append_baz.
func TestBreakableChainScenario(t *testing.T) {
	stub := newStubFunctions(map[string]func(arg any) (any, error){
		"append_foo": appendSuffix("foo"),
		"append_bar": appendSuffix("bar"),
		"append_baz": appendSuffix("baz"),
	})
	var deps Dependencies
	registerStub(&deps, stub, "append_foo", "append_bar", "append_baz")

	fns := value.NewStruct(
		&value.Intrinsic{URI: URICustomFunction, StaticParam: value.StringLiteral("append_foo")},
		&value.Intrinsic{URI: URICustomFunction, StaticParam: value.StringLiteral("append_bar")},
		&value.Intrinsic{URI: URIRegexPartialMatch, StaticParam: value.StringLiteral("bar")},
		&value.Intrinsic{URI: URICustomFunction, StaticParam: value.StringLiteral("append_baz")},
	)
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIBreakableChain, StaticParam: fns},
		Argument: value.StringLiteral("[START]"),
	}

	got := literalString(t, runValue(t, deps, call))
	require.Equal(t, "[START]foobar", got)
	require.Equal(t, 0, stub.callCount("append_baz"), "chain should have broken before append_baz")
}

// TestRepeatedConditionalChainBreaksOuterLoop verifies that a break
// inside the inner chain also ends the outer num_steps loop (spec
// §4.4).
func TestRepeatedConditionalChainBreaksOuterLoop(t *testing.T) {
	stub := newStubFunctions(map[string]func(arg any) (any, error){
		"append_x": appendSuffix("x"),
	})
	var deps Dependencies
	registerStub(&deps, stub, "append_x")

	inner := value.NewStruct(
		&value.Intrinsic{URI: URICustomFunction, StaticParam: value.StringLiteral("append_x")},
		&value.Intrinsic{URI: URIRegexPartialMatch, StaticParam: value.StringLiteral("xxx")},
	)
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIRepeatedConditionalChain, StaticParam: value.NewStruct(value.Int32Literal(10), inner)},
		Argument: value.StringLiteral(""),
	}

	got := literalString(t, runValue(t, deps, call))
	require.Equal(t, "xxx", got, "outer loop should stop once the inner chain breaks")
}

// TestRepeatedConditionalChainZeroStepsIsNoop covers the num_steps == 0
// edge case (SPEC_FULL.md supplement).
func TestRepeatedConditionalChainZeroStepsIsNoop(t *testing.T) {
	var deps Dependencies
	inner := value.NewStruct(&value.Intrinsic{URI: URIRegexPartialMatch, StaticParam: value.StringLiteral("x")})
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIRepeatedConditionalChain, StaticParam: value.NewStruct(value.Int32Literal(0), inner)},
		Argument: value.StringLiteral("unchanged"),
	}

	got := literalString(t, runValue(t, deps, call))
	require.Equal(t, "unchanged", got)
}

// TestParallelMapScenario matches spec §8 scenario 6: results preserve
// input order regardless of completion order.
func TestParallelMapScenario(t *testing.T) {
	stub := newStubFunctions(map[string]func(arg any) (any, error){
		"fn": wrapSuffix("fn"),
	})
	var deps Dependencies
	registerStub(&deps, stub, "fn")

	call := &value.Call{
		Function: &value.Intrinsic{
			URI:         URIParallelMap,
			StaticParam: &value.Intrinsic{URI: URICustomFunction, StaticParam: value.StringLiteral("fn")},
		},
		Argument: value.NewStruct(value.StringLiteral("foo"), value.StringLiteral("bar")),
	}

	result := runValue(t, deps, call)
	s, ok := result.(*value.Struct)
	require.True(t, ok, "expected a struct, got %#v", result)
	require.Len(t, s.Fields, 2)
	require.Equal(t, "fn(foo)", literalString(t, s.Fields[0].Value))
	require.Equal(t, "fn(bar)", literalString(t, s.Fields[1].Value))
}

// TestParallelMapReusesResultCacheForDuplicateElements checks that a
// configured ResultCache spares a repeated element a second call into
// the backing collaborator (spec §6 "Value cache").
func TestParallelMapReusesResultCacheForDuplicateElements(t *testing.T) {
	stub := newStubFunctions(map[string]func(arg any) (any, error){
		"fn": wrapSuffix("fn"),
	})
	deps := Dependencies{ResultCache: cache.New[string, any](0)}
	registerStub(&deps, stub, "fn")

	call := &value.Call{
		Function: &value.Intrinsic{
			URI:         URIParallelMap,
			StaticParam: &value.Intrinsic{URI: URICustomFunction, StaticParam: value.StringLiteral("fn")},
		},
		Argument: value.NewStruct(value.StringLiteral("foo"), value.StringLiteral("foo"), value.StringLiteral("bar")),
	}

	result := runValue(t, deps, call)
	s, ok := result.(*value.Struct)
	require.True(t, ok, "expected a struct, got %#v", result)
	require.Len(t, s.Fields, 3)
	require.Equal(t, "fn(foo)", literalString(t, s.Fields[0].Value))
	require.Equal(t, "fn(foo)", literalString(t, s.Fields[1].Value))
	require.Equal(t, "fn(bar)", literalString(t, s.Fields[2].Value))

	stub.mu.Lock()
	calls := stub.calls["fn"]
	stub.mu.Unlock()
	require.Equal(t, 2, calls, "expected the duplicate \"foo\" element to be served from the result cache")
}

// TestFallbackTriesNextOnFailure verifies the first-failing,
// second-succeeding ordering spec §4.4 describes.
func TestFallbackTriesNextOnFailure(t *testing.T) {
	stub := newStubFunctions(map[string]func(arg any) (any, error){
		"bad": func(arg any) (any, error) {
			return nil, errkind.New(errkind.Internal, "boom")
		},
		"good": appendSuffix("-ok"),
	})
	var deps Dependencies
	registerStub(&deps, stub, "bad", "good")

	fns := value.NewStruct(
		&value.Intrinsic{URI: URICustomFunction, StaticParam: value.StringLiteral("bad")},
		&value.Intrinsic{URI: URICustomFunction, StaticParam: value.StringLiteral("good")},
	)
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIFallback, StaticParam: fns},
		Argument: value.StringLiteral("x"),
	}

	got := literalString(t, runValue(t, deps, call))
	require.Equal(t, "x-ok", got)
}

// TestFallbackAllFail verifies Unavailable surfaces when every
// candidate fails.
func TestFallbackAllFail(t *testing.T) {
	stub := newStubFunctions(map[string]func(arg any) (any, error){
		"bad1": func(arg any) (any, error) { return nil, errkind.New(errkind.Internal, "bad1") },
		"bad2": func(arg any) (any, error) { return nil, errkind.New(errkind.Internal, "bad2") },
	})
	var deps Dependencies
	registerStub(&deps, stub, "bad1", "bad2")

	fns := value.NewStruct(
		&value.Intrinsic{URI: URICustomFunction, StaticParam: value.StringLiteral("bad1")},
		&value.Intrinsic{URI: URICustomFunction, StaticParam: value.StringLiteral("bad2")},
	)
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIFallback, StaticParam: fns},
		Argument: value.StringLiteral("x"),
	}

	set, err := DefaultHandlerSet(deps, nil)
	require.NoError(t, err, "building handler set")
	exec := executor.NewStack(set, executor.Config{})
	ctx := context.Background()
	_, err = exec.Run(ctx, call, scope.Empty)
	require.Error(t, err)
	require.Equal(t, errkind.Unavailable, errkind.KindOf(err))
}

// TestDelegateReingestsRunnerResult exercises the delegate intrinsic
// against a fake DelegateRunner, verifying the closed-form computation
// and materialized argument both reach the runner and its result is
// re-ingested into the local executor (spec §4.4).
type fakeDelegateRunner struct {
	gotComputation value.Value
	gotArgument    value.Value
}

func (r *fakeDelegateRunner) Run(ctx context.Context, computation value.Value, argument value.Value) (value.Value, error) {
	r.gotComputation = computation
	r.gotArgument = argument
	return value.StringLiteral("delegated-ok"), nil
}

func TestDelegateReingestsRunnerResult(t *testing.T) {
	runner := &fakeDelegateRunner{}
	deps := Dependencies{DelegateRunners: map[string]collaborators.DelegateRunner{"remote_env": runner}}

	identity := &value.Lambda{Param: "x", Result: &value.Reference{Name: "x"}}
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIDelegate, StaticParam: value.NewStruct(value.StringLiteral("remote_env"), identity)},
		Argument: value.StringLiteral("hello"),
	}

	got := literalString(t, runValue(t, deps, call))
	require.Equal(t, "delegated-ok", got)
	require.NotNil(t, runner.gotComputation, "runner did not receive the computation")
	require.NotNil(t, runner.gotArgument, "runner did not receive the materialized argument")
	require.Equal(t, "hello", literalString(t, runner.gotArgument))
}

func TestDelegateUnknownEnvironmentIsUnimplemented(t *testing.T) {
	deps := Dependencies{}
	identity := &value.Lambda{Param: "x", Result: &value.Reference{Name: "x"}}
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIDelegate, StaticParam: value.NewStruct(value.StringLiteral("nowhere"), identity)},
		Argument: value.StringLiteral("hello"),
	}

	set, err := DefaultHandlerSet(deps, nil)
	require.NoError(t, err, "building handler set")
	exec := executor.NewStack(set, executor.Config{})
	_, err = exec.Run(context.Background(), call, scope.Empty)
	require.Error(t, err)
	require.Equal(t, errkind.Unimplemented, errkind.KindOf(err))
}

// fakeDialer hands back a fixed executor.Transport regardless of the
// requested address.
type fakeDialer struct {
	transport executor.Transport
}

func (d fakeDialer) Dial(ctx context.Context, serverAddress string) (executor.Transport, error) {
	return d.transport, nil
}

// TestConfidentialComputationRoundTrips exercises confidential_computation
// against a remote.LocalPeer standing in for a real network peer (spec
// §4.4, §4.5).
func TestConfidentialComputationRoundTrips(t *testing.T) {
	peerSet, err := DefaultHandlerSet(Dependencies{}, nil)
	require.NoError(t, err, "building peer handler set")
	peerExec := executor.NewStack(peerSet, executor.Config{})
	peer := remote.NewLocalPeer(peerExec)

	deps := Dependencies{RemoteDialer: fakeDialer{transport: peer}}

	identity := &value.Lambda{Param: "x", Result: &value.Reference{Name: "x"}}
	config := &value.Struct{Fields: []value.StructField{
		{Label: "server_address", Value: value.StringLiteral("peer.test:443")},
	}}
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIConfidentialComputation, StaticParam: value.NewStruct(identity, config)},
		Argument: value.StringLiteral("ping"),
	}

	got := literalString(t, runValue(t, deps, call))
	require.Equal(t, "ping", got)
}

func TestConfidentialComputationRejectsNonClosedForm(t *testing.T) {
	deps := Dependencies{RemoteDialer: fakeDialer{}}

	// notClosed references "outer" from its surrounding scope rather than
	// its own parameter — exactly the cross-boundary closure spec §9's
	// Open Question rules out for delegate/confidential_computation.
	notClosed := &value.Lambda{Param: "x", Result: &value.Reference{Name: "outer"}}
	config := &value.Struct{Fields: []value.StructField{
		{Label: "server_address", Value: value.StringLiteral("peer.test:443")},
	}}
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIConfidentialComputation, StaticParam: value.NewStruct(notClosed, config)},
		Argument: value.StringLiteral("ping"),
	}

	set, err := DefaultHandlerSet(deps, nil)
	require.NoError(t, err, "building handler set")
	exec := executor.NewStack(set, executor.Config{})
	outerHandle, err := exec.CreateValue(context.Background(), value.StringLiteral("leaked"))
	require.NoError(t, err)
	sc := scope.Empty.Extend("outer", outerHandle)
	_, err = exec.Run(context.Background(), call, sc)
	require.Error(t, err, "expected an error for a non-closed-form computation")
	require.Equal(t, errkind.InvalidArgument, errkind.KindOf(err))
}
