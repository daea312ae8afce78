package intrinsics

import (
	"context"

	"github.com/opal-lang/genc/cache"
	"github.com/opal-lang/genc/collaborators"
	"github.com/opal-lang/genc/concurrency"
	"github.com/opal-lang/genc/errkind"
	"github.com/opal-lang/genc/executor"
	"github.com/opal-lang/genc/handler"
)

// controlFlowHandlers returns every CONTROL_FLOW-discipline intrinsic
// (spec §4.4), grounded on
// original_source/genc/cc/intrinsics/handler_sets.cc's separate
// control-flow constructor list.
func controlFlowHandlers(deps Dependencies) []handler.Handler {
	return []handler.Handler{
		conditionalHandler(),
		fallbackHandler(),
		whileHandler(),
		repeatHandler(),
		breakableChainHandler(),
		serialChainHandler(),
		repeatedConditionalChainHandler(),
		parallelMapHandler(deps),
		delegateHandler(deps),
		confidentialComputationHandler(deps),
	}
}

// branchPair extracts a two-element StructNative static parameter,
// erroring with the intrinsic's own name so a schema-shape bug is easy
// to place.
func branchPair(uri string, staticParam any) (executor.StructNative, error) {
	s, ok := staticParam.(executor.StructNative)
	if !ok || len(s.Values) != 2 {
		return executor.StructNative{}, errkind.New(errkind.InvalidArgument,
			"%s static parameter must be a two-element struct", uri)
	}
	return s, nil
}

func asApplicable(uri string, v any) (executor.Applicable, error) {
	a, ok := v.(executor.Applicable)
	if !ok {
		return executor.Applicable{}, errkind.New(errkind.InvalidArgument,
			"%s expects a function-shaped value, got %T", uri, v)
	}
	return a, nil
}

// conditional selects and evaluates exactly one of its two static
// branches (taken by position: "then" at index 0, "else" at index 1;
// the fields' labels are not consulted) according to a
// boolean argument, never both: the unselected branch is neither
// materialized nor applied (spec §4.4, §8 "the unselected branch is
// never evaluated").
func conditionalHandler() handler.Handler {
	return handler.Handler{
		URI:               URIConditional,
		Discipline:        handler.CONTROL_FLOW,
		StaticParamSchema: schemaConditional,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			cond, ok := req.Argument.(bool)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "conditional argument must be a boolean, got %T", req.Argument)
			}
			branches, err := branchPair(URIConditional, req.StaticParam)
			if err != nil {
				return nil, err
			}
			chosen := branches.Values[1]
			if cond {
				chosen = branches.Values[0]
			}
			if app, ok := chosen.(executor.Applicable); ok {
				return app.Apply(ctx, nil)
			}
			return chosen, nil
		},
	}
}

// fallback tries each candidate function in listed order against the
// dynamic argument, returning the first successful result; if every
// candidate fails, it returns the last candidate's error wrapped as
// Unavailable (spec §4.4, §7).
func fallbackHandler() handler.Handler {
	return handler.Handler{
		URI:               URIFallback,
		Discipline:        handler.CONTROL_FLOW,
		StaticParamSchema: schemaFunctionChain,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			candidates, ok := req.StaticParam.(executor.StructNative)
			if !ok || len(candidates.Values) == 0 {
				return nil, errkind.New(errkind.InvalidArgument, "fallback static parameter must be a non-empty struct of functions")
			}
			var lastErr error
			for _, c := range candidates.Values {
				fn, err := asApplicable(URIFallback, c)
				if err != nil {
					return nil, err
				}
				result, err := fn.Apply(ctx, req.Argument)
				if err == nil {
					return result, nil
				}
				lastErr = err
			}
			return nil, errkind.Wrap(errkind.Unavailable, lastErr, "all fallback candidates failed")
		},
	}
}

// while evaluates condition_fn against the accumulated state before
// every iteration, including the first, threading body_fn's result
// back in as the next state until condition_fn returns false (spec
// §4.4, §8).
func whileHandler() handler.Handler {
	return handler.Handler{
		URI:               URIWhile,
		Discipline:        handler.CONTROL_FLOW,
		StaticParamSchema: schemaWhile,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			params, err := branchPair(URIWhile, req.StaticParam)
			if err != nil {
				return nil, err
			}
			condFn, err := asApplicable(URIWhile, params.Values[0])
			if err != nil {
				return nil, err
			}
			bodyFn, err := asApplicable(URIWhile, params.Values[1])
			if err != nil {
				return nil, err
			}
			state := req.Argument
			for {
				cond, err := condFn.Apply(ctx, state)
				if err != nil {
					return nil, err
				}
				condBool, ok := cond.(bool)
				if !ok {
					return nil, errkind.New(errkind.InvalidArgument, "while condition_fn must return a boolean, got %T", cond)
				}
				if !condBool {
					return state, nil
				}
				state, err = bodyFn.Apply(ctx, state)
				if err != nil {
					return nil, err
				}
			}
		},
	}
}

// repeat applies body_fn exactly num_steps times, threading state
// through each call (spec §4.4, §8 scenario 1: repeat(3, append_foo)
// on "" yields "foofoofoo").
func repeatHandler() handler.Handler {
	return handler.Handler{
		URI:               URIRepeat,
		Discipline:        handler.CONTROL_FLOW,
		StaticParamSchema: schemaRepeat,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			params, err := branchPair(URIRepeat, req.StaticParam)
			if err != nil {
				return nil, err
			}
			numSteps, ok := params.Values[0].(int32)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "repeat num_steps must be an int32, got %T", params.Values[0])
			}
			bodyFn, err := asApplicable(URIRepeat, params.Values[1])
			if err != nil {
				return nil, err
			}
			state := req.Argument
			for i := int32(0); i < numSteps; i++ {
				state, err = bodyFn.Apply(ctx, state)
				if err != nil {
					return nil, err
				}
			}
			return state, nil
		},
	}
}

func functionList(uri string, staticParam any) ([]executor.Applicable, error) {
	s, ok := staticParam.(executor.StructNative)
	if !ok || len(s.Values) == 0 {
		return nil, errkind.New(errkind.InvalidArgument, "%s static parameter must be a non-empty struct of functions", uri)
	}
	fns := make([]executor.Applicable, len(s.Values))
	for i, v := range s.Values {
		fn, err := asApplicable(uri, v)
		if err != nil {
			return nil, err
		}
		fns[i] = fn
	}
	return fns, nil
}

// runBreakableChain runs fns in order against state; a boolean-valued
// intermediate result is interpreted as true: break and return the
// most recent non-boolean state, false: continue with state unchanged
// (spec §4.4's own description of the source behavior, and §9's Open
// Question resolution: match it).
func runBreakableChain(ctx context.Context, fns []executor.Applicable, state any) (any, bool, error) {
	for _, fn := range fns {
		next, err := fn.Apply(ctx, state)
		if err != nil {
			return nil, false, err
		}
		if b, ok := next.(bool); ok {
			if b {
				return state, true, nil
			}
			continue
		}
		state = next
	}
	return state, false, nil
}

// breakableChain runs its ordered functions against state, stopping
// early the moment one returns true; a false result leaves state
// unchanged and the chain continues (spec §4.4, §8 scenario 5).
func breakableChainHandler() handler.Handler {
	return handler.Handler{
		URI:               URIBreakableChain,
		Discipline:        handler.CONTROL_FLOW,
		StaticParamSchema: schemaFunctionChain,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			fns, err := functionList(URIBreakableChain, req.StaticParam)
			if err != nil {
				return nil, err
			}
			state, _, err := runBreakableChain(ctx, fns, req.Argument)
			return state, err
		},
	}
}

// serialChain runs its ordered functions against state with no break
// semantics (spec §4.4, §8 scenario 2).
func serialChainHandler() handler.Handler {
	return handler.Handler{
		URI:               URISerialChain,
		Discipline:        handler.CONTROL_FLOW,
		StaticParamSchema: schemaFunctionChain,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			fns, err := functionList(URISerialChain, req.StaticParam)
			if err != nil {
				return nil, err
			}
			state := req.Argument
			for _, fn := range fns {
				state, err = fn.Apply(ctx, state)
				if err != nil {
					return nil, err
				}
			}
			return state, nil
		},
	}
}

// repeatedConditionalChain runs its inner chain with breakable
// semantics up to num_steps times; a break inside also ends the outer
// loop. num_steps == 0 returns the argument unchanged without invoking
// anything (spec SPEC_FULL §12, resolving the distilled spec's silence
// on this edge case per original_source/genc/cc/intrinsics/
// repeated_conditional_chain.cc).
func repeatedConditionalChainHandler() handler.Handler {
	return handler.Handler{
		URI:               URIRepeatedConditionalChain,
		Discipline:        handler.CONTROL_FLOW,
		StaticParamSchema: schemaRepeatedConditionalChain,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			params, err := branchPair(URIRepeatedConditionalChain, req.StaticParam)
			if err != nil {
				return nil, err
			}
			numSteps, ok := params.Values[0].(int32)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "repeated_conditional_chain num_steps must be an int32, got %T", params.Values[0])
			}
			fns, err := functionList(URIRepeatedConditionalChain, params.Values[1])
			if err != nil {
				return nil, err
			}
			state := req.Argument
			for i := int32(0); i < numSteps; i++ {
				var broke bool
				state, broke, err = runBreakableChain(ctx, fns, state)
				if err != nil {
					return nil, err
				}
				if broke {
					break
				}
			}
			return state, nil
		},
	}
}

// parallel_map applies its single function to every struct element,
// dispatched via the scheduler so elements may run concurrently, and
// returns results in input order regardless of completion order (spec
// §4.4, §5, §8 scenario 6). When deps.ResultCache is configured,
// elements with the same fingerprint within one call share a single
// application, and a (function, element) pair already stored in the
// cache, by this call or by an earlier call sharing the same cache, is
// served from it instead of re-applied — the value cache's own stated
// use case (spec §6).
func parallelMapHandler(deps Dependencies) handler.Handler {
	return handler.Handler{
		URI:        URIParallelMap,
		Discipline: handler.CONTROL_FLOW,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			fn, err := asApplicable(URIParallelMap, req.StaticParam)
			if err != nil {
				return nil, err
			}
			arg, ok := req.Argument.(executor.StructNative)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "parallel_map argument must be a struct, got %T", req.Argument)
			}
			scheduler := req.Scheduler
			if scheduler == nil {
				scheduler = concurrency.ThreadPerTaskScheduler{}
			}
			fnKey := parallelMapCacheKey(ctx, deps.ResultCache, fn)
			futures := make([]*concurrency.Future[any], len(arg.Values))
			firstByElem := map[string]int{}
			for i, elem := range arg.Values {
				elem := elem
				if fnKey != "" {
					if ev, err := executor.ValueFromNative(ctx, elem); err == nil {
						if fp, err := Fingerprint(ev); err == nil {
							if j, ok := firstByElem[string(fp)]; ok {
								futures[i] = futures[j]
								continue
							}
							firstByElem[string(fp)] = i
						}
					}
				}
				fut, err := concurrency.RunAsync(ctx, scheduler, func() (any, error) {
					return applyWithResultCache(ctx, deps.ResultCache, fnKey, fn, elem)
				})
				if err != nil {
					return nil, err
				}
				futures[i] = fut
			}
			results := make([]any, len(futures))
			for i, fut := range futures {
				v, err := fut.Get(ctx)
				if err != nil {
					return nil, err
				}
				results[i] = v
			}
			return executor.StructNative{Values: results}, nil
		},
	}
}

// parallelMapCacheKey fingerprints fn once per call so every element's
// cache lookup can reuse it; it returns "" (caching off) when there is
// no cache configured or fn does not materialize to a stable Value.
func parallelMapCacheKey(ctx context.Context, resultCache *cache.Cache[string, any], fn executor.Applicable) string {
	if resultCache == nil {
		return ""
	}
	fnValue, err := fn.Materialize(ctx)
	if err != nil {
		return ""
	}
	fp, err := Fingerprint(fnValue)
	if err != nil {
		return ""
	}
	return string(fp)
}

// applyWithResultCache serves elem's mapped result from resultCache, if
// both fnKey and elem fingerprint successfully, and stores a freshly
// computed result back under that key. It falls back to a plain
// fn.Apply whenever caching is unavailable or elem cannot be
// fingerprinted (e.g. it carries a nested Applicable the value graph
// cannot round-trip).
func applyWithResultCache(ctx context.Context, resultCache *cache.Cache[string, any], fnKey string, fn executor.Applicable, elem any) (any, error) {
	if resultCache == nil || fnKey == "" {
		return fn.Apply(ctx, elem)
	}
	elemValue, err := executor.ValueFromNative(ctx, elem)
	if err != nil {
		return fn.Apply(ctx, elem)
	}
	elemFP, err := Fingerprint(elemValue)
	if err != nil {
		return fn.Apply(ctx, elem)
	}
	key := fnKey + "|" + string(elemFP)
	if cached, ok := resultCache.Get(key); ok {
		return cached, nil
	}
	result, err := fn.Apply(ctx, elem)
	if err != nil {
		return nil, err
	}
	resultCache.Put(key, result)
	return result, nil
}

// delegate runs computation in the named foreign environment's runner,
// re-ingesting its result into the caller's executor (spec §4.4). Only
// closed-form computations may cross the boundary (spec §9 Open
// Question); one with a dangling Reference is rejected before the
// runner ever sees it.
func delegateHandler(deps Dependencies) handler.Handler {
	return handler.Handler{
		URI:               URIDelegate,
		Discipline:        handler.CONTROL_FLOW,
		StaticParamSchema: schemaDelegate,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			params, err := branchPair(URIDelegate, req.StaticParam)
			if err != nil {
				return nil, err
			}
			environment, ok := params.Values[0].(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "delegate environment-name must be a string, got %T", params.Values[0])
			}
			computationApp, err := asApplicable(URIDelegate, params.Values[1])
			if err != nil {
				return nil, err
			}
			computation, err := computationApp.Materialize(ctx)
			if err != nil {
				return nil, errkind.Annotate(err, "while materializing delegate computation")
			}
			if !ClosedForm(computation) {
				return nil, errkind.New(errkind.InvalidArgument,
					"delegate computation for environment %q is not closed-form (contains an unresolved reference)", environment)
			}
			runner, ok := deps.DelegateRunners[environment]
			if !ok {
				return nil, errkind.New(errkind.Unimplemented, "no delegate runner registered for environment %q", environment)
			}
			argValue, err := executor.ValueFromNative(ctx, req.Argument)
			if err != nil {
				return nil, err
			}
			resultValue, err := runner.Run(ctx, computation, argValue)
			if err != nil {
				return nil, errkind.Wrap(errkind.Internal, err, "delegate runner for environment %q failed", environment)
			}
			return req.Invoker.Evaluate(ctx, resultValue)
		},
	}
}

// confidentialComputation checks that the computation is closed-form;
// when config carries an image_digest, it has the AttestationVerifier
// check a claim pairing that digest with the computation's Fingerprint
// (failing with Unimplemented when no verifier is configured). It then
// dials config's server_address, wraps the transport as an
// executor.Remote, uploads the computation and argument, and
// materializes the result back into the caller's executor (spec §4.4,
// §4.5).
func confidentialComputationHandler(deps Dependencies) handler.Handler {
	return handler.Handler{
		URI:               URIConfidentialComputation,
		Discipline:        handler.CONTROL_FLOW,
		StaticParamSchema: schemaConfidentialComputation,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			params, err := branchPair(URIConfidentialComputation, req.StaticParam)
			if err != nil {
				return nil, err
			}
			computationApp, err := asApplicable(URIConfidentialComputation, params.Values[0])
			if err != nil {
				return nil, err
			}
			config, ok := params.Values[1].(executor.StructNative)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "confidential_computation config must be a labeled struct")
			}
			serverAddrRaw, ok := config.Label("server_address")
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "confidential_computation config is missing server_address")
			}
			serverAddr, ok := serverAddrRaw.(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "confidential_computation server_address must be a string")
			}

			computation, err := computationApp.Materialize(ctx)
			if err != nil {
				return nil, errkind.Annotate(err, "while materializing confidential computation")
			}
			if !ClosedForm(computation) {
				return nil, errkind.New(errkind.InvalidArgument, "confidential_computation computation is not closed-form")
			}

			if deps.RemoteDialer == nil {
				return nil, errkind.New(errkind.Unimplemented, "no remote dialer configured for confidential_computation")
			}

			if digestRaw, ok := config.Label("image_digest"); ok {
				if deps.AttestationVerifier == nil {
					return nil, errkind.New(errkind.Unimplemented, "no attestation verifier configured for confidential_computation image_digest")
				}
				digest, ok := digestRaw.([]byte)
				if !ok {
					return nil, errkind.New(errkind.InvalidArgument, "confidential_computation image_digest must be bytes")
				}
				fingerprint, err := Fingerprint(computation)
				if err != nil {
					return nil, err
				}
				claim := collaborators.AttestationClaim{EnclaveMeasurement: fingerprint, ExpectedDigest: digest}
				if err := deps.AttestationVerifier.Verify(ctx, claim); err != nil {
					return nil, errkind.Wrap(errkind.Internal, err, "attestation failed for confidential_computation server %q", serverAddr)
				}
			}

			transport, err := deps.RemoteDialer.Dial(ctx, serverAddr)
			if err != nil {
				return nil, errkind.Wrap(errkind.Internal, err, "dialing confidential_computation server %q", serverAddr)
			}
			remoteExec := executor.NewRemote(transport, nil, deps.logger())

			compHandle, err := remoteExec.CreateValue(ctx, computation)
			if err != nil {
				return nil, err
			}
			defer remoteExec.Dispose(ctx, compHandle)

			var argHandle executor.Handle
			argValue, err := executor.ValueFromNative(ctx, req.Argument)
			if err != nil {
				return nil, err
			}
			if argValue != nil {
				argHandle, err = remoteExec.CreateValue(ctx, argValue)
				if err != nil {
					return nil, err
				}
				defer remoteExec.Dispose(ctx, argHandle)
			}

			resultHandle, err := remoteExec.CreateCall(ctx, compHandle, argHandle)
			if err != nil {
				return nil, err
			}
			defer remoteExec.Dispose(ctx, resultHandle)

			resultValue, err := remoteExec.Materialize(ctx, resultHandle)
			if err != nil {
				return nil, err
			}
			return req.Invoker.Evaluate(ctx, resultValue)
		},
	}
}
