// Package intrinsics implements the named primitives the executor
// stack dispatches Intrinsic nodes to (spec §4.4 "Intrinsic handler
// library"): conditional, fallback, while, repeat, the three chain
// variants, parallel_map, the template family, logger, regex match,
// logical_not, rest_call, wolfram_alpha, model_inference (and its
// config variant), custom_function, delegate, and
// confidential_computation.
//
// Grounded on the teacher's core/decorator package for the registration
// shape (a URI-keyed Handler carrying a schema-validated static
// parameter) and on
// original_source/genc/cc/intrinsics/handler_sets.cc for the
// discipline partition DefaultHandlerSet mirrors: control-flow
// intrinsics and inline intrinsics come from two separate constructor
// lists, keeping §4.1's dispatch-discipline split explicit in code
// rather than inferred from what a handler happens to do.
package intrinsics

import (
	"log/slog"

	"github.com/opal-lang/genc/cache"
	"github.com/opal-lang/genc/collaborators"
	"github.com/opal-lang/genc/handler"
	"github.com/opal-lang/genc/schema"
)

// URIs are the stable intrinsic identifiers spec §6 names.
const (
	URIConditional               = "conditional"
	URIFallback                  = "fallback"
	URILogicalNot                = "logical_not"
	URIModelInference            = "model_inference"
	URIModelInferenceWithConfig  = "model_inference_with_config"
	URICustomFunction            = "custom_function"
	URIPromptTemplate            = "prompt_template"
	URIPromptTemplateWithParams  = "prompt_template_with_parameters"
	URIRegexPartialMatch         = "regex_partial_match"
	URIRepeat                    = "repeat"
	URIWhile                     = "while"
	URIRepeatedConditionalChain  = "repeated_conditional_chain"
	URIBreakableChain            = "breakable_chain"
	URISerialChain               = "serial_chain"
	URILogger                    = "logger"
	URIParallelMap               = "parallel_map"
	URIInjaTemplate              = "inja_template"
	URIRestCall                  = "rest_call"
	URIWolframAlpha              = "wolfram_alpha"
	URIConfidentialComputation   = "confidential_computation"
	URIDelegate                  = "delegate"
	testModelURI                 = "test_model"
)

// Dependencies bundles every collaborator intrinsic Execute functions
// may call out to (spec §6 "Collaborator interfaces consumed by the
// core"). Every field is optional; an intrinsic whose collaborator is
// unconfigured fails with Unimplemented rather than a nil panic.
type Dependencies struct {
	ModelInference      collaborators.ModelInference
	CustomFunctions     map[string]collaborators.CustomFunction
	HTTPClient          collaborators.HTTPClient
	AttestationVerifier collaborators.AttestationVerifier
	DelegateRunners     map[string]collaborators.DelegateRunner
	RemoteDialer        collaborators.RemoteDialer
	ToolCredentials     map[string]string // keyed by tool name, e.g. "wolfram_alpha"
	// ResultCache, if set, lets parallel_map apply its function once
	// per distinct element within a call and serve a (function,
	// element) pair stored by any earlier parallel_map call sharing
	// this cache (spec §6 "Value cache").
	ResultCache *cache.Cache[string, any]
	Logger      *slog.Logger
}

func (d Dependencies) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// DefaultHandlerSet builds the handler.Set every standard executor
// stack registers (spec §6's full URI list), wiring each handler's
// Execute function against deps. checker may be nil to use
// schema.DefaultConfig via handler.NewSet.
func DefaultHandlerSet(deps Dependencies, checker *schema.Checker) (*handler.Set, error) {
	set := handler.NewSet(checker)

	for _, h := range controlFlowHandlers(deps) {
		if err := set.Register(h); err != nil {
			return nil, err
		}
	}
	for _, h := range inlineHandlers(deps) {
		if err := set.Register(h); err != nil {
			return nil, err
		}
	}
	return set, nil
}
