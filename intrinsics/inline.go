package intrinsics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"text/template"

	"golang.org/x/mod/semver"

	"github.com/opal-lang/genc/collaborators"
	"github.com/opal-lang/genc/errkind"
	"github.com/opal-lang/genc/executor"
	"github.com/opal-lang/genc/handler"
)

// runtimeVersion is the semver model_inference_with_config compares a
// config's optional min_runtime_version field against (SPEC_FULL.md
// §"Domain stack"). It is separate from handler.CheckModelVersion,
// which compares a backend's version against a Handler's
// MinModelVersion.
const runtimeVersion = "v1.0.0"

// inlineHandlers returns every INLINE-discipline intrinsic (spec
// §4.4), grounded on
// original_source/genc/cc/intrinsics/handler_sets.cc's separate
// inline constructor list.
func inlineHandlers(deps Dependencies) []handler.Handler {
	return []handler.Handler{
		logicalNotHandler(),
		regexPartialMatchHandler(),
		promptTemplateHandler(),
		promptTemplateWithParametersHandler(),
		injaTemplateHandler(),
		modelInferenceHandler(deps),
		modelInferenceWithConfigHandler(deps),
		customFunctionHandler(deps),
		loggerHandler(deps),
		restCallHandler(deps),
		wolframAlphaHandler(deps),
	}
}

// logical_not negates its boolean argument; it takes no static
// configuration (spec §4.4).
func logicalNotHandler() handler.Handler {
	return handler.Handler{
		URI:        URILogicalNot,
		Discipline: handler.INLINE,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			b, ok := req.Argument.(bool)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "logical_not argument must be a boolean, got %T", req.Argument)
			}
			return !b, nil
		},
	}
}

// regex_partial_match reports whether its pattern static parameter
// matches anywhere within the string argument — Go's regexp package
// already searches unanchored, so this is a direct MatchString (spec
// §4.4).
func regexPartialMatchHandler() handler.Handler {
	return handler.Handler{
		URI:               URIRegexPartialMatch,
		Discipline:        handler.INLINE,
		StaticParamSchema: schemaRegexPartialMatch,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			pattern, ok := req.StaticParam.(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "regex_partial_match pattern must be a string, got %T", req.StaticParam)
			}
			str, ok := req.Argument.(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "regex_partial_match argument must be a string, got %T", req.Argument)
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, errkind.Wrap(errkind.InvalidArgument, err, "regex_partial_match pattern %q does not compile", pattern)
			}
			return re.MatchString(str), nil
		},
	}
}

var templatePlaceholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func placeholderNames(tmpl string) []string {
	matches := templatePlaceholder.FindAllStringSubmatch(tmpl, -1)
	seen := map[string]bool{}
	var names []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// prompt_template substitutes {name} placeholders in its static
// template string. A single-string argument fills the template's sole
// placeholder; a labeled-struct argument fills each placeholder by
// matching label. A placeholder with no corresponding label is left
// as-is.
//
// A single-string argument against a template with more than one
// distinct placeholder is rejected as InvalidArgument: the source this
// runtime is modeled on resolves that case by taking the last regex
// match, which the spec's own Open Question on the behavior flags as
// likely a bug; this runtime surfaces it to the caller instead of
// reproducing it (spec §9).
func promptTemplateHandler() handler.Handler {
	return handler.Handler{
		URI:               URIPromptTemplate,
		Discipline:        handler.INLINE,
		StaticParamSchema: schemaPromptTemplate,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			tmpl, ok := req.StaticParam.(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "prompt_template static parameter must be a string, got %T", req.StaticParam)
			}
			names := placeholderNames(tmpl)

			switch arg := req.Argument.(type) {
			case string:
				if len(names) == 0 {
					return tmpl, nil
				}
				if len(names) > 1 {
					return nil, errkind.New(errkind.InvalidArgument,
						"prompt_template has %d distinct placeholders, which requires a labeled struct argument, not a single string", len(names))
				}
				return strings.ReplaceAll(tmpl, "{"+names[0]+"}", arg), nil
			case executor.StructNative:
				return templatePlaceholder.ReplaceAllStringFunc(tmpl, func(m string) string {
					name := m[1 : len(m)-1]
					if v, ok := arg.Label(name); ok {
						if s, ok := v.(string); ok {
							return s
						}
					}
					return m
				}), nil
			default:
				return nil, errkind.New(errkind.InvalidArgument, "prompt_template argument must be a string or a labeled struct, got %T", req.Argument)
			}
		},
	}
}

// prompt_template_with_parameters substitutes a fixed, ordered
// parameter-name list into its template by position: the argument
// struct must have the exact same arity, and every element must be a
// string (spec §4.4).
func promptTemplateWithParametersHandler() handler.Handler {
	return handler.Handler{
		URI:               URIPromptTemplateWithParams,
		Discipline:        handler.INLINE,
		StaticParamSchema: schemaPromptTemplateWithParameters,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			params, err := branchPair(URIPromptTemplateWithParams, req.StaticParam)
			if err != nil {
				return nil, err
			}
			tmpl, ok := params.Values[0].(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "prompt_template_with_parameters template must be a string, got %T", params.Values[0])
			}
			names, ok := params.Values[1].(executor.StructNative)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "prompt_template_with_parameters parameter-name list must be a struct of strings")
			}
			arg, ok := req.Argument.(executor.StructNative)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "prompt_template_with_parameters argument must be a struct, got %T", req.Argument)
			}
			if len(arg.Values) != len(names.Values) {
				return nil, errkind.New(errkind.InvalidArgument,
					"prompt_template_with_parameters argument has %d elements, expected %d", len(arg.Values), len(names.Values))
			}
			result := tmpl
			for i, n := range names.Values {
				name, ok := n.(string)
				if !ok {
					return nil, errkind.New(errkind.InvalidArgument, "prompt_template_with_parameters parameter name at index %d is not a string", i)
				}
				val, ok := arg.Values[i].(string)
				if !ok {
					return nil, errkind.New(errkind.InvalidArgument, "prompt_template_with_parameters argument element %d is not a string", i)
				}
				result = strings.ReplaceAll(result, "{"+name+"}", val)
			}
			return result, nil
		},
	}
}

// inja_template renders a richer template (loops, conditionals) against
// a JSON-decoded argument object. The example corpus has no inja-style
// templating library among its dependencies, so this handler is
// grounded on Go's standard text/template instead — see DESIGN.md for
// why no third-party alternative from the corpus fit. Any parse or
// execution failure surfaces as Internal per spec §4.4.
func injaTemplateHandler() handler.Handler {
	return handler.Handler{
		URI:        URIInjaTemplate,
		Discipline: handler.INLINE,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			tmplSrc, ok := req.StaticParam.(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "inja_template static parameter must be a string, got %T", req.StaticParam)
			}
			jsonArg, ok := req.Argument.(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "inja_template argument must be a JSON string, got %T", req.Argument)
			}
			var data any
			if err := json.Unmarshal([]byte(jsonArg), &data); err != nil {
				return nil, errkind.Wrap(errkind.Internal, err, "inja_template argument is not valid JSON")
			}
			tmpl, err := template.New("inja_template").Parse(tmplSrc)
			if err != nil {
				return nil, errkind.Wrap(errkind.Internal, err, "inja_template failed to parse")
			}
			var out strings.Builder
			if err := tmpl.Execute(&out, data); err != nil {
				return nil, errkind.Wrap(errkind.Internal, err, "inja_template failed to render")
			}
			return out.String(), nil
		},
	}
}

const testModelCannedResponse = "this is a test model response"

// modelInferenceCall is shared by model_inference and
// model_inference_with_config: both delegate to
// Dependencies.ModelInference keyed by URI, except the built-in
// test_model URI which always answers with a canned deterministic
// string (spec §4.4, useful for tests that should not depend on a real
// backend).
func modelInferenceCall(ctx context.Context, deps Dependencies, modelURI string, req collaborators.ModelRequest) (string, error) {
	if modelURI == testModelURI {
		return testModelCannedResponse, nil
	}
	if deps.ModelInference == nil {
		return "", errkind.New(errkind.Unimplemented, "no model inference collaborator configured for %q", modelURI)
	}
	resp, err := deps.ModelInference.Infer(ctx, req)
	if err != nil {
		return "", errkind.Wrap(errkind.Internal, err, "model inference failed for %q", modelURI)
	}
	return resp.Text, nil
}

// model_inference delegates a prompt to the model named by its static
// URI (spec §4.4).
func modelInferenceHandler(deps Dependencies) handler.Handler {
	return handler.Handler{
		URI:               URIModelInference,
		Discipline:        handler.INLINE,
		StaticParamSchema: schemaModelInference,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			modelURI, ok := req.StaticParam.(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "model_inference static parameter must be a string, got %T", req.StaticParam)
			}
			prompt, ok := req.Argument.(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "model_inference argument must be a string, got %T", req.Argument)
			}
			return modelInferenceCall(ctx, deps, modelURI, collaborators.ModelRequest{ModelURI: modelURI, Prompt: prompt})
		},
	}
}

// model_inference_with_config carries a config struct alongside the
// model URI; an optional labeled min_runtime_version field is checked
// against this runtime's own version before the call is made,
// returning Unimplemented on mismatch (SPEC_FULL.md domain-stack
// wiring of golang.org/x/mod/semver).
func modelInferenceWithConfigHandler(deps Dependencies) handler.Handler {
	return handler.Handler{
		URI:               URIModelInferenceWithConfig,
		Discipline:        handler.INLINE,
		StaticParamSchema: schemaModelInferenceWithConfig,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			params, ok := req.StaticParam.(executor.StructNative)
			if !ok || len(params.Values) == 0 {
				return nil, errkind.New(errkind.InvalidArgument, "model_inference_with_config static parameter must be a non-empty struct")
			}
			modelURI, ok := params.Values[0].(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "model_inference_with_config model URI must be a string, got %T", params.Values[0])
			}
			var config map[string]any
			if len(params.Values) > 1 {
				cfgStruct, ok := params.Values[1].(executor.StructNative)
				if !ok {
					return nil, errkind.New(errkind.InvalidArgument, "model_inference_with_config config must be a labeled struct")
				}
				if minVersion, ok := cfgStruct.Label("min_runtime_version"); ok {
					minVersionStr, ok := minVersion.(string)
					if !ok {
						return nil, errkind.New(errkind.InvalidArgument, "model_inference_with_config min_runtime_version must be a string")
					}
					want := minVersionStr
					if want == "" || want[0] != 'v' {
						want = "v" + want
					}
					if semver.Compare(runtimeVersion, want) < 0 {
						return nil, errkind.New(errkind.Unimplemented,
							"model_inference_with_config requires runtime >= %s, running %s", minVersionStr, runtimeVersion)
					}
				}
				config = make(map[string]any, len(cfgStruct.Values))
				for i, v := range cfgStruct.Values {
					if i < len(cfgStruct.Labels) && cfgStruct.Labels[i] != "" {
						config[cfgStruct.Labels[i]] = v
					}
				}
			}
			prompt, ok := req.Argument.(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "model_inference_with_config argument must be a string, got %T", req.Argument)
			}
			return modelInferenceCall(ctx, deps, modelURI, collaborators.ModelRequest{ModelURI: modelURI, Prompt: prompt, Config: config})
		},
	}
}

// custom_function delegates to an embedder-registered function keyed
// by its static URI (spec §4.4).
func customFunctionHandler(deps Dependencies) handler.Handler {
	return handler.Handler{
		URI:               URICustomFunction,
		Discipline:        handler.INLINE,
		StaticParamSchema: schemaCustomFunction,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			uri, ok := req.StaticParam.(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "custom_function static parameter must be a string, got %T", req.StaticParam)
			}
			fn, ok := deps.CustomFunctions[uri]
			if !ok {
				return nil, errkind.New(errkind.Unimplemented, "no custom function registered for %q", uri)
			}
			result, err := fn.Call(ctx, uri, req.Argument)
			if err != nil {
				return nil, errkind.Wrap(errkind.Internal, err, "custom function %q failed", uri)
			}
			return result, nil
		},
	}
}

// logger passes its argument through unchanged, writing it to the
// configured structured logger tagged with the static parameter (spec
// §4.4).
func loggerHandler(deps Dependencies) handler.Handler {
	return handler.Handler{
		URI:               URILogger,
		Discipline:        handler.INLINE,
		StaticParamSchema: schemaLogger,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			tag, _ := req.StaticParam.(string)
			deps.logger().Info("logger intrinsic", "tag", tag, "value", fmt.Sprintf("%v", req.Argument))
			return req.Argument, nil
		},
	}
}

// rest_call performs an HTTP request via the injected HTTPClient
// capability, using the static (method, uri, api_key?) triple and the
// argument as the request body (spec §4.4).
func restCallHandler(deps Dependencies) handler.Handler {
	return handler.Handler{
		URI:               URIRestCall,
		Discipline:        handler.INLINE,
		StaticParamSchema: schemaRestCall,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			params, ok := req.StaticParam.(executor.StructNative)
			if !ok || len(params.Values) < 2 {
				return nil, errkind.New(errkind.InvalidArgument, "rest_call static parameter must be a (method, uri, api_key?) struct")
			}
			method, ok := params.Values[0].(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "rest_call method must be a string, got %T", params.Values[0])
			}
			uri, ok := params.Values[1].(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "rest_call uri must be a string, got %T", params.Values[1])
			}
			headers := map[string]string{}
			if len(params.Values) > 2 {
				apiKey, ok := params.Values[2].(string)
				if !ok {
					return nil, errkind.New(errkind.InvalidArgument, "rest_call api_key must be a string, got %T", params.Values[2])
				}
				if apiKey != "" {
					headers["Authorization"] = "Bearer " + apiKey
				}
			}
			body, ok := req.Argument.(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "rest_call argument must be a string request body, got %T", req.Argument)
			}
			if deps.HTTPClient == nil {
				return nil, errkind.New(errkind.Unimplemented, "no HTTP client collaborator configured for rest_call")
			}
			resp, err := deps.HTTPClient.Do(ctx, collaborators.HTTPRequest{
				Method:  method,
				URL:     uri,
				Headers: headers,
				Body:    []byte(body),
			})
			if err != nil {
				return nil, errkind.Wrap(errkind.Internal, err, "rest_call to %q failed", uri)
			}
			return string(resp.Body), nil
		},
	}
}

// wolfram_alpha queries the Wolfram Alpha "short answers" API, using
// its static application credential (falling back to
// Dependencies.ToolCredentials["wolfram_alpha"] when the static
// parameter is empty) and its argument as the query text (spec §4.4).
func wolframAlphaHandler(deps Dependencies) handler.Handler {
	return handler.Handler{
		URI:               URIWolframAlpha,
		Discipline:        handler.INLINE,
		StaticParamSchema: schemaWolframAlpha,
		Execute: func(ctx context.Context, req handler.Request) (any, error) {
			credential, ok := req.StaticParam.(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "wolfram_alpha static parameter must be a string, got %T", req.StaticParam)
			}
			if credential == "" {
				credential = deps.ToolCredentials["wolfram_alpha"]
			}
			if credential == "" {
				return nil, errkind.New(errkind.Unimplemented, "no wolfram_alpha application credential configured")
			}
			query, ok := req.Argument.(string)
			if !ok {
				return nil, errkind.New(errkind.InvalidArgument, "wolfram_alpha argument must be a string query, got %T", req.Argument)
			}
			if deps.HTTPClient == nil {
				return nil, errkind.New(errkind.Unimplemented, "no HTTP client collaborator configured for wolfram_alpha")
			}
			reqURL := "https://api.wolframalpha.com/v1/result?appid=" + url.QueryEscape(credential) + "&i=" + url.QueryEscape(query)
			resp, err := deps.HTTPClient.Do(ctx, collaborators.HTTPRequest{Method: "GET", URL: reqURL})
			if err != nil {
				return nil, errkind.Wrap(errkind.Internal, err, "wolfram_alpha query failed")
			}
			return string(resp.Body), nil
		},
	}
}
