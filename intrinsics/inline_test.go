package intrinsics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opal-lang/genc/collaborators"
	"github.com/opal-lang/genc/errkind"
	"github.com/opal-lang/genc/executor"
	"github.com/opal-lang/genc/scope"
	"github.com/opal-lang/genc/value"
)

func TestLogicalNot(t *testing.T) {
	var deps Dependencies
	call := &value.Call{
		Function: &value.Intrinsic{URI: URILogicalNot},
		Argument: value.BoolLiteral(false),
	}
	result := runValue(t, deps, call)
	lit, ok := result.(*value.Literal)
	require.True(t, ok, "got %#v, want a bool literal", result)
	require.Equal(t, value.LiteralBool, lit.Type)
	require.True(t, lit.Bool)
}

func TestRegexPartialMatch(t *testing.T) {
	var deps Dependencies
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIRegexPartialMatch, StaticParam: value.StringLiteral("foo_fn")},
		Argument: value.StringLiteral("call foo_fn: now"),
	}
	result := runValue(t, deps, call)
	lit, ok := result.(*value.Literal)
	require.True(t, ok, "got %#v, want a bool literal", result)
	require.Equal(t, value.LiteralBool, lit.Type)
	require.True(t, lit.Bool)
}

// TestPromptTemplateSingleStringArgument matches spec §8 scenario 7's
// single-placeholder shape.
func TestPromptTemplateSingleStringArgument(t *testing.T) {
	var deps Dependencies
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIPromptTemplate, StaticParam: value.StringLiteral("Hello, {name}!")},
		Argument: value.StringLiteral("world"),
	}
	got := literalString(t, runValue(t, deps, call))
	require.Equal(t, "Hello, world!", got)
}

func TestPromptTemplateRejectsMultiPlaceholderStringArgument(t *testing.T) {
	deps := Dependencies{}
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIPromptTemplate, StaticParam: value.StringLiteral("{greeting}, {name}!")},
		Argument: value.StringLiteral("world"),
	}
	set, err := DefaultHandlerSet(deps, nil)
	require.NoError(t, err, "building handler set")
	exec := executor.NewStack(set, executor.Config{})
	_, err = exec.Run(context.Background(), call, scope.Empty)
	require.Error(t, err, "expected an error for a multi-placeholder template given a single string argument")
	require.Equal(t, errkind.InvalidArgument, errkind.KindOf(err))
}

// TestPromptTemplateLabeledStructArgument matches spec §8 scenario 7's
// multivariate shape.
func TestPromptTemplateLabeledStructArgument(t *testing.T) {
	var deps Dependencies
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIPromptTemplate, StaticParam: value.StringLiteral("{greeting}, {name}!")},
		Argument: &value.Struct{Fields: []value.StructField{
			{Label: "name", Value: value.StringLiteral("world")},
			{Label: "greeting", Value: value.StringLiteral("Hello")},
		}},
	}
	got := literalString(t, runValue(t, deps, call))
	require.Equal(t, "Hello, world!", got)
}

func TestPromptTemplateWithParameters(t *testing.T) {
	var deps Dependencies
	call := &value.Call{
		Function: &value.Intrinsic{
			URI: URIPromptTemplateWithParams,
			StaticParam: value.NewStruct(
				value.StringLiteral("{a} plus {b} is {c}"),
				value.NewStruct(value.StringLiteral("a"), value.StringLiteral("b"), value.StringLiteral("c")),
			),
		},
		Argument: value.NewStruct(value.StringLiteral("1"), value.StringLiteral("2"), value.StringLiteral("3")),
	}
	got := literalString(t, runValue(t, deps, call))
	require.Equal(t, "1 plus 2 is 3", got)
}

func TestPromptTemplateWithParametersArityMismatch(t *testing.T) {
	deps := Dependencies{}
	call := &value.Call{
		Function: &value.Intrinsic{
			URI: URIPromptTemplateWithParams,
			StaticParam: value.NewStruct(
				value.StringLiteral("{a}"),
				value.NewStruct(value.StringLiteral("a")),
			),
		},
		Argument: value.NewStruct(value.StringLiteral("1"), value.StringLiteral("2")),
	}
	set, err := DefaultHandlerSet(deps, nil)
	require.NoError(t, err, "building handler set")
	exec := executor.NewStack(set, executor.Config{})
	_, err = exec.Run(context.Background(), call, scope.Empty)
	require.Error(t, err, "expected an arity-mismatch error")
	require.Equal(t, errkind.InvalidArgument, errkind.KindOf(err))
}

func TestInjaTemplate(t *testing.T) {
	var deps Dependencies
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIInjaTemplate, StaticParam: value.StringLiteral("Hi {{.Name}}, you are {{.Age}}.")},
		Argument: value.StringLiteral(`{"Name": "Ada", "Age": 36}`),
	}
	got := literalString(t, runValue(t, deps, call))
	require.Equal(t, "Hi Ada, you are 36.", got)
}

func TestModelInferenceTestModelCannedResponse(t *testing.T) {
	var deps Dependencies
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIModelInference, StaticParam: value.StringLiteral(testModelURI)},
		Argument: value.StringLiteral("anything"),
	}
	got := literalString(t, runValue(t, deps, call))
	require.Equal(t, testModelCannedResponse, got)
}

func TestModelInferenceUnconfiguredIsUnimplemented(t *testing.T) {
	deps := Dependencies{}
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIModelInference, StaticParam: value.StringLiteral("some_real_model")},
		Argument: value.StringLiteral("hi"),
	}
	set, err := DefaultHandlerSet(deps, nil)
	require.NoError(t, err, "building handler set")
	exec := executor.NewStack(set, executor.Config{})
	_, err = exec.Run(context.Background(), call, scope.Empty)
	require.Error(t, err)
	require.Equal(t, errkind.Unimplemented, errkind.KindOf(err))
}

type fakeModel struct {
	version string
	reply   string
}

func (m fakeModel) Infer(ctx context.Context, req collaborators.ModelRequest) (collaborators.ModelResponse, error) {
	return collaborators.ModelResponse{Text: m.reply}, nil
}

func (m fakeModel) Version(ctx context.Context) (string, error) {
	return m.version, nil
}

func TestModelInferenceWithConfigCallsBackend(t *testing.T) {
	deps := Dependencies{ModelInference: fakeModel{version: "v2.0.0", reply: "yes"}}
	config := &value.Struct{Fields: []value.StructField{
		{Label: "min_runtime_version", Value: value.StringLiteral("v0.1.0")},
		{Label: "temperature", Value: value.StringLiteral("0.2")},
	}}
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIModelInferenceWithConfig, StaticParam: value.NewStruct(value.StringLiteral("real_model"), config)},
		Argument: value.StringLiteral("hi"),
	}
	got := literalString(t, runValue(t, deps, call))
	require.Equal(t, "yes", got)
}

func TestModelInferenceWithConfigRejectsOldRuntime(t *testing.T) {
	deps := Dependencies{ModelInference: fakeModel{version: "v2.0.0", reply: "yes"}}
	config := &value.Struct{Fields: []value.StructField{
		{Label: "min_runtime_version", Value: value.StringLiteral("v99.0.0")},
	}}
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIModelInferenceWithConfig, StaticParam: value.NewStruct(value.StringLiteral("real_model"), config)},
		Argument: value.StringLiteral("hi"),
	}
	set, err := DefaultHandlerSet(deps, nil)
	require.NoError(t, err, "building handler set")
	exec := executor.NewStack(set, executor.Config{})
	_, err = exec.Run(context.Background(), call, scope.Empty)
	require.Error(t, err)
	require.Equal(t, errkind.Unimplemented, errkind.KindOf(err))
}

func TestCustomFunctionMissingURIIsUnimplemented(t *testing.T) {
	deps := Dependencies{}
	call := &value.Call{
		Function: &value.Intrinsic{URI: URICustomFunction, StaticParam: value.StringLiteral("nope")},
		Argument: value.StringLiteral("x"),
	}
	set, err := DefaultHandlerSet(deps, nil)
	require.NoError(t, err, "building handler set")
	exec := executor.NewStack(set, executor.Config{})
	_, err = exec.Run(context.Background(), call, scope.Empty)
	require.Error(t, err)
	require.Equal(t, errkind.Unimplemented, errkind.KindOf(err))
}

func TestLoggerPassesThroughArgument(t *testing.T) {
	var deps Dependencies
	call := &value.Call{
		Function: &value.Intrinsic{URI: URILogger, StaticParam: value.StringLiteral("checkpoint")},
		Argument: value.StringLiteral("payload"),
	}
	got := literalString(t, runValue(t, deps, call))
	require.Equal(t, "payload", got)
}

type fakeHTTPClient struct {
	lastRequest collaborators.HTTPRequest
	response    collaborators.HTTPResponse
}

func (c *fakeHTTPClient) Do(ctx context.Context, req collaborators.HTTPRequest) (collaborators.HTTPResponse, error) {
	c.lastRequest = req
	return c.response, nil
}

func TestRestCallSendsBearerHeaderAndBody(t *testing.T) {
	client := &fakeHTTPClient{response: collaborators.HTTPResponse{Body: []byte("ok")}}
	deps := Dependencies{HTTPClient: client}
	call := &value.Call{
		Function: &value.Intrinsic{
			URI:         URIRestCall,
			StaticParam: value.NewStruct(value.StringLiteral("POST"), value.StringLiteral("https://example.test/api"), value.StringLiteral("secret-key")),
		},
		Argument: value.StringLiteral(`{"x":1}`),
	}
	got := literalString(t, runValue(t, deps, call))
	require.Equal(t, "ok", got)
	require.Equal(t, "POST", client.lastRequest.Method)
	require.Equal(t, "https://example.test/api", client.lastRequest.URL)
	require.Equal(t, "Bearer secret-key", client.lastRequest.Headers["Authorization"])
	require.Equal(t, `{"x":1}`, string(client.lastRequest.Body))
}

func TestWolframAlphaFallsBackToToolCredential(t *testing.T) {
	client := &fakeHTTPClient{response: collaborators.HTTPResponse{Body: []byte("42")}}
	deps := Dependencies{HTTPClient: client, ToolCredentials: map[string]string{"wolfram_alpha": "cred-123"}}
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIWolframAlpha, StaticParam: value.StringLiteral("")},
		Argument: value.StringLiteral("2+2"),
	}
	got := literalString(t, runValue(t, deps, call))
	require.Equal(t, "42", got)
	require.NotEmpty(t, client.lastRequest.URL, "expected a request URL to be built")
}

func TestWolframAlphaUnconfiguredIsUnimplemented(t *testing.T) {
	deps := Dependencies{}
	call := &value.Call{
		Function: &value.Intrinsic{URI: URIWolframAlpha, StaticParam: value.StringLiteral("")},
		Argument: value.StringLiteral("2+2"),
	}
	set, err := DefaultHandlerSet(deps, nil)
	require.NoError(t, err, "building handler set")
	exec := executor.NewStack(set, executor.Config{})
	_, err = exec.Run(context.Background(), call, scope.Empty)
	require.Error(t, err)
	require.Equal(t, errkind.Unimplemented, errkind.KindOf(err))
}
