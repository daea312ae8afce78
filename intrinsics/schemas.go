package intrinsics

import "github.com/opal-lang/genc/schema"

// Static parameters that are a Value-graph struct arrive at a handler's
// well-formedness check as a JSON array (executor.toJSONNative) unless
// every field is labeled, in which case they arrive as a JSON object
// keyed by label, which the array-typed schemas below reject.
// Per-position shape uses
// "prefixItems" (this repo's schema.Checker compiles against JSON
// Schema Draft 2020-12, which replaced the old array-form "items" with
// "prefixItems" for tuple validation); see each handler's doc comment
// for which index means what.

var schemaConditional = schema.JSONSchema{
	"type":     "array",
	"minItems": 2,
	"maxItems": 2,
}

var schemaWhile = schema.JSONSchema{
	"type":     "array",
	"minItems": 2,
	"maxItems": 2,
}

var schemaRepeat = schema.JSONSchema{
	"type":     "array",
	"minItems": 2,
	"maxItems": 2,
	"prefixItems": []any{
		map[string]any{"type": "integer", "minimum": 0},
		map[string]any{},
	},
}

var schemaFunctionChain = schema.JSONSchema{
	"type":     "array",
	"minItems": 1,
}

var schemaRepeatedConditionalChain = schema.JSONSchema{
	"type":     "array",
	"minItems": 2,
	"maxItems": 2,
	"prefixItems": []any{
		map[string]any{"type": "integer", "minimum": 0},
		map[string]any{"type": "array"},
	},
}

var schemaRegexPartialMatch = schema.JSONSchema{
	"type": "string",
}

var schemaPromptTemplate = schema.JSONSchema{
	"type": "string",
}

var schemaPromptTemplateWithParameters = schema.JSONSchema{
	"type":     "array",
	"minItems": 2,
	"maxItems": 2,
	"prefixItems": []any{
		map[string]any{"type": "string"},
		map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
}

var schemaModelInference = schema.JSONSchema{
	"type": "string",
}

var schemaModelInferenceWithConfig = schema.JSONSchema{
	"type":     "array",
	"minItems": 1,
	"maxItems": 2,
	"prefixItems": []any{
		map[string]any{"type": "string"},
	},
}

var schemaCustomFunction = schema.JSONSchema{
	"type": "string",
}

var schemaLogger = schema.JSONSchema{
	"type": "string",
}

var schemaRestCall = schema.JSONSchema{
	"type":     "array",
	"minItems": 2,
	"maxItems": 3,
	"prefixItems": []any{
		map[string]any{"type": "string"},
		map[string]any{"type": "string"},
		map[string]any{"type": "string"},
	},
}

var schemaWolframAlpha = schema.JSONSchema{
	"type": "string",
}

var schemaDelegate = schema.JSONSchema{
	"type":     "array",
	"minItems": 2,
	"maxItems": 2,
	"prefixItems": []any{
		map[string]any{"type": "string"},
	},
}

var schemaConfidentialComputation = schema.JSONSchema{
	"type":     "array",
	"minItems": 2,
	"maxItems": 2,
}
