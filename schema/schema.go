// Package schema checks intrinsic static parameters for well-formedness
// (spec §4: "an intrinsic's static parameter must validate against the
// handler's declared JSON Schema before the handler's ExecuteCall is
// ever invoked"). It wraps santhosh-tekuri/jsonschema/v5 with a
// compiled-validator cache so that re-evaluating the same Intrinsic
// node thousands of times (e.g. inside a "repeat" loop body) does not
// recompile its schema on every iteration.
//
// Grounded on the teacher's core/types/validation.go and
// validation_cache.go (JSON Schema Draft 2020-12 compiler with a
// SHA-256-keyed compiled-schema cache and schema-size/depth limits),
// adapted from "validate a decorator's parameter struct" to "validate
// an intrinsic's static Value parameter".
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/mod/semver"

	"github.com/opal-lang/genc/errkind"
)

// JSONSchema is a JSON Schema document expressed as a decoded JSON
// object, the shape handler authors supply when registering an
// intrinsic's static-parameter schema.
type JSONSchema map[string]any

// Config bounds the resources a Checker will spend compiling and
// caching schemas, and controls $ref resolution.
type Config struct {
	MaxSchemaSize  int  // bytes; compile fails past this
	MaxSchemaDepth int  // nesting levels; compile fails past this
	MaxCacheSize   int  // compiled schemas retained before the cache clears
	AllowRemoteRef bool // permit http(s):// $ref targets
	AllowedSchemes []string
}

// DefaultConfig matches the bounds the teacher ships: generous enough
// for realistic intrinsic parameter shapes, tight enough to bound a
// hostile or buggy schema from exhausting memory during compilation.
func DefaultConfig() *Config {
	return &Config{
		MaxSchemaSize:  64 * 1024,
		MaxSchemaDepth: 32,
		MaxCacheSize:   1024,
		AllowRemoteRef: false,
		AllowedSchemes: []string{"schema"},
	}
}

// Checker compiles and caches JSON Schema validators.
type Checker struct {
	config *Config

	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewChecker creates a Checker. A nil config uses DefaultConfig.
func NewChecker(config *Config) *Checker {
	if config == nil {
		config = DefaultConfig()
	}
	return &Checker{
		config: config,
		cache:  make(map[string]*jsonschema.Schema),
	}
}

// CheckWellFormed validates value (typically an intrinsic's decoded
// static parameter) against schema, returning an *errkind.Error with
// Kind InvalidArgument on any violation — size/depth limit, compile
// failure, or schema mismatch alike, since all are the handler
// registration's or the caller's fault, never an internal one.
func (c *Checker) CheckWellFormed(schemaDoc JSONSchema, value any) error {
	schemaBytes, err := json.Marshal(schemaDoc)
	if err != nil {
		return errkind.Wrap(errkind.InvalidArgument, err, "marshaling schema")
	}
	if len(schemaBytes) > c.config.MaxSchemaSize {
		return errkind.New(errkind.InvalidArgument, "schema too large: %d bytes (max %d)", len(schemaBytes), c.config.MaxSchemaSize)
	}
	if depth := measureDepth(map[string]any(schemaDoc), 0); depth > c.config.MaxSchemaDepth {
		return errkind.New(errkind.InvalidArgument, "schema too deep: %d levels (max %d)", depth, c.config.MaxSchemaDepth)
	}

	validator, err := c.getValidator(schemaBytes)
	if err != nil {
		return errkind.Wrap(errkind.InvalidArgument, err, "compiling schema")
	}

	if err := validator.Validate(value); err != nil {
		return errkind.Wrap(errkind.InvalidArgument, err, "static parameter failed schema validation")
	}
	return nil
}

func (c *Checker) getValidator(schemaBytes []byte) (*jsonschema.Schema, error) {
	digest := sha256.Sum256(schemaBytes)
	key := hex.EncodeToString(digest[:])

	c.mu.RLock()
	if v, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	compiled, err := c.compile(schemaBytes)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cache) >= c.config.MaxCacheSize {
		c.cache = make(map[string]*jsonschema.Schema)
	}
	c.cache[key] = compiled
	return compiled, nil
}

func (c *Checker) compile(schemaBytes []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true

	if compiler.Formats == nil {
		compiler.Formats = make(map[string]func(any) bool)
	}
	compiler.Formats["semver"] = func(v any) bool {
		s, ok := v.(string)
		if !ok {
			return true
		}
		if !strings.HasPrefix(s, "v") {
			s = "v" + s
		}
		return semver.IsValid(s)
	}

	compiler.LoadURL = c.secureLoader()

	url := "schema://intrinsic.json"
	if err := compiler.AddResource(url, strings.NewReader(string(schemaBytes))); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

func (c *Checker) secureLoader() func(string) (io.ReadCloser, error) {
	return func(url string) (io.ReadCloser, error) {
		if !c.config.AllowRemoteRef && (strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")) {
			return nil, fmt.Errorf("remote $ref not allowed: %s", url)
		}
		allowed := false
		for _, scheme := range c.config.AllowedSchemes {
			if strings.HasPrefix(url, scheme+"://") {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, fmt.Errorf("schema $ref scheme not allowed: %s", url)
		}
		return jsonschema.LoadURL(url)
	}
}

// measureDepth recursively measures the nesting depth of a decoded JSON
// Schema document, counting "properties", "items", and the "allOf" /
// "anyOf" / "oneOf" combinators as one level each.
func measureDepth(m map[string]any, currentDepth int) int {
	maxDepth := currentDepth

	if props, ok := m["properties"].(map[string]any); ok {
		for _, fieldSchema := range props {
			if sub, ok := fieldSchema.(map[string]any); ok {
				if d := measureDepth(sub, currentDepth+1); d > maxDepth {
					maxDepth = d
				}
			}
		}
	}

	if items, ok := m["items"].(map[string]any); ok {
		if d := measureDepth(items, currentDepth+1); d > maxDepth {
			maxDepth = d
		}
	}

	for _, key := range []string{"allOf", "anyOf", "oneOf"} {
		if arr, ok := m[key].([]any); ok {
			for _, sub := range arr {
				if subMap, ok := sub.(map[string]any); ok {
					if d := measureDepth(subMap, currentDepth+1); d > maxDepth {
						maxDepth = d
					}
				}
			}
		}
	}

	return maxDepth
}
