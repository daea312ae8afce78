// Package handler implements the intrinsic handler registry: the
// URI-keyed table the executors consult to turn an Intrinsic node into
// a running computation (spec §4 "Intrinsic Handler Registry").
//
// Grounded on the teacher's core/decorator/registry.go (a
// database/sql-style global registry with auto-inferred roles) and
// core/decorator/decorator.go (the Role/Descriptor/Capabilities
// pattern), adapted from "decorator implementing an interface subset"
// to "handler declaring one dispatch Discipline up front" — the
// executor stack's two-layer split (spec §5) is a structural property
// of the call site, not something to infer from which Go interfaces a
// handler happens to implement.
package handler

import (
	"context"
	"sort"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/mod/semver"

	"github.com/opal-lang/genc/concurrency"
	"github.com/opal-lang/genc/errkind"
	"github.com/opal-lang/genc/schema"
	"github.com/opal-lang/genc/value"
)

// Discipline names which executor layer may dispatch a handler (spec
// §5): INLINE handlers run beneath the inline executor and may not
// themselves embed control-flow values; CONTROL_FLOW handlers run in
// the control-flow executor and may freely embed and evaluate nested
// structural Value nodes.
type Discipline int

const (
	INLINE Discipline = iota
	CONTROL_FLOW
)

func (d Discipline) String() string {
	if d == INLINE {
		return "INLINE"
	}
	return "CONTROL_FLOW"
}

// Invoker lets a handler evaluate a nested Value node without the
// handler package importing executor (which itself imports handler).
// The executor that dispatches a call supplies the Invoker.
type Invoker interface {
	Evaluate(ctx context.Context, v value.Value) (any, error)
}

// Request is everything a handler's Execute function needs to service
// one call to its intrinsic.
type Request struct {
	// StaticParam is the Intrinsic node's compile-time configuration
	// (spec §3), already schema-checked by the time Execute sees it, in
	// the same native-Go shape as Argument — a scalar, a StructNative,
	// or an Applicable if the static configuration is itself callable
	// (e.g. conditional's then/else branches).
	StaticParam any
	// Argument is the evaluated runtime argument, or nil for a
	// zero-argument call.
	Argument any
	// Invoker evaluates a scope-free Value node in the caller's executor
	// (delegate and confidential_computation re-ingest their result
	// Value through it). Nested computations such as conditional's
	// branches or a while body reach a handler as Applicable values
	// instead.
	Invoker Invoker

	// Scheduler is the executor's configured concurrency.Scheduler (spec
	// §4.2: "the handler receives ... a context exposing the scheduler
	// so handlers may fan out work"), used by parallel_map to dispatch
	// element calls concurrently.
	Scheduler concurrency.Scheduler
}

// Handler is one registered intrinsic implementation.
type Handler struct {
	URI        string
	Discipline Discipline

	// StaticParamSchema validates Intrinsic.StaticParam's decoded form
	// before Execute is ever called. Nil means the intrinsic takes no
	// static configuration.
	StaticParamSchema schema.JSONSchema

	// MinModelVersion, if non-empty, is the lowest semver the handler
	// requires of a model/backend it is invoked against, as checked by
	// CheckModelVersion. No built-in handler sets it, and none calls
	// CheckModelVersion.
	MinModelVersion string

	Execute func(ctx context.Context, req Request) (any, error)
}

// Set is an append-only, URI-keyed registry of Handlers, safe for
// concurrent registration and lookup.
type Set struct {
	mu      sync.RWMutex
	entries map[string]Handler
	checker *schema.Checker
}

// NewSet creates an empty Set. checker may be nil to use
// schema.DefaultConfig.
func NewSet(checker *schema.Checker) *Set {
	if checker == nil {
		checker = schema.NewChecker(nil)
	}
	return &Set{entries: make(map[string]Handler), checker: checker}
}

// Register adds h to the set. Re-registering an already-registered URI
// is an error: the registry is append-only so that a handler set built
// up across several init-style registration calls can never be
// silently reshadowed by a later one.
func (s *Set) Register(h Handler) error {
	if h.URI == "" {
		return errkind.New(errkind.InvalidArgument, "handler has empty URI")
	}
	if h.Execute == nil {
		return errkind.New(errkind.InvalidArgument, "handler %q has no Execute function", h.URI)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[h.URI]; exists {
		return errkind.New(errkind.InvalidArgument, "handler %q already registered", h.URI)
	}
	s.entries[h.URI] = h
	return nil
}

// Lookup resolves uri to its Handler. A miss returns a NotFound error
// whose message suggests the closest registered URI, if any are
// reasonably close, to make a typo'd intrinsic URI cheap to diagnose.
func (s *Set) Lookup(uri string) (Handler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.entries[uri]
	if ok {
		return h, nil
	}

	if suggestion := s.closestURI(uri); suggestion != "" {
		return Handler{}, errkind.New(errkind.NotFound, "intrinsic %q not registered (did you mean %q?)", uri, suggestion)
	}
	return Handler{}, errkind.New(errkind.NotFound, "intrinsic %q not registered", uri)
}

// closestURI returns the registered URI fuzzy-closest to uri, or "" if
// none are registered or none fuzzy-matches uri.
func (s *Set) closestURI(uri string) string {
	candidates := make([]string, 0, len(s.entries))
	for registered := range s.entries {
		candidates = append(candidates, registered)
	}
	if len(candidates) == 0 {
		return ""
	}
	ranks := fuzzy.RankFindFold(uri, candidates)
	if len(ranks) == 0 {
		return ""
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i].Distance < ranks[j].Distance })
	return ranks[0].Target
}

// CheckWellFormed validates an Intrinsic's decoded static parameter
// against the handler's declared schema, if any.
func (s *Set) CheckWellFormed(h Handler, decodedStaticParam any) error {
	if h.StaticParamSchema == nil {
		return nil
	}
	return s.checker.CheckWellFormed(h.StaticParamSchema, decodedStaticParam)
}

// CheckModelVersion reports whether backendVersion (a semver string,
// with or without a leading "v") satisfies h.MinModelVersion. A handler
// with no MinModelVersion accepts any backend.
func CheckModelVersion(h Handler, backendVersion string) error {
	if h.MinModelVersion == "" {
		return nil
	}
	want := normalizeSemver(h.MinModelVersion)
	got := normalizeSemver(backendVersion)
	if !semver.IsValid(got) {
		return errkind.New(errkind.InvalidArgument, "backend version %q is not a valid semver", backendVersion)
	}
	if semver.Compare(got, want) < 0 {
		return errkind.New(errkind.FailedPrecondition, "handler %q requires backend >= %s, got %s", h.URI, h.MinModelVersion, backendVersion)
	}
	return nil
}

func normalizeSemver(v string) string {
	if v == "" || v[0] == 'v' {
		return v
	}
	return "v" + v
}

// URIs returns every registered URI, for diagnostics and for the
// default-handler-set tests.
func (s *Set) URIs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uris := make([]string, 0, len(s.entries))
	for uri := range s.entries {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}
