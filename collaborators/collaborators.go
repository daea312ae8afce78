// Package collaborators declares the interfaces the runtime's core
// calls out to but never implements itself (spec §6 "Collaborators"):
// model inference backends, custom function bodies, an HTTP client
// capability for rest_call and wolfram_alpha, and an attestation
// verifier for confidential_computation. Embedders supply concrete
// implementations; the core only ever depends on these interfaces, the
// same boundary the teacher draws around its decorator Capabilities
// (network/filesystem/secrets access declared, never hard-wired).
package collaborators

import (
	"context"

	"github.com/opal-lang/genc/executor"
	"github.com/opal-lang/genc/value"
)

// ModelRequest is the input to an inference call: a prompt plus
// whatever structured configuration the model_inference_with_config
// intrinsic's static parameter carried.
type ModelRequest struct {
	ModelURI string
	Prompt   string
	Config   map[string]any
}

// ModelResponse is an inference call's result.
type ModelResponse struct {
	Text string
	// Raw carries a provider-specific payload (e.g. a full JSON
	// response body) for handlers that need more than Text.
	Raw map[string]any
}

// ModelInference is the collaborator model_inference and
// model_inference_with_config delegate to.
type ModelInference interface {
	Infer(ctx context.Context, req ModelRequest) (ModelResponse, error)
	// Version reports the backend's semver. No built-in intrinsic calls
	// it; handler.CheckModelVersion compares such a string against a
	// Handler's MinModelVersion.
	Version(ctx context.Context) (string, error)
}

// CustomFunction is the collaborator custom_function delegates to: an
// embedder-registered Go function identified by URI, invoked with the
// call's evaluated argument.
type CustomFunction interface {
	Call(ctx context.Context, uri string, argument any) (any, error)
}

// HTTPRequest is the input to an HTTP call (rest_call, wolfram_alpha).
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// HTTPResponse is an HTTP call's result.
type HTTPResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// HTTPClient is the collaborator rest_call and wolfram_alpha delegate
// to. Kept minimal and transport-agnostic so embedders can back it with
// net/http, a mock, or a sandboxed proxy.
type HTTPClient interface {
	Do(ctx context.Context, req HTTPRequest) (HTTPResponse, error)
}

// AttestationClaim is the decoded claim a confidential_computation
// intrinsic checks before running its closure — e.g. "the enclave
// measurement matches expected_digest".
type AttestationClaim struct {
	EnclaveMeasurement []byte
	ExpectedDigest     []byte
}

// AttestationVerifier is the collaborator confidential_computation
// delegates to in order to confirm a remote peer's execution
// environment before materializing a closure into it.
type AttestationVerifier interface {
	Verify(ctx context.Context, claim AttestationClaim) error
}

// DelegateRunner is the collaborator the "delegate" intrinsic invokes
// for a named foreign environment: it receives the embedded
// computation and the materialized call argument as closed-form Value
// nodes and returns a Value to re-ingest into the caller's executor.
type DelegateRunner interface {
	Run(ctx context.Context, computation value.Value, argument value.Value) (value.Value, error)
}

// RemoteDialer opens a Transport to a confidential-computation peer at
// serverAddress. The "confidential_computation" intrinsic calls Dial
// after AttestationVerifier has accepted the claim built from config's
// image_digest (when config carries one), then wraps the result in an
// executor.Remote.
type RemoteDialer interface {
	Dial(ctx context.Context, serverAddress string) (executor.Transport, error)
}
