// Package errkind defines the error taxonomy the runtime reports to
// callers and the context-annotation convention used while propagating
// failures up through the executor layers.
package errkind

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a runtime failure so embedders can react programmatically
// instead of parsing messages.
type Kind string

const (
	// InvalidArgument marks a malformed intrinsic static parameter or an
	// ill-typed runtime value (e.g. a conditional argument that isn't boolean).
	InvalidArgument Kind = "invalid_argument"

	// NotFound marks an unknown intrinsic URI, a missing scope binding, or
	// an out-of-range struct selection.
	NotFound Kind = "not_found"

	// Unimplemented marks a model or custom-function URI with no registered
	// collaborator.
	Unimplemented Kind = "unimplemented"

	// Internal marks a backend or transport failure not attributable to the
	// caller's inputs.
	Internal Kind = "internal"

	// FailedPrecondition marks a waiter detecting that no further progress
	// is possible (e.g. a deadlocked future graph).
	FailedPrecondition Kind = "failed_precondition"

	// Unavailable marks exhaustion of all fallback candidates.
	Unavailable Kind = "unavailable"
)

// Error is the runtime's error type. Handlers and executors return it (or
// wrap it) rather than bare fmt.Errorf so that Kind survives propagation.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Context holds diagnostic breadcrumbs appended while the error climbs
	// back through the executor layers, innermost first — e.g.
	// ["while evaluating local x in block", "while searching scope"].
	Context []string
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	for _, ctx := range e.Context {
		b.WriteString("\n  ")
		b.WriteString(ctx)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext returns a copy of e with an additional diagnostic breadcrumb.
// Used by the control-flow executor (spec §7) to annotate "while evaluating
// local X in block ..." / "while searching scope ..." without discarding
// the original Kind or Cause.
func (e *Error) WithContext(format string, args ...any) *Error {
	cp := *e
	cp.Context = append(append([]string{}, e.Context...), fmt.Sprintf(format, args...))
	return &cp
}

// Annotate appends a diagnostic breadcrumb to err if it is (or wraps) an
// *Error, leaving any other error untouched so propagation never panics on
// a foreign error type.
func Annotate(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e.WithContext(format, args...)
	}
	return err
}

// KindOf extracts the Kind carried by err, defaulting to Internal for any
// error that did not originate in this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
