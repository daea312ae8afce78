// Package scope implements the lexical binding environment threaded
// through evaluation: an immutable stack of (name, bound value) pairs
// consulted by Reference nodes and extended by Block locals and Lambda
// application.
package scope

import (
	"fmt"

	"github.com/opal-lang/genc/errkind"
)

// Scope is an immutable persistent binding environment. The zero value
// is not valid; use Empty.
//
// Scope is a linked list rather than a map so that extending one (a
// block local, a lambda application) is O(1) and never invalidates a
// Scope some other goroutine is still walking — multiple control-flow
// branches can share a prefix of bindings safely.
type Scope struct {
	name   string
	bound  any
	parent *Scope
}

// Empty is the scope with no bindings. Every Scope is ultimately
// extended from Empty.
var Empty = &Scope{}

// Extend returns a new Scope with name bound to value, shadowing any
// existing binding of the same name in s. s itself is unchanged.
func (s *Scope) Extend(name string, value any) *Scope {
	return &Scope{name: name, bound: value, parent: s}
}

// Lookup resolves name against s, walking outward through parents and
// returning the innermost (most recently extended) binding — i.e.
// shadowing behaves the way nested Go scopes do.
func (s *Scope) Lookup(name string) (any, error) {
	for cur := s; cur != nil && cur.parent != nil; cur = cur.parent {
		if cur.name == name {
			return cur.bound, nil
		}
	}
	return nil, errkind.New(errkind.NotFound, "no binding for %q in scope", name)
}

// Names returns every name bound in s, innermost first, including
// shadowed names further out. Intended for diagnostics (e.g. building a
// fuzzy-match suggestion list for a NotFound error), not for evaluation.
func (s *Scope) Names() []string {
	var names []string
	for cur := s; cur != nil && cur.parent != nil; cur = cur.parent {
		names = append(names, cur.name)
	}
	return names
}

// String renders every bound name, innermost first, for debug output.
func (s *Scope) String() string {
	if s == nil || s.parent == nil {
		return "<empty scope>"
	}
	return fmt.Sprintf("%s -> %s", s.name, s.parent.String())
}
