// Package value defines the computation graph: an immutable tagged-union
// AST of literals, structs, selections, references, lambdas, calls,
// blocks, and intrinsics (spec §3 "Data Model"). Value nodes are built by
// authoring helpers (out of scope here) and consumed, never mutated, by
// the executors in package executor.
package value

import (
	"fmt"
	"strings"
)

// Value is any node in the computation graph. It is a closed sum type:
// the only implementations are the types declared in this file. Callers
// discriminate with a type switch on Kind() or a Go type switch on the
// concrete type — both are supported so executors can use whichever
// reads better at the call site.
type Value interface {
	Kind() Kind
	// String renders a debug form, not a canonical encoding.
	String() string

	isValue()
}

// Kind tags which case of the Value sum type a node is.
type Kind int

const (
	KindLiteral Kind = iota
	KindStruct
	KindSelection
	KindReference
	KindLambda
	KindCall
	KindBlock
	KindIntrinsic
)

func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindStruct:
		return "struct"
	case KindSelection:
		return "selection"
	case KindReference:
		return "reference"
	case KindLambda:
		return "lambda"
	case KindCall:
		return "call"
	case KindBlock:
		return "block"
	case KindIntrinsic:
		return "intrinsic"
	default:
		return "unknown"
	}
}

// LiteralType discriminates the populated field of a Literal.
type LiteralType int

const (
	LiteralString LiteralType = iota
	LiteralBool
	LiteralInt32
	LiteralFloat32
	LiteralMedia // opaque bytes, e.g. an image or audio payload
	LiteralTensor
)

// TensorPayload is a dense numeric tensor literal: row-major Data sized
// len(Shape) dimensions. Dtype names the element type ("float32",
// "int32", ...); interpretation of Data beyond that is a collaborator
// concern (model-inference backends), not the core's.
type TensorPayload struct {
	Shape []int64
	Dtype string
	Data  []byte
}

// Literal is a scalar or opaque payload value (spec §3: "one of string,
// bool, int32, float32, bytes ('media'), tensor payload").
type Literal struct {
	Type LiteralType

	Str     string
	Bool    bool
	Int32   int32
	Float32 float32
	Media   []byte
	Tensor  TensorPayload
}

func (*Literal) isValue()   {}
func (*Literal) Kind() Kind { return KindLiteral }

func (l *Literal) String() string {
	switch l.Type {
	case LiteralString:
		return fmt.Sprintf("%q", l.Str)
	case LiteralBool:
		return fmt.Sprintf("%t", l.Bool)
	case LiteralInt32:
		return fmt.Sprintf("%d", l.Int32)
	case LiteralFloat32:
		return fmt.Sprintf("%g", l.Float32)
	case LiteralMedia:
		return fmt.Sprintf("media(%d bytes)", len(l.Media))
	case LiteralTensor:
		return fmt.Sprintf("tensor(shape=%v, dtype=%s)", l.Tensor.Shape, l.Tensor.Dtype)
	default:
		return "literal(?)"
	}
}

// StringLiteral is a convenience constructor.
func StringLiteral(s string) *Literal { return &Literal{Type: LiteralString, Str: s} }

// BoolLiteral is a convenience constructor.
func BoolLiteral(b bool) *Literal { return &Literal{Type: LiteralBool, Bool: b} }

// Int32Literal is a convenience constructor.
func Int32Literal(i int32) *Literal { return &Literal{Type: LiteralInt32, Int32: i} }

// Float32Literal is a convenience constructor.
func Float32Literal(f float32) *Literal { return &Literal{Type: LiteralFloat32, Float32: f} }

// MediaLiteral is a convenience constructor.
func MediaLiteral(b []byte) *Literal { return &Literal{Type: LiteralMedia, Media: b} }

// StructField is one element of a Struct: an optionally-labeled child value.
type StructField struct {
	Label string // empty means unlabeled
	Value Value
}

// Struct is an ordered sequence of (optionally labeled) child values.
type Struct struct {
	Fields []StructField
}

func (*Struct) isValue()   {}
func (*Struct) Kind() Kind { return KindStruct }

func (s *Struct) String() string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		if f.Label != "" {
			parts[i] = f.Label + "=" + f.Value.String()
		} else {
			parts[i] = f.Value.String()
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// NewStruct builds an unlabeled struct from positional values.
func NewStruct(values ...Value) *Struct {
	fields := make([]StructField, len(values))
	for i, v := range values {
		fields[i] = StructField{Value: v}
	}
	return &Struct{Fields: fields}
}

// Selection projects the field at Index out of Source, which must
// evaluate to a Struct (spec §3 invariant).
type Selection struct {
	Source Value
	Index  int
}

func (*Selection) isValue()   {}
func (*Selection) Kind() Kind { return KindSelection }

func (s *Selection) String() string {
	return fmt.Sprintf("%s[%d]", s.Source.String(), s.Index)
}

// Reference names a binding resolved in the enclosing lexical scope at
// evaluation time.
type Reference struct {
	Name string
}

func (*Reference) isValue()   {}
func (*Reference) Kind() Kind { return KindReference }

func (r *Reference) String() string { return r.Name }

// Lambda is an unevaluated function: Param is bound to the call argument
// in a scope extending the lambda's capture scope, and Result is then
// evaluated.
type Lambda struct {
	Param  string
	Result Value
}

func (*Lambda) isValue()   {}
func (*Lambda) Kind() Kind { return KindLambda }

func (l *Lambda) String() string {
	return fmt.Sprintf("\\%s -> %s", l.Param, l.Result.String())
}

// Call applies Function to Argument. Argument may be nil (a zero-arity
// call); Function must evaluate to a function-shaped value (Lambda,
// an embedded function, or an Intrinsic).
type Call struct {
	Function Value
	Argument Value // nil for a zero-argument call
}

func (*Call) isValue()   {}
func (*Call) Kind() Kind { return KindCall }

func (c *Call) String() string {
	arg := "·"
	if c.Argument != nil {
		arg = c.Argument.String()
	}
	return fmt.Sprintf("%s(%s)", c.Function.String(), arg)
}

// Local is one named binding inside a Block.
type Local struct {
	Name  string
	Value Value
}

// Block sequences named locals, each in scope for every subsequent local
// and for Result, then evaluates Result in the fully extended scope.
type Block struct {
	Locals []Local
	Result Value
}

func (*Block) isValue()   {}
func (*Block) Kind() Kind { return KindBlock }

func (b *Block) String() string {
	var sb strings.Builder
	sb.WriteString("{ ")
	for _, l := range b.Locals {
		sb.WriteString(l.Name)
		sb.WriteString(" = ")
		sb.WriteString(l.Value.String())
		sb.WriteString("; ")
	}
	sb.WriteString(b.Result.String())
	sb.WriteString(" }")
	return sb.String()
}

// Intrinsic names a primitive operation by URI, carrying its static
// (compile-time) configuration as StaticParam — e.g. the then/else
// branches of "conditional", or the pattern string of
// "regex_partial_match". StaticParam is itself a Value so intrinsics can
// be parameterized by structs, nested intrinsics, or literals uniformly.
type Intrinsic struct {
	URI         string
	StaticParam Value // nil if the intrinsic takes no static configuration
}

func (*Intrinsic) isValue()   {}
func (*Intrinsic) Kind() Kind { return KindIntrinsic }

func (i *Intrinsic) String() string {
	if i.StaticParam == nil {
		return "#" + i.URI
	}
	return fmt.Sprintf("#%s<%s>", i.URI, i.StaticParam.String())
}
