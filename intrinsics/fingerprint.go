package intrinsics

import (
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/opal-lang/genc/errkind"
	"github.com/opal-lang/genc/value"
)

// wireValue is the CBOR-friendly shape a value.Value node is flattened
// to before hashing; a literal's Kind names its literal type. Canonical
// CBOR (deterministic map-key ordering, no indefinite-length items)
// gives parallel_map's result-cache keys and confidential_computation's
// attestation claim a stable fingerprint for the same Value in any
// process, grounded on the teacher's core/planfmt/canonical.go
// plan-hashing use of the identical encoding mode.
type wireValue struct {
	Kind     string      `cbor:"kind"`
	Str      string      `cbor:"str,omitempty"`
	Bool     bool        `cbor:"bool,omitempty"`
	I32      int32       `cbor:"i32,omitempty"`
	F32      float32     `cbor:"f32,omitempty"`
	Media    []byte      `cbor:"media,omitempty"`
	Name     string      `cbor:"name,omitempty"`
	Param    string      `cbor:"param,omitempty"`
	Index    int         `cbor:"index,omitempty"`
	URI      string      `cbor:"uri,omitempty"`
	Static   *wireValue  `cbor:"static,omitempty"`
	Function *wireValue  `cbor:"function,omitempty"`
	Argument *wireValue  `cbor:"argument,omitempty"`
	Source   *wireValue  `cbor:"source,omitempty"`
	Result   *wireValue  `cbor:"result,omitempty"`
	Children []wireValue `cbor:"children,omitempty"`
	Labels   []string    `cbor:"labels,omitempty"`
	Locals   []wireLocal `cbor:"locals,omitempty"`
}

type wireLocal struct {
	Name  string    `cbor:"name"`
	Value wireValue `cbor:"value"`
}

func toWire(v value.Value) wireValue {
	switch n := v.(type) {
	case *value.Literal:
		w := wireValue{Kind: "literal"}
		switch n.Type {
		case value.LiteralString:
			w.Kind, w.Str = "literal:string", n.Str
		case value.LiteralBool:
			w.Kind, w.Bool = "literal:bool", n.Bool
		case value.LiteralInt32:
			w.Kind, w.I32 = "literal:int32", n.Int32
		case value.LiteralFloat32:
			w.Kind, w.F32 = "literal:float32", n.Float32
		case value.LiteralMedia:
			w.Kind, w.Media = "literal:media", n.Media
		case value.LiteralTensor:
			w.Kind, w.Str, w.Media = "literal:tensor", n.Tensor.Dtype, n.Tensor.Data
			for _, d := range n.Tensor.Shape {
				w.Children = append(w.Children, wireValue{Kind: "dim", Index: int(d)})
			}
		}
		return w
	case *value.Struct:
		children := make([]wireValue, len(n.Fields))
		labels := make([]string, len(n.Fields))
		for i, f := range n.Fields {
			children[i] = toWire(f.Value)
			labels[i] = f.Label
		}
		return wireValue{Kind: "struct", Children: children, Labels: labels}
	case *value.Selection:
		src := toWire(n.Source)
		return wireValue{Kind: "selection", Source: &src, Index: n.Index}
	case *value.Reference:
		return wireValue{Kind: "reference", Name: n.Name}
	case *value.Lambda:
		res := toWire(n.Result)
		return wireValue{Kind: "lambda", Param: n.Param, Result: &res}
	case *value.Call:
		fn := toWire(n.Function)
		w := wireValue{Kind: "call", Function: &fn}
		if n.Argument != nil {
			arg := toWire(n.Argument)
			w.Argument = &arg
		}
		return w
	case *value.Block:
		locals := make([]wireLocal, len(n.Locals))
		for i, l := range n.Locals {
			locals[i] = wireLocal{Name: l.Name, Value: toWire(l.Value)}
		}
		res := toWire(n.Result)
		return wireValue{Kind: "block", Locals: locals, Result: &res}
	case *value.Intrinsic:
		w := wireValue{Kind: "intrinsic", URI: n.URI}
		if n.StaticParam != nil {
			sp := toWire(n.StaticParam)
			w.Static = &sp
		}
		return w
	default:
		return wireValue{Kind: "unknown"}
	}
}

var canonicalEncMode = mustCanonicalEncMode()

func mustCanonicalEncMode() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("intrinsics: building canonical CBOR encoder: " + err.Error())
	}
	return mode
}

// Fingerprint returns a deterministic content hash of v: parallel_map
// builds its ResultCache keys from the function's and the element's
// fingerprints, and confidential_computation pairs the computation's
// fingerprint with config's image_digest in the claim it hands its
// AttestationVerifier.
func Fingerprint(v value.Value) ([]byte, error) {
	if v == nil {
		v = value.BoolLiteral(false)
	}
	encoded, err := canonicalEncMode.Marshal(toWire(v))
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "canonical-encoding computation for fingerprinting")
	}
	sum := blake2b.Sum256(encoded)
	return sum[:], nil
}

// ClosedForm reports whether v contains no Reference to a name not
// bound by an enclosing Lambda parameter or Block local within v
// itself (spec §9 Open Question: "the safe interpretation is that only
// closed-form computations ... may cross" a delegate or
// confidential_computation boundary).
func ClosedForm(v value.Value) bool {
	return closedForm(v, nil)
}

func closedForm(v value.Value, bound []string) bool {
	switch n := v.(type) {
	case nil:
		return true
	case *value.Literal:
		return true
	case *value.Reference:
		for _, b := range bound {
			if b == n.Name {
				return true
			}
		}
		return false
	case *value.Struct:
		for _, f := range n.Fields {
			if !closedForm(f.Value, bound) {
				return false
			}
		}
		return true
	case *value.Selection:
		return closedForm(n.Source, bound)
	case *value.Lambda:
		return closedForm(n.Result, append(append([]string{}, bound...), n.Param))
	case *value.Call:
		if !closedForm(n.Function, bound) {
			return false
		}
		if n.Argument != nil {
			return closedForm(n.Argument, bound)
		}
		return true
	case *value.Block:
		cur := append([]string{}, bound...)
		for _, l := range n.Locals {
			if !closedForm(l.Value, cur) {
				return false
			}
			cur = append(cur, l.Name)
		}
		return closedForm(n.Result, cur)
	case *value.Intrinsic:
		if n.StaticParam == nil {
			return true
		}
		return closedForm(n.StaticParam, bound)
	default:
		return false
	}
}
