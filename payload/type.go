// Package payload defines the kernel's type system for values carried
// between ports: declared Type descriptors (scalar, union, sequence, any),
// the Compatible predicate used at connect/stage/receive time, and the
// concrete Payload kinds (Message, Schema) used by the higher-level
// composers in contextbuilder and router.
package payload

import "fmt"

// Payload is the marker interface implemented by every value that can be
// staged on an output port and received on an input port. A payload's
// declared Type is fixed at emission time; the kernel never mutates it.
type Payload interface {
	// PayloadType returns the concrete, static type of this value for
	// compatibility checking. It must not vary across calls for the same
	// value.
	PayloadType() Type
}

// Type describes a declared port or payload type. Exactly one of the Kind
// variants applies at a time:
//
//   - KindAny: matches anything.
//   - KindScalar: a nominal leaf type, compared by Name.
//   - KindUnion: compatible if any member matches on one side.
//   - KindSequence: seq<Elem>, distributing over Elem per spec.md §4.1.
type Type struct {
	Kind    Kind
	Name    string  // set when Kind == KindScalar
	Members []Type  // set when Kind == KindUnion
	Elem    *Type   // set when Kind == KindSequence
}

// Kind discriminates the shape of a Type.
type Kind int

const (
	// KindAny matches any other type.
	KindAny Kind = iota
	// KindScalar is a nominal leaf type.
	KindScalar
	// KindUnion is compatible if any member is.
	KindUnion
	// KindSequence wraps an element type (seq<Elem>).
	KindSequence
)

// Any is the wildcard type: compatible with everything.
var Any = Type{Kind: KindAny}

// Scalar constructs a nominal leaf type with the given name.
func Scalar(name string) Type { return Type{Kind: KindScalar, Name: name} }

// Seq constructs a sequence-of-elem type.
func Seq(elem Type) Type { return Type{Kind: KindSequence, Elem: &elem} }

// UnionOf constructs a union type from its members. A single-member union
// collapses to that member.
func UnionOf(members ...Type) Type {
	if len(members) == 1 {
		return members[0]
	}
	return Type{Kind: KindUnion, Members: members}
}

// String renders a Type for error messages and diagnostics.
func (t Type) String() string {
	switch t.Kind {
	case KindAny:
		return "any"
	case KindScalar:
		return t.Name
	case KindUnion:
		out := "union<"
		for i, m := range t.Members {
			if i > 0 {
				out += "|"
			}
			out += m.String()
		}
		return out + ">"
	case KindSequence:
		return fmt.Sprintf("seq<%s>", t.Elem.String())
	default:
		return "unknown"
	}
}

// Compatible implements compatible(O, I) from spec.md §4.1:
//   - either side "any" -> compatible
//   - structurally equal -> compatible
//   - union: compatible iff any member of one side is compatible with some
//     member (or the whole) of the other
//   - seq<O'> vs seq<I'>: compatible iff Compatible(O', I'), with union
//     members distributed
//   - seq<O'> vs non-sequence I: compatible iff Compatible(O', I), and
//     symmetrically
//   - otherwise: nominal (name) equality
func Compatible(output, input Type) bool {
	if output.Kind == KindAny || input.Kind == KindAny {
		return true
	}
	if output.Kind == KindUnion {
		for _, m := range output.Members {
			if Compatible(m, input) {
				return true
			}
		}
		return false
	}
	if input.Kind == KindUnion {
		for _, m := range input.Members {
			if Compatible(output, m) {
				return true
			}
		}
		return false
	}
	if output.Kind == KindSequence && input.Kind == KindSequence {
		return Compatible(*output.Elem, *input.Elem)
	}
	if output.Kind == KindSequence && input.Kind != KindSequence {
		return Compatible(*output.Elem, input)
	}
	if output.Kind != KindSequence && input.Kind == KindSequence {
		return Compatible(output, *input.Elem)
	}
	// Nominal subtype check: this kernel has no subtype hierarchy beyond
	// structural equality, so scalars compare by name.
	return output.Kind == input.Kind && output.Name == input.Name
}

// Equal reports structural equality between two types.
func Equal(a, b Type) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindAny:
		return true
	case KindScalar:
		return a.Name == b.Name
	case KindSequence:
		return Equal(*a.Elem, *b.Elem)
	case KindUnion:
		if len(a.Members) != len(b.Members) {
			return false
		}
		for i := range a.Members {
			if !Equal(a.Members[i], b.Members[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
