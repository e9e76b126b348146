// Package router implements StructuredRouterTransformer: an Element that
// validates a JSON text payload against a composed discriminated-union
// schema and demultiplexes the parsed value to one of N typed outputs
// (spec.md §4.4).
package router

import (
	"encoding/json"

	"github.com/Prudent-Patterns/pyllments-sub000/payload"
)

// StructuredValue is the default wrapper Payload produced for a route with
// no explicit Transform: the parsed route-specific JSON value, carrying the
// route's declared output type (spec.md §4.4 "Default is to wrap the
// parsed value into a generic structured payload").
type StructuredValue struct {
	Type  payload.Type
	Value any
}

// PayloadType implements Payload.
func (s StructuredValue) PayloadType() Type { return s.Type }

// Type is an alias so router callers don't need to import payload directly
// for the common case of declaring a route's output type.
type Type = payload.Type

// MarshalJSON re-encodes the decoded value, for collaborators that want the
// wire form back.
func (s StructuredValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Value)
}
