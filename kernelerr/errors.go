// Package kernelerr defines the closed set of error kinds raised by the
// dataflow kernel (ports, flow, contextbuilder, router). Each kind is a
// struct implementing error so callers can test for a specific kind with
// errors.As instead of string matching. The kinds that carry a cause
// (SchemaViolation, ConfigurationError) also implement Unwrap, so their
// causal chains survive wrapping.
package kernelerr

import "fmt"

// IncompatibleTypes is raised by OutputPort.Connect when the output's
// declared payload type is not compatible with the input's declared type.
type IncompatibleTypes struct {
	OutputType string
	InputType  string
	Producer   string
	Consumer   string
}

func (e *IncompatibleTypes) Error() string {
	return fmt.Sprintf("incompatible types: %s (output %q) -> %s (input %q)",
		e.OutputType, e.Producer, e.InputType, e.Consumer)
}

// WrongEndpointKind is raised when Connect is given something other than an
// InputPort as the peer endpoint.
type WrongEndpointKind struct {
	Expected string
	Got      string
}

func (e *WrongEndpointKind) Error() string {
	return fmt.Sprintf("wrong endpoint kind: expected %s, got %s", e.Expected, e.Got)
}

// StagingTypeError is raised by OutputPort.Stage when a staged item's value
// does not satisfy its declared required-item type.
type StagingTypeError struct {
	Output string
	Item   string
	Want   string
	Got    string
}

func (e *StagingTypeError) Error() string {
	return fmt.Sprintf("staging type error: output %q item %q: want %s, got %s",
		e.Output, e.Item, e.Want, e.Got)
}

// ReceiveTypeError is raised by InputPort.Receive when a first payload from a
// given edge fails validation against the input's declared type.
type ReceiveTypeError struct {
	Input  string
	Output string
	Want   string
	Got    string
}

func (e *ReceiveTypeError) Error() string {
	return fmt.Sprintf("receive type error: input %q from output %q: want %s, got %s",
		e.Input, e.Output, e.Want, e.Got)
}

// PortClosed is raised when stage/emit is attempted on a closed output port.
type PortClosed struct {
	Port string
}

func (e *PortClosed) Error() string {
	return fmt.Sprintf("port closed: %s", e.Port)
}

// SchemaViolation is raised by the structured router when an incoming text
// payload does not validate against the composed root schema.
type SchemaViolation struct {
	Route string
	Cause error
}

func (e *SchemaViolation) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("schema violation: %v", e.Cause)
	}
	return "schema violation"
}

func (e *SchemaViolation) Unwrap() error { return e.Cause }

// UnknownRoute is raised by the structured router when the parsed route
// discriminant has no matching entry in the routing map.
type UnknownRoute struct {
	Route string
}

func (e *UnknownRoute) Error() string {
	return fmt.Sprintf("unknown route: %q", e.Route)
}

// MissingCallback is raised when a port is used without its pack or unpack
// callback configured.
type MissingCallback struct {
	Port string
	Kind string // "pack" or "unpack"
}

func (e *MissingCallback) Error() string {
	return fmt.Sprintf("missing %s callback on port %q", e.Kind, e.Port)
}

// ConfigurationError is raised at construction time for programmer errors
// that must halt graph setup (spec.md §7): e.g. a ContextBuilder template
// referencing an entry name that does not exist in the input map.
type ConfigurationError struct {
	Component string
	Message   string
	Cause     error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Component, e.Message)
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }
