// Package contextbuilder implements ContextBuilder: a FlowController-based
// composer that assembles an ordered list of messages from port-fed
// payloads, constants, and templates under conditional dependency and
// emission-ordering rules (spec.md §4.3).
package contextbuilder

import (
	"github.com/Prudent-Patterns/pyllments-sub000/payload"
	"github.com/Prudent-Patterns/pyllments-sub000/ports"
)

// Kind discriminates the three entry shapes ContextBuilder accepts.
type Kind int

const (
	// PortFed entries are backed by a flow input port.
	PortFed Kind = iota
	// Constant entries always resolve to a fixed message.
	Constant
	// Template entries render a text template against other entries'
	// current values at emission time.
	Template
)

// ConvertFunc maps a port-fed entry's received payload to one or more
// messages, overriding the built-in conversion rules (spec.md §4.3
// "registered mapping from payload type to message").
type ConvertFunc func(v any, role string) ([]payload.Message, error)

// Entry is one named slot in a ContextBuilder's input map.
type Entry struct {
	Name string
	Kind Kind
	Role string

	// PortFed fields.
	PayloadType payload.Type
	Persist     bool
	Callback    func(payload.Payload) (payload.Payload, error)
	Convert     ConvertFunc
	Peers       []*ports.OutputPort

	// Constant fields.
	Message string

	// Template fields.
	TemplateText string
	DependsOn    string
	// MaxPerRun caps how many times this template is ever included across
	// the builder's lifetime; 0 means unlimited. MinTurnsBetween requires
	// at least that many dispatches to elapse since this template was last
	// included; 0 means no spacing requirement. Both are additive sugar
	// over plan resolution, not part of spec.md §4.3's required semantics
	// (grounded on the teacher's tiered reminder-injection engine).
	MaxPerRun       int
	MinTurnsBetween int
}

// TemplateOption configures the optional throttle on a Template entry.
type TemplateOption func(*Entry)

// WithMaxPerRun caps the number of times the template is ever included.
func WithMaxPerRun(n int) TemplateOption {
	return func(e *Entry) { e.MaxPerRun = n }
}

// WithMinTurnsBetween requires at least n dispatches between inclusions.
func WithMinTurnsBetween(n int) TemplateOption {
	return func(e *Entry) { e.MinTurnsBetween = n }
}

// PortFedEntry declares an entry fed by a dedicated input port of type t.
// Persist defaults to true, matching spec.md §4.3's default.
func PortFedEntry(name, role string, t payload.Type, peers ...*ports.OutputPort) Entry {
	return Entry{Name: name, Kind: PortFed, Role: role, PayloadType: t, Persist: true, Peers: peers}
}

// ConstantEntry declares a fixed-text entry, always available.
func ConstantEntry(name, role, message string) Entry {
	return Entry{Name: name, Kind: Constant, Role: role, Message: message}
}

// TemplateEntry declares a text template rendered at emission time by
// substituting `{{.<entryName>}}`-style placeholders with referenced
// entries' current values.
func TemplateEntry(name, role, template string, dependsOn string, opts ...TemplateOption) Entry {
	e := Entry{Name: name, Kind: Template, Role: role, TemplateText: template, DependsOn: dependsOn}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}
