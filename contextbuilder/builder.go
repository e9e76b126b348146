package contextbuilder

import (
	"context"
	"fmt"
	"io"
	"text/template"

	"github.com/Prudent-Patterns/pyllments-sub000/flow"
	"github.com/Prudent-Patterns/pyllments-sub000/kernelerr"
	"github.com/Prudent-Patterns/pyllments-sub000/payload"
	"github.com/Prudent-Patterns/pyllments-sub000/ports"
	"github.com/Prudent-Patterns/pyllments-sub000/telemetry"
)

// Option configures a Builder at construction time.
type Option func(*Builder)

// WithBuildFn sets the most flexible, highest-precedence plan selector
// (spec.md §4.3 rule 1).
func WithBuildFn(fn BuildFn) Option {
	return func(b *Builder) { b.buildFn = fn }
}

// WithTriggerMap sets the per-port plan selector (spec.md §4.3 rule 2),
// used when no BuildFn is configured.
func WithTriggerMap(m map[string]Plan) Option {
	return func(b *Builder) { b.triggerMap = m }
}

// WithEmitOrder sets the global fallback plan (spec.md §4.3 rule 3), used
// when neither BuildFn nor a matching trigger entry applies.
func WithEmitOrder(p Plan) Option {
	return func(b *Builder) { b.emitOrder = p }
}

// WithMessagesOutputPeers pre-connects messages_output to the given inputs.
func WithMessagesOutputPeers(peers ...*ports.InputPort) Option {
	return func(b *Builder) { b.messagesPeers = peers }
}

// WithLogger sets the Logger used for assembly failures.
func WithLogger(l telemetry.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// Builder is the concrete ContextBuilder: a FlowController wrapping an
// entry map, assembling and emitting seq<Message> through messages_output
// on every receipt (spec.md §4.3).
type Builder struct {
	entries map[string]*Entry

	buildFn       BuildFn
	triggerMap    map[string]Plan
	emitOrder     Plan
	messagesPeers []*ports.InputPort
	logger        telemetry.Logger

	ctl *flow.Controller

	turn           int
	templateCounts map[string]int
	templateLastAt map[string]int
}

// New expands entries into the element's ports and returns a ready Builder.
// PortFed entries become flow input ports (with Transform wired to the
// entry's optional Callback); Constant and Template entries contribute no
// port. A messages_output port of type seq<Message> is always created.
func New(element *ports.Element, entries []Entry, opts ...Option) (*Builder, error) {
	b := &Builder{
		entries:        make(map[string]*Entry, len(entries)),
		logger:         telemetry.NoopLogger{},
		templateCounts: make(map[string]int),
		templateLastAt: make(map[string]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	for i := range entries {
		e := entries[i]
		if _, dup := b.entries[e.Name]; dup {
			return nil, &kernelerr.ConfigurationError{Component: "contextbuilder", Message: fmt.Sprintf("duplicate entry name %q", e.Name)}
		}
		b.entries[e.Name] = &e
	}

	if err := b.validateTemplateReferences(); err != nil {
		return nil, err
	}

	var inputSpecs []flow.InputSpec
	for _, e := range b.entries {
		if e.Kind != PortFed {
			continue
		}
		spec := flow.InputSpec{
			Name:    e.Name,
			Type:    e.PayloadType,
			Persist: e.Persist,
			Peers:   e.Peers,
		}
		if e.Callback != nil {
			cb := e.Callback
			spec.Transform = func(ctx context.Context, v any) (any, error) {
				p, ok := v.(payload.Payload)
				if !ok {
					return v, nil
				}
				return cb(p)
			}
		}
		inputSpecs = append(inputSpecs, spec)
	}

	outputSpecs := []flow.OutputSpec{
		flow.Out("messages_output", payload.Seq(payload.TypeMessage), b.messagesPeers...),
	}

	ctl, err := flow.New(element, inputSpecs, outputSpecs, b.dispatch, flow.WithLogger(b.logger))
	if err != nil {
		return nil, err
	}
	b.ctl = ctl
	return b, nil
}

// validateTemplateReferences implements the spec.md §9 Open Question
// decision: a Template entry's DependsOn (or, transitively, any reference
// it would need at render time) must name a declared entry, checked at
// construction time rather than left ambiguous (see DESIGN.md).
func (b *Builder) validateTemplateReferences() error {
	for name, e := range b.entries {
		if e.Kind != Template {
			continue
		}
		if e.DependsOn != "" {
			if _, ok := b.entries[e.DependsOn]; !ok {
				return &kernelerr.ConfigurationError{
					Component: "contextbuilder",
					Message:   fmt.Sprintf("template entry %q depends_on unknown entry %q", name, e.DependsOn),
				}
			}
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(e.TemplateText)
		if err != nil {
			return &kernelerr.ConfigurationError{Component: "contextbuilder", Message: fmt.Sprintf("template entry %q does not parse", name), Cause: err}
		}
		names := make(map[string]string, len(b.entries))
		for n := range b.entries {
			names[n] = ""
		}
		if err := tmpl.Execute(io.Discard, names); err != nil {
			return &kernelerr.ConfigurationError{Component: "contextbuilder", Message: fmt.Sprintf("template entry %q references an unknown entry", name), Cause: err}
		}
	}
	return nil
}

// Input returns the flow input port backing a PortFed entry, for tests and
// collaborators that need to Connect to it directly.
func (b *Builder) Input(name string) (*ports.InputPort, bool) {
	return b.ctl.Input(name)
}

// MessagesOutput returns the messages_output port.
func (b *Builder) MessagesOutput() *ports.OutputPort {
	out, _ := b.ctl.Output("messages_output")
	return out
}

// dispatch is the FlowController callback driving assembly (spec.md §4.3
// "Assembly rules" and "When the plan resolves fully").
func (b *Builder) dispatch(ctx context.Context, e *flow.Event) error {
	b.turn++

	values := make(map[string]any, len(b.entries))
	for name, entry := range b.entries {
		switch entry.Kind {
		case Constant:
			values[name] = entry.Message
		case Template:
			values[name] = struct{}{}
		case PortFed:
			if v, ok := e.Value(name); ok {
				values[name] = v
			}
		}
	}

	plan := b.selectPlan(e.ActiveInput, values)
	if len(plan) == 0 {
		return nil
	}

	resolved, ok := b.resolvePlan(plan, values)
	if !ok {
		return nil
	}

	var all []payload.Message
	for _, rs := range resolved {
		msgs, err := b.toMessages(rs.entry, values)
		if err != nil {
			return err
		}
		all = append(all, msgs...)
	}
	if len(all) == 0 {
		return nil
	}

	return e.Emit(ctx, "messages_output", payload.MessageList(all))
}
