// Package flow implements FlowController: an Element whose behavior is a
// single user-supplied callback invoked on every receipt at any declared
// input port, with access to every declared port and a persistent context
// map shared across invocations (spec.md §4.2).
package flow

import (
	"context"
	"fmt"
	"sync"

	"github.com/Prudent-Patterns/pyllments-sub000/payload"
	"github.com/Prudent-Patterns/pyllments-sub000/ports"
	"github.com/Prudent-Patterns/pyllments-sub000/telemetry"
)

// FlowFn is the user-supplied callback invoked on every input receipt. It
// sees the Event (active input name, context map, output access, and the
// Spawn hook for explicit async continuations) and may return an error,
// which is logged but never propagated to the port that triggered dispatch.
type FlowFn func(ctx context.Context, e *Event) error

// InputSpec declares one input port to expand from the flow map.
type InputSpec struct {
	Name string
	Type payload.Type
	// Persist controls whether the stored payload is cleared after
	// dispatch completes. Defaults to true when constructed via In.
	Persist bool
	// Peers pre-connects this input to already-constructed output ports.
	Peers []*ports.OutputPort
	// AllowEmptySequence permits an empty sequence to satisfy this input.
	AllowEmptySequence bool
	// Transform, if set, runs on the received value before it is stored
	// and dispatched, letting a collaborator (e.g. contextbuilder's
	// per-entry callback) rewrite the payload that FlowFn observes.
	Transform func(ctx context.Context, v any) (any, error)
}

// In builds an InputSpec with Persist defaulting to true, matching the
// Python source's default for flow map input entries.
func In(name string, t payload.Type, peers ...*ports.OutputPort) InputSpec {
	return InputSpec{Name: name, Type: t, Persist: true, Peers: peers}
}

// OutputSpec declares one output port to expand from the flow map. Its pack
// callback is always the identity on the staged "payload" key (spec.md
// §4.2 "Output flow ports").
type OutputSpec struct {
	Name  string
	Type  payload.Type
	Peers []*ports.InputPort
}

// Out builds an OutputSpec pre-connected to peers.
func Out(name string, t payload.Type, peers ...*ports.InputPort) OutputSpec {
	return OutputSpec{Name: name, Type: t, Peers: peers}
}

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithLogger sets the Logger used for dispatch failures and panics.
func WithLogger(l telemetry.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

type flowInput struct {
	port    *ports.InputPort
	persist bool
}

// Controller is the concrete FlowController: a map of expanded ports, a
// persistent context, and the dispatch loop around FlowFn.
type Controller struct {
	element *ports.Element
	fn      FlowFn
	logger  telemetry.Logger

	inputs  map[string]*flowInput
	outputs map[string]*ports.OutputPort

	// fnMu approximates the source's single cooperative loop: the
	// synchronous body of every FlowFn invocation is mutually exclusive
	// with every other, even though distinct inputs deliver on distinct
	// goroutines in this port model (spec.md §9 Design Notes: "actor per
	// output port... per-input serialization guaranteed by a mutex").
	// Explicit async continuations spawned via Event.Spawn run outside
	// this lock, matching "parallelism across payloads exists only via
	// the scheduler's interleaving of awaits".
	fnMu sync.Mutex

	valuesMu sync.RWMutex
	values   map[string]any

	ctxMap *Context
}

// New expands inputs and outputs into concrete ports on element and returns
// a Controller dispatching every receipt to fn.
func New(element *ports.Element, inputs []InputSpec, outputs []OutputSpec, fn FlowFn, opts ...Option) (*Controller, error) {
	c := &Controller{
		element: element,
		fn:      fn,
		logger:  telemetry.NoopLogger{},
		inputs:  make(map[string]*flowInput, len(inputs)),
		outputs: make(map[string]*ports.OutputPort, len(outputs)),
		values:  make(map[string]any, len(inputs)),
		ctxMap:  newContext(),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, spec := range outputs {
		out := ports.NewOutput(element, spec.Name, spec.Type,
			[]ports.ItemSpec{{Name: "payload", Type: spec.Type}},
			identityPack)
		if len(spec.Peers) > 0 {
			if err := out.Connect(context.Background(), spec.Peers...); err != nil {
				return nil, err
			}
		}
		c.outputs[spec.Name] = out
	}

	for _, spec := range inputs {
		name := spec.Name
		var inOpts []ports.InputOption
		if spec.AllowEmptySequence {
			inOpts = append(inOpts, ports.AllowEmptySequence())
		}
		transform := spec.Transform
		in := ports.NewInput(element, name, spec.Type, func(ctx context.Context, v any) error {
			if transform != nil {
				transformed, err := transform(ctx, v)
				if err != nil {
					c.logger.Error(ctx, "flow: input transform failed", "input", name, "error", err)
					return err
				}
				v = transformed
			}
			c.dispatch(ctx, name, v)
			return nil
		}, inOpts...)
		c.inputs[name] = &flowInput{port: in, persist: spec.Persist}

		for _, peer := range spec.Peers {
			if err := peer.Connect(context.Background(), in); err != nil {
				return nil, err
			}
		}
	}

	return c, nil
}

func identityPack(ctx context.Context, items map[string]any) (payload.Payload, error) {
	v, ok := items["payload"].(payload.Payload)
	if !ok {
		return nil, fmt.Errorf("flow: staged value is not a payload")
	}
	return v, nil
}

// Input returns the named expanded InputPort, for tests and collaborators
// that need to Connect to it directly.
func (c *Controller) Input(name string) (*ports.InputPort, bool) {
	fi, ok := c.inputs[name]
	if !ok {
		return nil, false
	}
	return fi.port, true
}

// Output returns the named expanded OutputPort.
func (c *Controller) Output(name string) (*ports.OutputPort, bool) {
	p, ok := c.outputs[name]
	return p, ok
}

// Context returns the controller's persistent context map.
func (c *Controller) Context() *Context { return c.ctxMap }

func (c *Controller) valueOf(name string) (any, bool) {
	c.valuesMu.RLock()
	defer c.valuesMu.RUnlock()
	v, ok := c.values[name]
	return v, ok
}

func (c *Controller) setValue(name string, v any) {
	c.valuesMu.Lock()
	c.values[name] = v
	c.valuesMu.Unlock()
}

func (c *Controller) clearValue(name string) {
	c.valuesMu.Lock()
	delete(c.values, name)
	c.valuesMu.Unlock()
}

// dispatch implements spec.md §4.2 Dispatch steps 1-3: store the payload,
// invoke fn, then clear the active input's stored value per its Persist
// setting — immediately if fn returned synchronously, or after the spawned
// continuation completes if Event.Spawn was called.
func (c *Controller) dispatch(ctx context.Context, activeInput string, v any) {
	c.setValue(activeInput, v)

	fi := c.inputs[activeInput]
	e := &Event{ctl: c, ActiveInput: activeInput}

	c.fnMu.Lock()
	err := c.invoke(ctx, e)
	spawned := e.spawned
	c.fnMu.Unlock()

	if err != nil {
		c.logger.Error(ctx, "flow: callback failed", "input", activeInput, "error", err)
	}

	if !spawned && !fi.persist {
		c.clearValue(activeInput)
	}
}

// invoke calls fn, converting a panic into a logged error so one bad
// callback invocation never takes down the Element (spec.md §4.2 Failure
// semantics: translated from exception-safety to Go's panic/recover).
func (c *Controller) invoke(ctx context.Context, e *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("flow: callback panicked: %v", r)
		}
	}()
	return c.fn(ctx, e)
}

// completeSpawn clears activeInput's stored value once a spawned
// continuation finishes, if that input is not persistent.
func (c *Controller) completeSpawn(activeInput string, persist bool) {
	if !persist {
		c.clearValue(activeInput)
	}
}
