package flow

import (
	"context"

	"github.com/Prudent-Patterns/pyllments-sub000/payload"
	"github.com/Prudent-Patterns/pyllments-sub000/ports"
)

// Event is passed to FlowFn on every dispatch. It exposes the active input's
// name, read access to every flow port's current stored value, the output
// ports for emission, the persistent context map, and Spawn for explicit
// async continuations.
type Event struct {
	// ActiveInput is the name of the input port that triggered this
	// dispatch (spec.md §4.2 "active_input_port").
	ActiveInput string

	ctl     *Controller
	spawned bool
}

// Value returns the currently stored payload for the named flow input, and
// whether one is present. A name with no stored value (never received, or
// cleared because Persist is false) reports ok=false.
func (e *Event) Value(name string) (any, bool) {
	return e.ctl.valueOf(name)
}

// Context returns the controller's persistent context map, preserved across
// invocations and never examined by the kernel (spec.md §4.2 "Context
// map").
func (e *Event) Context() *Context {
	return e.ctl.ctxMap
}

// Output returns the named expanded output port.
func (e *Event) Output(name string) (*ports.OutputPort, bool) {
	return e.ctl.Output(name)
}

// Emit stages and emits v on the named output flow port in one step
// (spec.md §4.2 "the user callback emits via flow_ports[name].emit(value)").
func (e *Event) Emit(ctx context.Context, name string, v payload.Payload) error {
	out, ok := e.ctl.Output(name)
	if !ok {
		return nil
	}
	return out.EmitValue(ctx, v)
}

// Spawn schedules fn as an asynchronous continuation of this dispatch,
// running independently of the controller's dispatch serialization. The
// active input's Persist=false clearing, if applicable, is deferred until
// fn completes rather than happening when FlowFn returns (spec.md §4.2
// step 3: "If flow_fn returns a coroutine, schedule it as a task... arrange
// a continuation that clears the input's stored payload when the task
// completes").
func (e *Event) Spawn(ctx context.Context, fn func(ctx context.Context) error) {
	e.spawned = true
	activeInput := e.ActiveInput
	fi := e.ctl.inputs[activeInput]
	ctl := e.ctl
	go func() {
		err := fn(ctx)
		if err != nil {
			ctl.logger.Error(ctx, "flow: spawned continuation failed", "input", activeInput, "error", err)
		}
		ctl.completeSpawn(activeInput, fi.persist)
	}()
}
