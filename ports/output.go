package ports

import (
	"context"
	"sync"
	"time"

	"github.com/Prudent-Patterns/pyllments-sub000/kernelerr"
	"github.com/Prudent-Patterns/pyllments-sub000/lifecycle"
	"github.com/Prudent-Patterns/pyllments-sub000/payload"
	"github.com/Prudent-Patterns/pyllments-sub000/telemetry"
)

// PackFunc builds the emitted payload from the currently staged items. items
// contains exactly the keys declared by RequiredItems. Per spec.md §9
// Design Notes, the kernel replaces dynamic introspection of a pack
// callback's parameters with this explicit mapping contract.
type PackFunc func(ctx context.Context, items map[string]any) (payload.Payload, error)

// OnConnectFunc is invoked once per newly connected input, after bookkeeping
// but before the connect call returns.
type OnConnectFunc func(ctx context.Context, output *OutputPort, input *InputPort) error

// ItemSpec declares one required staged item: its name, declared type, and
// whether an empty sequence is permitted for it.
type ItemSpec struct {
	Name           string
	Type           payload.Type
	AllowEmptySeq  bool
}

// OutputPort is a typed output endpoint bound to a containing Element
// (spec.md §3). Staged items accumulate until every required item is
// present, at which point (if EmitWhenReady) the port packs and enqueues a
// payload for ordered, per-edge-serialized delivery to its connected
// inputs.
type OutputPort struct {
	name          string
	element       *Element
	payloadType   payload.Type
	requiredItems []ItemSpec
	pack          PackFunc
	onConnect     OnConnectFunc
	emitWhenReady bool
	logger        telemetry.Logger
	tracer        telemetry.Tracer
	metrics       telemetry.Metrics
	lifecycleMgr  *lifecycle.Manager

	mu            sync.Mutex
	staged        map[string]any
	provenValid   map[string]bool
	closed        bool
	closeOnce     sync.Once

	connMu          sync.RWMutex
	connectedInputs []*InputPort

	queue    *emitQueue
	doneCh   chan struct{}
	registration *lifecycle.Registration
}

// OutputOption configures an OutputPort at construction time.
type OutputOption func(*OutputPort)

// WithCapacity bounds the emission queue to the given number of pending
// payloads; Emit blocks once the queue is full (spec.md §5 Backpressure).
// Zero (the default) means unbounded.
func WithCapacity(n int) OutputOption {
	return func(p *OutputPort) { p.queue = newEmitQueue(n) }
}

// WithEmitWhenReady controls whether the port auto-emits as soon as every
// required item is staged. Defaults to true per spec.md §3.
func WithEmitWhenReady(v bool) OutputOption {
	return func(p *OutputPort) { p.emitWhenReady = v }
}

// WithOnConnect sets the hook fired once per newly connected input.
func WithOnConnect(fn OnConnectFunc) OutputOption {
	return func(p *OutputPort) { p.onConnect = fn }
}

// WithOutputLogger sets the Logger used for shutdown/drop diagnostics.
func WithOutputLogger(l telemetry.Logger) OutputOption {
	return func(p *OutputPort) { p.logger = l }
}

// WithTelemetry sets the Tracer and Metrics used around emit/receive.
func WithTelemetry(t telemetry.Tracer, m telemetry.Metrics) OutputOption {
	return func(p *OutputPort) { p.tracer = t; p.metrics = m }
}

// WithLifecycle registers the port with mgr instead of the process-wide
// default, so isolated test runs don't leak into shared shutdown state.
func WithLifecycle(mgr *lifecycle.Manager) OutputOption {
	return func(p *OutputPort) { p.lifecycleMgr = mgr }
}

// NewOutput constructs an OutputPort owned by element, registers it in the
// element's Ports directory under name, and registers it with the
// lifecycle.Manager (spec.md §4.1 Connect step 7 names registration as part
// of connect, but since every output needs registration regardless of
// whether anything ever connects to it, this implementation registers at
// construction, which also covers never-connected outputs during shutdown).
func NewOutput(element *Element, name string, payloadType payload.Type, required []ItemSpec, pack PackFunc, opts ...OutputOption) *OutputPort {
	p := &OutputPort{
		name:          name,
		element:       element,
		payloadType:   payloadType,
		requiredItems: required,
		pack:          pack,
		emitWhenReady: true,
		logger:        telemetry.NoopLogger{},
		tracer:        telemetry.NoopTracer{},
		metrics:       telemetry.NoopMetrics{},
		staged:        make(map[string]any),
		provenValid:   make(map[string]bool),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.queue == nil {
		p.queue = newEmitQueue(0)
	}
	if p.lifecycleMgr == nil {
		p.lifecycleMgr = lifecycle.Default()
	}
	p.registration = p.lifecycleMgr.Register(p)

	element.Ports.addOutput(p)
	go p.consume()
	return p
}

// Name returns the port's name.
func (p *OutputPort) Name() string { return p.name }

// Element returns the containing Element.
func (p *OutputPort) Element() *Element { return p.element }

// PayloadType returns the output's declared type.
func (p *OutputPort) PayloadType() payload.Type { return p.payloadType }

// ConnectedInputs returns the connected inputs in connection order.
func (p *OutputPort) ConnectedInputs() []*InputPort {
	p.connMu.RLock()
	defer p.connMu.RUnlock()
	return append([]*InputPort(nil), p.connectedInputs...)
}

// Connect wires output to each of inputs in order, validating compatibility
// and recording bookkeeping on both endpoints (spec.md §4.1 Connect). It is
// the Go analogue of the `output > input` / `output > [inputs...]` operator
// notation from spec.md §6 (Go has no operator overloading).
func (p *OutputPort) Connect(ctx context.Context, inputs ...*InputPort) error {
	for _, in := range inputs {
		if err := p.connectOne(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

func (p *OutputPort) connectOne(ctx context.Context, in *InputPort) error {
	if in == nil {
		return &kernelerr.WrongEndpointKind{Expected: "*InputPort", Got: "nil"}
	}
	if !payload.Compatible(p.payloadType, in.payloadType) {
		return &kernelerr.IncompatibleTypes{
			OutputType: p.payloadType.String(),
			InputType:  in.payloadType.String(),
			Producer:   p.element.Name,
			Consumer:   in.element.Name,
		}
	}

	p.connMu.Lock()
	p.connectedInputs = append(p.connectedInputs, in)
	p.connMu.Unlock()

	in.recordConnection(p)

	if p.onConnect != nil {
		if err := p.onConnect(ctx, p, in); err != nil {
			return err
		}
	}
	return nil
}

// Stage assigns items into the output's staged slots, validating each
// against its declared required-item type unless that item name has
// already been proven valid for this output (spec.md §4.1 Stage). If every
// required slot is filled after this call, the port is emit-ready; when
// EmitWhenReady, Emit is invoked immediately.
func (p *OutputPort) Stage(ctx context.Context, items map[string]any) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return &kernelerr.PortClosed{Port: p.name}
	}

	specByName := make(map[string]ItemSpec, len(p.requiredItems))
	for _, spec := range p.requiredItems {
		specByName[spec.Name] = spec
	}

	for name, val := range items {
		spec, declared := specByName[name]
		if !declared {
			// Extra keys beyond the declared required items are accepted
			// without validation, matching free-form passthrough kwargs.
			p.staged[name] = val
			continue
		}
		if spec.Type.Kind != payload.KindAny && !p.provenValid[name] {
			if err := payload.ValidateValue(val, spec.Type, spec.AllowEmptySeq); err != nil {
				p.mu.Unlock()
				return &kernelerr.StagingTypeError{
					Output: p.name, Item: name,
					Want: spec.Type.String(), Got: payload.ValueType(val).String(),
				}
			}
			p.provenValid[name] = true
		}
		p.staged[name] = val
	}

	ready := p.isReadyLocked()
	shouldEmit := ready && p.emitWhenReady
	p.mu.Unlock()

	if shouldEmit {
		return p.Emit(ctx)
	}
	return nil
}

func (p *OutputPort) isReadyLocked() bool {
	for _, spec := range p.requiredItems {
		if _, ok := p.staged[spec.Name]; !ok {
			return false
		}
	}
	return true
}

// Emit packs the currently staged items via PackFunc and enqueues the
// resulting payload for ordered delivery, then clears all staged items and
// marks the port not ready (spec.md §4.1 Emit).
func (p *OutputPort) Emit(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return &kernelerr.PortClosed{Port: p.name}
	}
	if p.pack == nil {
		p.mu.Unlock()
		return &kernelerr.MissingCallback{Port: p.name, Kind: "pack"}
	}
	if !p.isReadyLocked() {
		p.mu.Unlock()
		return nil
	}
	items := make(map[string]any, len(p.staged))
	for k, v := range p.staged {
		items[k] = v
	}
	p.staged = make(map[string]any)
	p.mu.Unlock()

	ctx, span := p.tracer.StartSpan(ctx, "ports.Emit:"+p.name)
	defer span.End()

	val, err := p.pack(ctx, items)
	if err != nil {
		span.SetError(err)
		p.logger.Error(ctx, "ports: pack callback failed", "output", p.name, "error", err)
		return err
	}

	if !p.queue.push(val) {
		return &kernelerr.PortClosed{Port: p.name}
	}
	p.metrics.IncCounter("ports.emitted", map[string]string{"output": p.name})
	return nil
}

// EmitValue stages and emits a single already-built payload in one step. It
// is the mechanism behind FlowController output ports, whose pack callback
// is the identity: the caller emits a value directly via
// flow_ports[name].emit(value), bypassing named-item staging entirely
// (spec.md §4.2 "Output flow ports").
func (p *OutputPort) EmitValue(ctx context.Context, v payload.Payload) error {
	return p.Stage(ctx, map[string]any{"payload": v})
}

// consume is the output's single dedicated queue-draining goroutine
// (spec.md §4.1 Emit: "A single dedicated consumer per output drains the
// queue"). For each dequeued payload it delivers to every connected input
// in connection order, awaiting each input's Receive before moving to the
// next input and then to the next queued payload — guaranteeing FIFO per
// edge, FIFO across connected inputs for a given emission, and no overlap
// of two emissions from the same output.
func (p *OutputPort) consume() {
	defer close(p.doneCh)
	for {
		v, ok := p.queue.pop()
		if !ok {
			return
		}
		pv, ok := v.(payload.Payload)
		if !ok {
			continue
		}
		ctx := context.Background()
		for _, in := range p.ConnectedInputs() {
			if err := in.Receive(ctx, pv, p); err != nil {
				p.logger.Error(ctx, "ports: receive failed, dropping payload",
					"output", p.name, "input", in.name, "error", err)
			}
		}
	}
}

// Close stops accepting new stage/emit calls, drains the emission queue
// with a bounded wait for the consumer goroutine to finish any in-flight
// delivery (discarding and logging anything left queued), and releases
// references to connected inputs (spec.md §4.1 Close), and removes the port
// from its lifecycle.Manager's registry. Close is idempotent.
func (p *OutputPort) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		discarded := p.queue.closeAndDrain()
		if len(discarded) > 0 {
			p.logger.Error(ctx, "ports: discarding queued payloads on close",
				"output", p.name, "count", len(discarded))
		}

		timeout := 5 * time.Second
		if dl, ok := ctx.Deadline(); ok {
			if d := time.Until(dl); d > 0 {
				timeout = d
			}
		}
		select {
		case <-p.doneCh:
		case <-time.After(timeout):
			p.logger.Error(ctx, "ports: consumer did not finish within shutdown timeout", "output", p.name)
		}

		p.connMu.Lock()
		p.connectedInputs = nil
		p.connMu.Unlock()

		if p.registration != nil {
			p.registration.Close()
		}
	})
	return nil
}
