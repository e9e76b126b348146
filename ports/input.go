package ports

import (
	"context"
	"sync"

	"github.com/Prudent-Patterns/pyllments-sub000/kernelerr"
	"github.com/Prudent-Patterns/pyllments-sub000/payload"
	"github.com/Prudent-Patterns/pyllments-sub000/telemetry"
)

// UnpackFunc is invoked once per connected output port's emission, with the
// received value. It is the Go analogue of spec.md's unpack_callback: since
// Go has no separate sync/async function shape, a callback that would be
// "async" in the source simply performs blocking work (I/O, awaits) using
// ctx for cancellation — the kernel already runs it on its own goroutine.
type UnpackFunc func(ctx context.Context, v any) error

// InputPort is a typed input endpoint bound to a containing Element
// (spec.md §3). Receipt of a payload triggers exactly one invocation of
// UnpackFunc per connected output port's emission, serialized under mu: two
// emissions from different outputs may interleave at await points, but a
// single invocation of UnpackFunc is atomic with respect to others on the
// same InputPort (spec.md §5).
type InputPort struct {
	mu sync.Mutex

	name        string
	element     *Element
	payloadType payload.Type
	allowEmpty  bool
	unpack      UnpackFunc
	logger      telemetry.Logger

	// connectedOutputs is the ordered list of outputs connected to this
	// input, in connection order.
	connMu           sync.RWMutex
	connectedOutputs []*OutputPort
	validated        map[*OutputPort]bool
}

// InputOption configures an InputPort at construction time.
type InputOption func(*InputPort)

// WithInputLogger sets the Logger used for dropped-payload diagnostics.
func WithInputLogger(l telemetry.Logger) InputOption {
	return func(p *InputPort) { p.logger = l }
}

// AllowEmptySequence permits an empty sequence value to satisfy a
// sequence-typed input, overriding the spec.md §3 default that rejects
// empty sequences.
func AllowEmptySequence() InputOption {
	return func(p *InputPort) { p.allowEmpty = true }
}

// NewInput constructs an InputPort owned by element, registers it in the
// element's Ports directory under name, and returns it. payloadType is the
// input's declared type; unpack is invoked on each receipt.
func NewInput(element *Element, name string, payloadType payload.Type, unpack UnpackFunc, opts ...InputOption) *InputPort {
	p := &InputPort{
		name:        name,
		element:     element,
		payloadType: payloadType,
		unpack:      unpack,
		logger:      telemetry.NoopLogger{},
		validated:   make(map[*OutputPort]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	element.Ports.addInput(p)
	return p
}

// Name returns the port's name.
func (p *InputPort) Name() string { return p.name }

// Element returns the containing Element.
func (p *InputPort) Element() *Element { return p.element }

// PayloadType returns the input's declared type.
func (p *InputPort) PayloadType() payload.Type { return p.payloadType }

// ConnectedOutputs returns the outputs connected to this input, in
// connection order.
func (p *InputPort) ConnectedOutputs() []*OutputPort {
	p.connMu.RLock()
	defer p.connMu.RUnlock()
	return append([]*OutputPort(nil), p.connectedOutputs...)
}

// recordConnection appends from to connectedOutputs and initializes its
// validation-cache entry to false (spec.md §4.1 Connect step 4).
func (p *InputPort) recordConnection(from *OutputPort) {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	p.connectedOutputs = append(p.connectedOutputs, from)
	p.validated[from] = false
}

// isValidated reports whether from's first payload has already been proven
// to satisfy p's declared type (spec.md §3: "The first successful receipt
// from a given output port marks that edge as validated").
func (p *InputPort) isValidated(from *OutputPort) bool {
	p.connMu.RLock()
	defer p.connMu.RUnlock()
	return p.validated[from]
}

func (p *InputPort) markValidated(from *OutputPort) {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	p.validated[from] = true
}

// Receive implements spec.md §4.1 Receive: validates v against the input's
// declared type until the edge's first successful receipt, then invokes unpack
// under the per-input mutex so concurrent deliveries from different
// outputs never overlap on the same InputPort. Callback errors are caught,
// logged, and returned to the caller (the OutputPort's delivery loop treats
// them as non-fatal per spec.md §7).
func (p *InputPort) Receive(ctx context.Context, v any, from *OutputPort) error {
	if p.unpack == nil {
		return &kernelerr.MissingCallback{Port: p.name, Kind: "unpack"}
	}
	if !p.isValidated(from) {
		if err := payload.ValidateValue(v, p.payloadType, p.allowEmpty); err != nil {
			want := p.payloadType.String()
			got := payload.ValueType(v).String()
			return &kernelerr.ReceiveTypeError{
				Input: p.name, Output: from.name, Want: want, Got: got,
			}
		}
	}

	p.mu.Lock()
	err := p.unpack(ctx, v)
	p.mu.Unlock()

	if err != nil {
		p.logger.Error(ctx, "ports: unpack callback failed", "input", p.name, "output", from.name, "error", err)
		return err
	}

	p.markValidated(from)
	return nil
}
