package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Prudent-Patterns/pyllments-sub000/kernelerr"
	"github.com/Prudent-Patterns/pyllments-sub000/payload"
	"github.com/Prudent-Patterns/pyllments-sub000/ports"
	"github.com/Prudent-Patterns/pyllments-sub000/telemetry"
)

// Option configures a Transformer at construction time.
type Option func(*Transformer)

// WithLogger sets the Logger used for parse/validation/routing failures.
func WithLogger(l telemetry.Logger) Option {
	return func(t *Transformer) { t.logger = l }
}

// WithFailureLogRate bounds how often routing failures are logged, instead
// of once per message (spec.md §4.4 "Repeated failures are rate-limited in
// the log").
func WithFailureLogRate(r rate.Limit, burst int) Option {
	return func(t *Transformer) { t.limiter = rate.NewLimiter(r, burst) }
}

// Transformer is the concrete StructuredRouterTransformer: a composed root
// schema validating incoming JSON, demultiplexed to per-route outputs
// (spec.md §4.4).
type Transformer struct {
	element *ports.Element
	logger  telemetry.Logger
	limiter *rate.Limiter

	routes map[string]*Route
	order  []string

	messageInput *ports.InputPort
	schemaOutput *ports.OutputPort

	mu       sync.Mutex
	compiled compiledSchema
}

// New expands routes into concrete ports on element: one output per route,
// a `<route>_schema_input` for each dynamic route, `message_input`, and
// `schema_output`.
func New(element *ports.Element, routes []*Route, opts ...Option) (*Transformer, error) {
	t := &Transformer{
		element: element,
		logger:  telemetry.NoopLogger{},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		routes:  make(map[string]*Route, len(routes)),
	}
	for _, opt := range opts {
		opt(t)
	}

	for _, r := range routes {
		if _, dup := t.routes[r.Name]; dup {
			return nil, &kernelerr.ConfigurationError{Component: "router", Message: fmt.Sprintf("duplicate route name %q", r.Name)}
		}
		if err := r.init(); err != nil {
			return nil, &kernelerr.ConfigurationError{Component: "router", Message: fmt.Sprintf("route %q schema", r.Name), Cause: err}
		}
		t.routes[r.Name] = r
		t.order = append(t.order, r.Name)
	}

	for _, name := range t.order {
		r := t.routes[name]
		r.output = ports.NewOutput(element, name, r.PayloadType, nil, identityPack)
		if len(r.peers) > 0 {
			if err := r.output.Connect(context.Background(), r.peers...); err != nil {
				return nil, err
			}
		}
		if r.dynamicSchema {
			rr := r
			r.schemaIn = ports.NewInput(element, name+"_schema_input", payload.TypeSchema, func(ctx context.Context, v any) error {
				return t.handleSchemaUpdate(ctx, rr, v)
			})
		}
	}

	t.schemaOutput = ports.NewOutput(element, "schema_output", payload.TypeSchema, nil, identitySchemaPack,
		ports.WithOnConnect(t.sendCurrentSchemaTo))

	t.messageInput = ports.NewInput(element, "message_input", payload.TypeMessage, t.handleMessage)

	if err := t.recompose(); err != nil {
		t.logger.Error(context.Background(), "router: initial schema composition failed", "error", err)
	}

	return t, nil
}

func identityPack(ctx context.Context, items map[string]any) (payload.Payload, error) {
	v, ok := items["payload"].(payload.Payload)
	if !ok {
		return nil, fmt.Errorf("router: staged value is not a payload")
	}
	return v, nil
}

func identitySchemaPack(ctx context.Context, items map[string]any) (payload.Payload, error) {
	v, ok := items["payload"].(payload.Schema)
	if !ok {
		return nil, fmt.Errorf("router: staged schema value is not a Schema")
	}
	return v, nil
}

// Output returns the named route's output port.
func (t *Transformer) Output(name string) (*ports.OutputPort, bool) {
	r, ok := t.routes[name]
	if !ok {
		return nil, false
	}
	return r.output, true
}

// SchemaOutput returns the schema_output port.
func (t *Transformer) SchemaOutput() *ports.OutputPort { return t.schemaOutput }

// MessageInput returns message_input.
func (t *Transformer) MessageInput() *ports.InputPort { return t.messageInput }

// SchemaInput returns the `<route>_schema_input` port for a dynamic route.
func (t *Transformer) SchemaInput(routeName string) (*ports.InputPort, bool) {
	r, ok := t.routes[routeName]
	if !ok || r.schemaIn == nil {
		return nil, false
	}
	return r.schemaIn, true
}

type compiledSchema struct {
	doc    map[string]any
	schema schemaValidator
}

// schemaValidator narrows *jsonschema.Schema to the one method this package
// calls.
type schemaValidator interface {
	Validate(v any) error
}

func (t *Transformer) handleSchemaUpdate(ctx context.Context, r *Route, v any) error {
	s, ok := v.(payload.Schema)
	if !ok {
		return fmt.Errorf("router: schema input received non-Schema value %T", v)
	}
	doc, err := decodeJSON(s.JSON)
	if err != nil {
		return &kernelerr.ConfigurationError{Component: "router", Message: fmt.Sprintf("route %q schema update", r.Name), Cause: err}
	}
	r.setSchema(doc)
	if err := t.recompose(); err != nil {
		t.logger.Error(ctx, "router: schema recomposition failed", "route", r.Name, "error", err)
		return err
	}
	return t.emitCurrentSchema(ctx)
}

// recompose rebuilds and compiles the root schema from every route's
// current sub-schema (spec.md §4.4 "on construction and whenever any
// sub-schema changes").
func (t *Transformer) recompose() error {
	doc, err := composeRootSchema(t.routes, t.order)
	if err != nil {
		return err
	}
	var compiled *jsonschemaSchema
	if len(doc["oneOf"].([]any)) > 0 {
		s, err := compile(doc)
		if err != nil {
			return err
		}
		compiled = &jsonschemaSchema{s}
	}
	t.mu.Lock()
	t.compiled = compiledSchema{doc: doc}
	if compiled != nil {
		t.compiled.schema = compiled
	}
	t.mu.Unlock()
	return nil
}

func (t *Transformer) currentSchemaJSON() ([]byte, error) {
	t.mu.Lock()
	doc := t.compiled.doc
	t.mu.Unlock()
	return json.Marshal(doc)
}

func (t *Transformer) emitCurrentSchema(ctx context.Context) error {
	raw, err := t.currentSchemaJSON()
	if err != nil {
		return err
	}
	return t.schemaOutput.EmitValue(ctx, payload.Schema{Name: "router_root", JSON: raw})
}

// sendCurrentSchemaTo delivers the current composed schema directly to a
// newly connected schema_output consumer, without resending to every
// previously connected one (spec.md §4.4 "emits the current root schema
// through a schema_output port on connect and on change").
func (t *Transformer) sendCurrentSchemaTo(ctx context.Context, out *ports.OutputPort, in *ports.InputPort) error {
	raw, err := t.currentSchemaJSON()
	if err != nil {
		return err
	}
	return in.Receive(ctx, payload.Schema{Name: "router_root", JSON: raw}, out)
}

// handleMessage implements spec.md §4.4's dispatch algorithm.
func (t *Transformer) handleMessage(ctx context.Context, v any) error {
	msg, ok := v.(payload.Message)
	if !ok {
		return fmt.Errorf("router: message_input received non-Message value %T", v)
	}
	text, err := msg.Text()
	if err != nil {
		t.logFailure(ctx, "router: failed to resolve message text", "error", err)
		return nil
	}

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		t.logFailure(ctx, "router: JSON parse failed", "error", err)
		return nil
	}

	t.mu.Lock()
	validator := t.compiled.schema
	t.mu.Unlock()
	if validator == nil {
		t.logFailure(ctx, "router: no routes with a composed schema yet")
		return nil
	}
	if err := validator.Validate(doc); err != nil {
		t.logFailure(ctx, "router: schema violation", "error", &kernelerr.SchemaViolation{Cause: err})
		return nil
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		t.logFailure(ctx, "router: parsed value is not a JSON object")
		return nil
	}
	routeName, _ := obj["route"].(string)
	r, ok := t.routes[routeName]
	if !ok {
		t.logFailure(ctx, "router: unknown route", "error", &kernelerr.UnknownRoute{Route: routeName})
		return nil
	}

	subValue := obj[routeName]
	out, err := r.wrap(subValue)
	if err != nil {
		t.logFailure(ctx, "router: transform failed", "route", routeName, "error", err)
		return nil
	}
	if err := r.output.EmitValue(ctx, out); err != nil {
		t.logFailure(ctx, "router: emit failed", "route", routeName, "error", err)
	}
	return nil
}

func (t *Transformer) logFailure(ctx context.Context, msg string, keyvals ...any) {
	if !t.limiter.Allow() {
		return
	}
	t.logger.Error(ctx, msg, keyvals...)
}
