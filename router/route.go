package router

import (
	"encoding/json"
	"sync"

	"github.com/Prudent-Patterns/pyllments-sub000/payload"
	"github.com/Prudent-Patterns/pyllments-sub000/ports"
)

// TransformFunc converts a route's parsed sub-value into the route's
// declared output payload. The default, when unset, wraps value in a
// StructuredValue (spec.md §4.4 "transform... Default is to wrap the
// parsed value into a generic structured payload").
type TransformFunc func(value any) (payload.Payload, error)

// RouteOption configures a Route at construction time.
type RouteOption func(*Route)

// WithStaticSchema sets the route's sub-schema once, from a JSON Schema
// document (the Go analogue of the source's `pydantic_model`/explicit
// `payload_type` schema sources).
func WithStaticSchema(raw json.RawMessage) RouteOption {
	return func(r *Route) { r.staticSchema = raw }
}

// WithDynamicSchema exposes a `<route>_schema_input` port whose receipts
// update this route's sub-schema and trigger root-schema recomposition
// (spec.md §4.4 "Schema inputs").
func WithDynamicSchema() RouteOption {
	return func(r *Route) { r.dynamicSchema = true }
}

// WithTransform overrides the default structured-value wrapping.
func WithTransform(fn TransformFunc) RouteOption {
	return func(r *Route) { r.transform = fn }
}

// WithPeers pre-connects the route's output to the given inputs.
func WithPeers(peers ...*ports.InputPort) RouteOption {
	return func(r *Route) { r.peers = peers }
}

// Route declares one entry in the routing map: its discriminant name, its
// output payload type, its sub-schema source, and how a matched value is
// transformed before emission.
type Route struct {
	Name        string
	PayloadType payload.Type

	transform     TransformFunc
	peers         []*ports.InputPort
	staticSchema  json.RawMessage
	dynamicSchema bool

	mu        sync.Mutex
	schemaDoc any
	output    *ports.OutputPort
	schemaIn  *ports.InputPort
}

// NewRoute constructs a Route.
func NewRoute(name string, payloadType payload.Type, opts ...RouteOption) *Route {
	r := &Route{Name: name, PayloadType: payloadType}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Route) init() error {
	if len(r.staticSchema) == 0 {
		return nil
	}
	doc, err := decodeJSON(r.staticSchema)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.schemaDoc = doc
	r.mu.Unlock()
	return nil
}

// currentSubSchema returns the route's current decoded sub-schema, or nil
// if a dynamic schema hasn't arrived yet.
func (r *Route) currentSubSchema() (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.schemaDoc, nil
}

func (r *Route) setSchema(doc any) {
	r.mu.Lock()
	r.schemaDoc = doc
	r.mu.Unlock()
}

func (r *Route) wrap(value any) (payload.Payload, error) {
	if r.transform != nil {
		return r.transform(value)
	}
	return StructuredValue{Type: r.PayloadType, Value: value}, nil
}
