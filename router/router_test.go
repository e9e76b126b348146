package router_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Prudent-Patterns/pyllments-sub000/kernelerr"
	"github.com/Prudent-Patterns/pyllments-sub000/payload"
	"github.com/Prudent-Patterns/pyllments-sub000/ports"
	"github.com/Prudent-Patterns/pyllments-sub000/router"
)

var weatherType = payload.Scalar("WeatherQuery")
var searchType = payload.Scalar("SearchQuery")

func weatherSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)
}

func searchSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`)
}

func sendJSON(t *testing.T, in *ports.InputPort, out *ports.OutputPort, text string) {
	t.Helper()
	require.NoError(t, in.Receive(context.Background(), payload.NewTextMessage("user", text), out))
}

func TestDispatchesToMatchingRoute(t *testing.T) {
	el := ports.NewElement("router")

	weatherSink := ports.NewElement("weather_sink")
	var gotWeather payload.Payload
	weatherIn := ports.NewInput(weatherSink, "in", weatherType, func(ctx context.Context, v any) error {
		gotWeather = v.(payload.Payload)
		return nil
	})

	searchSink := ports.NewElement("search_sink")
	searchIn := ports.NewInput(searchSink, "in", searchType, func(ctx context.Context, v any) error {
		return nil
	})

	weather := router.NewRoute("weather", weatherType,
		router.WithStaticSchema(weatherSchema()), router.WithPeers(weatherIn))
	search := router.NewRoute("search", searchType,
		router.WithStaticSchema(searchSchema()), router.WithPeers(searchIn))

	tr, err := router.New(el, []*router.Route{weather, search})
	require.NoError(t, err)

	src := ports.NewElement("source")
	out := ports.NewOutput(src, "out", payload.TypeMessage, nil, func(ctx context.Context, items map[string]any) (payload.Payload, error) {
		return items["payload"].(payload.Payload), nil
	})
	require.NoError(t, out.Connect(context.Background(), tr.MessageInput()))

	sendJSON(t, tr.MessageInput(), out, `{"route":"weather","weather":{"city":"Boston"}}`)

	require.Eventually(t, func() bool { return gotWeather != nil }, time.Second, time.Millisecond)
	sv, ok := gotWeather.(router.StructuredValue)
	require.True(t, ok)
	m := sv.Value.(map[string]any)
	require.Equal(t, "Boston", m["city"])
}

func TestUnknownRouteIsRejected(t *testing.T) {
	el := ports.NewElement("router")
	weather := router.NewRoute("weather", weatherType, router.WithStaticSchema(weatherSchema()))
	tr, err := router.New(el, []*router.Route{weather})
	require.NoError(t, err)

	src := ports.NewElement("source")
	out := ports.NewOutput(src, "out", payload.TypeMessage, nil, func(ctx context.Context, items map[string]any) (payload.Payload, error) {
		return items["payload"].(payload.Payload), nil
	})
	require.NoError(t, out.Connect(context.Background(), tr.MessageInput()))

	// A conforming oneOf member doesn't exist for "bogus", so the composed
	// schema itself rejects it before the route lookup ever runs; the
	// message is logged and dropped rather than returned as an error.
	err = tr.MessageInput().Receive(context.Background(), payload.NewTextMessage("user", `{"route":"bogus","bogus":{}}`), out)
	require.NoError(t, err, "handleMessage swallows routing failures, it does not return them to the caller")
}

func TestSchemaViolationIsSwallowedNotPanicked(t *testing.T) {
	el := ports.NewElement("router")
	weather := router.NewRoute("weather", weatherType, router.WithStaticSchema(weatherSchema()))
	tr, err := router.New(el, []*router.Route{weather})
	require.NoError(t, err)

	src := ports.NewElement("source")
	out := ports.NewOutput(src, "out", payload.TypeMessage, nil, func(ctx context.Context, items map[string]any) (payload.Payload, error) {
		return items["payload"].(payload.Payload), nil
	})
	require.NoError(t, out.Connect(context.Background(), tr.MessageInput()))

	err = tr.MessageInput().Receive(context.Background(), payload.NewTextMessage("user", `{"route":"weather","weather":{}}`), out)
	require.NoError(t, err)
}

func TestMalformedJSONIsSwallowed(t *testing.T) {
	el := ports.NewElement("router")
	weather := router.NewRoute("weather", weatherType, router.WithStaticSchema(weatherSchema()))
	tr, err := router.New(el, []*router.Route{weather})
	require.NoError(t, err)

	src := ports.NewElement("source")
	out := ports.NewOutput(src, "out", payload.TypeMessage, nil, func(ctx context.Context, items map[string]any) (payload.Payload, error) {
		return items["payload"].(payload.Payload), nil
	})
	require.NoError(t, out.Connect(context.Background(), tr.MessageInput()))

	err = tr.MessageInput().Receive(context.Background(), payload.NewTextMessage("user", `not json`), out)
	require.NoError(t, err)
}

func TestDynamicSchemaInputUpdatesRouting(t *testing.T) {
	el := ports.NewElement("router")

	sink := ports.NewElement("sink")
	var got payload.Payload
	sinkIn := ports.NewInput(sink, "in", searchType, func(ctx context.Context, v any) error {
		got = v.(payload.Payload)
		return nil
	})

	search := router.NewRoute("search", searchType, router.WithDynamicSchema(), router.WithPeers(sinkIn))
	tr, err := router.New(el, []*router.Route{search})
	require.NoError(t, err)

	schemaSrc := ports.NewElement("schema_source")
	schemaOut := ports.NewOutput(schemaSrc, "out", payload.TypeSchema, nil, func(ctx context.Context, items map[string]any) (payload.Payload, error) {
		return items["payload"].(payload.Payload), nil
	})
	schemaIn, ok := tr.SchemaInput("search")
	require.True(t, ok)
	require.NoError(t, schemaOut.Connect(context.Background(), schemaIn))

	require.NoError(t, schemaOut.EmitValue(context.Background(), payload.Schema{Name: "search", JSON: searchSchema()}))
	time.Sleep(50 * time.Millisecond)

	msgSrc := ports.NewElement("msg_source")
	msgOut := ports.NewOutput(msgSrc, "out", payload.TypeMessage, nil, func(ctx context.Context, items map[string]any) (payload.Payload, error) {
		return items["payload"].(payload.Payload), nil
	})
	require.NoError(t, msgOut.Connect(context.Background(), tr.MessageInput()))

	require.NoError(t, tr.MessageInput().Receive(context.Background(),
		payload.NewTextMessage("user", `{"route":"search","search":{"query":"weather"}}`), msgOut))

	require.Eventually(t, func() bool { return got != nil }, time.Second, time.Millisecond)
}

func TestSchemaOutputSendsCurrentSchemaOnConnect(t *testing.T) {
	el := ports.NewElement("router")
	weather := router.NewRoute("weather", weatherType, router.WithStaticSchema(weatherSchema()))
	tr, err := router.New(el, []*router.Route{weather})
	require.NoError(t, err)

	sink := ports.NewElement("schema_sink")
	received := make(chan payload.Schema, 1)
	sinkIn := ports.NewInput(sink, "in", payload.TypeSchema, func(ctx context.Context, v any) error {
		received <- v.(payload.Schema)
		return nil
	})

	require.NoError(t, tr.SchemaOutput().Connect(context.Background(), sinkIn))

	select {
	case s := <-received:
		require.Contains(t, string(s.JSON), "weather")
	case <-time.After(time.Second):
		t.Fatal("schema_output did not deliver current schema on connect")
	}
}

func TestDuplicateRouteNameRejected(t *testing.T) {
	el := ports.NewElement("router")
	a := router.NewRoute("weather", weatherType, router.WithStaticSchema(weatherSchema()))
	b := router.NewRoute("weather", weatherType, router.WithStaticSchema(weatherSchema()))
	_, err := router.New(el, []*router.Route{a, b})
	require.Error(t, err)
	var cfgErr *kernelerr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
