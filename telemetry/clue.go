package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

type (
	// ClueLogger implements Logger by delegating to goa.design/clue/log. It
	// reads formatting/debug settings from the context (set via
	// log.Context/log.WithFormat/log.WithDebug by the embedding host).
	ClueLogger struct{}

	// OTelMetrics implements Metrics using an OTel meter.
	OTelMetrics struct {
		meter metric.Meter
	}

	// OTelTracer implements Tracer using an OTel tracer.
	OTelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewClueLogger constructs a Logger backed by goa.design/clue/log.
func NewClueLogger() Logger { return ClueLogger{} }

// NewOTelMetrics constructs a Metrics recorder using the global OTel
// MeterProvider, scoped to the dataflow kernel.
func NewOTelMetrics() Metrics {
	return &OTelMetrics{meter: otel.Meter("github.com/Prudent-Patterns/pyllments-sub000/ports")}
}

// NewOTelTracer constructs a Tracer using the global OTel TracerProvider,
// scoped to the dataflow kernel.
func NewOTelTracer() Tracer {
	return &OTelTracer{tracer: otel.Tracer("github.com/Prudent-Patterns/pyllments-sub000/ports")}
}

func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToFielders(keyvals)...)...)
}

func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToFielders(keyvals)...)...)
}

func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToFielders(keyvals)...)...)
}

func (m *OTelMetrics) IncCounter(name string, labels map[string]string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), 1, metric.WithAttributes(labelsToAttrs(labels)...))
}

func (m *OTelMetrics) ObserveDuration(name string, seconds float64, labels map[string]string) {
	hist, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	hist.Record(context.Background(), seconds, metric.WithAttributes(labelsToAttrs(labels)...))
}

func (t *OTelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name)
	return newCtx, &otelSpan{span: span}
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func kvToFielders(keyvals []any) []log.Fielder {
	var fielders []log.Fielder
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		fielders = append(fielders, log.KV{K: k, V: v})
	}
	return fielders
}

func labelsToAttrs(labels map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}
