// Package oteltelemetry adapts deliberation.Telemetry/deliberation.Span
// onto the OpenTelemetry SDK, in the same shape as the teacher's
// telemetry.OTelProvider: one tracer-provider/meter-provider pair built at
// construction time, set as the process globals, with an idempotent
// sync.Once-guarded Shutdown. Where the teacher exports both signals over
// OTLP/HTTP, this adapter exports over OTLP/gRPC (the exporter family this
// module actually depends on) and falls back to a stdout trace exporter
// when no collector endpoint is configured, so a span-per-phase demo run
// still produces visible output with nothing listening on 4317.
package oteltelemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/hoyack/archon72-sub000/deliberation"
)

const instrumentationName = "archon72-deliberation"

// Telemetry implements deliberation.Telemetry over an OTel tracer and
// meter. A zero value is not usable; construct with New.
type Telemetry struct {
	tracer         trace.Tracer
	meter          metric.Meter
	traceProvider  *sdktrace.TracerProvider
	metricProvider *sdkmetric.MeterProvider

	mu          sync.Mutex
	histograms  map[string]metric.Float64Histogram
	counters    map[string]metric.Float64Counter

	shutdownOnce sync.Once
}

// New builds a Telemetry exporting traces and metrics to endpoint over
// OTLP/gRPC. An empty endpoint builds a stdout trace exporter instead (no
// metrics are exported in that mode) — useful for the reference binary's
// demo runs where no collector is assumed to be listening.
func New(serviceName, endpoint string) (*Telemetry, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("oteltelemetry: service name cannot be empty")
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	ctx := context.Background()

	var tracerOpt sdktrace.TracerProviderOption
	var mp *sdkmetric.MeterProvider

	if endpoint == "" {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("oteltelemetry: creating stdout trace exporter: %w", err)
		}
		tracerOpt = sdktrace.WithBatcher(exporter)
		mp = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	} else {
		traceExporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("oteltelemetry: creating OTLP/gRPC trace exporter for %s: %w", endpoint, err)
		}
		tracerOpt = sdktrace.WithBatcher(traceExporter)

		metricExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			_ = traceExporter.Shutdown(ctx)
			return nil, fmt.Errorf("oteltelemetry: creating OTLP/gRPC metric exporter for %s: %w", endpoint, err)
		}
		mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))),
			sdkmetric.WithResource(res),
		)
	}

	tp := sdktrace.NewTracerProvider(tracerOpt, sdktrace.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Telemetry{
		tracer:         tp.Tracer(instrumentationName),
		meter:          mp.Meter(instrumentationName),
		traceProvider:  tp,
		metricProvider: mp,
		histograms:     make(map[string]metric.Float64Histogram),
		counters:       make(map[string]metric.Float64Counter),
	}, nil
}

// StartSpan opens a span under the given name; the deliberation package
// calls it once per Orchestrate call and once per TimeoutHandler
// Schedule/Cancel/Handle.
func (t *Telemetry) StartSpan(ctx context.Context, name string) (context.Context, deliberation.Span) {
	if t == nil || t.tracer == nil {
		return ctx, deliberation.NoOpSpan{}
	}
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric routes to a histogram or counter instrument by name
// heuristic — duration/latency-shaped names get a histogram, count/total
// shaped names get a counter, for names in the style of
// deliberation.rounds / deliberation.phase_duration_ms.
func (t *Telemetry) RecordMetric(name string, value float64, labels map[string]string) {
	if t == nil || t.meter == nil {
		return
	}
	var attrs []attribute.KeyValue
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}

	if isDurationMetric(name) {
		hist := t.histogramFor(name)
		if hist != nil {
			hist.Record(context.Background(), value, metric.WithAttributes(attrs...))
		}
		return
	}
	counter := t.counterFor(name)
	if counter != nil {
		counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
	}
}

func isDurationMetric(name string) bool {
	for _, suffix := range []string{"_ms", "_seconds", "_duration"} {
		if hasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func hasSuffix(name, suffix string) bool {
	return len(name) >= len(suffix) && name[len(name)-len(suffix):] == suffix
}

func (t *Telemetry) histogramFor(name string) metric.Float64Histogram {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.histograms[name]; ok {
		return h
	}
	h, err := t.meter.Float64Histogram(name)
	if err != nil {
		return nil
	}
	t.histograms[name] = h
	return h
}

func (t *Telemetry) counterFor(name string) metric.Float64Counter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.counters[name]; ok {
		return c
	}
	c, err := t.meter.Float64Counter(name)
	if err != nil {
		return nil
	}
	t.counters[name] = c
	return c
}

// Shutdown flushes and stops both providers. Safe to call more than once.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var err error
	t.shutdownOnce.Do(func() {
		var errs []error
		if t.metricProvider != nil {
			if shutdownErr := t.metricProvider.Shutdown(ctx); shutdownErr != nil {
				errs = append(errs, shutdownErr)
			}
		}
		if t.traceProvider != nil {
			if shutdownErr := t.traceProvider.Shutdown(ctx); shutdownErr != nil {
				errs = append(errs, shutdownErr)
			}
		}
		if len(errs) > 0 {
			err = fmt.Errorf("oteltelemetry: shutdown errors: %v", errs)
		}
	})
	return err
}

// otelSpan adapts an OTel trace.Span to deliberation.Span.
type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) { s.span.RecordError(err) }

var _ deliberation.Telemetry = (*Telemetry)(nil)
var _ deliberation.Span = (*otelSpan)(nil)
