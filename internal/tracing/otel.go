package tracing

import (
	"context"
	"os"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// runtimeVersion is stamped onto every span's resource.
const runtimeVersion = "0.1.0"

// samplerRatioEnv overrides the default sample-everything policy,
// e.g. AYATORI_TRACE_RATIO=0.1 for one span in ten.
const samplerRatioEnv = "AYATORI_TRACE_RATIO"

// Span attribute keys shared by the runtime's spans.
const (
	AttrSessionID = attribute.Key("ayatori.session_id")
	AttrRunID     = attribute.Key("ayatori.run_id")
	AttrTool      = attribute.Key("ayatori.tool")
)

var (
	providerOnce sync.Once
	providerMu   sync.RWMutex
	provider     *sdktrace.TracerProvider
	providerErr  error
)

// InitOpenTelemetry initializes a process-wide OpenTelemetry tracer
// provider carrying the runtime's identity. It is safe to call
// multiple times.
func InitOpenTelemetry(serviceName string) error {
	providerOnce.Do(func() {
		hostname, _ := os.Hostname()
		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
				semconv.ServiceVersion(runtimeVersion),
				semconv.HostName(hostname),
			),
		)
		if err != nil {
			providerErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sampler())),
			sdktrace.WithResource(res),
		)

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return providerErr
}

func sampler() sdktrace.Sampler {
	ratio := 1.0
	if raw := os.Getenv(samplerRatioEnv); raw != "" {
		if parsed, ok := parseRatio(raw); ok {
			ratio = parsed
		}
	}
	return sdktrace.TraceIDRatioBased(ratio)
}

func parseRatio(raw string) (float64, bool) {
	// Accepts 0..1; anything else keeps sampling everything.
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		return 0, false
	}
	return v, true
}

// ShutdownOpenTelemetry flushes and shuts down the global tracer provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span and propagates its trace ID into this package's
// context keys so log lines and spans share an identifier.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		sc := span.SpanContext()
		if sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}

// StartRunSpan starts the span covering one unit of work, tagged with
// the session and run identifiers.
func StartRunSpan(ctx context.Context, tracerName, sessionID, runID string) (context.Context, trace.Span) {
	return StartSpan(ctx, tracerName, "agent.run",
		AttrSessionID.String(sessionID),
		AttrRunID.String(runID),
	)
}
