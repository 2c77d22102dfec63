package common

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/xlayer/rpcrouter"

var (
	Version   = "dev"
	CommitSha = "none"
)

var (
	IsTracingEnabled bool

	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	initOnce       sync.Once
)

func InitializeTracing(ctx context.Context, logger *zerolog.Logger, cfg *TracingConfig) error {
	var err error

	initOnce.Do(func() {
		if cfg == nil || !cfg.Enabled {
			logger.Info().Msg("OpenTelemetry tracing is disabled")
			IsTracingEnabled = false
			return
		}

		logger.Info().
			Str("endpoint", cfg.Endpoint).
			Str("protocol", string(cfg.Protocol)).
			Str("serviceName", cfg.ServiceName).
			Float64("sampleRate", cfg.SampleRate).
			Msg("initializing OpenTelemetry tracing")

		var exporter sdktrace.SpanExporter
		switch cfg.Protocol {
		case TracingProtocolGrpc:
			exporter, err = createTracingGRPCExporter(ctx, cfg)
		case TracingProtocolHttp:
			exporter, err = createTracingHTTPExporter(ctx, cfg)
		default:
			err = fmt.Errorf("unsupported tracing protocol: %s", cfg.Protocol)
		}
		if err != nil {
			logger.Error().Err(err).Msg("failed to create span exporter")
			return
		}

		var res *resource.Resource
		res, err = resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceNameKey.String(cfg.ServiceName),
				semconv.ServiceVersionKey.String(Version),
				attribute.String("commit.sha", CommitSha),
			),
		)
		if err != nil {
			logger.Error().Err(err).Msg("failed to create resource")
			return
		}

		tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithSampler(createTracingSampler(cfg)),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))

		if logger.GetLevel() <= zerolog.DebugLevel {
			otel.SetLogger(zerologr.New(logger))
		}
		otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
			logger.Trace().Err(err).Msg("open telemetry export error")
		}))

		tracer = otel.Tracer(instrumentationName)
		IsTracingEnabled = true

		logger.Info().Msg("OpenTelemetry tracing initialized successfully")
	})

	return err
}

// UseTracerProvider installs tp directly, bypassing exporter setup. Passing
// nil turns tracing back off.
func UseTracerProvider(tp trace.TracerProvider) {
	if tp == nil {
		IsTracingEnabled = false
		tracer = nil
		return
	}
	tracer = tp.Tracer(instrumentationName)
	IsTracingEnabled = true
}

func ShutdownTracing(ctx context.Context) error {
	if tracerProvider == nil {
		return nil
	}
	return tracerProvider.Shutdown(ctx)
}

func SetTraceSpanError(span trace.Span, err any) {
	if span == nil || !span.IsRecording() {
		return
	}
	if err, ok := err.(error); ok {
		if stdErr, ok := err.(StandardError); ok {
			span.SetAttributes(attribute.String("error.code", stdErr.CodeChain()))
			span.RecordError(err)
			span.SetStatus(codes.Error, string(stdErr.Base().Code))
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, ErrorSummary(err))
		}
	}
}

func createTracingGRPCExporter(ctx context.Context, cfg *TracingConfig) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createTracingHTTPExporter(ctx context.Context, cfg *TracingConfig) (*otlptrace.Exporter, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	return otlptracehttp.New(ctx, opts...)
}

func createTracingSampler(cfg *TracingConfig) sdktrace.Sampler {
	if cfg.SampleRate <= 0 {
		return sdktrace.NeverSample()
	}
	if cfg.SampleRate >= 1.0 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
}
