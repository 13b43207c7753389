// Package observability sets up the OpenTelemetry tracer provider the
// subscription lifecycle reports spans to.
package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/PortNumber53/blockr/backend/internal/config"
)

const exporterTimeout = 10 * time.Second

// InitTracing builds a tracer provider exporting over OTLP/gRPC and installs
// it as the global provider. It returns nil when tracing is disabled.
func InitTracing(ctx context.Context, cfg config.TracingConfig, log logrus.FieldLogger) (*sdktrace.TracerProvider, error) {
	log = log.WithField("component", "tracing")
	if !cfg.Enabled {
		log.Info("tracing is disabled")
		return nil, nil
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("observability: tracing endpoint is required")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)),
		resource.WithFromEnv(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: create resource: %w", err)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exportCtx, cancel := context.WithTimeout(ctx, exporterTimeout)
	defer cancel()
	exporter, err := otlptracegrpc.New(exportCtx, opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.WithFields(logrus.Fields{"endpoint": cfg.Endpoint, "sample_ratio": cfg.SampleRatio}).Info("tracing initialized")
	return tp, nil
}

// ShutdownTracing flushes buffered spans and stops the exporter. A nil
// provider is a no-op.
func ShutdownTracing(ctx context.Context, tp *sdktrace.TracerProvider, log logrus.FieldLogger) error {
	if tp == nil {
		return nil
	}
	if err := tp.Shutdown(ctx); err != nil {
		log.WithError(err).Error("failed to shut down tracer provider")
		return fmt.Errorf("observability: shutdown tracer provider: %w", err)
	}
	log.Info("tracer provider shut down")
	return nil
}
