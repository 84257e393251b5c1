package export

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpgrpc"
	"go.opentelemetry.io/otel/propagation"
	controller "go.opentelemetry.io/otel/sdk/metric/controller/basic"
	"go.opentelemetry.io/otel/sdk/metric/processor/basic"
	"go.opentelemetry.io/otel/sdk/metric/selector/simple"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv"
)

// InstallOTLPExporter installs the OTLP tracing and metrics exporter under
// the given service name, with an always-on sampler and a periodic metrics
// pusher. The collector endpoint comes from the standard OTLP env vars. The
// returned TracerShutdown flushes and stops the pipeline.
func InstallOTLPExporter(serviceName string, expOpts ...otlp.ExporterOption) (TracerShutdown, error) {
	ctx := context.Background()

	exp, err := otlp.NewExporter(ctx, otlpgrpc.NewDriver(), expOpts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	bsp := sdktrace.NewBatchSpanProcessor(exp)
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
	)

	pusher := controller.New(
		basic.New(
			simple.NewWithExactDistribution(),
			exp,
		),
		controller.WithExporter(exp),
		controller.WithCollectPeriod(2*time.Second),
	)

	otel.SetTextMapPropagator(propagation.TraceContext{})
	otel.SetTracerProvider(tracerProvider)

	if err := pusher.Start(ctx); err != nil {
		return nil, err
	}

	return func() {
		err := tracerProvider.Shutdown(ctx)
		if err != nil {
			log.Fatalf("failed to stop trace provider: %v", err)
		}

		if err := pusher.Stop(ctx); err != nil {
			log.Fatalf("failed to stop metrics pusher: %v", err)
		}
		err = exp.Shutdown(ctx)
		if err != nil {
			log.Fatalf("failed to stop trace exporter: %v", err)
		}
	}, nil
}
