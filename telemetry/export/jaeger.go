package export

import (
	"go.opentelemetry.io/otel/exporters/trace/jaeger"
	"go.opentelemetry.io/otel/attribute"
)

// Empty default jaeger endpoint; the env var JAEGER_ENDPOINT overrides it.
const defaultJaegerEndpoint = ""

// TracerShutdown is returned by exporter setup functions. This is called to
// shutdown the exporter.
type TracerShutdown func()

// InstallJaegerExporter installs the Jaeger tracing exporter under the given
// service name. The pipeline is disabled by default: set
// JAEGER_DISABLED=false and JAEGER_ENDPOINT=http://<addr>:14268/api/traces
// to make it functional. The returned TracerShutdown flushes the exporter.
func InstallJaegerExporter(serviceName string, opts ...jaeger.Option) (TracerShutdown, error) {
	jOpts := []jaeger.Option{
		jaeger.WithProcess(jaeger.Process{
			ServiceName: serviceName,
			Tags: []attribute.KeyValue{
				attribute.String("exporter", "jaeger"),
			},
		}),
		jaeger.WithDisabled(true),
	}
	jOpts = append(jOpts, opts...)

	flush, err := jaeger.InstallNewPipeline(
		jaeger.WithCollectorEndpoint(defaultJaegerEndpoint),
		jOpts...,
	)
	if err != nil {
		return nil, err
	}
	return flush, nil
}
