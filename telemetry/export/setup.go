// Package export installs the opentelemetry tracing exporter of the
// operator process. The backend and its endpoint are taken from the
// environment, so the same binary traces to nothing, to Jaeger or to an
// OTLP collector without rebuilds.
package export

import "github.com/pkg/errors"

// Setup installs the exporter selected by the environment: none when
// DISABLE_TRACING=true, otherwise the backend named by TRACING_EXPORTER
// ("jaeger" by default, or "otlp"). The returned shutdown flushes and stops
// the exporter.
func Setup(serviceName string) (TracerShutdown, error) {
	if getEnvAsBool(envDisableTracing, false) {
		return func() {}, nil
	}
	switch backend := getEnv(envTracingExporter, "jaeger"); backend {
	case "jaeger":
		return InstallJaegerExporter(serviceName)
	case "otlp":
		return InstallOTLPExporter(serviceName)
	default:
		return nil, errors.Errorf("unknown tracing exporter %q", backend)
	}
}
