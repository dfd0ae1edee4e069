package telemetry

import (
	"strings"
)

// DefaultServiceName is reported when OTEL_SERVICE_NAME is unset.
const DefaultServiceName = "crash-analyzer"

// Config selects whether and how spans are exported. Endpoint, headers,
// TLS and sampling are read by the OpenTelemetry SDK from the standard
// OTEL_EXPORTER_OTLP_* and OTEL_TRACES_SAMPLER* variables.
type Config struct {
	Enabled bool
	// Protocol is "grpc" (default) or "http/protobuf".
	Protocol       string
	ServiceName    string
	ServiceVersion string
}

// FromEnv reads the configuration through getenv, normally os.Getenv.
// OTEL_ENABLED=true turns tracing on and OTEL_SDK_DISABLED=true always
// turns it off.
func FromEnv(getenv func(string) string) Config {
	cfg := Config{
		Enabled:        isTrue(getenv("OTEL_ENABLED")) && !isTrue(getenv("OTEL_SDK_DISABLED")),
		Protocol:       strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL"))),
		ServiceName:    strings.TrimSpace(getenv("OTEL_SERVICE_NAME")),
		ServiceVersion: strings.TrimSpace(getenv("OTEL_SERVICE_VERSION")),
	}
	if cfg.Protocol == "" {
		cfg.Protocol = strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL")))
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "grpc"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	return cfg
}

func isTrue(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "true")
}
