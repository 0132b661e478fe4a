package telemetry

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ServiceName is reported to trace and profile backends.
const ServiceName = "negotiate"

// Deployment describes the running authenticator. Its fields are attached
// to every exported span as resource attributes and to every profile as
// tags, so traces and flame graphs can be split by SPN and mechanism set.
type Deployment struct {
	Version string

	// SPN is the service principal the middleware accepts tickets for.
	SPN string

	// Mechanisms lists the enabled mechanisms ("kerberos", "ntlm").
	Mechanisms []string
}

func (d Deployment) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(d.Version),
	}
	if d.SPN != "" {
		attrs = append(attrs, SPN(d.SPN))
	}
	if len(d.Mechanisms) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrAuthMechanisms, d.Mechanisms))
	}
	return attrs
}

func (d Deployment) tags() map[string]string {
	tags := map[string]string{"version": d.Version}
	if d.SPN != "" {
		tags["spn"] = d.SPN
	}
	if len(d.Mechanisms) > 0 {
		tags["mechanisms"] = strings.Join(d.Mechanisms, ",")
	}
	return tags
}

// Config holds OpenTelemetry tracing configuration.
type Config struct {
	Enabled    bool
	Deployment Deployment

	// Endpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	Endpoint string

	// Insecure disables TLS to the collector.
	Insecure bool

	// SampleRate is the fraction of handshake traces kept (0.0 to 1.0).
	SampleRate float64
}
