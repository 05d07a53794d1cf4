package tracing

import (
	"context"

	"github.com/honeycombio/honeycomb-opentelemetry-go"
	"github.com/honeycombio/otel-config-go/otelconfig"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var GlobalTracer = otel.Tracer("geschmackstest-backend")

// HoneycombSetup configures the OpenTelemetry SDK with the honeycomb distro.
// Exporter settings (api key, service name) are read from the environment.
// The returned func must be called on shutdown, it is a no-op when disabled.
func HoneycombSetup(enabled bool, serviceName string) (func(), error) {
	if !enabled {
		log.Debugln("honeycomb tracing disabled")
		return func() {}, nil
	}

	bsp := honeycomb.NewBaggageSpanProcessor()
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(serviceName),
		otelconfig.WithSpanProcessor(bsp),
	)
	if err != nil {
		return nil, err
	}

	log.Infof("honeycomb tracing enabled for service [%s]", serviceName)
	return otelShutdown, nil
}

// StartSpan starts a span on the global tracer. The returned end func
// records *errp on the span when it is set.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span, func(errp *error)) {
	ctx, span := GlobalTracer.Start(ctx, name)
	return ctx, span, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
	}
}
