// Package tracing wraps Call effects in OpenTelemetry spans.
package tracing

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/on-the-ground/saga_ive_go/effects"
)

const (
	InstrumentationName = "github.com/on-the-ground/saga_ive_go/effects"

	AttrCallName = attribute.Key("call.name")
	AttrCallKey  = attribute.Key("call.key")
	AttrCallArgs = attribute.Key("call.args")
)

// NewProvider builds a tracer provider exporting synchronously to exporter.
func NewProvider(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	), nil
}

// NewStdoutProvider builds a tracer provider writing pretty printed spans to w.
func NewStdoutProvider(serviceName, serviceVersion string, w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	return NewProvider(serviceName, serviceVersion, exporter)
}

// CallHandler returns a handler that runs next inside a client span named
// after the call. Cancellation is recorded as an event, not as an error.
func CallHandler(tracer trace.Tracer, next effects.CallHandler) effects.CallHandler {
	if next == nil {
		next = effects.DirectCall
	}
	return func(ctx context.Context, call effects.Call) (any, error) {
		name := call.Name
		if name == "" {
			name = "anonymous"
		}
		ctx, span := tracer.Start(ctx, "call "+name,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				AttrCallName.String(name),
				AttrCallKey.String(call.Key),
				AttrCallArgs.Int(len(call.Args)),
			),
		)
		defer span.End()

		v, err := next(ctx, call)
		switch {
		case err == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(err, context.Canceled):
			span.AddEvent("cancelled")
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return v, err
	}
}
