// Package observability подключает OpenTelemetry: OTLP/HTTP экспортер и глобальный TracerProvider.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/annel0/netsync/internal/config"
	"github.com/annel0/netsync/internal/logging"
)

// ShutdownFunc сбрасывает накопленные спаны и останавливает провайдер
type ShutdownFunc func(context.Context) error

// InitTelemetry настраивает экспорт трейсов по секции telemetry. Если телеметрия
// выключена, глобальный провайдер остаётся noop и shutdown ничего не делает.
func InitTelemetry(ctx context.Context, tc config.TelemetryConfig, instanceID string) (ShutdownFunc, error) {
	if !tc.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	var opts []otlptracehttp.Option
	if tc.Endpoint != "" {
		// host:port без схемы; по умолчанию localhost:4318
		opts = append(opts, otlptracehttp.WithEndpoint(tc.Endpoint), otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	service := tc.ServiceName
	if service == "" {
		service = "netsync-server"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(service),
			semconv.ServiceInstanceID(instanceID),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	endpoint := tc.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}
	logging.Info("OpenTelemetry: OTLP -> %s, service=%s, instance=%s", endpoint, service, instanceID)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}
