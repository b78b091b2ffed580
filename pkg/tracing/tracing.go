// Package tracing настраивает OpenTelemetry с экспортом в Jaeger по OTLP gRPC.
//
// Корневой span запроса создаёт otelgin, дочерние — клиент платёжного шлюза.
// Без InitTracer глобальный провайдер остаётся no-op.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"example.com/membership-system/pkg/logger"
)

// Config содержит настройки tracing.
type Config struct {
	ServiceName    string
	JaegerEndpoint string // host:port OTLP gRPC, например "jaeger:4317"
	Environment    string
	SampleRatio    float64 // (0,1) включает выборочную запись; иначе пишутся все spans
	Enabled        bool
}

// ShutdownFunc сбрасывает накопленные spans и закрывает соединение с коллектором.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// InitTracer регистрирует глобальный TracerProvider и W3C propagator.
// Возвращаемая ShutdownFunc никогда не nil, даже вместе с ошибкой.
func InitTracer(cfg Config) (ShutdownFunc, error) {
	if !cfg.Enabled || cfg.JaegerEndpoint == "" {
		logger.Info().Msg("Tracing отключен")
		return noopShutdown, nil
	}

	conn, err := grpc.NewClient(cfg.JaegerEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return noopShutdown, fmt.Errorf("подключение к коллектору %s: %w", cfg.JaegerEndpoint, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return noopShutdown, fmt.Errorf("создание OTLP exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironmentName(cfg.Environment),
	))
	if err != nil {
		_ = conn.Close()
		return noopShutdown, fmt.Errorf("описание ресурса: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info().Str("endpoint", cfg.JaegerEndpoint).Msg("Tracing инициализирован")

	// Порядок важен: сначала flush spans, потом закрытие соединения.
	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), conn.Close())
	}, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio > 0 && ratio < 1 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
	return sdktrace.AlwaysSample()
}

// Tracer возвращает именованный tracer глобального провайдера.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Fail помечает span ошибкой. nil err ничего не делает.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
