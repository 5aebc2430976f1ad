package monitoring

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pnpbots/pnptv-app-sub006/logging"
)

var (
	// OpenTelemetry metrics
	PaymentTransitions     metric.Int64Counter
	ProviderQueryDuration  metric.Float64Histogram
	ScannerRuns            metric.Int64Counter
	ScannerItems           metric.Int64Counter
	SweeperAbandoned       metric.Int64Counter
	WebhookRequests        metric.Int64Counter
	EntitlementDeliveries  metric.Int64Counter
	HTTPServerDuration     metric.Float64Histogram
	promRegistry           = prometheus.NewRegistry()
	instrumentsInitialized bool
)

func init() {
	// Instruments start on a no-op meter so callers never see nil.
	if err := createInstruments(noop.NewMeterProvider().Meter("noop")); err != nil {
		panic(err)
	}
}

// InitTracer initializes OpenTelemetry tracing
func InitTracer(serviceName, endpoint string) (*sdktrace.TracerProvider, trace.Tracer, error) {
	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	tracer := tp.Tracer(serviceName)

	logging.Info("Tracing initialized", zap.String("service_name", serviceName))

	return tp, tracer, nil
}

// InitMeter initializes OpenTelemetry metrics with an OTLP exporter and a
// Prometheus reader served by MetricsHandler.
func InitMeter(serviceName, endpoint string) (*sdkmetric.MeterProvider, metric.Meter, error) {
	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, err
	}

	promExporter, err := otelprom.New(otelprom.WithRegisterer(promRegistry))
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)
	meter := mp.Meter(serviceName)

	if err := createInstruments(meter); err != nil {
		return nil, nil, err
	}
	instrumentsInitialized = true

	logging.Info("Metrics initialized with OTLP and Prometheus exporters", zap.String("endpoint", endpoint))

	return mp, meter, nil
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
}

// Enabled reports whether InitMeter has replaced the no-op instruments.
func Enabled() bool {
	return instrumentsInitialized
}

func createInstruments(meter metric.Meter) error {
	var err error

	PaymentTransitions, err = meter.Int64Counter(
		"payment_transitions_total",
		metric.WithDescription("Payment status transitions applied to the ledger"),
	)
	if err != nil {
		return err
	}

	ProviderQueryDuration, err = meter.Float64Histogram(
		"provider_query_duration_seconds",
		metric.WithDescription("Duration of provider status queries"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	ScannerRuns, err = meter.Int64Counter(
		"scanner_runs_total",
		metric.WithDescription("Stuck-payment scanner invocations by result"),
	)
	if err != nil {
		return err
	}

	ScannerItems, err = meter.Int64Counter(
		"scanner_items_total",
		metric.WithDescription("Payments processed by the stuck-payment scanner by outcome"),
	)
	if err != nil {
		return err
	}

	SweeperAbandoned, err = meter.Int64Counter(
		"sweeper_abandoned_total",
		metric.WithDescription("Payments force-abandoned by the sweeper"),
	)
	if err != nil {
		return err
	}

	WebhookRequests, err = meter.Int64Counter(
		"webhook_requests_total",
		metric.WithDescription("Inbound provider webhooks by outcome"),
	)
	if err != nil {
		return err
	}

	EntitlementDeliveries, err = meter.Int64Counter(
		"entitlement_deliveries_total",
		metric.WithDescription("Entitlement activation attempts by outcome"),
	)
	if err != nil {
		return err
	}

	HTTPServerDuration, err = meter.Float64Histogram(
		"http_server_duration_milliseconds",
		metric.WithDescription("HTTP server request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}
