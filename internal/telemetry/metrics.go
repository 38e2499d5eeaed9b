package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/detectors/aws/ecs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/prerender/prerender-go/internal/config"
)

type MetricsProvider struct {
	Prerender *PrerenderMetrics
	Close     func()
}

type PrerenderMetrics struct {
	PrerenderedCnt   func(ctx context.Context, status int)
	PassedThroughCnt func(ctx context.Context, reason string)
	FetchFailedCnt   func(ctx context.Context)
	FetchDuration    func(ctx context.Context, d time.Duration)
}

// SetupMetrics exports counters over OTLP/HTTP when telemetry is enabled.
// Otherwise every counter is a no-op.
func SetupMetrics(ctx context.Context, cfg *config.Config) (*MetricsProvider, error) {
	metricsProvider := &MetricsProvider{Close: func() {}}
	var mp metric.MeterProvider = noop.NewMeterProvider()

	if cfg.Telemetry.Enabled {
		r, err := newResource(&cfg.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("newResource: %w", err)
		}
		exporter, err := newMetricExporter(ctx, &cfg.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("newMetricExporter: %w", err)
		}
		meterProvider := newMeterProvider(exporter, r)
		otel.SetMeterProvider(meterProvider)
		mp = meterProvider
		metricsProvider.Close = func() {
			if err := meterProvider.Shutdown(context.Background()); err != nil {
				slog.Error("failed to shutdown metrics provider", slog.Any("error", err))
			}
		}
	}

	m, err := NewPrerenderMetrics(mp.Meter(cfg.Telemetry.ServiceName))
	if err != nil {
		return nil, err
	}
	metricsProvider.Prerender = m
	return metricsProvider, nil
}

// NewPrerenderMetrics creates the request counters on meter.
func NewPrerenderMetrics(meter metric.Meter) (*PrerenderMetrics, error) {
	prerendered, err := meter.Int64Counter("prerender.requests.prerendered",
		metric.WithDescription("The number of requests answered by the prerender service"),
		metric.WithUnit("{requests}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create prerendered counter: %w", err)
	}
	passed, err := meter.Int64Counter("prerender.requests.passed",
		metric.WithDescription("The number of requests passed to the next handler"),
		metric.WithUnit("{requests}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create passed counter: %w", err)
	}
	failed, err := meter.Int64Counter("prerender.fetch.fail",
		metric.WithDescription("The number of prerender fetches that got no usable response"),
		metric.WithUnit("{requests}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch failure counter: %w", err)
	}
	duration, err := meter.Float64Histogram("prerender.fetch.duration",
		metric.WithDescription("Duration of prerender fetches"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch duration histogram: %w", err)
	}

	return &PrerenderMetrics{
		PrerenderedCnt: func(ctx context.Context, status int) {
			prerendered.Add(ctx, 1, metric.WithAttributes(attribute.String("status", strconv.Itoa(status))))
		},
		PassedThroughCnt: func(ctx context.Context, reason string) {
			passed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		},
		FetchFailedCnt: func(ctx context.Context) {
			failed.Add(ctx, 1)
		},
		FetchDuration: func(ctx context.Context, d time.Duration) {
			duration.Record(ctx, d.Seconds())
		},
	}, nil
}

func newResource(cfg *config.TelemetryConfig) (*resource.Resource, error) {
	ecsResource, err := ecs.NewResourceDetector().Detect(context.Background())
	if err != nil {
		slog.Warn("ecs detection failed", slog.Any("error", err))
	}
	mergedResource, err := resource.Merge(ecsResource, resource.Default())
	if err != nil {
		slog.Warn("failed to merge resources", slog.Any("error", err))
	}
	serviceID := uuid.New().String()
	if v, found := ecsResource.Set().Value(semconv.ContainerIDKey); found {
		serviceID = v.AsString()
	}
	return resource.Merge(mergedResource,
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Env),
			semconv.ServiceInstanceID(serviceID),
		))
}

func newMetricExporter(ctx context.Context, cfg *config.TelemetryConfig) (sdkmetric.Exporter, error) {
	return otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.CollectorURL),
		otlpmetrichttp.WithInsecure())
}

func newMeterProvider(exporter sdkmetric.Exporter, r *resource.Resource) *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(r),
	)
}
