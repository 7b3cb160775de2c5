package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	webhookNotifications    metric.Int64Counter
	subscriptionTransitions metric.Int64Counter
	usageIncrements         metric.Int64Counter
	billingVerifications    metric.Int64Counter
	eventsDispatched        metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "learnitin"
	}
	meter := provider.Meter(name)

	webhookNotifications, err := meter.Int64Counter("learnitin_webhook_notifications_total")
	if err != nil {
		return nil, err
	}
	subscriptionTransitions, err := meter.Int64Counter("learnitin_subscription_transitions_total")
	if err != nil {
		return nil, err
	}
	usageIncrements, err := meter.Int64Counter("learnitin_usage_increments_total")
	if err != nil {
		return nil, err
	}
	billingVerifications, err := meter.Int64Counter("learnitin_billing_verifications_total")
	if err != nil {
		return nil, err
	}
	eventsDispatched, err := meter.Int64Counter("learnitin_events_dispatched_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhookNotifications:    webhookNotifications,
		subscriptionTransitions: subscriptionTransitions,
		usageIncrements:         usageIncrements,
		billingVerifications:    billingVerifications,
		eventsDispatched:        eventsDispatched,
	}, nil
}

// RecordWebhookNotification counts inbound notifications by kind and outcome.
func (m *Metrics) RecordWebhookNotification(ctx context.Context, eventType, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.webhookNotifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTransition counts applied, skipped and failed subscription transitions.
func (m *Metrics) RecordTransition(ctx context.Context, eventType, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.subscriptionTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsageIncrement counts ledger increments per feature.
func (m *Metrics) RecordUsageIncrement(ctx context.Context, feature string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source_type", strings.TrimSpace(feature)))
	m.usageIncrements.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBillingVerification counts calls to the billing authority.
func (m *Metrics) RecordBillingVerification(ctx context.Context, provider, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.billingVerifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEventDispatched counts dispatched events by kind and outcome.
func (m *Metrics) RecordEventDispatched(ctx context.Context, eventType, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.eventsDispatched.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"provider":    {},
	"event_type":  {},
	"source_type": {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
