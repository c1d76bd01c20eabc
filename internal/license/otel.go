package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// TracerName is the OpenTelemetry tracer name for license operations
	TracerName = "licensegate/license"
	// MeterName is the OpenTelemetry meter name for license metrics
	MeterName = "licensegate/license"
)

var tracer = otel.Tracer(TracerName)

// Metrics holds the instruments recorded by the validator
type Metrics struct {
	Validations        metric.Int64Counter
	Denials            metric.Int64Counter
	CacheLoads         metric.Int64Counter
	RemoteCalls        metric.Int64Counter
	RemoteCallDuration metric.Float64Histogram
}

// NewMetrics creates the license instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	validations, err := meter.Int64Counter(
		"license_validations_total",
		metric.WithDescription("Successful license validations by evidence"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validations counter: %w", err)
	}

	denials, err := meter.Int64Counter(
		"license_denials_total",
		metric.WithDescription("License denials by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create denials counter: %w", err)
	}

	cacheLoads, err := meter.Int64Counter(
		"license_cache_loads_total",
		metric.WithDescription("Disk cache lookups by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache loads counter: %w", err)
	}

	remoteCalls, err := meter.Int64Counter(
		"license_authority_calls_total",
		metric.WithDescription("Calls to the licensing authority by operation and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authority calls counter: %w", err)
	}

	remoteDuration, err := meter.Float64Histogram(
		"license_authority_call_duration_seconds",
		metric.WithDescription("Licensing authority call latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authority duration histogram: %w", err)
	}

	return &Metrics{
		Validations:        validations,
		Denials:            denials,
		CacheLoads:         cacheLoads,
		RemoteCalls:        remoteCalls,
		RemoteCallDuration: remoteDuration,
	}, nil
}

func (m *Metrics) recordValidation(ctx context.Context, evidence Evidence) {
	if m == nil {
		return
	}
	m.Validations.Add(ctx, 1, metric.WithAttributes(attribute.String("evidence", string(evidence))))
}

func (m *Metrics) recordDenial(ctx context.Context, reason DenialReason) {
	if m == nil {
		return
	}
	m.Denials.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}

func (m *Metrics) recordCacheLoad(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.CacheLoads.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) recordRemoteCall(ctx context.Context, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case isTimeout(err):
		result = "timeout"
	default:
		result = "error"
	}
	attrs := metric.WithAttributes(attribute.String("operation", op), attribute.String("result", result))
	m.RemoteCalls.Add(ctx, 1, attrs)
	m.RemoteCallDuration.Record(ctx, d.Seconds(), attrs)
}
