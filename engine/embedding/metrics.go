package embedding

import (
	"context"
	"sync"
	"time"

	"github.com/utakatik/utakatik/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce    sync.Once
	metricsInitErr error
	latencyHist    metric.Float64Histogram
	cacheCounter   metric.Int64Counter
)

// RecordEmbedLatency records the time spent computing one vector.
func RecordEmbedLatency(ctx context.Context, model string, d time.Duration) {
	if err := ensureMetrics(); err != nil || latencyHist == nil {
		return
	}
	latencyHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("model", model)))
}

// RecordCacheResult counts embedding cache hits and misses.
func RecordCacheResult(ctx context.Context, hit bool) {
	if err := ensureMetrics(); err != nil || cacheCounter == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("utakatik.embedding")
		latencyHist, metricsInitErr = meter.Float64Histogram(
			metrics.MetricNameWithSubsystem("embedding", "duration_seconds"),
			metric.WithDescription("Latency of computing one embedding"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(metrics.LatencyBuckets...),
		)
		if metricsInitErr != nil {
			return
		}
		cacheCounter, metricsInitErr = meter.Int64Counter(
			metrics.MetricNameWithSubsystem("embedding", "cache_lookups_total"),
			metric.WithDescription("Embedding cache lookups by result"),
		)
	})
	return metricsInitErr
}
