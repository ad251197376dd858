package ratelimit

import (
	"context"
	"sync"

	"github.com/utakatik/utakatik/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	blocksTotal metric.Int64Counter
	metricsOnce sync.Once
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("utakatik.ratelimit")
		blocksTotal, _ = meter.Int64Counter(
			metrics.MetricName("rate_limit_blocks_total"),
			metric.WithDescription("Total number of requests blocked by rate limiting"),
			metric.WithUnit("1"),
		)
	})
}

// IncrementBlockedRequests counts a request rejected on route.
func IncrementBlockedRequests(ctx context.Context, route string) {
	ensureMetrics()
	if blocksTotal != nil {
		blocksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
	}
}
