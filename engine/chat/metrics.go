package chat

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
	answerHist     metric.Float64Histogram
	matchHist      metric.Int64Histogram
)

func recordAnswer(ctx context.Context, d time.Duration, ans *Answer, err error) {
	if initErr := ensureMetrics(); initErr != nil || answerHist == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	answerHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	if ans != nil {
		matchHist.Record(ctx, int64(len(ans.Matches)))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("utakatik.chat")
		answerHist, metricsInitErr = meter.Float64Histogram(
			metrics.MetricNameWithSubsystem("chat", "answer_duration_seconds"),
			metric.WithDescription("End-to-end latency of grounded answers"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(metrics.LatencyBuckets...),
		)
		if metricsInitErr != nil {
			return
		}
		matchHist, metricsInitErr = meter.Int64Histogram(
			metrics.MetricNameWithSubsystem("chat", "matches"),
			metric.WithDescription("Products retrieved per answer"),
			metric.WithExplicitBucketBoundaries(metrics.CountBuckets...),
		)
	})
	return metricsInitErr
}
