package pool

import (
	"context"
	"fmt"

	"github.com/Amund211/stockpile/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type poolMetricsCollection struct {
	acquireCount metric.Int64Counter
	releaseCount metric.Int64Counter
}

var poolMetrics poolMetricsCollection

func init() {
	const name = "stockpile/pool"
	meter := otel.Meter(name)

	acquireCount, err := meter.Int64Counter(
		"pool/acquire_count",
		metric.WithDescription("Pool acquire attempts, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create acquire count metric: %w", err))
	}

	releaseCount, err := meter.Int64Counter(
		"pool/release_count",
		metric.WithDescription("Instances released to the pool, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create release count metric: %w", err))
	}

	poolMetrics = poolMetricsCollection{
		acquireCount: acquireCount,
		releaseCount: releaseCount,
	}
}

func (m poolMetricsCollection) recordAcquire(key domain.Key, hit bool) {
	m.acquireCount.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("key_kind", key.Kind().String()),
		attribute.Bool("hit", hit),
	))
}

func (m poolMetricsCollection) recordRelease(key domain.Key, pooled bool) {
	m.releaseCount.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("key_kind", key.Kind().String()),
		attribute.Bool("pooled", pooled),
	))
}
