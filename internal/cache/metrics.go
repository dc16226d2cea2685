package cache

import (
	"context"
	"fmt"

	"github.com/Amund211/stockpile/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type cacheMetricsCollection struct {
	lookupCount      metric.Int64Counter
	loadFailureCount metric.Int64Counter
	freeCount        metric.Int64Counter
}

var cacheMetrics cacheMetricsCollection

func init() {
	const name = "stockpile/cache"
	meter := otel.Meter(name)

	lookupCount, err := meter.Int64Counter(
		"cache/lookup_count",
		metric.WithDescription("Cache lookups, by hit/miss"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create lookup count metric: %w", err))
	}

	loadFailureCount, err := meter.Int64Counter(
		"cache/load_failure_count",
		metric.WithDescription("Backend loads that failed"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create load failure count metric: %w", err))
	}

	freeCount, err := meter.Int64Counter(
		"cache/free_count",
		metric.WithDescription("Entries removed from the cache, by reason"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create free count metric: %w", err))
	}

	cacheMetrics = cacheMetricsCollection{
		lookupCount:      lookupCount,
		loadFailureCount: loadFailureCount,
		freeCount:        freeCount,
	}
}

func (m cacheMetricsCollection) recordLookup(ctx context.Context, key domain.Key, hit bool) {
	m.lookupCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("key_kind", key.Kind().String()),
		attribute.Bool("hit", hit),
	))
}

func (m cacheMetricsCollection) recordLoadFailure(ctx context.Context, key domain.Key) {
	m.loadFailureCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("key_kind", key.Kind().String()),
	))
}

func (m cacheMetricsCollection) recordFree(ctx context.Context, key domain.Key, reason string) {
	m.freeCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("key_kind", key.Kind().String()),
		attribute.String("reason", reason),
	))
}
