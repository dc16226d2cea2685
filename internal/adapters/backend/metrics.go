package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/Amund211/stockpile/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type backendMetricsCollection struct {
	loadCount    metric.Int64Counter
	loadDuration metric.Float64Histogram
}

var backendMetrics backendMetricsCollection

func init() {
	const name = "stockpile/adapters/backend"
	meter := otel.Meter(name)

	loadCount, err := meter.Int64Counter(
		"backend/load_count",
		metric.WithDescription("Number of asset loads served by the store"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create load count metric: %w", err))
	}

	loadDuration, err := meter.Float64Histogram(
		"backend/load_duration_seconds",
		metric.WithDescription("Time spent loading an asset from the store"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create load duration metric: %w", err))
	}

	backendMetrics = backendMetricsCollection{
		loadCount:    loadCount,
		loadDuration: loadDuration,
	}
}

func (m backendMetricsCollection) recordLoad(ctx context.Context, key domain.Key, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}

	attributesOption := metric.WithAttributes(
		attribute.String("key_kind", key.Kind().String()),
		attribute.String("result", result),
	)
	m.loadCount.Add(ctx, 1, attributesOption)
	m.loadDuration.Record(ctx, duration.Seconds(), attributesOption)
}
