package lowmemory

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/metrics"
	"sync"
	"time"

	"github.com/Amund211/stockpile/internal/app"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const DEFAULT_INTERVAL = 5 * time.Second

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

var sweepCount metric.Int64Counter

func init() {
	meter := otel.Meter("stockpile/lowmemory")

	var err error
	sweepCount, err = meter.Int64Counter(
		"lowmemory/sweep_count",
		metric.WithDescription("Sweeps triggered by heap usage above the soft limit"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create sweep count metric: %w", err))
	}
}

// HeapReader returns the number of bytes currently used by live heap objects
type HeapReader func() uint64

func ReadHeapObjects() uint64 {
	samples := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(samples)
	if samples[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return samples[0].Value.Uint64()
}

type Options struct {
	SoftLimitBytes int64
	// <= 0 uses DEFAULT_INTERVAL
	Interval time.Duration
	// nil uses ReadHeapObjects
	ReadHeap HeapReader
	Logger   *slog.Logger
}

// Watcher sweeps the manager when heap usage crosses a soft limit.
//
// One sweep is made per crossing. Usage has to drop below the limit again
// before the next crossing triggers another sweep.
type Watcher struct {
	sweep     app.LowMemorySweep
	softLimit uint64
	interval  time.Duration
	readHeap  HeapReader
	logger    *slog.Logger

	mu    sync.Mutex
	above bool
}

func NewWatcher(sweep app.LowMemorySweep, opts Options) *Watcher {
	if opts.SoftLimitBytes <= 0 {
		panic("lowmemory: SoftLimitBytes must be positive")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DEFAULT_INTERVAL
	}
	readHeap := opts.ReadHeap
	if readHeap == nil {
		readHeap = ReadHeapObjects
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Watcher{
		sweep:     sweep,
		softLimit: uint64(opts.SoftLimitBytes),
		interval:  interval,
		readHeap:  readHeap,
		logger:    logger,
	}
}

// Check reads heap usage once and sweeps on a crossing. Returns true if it swept.
func (w *Watcher) Check(ctx context.Context) bool {
	usage := w.readHeap()

	w.mu.Lock()
	wasAbove := w.above
	w.above = usage > w.softLimit
	crossed := w.above && !wasAbove
	w.mu.Unlock()

	if !crossed {
		return false
	}

	w.logger.WarnContext(ctx, "Heap usage above soft limit, sweeping", "heapBytes", usage, "softLimitBytes", w.softLimit)
	summary := w.sweep()
	sweepCount.Add(ctx, 1)
	w.logger.InfoContext(
		ctx,
		"Low memory sweep done",
		"freed", len(summary.FreedKeys),
		"trimmedInstances", summary.TrimmedInstances,
		"heapBytes", w.readHeap(),
	)
	return true
}

// Run checks heap usage every interval until ctx is done
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}
