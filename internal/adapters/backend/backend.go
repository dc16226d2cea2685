package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Amund211/stockpile/internal/async"
	"github.com/Amund211/stockpile/internal/domain"
	"github.com/Amund211/stockpile/internal/ratelimiting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrUnknownHandle = errors.New("unknown or already released handle")

// Backend loads assets and spawns instances of them.
//
// Start and Instantiate return immediately. The work completes in the background
// and settles the returned handle.
type Backend interface {
	Start(key domain.Key) *async.Handle[domain.Asset]
	Release(handle *async.Handle[domain.Asset]) error

	Instantiate(key domain.Key, asset domain.Asset, placement domain.Placement) *async.Handle[domain.Instance]
	DestroyInstance(instance domain.Instance) error
	IsAlive(instance domain.Instance) bool
	Activate(instance domain.Instance, placement domain.Placement)
	Deactivate(instance domain.Instance)
}

// StoredAsset is an asset as persisted in an AssetStore
type StoredAsset struct {
	Address     string
	Reference   string
	Labels      []string
	ContentType string
	Data        []byte
}

type AssetStore interface {
	// GetAsset returns the asset for key, or domain.ErrAssetNotFound.
	// Label keys resolve to the matching asset with the lowest address.
	GetAsset(ctx context.Context, key domain.Key) (domain.Asset, error)
	PutAsset(ctx context.Context, asset StoredAsset) error
}

type Options struct {
	// Upper bound for a single store query. Zero means no bound.
	QueryTimeout time.Duration
	// Bounds the rate of store queries. nil means unbounded.
	Limiter *ratelimiting.WindowLimiter

	NowFunc func() time.Time
	Logger  *slog.Logger
}

// StoreBackend serves loads from an AssetStore and keeps spawned instances in memory
type StoreBackend struct {
	store        AssetStore
	queryTimeout time.Duration
	limiter      *ratelimiting.WindowLimiter
	nowFunc      func() time.Time
	logger       *slog.Logger
	tracer       trace.Tracer

	mu    sync.Mutex
	loads map[*async.Handle[domain.Asset]]domain.Key

	instances *instanceRegistry
}

var _ Backend = (*StoreBackend)(nil)

func NewStoreBackend(store AssetStore, opts Options) *StoreBackend {
	nowFunc := opts.NowFunc
	if nowFunc == nil {
		nowFunc = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &StoreBackend{
		store:        store,
		queryTimeout: opts.QueryTimeout,
		limiter:      opts.Limiter,
		nowFunc:      nowFunc,
		logger:       logger,
		tracer:       otel.Tracer("stockpile/adapters/backend"),

		loads: make(map[*async.Handle[domain.Asset]]domain.Key),

		instances: newInstanceRegistry(),
	}
}

func (b *StoreBackend) Start(key domain.Key) *async.Handle[domain.Asset] {
	handle := async.NewHandle[domain.Asset]()

	b.mu.Lock()
	b.loads[handle] = key
	b.mu.Unlock()

	go b.load(key, handle)

	return handle
}

func (b *StoreBackend) load(key domain.Key, handle *async.Handle[domain.Asset]) {
	// Loads are shared between callers, so they never run under a caller's context
	ctx := context.Background()
	if b.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.queryTimeout)
		defer cancel()
	}

	ctx, span := b.tracer.Start(ctx, "StoreBackend.load", trace.WithAttributes(
		attribute.String("key", key.String()),
	))
	defer span.End()

	start := b.nowFunc()

	var asset domain.Asset
	var err error
	query := func() {
		asset, err = b.store.GetAsset(ctx, key)
	}
	if b.limiter == nil {
		query()
	} else if limitErr := b.limiter.Do(ctx, query); limitErr != nil {
		err = fmt.Errorf("failed waiting for load capacity: %w", limitErr)
	}

	backendMetrics.recordLoad(ctx, key, b.nowFunc().Sub(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		b.logger.WarnContext(ctx, "Failed to load asset", "key", key.String(), "error", err.Error())

		b.mu.Lock()
		delete(b.loads, handle)
		b.mu.Unlock()

		handle.Fail(err)
		return
	}

	asset.Key = key
	asset.LoadedAt = b.nowFunc()
	span.SetAttributes(attribute.Int("size", asset.Size()))

	handle.Resolve(asset)
}

// Release frees a handle returned by Start. Each handle is released at most once.
func (b *StoreBackend) Release(handle *async.Handle[domain.Asset]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key, ok := b.loads[handle]
	if !ok {
		return ErrUnknownHandle
	}
	delete(b.loads, handle)

	b.logger.Debug("Released asset", "key", key.String())
	return nil
}

// LiveLoads is the number of handles started and not yet released
func (b *StoreBackend) LiveLoads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.loads)
}

func (b *StoreBackend) Instantiate(key domain.Key, asset domain.Asset, placement domain.Placement) *async.Handle[domain.Instance] {
	handle := async.NewHandle[domain.Instance]()

	go func() {
		if asset.Address == "" {
			handle.Fail(fmt.Errorf("%w: cannot instantiate %s without a loaded asset", domain.ErrAssetNotFound, key))
			return
		}

		instance := b.instances.create(key, asset.Address, placement, b.nowFunc())
		b.logger.Debug("Instantiated asset", "key", key.String(), "instanceID", instance.ID)
		handle.Resolve(instance)
	}()

	return handle
}

func (b *StoreBackend) DestroyInstance(instance domain.Instance) error {
	if err := b.instances.destroy(instance.ID); err != nil {
		return fmt.Errorf("failed to destroy instance %s of %s: %w", instance.ID, instance.Key, err)
	}
	return nil
}

func (b *StoreBackend) IsAlive(instance domain.Instance) bool {
	return b.instances.isAlive(instance.ID)
}

func (b *StoreBackend) Activate(instance domain.Instance, placement domain.Placement) {
	b.instances.setActive(instance.ID, true, &placement)
}

func (b *StoreBackend) Deactivate(instance domain.Instance) {
	b.instances.setActive(instance.ID, false, nil)
}

// InstanceState returns the live state of an instance
func (b *StoreBackend) InstanceState(id string) (InstanceState, bool) {
	return b.instances.get(id)
}

// LiveInstances is the number of instances not yet destroyed
func (b *StoreBackend) LiveInstances() int {
	return b.instances.len()
}
