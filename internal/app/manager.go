package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Amund211/stockpile/internal/adapters/backend"
	"github.com/Amund211/stockpile/internal/async"
	"github.com/Amund211/stockpile/internal/cache"
	"github.com/Amund211/stockpile/internal/domain"
	"github.com/Amund211/stockpile/internal/pool"
	"github.com/Amund211/stockpile/internal/reporting"
	"golang.org/x/sync/errgroup"
)

const DEFAULT_PRELOAD_CONCURRENCY = 8

var ErrClosed = errors.New("manager is closed")

type Options struct {
	MaxCachedEntries   int
	RetainReleased     bool
	PoolingEnabled     bool
	MaxPooledPerKey    int
	LoadTimeout        time.Duration
	PreloadConcurrency int

	// Used for load and instantiate timeouts. nil uses time.After.
	AfterFunc async.AfterFunc
	// Clock for call deadlines. nil uses time.Now.
	NowFunc func() time.Time
	Logger  *slog.Logger
}

// Manager is the entry point for loading assets and spawning instances of them.
//
// It ties the resource cache, the instance pool and the backend together so
// that every instance keeps the asset it was spawned from alive.
type Manager struct {
	backend backend.Backend
	cache   *cache.ResourceCache[domain.Asset]
	pool    *pool.InstancePool[domain.Instance]
	waiter  *async.Waiter
	nowFunc func() time.Time

	poolingEnabled     bool
	loadTimeout        time.Duration
	preloadConcurrency int
	logger             *slog.Logger

	mu     sync.Mutex
	active map[string]domain.Instance
	closed bool
}

func NewManager(b backend.Backend, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	preloadConcurrency := opts.PreloadConcurrency
	if preloadConcurrency <= 0 {
		preloadConcurrency = DEFAULT_PRELOAD_CONCURRENCY
	}

	waiter := async.NewWaiter(opts.AfterFunc)
	nowFunc := opts.NowFunc
	if nowFunc == nil {
		nowFunc = time.Now
	}

	resourceCache := cache.NewResourceCache(cache.Options[domain.Asset]{
		MaxEntries:     opts.MaxCachedEntries,
		RetainReleased: opts.RetainReleased,
		Start:          b.Start,
		Free: func(_ domain.Key, handle *async.Handle[domain.Asset]) error {
			return b.Release(handle)
		},
		Waiter: waiter,
		Logger: logger.With("component", "cache"),
	})

	instancePool := pool.New(pool.Options[domain.Instance]{
		MaxPerKey:  opts.MaxPooledPerKey,
		IsValid:    b.IsAlive,
		Deactivate: b.Deactivate,
		Destroy:    b.DestroyInstance,
		Logger:     logger.With("component", "pool"),
	})

	return &Manager{
		backend:            b,
		cache:              resourceCache,
		pool:               instancePool,
		waiter:             waiter,
		nowFunc:            nowFunc,
		poolingEnabled:     opts.PoolingEnabled,
		loadTimeout:        opts.LoadTimeout,
		preloadConcurrency: preloadConcurrency,
		logger:             logger,
		active:             make(map[string]domain.Instance),
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// timeoutFor resolves a per call timeout. Zero uses the configured default.
func (m *Manager) timeoutFor(timeout time.Duration) time.Duration {
	if timeout == 0 {
		return m.loadTimeout
	}
	return timeout
}

// Load returns the asset for key and takes a reference to it. Pair with Unload.
//
// timeout bounds the wait for a pending load. Zero uses the configured
// default, and a negative timeout waits until ctx is done.
func (m *Manager) Load(ctx context.Context, key domain.Key, timeout time.Duration) (domain.Asset, error) {
	if m.isClosed() {
		return domain.Asset{}, ErrClosed
	}
	if key.IsZero() {
		return domain.Asset{}, fmt.Errorf("%w: empty key", domain.ErrInvalidKey)
	}

	return m.cache.Acquire(ctx, key, m.timeoutFor(timeout))
}

// Unload drops one reference taken by Load
func (m *Manager) Unload(key domain.Key) error {
	return m.cache.Release(key)
}

// Instantiate spawns an instance of the asset behind key at placement.
//
// A pooled instance is reused when available. Otherwise the asset is loaded
// and the backend spawns a new instance. The instance holds a reference to
// its asset until it is passed to ReleaseInstance.
//
// timeout covers the whole call, loading and spawning together, and follows
// the same rules as for Load.
func (m *Manager) Instantiate(ctx context.Context, key domain.Key, placement domain.Placement, timeout time.Duration) (domain.Instance, error) {
	if m.isClosed() {
		return domain.Instance{}, ErrClosed
	}
	if key.IsZero() {
		return domain.Instance{}, fmt.Errorf("%w: empty key", domain.ErrInvalidKey)
	}

	if m.poolingEnabled {
		if instance, ok := m.reusePooled(ctx, key, placement); ok {
			return instance, nil
		}
	}

	timeout = m.timeoutFor(timeout)
	deadline := m.nowFunc().Add(timeout)

	asset, err := m.cache.Acquire(ctx, key, timeout)
	if err != nil {
		return domain.Instance{}, err
	}

	remaining := timeout
	if timeout > 0 {
		remaining = deadline.Sub(m.nowFunc())
		if remaining <= 0 {
			m.releaseAfterFailedInstantiate(ctx, key)
			return domain.Instance{}, fmt.Errorf("failed to instantiate %s: %w after %s", key, domain.ErrTimeout, timeout)
		}
	}

	handle := m.backend.Instantiate(key, asset, placement)
	instance, err := async.Await(ctx, m.waiter, key, handle, remaining)
	if err != nil {
		if !errors.Is(err, domain.ErrLoadFailed) {
			// The backend may still finish spawning after we stopped waiting
			handle.Subscribe(m.destroyOrphan)
		}
		m.releaseAfterFailedInstantiate(ctx, key)
		return domain.Instance{}, fmt.Errorf("failed to instantiate %s: %w", key, err)
	}

	m.track(instance)
	return instance, nil
}

func (m *Manager) releaseAfterFailedInstantiate(ctx context.Context, key domain.Key) {
	if err := m.cache.Release(key); err != nil {
		m.logger.ErrorContext(ctx, "Failed to release asset after failed instantiate", "key", key.String(), "error", err.Error())
	}
}

func (m *Manager) reusePooled(ctx context.Context, key domain.Key, placement domain.Placement) (domain.Instance, bool) {
	instance, ok, discarded := m.pool.TryAcquire(key)
	if discarded > 0 {
		if err := m.cache.ReleaseIndirect(key, discarded); err != nil {
			m.logger.WarnContext(ctx, "Failed to drop claims of discarded instances", "key", key.String(), "discarded", discarded, "error", err.Error())
		}
	}
	if !ok {
		return domain.Instance{}, false
	}

	if err := m.cache.Promote(key); err != nil {
		// The asset is gone, so the instance can not be handed out
		m.logger.WarnContext(ctx, "Pooled instance outlived its asset", "key", key.String(), "instanceID", instance.ID)
		if destroyErr := m.backend.DestroyInstance(instance); destroyErr != nil {
			m.logger.ErrorContext(ctx, "Failed to destroy pooled instance", "instanceID", instance.ID, "error", destroyErr.Error())
		}
		return domain.Instance{}, false
	}

	m.backend.Activate(instance, placement)
	m.track(instance)
	return instance, true
}

func (m *Manager) destroyOrphan(settled *async.Handle[domain.Instance]) {
	if settled.Status() != async.StatusSucceeded {
		return
	}
	instance := settled.Result()
	m.logger.Info("Destroying instance spawned after its caller gave up", "key", instance.Key.String(), "instanceID", instance.ID)
	if err := m.backend.DestroyInstance(instance); err != nil {
		err = fmt.Errorf("failed to destroy orphaned instance %s: %w", instance.ID, err)
		reporting.Report(context.Background(), err)
	}
}

func (m *Manager) track(instance domain.Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[instance.ID] = instance
}

func (m *Manager) untrack(id string) (domain.Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	instance, ok := m.active[id]
	if ok {
		delete(m.active, id)
	}
	return instance, ok
}

// ActiveInstance returns the live instance handed out under id
func (m *Manager) ActiveInstance(id string) (domain.Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	instance, ok := m.active[id]
	return instance, ok
}

// ReleaseInstance returns an instance obtained from Instantiate.
//
// With pooling enabled the instance is queued for reuse and keeps a latent
// claim on its asset. If pooling is disabled or the pool is full the
// instance is destroyed and its reference dropped.
func (m *Manager) ReleaseInstance(ctx context.Context, instance domain.Instance) error {
	if _, ok := m.untrack(instance.ID); !ok {
		return fmt.Errorf("release instance %s: %w", instance.ID, domain.ErrInstanceNotFound)
	}
	key := instance.Key

	if m.poolingEnabled {
		// Demote before queueing, so a concurrent reuse always finds the latent claim
		if err := m.cache.Demote(key); err != nil {
			destroyErr := m.backend.DestroyInstance(instance)
			return errors.Join(err, destroyErr)
		}
		if m.pool.Release(key, instance) {
			return nil
		}
		// Pool was full and destroyed the instance
		return m.cache.ReleaseIndirect(key, 1)
	}

	destroyErr := m.backend.DestroyInstance(instance)
	if destroyErr != nil {
		m.logger.ErrorContext(ctx, "Failed to destroy instance", "key", key.String(), "instanceID", instance.ID, "error", destroyErr.Error())
	}
	return errors.Join(destroyErr, m.cache.Release(key))
}

// ReleaseInstanceByID is ReleaseInstance for callers that only kept the instance id
func (m *Manager) ReleaseInstanceByID(ctx context.Context, id string) error {
	instance, ok := m.ActiveInstance(id)
	if !ok {
		return fmt.Errorf("release instance %s: %w", id, domain.ErrInstanceNotFound)
	}
	return m.ReleaseInstance(ctx, instance)
}

// Preload loads every key concurrently, taking one reference per key.
//
// All keys are attempted, each bounded by timeoutPerKey as for Load.
// The returned error joins every failure.
func (m *Manager) Preload(ctx context.Context, keys []domain.Key, timeoutPerKey time.Duration) error {
	if len(keys) == 0 {
		return nil
	}

	errs := make([]error, len(keys))

	var g errgroup.Group
	g.SetLimit(m.preloadConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			if _, err := m.Load(ctx, key, timeoutPerKey); err != nil {
				errs[i] = fmt.Errorf("preload %s: %w", key, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

type ReleaseSummary struct {
	Entries         int `json:"entries"`
	PooledInstances int `json:"pooledInstances"`
	ActiveInstances int `json:"activeInstances"`
}

// ReleaseAll destroys every instance, pooled or handed out, and frees every
// cache entry regardless of references.
func (m *Manager) ReleaseAll() ReleaseSummary {
	ctx := context.Background()
	summary := ReleaseSummary{}

	for _, n := range m.pool.DrainAll() {
		summary.PooledInstances += n
	}

	m.mu.Lock()
	active := m.active
	m.active = make(map[string]domain.Instance)
	m.mu.Unlock()

	for _, instance := range active {
		if err := m.backend.DestroyInstance(instance); err != nil {
			m.logger.ErrorContext(ctx, "Failed to destroy instance", "instanceID", instance.ID, "error", err.Error())
			continue
		}
		summary.ActiveInstances++
	}

	summary.Entries = m.cache.ReleaseAll()

	m.logger.InfoContext(ctx, "Released everything", "entries", summary.Entries, "pooledInstances", summary.PooledInstances, "activeInstances", summary.ActiveInstances)
	return summary
}

type SweepSummary struct {
	FreedKeys        []string `json:"freedKeys"`
	TrimmedInstances int      `json:"trimmedInstances"`
}

// LowMemorySweep trims every pool to a single instance and frees every unreferenced asset
func (m *Manager) LowMemorySweep() SweepSummary {
	ctx := context.Background()
	summary := SweepSummary{FreedKeys: []string{}}

	for key, n := range m.pool.Trim(1) {
		summary.TrimmedInstances += n
		if err := m.cache.ReleaseIndirect(key, n); err != nil {
			m.logger.WarnContext(ctx, "Failed to drop claims of trimmed instances", "key", key.String(), "error", err.Error())
		}
	}

	for _, key := range m.cache.LowMemorySweep() {
		summary.FreedKeys = append(summary.FreedKeys, key.String())
	}
	sort.Strings(summary.FreedKeys)

	m.logger.InfoContext(ctx, "Low memory sweep", "freed", len(summary.FreedKeys), "trimmedInstances", summary.TrimmedInstances)
	return summary
}

// Entry returns the cache bookkeeping for key
func (m *Manager) Entry(key domain.Key) (cache.EntryInfo, bool) {
	return m.cache.Entry(key)
}

// Dump renders the cache and pool bookkeeping for debugging
func (m *Manager) Dump() string {
	entries := m.cache.Snapshot()
	pools := m.pool.Snapshot()

	m.mu.Lock()
	activeCount := len(m.active)
	m.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "cache: %d/%d entries\n", len(entries), m.cache.MaxEntries())
	for _, entry := range entries {
		fmt.Fprintf(
			&b,
			"  %s state=%s refs=%d indirect=%d waiters=%d tick=%d\n",
			entry.Key, entry.State, entry.RefCount, entry.Indirect, entry.Waiters, entry.Tick,
		)
	}
	fmt.Fprintf(&b, "pools: %d keys\n", len(pools))
	for _, info := range pools {
		fmt.Fprintf(&b, "  %s queued=%d\n", info.Key, info.Queued)
	}
	fmt.Fprintf(&b, "active instances: %d\n", activeCount)
	return b.String()
}

// Close releases everything. Later loads and instantiations fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.ReleaseAll()
}
