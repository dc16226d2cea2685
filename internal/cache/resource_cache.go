package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Amund211/stockpile/internal/async"
	"github.com/Amund211/stockpile/internal/domain"
	"github.com/Amund211/stockpile/internal/reporting"
)

const DEFAULT_MAX_ENTRIES = 50

type entryState int

const (
	statePending entryState = iota
	stateResolved
)

func (s entryState) String() string {
	if s == stateResolved {
		return "resolved"
	}
	return "pending"
}

type cacheEntry[V any] struct {
	key   domain.Key
	state entryState
	value V

	// Completes after the entry has been settled. Waiters block on this.
	load *async.Handle[V]
	// Backend handle. nil until the backend has returned it.
	backend *async.Handle[V]

	// Active holders: successful acquires not yet released
	refCount int
	// Latent holders: pooled instances of this asset
	indirect int
	// Callers currently waiting for the pending load
	waiters int

	lastUsedTick int64
}

func (e *cacheEntry[V]) evictable() bool {
	return e.state == stateResolved && e.refCount == 0 && e.indirect == 0 && e.waiters == 0
}

type Options[V any] struct {
	// Eviction threshold. <= 0 uses DEFAULT_MAX_ENTRIES.
	MaxEntries int
	// Keep entries whose last reference was released, until evicted or swept.
	// When false they are freed as soon as the last reference is released.
	RetainReleased bool

	// Start begins loading key. It must not block on the load itself.
	Start func(key domain.Key) *async.Handle[V]
	// Free releases the backend resource behind a successfully loaded handle
	Free func(key domain.Key, handle *async.Handle[V]) error

	Waiter *async.Waiter
	Logger *slog.Logger
}

// ResourceCache maps keys to reference counted, asynchronously loaded values.
//
// Unreferenced entries are kept around and evicted in least recently used
// order once the cache grows past MaxEntries. Referenced entries are never
// evicted, so the cache may stay above MaxEntries.
//
// All bookkeeping happens under a single mutex. Backend loads and waits
// happen outside it.
type ResourceCache[V any] struct {
	mu      sync.Mutex
	entries map[domain.Key]*cacheEntry[V]
	tick    int64

	maxEntries     int
	retainReleased bool
	start          func(key domain.Key) *async.Handle[V]
	free           func(key domain.Key, handle *async.Handle[V]) error
	waiter         *async.Waiter
	logger         *slog.Logger
}

func NewResourceCache[V any](opts Options[V]) *ResourceCache[V] {
	if opts.Start == nil {
		panic("cache: Options.Start is required")
	}

	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DEFAULT_MAX_ENTRIES
	}
	free := opts.Free
	if free == nil {
		free = func(domain.Key, *async.Handle[V]) error { return nil }
	}
	waiter := opts.Waiter
	if waiter == nil {
		waiter = async.NewWaiter(time.After)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &ResourceCache[V]{
		entries:        make(map[domain.Key]*cacheEntry[V]),
		maxEntries:     maxEntries,
		retainReleased: opts.RetainReleased,
		start:          opts.Start,
		free:           free,
		waiter:         waiter,
		logger:         logger,
	}
}

func (c *ResourceCache[V]) MaxEntries() int {
	return c.maxEntries
}

func (c *ResourceCache[V]) nextTickLocked() int64 {
	c.tick++
	return c.tick
}

// Acquire returns the value for key, loading it if needed, and takes one reference to it.
//
// Concurrent acquires of a key share a single backend load. The reference is
// only taken if this caller's wait succeeds, so a cancelled, timed out or
// failed acquire leaves the refcount untouched.
func (c *ResourceCache[V]) Acquire(ctx context.Context, key domain.Key, timeout time.Duration) (V, error) {
	var zero V

	c.mu.Lock()
	entry, exists := c.entries[key]
	if exists && entry.state == stateResolved {
		entry.refCount++
		entry.lastUsedTick = c.nextTickLocked()
		value := entry.value
		c.mu.Unlock()

		cacheMetrics.recordLookup(ctx, key, true)
		return value, nil
	}

	startLoad := !exists
	if startLoad {
		entry = &cacheEntry[V]{
			key:   key,
			state: statePending,
			load:  async.NewHandle[V](),
		}
		c.entries[key] = entry
	}
	entry.lastUsedTick = c.nextTickLocked()
	entry.waiters++
	load := entry.load
	c.mu.Unlock()

	cacheMetrics.recordLookup(ctx, key, false)

	if startLoad {
		c.logger.DebugContext(ctx, "Starting load", "key", key.String())
		c.startLoad(entry)
	} else {
		c.logger.DebugContext(ctx, "Joining in-flight load", "key", key.String())
	}

	value, err := async.Await(ctx, c.waiter, key, load, timeout)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry.waiters--

	if err != nil {
		return zero, err
	}

	if current, ok := c.entries[key]; !ok || current != entry {
		// Released by ReleaseAll while we were waiting. The backend resource has been freed.
		return zero, fmt.Errorf("%w: cache was cleared while loading %s", domain.ErrCancelled, key)
	}

	entry.refCount++
	entry.lastUsedTick = c.nextTickLocked()

	c.evictIfOverCapacityLocked(ctx)

	return value, nil
}

func (c *ResourceCache[V]) startLoad(entry *cacheEntry[V]) {
	backend := c.start(entry.key)
	if backend == nil {
		backend = async.Failed[V](errors.New("backend returned no handle"))
	}

	c.mu.Lock()
	entry.backend = backend
	c.mu.Unlock()

	backend.Subscribe(func(settled *async.Handle[V]) {
		c.settle(entry, settled)
	})
}

// settle moves a pending entry to its final state once the backend load completes
func (c *ResourceCache[V]) settle(entry *cacheEntry[V], settled *async.Handle[V]) {
	ctx := context.Background()

	c.mu.Lock()
	current, tracked := c.entries[entry.key]
	tracked = tracked && current == entry

	if settled.Status() != async.StatusSucceeded {
		if tracked {
			delete(c.entries, entry.key)
		}
		c.mu.Unlock()

		cacheMetrics.recordLoadFailure(ctx, entry.key)
		c.logger.Warn("Load failed", "key", entry.key.String(), "error", fmt.Sprint(settled.Err()))
		entry.load.Fail(settled.Err())
		return
	}

	value := settled.Result()
	if tracked {
		entry.state = stateResolved
		entry.value = value
		if entry.evictable() {
			// Everyone waiting gave up. Keep it as a warm entry, subject to eviction.
			c.evictIfOverCapacityLocked(ctx)
		}
	} else {
		// The entry was dropped while loading, nobody owns this resource
		c.freeLocked(ctx, entry.key, settled, "orphaned")
	}
	c.mu.Unlock()

	entry.load.Resolve(value)
}

// Release drops one reference to key. Once no holders remain the backend
// resource is freed, unless the cache retains released entries.
//
// Returns domain.ErrKeyNotFound if key has no loaded entry.
func (c *ResourceCache[V]) Release(key domain.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.resolvedEntryLocked(key, "Release")
	if err != nil {
		return err
	}

	entry.refCount = max(0, entry.refCount-1)
	entry.lastUsedTick = c.nextTickLocked()

	c.freeIfUnheldLocked(entry)
	return nil
}

// Demote turns one active reference to key into a latent one, held by a pooled instance
func (c *ResourceCache[V]) Demote(key domain.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.resolvedEntryLocked(key, "Demote")
	if err != nil {
		return err
	}

	if entry.refCount == 0 {
		c.logger.Warn("Demote without an active reference", "key", key.String())
	}
	entry.refCount = max(0, entry.refCount-1)
	entry.indirect++
	entry.lastUsedTick = c.nextTickLocked()
	return nil
}

// Promote turns one latent reference to key back into an active one, when a pooled instance is reused
func (c *ResourceCache[V]) Promote(key domain.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.resolvedEntryLocked(key, "Promote")
	if err != nil {
		return err
	}

	if entry.indirect == 0 {
		c.logger.Warn("Promote without a latent reference", "key", key.String())
	}
	entry.indirect = max(0, entry.indirect-1)
	entry.refCount++
	entry.lastUsedTick = c.nextTickLocked()
	return nil
}

// ReleaseIndirect drops n latent references to key, when pooled instances are destroyed
func (c *ResourceCache[V]) ReleaseIndirect(key domain.Key, n int) error {
	if n <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.resolvedEntryLocked(key, "ReleaseIndirect")
	if err != nil {
		return err
	}

	entry.indirect = max(0, entry.indirect-n)
	entry.lastUsedTick = c.nextTickLocked()

	c.freeIfUnheldLocked(entry)
	return nil
}

func (c *ResourceCache[V]) resolvedEntryLocked(key domain.Key, operation string) (*cacheEntry[V], error) {
	entry, exists := c.entries[key]
	if !exists || entry.state != stateResolved {
		c.logger.Warn("Key not found", "operation", operation, "key", key.String())
		return nil, fmt.Errorf("%s %s: %w", operation, key, domain.ErrKeyNotFound)
	}
	return entry, nil
}

func (c *ResourceCache[V]) freeIfUnheldLocked(entry *cacheEntry[V]) {
	if !entry.evictable() || c.retainReleased {
		return
	}

	delete(c.entries, entry.key)
	c.freeLocked(context.Background(), entry.key, entry.backend, "released")
}

func (c *ResourceCache[V]) freeLocked(ctx context.Context, key domain.Key, backend *async.Handle[V], reason string) {
	cacheMetrics.recordFree(ctx, key, reason)

	if backend == nil || backend.Status() != async.StatusSucceeded {
		return
	}

	if err := c.free(key, backend); err != nil {
		// Best effort, the entry is gone either way
		err = fmt.Errorf("failed to free %s: %w", key, err)
		c.logger.ErrorContext(ctx, "Failed to free resource", "key", key.String(), "reason", reason, "error", err.Error())
		reporting.Report(ctx, err, map[string]string{
			"key":    key.String(),
			"reason": reason,
		})
	}
}

// ReleaseAll frees every entry regardless of references and empties the cache.
//
// Loads still in flight are freed as soon as they complete.
func (c *ResourceCache[V]) ReleaseAll() int {
	ctx := context.Background()

	c.mu.Lock()
	defer c.mu.Unlock()

	count := len(c.entries)
	for key, entry := range c.entries {
		delete(c.entries, key)
		if entry.state == stateResolved {
			c.freeLocked(ctx, key, entry.backend, "reset")
		}
	}
	c.nextTickLocked()

	return count
}

// LowMemorySweep frees every unreferenced entry, leaving referenced entries untouched.
func (c *ResourceCache[V]) LowMemorySweep() []domain.Key {
	ctx := context.Background()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextTickLocked()

	freed := []domain.Key{}
	for key, entry := range c.entries {
		if !entry.evictable() {
			continue
		}
		delete(c.entries, key)
		c.freeLocked(ctx, key, entry.backend, "low_memory")
		freed = append(freed, key)
	}
	return freed
}

// evictIfOverCapacityLocked frees unreferenced entries, least recently used
// first, until the cache is back at MaxEntries or nothing evictable is left.
func (c *ResourceCache[V]) evictIfOverCapacityLocked(ctx context.Context) []domain.Key {
	if len(c.entries) <= c.maxEntries {
		return nil
	}

	c.nextTickLocked()

	evictable := make([]*cacheEntry[V], 0, len(c.entries))
	for _, entry := range c.entries {
		if entry.evictable() {
			evictable = append(evictable, entry)
		}
	}
	sort.Slice(evictable, func(i, j int) bool {
		return evictable[i].lastUsedTick < evictable[j].lastUsedTick
	})

	evicted := []domain.Key{}
	for _, entry := range evictable {
		if len(c.entries) <= c.maxEntries {
			break
		}
		delete(c.entries, entry.key)
		c.freeLocked(ctx, entry.key, entry.backend, "capacity")
		evicted = append(evicted, entry.key)
	}

	if len(c.entries) > c.maxEntries {
		c.logger.DebugContext(ctx, "Cache above capacity after eviction", "entries", len(c.entries), "max", c.maxEntries)
	}

	return evicted
}

func (c *ResourceCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type EntryInfo struct {
	Key      domain.Key
	State    string
	RefCount int
	Indirect int
	Waiters  int
	Tick     int64
}

func (c *ResourceCache[V]) infoLocked(entry *cacheEntry[V]) EntryInfo {
	return EntryInfo{
		Key:      entry.key,
		State:    entry.state.String(),
		RefCount: entry.refCount,
		Indirect: entry.indirect,
		Waiters:  entry.waiters,
		Tick:     entry.lastUsedTick,
	}
}

// Entry returns the bookkeeping for key, if present
func (c *ResourceCache[V]) Entry(key domain.Key) (EntryInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return EntryInfo{}, false
	}
	return c.infoLocked(entry), true
}

// Snapshot returns the bookkeeping of every entry, least recently used first
func (c *ResourceCache[V]) Snapshot() []EntryInfo {
	c.mu.Lock()
	infos := make([]EntryInfo, 0, len(c.entries))
	for _, entry := range c.entries {
		infos = append(infos, c.infoLocked(entry))
	}
	c.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Tick < infos[j].Tick
	})
	return infos
}
