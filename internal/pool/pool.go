package pool

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/Amund211/stockpile/internal/domain"
)

const DEFAULT_MAX_PER_KEY = 10

type Options[I any] struct {
	// Maximum number of queued instances per key. <= 0 uses DEFAULT_MAX_PER_KEY.
	MaxPerKey int

	// Reports false for instances that have been destroyed outside the pool
	IsValid func(I) bool
	// Called before an instance is queued
	Deactivate func(I)
	Destroy    func(I) error

	Logger *slog.Logger
}

type poolEntry[I any] struct {
	queue []I
}

// InstancePool keeps bounded per-key FIFO queues of reusable instances.
type InstancePool[I any] struct {
	mu        sync.Mutex
	pools     map[domain.Key]*poolEntry[I]
	maxPerKey int

	isValid    func(I) bool
	deactivate func(I)
	destroy    func(I) error

	logger *slog.Logger
}

func New[I any](opts Options[I]) *InstancePool[I] {
	maxPerKey := opts.MaxPerKey
	if maxPerKey <= 0 {
		maxPerKey = DEFAULT_MAX_PER_KEY
	}
	isValid := opts.IsValid
	if isValid == nil {
		isValid = func(I) bool { return true }
	}
	deactivate := opts.Deactivate
	if deactivate == nil {
		deactivate = func(I) {}
	}
	destroy := opts.Destroy
	if destroy == nil {
		destroy = func(I) error { return nil }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &InstancePool[I]{
		pools:      make(map[domain.Key]*poolEntry[I]),
		maxPerKey:  maxPerKey,
		isValid:    isValid,
		deactivate: deactivate,
		destroy:    destroy,
		logger:     logger,
	}
}

func (p *InstancePool[I]) MaxPerKey() int {
	return p.maxPerKey
}

// TryAcquire pops the oldest valid instance queued for key.
//
// Invalid instances popped on the way are dropped. discarded reports how many,
// so the caller can settle any claims those instances held.
func (p *InstancePool[I]) TryAcquire(key domain.Key) (instance I, ok bool, discarded int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, exists := p.pools[key]
	if !exists {
		return instance, false, 0
	}

	for len(entry.queue) > 0 {
		candidate := entry.queue[0]
		var zero I
		entry.queue[0] = zero
		entry.queue = entry.queue[1:]
		if len(entry.queue) == 0 {
			delete(p.pools, key)
		}

		if p.isValid(candidate) {
			poolMetrics.recordAcquire(key, true)
			return candidate, true, discarded
		}

		discarded++
		p.logger.Warn("Discarding invalid pooled instance", "key", key.String())
	}

	poolMetrics.recordAcquire(key, false)
	return instance, false, discarded
}

// Release queues instance for reuse if the queue for key has room, and destroys it otherwise.
//
// Returns true if the instance was queued.
func (p *InstancePool[I]) Release(key domain.Key, instance I) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, exists := p.pools[key]
	if !exists {
		entry = &poolEntry[I]{}
		p.pools[key] = entry
	}

	if len(entry.queue) < p.maxPerKey {
		p.deactivate(instance)
		entry.queue = append(entry.queue, instance)
		poolMetrics.recordRelease(key, true)
		return true
	}

	p.destroyLocked(key, instance)
	poolMetrics.recordRelease(key, false)
	return false
}

// Drain destroys every instance queued for key. Returns the number of instances removed.
func (p *InstancePool[I]) Drain(key domain.Key) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.trimLocked(key, 0)
}

// DrainAll destroys every queued instance. Returns the number of instances removed per key.
func (p *InstancePool[I]) DrainAll() map[domain.Key]int {
	return p.Trim(0)
}

// Trim destroys queued instances beyond keep for every key, oldest first.
// Returns the number of instances removed per key.
func (p *InstancePool[I]) Trim(keep int) map[domain.Key]int {
	if keep < 0 {
		keep = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := make(map[domain.Key]int)
	for key := range p.pools {
		if n := p.trimLocked(key, keep); n > 0 {
			removed[key] = n
		}
	}
	return removed
}

func (p *InstancePool[I]) trimLocked(key domain.Key, keep int) int {
	entry, exists := p.pools[key]
	if !exists {
		return 0
	}

	removed := 0
	for len(entry.queue) > keep {
		instance := entry.queue[0]
		var zero I
		entry.queue[0] = zero
		entry.queue = entry.queue[1:]

		p.destroyLocked(key, instance)
		removed++
	}

	if len(entry.queue) == 0 {
		delete(p.pools, key)
	}
	return removed
}

func (p *InstancePool[I]) destroyLocked(key domain.Key, instance I) {
	if err := p.destroy(instance); err != nil {
		// Best effort, the instance is gone from the pool either way
		p.logger.Error("Failed to destroy pooled instance", "key", key.String(), "error", err.Error())
	}
}

func (p *InstancePool[I]) Len(key domain.Key) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, exists := p.pools[key]
	if !exists {
		return 0
	}
	return len(entry.queue)
}

type PoolInfo struct {
	Key    domain.Key
	Queued int
}

// Snapshot returns the queue length of every pool, sorted by key
func (p *InstancePool[I]) Snapshot() []PoolInfo {
	p.mu.Lock()
	infos := make([]PoolInfo, 0, len(p.pools))
	for key, entry := range p.pools {
		infos = append(infos, PoolInfo{Key: key, Queued: len(entry.queue)})
	}
	p.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Key.String() < infos[j].Key.String()
	})
	return infos
}
