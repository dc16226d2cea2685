package pool_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/Amund211/stockpile/internal/domain"
	"github.com/Amund211/stockpile/internal/pool"
	"github.com/stretchr/testify/require"
)

type fakeInstance struct {
	id          int
	destroyed   bool
	deactivated bool
}

type tracker struct {
	mu        sync.Mutex
	destroyed []int
}

func (tr *tracker) destroy(inst *fakeInstance) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	inst.destroyed = true
	tr.destroyed = append(tr.destroyed, inst.id)
	return nil
}

func newPool(t *testing.T, maxPerKey int) (*pool.InstancePool[*fakeInstance], *tracker) {
	t.Helper()
	tr := &tracker{}
	return pool.New(pool.Options[*fakeInstance]{
		MaxPerKey:  maxPerKey,
		IsValid:    func(inst *fakeInstance) bool { return !inst.destroyed },
		Deactivate: func(inst *fakeInstance) { inst.deactivated = true },
		Destroy:    tr.destroy,
	}), tr
}

var (
	cardKey   = domain.AddressKey("prefabs/card")
	effectKey = domain.LabelKey("effects")
)

func TestInstancePool(t *testing.T) {
	t.Parallel()

	t.Run("miss on empty pool", func(t *testing.T) {
		t.Parallel()

		p, _ := newPool(t, 2)
		_, ok, discarded := p.TryAcquire(cardKey)
		require.False(t, ok)
		require.Zero(t, discarded)
	})

	t.Run("release then acquire reuses the instance", func(t *testing.T) {
		t.Parallel()

		p, tr := newPool(t, 2)
		inst := &fakeInstance{id: 1}

		require.True(t, p.Release(cardKey, inst))
		require.True(t, inst.deactivated)
		require.Equal(t, 1, p.Len(cardKey))

		got, ok, _ := p.TryAcquire(cardKey)
		require.True(t, ok)
		require.Same(t, inst, got)
		require.Equal(t, 0, p.Len(cardKey))
		require.Empty(t, tr.destroyed)
	})

	t.Run("pools are per key", func(t *testing.T) {
		t.Parallel()

		p, _ := newPool(t, 2)
		require.True(t, p.Release(cardKey, &fakeInstance{id: 1}))

		_, ok, _ := p.TryAcquire(effectKey)
		require.False(t, ok)
		require.Equal(t, 1, p.Len(cardKey))
	})

	t.Run("fifo order", func(t *testing.T) {
		t.Parallel()

		p, _ := newPool(t, 3)
		for i := 1; i <= 3; i++ {
			require.True(t, p.Release(cardKey, &fakeInstance{id: i}))
		}
		for i := 1; i <= 3; i++ {
			got, ok, _ := p.TryAcquire(cardKey)
			require.True(t, ok)
			require.Equal(t, i, got.id)
		}
	})

	t.Run("release beyond the cap destroys the instance", func(t *testing.T) {
		t.Parallel()

		p, tr := newPool(t, 1)
		first := &fakeInstance{id: 1}
		second := &fakeInstance{id: 2}

		require.True(t, p.Release(cardKey, first))
		require.False(t, p.Release(cardKey, second))

		require.Equal(t, 1, p.Len(cardKey))
		require.True(t, second.destroyed)
		require.False(t, first.destroyed)
		require.Equal(t, []int{2}, tr.destroyed)
	})

	t.Run("queue length never exceeds the cap", func(t *testing.T) {
		t.Parallel()

		p, _ := newPool(t, 4)
		for i := range 20 {
			p.Release(cardKey, &fakeInstance{id: i})
			require.LessOrEqual(t, p.Len(cardKey), 4)
		}
		require.Equal(t, 4, p.Len(cardKey))
	})

	t.Run("invalid instances are skipped", func(t *testing.T) {
		t.Parallel()

		p, _ := newPool(t, 3)
		first := &fakeInstance{id: 1}
		second := &fakeInstance{id: 2}
		third := &fakeInstance{id: 3}
		p.Release(cardKey, first)
		p.Release(cardKey, second)
		p.Release(cardKey, third)

		// Destroyed externally
		first.destroyed = true
		second.destroyed = true

		got, ok, discarded := p.TryAcquire(cardKey)
		require.True(t, ok)
		require.Same(t, third, got)
		require.Equal(t, 2, discarded)
	})

	t.Run("only invalid instances is a miss", func(t *testing.T) {
		t.Parallel()

		p, _ := newPool(t, 3)
		inst := &fakeInstance{id: 1}
		p.Release(cardKey, inst)
		inst.destroyed = true

		_, ok, discarded := p.TryAcquire(cardKey)
		require.False(t, ok)
		require.Equal(t, 1, discarded)
		require.Equal(t, 0, p.Len(cardKey))
	})

	t.Run("drain", func(t *testing.T) {
		t.Parallel()

		p, tr := newPool(t, 3)
		p.Release(cardKey, &fakeInstance{id: 1})
		p.Release(cardKey, &fakeInstance{id: 2})
		p.Release(effectKey, &fakeInstance{id: 3})

		require.Equal(t, 2, p.Drain(cardKey))
		require.Equal(t, 0, p.Len(cardKey))
		require.Equal(t, 1, p.Len(effectKey))
		require.ElementsMatch(t, []int{1, 2}, tr.destroyed)

		require.Equal(t, 0, p.Drain(cardKey))
	})

	t.Run("drain all", func(t *testing.T) {
		t.Parallel()

		p, tr := newPool(t, 3)
		p.Release(cardKey, &fakeInstance{id: 1})
		p.Release(cardKey, &fakeInstance{id: 2})
		p.Release(effectKey, &fakeInstance{id: 3})

		removed := p.DrainAll()
		require.Equal(t, map[domain.Key]int{cardKey: 2, effectKey: 1}, removed)
		require.Len(t, tr.destroyed, 3)
		require.Empty(t, p.Snapshot())
	})

	t.Run("trim keeps the newest instances", func(t *testing.T) {
		t.Parallel()

		p, tr := newPool(t, 5)
		for i := 1; i <= 4; i++ {
			p.Release(cardKey, &fakeInstance{id: i})
		}
		p.Release(effectKey, &fakeInstance{id: 10})

		removed := p.Trim(1)
		require.Equal(t, map[domain.Key]int{cardKey: 3}, removed)
		require.Equal(t, []int{1, 2, 3}, tr.destroyed)
		require.Equal(t, 1, p.Len(cardKey))
		require.Equal(t, 1, p.Len(effectKey))

		got, ok, _ := p.TryAcquire(cardKey)
		require.True(t, ok)
		require.Equal(t, 4, got.id)
	})

	t.Run("destroy errors do not stop a drain", func(t *testing.T) {
		t.Parallel()

		calls := 0
		p := pool.New(pool.Options[*fakeInstance]{
			MaxPerKey: 3,
			Destroy: func(*fakeInstance) error {
				calls++
				return errors.New("already gone")
			},
		})
		p.Release(cardKey, &fakeInstance{id: 1})
		p.Release(cardKey, &fakeInstance{id: 2})

		require.Equal(t, 2, p.Drain(cardKey))
		require.Equal(t, 2, calls)
	})

	t.Run("snapshot", func(t *testing.T) {
		t.Parallel()

		p, _ := newPool(t, 3)
		p.Release(effectKey, &fakeInstance{id: 1})
		p.Release(cardKey, &fakeInstance{id: 2})
		p.Release(cardKey, &fakeInstance{id: 3})

		require.Equal(t, []pool.PoolInfo{
			{Key: cardKey, Queued: 2},
			{Key: effectKey, Queued: 1},
		}, p.Snapshot())
	})

	t.Run("emptied pools leave the snapshot", func(t *testing.T) {
		t.Parallel()

		p, _ := newPool(t, 3)
		p.Release(effectKey, &fakeInstance{id: 1})
		p.Release(cardKey, &fakeInstance{id: 2})
		p.Release(cardKey, &fakeInstance{id: 3})

		_, ok, _ := p.TryAcquire(effectKey)
		require.True(t, ok)
		_, ok, _ = p.TryAcquire(cardKey)
		require.True(t, ok)

		require.Equal(t, []pool.PoolInfo{{Key: cardKey, Queued: 1}}, p.Snapshot())

		// Drained by discarding invalid instances
		invalid := &fakeInstance{id: 4}
		p.Release(effectKey, invalid)
		invalid.destroyed = true
		_, ok, discarded := p.TryAcquire(effectKey)
		require.False(t, ok)
		require.Equal(t, 1, discarded)

		_, ok, _ = p.TryAcquire(cardKey)
		require.True(t, ok)
		require.Empty(t, p.Snapshot())
	})

	t.Run("default cap", func(t *testing.T) {
		t.Parallel()

		p, _ := newPool(t, 0)
		require.Equal(t, pool.DEFAULT_MAX_PER_KEY, p.MaxPerKey())
	})
}
