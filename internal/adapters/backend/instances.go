package backend

import (
	"fmt"
	"sync"
	"time"

	"github.com/Amund211/stockpile/internal/domain"
	"github.com/Amund211/stockpile/internal/strutils"
	"github.com/google/uuid"
)

type InstanceState struct {
	Instance  domain.Instance
	Placement domain.Placement
	Active    bool
}

type instanceRegistry struct {
	mu        sync.Mutex
	instances map[string]*InstanceState
}

func newInstanceRegistry() *instanceRegistry {
	return &instanceRegistry{
		instances: make(map[string]*InstanceState),
	}
}

func newInstanceID() string {
	id, err := strutils.NormalizeUUID(uuid.New().String())
	if err != nil {
		panic(fmt.Sprintf("logic error: generated uuid is not valid: %s", err))
	}
	return id
}

func (r *instanceRegistry) create(key domain.Key, address string, placement domain.Placement, now time.Time) domain.Instance {
	instance := domain.Instance{
		ID:        newInstanceID(),
		Key:       key,
		Address:   address,
		CreatedAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.instances[instance.ID] = &InstanceState{
		Instance:  instance,
		Placement: placement,
		Active:    true,
	}
	return instance
}

func (r *instanceRegistry) destroy(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[id]; !ok {
		return domain.ErrInstanceNotFound
	}
	delete(r.instances, id)
	return nil
}

func (r *instanceRegistry) isAlive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.instances[id]
	return ok
}

func (r *instanceRegistry) setActive(id string, active bool, placement *domain.Placement) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.instances[id]
	if !ok {
		return
	}
	state.Active = active
	if placement != nil {
		state.Placement = *placement
	}
}

func (r *instanceRegistry) get(id string) (InstanceState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.instances[id]
	if !ok {
		return InstanceState{}, false
	}
	return *state, true
}

func (r *instanceRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}
