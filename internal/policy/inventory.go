package policy

import (
	"strconv"
	"sync"

	"github.com/meridianfed/fedres/internal/clock"
	"github.com/meridianfed/fedres/internal/kernel/delegation"
	"github.com/meridianfed/fedres/internal/kernel/idset"
	"github.com/meridianfed/fedres/internal/kernel/reservation"
	"github.com/meridianfed/fedres/internal/kernel/resource"
	"github.com/meridianfed/fedres/pkg/kerrors"
)

// InventoryForType is a resource-type-specific pool the broker policy
// consults when formulating and closing bids, per spec §4.6's "inventory
// maps resource types to type-specific InventoryForType implementations".
type InventoryForType interface {
	// Allocate reserves units units for reservation id against node,
	// returning a delegation id and the sliver to attach to the ticket.
	Allocate(id idset.ID, node string, units int) (delegationID idset.ID, sliver resource.Sliver, err error)
	// Release returns units previously allocated to id back to the pool.
	Release(id idset.ID, units int)
	// Available reports the pool's remaining capacity.
	Available() int
}

// PoolInventory is a fixed-capacity, in-memory InventoryForType, the
// default used by BrokerInventory for resource types with no dedicated
// flavor-aware pool.
type PoolInventory struct {
	mu        sync.Mutex
	capacity  int
	allocated map[idset.ID]int
}

// NewPoolInventory creates a pool with the given total capacity.
func NewPoolInventory(capacity int) *PoolInventory {
	return &PoolInventory{capacity: capacity, allocated: make(map[idset.ID]int)}
}

func (p *PoolInventory) Allocate(id idset.ID, node string, units int) (idset.ID, resource.Sliver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	used := 0
	for _, n := range p.allocated {
		used += n
	}
	if used+units > p.capacity {
		return idset.ID{}, resource.Sliver{}, kerrors.InsufficientResourcesf(
			"pool has %d units available, requested %d", p.capacity-used, units)
	}
	p.allocated[id] = p.allocated[id] + units
	return idset.New(), resource.Sliver{NodeID: node}, nil
}

func (p *PoolInventory) Release(id idset.ID, units int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	remaining := p.allocated[id] - units
	if remaining <= 0 {
		delete(p.allocated, id)
		return
	}
	p.allocated[id] = remaining
}

func (p *PoolInventory) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	used := 0
	for _, n := range p.allocated {
		used += n
	}
	return p.capacity - used
}

// BrokerInventory is the default BrokerPolicy: a map of resource type to
// InventoryForType pool and FIFO bid tracking. It keeps no closing
// schedule; GetClosing always returns nil.
type BrokerInventory struct {
	mu    sync.Mutex
	pools map[string]InventoryForType
	bids  []idset.ID
}

// NewBrokerInventory creates a BrokerInventory with no pools registered;
// call RegisterPool per resource type before servicing requests.
func NewBrokerInventory() *BrokerInventory {
	return &BrokerInventory{pools: make(map[string]InventoryForType)}
}

// RegisterPool associates resourceType with pool.
func (b *BrokerInventory) RegisterPool(resourceType string, pool InventoryForType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pools[resourceType] = pool
}

// PoolFor exposes the registered pool for resourceType, letting the
// calendar's allocation pass reuse BrokerInventory's registrations
// directly instead of duplicating the resource-type lookup table.
func (b *BrokerInventory) PoolFor(resourceType string) (InventoryForType, error) {
	return b.poolFor(resourceType)
}

func (b *BrokerInventory) poolFor(resourceType string) (InventoryForType, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pool, ok := b.pools[resourceType]
	if !ok {
		return nil, kerrors.NotFoundf("inventory pool", resourceType)
	}
	return pool, nil
}

// Bind allocates a ticket for r from the pool matching its requested
// resource type.
func (b *BrokerInventory) Bind(r *reservation.Reservation) error {
	pool, err := b.poolFor(r.Requested.GetType())
	if err != nil {
		return err
	}
	_, _, err = pool.Allocate(r.ID, "", r.Requested.GetUnits())
	return err
}

// ExtendBroker re-validates capacity for an in-flight ticket extension;
// the default policy allows extensions unconditionally since the pool
// already counts the reservation's current allocation.
func (b *BrokerInventory) ExtendBroker(r *reservation.Reservation) error {
	return nil
}

// Closed releases r's allocation back to its pool.
func (b *BrokerInventory) Closed(r *reservation.Reservation) error {
	pool, err := b.poolFor(r.Current.GetType())
	if err != nil {
		return nil
	}
	pool.Release(r.ID, r.Current.GetUnits())
	return nil
}

// FormulateBids returns and clears the accumulated bid queue.
func (b *BrokerInventory) FormulateBids(cycle clock.Cycle) []idset.ID {
	b.mu.Lock()
	defer b.mu.Unlock()
	bids := b.bids
	b.bids = nil
	return bids
}

// AddBid enqueues id for consideration on the next FormulateBids call.
func (b *BrokerInventory) AddBid(id idset.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = append(b.bids, id)
}

// GetClosing returns no reservations by default; a deployment-specific
// policy overrides this to drive proactive term-based closing.
func (b *BrokerInventory) GetClosing(cycle clock.Cycle) []idset.ID {
	return nil
}

// Revisit is a no-op in the default policy.
func (b *BrokerInventory) Revisit(r *reservation.Reservation) error { return nil }

// RevisitDelegation is a no-op in the default policy.
func (b *BrokerInventory) RevisitDelegation(d *delegation.Delegation) error { return nil }

// Query reports available capacity per registered pool.
func (b *BrokerInventory) Query(props resource.Properties) (resource.Properties, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := resource.Properties{}
	for t, pool := range b.pools {
		out[t] = strconv.Itoa(pool.Available())
	}
	return out, nil
}
