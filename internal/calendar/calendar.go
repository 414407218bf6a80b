// Package calendar implements the cycle-indexed broker/authority
// allocation loop (C7, spec §4.6): request/closing/renewing buckets, an
// outlays list, and the FIFO allocation pass that turns pending bids into
// delegations and tickets.
package calendar

import (
	"slices"
	"sync"

	"github.com/meridianfed/fedres/internal/clock"
	"github.com/meridianfed/fedres/internal/kernel/delegation"
	"github.com/meridianfed/fedres/internal/kernel/idset"
	"github.com/meridianfed/fedres/internal/kernel/reservation"
	"github.com/meridianfed/fedres/internal/kernel/resource"
	"github.com/meridianfed/fedres/pkg/kerrors"
	"github.com/meridianfed/fedres/pkg/metrics"
)

// Bid is a pending allocation request, wrapping the reservation with the
// cycle it was submitted on so the queue-threshold check in spec §4.6
// step 5 can measure age.
type Bid struct {
	Reservation *reservation.Reservation
	Submitted   clock.Cycle
}

// NodePicker selects a candidate node for a bid, the broker policy hook
// spec §4.6 step 4 calls "pick a candidate BQM node".
type NodePicker func(b Bid) string

// Inventory is the per-resource-type allocator the calendar invokes once
// a candidate node has been picked. It receives only the reservation id,
// the node and the requested units; the reservations already assigned to
// that node are not passed to it.
type Inventory interface {
	Allocate(id idset.ID, node string, units int) (delegationID idset.ID, sliver resource.Sliver, err error)
}

// Calendar is the per-actor cycle-indexed request/closing/renewing
// schedule. It is not safe for concurrent use outside the kernel's
// dispatcher goroutine, except where noted.
type Calendar struct {
	mu sync.Mutex

	requests map[clock.Cycle][]Bid
	closing  map[clock.Cycle][]*reservation.Reservation
	renewing map[clock.Cycle][]*reservation.Reservation
	outlays  []*reservation.Reservation

	lastAllocation clock.Cycle
	callInterval   clock.Cycle
	horizon        clock.Cycle
	queueThreshold clock.Cycle
}

// New creates an empty Calendar with the given call interval, allocation
// horizon, and queue-age threshold, all expressed in cycles.
func New(callInterval, horizon, queueThreshold clock.Cycle) *Calendar {
	return &Calendar{
		requests:       make(map[clock.Cycle][]Bid),
		closing:        make(map[clock.Cycle][]*reservation.Reservation),
		renewing:       make(map[clock.Cycle][]*reservation.Reservation),
		callInterval:   callInterval,
		horizon:        horizon,
		queueThreshold: queueThreshold,
	}
}

// AddRequest enqueues r as a pending bid submitted at cycle now.
func (c *Calendar) AddRequest(now clock.Cycle, r *reservation.Reservation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[now] = append(c.requests[now], Bid{Reservation: r, Submitted: now})
}

// AddClosing schedules r to be closed at cycle when.
func (c *Calendar) AddClosing(when clock.Cycle, r *reservation.Reservation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closing[when] = append(c.closing[when], r)
}

// AddRenewing schedules r's extension to be considered at cycle when.
func (c *Calendar) AddRenewing(when clock.Cycle, r *reservation.Reservation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renewing[when] = append(c.renewing[when], r)
}

// AddOutlay records a newly active authority-side allocation.
func (c *Calendar) AddOutlay(r *reservation.Reservation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outlays = append(c.outlays, r)
}

// Tick advances the horizon, freeing buckets for cycles strictly before
// now, per spec §4.6's "tick(cycle) advances the horizon, freeing
// earlier buckets".
func (c *Calendar) Tick(now clock.Cycle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for cycle := range c.requests {
		if cycle < now {
			delete(c.requests, cycle)
		}
	}
	for cycle := range c.closing {
		if cycle < now {
			delete(c.closing, cycle)
		}
	}
	for cycle := range c.renewing {
		if cycle < now {
			delete(c.renewing, cycle)
		}
	}
}

// Prepare computes start_cycle and advance_cycle for the next allocation
// pass, per spec §4.6 step 1.
func (c *Calendar) Prepare() (startCycle, advanceCycle clock.Cycle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	startCycle = c.lastAllocation + c.callInterval
	advanceCycle = startCycle + c.horizon
	return startCycle, advanceCycle
}

// pendingBidsLocked collects every bid submitted at or before
// advanceCycle, across all request buckets, in submission order.
func (c *Calendar) pendingBidsLocked(advanceCycle clock.Cycle) []Bid {
	var cycles []clock.Cycle
	for cycle := range c.requests {
		if cycle <= advanceCycle {
			cycles = append(cycles, cycle)
		}
	}
	slices.Sort(cycles)
	var out []Bid
	for _, cycle := range cycles {
		out = append(out, c.requests[cycle]...)
	}
	return out
}

// Allocate runs one broker allocation pass (spec §4.6 steps 2-5): it
// collects requests up to advanceCycle, services them in submission
// order via pick and inventory, and returns the newly created
// delegations, the reservations those delegations were granted against
// (so the caller can drive update_ticket on each), and any reservations
// that exhausted the queue threshold and were failed. The pass keeps a
// per-node set of the bids it assigned, but that set is not handed to the
// inventory: each Allocate call sees only the bid's own id, node and units.
func (c *Calendar) Allocate(now clock.Cycle, pick NodePicker, inventoryFor func(resourceType string) (Inventory, error)) (granted []*delegation.Delegation, grantedReservations []*reservation.Reservation, failed []*reservation.Reservation, err error) {
	c.mu.Lock()
	_, advanceCycle := c.lastAllocationAndAdvanceLocked()
	bids := c.pendingBidsLocked(advanceCycle)
	c.mu.Unlock()

	nodeAssignments := make(map[string]*idset.Set)

	for _, bid := range bids {
		r := bid.Reservation
		inv, invErr := inventoryFor(r.Requested.GetType())
		if invErr != nil {
			failed = append(failed, r)
			continue
		}

		node := pick(bid)
		if _, ok := nodeAssignments[node]; !ok {
			nodeAssignments[node] = idset.NewSet()
		}

		delegationID, sliver, allocErr := inv.Allocate(r.ID, node, r.Requested.GetUnits())
		if allocErr != nil {
			if c.agedPast(bid) {
				_ = r.Fail(allocErr.Error())
				failed = append(failed, r)
				metrics.IncAllocationOutcome("denied")
			} else {
				metrics.IncAllocationOutcome("deferred")
			}
			continue
		}

		nodeAssignments[node].Add(r.ID)
		d := delegation.New(idset.New(), r.Slice, "broker", r.AuthorityProxy, nil)
		ticket := resource.NewTicket(delegationID, r.AuthorityProxy, r.Requested.GetUnits(), r.RequestedTerm)

		r.Approved = resource.NewResourceSet(r.Requested.GetUnits(), r.Requested.GetType(), ticket)
		r.Approved.Sliver = sliver
		r.ApprovedTerm = r.RequestedTerm
		r.BidPending = false

		granted = append(granted, d)
		grantedReservations = append(grantedReservations, r)
		c.AddOutlay(r)
		metrics.IncAllocationOutcome("granted")
	}

	c.mu.Lock()
	c.lastAllocation = now
	c.mu.Unlock()

	return granted, grantedReservations, failed, nil
}

func (c *Calendar) lastAllocationAndAdvanceLocked() (clock.Cycle, clock.Cycle) {
	start := c.lastAllocation + c.callInterval
	return start, start + c.horizon
}

func (c *Calendar) agedPast(bid Bid) bool {
	return bid.Submitted+c.queueThreshold < c.lastAllocation
}

// ValidateCandidateTerm aligns a requested term's endpoints to cycle
// boundaries, per spec §4.6 step 4's "align term start/end to cycle
// boundaries". Since Cycle already is the discretized unit, alignment is
// a pass-through validation that the term is well-formed.
func ValidateCandidateTerm(term clock.Term) error {
	if term.Start > term.End {
		return kerrors.InvalidTermf("term start %d after end %d", term.Start, term.End)
	}
	return nil
}
