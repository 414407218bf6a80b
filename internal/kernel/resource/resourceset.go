package resource

import (
	"github.com/meridianfed/fedres/internal/clock"
	"github.com/meridianfed/fedres/pkg/kerrors"
)

// ConcreteSet is the common contract of Ticket (client/broker side) and
// UnitSet (authority side): each represents the actual resources backing
// a ResourceSet, with a notion of "how many units are in effect at a given
// cycle".
type ConcreteSet interface {
	// HoldingAt returns the unit count in effect at the given cycle.
	HoldingAt(when clock.Cycle) int
}

// HoldingAt implements ConcreteSet for Ticket.
func (t Ticket) HoldingAt(when clock.Cycle) int { return t.Holding(when) }

// HoldingAt implements ConcreteSet for UnitSet: all non-released units
// count, regardless of cycle, since authority-side unit counts are not
// term-sliced the way tickets are.
func (s *UnitSet) HoldingAt(clock.Cycle) int {
	n := 0
	for _, u := range s.units {
		if !u.IsReleased() {
			n++
		}
	}
	return n
}

// ResourceSet is the unit of resource exchange between actors: an abstract
// unit count, a resource type tag, a ConcreteSet backing it, a sliver
// descriptor, and three property bags.
type ResourceSet struct {
	Units        int
	Type         string
	Concrete     ConcreteSet
	Sliver       Sliver
	RequestProps Properties
	ResourceProps Properties
	ConfigProps  Properties
}

// NewResourceSet creates a ResourceSet with empty property bags.
func NewResourceSet(units int, resourceType string, concrete ConcreteSet) ResourceSet {
	return ResourceSet{
		Units:         units,
		Type:          resourceType,
		Concrete:      concrete,
		RequestProps:  Properties{},
		ResourceProps: Properties{},
		ConfigProps:   Properties{},
	}
}

// GetUnits returns the abstract unit count.
func (r ResourceSet) GetUnits() int { return r.Units }

// GetConcreteUnits returns the concrete unit count in effect at cycle
// `when`, per the backing ConcreteSet.
func (r ResourceSet) GetConcreteUnits(when clock.Cycle) int {
	if r.Concrete == nil {
		return 0
	}
	return r.Concrete.HoldingAt(when)
}

// GetType returns the resource type tag.
func (r ResourceSet) GetType() string { return r.Type }

// GetSliver returns the resource set's sliver descriptor.
func (r ResourceSet) GetSliver() Sliver { return r.Sliver }

// Update merges incoming into r, replacing the concrete set and sliver and
// taking the union of property bags (incoming wins on key conflict).
func (r ResourceSet) Update(incoming ResourceSet) ResourceSet {
	merged := r
	merged.Units = incoming.Units
	merged.Concrete = incoming.Concrete
	merged.Sliver = incoming.Sliver
	merged.RequestProps = mergeProps(r.RequestProps, incoming.RequestProps)
	merged.ResourceProps = mergeProps(r.ResourceProps, incoming.ResourceProps)
	merged.ConfigProps = mergeProps(r.ConfigProps, incoming.ConfigProps)
	return merged
}

func mergeProps(base, incoming Properties) Properties {
	out := base.Clone()
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

// AbstractClone returns a same-shape empty ResourceSet: same type, zero
// units, no concrete backing, empty property bags.
func (r ResourceSet) AbstractClone() ResourceSet {
	return ResourceSet{
		Type:          r.Type,
		RequestProps:  Properties{},
		ResourceProps: Properties{},
		ConfigProps:   Properties{},
	}
}

// IsEmpty reports whether the resource set carries zero units.
func (r ResourceSet) IsEmpty() bool {
	return r.Units == 0
}

// ValidateIncoming rejects a ResourceSet with a negative unit count or a
// missing type tag; called on server-side RPC payloads before they reach
// the state machine.
func (r ResourceSet) ValidateIncoming() error {
	if r.Units < 0 {
		return kerrors.InvalidArgumentf("resource set units must be non-negative, got %d", r.Units)
	}
	if r.Type == "" {
		return kerrors.InvalidArgumentf("resource set type is required")
	}
	return nil
}

// ValidateIncomingTicket rejects a ResourceSet whose backing Ticket does
// not cover term.
func (r ResourceSet) ValidateIncomingTicket(term clock.Term) error {
	ticket, ok := r.Concrete.(Ticket)
	if !ok {
		return kerrors.InvalidArgumentf("resource set has no ticket to validate")
	}
	if ticket.Term.Start > term.Start || ticket.Term.End < term.End {
		return kerrors.InvalidTermf("ticket term %v does not cover requested term %v", ticket.Term, term)
	}
	return nil
}

// FixAbstractUnits sets Units to match the concrete holding at `when`,
// used after an allocator pass changes the backing concrete set without
// updating the abstract count directly.
func (r ResourceSet) FixAbstractUnits(when clock.Cycle) ResourceSet {
	r.Units = r.GetConcreteUnits(when)
	return r
}
