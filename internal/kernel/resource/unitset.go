package resource

import (
	"github.com/meridianfed/fedres/internal/kernel/idset"
)

// Actuator is the subset of the substrate plugin contract the authority
// side's UnitSet needs to drive configuration actions. internal/substrate's
// Plugin implementation satisfies this interface structurally, keeping
// resource free of a dependency on the substrate package.
type Actuator interface {
	TransferIn(unit *Unit) (token string, err error)
	TransferOut(unit *Unit) (token string, err error)
	Modify(unit *Unit, modified Sliver) (token string, err error)
}

// UnitSet is the authority-side ConcreteSet: a dictionary of Units keyed
// by id.
type UnitSet struct {
	units map[idset.ID]*Unit
}

// NewUnitSet creates an empty UnitSet.
func NewUnitSet() *UnitSet {
	return &UnitSet{units: make(map[idset.ID]*Unit)}
}

// Add inserts unit into the set.
func (s *UnitSet) Add(u *Unit) {
	s.units[u.ID] = u
}

// Get returns the unit with id, or nil if absent.
func (s *UnitSet) Get(id idset.ID) *Unit {
	return s.units[id]
}

// Len returns the number of units currently tracked.
func (s *UnitSet) Len() int {
	return len(s.units)
}

// Snapshot returns the set's current units as a slice, safe to range over
// while the caller mutates the set.
func (s *UnitSet) Snapshot() []*Unit {
	out := make([]*Unit, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, u)
	}
	return out
}

// Change computes which units were gained and lost relative to next,
// without mutating either set; the caller applies the delta.
func (s *UnitSet) Change(next *UnitSet) (gained, lost []idset.ID) {
	for id := range next.units {
		if _, ok := s.units[id]; !ok {
			gained = append(gained, id)
		}
	}
	for id := range s.units {
		if _, ok := next.units[id]; !ok {
			lost = append(lost, id)
		}
	}
	return gained, lost
}

// Modify stages modified as the pending sliver for the unit with id and
// calls the substrate plugin to drive the configuration action
// asynchronously.
func (s *UnitSet) Modify(id idset.ID, modified Sliver, actuator Actuator) (token string, err error) {
	u := s.Get(id)
	if u == nil {
		return "", nil
	}
	u.StageModification(modified)
	return actuator.Modify(u, modified)
}

// CollectReleased returns the closed or failed units and removes them from
// the set.
func (s *UnitSet) CollectReleased() []*Unit {
	var released []*Unit
	for id, u := range s.units {
		if u.IsReleased() {
			released = append(released, u)
			delete(s.units, id)
		}
	}
	return released
}

// RestartActions re-drives Priming, Modifying, and Closing units based on
// their current state, used during kernel recovery to resume
// in-flight configuration actions that were interrupted by a restart.
func (s *UnitSet) RestartActions(actuator Actuator) []error {
	var errs []error
	for _, u := range s.Snapshot() {
		switch u.StateSnapshot() {
		case UnitPriming:
			if _, err := actuator.TransferIn(u); err != nil {
				errs = append(errs, err)
			}
		case UnitModifying:
			if u.Modified != nil {
				if _, err := actuator.Modify(u, *u.Modified); err != nil {
					errs = append(errs, err)
				}
			}
		case UnitClosing:
			if _, err := actuator.TransferOut(u); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}
