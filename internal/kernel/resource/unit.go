package resource

import (
	"sync"

	"github.com/meridianfed/fedres/internal/kernel/idset"
)

// UnitState is the lifecycle of a single concrete resource instance on the
// authority side.
type UnitState string

const (
	UnitDefault   UnitState = "Default"
	UnitPriming   UnitState = "Priming"
	UnitActive    UnitState = "Active"
	UnitModifying UnitState = "Modifying"
	UnitClosing   UnitState = "Closing"
	UnitClosed    UnitState = "Closed"
	UnitFailed    UnitState = "Failed"
)

// Unit is a concrete, individually tracked resource instance on the
// authority side. Transitions are guarded by mu; callers must not inspect
// or mutate fields directly from outside the Unit's own methods.
type Unit struct {
	mu sync.Mutex

	ID           idset.ID
	ParentID     idset.ID
	ResourceType string
	Sliver       Sliver
	State        UnitState
	Modified     *Sliver
	Notices      []string
	Sequence     int64
}

// NewUnit creates a Unit in UnitDefault state.
func NewUnit(id, parentID idset.ID, resourceType string, sliver Sliver) *Unit {
	return &Unit{ID: id, ParentID: parentID, ResourceType: resourceType, Sliver: sliver, State: UnitDefault}
}

// Transition moves the unit to state, under the unit's mutex.
func (u *Unit) Transition(state UnitState) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.State = state
}

// StateSnapshot returns the unit's current state.
func (u *Unit) StateSnapshot() UnitState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.State
}

// StageModification stages a modified sliver for later commit by
// CommitModification, without altering the unit's active Sliver.
func (u *Unit) StageModification(s Sliver) {
	u.mu.Lock()
	defer u.mu.Unlock()
	clone := s.Clone()
	u.Modified = &clone
	u.State = UnitModifying
}

// CommitModification replaces the active Sliver with the staged
// modification and clears the staging slot.
func (u *Unit) CommitModification() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Modified != nil {
		u.Sliver = *u.Modified
		u.Modified = nil
	}
	u.State = UnitActive
}

// AddNotice appends a notice to the unit's notice bag.
func (u *Unit) AddNotice(notice string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Notices = append(u.Notices, notice)
}

// NextSequence increments and returns the unit's sequence counter.
func (u *Unit) NextSequence() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Sequence++
	return u.Sequence
}

// IsReleased reports whether the unit is Closed or Failed and therefore
// eligible for CollectReleased.
func (u *Unit) IsReleased() bool {
	s := u.StateSnapshot()
	return s == UnitClosed || s == UnitFailed
}
