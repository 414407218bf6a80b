// Package slice implements the slice state machine (C4): a named
// container of reservations whose state is a pure function of the state
// histogram of its members, recomputed on every tick.
package slice

import (
	"encoding/json"
	"sync"

	"github.com/meridianfed/fedres/internal/graph"
	"github.com/meridianfed/fedres/internal/kernel/idset"
	"github.com/meridianfed/fedres/internal/kernel/reservation"
	"github.com/meridianfed/fedres/internal/kernel/resource"
	"github.com/meridianfed/fedres/pkg/kerrors"
)

// Kind is the slice's role.
type Kind string

const (
	KindClient      Kind = "Client"
	KindBrokerClient Kind = "BrokerClient"
	KindInventory   Kind = "Inventory"
)

// State is the slice's lifecycle state.
type State string

const (
	Nascent     State = "Nascent"
	Configuring State = "Configuring"
	StableOK    State = "StableOK"
	StableError State = "StableError"
	Modifying   State = "Modifying"
	ModifyOK    State = "ModifyOK"
	ModifyError State = "ModifyError"
	Closing     State = "Closing"
	Dead        State = "Dead"
)

// validFromStates gates each slice operation to the states it may be
// invoked from; an attempt outside this set fails with
// InvalidSliceTransition (modeled as kerrors.InvalidState).
var validFromStates = map[string]map[State]bool{
	"Create":        {Nascent: true},
	"Modify":        {StableOK: true, StableError: true},
	"ModifyAccept":  {Modifying: true},
	"Delete":        {StableOK: true, StableError: true, ModifyOK: true, ModifyError: true, Nascent: true, Configuring: true},
	"Reevaluate":    {Nascent: true, Configuring: true, Modifying: true, StableOK: true, StableError: true, ModifyOK: true, ModifyError: true, Closing: true},
}

// Slice is a named container for reservations owned by an authenticated
// principal.
type Slice struct {
	mu sync.Mutex

	ID      idset.ID
	Name    string
	Owner   string
	Project string
	Kind    Kind
	Graph   graph.Handle
	Config  resource.Properties
	Dirty   bool
	State   State

	reservations map[idset.ID]*reservation.Reservation
}

// New creates a Slice in Nascent state with an empty reservation set.
func New(id idset.ID, name, owner, project string, kind Kind) *Slice {
	return &Slice{
		ID:           id,
		Name:         name,
		Owner:        owner,
		Project:      project,
		Kind:         kind,
		Config:       resource.Properties{},
		State:        Nascent,
		reservations: make(map[idset.ID]*reservation.Reservation),
	}
}

// guardOperation rejects op if the slice is not in one of op's valid
// source states.
func (s *Slice) guardOperation(op string) error {
	if !validFromStates[op][s.State] {
		return kerrors.InvalidStatef("slice %s: %s invalid from %s", s.ID, op, s.State)
	}
	return nil
}

// Create transitions a Nascent slice to Configuring.
func (s *Slice) Create() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardOperation("Create"); err != nil {
		return err
	}
	s.State = Configuring
	s.Dirty = true
	return nil
}

// Modify transitions a stable slice to Modifying.
func (s *Slice) Modify() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardOperation("Modify"); err != nil {
		return err
	}
	s.State = Modifying
	s.Dirty = true
	return nil
}

// Register adds reservation r to the slice's reservation set. Mutation of
// the reservation set is only permitted under the kernel lock, enforced
// by the caller (the dispatcher) serializing all calls to Register.
func (s *Slice) Register(r *reservation.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reservations[r.ID]; exists {
		return kerrors.InvalidStatef("slice %s: reservation %s already registered", s.ID, r.ID)
	}
	s.reservations[r.ID] = r
	s.Dirty = true
	return nil
}

// Unregister removes reservation id from the slice, accepting only
// terminal reservations.
func (s *Slice) Unregister(id idset.ID, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !terminal {
		return kerrors.InvalidStatef("slice %s: unregister requires a terminal reservation", s.ID)
	}
	delete(s.reservations, id)
	s.Dirty = true
	return nil
}

// Delete transitions the slice to Closing, permitted only when its
// reservation set is empty or every member has reached a terminal state.
func (s *Slice) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardOperation("Delete"); err != nil {
		return err
	}
	for id, r := range s.reservations {
		if state, _, _ := r.CurrentState(); !state.IsTerminal() {
			return kerrors.InvalidStatef("slice %s: reservation %s is not terminal", s.ID, id)
		}
	}
	s.State = Closing
	s.Dirty = true
	return nil
}

// ReservationCount returns the number of reservations currently
// registered to the slice.
func (s *Slice) ReservationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservations)
}

// bins classifies the slice's reservations by (State, PendingState),
// mirroring spec §4.3's "classify each reservation into bins" step.
type bins struct {
	allActiveOrClosed   bool
	stableErrorSignature bool
	terminalSignature   bool
	closingPending      bool
}

func (s *Slice) computeBins() bins {
	allOK := true
	stableErr := true
	sawFailed := false
	terminalOnly := true
	closingPending := false

	for _, r := range s.reservations {
		state, pending, _ := r.CurrentState()
		if state != reservation.Active && state != reservation.Closed {
			allOK = false
		}
		if state != reservation.Active && state != reservation.Closed && state != reservation.Failed {
			stableErr = false
		}
		if state == reservation.Failed {
			sawFailed = true
		}
		if state != reservation.Closed && state != reservation.CloseWait && state != reservation.Failed {
			terminalOnly = false
		}
		if pending == reservation.PendingClosing {
			closingPending = true
		}
	}

	return bins{
		allActiveOrClosed:    allOK,
		stableErrorSignature: stableErr && sawFailed,
		terminalSignature:    terminalOnly,
		closingPending:       closingPending,
	}
}

// Reevaluate recomputes slice state from the current bin multiset of its
// reservations, per the transition table in spec §4.3. It is a pure
// function of current reservation states and is idempotent when invoked
// repeatedly without reservation changes in between.
func (s *Slice) Reevaluate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.computeBins()

	switch s.State {
	case Nascent, Configuring:
		switch {
		case b.terminalSignature:
			s.State = Closing
		case b.stableErrorSignature:
			s.State = StableError
		case b.allActiveOrClosed:
			s.State = StableOK
		}
	case Modifying:
		switch {
		case b.terminalSignature:
			s.State = Closing
		case b.stableErrorSignature:
			s.State = ModifyError
		case b.allActiveOrClosed:
			s.State = ModifyOK
		}
	case StableOK, StableError, ModifyOK, ModifyError:
		if b.terminalSignature {
			if b.closingPending {
				s.State = Closing
			} else {
				s.State = Dead
			}
		}
	case Closing:
		if b.terminalSignature {
			s.State = Dead
		}
	}

	s.Dirty = true
}

// CurrentState returns the slice's current lifecycle state.
func (s *Slice) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// Snapshot is the serializable projection of a Slice persisted to a
// database.Record's opaque Payload.
type Snapshot struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Owner    string `json:"owner"`
	Project  string `json:"project"`
	Kind     Kind   `json:"kind"`
	State    State  `json:"state"`
}

// Snapshot captures the slice's current persistable state.
func (s *Slice) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:      s.ID.String(),
		Name:    s.Name,
		Owner:   s.Owner,
		Project: s.Project,
		Kind:    s.Kind,
		State:   s.State,
	}
}

// Marshal encodes the snapshot as the Payload of a database.Record.
func (s Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSnapshot decodes a database.Record's Payload back into a
// Snapshot.
func UnmarshalSnapshot(payload []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, kerrors.Wrap(kerrors.InvalidArgument, "decode slice snapshot", err)
	}
	return snap, nil
}

// FromSnapshot reconstructs a Slice from a persisted Snapshot. The
// returned Slice has an empty reservation set; callers that need member
// reservations load them separately via database.Plugin.GetReservations.
func FromSnapshot(snap Snapshot) (*Slice, error) {
	id, err := idset.Parse(snap.ID)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.InvalidArgument, "parse slice id", err)
	}
	s := New(id, snap.Name, snap.Owner, snap.Project, snap.Kind)
	s.State = snap.State
	return s, nil
}
