// Package delegation implements the delegation state machine (C4): an
// offer of resource capacity from one actor to another, backed by a
// property-graph fragment. It mirrors the reservation lifecycle with a
// reduced state set.
package delegation

import (
	"sync"

	"github.com/meridianfed/fedres/internal/graph"
	"github.com/meridianfed/fedres/internal/kernel/idset"
	"github.com/meridianfed/fedres/pkg/kerrors"
)

// State is the delegation's lifecycle state.
type State string

const (
	Nascent   State = "Nascent"
	Delegated State = "Delegated"
	Closed    State = "Closed"
	Failed    State = "Failed"
)

// transitions enumerates the permitted (from, to) arcs; any move not
// listed here is rejected with InvalidState.
var transitions = map[State]map[State]bool{
	Nascent:   {Delegated: true, Failed: true, Closed: true},
	Delegated: {Closed: true, Failed: true},
	Closed:    {},
	Failed:    {},
}

// Delegation is an offer of resource capacity between two actors.
type Delegation struct {
	mu sync.Mutex

	ID     idset.ID
	Slice  idset.ID
	State  State
	Graph  graph.Handle
	Issuer string
	Holder string
}

// New creates a Delegation in Nascent state, carrying graph as its
// property-graph fragment (ARM).
func New(id, slice idset.ID, issuer, holder string, g graph.Handle) *Delegation {
	return &Delegation{ID: id, Slice: slice, State: Nascent, Graph: g, Issuer: issuer, Holder: holder}
}

// IsTerminal reports whether the delegation is in a terminal state.
func (d *Delegation) IsTerminal() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.State == Closed || d.State == Failed
}

// CurrentState returns the delegation's current state.
func (d *Delegation) CurrentState() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.State
}

// Transition moves the delegation to `to`, rejecting disallowed arcs with
// kerrors.InvalidState.
func (d *Delegation) Transition(to State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !transitions[d.State][to] {
		return kerrors.InvalidStatef("delegation %s: no transition %s -> %s", d.ID, d.State, to)
	}
	d.State = to
	return nil
}

// Delegate moves a Nascent delegation to Delegated once its graph
// fragment passes validation, or to Failed if it does not. It does not
// merge the fragment into any inventory graph.
func (d *Delegation) Delegate() error {
	if err := d.Graph.Validate(); err != nil {
		_ = d.Transition(Failed)
		return kerrors.Wrap(kerrors.ProtocolError, "delegation graph fragment failed validation", err)
	}
	return d.Transition(Delegated)
}

// AmendDelegate merges an additional graph fragment into an already
// Delegated delegation's handle.
func (d *Delegation) AmendDelegate(fragment graph.Handle) error {
	d.mu.Lock()
	state := d.State
	d.mu.Unlock()
	if state != Delegated {
		return kerrors.InvalidStatef("delegation %s: amend requires Delegated, in %s", d.ID, state)
	}
	merged, err := d.Graph.Merge(fragment)
	if err != nil {
		return kerrors.Wrap(kerrors.ProtocolError, "merge delegation graph fragment", err)
	}
	d.mu.Lock()
	d.Graph = merged
	d.mu.Unlock()
	return nil
}

// Close transitions the delegation to Closed from any non-terminal state.
func (d *Delegation) Close() error {
	return d.Transition(Closed)
}
