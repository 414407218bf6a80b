package resource

import (
	"github.com/meridianfed/fedres/internal/clock"
	"github.com/meridianfed/fedres/internal/kernel/idset"
	"github.com/meridianfed/fedres/pkg/kerrors"
)

// Ticket is the client/broker-side ConcreteSet: an issuer-signed
// delegation of N units of a resource type for a term. A Ticket is
// immutable once issued; Change replaces it wholesale, recording the
// previous unit count so mid-term shrink/grow can be queried via Holding.
type Ticket struct {
	DelegationID   idset.ID
	SourceAuthority string
	Units          int
	OldUnits       int
	Term           clock.Term
}

// NewTicket creates a Ticket for the given delegation, authority, unit
// count and term.
func NewTicket(delegationID idset.ID, sourceAuthority string, units int, term clock.Term) Ticket {
	return Ticket{DelegationID: delegationID, SourceAuthority: sourceAuthority, Units: units, Term: term}
}

// Change replaces the ticket wholesale with next, recording the prior unit
// count in OldUnits so Holding can answer queries about the transition
// window [Term.Start, Term.NewStart).
func (t Ticket) Change(next Ticket) Ticket {
	next.OldUnits = t.Units
	return next
}

// Holding returns the unit count in effect at cycle `when`: OldUnits
// during [Start, NewStart), Units during [NewStart, End], zero outside the
// term.
func (t Ticket) Holding(when clock.Cycle) int {
	switch {
	case when < t.Term.Start || when > t.Term.End:
		return 0
	case when < t.Term.NewStart:
		return t.OldUnits
	default:
		return t.Units
	}
}

// Add is unsupported on a Ticket; tickets are replaced wholesale via
// Change, never incrementally mutated.
func (t Ticket) Add(int) error {
	return kerrors.New(kerrors.InvalidArgument, "ticket does not support incremental add")
}

// Remove is unsupported on a Ticket, for the same reason as Add.
func (t Ticket) Remove(int) error {
	return kerrors.New(kerrors.InvalidArgument, "ticket does not support incremental remove")
}
