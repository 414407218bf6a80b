// Package policy defines the broker and authority policy hook boundaries
// (C8, spec §4.7): the pluggable decision points the kernel dispatcher
// calls into at fixed points in a tick, kept free of kernel internals and
// invoked directly by method call rather than by name lookup.
package policy

import (
	"github.com/meridianfed/fedres/internal/clock"
	"github.com/meridianfed/fedres/internal/kernel/delegation"
	"github.com/meridianfed/fedres/internal/kernel/idset"
	"github.com/meridianfed/fedres/internal/kernel/reservation"
	"github.com/meridianfed/fedres/internal/kernel/resource"
)

// BrokerPolicy is the decision surface a broker actor's kernel consults
// while servicing tickets and delegations.
type BrokerPolicy interface {
	// Bind selects a delegation/ticket for a ticket or extend-ticket
	// request (the broker-side shadow is in Nascent/Ticketing or
	// Active/ExtendingTicket), the broker-side half of the ticket arc.
	Bind(r *reservation.Reservation) error
	// ExtendBroker revisits a ticket extension request against current
	// inventory.
	ExtendBroker(r *reservation.Reservation) error
	// Closed notifies the policy that a reservation has released its
	// ticket, so inventory bookkeeping can be updated.
	Closed(r *reservation.Reservation) error
	// FormulateBids returns the ids of reservations the policy wants
	// considered for allocation this cycle.
	FormulateBids(cycle clock.Cycle) []idset.ID
	// GetClosing returns the ids of reservations whose term ends at or
	// before cycle and that should be proactively closed.
	GetClosing(cycle clock.Cycle) []idset.ID
	// Revisit re-evaluates a reservation outside the normal request
	// flow, e.g. after a policy configuration change.
	Revisit(r *reservation.Reservation) error
	// RevisitDelegation re-evaluates a delegation's allocation.
	RevisitDelegation(d *delegation.Delegation) error
	// Query answers an out-of-band inventory query, e.g. available
	// capacity by resource type.
	Query(props resource.Properties) (resource.Properties, error)
}

// AuthorityPolicy is the decision surface an authority actor's kernel
// consults while assigning concrete resources to reservations.
type AuthorityPolicy interface {
	// Assign dispatches a reservation's requested ResourceSet to the
	// resource control responsible for its type.
	Assign(r *reservation.Reservation) error
	// CorrectDeficit is consulted when priming falls short of the
	// requested unit count; sendWithDeficit=true lets the reservation
	// proceed Active short of its request.
	CorrectDeficit(r *reservation.Reservation) (sendWithDeficit bool, err error)
	// Available notifies the policy that a sliver has become available
	// for assignment.
	Available(resourceType string, sliver resource.Sliver) error
	// Unavailable notifies the policy that a sliver is no longer
	// assignable (administratively removed, failed, etc).
	Unavailable(resourceType string, sliver resource.Sliver) error
	// Freed notifies the policy that a unit's resources were released
	// back to the pool.
	Freed(r *reservation.Reservation) error
	// Failed notifies the policy that a reservation failed during
	// assignment or configuration.
	Failed(r *reservation.Reservation, reason string) error
	// Recovered notifies the policy that a reservation completed
	// recovery processing.
	Recovered(r *reservation.Reservation) error
	// Release instructs the policy to tear down a reservation's
	// assigned resources.
	Release(r *reservation.Reservation) error
	// Close finalizes policy-side bookkeeping once a reservation
	// reaches a terminal state.
	Close(r *reservation.Reservation) error
	// ConfigurationComplete reports the outcome of an asynchronous
	// substrate action issued for a unit.
	ConfigurationComplete(action, token string, props resource.Properties, err error) error
}
