package policy

import (
	"sync"

	"github.com/meridianfed/fedres/internal/kernel/reservation"
	"github.com/meridianfed/fedres/internal/kernel/resource"
	"github.com/meridianfed/fedres/pkg/kerrors"
)

// ResourceControl handles Assign/CorrectDeficit for a single resource
// type, per spec §4.6's "Each control validates capacities and labels
// against a delegated capacity ... minus the sum of capacities already
// allocated to other non-terminal reservations on the same node".
type ResourceControl interface {
	Assign(r *reservation.Reservation) error
	CorrectDeficit(r *reservation.Reservation) (sendWithDeficit bool, err error)
}

// SimpleControl is a capacity-bounded ResourceControl: it tracks total
// delegated capacity per node and the units already committed to other
// non-terminal reservations.
type SimpleControl struct {
	mu        sync.Mutex
	capacity  map[string]int // node -> delegated capacity
	committed map[string]int // node -> units committed
}

// NewSimpleControl creates a control with the given per-node capacities.
func NewSimpleControl(capacity map[string]int) *SimpleControl {
	committed := make(map[string]int, len(capacity))
	cap2 := make(map[string]int, len(capacity))
	for k, v := range capacity {
		cap2[k] = v
	}
	return &SimpleControl{capacity: cap2, committed: committed}
}

func (c *SimpleControl) Assign(r *reservation.Reservation) error {
	node := r.Requested.GetSliver().NodeID
	units := r.Requested.GetUnits()

	c.mu.Lock()
	defer c.mu.Unlock()
	available := c.capacity[node] - c.committed[node]
	if units > available {
		return kerrors.InsufficientResourcesf("node %s has %d units available, requested %d", node, available, units)
	}
	c.committed[node] += units
	return nil
}

func (c *SimpleControl) CorrectDeficit(r *reservation.Reservation) (bool, error) {
	got := r.Approved.GetConcreteUnits(r.ApprovedTerm.Start)
	want := r.Requested.GetUnits()
	if got >= want {
		return false, nil
	}
	// Default policy: proceed with whatever was primed rather than
	// retrying indefinitely.
	return true, nil
}

// Authority is the default AuthorityPolicy: a dispatch table from
// resource type to ResourceControl plus notification no-ops that a
// deployment overrides for metering or alerting.
type Authority struct {
	mu       sync.Mutex
	controls map[string]ResourceControl
}

// NewAuthority creates an Authority with no controls registered.
func NewAuthority() *Authority {
	return &Authority{controls: make(map[string]ResourceControl)}
}

// RegisterControl associates resourceType with control.
func (a *Authority) RegisterControl(resourceType string, control ResourceControl) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.controls[resourceType] = control
}

func (a *Authority) controlFor(resourceType string) (ResourceControl, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.controls[resourceType]
	if !ok {
		return nil, kerrors.NotFoundf("resource control", resourceType)
	}
	return c, nil
}

func (a *Authority) Assign(r *reservation.Reservation) error {
	c, err := a.controlFor(r.Requested.GetType())
	if err != nil {
		return err
	}
	return c.Assign(r)
}

func (a *Authority) CorrectDeficit(r *reservation.Reservation) (bool, error) {
	c, err := a.controlFor(r.Requested.GetType())
	if err != nil {
		return false, err
	}
	return c.CorrectDeficit(r)
}

func (a *Authority) Available(resourceType string, sliver resource.Sliver) error { return nil }
func (a *Authority) Unavailable(resourceType string, sliver resource.Sliver) error { return nil }
func (a *Authority) Freed(r *reservation.Reservation) error                       { return nil }
func (a *Authority) Failed(r *reservation.Reservation, reason string) error       { return nil }
func (a *Authority) Recovered(r *reservation.Reservation) error                   { return nil }
func (a *Authority) Release(r *reservation.Reservation) error                     { return nil }
func (a *Authority) Close(r *reservation.Reservation) error                       { return nil }

func (a *Authority) ConfigurationComplete(action, token string, props resource.Properties, err error) error {
	return nil
}
