// Package database defines the persistence plugin boundary (§6): per-
// entity add/update/remove for reservations, delegations, and slices, plus
// the lookups the kernel's recovery path needs at startup. The kernel
// assumes no multi-entity transactions; every operation here is atomic at
// the single-entity grain.
package database

import "context"

// EntityKind distinguishes the three persisted aggregate types.
type EntityKind string

const (
	EntityReservation EntityKind = "reservation"
	EntityDelegation  EntityKind = "delegation"
	EntitySlice       EntityKind = "slice"
)

// Record is the generic persisted form of a reservation, delegation, or
// slice. The kernel owns serialization (Payload is opaque to the plugin);
// this keeps the database boundary schema-agnostic per spec §1's
// persistence-backing-store non-goal.
type Record struct {
	ID      string
	SliceID string
	Kind    EntityKind
	Payload []byte
}

// Plugin is the persistence contract every backing store implements.
type Plugin interface {
	AddReservation(ctx context.Context, r Record) error
	UpdateReservation(ctx context.Context, r Record) error
	RemoveReservation(ctx context.Context, id string) error
	GetReservations(ctx context.Context, sliceID string) ([]Record, error)

	AddDelegation(ctx context.Context, d Record) error
	UpdateDelegation(ctx context.Context, d Record) error
	RemoveDelegation(ctx context.Context, id string) error
	GetDelegation(ctx context.Context, id string) (Record, error)

	AddSlice(ctx context.Context, s Record) error
	UpdateSlice(ctx context.Context, s Record) error
	RemoveSlice(ctx context.Context, id string) error
	GetSlices(ctx context.Context, id string) ([]Record, error)

	Close() error
}
