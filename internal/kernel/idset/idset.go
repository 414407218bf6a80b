// Package idset provides globally unique identifiers and typed sets of
// reservations/delegations with iteration snapshots safe to use while the
// underlying set is being mutated by the kernel dispatcher.
package idset

import (
	"github.com/google/uuid"
)

// ID is an opaque globally unique identifier with a stable string form.
type ID struct {
	value uuid.UUID
}

// New generates a fresh random ID.
func New() ID {
	return ID{value: uuid.New()}
}

// Parse parses s into an ID, returning an error if s is not a valid UUID.
func Parse(s string) (ID, error) {
	v, err := uuid.Parse(s)
	if err != nil {
		return ID{}, err
	}
	return ID{value: v}, nil
}

// String renders the ID in canonical UUID form.
func (id ID) String() string {
	return id.value.String()
}

// Equal reports whether id and other are the same identifier.
func (id ID) Equal(other ID) bool {
	return id.value == other.value
}

// IsZero reports whether id is the zero value (never assigned).
func (id ID) IsZero() bool {
	return id.value == uuid.Nil
}

// Set is a typed set of IDs keyed for O(1) membership and removal. It is
// not safe for concurrent use; callers holding the kernel lock serialize
// access.
type Set struct {
	members map[ID]struct{}
}

// NewSet creates an empty Set.
func NewSet() *Set {
	return &Set{members: make(map[ID]struct{})}
}

// Add inserts id into the set.
func (s *Set) Add(id ID) {
	s.members[id] = struct{}{}
}

// Remove deletes id from the set, a no-op if absent.
func (s *Set) Remove(id ID) {
	delete(s.members, id)
}

// Contains reports whether id is a member.
func (s *Set) Contains(id ID) bool {
	_, ok := s.members[id]
	return ok
}

// Len returns the number of members.
func (s *Set) Len() int {
	return len(s.members)
}

// Snapshot copies the current members into a slice, safe to range over
// while the caller subsequently mutates the set (e.g. during tick
// iteration where probing a reservation may remove it).
func (s *Set) Snapshot() []ID {
	out := make([]ID, 0, len(s.members))
	for id := range s.members {
		out = append(out, id)
	}
	return out
}
