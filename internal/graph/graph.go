// Package graph defines the property-graph boundary (§4.10, §6 "Graph
// library"): building, serializing, merging, and validating the slivers
// and resource models that back delegations. No real property-graph
// engine is wired; internal/graph/memgraph provides an in-memory
// implementation sufficient to drive delegation tests.
package graph

import "github.com/meridianfed/fedres/internal/kernel/resource"

// SliverDiff reports the added/removed/modified interfaces and services
// between two slivers of the same node.
type SliverDiff struct {
	AddedInterfaces    []string
	RemovedInterfaces  []string
	ModifiedInterfaces []string
	AddedServices      []string
	RemovedServices    []string
	ModifiedServices   []string
}

// Handle is an opaque reference to a property-graph fragment (ARM). Every
// delegation carries one; the kernel never inspects its internals beyond
// this interface.
type Handle interface {
	// Validate checks internal consistency of the graph fragment.
	Validate() error
	// Serialize renders the fragment to its wire form.
	Serialize() ([]byte, error)
	// Merge combines other into this handle's fragment, returning the
	// merged result without mutating either input.
	Merge(other Handle) (Handle, error)
	// ExtractNodeSliver returns the sliver bound to the given graph node
	// id.
	ExtractNodeSliver(nodeID string) (resource.Sliver, error)
	// Diff computes the SliverDiff between this fragment's view of a node
	// and other's.
	Diff(other Handle, nodeID string) (SliverDiff, error)
}
