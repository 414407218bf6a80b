// Package memgraph is an in-memory graph.Handle adequate to drive
// delegation tests without a real property-graph engine.
package memgraph

import (
	"encoding/json"
	"fmt"

	"github.com/meridianfed/fedres/internal/graph"
	"github.com/meridianfed/fedres/internal/kernel/resource"
)

// Node is a single ARM node: an id plus the sliver bound to it.
type Node struct {
	ID     string
	Sliver resource.Sliver
}

// Graph is an in-memory collection of Nodes, keyed by ID.
type Graph struct {
	Nodes map[string]Node
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{Nodes: make(map[string]Node)}
}

// Build constructs a Graph from a flat list of nodes, erroring on
// duplicate ids.
func Build(nodes []Node) (*Graph, error) {
	g := New()
	for _, n := range nodes {
		if _, exists := g.Nodes[n.ID]; exists {
			return nil, fmt.Errorf("duplicate graph node id %q", n.ID)
		}
		g.Nodes[n.ID] = n
	}
	return g, nil
}

// Validate checks that every node has a non-empty id and that any sliver
// NodeID it carries matches that id.
func (g *Graph) Validate() error {
	for id, n := range g.Nodes {
		if id == "" {
			return fmt.Errorf("graph node has empty id")
		}
		if n.Sliver.NodeID != "" && n.Sliver.NodeID != id {
			return fmt.Errorf("graph node %q sliver carries mismatched node id %q", id, n.Sliver.NodeID)
		}
	}
	return nil
}

// Serialize renders the graph as JSON.
func (g *Graph) Serialize() ([]byte, error) {
	return json.Marshal(g.Nodes)
}

// Merge combines g and other's nodes into a new Graph; on id conflict the
// other graph's node wins, matching an amend-delegate overlay semantics.
func (g *Graph) Merge(other graph.Handle) (graph.Handle, error) {
	o, ok := other.(*Graph)
	if !ok {
		return nil, fmt.Errorf("memgraph.Merge: incompatible handle type %T", other)
	}
	merged := New()
	for id, n := range g.Nodes {
		merged.Nodes[id] = n
	}
	for id, n := range o.Nodes {
		merged.Nodes[id] = n
	}
	return merged, nil
}

// ExtractNodeSliver returns the sliver bound to nodeID.
func (g *Graph) ExtractNodeSliver(nodeID string) (resource.Sliver, error) {
	n, ok := g.Nodes[nodeID]
	if !ok {
		return resource.Sliver{}, fmt.Errorf("graph node %q not found", nodeID)
	}
	return n.Sliver, nil
}

// Diff compares this graph's view of nodeID against other's, reporting
// interface differences. Labels are not compared.
func (g *Graph) Diff(other graph.Handle, nodeID string) (graph.SliverDiff, error) {
	mine, err := g.ExtractNodeSliver(nodeID)
	if err != nil {
		return graph.SliverDiff{}, err
	}
	o, ok := other.(*Graph)
	if !ok {
		return graph.SliverDiff{}, fmt.Errorf("memgraph.Diff: incompatible handle type %T", other)
	}
	theirs, err := o.ExtractNodeSliver(nodeID)
	if err != nil {
		return graph.SliverDiff{}, err
	}

	mineSet := toSet(mine.Interfaces)
	theirSet := toSet(theirs.Interfaces)

	var diff graph.SliverDiff
	for iface := range theirSet {
		if !mineSet[iface] {
			diff.AddedInterfaces = append(diff.AddedInterfaces, iface)
		}
	}
	for iface := range mineSet {
		if !theirSet[iface] {
			diff.RemovedInterfaces = append(diff.RemovedInterfaces, iface)
		}
	}
	return diff, nil
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}
