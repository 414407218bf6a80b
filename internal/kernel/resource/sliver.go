package resource

// Sliver is an opaque descriptor of the concrete resource slice bound to a
// reservation or unit. The property-graph library (internal/graph) owns
// the rich representation; the kernel only needs to carry it through,
// diff it by interface list, and hand it to the substrate plugin.
type Sliver struct {
	NodeID     string
	Labels     Properties
	Interfaces []string
}

// Clone returns a deep-enough copy of s for independent mutation.
func (s Sliver) Clone() Sliver {
	return Sliver{
		NodeID:     s.NodeID,
		Labels:     s.Labels.Clone(),
		Interfaces: append([]string(nil), s.Interfaces...),
	}
}
