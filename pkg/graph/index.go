package graph

// Connections lists the ids of the edges touching one node, split by
// direction. Ids stay valid when an edge is replaced by an updated copy.
type Connections struct {
	// SourcesOf holds ids of edges where the node is the source.
	SourcesOf []string
	// TargetsOf holds ids of edges where the node is the target.
	TargetsOf []string
}

// Len returns the total number of incident edges.
func (c Connections) Len() int {
	return len(c.SourcesOf) + len(c.TargetsOf)
}

// ConnectionIndex caches node adjacency over an edge collection.
//
// The index is rebuilt only when the edge count changes. A mutation that
// keeps the count the same (for example a reconnect) must call Invalidate.
// Not safe for concurrent use; owners serialize access.
type ConnectionIndex struct {
	byNode  map[string]*Connections
	edgeLen int
	valid   bool
}

// NewConnectionIndex returns an empty index.
func NewConnectionIndex() *ConnectionIndex {
	return &ConnectionIndex{byNode: make(map[string]*Connections)}
}

// Refresh rebuilds the index if it is invalid or the edge count changed.
// Returns true when a rebuild happened.
func (ci *ConnectionIndex) Refresh(edges []*Edge) bool {
	if ci.valid && ci.edgeLen == len(edges) {
		return false
	}
	ci.rebuild(edges)
	return true
}

// Invalidate forces the next Refresh to rebuild.
func (ci *ConnectionIndex) Invalidate() {
	ci.valid = false
}

// Lookup returns the connections of a node. Unknown nodes yield an empty
// value.
func (ci *ConnectionIndex) Lookup(nodeID string) Connections {
	if c, ok := ci.byNode[nodeID]; ok {
		return *c
	}
	return Connections{}
}

// Size returns the number of indexed nodes.
func (ci *ConnectionIndex) Size() int {
	return len(ci.byNode)
}

func (ci *ConnectionIndex) rebuild(edges []*Edge) {
	ci.byNode = make(map[string]*Connections, len(edges))
	for _, e := range edges {
		if e == nil {
			continue
		}
		src := ci.entry(e.Source)
		src.SourcesOf = append(src.SourcesOf, e.ID)
		tgt := ci.entry(e.Target)
		tgt.TargetsOf = append(tgt.TargetsOf, e.ID)
	}
	ci.edgeLen = len(edges)
	ci.valid = true
}

func (ci *ConnectionIndex) entry(id string) *Connections {
	c, ok := ci.byNode[id]
	if !ok {
		c = &Connections{}
		ci.byNode[id] = c
	}
	return c
}
