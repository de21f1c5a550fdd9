package graph

// NodeExistsFunc reports whether a node id is present in the live graph.
type NodeExistsFunc func(id string) bool

// NodeSet returns a NodeExistsFunc backed by a snapshot of the given nodes.
func NodeSet(nodes []*Node) NodeExistsFunc {
	ids := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if n != nil {
			ids[n.ID] = struct{}{}
		}
	}
	return func(id string) bool {
		_, ok := ids[id]
		return ok
	}
}

// Valid reports whether the edge carries the fields required to live in the
// graph: an id and both endpoints.
func (e *Edge) Valid() bool {
	return e != nil && e.ID != "" && e.Source != "" && e.Target != ""
}

// FilterOrphans keeps the valid edges whose endpoints both exist. The
// returned slice shares edge pointers with the input.
func FilterOrphans(edges []*Edge, exists NodeExistsFunc) (kept []*Edge, dropped int) {
	kept = make([]*Edge, 0, len(edges))
	for _, e := range edges {
		if !e.Valid() || exists == nil || !exists(e.Source) || !exists(e.Target) {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	return kept, dropped
}

// DedupByID removes repeated edge ids. The later occurrence wins and takes
// the position of the first one.
func DedupByID(edges []*Edge) []*Edge {
	pos := make(map[string]int, len(edges))
	out := make([]*Edge, 0, len(edges))
	for _, e := range edges {
		if e == nil {
			continue
		}
		if i, ok := pos[e.ID]; ok {
			out[i] = e
			continue
		}
		pos[e.ID] = len(out)
		out = append(out, e)
	}
	return out
}

// DedupNodesByID is DedupByID for nodes.
func DedupNodesByID(nodes []*Node) []*Node {
	pos := make(map[string]int, len(nodes))
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if i, ok := pos[n.ID]; ok {
			out[i] = n
			continue
		}
		pos[n.ID] = len(out)
		out = append(out, n)
	}
	return out
}

// ConnectedTo returns the edges incident to nodeID.
func ConnectedTo(edges []*Edge, nodeID string) []*Edge {
	var out []*Edge
	for _, e := range edges {
		if e != nil && (e.Source == nodeID || e.Target == nodeID) {
			out = append(out, e)
		}
	}
	return out
}

// EdgeIDs returns the set of ids in edges.
func EdgeIDs(edges []*Edge) map[string]struct{} {
	ids := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		if e != nil {
			ids[e.ID] = struct{}{}
		}
	}
	return ids
}
