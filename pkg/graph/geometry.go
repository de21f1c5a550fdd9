package graph

// Fallback node size used before the canvas reports measurements.
const (
	DefaultNodeWidth  = 100.0
	DefaultNodeHeight = 40.0
)

// Center returns the node's center point.
func (n *Node) Center() Position {
	w, h := n.Width, n.Height
	if w <= 0 {
		w = DefaultNodeWidth
	}
	if h <= 0 {
		h = DefaultNodeHeight
	}
	return Position{X: n.Position.X + w/2, Y: n.Position.Y + h/2}
}

// ApplyEndpointUpdates returns edges with the given coordinate updates
// applied. Edges without an update, or whose coordinates would not change,
// keep their pointer. changed reports how many edges were replaced.
func ApplyEndpointUpdates(edges []*Edge, updates []EndpointUpdate) (out []*Edge, changed int) {
	if len(updates) == 0 {
		return edges, 0
	}
	byID := make(map[string]EndpointUpdate, len(updates))
	for _, u := range updates {
		prev, ok := byID[u.EdgeID]
		if ok {
			if u.Source == nil {
				u.Source = prev.Source
			}
			if u.Target == nil {
				u.Target = prev.Target
			}
		}
		byID[u.EdgeID] = u
	}

	out = make([]*Edge, len(edges))
	for i, e := range edges {
		out[i] = e
		if e == nil {
			continue
		}
		u, ok := byID[e.ID]
		if !ok || !endpointsDiffer(e, u) {
			continue
		}
		c := e.Clone()
		if u.Source != nil {
			c.SourceX, c.SourceY = u.Source.X, u.Source.Y
		}
		if u.Target != nil {
			c.TargetX, c.TargetY = u.Target.X, u.Target.Y
		}
		out[i] = c
		changed++
	}
	return out, changed
}

func endpointsDiffer(e *Edge, u EndpointUpdate) bool {
	if u.Source != nil && (e.SourceX != u.Source.X || e.SourceY != u.Source.Y) {
		return true
	}
	return u.Target != nil && (e.TargetX != u.Target.X || e.TargetY != u.Target.Y)
}
