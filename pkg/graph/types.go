// Package graph defines the flow graph model shared by every flowkeeper
// component: nodes, edges, gesture deltas and the pure helpers that keep edge
// handles and endpoints consistent.
//
// Graph values are shared by pointer. Helpers in this package never modify a
// Node or Edge they did not create; when something must change they return a
// modified copy, so pointer equality can be used as "unchanged" by callers
// such as the drag optimizer and UI adapters.
//
// Example:
//
//	e := &graph.Edge{ID: "e1", Source: "a", Target: "b", SourceHandle: "null"}
//	n := graph.NormalizeEdge(e)
//	fmt.Println(n.SourceHandle, n.TargetHandle) // output input
//	fmt.Println(graph.NormalizeEdge(n) == n)    // true
package graph

import "maps"

// Position is a node's canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a vertex of the flow graph.
//
// Width and Height are render measurements reported by the canvas; zero means
// the node has not been measured yet.
type Node struct {
	ID         string         `json:"id"`
	Type       string         `json:"type,omitempty"`
	Position   Position       `json:"position"`
	Data       map[string]any `json:"data,omitempty"`
	OriginalID string         `json:"originalId,omitempty"`
	Width      float64        `json:"width,omitempty"`
	Height     float64        `json:"height,omitempty"`
	Selected   bool           `json:"selected,omitempty"`
}

// Edge is a directed connection between two node handles.
//
// SourceX/SourceY/TargetX/TargetY cache the endpoint coordinates the drag
// optimizer last computed for the edge.
type Edge struct {
	ID             string         `json:"id"`
	Source         string         `json:"source"`
	Target         string         `json:"target"`
	SourceHandle   string         `json:"sourceHandle,omitempty"`
	TargetHandle   string         `json:"targetHandle,omitempty"`
	Type           string         `json:"type,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	SourceOriginal string         `json:"sourceOriginal,omitempty"`
	TargetOriginal string         `json:"targetOriginal,omitempty"`
	SourceX        float64        `json:"sourceX,omitempty"`
	SourceY        float64        `json:"sourceY,omitempty"`
	TargetX        float64        `json:"targetX,omitempty"`
	TargetY        float64        `json:"targetY,omitempty"`
	Selected       bool           `json:"selected,omitempty"`
}

// Node types with special edge styling.
const (
	NodeTypeDecision = "decision"
	NodeTypeOption   = "option"
)

// Edge types.
const (
	EdgeTypeDefault = "default"
	EdgeTypeElite   = "eliteEdge"
)

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Data = cloneData(n.Data)
	return &c
}

// Clone returns a deep copy of the edge.
func (e *Edge) Clone() *Edge {
	if e == nil {
		return nil
	}
	c := *e
	c.Data = cloneData(e.Data)
	return &c
}

// Label returns the node's display label, if any.
func (n *Node) Label() string {
	if n == nil || n.Data == nil {
		return ""
	}
	s, _ := n.Data["label"].(string)
	return s
}

// CloneNodes deep-copies a node slice, skipping nil entries.
func CloneNodes(nodes []*Node) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			out = append(out, n.Clone())
		}
	}
	return out
}

// CloneEdges deep-copies an edge slice, skipping nil entries.
func CloneEdges(edges []*Edge) []*Edge {
	out := make([]*Edge, 0, len(edges))
	for _, e := range edges {
		if e != nil {
			out = append(out, e.Clone())
		}
	}
	return out
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneData(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}

// MergeData returns a copy of base with the keys of patch applied on top.
func MergeData(base, patch map[string]any) map[string]any {
	out := cloneData(base)
	if out == nil {
		out = make(map[string]any, len(patch))
	}
	maps.Copy(out, cloneData(patch))
	return out
}
