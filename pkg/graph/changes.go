package graph

// ChangeType identifies the kind of gesture delta reported by the canvas.
type ChangeType string

const (
	ChangePosition   ChangeType = "position"
	ChangeSelect     ChangeType = "select"
	ChangeRemove     ChangeType = "remove"
	ChangeDimensions ChangeType = "dimensions"
)

// NodeChange is a single node delta.
//
// For ChangePosition, Dragging reports whether the pointer is still down.
// A delta with Dragging false ends the drag gesture for that node. Position
// may be nil on the terminal delta, in which case the last known position is
// kept.
type NodeChange struct {
	ID       string
	Type     ChangeType
	Position *Position
	Dragging bool
	Selected bool
	Width    float64
	Height   float64
}

// EdgeChange is a single edge delta. Only ChangeRemove and ChangeSelect apply
// to edges.
type EdgeChange struct {
	ID       string
	Type     ChangeType
	Selected bool
}

// Connection is the request produced when the user drags from one handle to
// another.
type Connection struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// EndpointUpdate carries new endpoint coordinates for one edge. A nil side
// leaves that endpoint untouched.
type EndpointUpdate struct {
	EdgeID string
	Source *Position
	Target *Position
}
