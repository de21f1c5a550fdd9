package flow

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/orneryd/flowkeeper/pkg/graph"
	"github.com/orneryd/flowkeeper/pkg/history"
)

// Palette placement grid for nodes added without a position.
const (
	gridColumns = 3
	gridOriginX = 100.0
	gridOriginY = 100.0
	gridStepX   = 200.0
	gridStepY   = 150.0
)

// Offset and label suffix applied by DuplicateNode.
const (
	duplicateOffset      = 50.0
	duplicateLabelSuffix = " (Copy)"
)

// generateNodeID returns a random UUID, falling back to a timestamp and
// counter when the random source fails.
func (e *Engine) generateNodeID() string {
	if e.newID != nil {
		if id, err := e.newID(); err == nil && id != "" {
			return id
		}
	} else if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	return fmt.Sprintf("node-%d-%d", e.now().UnixNano(), e.idSeq.Add(1))
}

func (e *Engine) gridPosition() graph.Position {
	n := len(e.nodes)
	return graph.Position{
		X: gridOriginX + float64(n%gridColumns)*gridStepX,
		Y: gridOriginY + float64(n/gridColumns)*gridStepY,
	}
}

// AddNode creates a node of the given type and records an add action. A nil
// position places the node on the palette grid. Data keys outside the node
// whitelist are dropped.
func (e *Engine) AddNode(nodeType string, pos *graph.Position, data map[string]any) *graph.Node {
	e.lock()
	defer e.unlock()

	n := &graph.Node{
		ID:   e.generateNodeID(),
		Type: nodeType,
		Data: graph.MergeData(nil, sanitize(data, allowedNodeData)),
	}
	if pos != nil {
		n.Position = *pos
	} else {
		n.Position = e.gridPosition()
	}
	return e.insertNode(n)
}

// InsertNode adds a caller-built node. An empty id is generated; an id that
// is already present is rejected with nil.
func (e *Engine) InsertNode(node *graph.Node) *graph.Node {
	if node == nil {
		return nil
	}
	e.lock()
	defer e.unlock()

	n := node.Clone()
	if n.ID == "" {
		n.ID = e.generateNodeID()
	}
	if e.hasNode(n.ID) {
		e.log.Debug().Str("node", n.ID).Msg("insert rejected: id already present")
		return nil
	}
	n.Data = graph.MergeData(nil, sanitize(n.Data, allowedNodeData))
	return e.insertNode(n)
}

func (e *Engine) insertNode(n *graph.Node) *graph.Node {
	if len(e.addNodes([]*graph.Node{n})) == 0 {
		return nil
	}
	e.record(history.Action{Type: history.ActionAdd, Nodes: []*graph.Node{n}})
	return n
}

// DuplicateNode copies a node next to the original and records an add
// action. Returns nil for an unknown id.
func (e *Engine) DuplicateNode(id string) *graph.Node {
	e.lock()
	defer e.unlock()

	src := e.nodeByID(id)
	if src == nil {
		return nil
	}
	n := src.Clone()
	n.ID = e.generateNodeID()
	n.Selected = false
	n.Position = graph.Position{X: src.Position.X + duplicateOffset, Y: src.Position.Y + duplicateOffset}
	if label := src.Label(); label != "" {
		if n.Data == nil {
			n.Data = map[string]any{}
		}
		n.Data["label"] = label + duplicateLabelSuffix
	}
	return e.insertNode(n)
}

// RemoveNode deletes a node together with its incident edges. The edges are
// recorded first, then the node, so undo restores the node before its
// edges. An unknown id is a no-op returning nil.
func (e *Engine) RemoveNode(id string) *graph.Node {
	e.lock()
	defer e.unlock()

	removed := e.removeNodesRecorded([]string{id})
	if len(removed) == 0 {
		return nil
	}
	return removed[0]
}

// OnNodeDelete handles a keyboard or context-menu delete of several nodes.
func (e *Engine) OnNodeDelete(nodes []*graph.Node) []*graph.Node {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			ids = append(ids, n.ID)
		}
	}
	e.lock()
	defer e.unlock()
	return e.removeNodesRecorded(ids)
}

func (e *Engine) removeNodesRecorded(ids []string) []*graph.Node {
	var present []string
	for _, id := range ids {
		if e.hasNode(id) {
			present = append(present, id)
		}
	}
	if len(present) == 0 {
		return nil
	}

	var incident []string
	seen := make(map[string]struct{})
	for _, id := range present {
		for _, ed := range graph.ConnectedTo(e.edges, id) {
			if _, ok := seen[ed.ID]; !ok {
				seen[ed.ID] = struct{}{}
				incident = append(incident, ed.ID)
			}
		}
	}
	if removedEdges := e.removeEdges(incident); len(removedEdges) > 0 {
		e.record(history.Action{Type: history.ActionRemoveEdge, Edges: removedEdges})
	}

	removed := e.removeNodes(present)
	if len(removed) > 0 {
		e.record(history.Action{Type: history.ActionRemove, Nodes: removed})
	}
	return removed
}

// UpdateNodeData merges whitelisted keys into a node's data. Returns the new
// node, or nil for an unknown id.
func (e *Engine) UpdateNodeData(id string, partial map[string]any) *graph.Node {
	e.lock()
	defer e.unlock()

	n := e.nodeByID(id)
	if n == nil {
		return nil
	}
	clean := sanitize(partial, allowedNodeData)
	if len(clean) == 0 {
		return n
	}
	c := n.Clone()
	c.Data = graph.MergeData(n.Data, clean)
	e.replaceNode(c)
	return c
}

// ApplyNodeChanges applies a batch of canvas deltas.
//
// Position deltas with Dragging set move the node and remember where the
// drag started. The terminal delta of each drag (Dragging false) contributes
// one move to a single batched move action. Remove deltas delete the nodes
// and their incident edges with the same recording as OnNodeDelete.
func (e *Engine) ApplyNodeChanges(changes []graph.NodeChange) []*graph.Node {
	e.lock()
	defer e.unlock()

	var moves []history.Move
	var removals []string
	for _, ch := range changes {
		n := e.nodeByID(ch.ID)
		if n == nil {
			continue
		}
		switch ch.Type {
		case graph.ChangePosition:
			if mv, ok := e.applyPosition(n, ch); ok {
				moves = append(moves, mv)
			}
		case graph.ChangeSelect:
			if n.Selected != ch.Selected {
				c := n.Clone()
				c.Selected = ch.Selected
				e.replaceNode(c)
			}
		case graph.ChangeDimensions:
			if n.Width != ch.Width || n.Height != ch.Height {
				c := n.Clone()
				c.Width, c.Height = ch.Width, ch.Height
				e.replaceNode(c)
			}
		case graph.ChangeRemove:
			removals = append(removals, ch.ID)
		}
	}

	if len(moves) > 0 {
		e.record(history.Action{Type: history.ActionMove, Moves: moves})
	}
	if len(removals) > 0 {
		e.removeNodesRecorded(removals)
	}
	return e.nodesSnapshot()
}

// OnNodesChange is the canvas callback alias of ApplyNodeChanges.
func (e *Engine) OnNodesChange(changes []graph.NodeChange) []*graph.Node {
	return e.ApplyNodeChanges(changes)
}

// applyPosition moves n and reports the completed move when the delta ends a
// drag that changed the node's position.
func (e *Engine) applyPosition(n *graph.Node, ch graph.NodeChange) (history.Move, bool) {
	origin, dragging := e.dragOrigins[n.ID]
	if !dragging {
		origin = n.Position
	}
	if ch.Dragging {
		e.dragOrigins[n.ID] = origin
	} else {
		delete(e.dragOrigins, n.ID)
	}

	final := n.Position
	if ch.Position != nil && *ch.Position != n.Position {
		final = *ch.Position
		c := n.Clone()
		c.Position = final
		e.replaceNode(c)
	}

	if ch.Dragging || final == origin {
		return history.Move{}, false
	}
	return history.Move{ID: n.ID, Position: final, PrevPosition: origin}, true
}

// DraggingNodes returns the ids of nodes with an open drag gesture.
func (e *Engine) DraggingNodes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.dragOrigins))
	for id := range e.dragOrigins {
		ids = append(ids, id)
	}
	return ids
}
