package flow

import (
	"fmt"

	"github.com/orneryd/flowkeeper/pkg/graph"
	"github.com/orneryd/flowkeeper/pkg/history"
)

// RestoreResult reports what RestoreEdges did.
type RestoreResult struct {
	// Replaced is true when the live edge set was empty and the restored
	// edges became the whole set.
	Replaced bool
	Added    int
	Dropped  int
}

// Connect creates an edge for a completed handle drag and records an
// addEdge action. It returns nil without mutating anything when an endpoint
// is missing or absent, or when an equivalent edge already exists.
func (e *Engine) Connect(conn graph.Connection) *graph.Edge {
	e.lock()
	defer e.unlock()

	if conn.Source == "" || conn.Target == "" {
		e.log.Debug().Str("source", conn.Source).Str("target", conn.Target).Msg("connect rejected: missing endpoint")
		return nil
	}
	src, tgt := e.nodeByID(conn.Source), e.nodeByID(conn.Target)
	if src == nil || tgt == nil {
		e.log.Debug().Str("source", conn.Source).Str("target", conn.Target).Msg("connect rejected: endpoint not in graph")
		return nil
	}

	candidate := graph.NormalizeEdge(&graph.Edge{
		Source:       conn.Source,
		Target:       conn.Target,
		SourceHandle: conn.SourceHandle,
		TargetHandle: conn.TargetHandle,
	})
	if e.hasEquivalent(candidate) {
		e.log.Debug().Str("source", conn.Source).Str("target", conn.Target).Msg("connect rejected: duplicate edge")
		return nil
	}

	edge := candidate.Clone()
	edge.ID = e.edgeID(conn.Source, conn.Target)
	edge.SourceOriginal = conn.Source
	edge.TargetOriginal = conn.Target
	edge.Type = graph.EdgeTypeDefault
	if isEliteEndpoint(src) || isEliteEndpoint(tgt) {
		edge.Type = graph.EdgeTypeElite
	}

	added := e.addEdges([]*graph.Edge{edge})
	if len(added) == 0 {
		return nil
	}
	e.record(history.Action{Type: history.ActionAddEdge, Edges: added})
	return added[0]
}

// OnConnect is the canvas callback alias of Connect.
func (e *Engine) OnConnect(conn graph.Connection) *graph.Edge {
	return e.Connect(conn)
}

func isEliteEndpoint(n *graph.Node) bool {
	return n.Type == graph.NodeTypeDecision || n.Type == graph.NodeTypeOption
}

func (e *Engine) hasEquivalent(candidate *graph.Edge) bool {
	for _, ed := range e.edges {
		if ed.Source != candidate.Source || ed.Target != candidate.Target {
			continue
		}
		existing := graph.NormalizeEdge(ed)
		if graph.HandlesEquivalent(existing.SourceHandle, candidate.SourceHandle) &&
			graph.HandlesEquivalent(existing.TargetHandle, candidate.TargetHandle) {
			return true
		}
	}
	return false
}

func (e *Engine) edgeID(source, target string) string {
	base := fmt.Sprintf("edge-%s-%s-%d", source, target, e.now().UnixNano())
	id := base
	for {
		if _, taken := e.edgeIndex[id]; !taken {
			return id
		}
		id = fmt.Sprintf("%s-%d", base, e.idSeq.Add(1))
	}
}

// RemoveConnectedTo deletes every edge incident to nodeID as one removeEdge
// action. No incident edges means no history entry.
func (e *Engine) RemoveConnectedTo(nodeID string) []*graph.Edge {
	e.lock()
	defer e.unlock()

	var ids []string
	for _, ed := range graph.ConnectedTo(e.edges, nodeID) {
		ids = append(ids, ed.ID)
	}
	removed := e.removeEdges(ids)
	if len(removed) > 0 {
		e.record(history.Action{Type: history.ActionRemoveEdge, Edges: removed})
	}
	return removed
}

// RemoveEdge deletes one edge and records it. Unknown ids return nil.
func (e *Engine) RemoveEdge(id string) *graph.Edge {
	e.lock()
	defer e.unlock()

	removed := e.removeEdges([]string{id})
	if len(removed) == 0 {
		return nil
	}
	e.record(history.Action{Type: history.ActionRemoveEdge, Edges: removed})
	return removed[0]
}

// ApplyEdgeChanges applies canvas edge deltas. All removals of the batch are
// recorded as one removeEdge action.
func (e *Engine) ApplyEdgeChanges(changes []graph.EdgeChange) []*graph.Edge {
	e.lock()
	defer e.unlock()

	var removals []string
	for _, ch := range changes {
		ed := e.edgeByID(ch.ID)
		if ed == nil {
			continue
		}
		switch ch.Type {
		case graph.ChangeRemove:
			removals = append(removals, ch.ID)
		case graph.ChangeSelect:
			if ed.Selected != ch.Selected {
				c := ed.Clone()
				c.Selected = ch.Selected
				e.replaceEdge(c)
			}
		}
	}
	if removed := e.removeEdges(removals); len(removed) > 0 {
		e.record(history.Action{Type: history.ActionRemoveEdge, Edges: removed})
	}
	return e.edgesSnapshot()
}

// OnEdgesChange is the canvas callback alias of ApplyEdgeChanges.
func (e *Engine) OnEdgesChange(changes []graph.EdgeChange) []*graph.Edge {
	return e.ApplyEdgeChanges(changes)
}

// UpdateEdgeData merges whitelisted keys into an edge's data. Not recorded.
func (e *Engine) UpdateEdgeData(id string, partial map[string]any) *graph.Edge {
	e.lock()
	defer e.unlock()

	ed := e.edgeByID(id)
	if ed == nil {
		return nil
	}
	clean := sanitize(partial, allowedEdgeData)
	if len(clean) == 0 {
		return ed
	}
	c := ed.Clone()
	c.Data = graph.MergeData(ed.Data, clean)
	e.replaceEdge(c)
	return c
}

// CleanUpEdges drops edges whose endpoints are missing. Not recorded.
func (e *Engine) CleanUpEdges() int {
	e.lock()
	defer e.unlock()

	kept, dropped := graph.FilterOrphans(e.edges, e.hasNode)
	if dropped > 0 {
		e.setEdges(kept)
	}
	return dropped
}

// RestoreEdges merges recovered edges into the live set through the same
// validation as every other edge insert. When no live edges exist the
// recovered set replaces it; otherwise only ids not present are appended.
// Recovery is not a user action and is never recorded.
func (e *Engine) RestoreEdges(edges []*graph.Edge) RestoreResult {
	e.lock()
	defer e.unlock()

	var res RestoreResult
	candidates := graph.DedupByID(edges)
	valid, dropped := graph.FilterOrphans(candidates, e.hasNode)
	res.Dropped = dropped
	if len(valid) == 0 {
		return res
	}

	res.Replaced = len(e.edges) == 0
	res.Added = len(e.addEdges(valid))
	return res
}

// ApplyEdgeGeometry updates cached endpoint coordinates. Edges whose
// coordinates do not change keep their identity. Not recorded.
func (e *Engine) ApplyEdgeGeometry(updates []graph.EndpointUpdate) int {
	e.lock()
	defer e.unlock()

	out, changed := graph.ApplyEndpointUpdates(e.edges, updates)
	if changed > 0 {
		e.edges = out
		e.markGeometry()
	}
	return changed
}
