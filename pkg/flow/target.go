package flow

import (
	"github.com/orneryd/flowkeeper/pkg/graph"
	"github.com/orneryd/flowkeeper/pkg/history"
)

// target applies history effects to an engine whose lock is already held.
type target Engine

var _ history.Target = (*target)(nil)

func (t *target) engine() *Engine { return (*Engine)(t) }

func (t *target) AddNodes(nodes []*graph.Node) {
	t.engine().addNodes(nodes)
}

func (t *target) RemoveNodes(ids []string) {
	t.engine().removeNodes(ids)
}

func (t *target) MoveNodes(positions map[string]graph.Position) {
	t.engine().moveNodes(positions)
}

func (t *target) AddEdges(edges []*graph.Edge) {
	t.engine().upsertEdges(edges)
}

func (t *target) RemoveEdges(ids []string) {
	t.engine().removeEdges(ids)
}

// addNodes appends nodes whose ids are not present yet. Later duplicates in
// the batch win.
func (e *Engine) addNodes(nodes []*graph.Node) []*graph.Node {
	var added []*graph.Node
	for _, n := range graph.DedupNodesByID(nodes) {
		if n.ID == "" || e.hasNode(n.ID) {
			continue
		}
		e.nodeIndex[n.ID] = len(e.nodes)
		e.nodes = append(e.nodes, n)
		added = append(added, n)
	}
	if len(added) > 0 {
		e.markNodes()
	}
	return added
}

// removeNodes drops nodes and any edge still incident to them. Callers that
// record history remove and record the edges first.
func (e *Engine) removeNodes(ids []string) []*graph.Node {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if e.hasNode(id) {
			drop[id] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return nil
	}

	kept := make([]*graph.Node, 0, len(e.nodes))
	var removed []*graph.Node
	for _, n := range e.nodes {
		if _, ok := drop[n.ID]; ok {
			removed = append(removed, n)
			delete(e.dragOrigins, n.ID)
			continue
		}
		kept = append(kept, n)
	}
	e.setNodes(kept)

	var strays []string
	for _, ed := range e.edges {
		_, src := drop[ed.Source]
		_, tgt := drop[ed.Target]
		if src || tgt {
			strays = append(strays, ed.ID)
		}
	}
	if len(strays) > 0 {
		e.log.Debug().Strs("edges", strays).Msg("dropping edges left dangling by node removal")
		e.removeEdges(strays)
	}
	return removed
}

func (e *Engine) moveNodes(positions map[string]graph.Position) {
	for id, p := range positions {
		n := e.nodeByID(id)
		if n == nil || n.Position == p {
			continue
		}
		c := n.Clone()
		c.Position = p
		e.replaceNode(c)
	}
}

// addEdges normalizes and appends edges whose ids are not present and whose
// endpoints exist. Later duplicates in the batch win.
func (e *Engine) addEdges(edges []*graph.Edge) []*graph.Edge {
	var added []*graph.Edge
	for _, ed := range graph.DedupByID(edges) {
		if !ed.Valid() {
			continue
		}
		if _, ok := e.edgeIndex[ed.ID]; ok {
			continue
		}
		if !e.hasNode(ed.Source) || !e.hasNode(ed.Target) {
			e.log.Debug().Str("edge", ed.ID).Str("source", ed.Source).Str("target", ed.Target).
				Msg("skipping edge with missing endpoint")
			continue
		}
		ed = graph.NormalizeEdge(ed)
		e.edgeIndex[ed.ID] = len(e.edges)
		e.edges = append(e.edges, ed)
		added = append(added, ed)
	}
	if len(added) > 0 {
		e.markEdges()
	}
	return added
}

// upsertEdges is addEdges for history replay: an edge whose id is already
// present is overwritten by the recorded one.
func (e *Engine) upsertEdges(edges []*graph.Edge) {
	appended := false
	for _, ed := range graph.DedupByID(edges) {
		if !ed.Valid() {
			continue
		}
		if !e.hasNode(ed.Source) || !e.hasNode(ed.Target) {
			e.log.Debug().Str("edge", ed.ID).Msg("replay skipped edge with missing endpoint")
			continue
		}
		ed = graph.NormalizeEdge(ed)
		if _, ok := e.edgeIndex[ed.ID]; ok {
			e.replaceEdge(ed)
			continue
		}
		e.edgeIndex[ed.ID] = len(e.edges)
		e.edges = append(e.edges, ed)
		appended = true
	}
	if appended {
		e.markEdges()
	}
}

func (e *Engine) removeEdges(ids []string) []*graph.Edge {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := e.edgeIndex[id]; ok {
			drop[id] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return nil
	}
	kept := make([]*graph.Edge, 0, len(e.edges))
	var removed []*graph.Edge
	for _, ed := range e.edges {
		if _, ok := drop[ed.ID]; ok {
			removed = append(removed, ed)
			continue
		}
		kept = append(kept, ed)
	}
	e.setEdges(kept)
	return removed
}
