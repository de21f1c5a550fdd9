package flow

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"

	"github.com/orneryd/flowkeeper/pkg/graph"
)

// Document is the serialized shape of a whole flow.
type Document struct {
	Nodes []*graph.Node `json:"nodes"`
	Edges []*graph.Edge `json:"edges"`
}

// ReadDocument decodes a flow document.
func ReadDocument(r io.Reader) (*Document, error) {
	var doc Document
	if err := sonic.ConfigDefault.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("flow: failed to decode document: %w", err)
	}
	return &doc, nil
}

// WriteDocument encodes a flow document with indentation.
func WriteDocument(w io.Writer, doc *Document) error {
	data, err := sonic.ConfigDefault.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("flow: failed to encode document: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("flow: failed to write document: %w", err)
	}
	return nil
}

// LoadResult reports what LoadGraph kept.
type LoadResult struct {
	Nodes        int
	Edges        int
	DroppedEdges int
}

// LoadGraph replaces the whole graph, as after a template or backend load.
// Edges are migrated, normalized and deduplicated; orphans are dropped. The
// history log is cleared.
func (e *Engine) LoadGraph(nodes []*graph.Node, edges []*graph.Edge) LoadResult {
	e.lock()
	defer e.unlock()

	ns := make([]*graph.Node, 0, len(nodes))
	for _, n := range graph.DedupNodesByID(nodes) {
		if n.ID != "" {
			ns = append(ns, n)
		}
	}
	exists := graph.NodeSet(ns)

	es := graph.MigrateDecisionHandles(ns, edges)
	es = graph.DedupByID(graph.ProcessFromBackend(es))
	kept, dropped := graph.FilterOrphans(es, exists)
	if dropped > 0 {
		e.log.Debug().Int("dropped", dropped).Msg("dropped orphan edges on load")
	}

	e.setNodes(ns)
	e.setEdges(kept)
	e.dragOrigins = make(map[string]graph.Position)
	e.history.Clear()
	e.dirtyHistory = true

	return LoadResult{Nodes: len(ns), Edges: len(kept), DroppedEdges: dropped}
}

// Document returns the current graph as a document prepared for the
// backend.
func (e *Engine) Document() *Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &Document{
		Nodes: e.nodesSnapshot(),
		Edges: graph.PrepareForBackend(e.edges),
	}
}
