// Package flow owns the live flow graph and the gesture-level mutators that
// change it.
//
// An Engine serializes every entry point behind one mutex, so a gesture
// (drag end, delete, connect, undo) runs to completion before the next one
// starts. Each recordable mutation pushes exactly one history entry per
// concern; intermediate drag frames push none.
//
// Consumers observe changes through Subscribe instead of a global event bus.
// Listeners run after the engine lock is released, one event at a time and in
// the order the mutations were applied. They may call back into the engine;
// events caused by such calls are delivered after the current listener
// returns.
//
// Example:
//
//	eng := flow.New(flow.Options{})
//	a := eng.AddNode("message", nil, map[string]any{"label": "Hi"})
//	b := eng.AddNode("end", nil, nil)
//	eng.Connect(graph.Connection{Source: a.ID, Target: b.ID})
//	eng.Undo() // edge gone
package flow

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/orneryd/flowkeeper/pkg/graph"
	"github.com/orneryd/flowkeeper/pkg/history"
)

// Options configures an Engine.
type Options struct {
	// MaxHistory bounds the undo log. Zero uses history.DefaultMaxEntries.
	MaxHistory int

	// Logger receives debug output for filtered and rejected mutations.
	// Nil discards everything.
	Logger *zerolog.Logger

	// Now overrides the clock used for generated edge ids. Nil uses time.Now.
	Now func() time.Time

	// NewID overrides node id generation. Nil uses random UUIDs.
	NewID func() (string, error)
}

// EventKind identifies what changed.
type EventKind int

const (
	EventNodes EventKind = iota
	EventEdges
	EventHistory
)

func (k EventKind) String() string {
	switch k {
	case EventNodes:
		return "nodes"
	case EventEdges:
		return "edges"
	case EventHistory:
		return "history"
	}
	return "unknown"
}

// Event is delivered to listeners once per kind per engine call.
type Event struct {
	Kind  EventKind
	Nodes []*graph.Node
	Edges []*graph.Edge

	// GeometryOnly is set on edge events that only moved endpoint
	// coordinates.
	GeometryOnly bool

	CanUndo bool
	CanRedo bool
}

// Listener receives engine events.
type Listener func(Event)

// queuedEvent pairs an event with the listeners registered when it was
// produced.
type queuedEvent struct {
	ev        Event
	listeners []Listener
}

// Stats summarizes the engine state.
type Stats struct {
	Nodes         int
	Edges         int
	HistoryLength int
	Cursor        int
}

// Engine is the in-memory flow graph plus its undo/redo log.
type Engine struct {
	mu sync.Mutex

	nodes     []*graph.Node
	nodeIndex map[string]int
	edges     []*graph.Edge
	edgeIndex map[string]int

	history *history.Log

	// pre-drag positions of nodes currently being dragged
	dragOrigins map[string]graph.Position

	listeners    map[uint64]Listener
	nextListener uint64
	queue        []queuedEvent
	delivering   bool

	dirtyNodes   bool
	dirtyEdges   bool
	geometryOnly bool
	dirtyHistory bool

	idSeq atomic.Uint64
	log   zerolog.Logger
	now   func() time.Time
	newID func() (string, error)
}

// New creates an empty engine.
func New(opts Options) *Engine {
	e := &Engine{
		nodeIndex:   make(map[string]int),
		edgeIndex:   make(map[string]int),
		history:     history.NewLog(opts.MaxHistory),
		dragOrigins: make(map[string]graph.Position),
		listeners:   make(map[uint64]Listener),
		now:         opts.Now,
		newID:       opts.NewID,
	}
	if e.now == nil {
		e.now = time.Now
	}
	base := zerolog.Nop()
	if opts.Logger != nil {
		base = *opts.Logger
	}
	e.log = base.With().Str("component", "flow").Logger()
	return e
}

// Subscribe registers a listener and returns a function that removes it.
func (e *Engine) Subscribe(fn Listener) (cancel func()) {
	e.mu.Lock()
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

// lock acquires the engine; unlock queues whatever the call marked dirty,
// releases it and delivers the queue.
func (e *Engine) lock() {
	e.mu.Lock()
}

// unlock releases the engine and drains the event queue in FIFO order.
// Only one caller drains at a time; a call that finds delivery in progress
// (another goroutine, or a listener mutating the engine) leaves its events
// to that drainer.
func (e *Engine) unlock() {
	if events := e.collectEvents(); len(events) > 0 {
		listeners := make([]Listener, 0, len(e.listeners))
		ids := make([]uint64, 0, len(e.listeners))
		for id := range e.listeners {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			listeners = append(listeners, e.listeners[id])
		}
		for _, ev := range events {
			e.queue = append(e.queue, queuedEvent{ev: ev, listeners: listeners})
		}
	}
	if e.delivering || len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}

	e.delivering = true
	for len(e.queue) > 0 {
		next := e.queue[0]
		e.queue[0] = queuedEvent{}
		e.queue = e.queue[1:]
		e.mu.Unlock()

		for _, fn := range next.listeners {
			e.dispatch(fn, next.ev)
		}
		e.mu.Lock()
	}
	e.queue = nil
	e.delivering = false
	e.mu.Unlock()
}

func (e *Engine) dispatch(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("event", ev.Kind.String()).Msg("listener panicked")
		}
	}()
	fn(ev)
}

func (e *Engine) collectEvents() []Event {
	var events []Event
	if e.dirtyNodes {
		events = append(events, Event{Kind: EventNodes, Nodes: e.nodesSnapshot()})
	}
	if e.dirtyEdges {
		events = append(events, Event{Kind: EventEdges, Edges: e.edgesSnapshot(), GeometryOnly: e.geometryOnly})
	}
	if e.dirtyHistory {
		events = append(events, Event{Kind: EventHistory, CanUndo: e.history.CanUndo(), CanRedo: e.history.CanRedo()})
	}
	e.dirtyNodes, e.dirtyEdges, e.dirtyHistory, e.geometryOnly = false, false, false, false
	return events
}

func (e *Engine) markNodes() { e.dirtyNodes = true }

func (e *Engine) markEdges() {
	e.dirtyEdges = true
	e.geometryOnly = false
}

func (e *Engine) markGeometry() {
	if !e.dirtyEdges {
		e.geometryOnly = true
	}
	e.dirtyEdges = true
}

// record pushes a history entry for a mutation that has already been
// applied.
func (e *Engine) record(a history.Action) {
	if err := e.history.Push(a); err != nil {
		e.log.Debug().Err(err).Str("action", string(a.Type)).Msg("history entry skipped")
		return
	}
	e.dirtyHistory = true
}

// Nodes returns the current node list. The slice is a copy; the nodes are
// shared and must not be modified.
func (e *Engine) Nodes() []*graph.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nodesSnapshot()
}

// Edges returns the current edge list. The slice is a copy; the edges are
// shared and must not be modified.
func (e *Engine) Edges() []*graph.Edge {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.edgesSnapshot()
}

// Node returns the node with the given id, or nil.
func (e *Engine) Node(id string) *graph.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nodeByID(id)
}

// Edge returns the edge with the given id, or nil.
func (e *Engine) Edge(id string) *graph.Edge {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.edgeByID(id)
}

// HasNode reports whether a node id is present.
func (e *Engine) HasNode(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.nodeIndex[id]
	return ok
}

// Undo reverts the last recorded action. Returns false at the start of the
// log.
func (e *Engine) Undo() bool {
	e.lock()
	defer e.unlock()
	ok := e.history.Undo((*target)(e))
	if ok {
		e.dirtyHistory = true
	}
	return ok
}

// Redo re-applies the next action. Returns false at the end of the log.
func (e *Engine) Redo() bool {
	e.lock()
	defer e.unlock()
	ok := e.history.Redo((*target)(e))
	if ok {
		e.dirtyHistory = true
	}
	return ok
}

// CanUndo reports whether Undo would do anything.
func (e *Engine) CanUndo() bool { return e.history.CanUndo() }

// CanRedo reports whether Redo would do anything.
func (e *Engine) CanRedo() bool { return e.history.CanRedo() }

// History exposes the applied entries, oldest first.
func (e *Engine) History() []history.Action { return e.history.Past() }

// Stats returns node, edge and history counts.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Nodes:         len(e.nodes),
		Edges:         len(e.edges),
		HistoryLength: e.history.Len(),
		Cursor:        e.history.Cursor(),
	}
}

func (e *Engine) nodesSnapshot() []*graph.Node {
	return append([]*graph.Node(nil), e.nodes...)
}

func (e *Engine) edgesSnapshot() []*graph.Edge {
	return append([]*graph.Edge(nil), e.edges...)
}

func (e *Engine) nodeByID(id string) *graph.Node {
	if i, ok := e.nodeIndex[id]; ok {
		return e.nodes[i]
	}
	return nil
}

func (e *Engine) edgeByID(id string) *graph.Edge {
	if i, ok := e.edgeIndex[id]; ok {
		return e.edges[i]
	}
	return nil
}

func (e *Engine) hasNode(id string) bool {
	_, ok := e.nodeIndex[id]
	return ok
}

func (e *Engine) setNodes(nodes []*graph.Node) {
	e.nodes = nodes
	e.nodeIndex = make(map[string]int, len(nodes))
	for i, n := range nodes {
		e.nodeIndex[n.ID] = i
	}
	e.markNodes()
}

func (e *Engine) setEdges(edges []*graph.Edge) {
	e.edges = edges
	e.edgeIndex = make(map[string]int, len(edges))
	for i, ed := range edges {
		e.edgeIndex[ed.ID] = i
	}
	e.markEdges()
}

func (e *Engine) replaceNode(n *graph.Node) {
	if i, ok := e.nodeIndex[n.ID]; ok {
		e.nodes[i] = n
		e.markNodes()
	}
}

func (e *Engine) replaceEdge(ed *graph.Edge) {
	if i, ok := e.edgeIndex[ed.ID]; ok {
		e.edges[i] = ed
		e.markEdges()
	}
}
