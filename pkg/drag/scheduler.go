// Package drag keeps edge endpoint coordinates in step with a node being
// dragged while doing as little work per pointer event as possible.
//
// Nodes with few connections are updated on every event. Nodes with many
// connections are coalesced onto the next frame: a pending frame always uses
// the most recently dragged node, earlier requests are superseded.
package drag

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/orneryd/flowkeeper/pkg/flow"
	"github.com/orneryd/flowkeeper/pkg/graph"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultRealtimeThreshold = 4
	DefaultFrameInterval     = 16 * time.Millisecond
)

// Graph is the part of the flow engine the scheduler needs.
type Graph interface {
	Node(id string) *graph.Node
	Edges() []*graph.Edge
	ApplyEdgeGeometry(updates []graph.EndpointUpdate) int
}

// Options configures a Scheduler.
type Options struct {
	// RealtimeThreshold is the connection count from which updates are
	// deferred to the next frame.
	RealtimeThreshold int
	// FrameInterval is the delay of a deferred update.
	FrameInterval time.Duration
	Logger        *zerolog.Logger
}

// Stats counts scheduler decisions.
type Stats struct {
	Immediate  int64
	Deferred   int64
	Superseded int64
	Skipped    int64
	Frames     int64
}

// Scheduler computes endpoint updates for dragged nodes.
type Scheduler struct {
	g         Graph
	threshold int
	frame     time.Duration
	log       zerolog.Logger

	mu      sync.Mutex
	index   *graph.ConnectionIndex
	pending string
	timer   *time.Timer
	stats   Stats
}

// NewScheduler creates a scheduler over g.
func NewScheduler(g Graph, opts Options) *Scheduler {
	s := &Scheduler{
		g:         g,
		threshold: opts.RealtimeThreshold,
		frame:     opts.FrameInterval,
		index:     graph.NewConnectionIndex(),
	}
	if s.threshold <= 0 {
		s.threshold = DefaultRealtimeThreshold
	}
	if s.frame <= 0 {
		s.frame = DefaultFrameInterval
	}
	base := zerolog.Nop()
	if opts.Logger != nil {
		base = *opts.Logger
	}
	s.log = base.With().Str("component", "drag").Logger()
	return s
}

// OnDrag reacts to a pointer event on nodeID. It returns the number of edges
// updated immediately and whether an update was deferred to the next frame.
func (s *Scheduler) OnDrag(nodeID string) (updated int, deferred bool) {
	s.mu.Lock()
	conns := s.lookup(nodeID)
	switch {
	case conns.Len() == 0:
		s.stats.Skipped++
		s.mu.Unlock()
		return 0, false
	case conns.Len() < s.threshold:
		s.stats.Immediate++
		s.mu.Unlock()
		return s.apply(nodeID, conns), false
	}

	s.stats.Deferred++
	if s.pending != "" && s.pending != nodeID {
		s.stats.Superseded++
	}
	s.pending = nodeID
	if s.timer == nil {
		s.timer = time.AfterFunc(s.frame, s.runFrame)
	}
	s.mu.Unlock()
	return 0, true
}

// EndDrag applies any deferred update right away. Call it when the pointer
// is released.
func (s *Scheduler) EndDrag() int {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	id := s.pending
	s.pending = ""
	var conns graph.Connections
	if id != "" {
		conns = s.lookup(id)
		s.stats.Frames++
	}
	s.mu.Unlock()

	if id == "" {
		return 0
	}
	return s.apply(id, conns)
}

// Invalidate forces the connection index to rebuild on the next event.
func (s *Scheduler) Invalidate() {
	s.mu.Lock()
	s.index.Invalidate()
	s.mu.Unlock()
}

// HandleEvent invalidates the connection index when the edge set changes
// structurally. Register it with flow.Engine.Subscribe.
func (s *Scheduler) HandleEvent(ev flow.Event) {
	if ev.Kind == flow.EventEdges && !ev.GeometryOnly {
		s.Invalidate()
	}
}

// Pending returns the node id waiting for the next frame, if any.
func (s *Scheduler) Pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Stats returns a copy of the decision counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// lookup refreshes the index and returns the node's connections. Must be
// called with s.mu held.
func (s *Scheduler) lookup(nodeID string) graph.Connections {
	s.index.Refresh(s.g.Edges())
	return s.index.Lookup(nodeID)
}

func (s *Scheduler) runFrame() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("drag frame panicked")
		}
	}()

	s.mu.Lock()
	s.timer = nil
	id := s.pending
	s.pending = ""
	var conns graph.Connections
	if id != "" {
		conns = s.lookup(id)
		s.stats.Frames++
	}
	s.mu.Unlock()

	if id != "" {
		s.apply(id, conns)
	}
}

// apply pushes the node's current center to every incident edge endpoint.
func (s *Scheduler) apply(nodeID string, conns graph.Connections) int {
	n := s.g.Node(nodeID)
	if n == nil {
		return 0
	}
	center := n.Center()
	updates := make([]graph.EndpointUpdate, 0, conns.Len())
	for _, id := range conns.SourcesOf {
		updates = append(updates, graph.EndpointUpdate{EdgeID: id, Source: &center})
	}
	for _, id := range conns.TargetsOf {
		updates = append(updates, graph.EndpointUpdate{EdgeID: id, Target: &center})
	}
	changed := s.g.ApplyEdgeGeometry(updates)
	s.log.Trace().Str("node", nodeID).Int("edges", changed).Msg("edge endpoints updated")
	return changed
}
