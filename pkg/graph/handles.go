package graph

import (
	"strings"

	"github.com/bytedance/sonic"
)

// Canonical handle identifiers.
const (
	HandleOutput  = "output"
	HandleInput   = "input"
	HandleDefault = "default"

	// LegacyHandlePrefix marks handles serialized by older editor builds as
	// "|||{json}".
	LegacyHandlePrefix = "|||"

	// SelfLoopSuffix is appended to the target handle of a self-loop whose
	// handles would otherwise collide.
	SelfLoopSuffix = "-alt"

	decisionHandlePrefix = "output-"
)

// Side selects which end of an edge a handle belongs to.
type Side int

const (
	SideSource Side = iota
	SideTarget
)

func (s Side) canonical() string {
	if s == SideTarget {
		return HandleInput
	}
	return HandleOutput
}

type legacyHandle struct {
	SourceHandle *string `json:"sourceHandle"`
	TargetHandle *string `json:"targetHandle"`
}

// DecodeHandle unwraps a legacy "|||{json}" handle. The side's own key is
// preferred, then the other key. Malformed payloads yield "".
// Non-legacy handles are returned unchanged.
func DecodeHandle(raw string, side Side) string {
	if !strings.HasPrefix(raw, LegacyHandlePrefix) {
		return raw
	}
	var payload legacyHandle
	if err := sonic.UnmarshalString(raw[len(LegacyHandlePrefix):], &payload); err != nil {
		return ""
	}
	first, second := payload.SourceHandle, payload.TargetHandle
	if side == SideTarget {
		first, second = second, first
	}
	if first != nil {
		return *first
	}
	if second != nil {
		return *second
	}
	return ""
}

// isMissing reports whether a handle carries no information.
func isMissing(h string) bool {
	switch strings.TrimSpace(h) {
	case "", "null", "undefined":
		return true
	}
	return false
}

// NormalizeHandle maps a raw handle to its canonical form for the given side.
func NormalizeHandle(raw string, side Side) string {
	h := raw
	for strings.HasPrefix(h, LegacyHandlePrefix) {
		h = DecodeHandle(h, side)
	}
	if isMissing(h) || h == HandleDefault {
		return side.canonical()
	}
	return h
}

// HandlesEquivalent reports whether two handles address the same port.
// "default" and "output" are aliases.
func HandlesEquivalent(a, b string) bool {
	if a == b {
		return true
	}
	return (a == HandleDefault && b == HandleOutput) || (a == HandleOutput && b == HandleDefault)
}

// NormalizeEdge returns e unchanged when its handles are already canonical,
// otherwise a copy with normalized handles. Never panics; a nil edge yields
// nil.
func NormalizeEdge(e *Edge) *Edge {
	if e == nil {
		return nil
	}
	src := NormalizeHandle(e.SourceHandle, SideSource)
	tgt := NormalizeHandle(e.TargetHandle, SideTarget)
	if e.Source == e.Target && src == tgt {
		tgt += SelfLoopSuffix
	}
	if src == e.SourceHandle && tgt == e.TargetHandle {
		return e
	}
	out := e.Clone()
	out.SourceHandle = src
	out.TargetHandle = tgt
	return out
}

// NormalizeEdges normalizes every edge, dropping nil entries and edges
// without an id.
func NormalizeEdges(edges []*Edge) []*Edge {
	out := make([]*Edge, 0, len(edges))
	for _, e := range edges {
		if e == nil || e.ID == "" {
			continue
		}
		out = append(out, NormalizeEdge(e))
	}
	return out
}

// PrepareForBackend returns normalized copies carrying the original endpoint
// ids the backend uses to re-map nodes after a save.
func PrepareForBackend(edges []*Edge) []*Edge {
	out := make([]*Edge, 0, len(edges))
	for _, e := range NormalizeEdges(edges) {
		c := e.Clone()
		if c.SourceOriginal == "" {
			c.SourceOriginal = c.Source
		}
		if c.TargetOriginal == "" {
			c.TargetOriginal = c.Target
		}
		out = append(out, c)
	}
	return out
}

// ProcessFromBackend normalizes edges received from the backend and fills
// in a missing edge type.
func ProcessFromBackend(edges []*Edge) []*Edge {
	out := make([]*Edge, 0, len(edges))
	for _, e := range NormalizeEdges(edges) {
		if e.Type == "" {
			e = e.Clone()
			e.Type = EdgeTypeDefault
		}
		out = append(out, e)
	}
	return out
}

// MigrateDecisionHandles rewrites the source handles of edges leaving
// decision nodes into the "output-<conditionId>" form. The condition id is
// taken from the existing handle, else from the third dash-separated segment
// of the target id, else of the edge id. Edges that already use the form, or
// whose source is not a decision node, are returned as-is.
func MigrateDecisionHandles(nodes []*Node, edges []*Edge) []*Edge {
	decisions := make(map[string]struct{})
	for _, n := range nodes {
		if n != nil && n.Type == NodeTypeDecision {
			decisions[n.ID] = struct{}{}
		}
	}
	out := make([]*Edge, 0, len(edges))
	for _, e := range edges {
		if e == nil {
			continue
		}
		if _, ok := decisions[e.Source]; !ok || strings.HasPrefix(e.SourceHandle, decisionHandlePrefix) {
			out = append(out, e)
			continue
		}
		cond := conditionID(e)
		if cond == "" {
			out = append(out, e)
			continue
		}
		c := e.Clone()
		c.SourceHandle = decisionHandlePrefix + cond
		out = append(out, c)
	}
	return out
}

func conditionID(e *Edge) string {
	h := DecodeHandle(e.SourceHandle, SideSource)
	if !isMissing(h) && h != HandleOutput && h != HandleDefault {
		return h
	}
	if part := dashSegment(e.Target, 2); part != "" {
		return part
	}
	return dashSegment(e.ID, 2)
}

func dashSegment(s string, i int) string {
	parts := strings.Split(s, "-")
	if i < len(parts) {
		return parts[i]
	}
	return ""
}
