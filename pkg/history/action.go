// Package history implements the flow editor's linear undo/redo log.
//
// Every user-visible graph mutation is recorded as an Action carrying enough
// state to apply both its inverse (undo) and its forward effect (redo). The
// Log holds the actions and a cursor; pushing a new action after an undo
// discards the redo branch.
//
// Actions are applied to a Target, which the graph owner implements:
//
//	log := history.NewLog(history.DefaultMaxEntries)
//	log.Push(history.Action{Type: history.ActionAdd, Nodes: []*graph.Node{n}})
//	log.Undo(target) // target.RemoveNodes([]string{n.ID})
//	log.Redo(target) // target.AddNodes(...)
package history

import (
	"errors"
	"fmt"

	"github.com/orneryd/flowkeeper/pkg/graph"
)

// ActionType tags an Action.
type ActionType string

const (
	ActionAdd        ActionType = "add"
	ActionRemove     ActionType = "remove"
	ActionMove       ActionType = "move"
	ActionAddEdge    ActionType = "addEdge"
	ActionRemoveEdge ActionType = "removeEdge"
)

var (
	ErrUnknownAction = errors.New("history: unknown action type")
	ErrEmptyAction   = errors.New("history: action carries no payload")
)

// Move records one node's displacement.
type Move struct {
	ID           string         `json:"id"`
	Position     graph.Position `json:"position"`
	PrevPosition graph.Position `json:"prevPosition"`
}

// Action is one undoable unit of work.
//
// Nodes is used by add/remove, Moves by move, Edges by addEdge/removeEdge.
type Action struct {
	Type  ActionType    `json:"type"`
	Nodes []*graph.Node `json:"nodes,omitempty"`
	Moves []Move        `json:"moves,omitempty"`
	Edges []*graph.Edge `json:"edges,omitempty"`
}

// Target receives the effects of undo and redo.
//
// Implementations must treat the slices as owned by the callee; the log
// passes fresh copies on every call.
type Target interface {
	AddNodes(nodes []*graph.Node)
	RemoveNodes(ids []string)
	MoveNodes(positions map[string]graph.Position)
	// AddEdges must overwrite edges whose id is already present and, for
	// repeated ids in the batch, keep the later edge.
	AddEdges(edges []*graph.Edge)
	RemoveEdges(ids []string)
}

// Validate checks that the action is well formed.
func (a Action) Validate() error {
	switch a.Type {
	case ActionAdd, ActionRemove:
		if len(a.Nodes) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyAction, a.Type)
		}
	case ActionMove:
		if len(a.Moves) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyAction, a.Type)
		}
	case ActionAddEdge, ActionRemoveEdge:
		if len(a.Edges) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyAction, a.Type)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
	}
	return nil
}

// Clone returns a deep copy of the action.
func (a Action) Clone() Action {
	c := Action{Type: a.Type}
	if a.Nodes != nil {
		c.Nodes = graph.CloneNodes(a.Nodes)
	}
	if a.Edges != nil {
		c.Edges = graph.CloneEdges(a.Edges)
	}
	if a.Moves != nil {
		c.Moves = append([]Move(nil), a.Moves...)
	}
	return c
}

// Undo applies the inverse of the action to t.
func Undo(t Target, a Action) error {
	switch a.Type {
	case ActionAdd:
		// Undo add = remove
		t.RemoveNodes(nodeIDs(a.Nodes))
	case ActionRemove:
		// Undo remove = re-add
		t.AddNodes(graph.CloneNodes(a.Nodes))
	case ActionMove:
		positions := make(map[string]graph.Position, len(a.Moves))
		for _, m := range a.Moves {
			positions[m.ID] = m.PrevPosition
		}
		t.MoveNodes(positions)
	case ActionAddEdge:
		t.RemoveEdges(edgeIDs(a.Edges))
	case ActionRemoveEdge:
		t.AddEdges(graph.CloneEdges(a.Edges))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
	}
	return nil
}

// Redo re-applies the forward effect of the action to t.
func Redo(t Target, a Action) error {
	switch a.Type {
	case ActionAdd:
		t.AddNodes(graph.CloneNodes(a.Nodes))
	case ActionRemove:
		t.RemoveNodes(nodeIDs(a.Nodes))
	case ActionMove:
		positions := make(map[string]graph.Position, len(a.Moves))
		for _, m := range a.Moves {
			positions[m.ID] = m.Position
		}
		t.MoveNodes(positions)
	case ActionAddEdge:
		t.AddEdges(graph.CloneEdges(a.Edges))
	case ActionRemoveEdge:
		t.RemoveEdges(edgeIDs(a.Edges))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
	}
	return nil
}

func nodeIDs(nodes []*graph.Node) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

func edgeIDs(edges []*graph.Edge) []string {
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		if e != nil {
			ids = append(ids, e.ID)
		}
	}
	return ids
}
