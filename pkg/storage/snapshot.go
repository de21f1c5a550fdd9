package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/flowkeeper/pkg/graph"
)

// SnapshotVersion is written into every snapshot. Version 0 denotes the
// legacy bare edge array.
const SnapshotVersion = 1

var (
	ErrCorruptSnapshot  = errors.New("storage: corrupt snapshot")
	ErrChecksumMismatch = errors.New("storage: snapshot checksum mismatch")
)

// Snapshot is the persisted backup of a flow's graph.
//
// Nodes is optional; the recovery path only relies on Edges. Checksum is the
// blake2b-256 of the encoded edge list and lets writers skip identical
// writes.
type Snapshot struct {
	Version   int           `json:"version"`
	FlowID    string        `json:"flowId,omitempty"`
	Timestamp int64         `json:"timestamp"`
	Nodes     []*graph.Node `json:"nodes,omitempty"`
	Edges     []*graph.Edge `json:"edges"`
	Checksum  string        `json:"checksum,omitempty"`
}

// Time returns the snapshot timestamp.
func (s *Snapshot) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// NewSnapshot builds a versioned snapshot with its checksum set.
func NewSnapshot(flowID string, nodes []*graph.Node, edges []*graph.Edge, at time.Time) (*Snapshot, error) {
	sum, err := EdgesChecksum(edges)
	if err != nil {
		return nil, err
	}
	if edges == nil {
		edges = []*graph.Edge{}
	}
	return &Snapshot{
		Version:   SnapshotVersion,
		FlowID:    flowID,
		Timestamp: at.UnixMilli(),
		Nodes:     nodes,
		Edges:     edges,
		Checksum:  sum,
	}, nil
}

// EdgesChecksum hashes the encoded edge list with sorted map keys. Edge
// order matters.
func EdgesChecksum(edges []*graph.Edge) (string, error) {
	if edges == nil {
		edges = []*graph.Edge{}
	}
	data, err := sonic.ConfigStd.Marshal(edges)
	if err != nil {
		return "", fmt.Errorf("storage: failed to encode edges: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// EncodeSnapshot serializes a snapshot.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrCorruptSnapshot)
	}
	data, err := sonic.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a snapshot. A bare JSON array is read as a legacy
// edge list. A present checksum must match the edges.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrCorruptSnapshot)
	}

	if trimmed[0] == '[' {
		var edges []*graph.Edge
		if err := sonic.Unmarshal(trimmed, &edges); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
		return &Snapshot{Edges: edges}, nil
	}

	var s Snapshot
	if err := sonic.Unmarshal(trimmed, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if s.Checksum != "" {
		sum, err := EdgesChecksum(s.Edges)
		if err != nil {
			return nil, err
		}
		if sum != s.Checksum {
			return nil, fmt.Errorf("%w: stored %s, computed %s", ErrChecksumMismatch, s.Checksum, sum)
		}
	}
	return &s, nil
}

// SaveSnapshot encodes and stores a snapshot under key.
func SaveSnapshot(ctx context.Context, store Store, key string, s *Snapshot) error {
	data, err := EncodeSnapshot(s)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, data)
}

// LoadSnapshot reads and decodes the snapshot stored under key.
func LoadSnapshot(ctx context.Context, store Store, key string) (*Snapshot, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(data)
}
