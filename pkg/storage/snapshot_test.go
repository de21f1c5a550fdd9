package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/flowkeeper/pkg/graph"
)

func sampleEdges() []*graph.Edge {
	return []*graph.Edge{
		{ID: "e1", Source: "A", Target: "B", SourceHandle: "output", TargetHandle: "input", Data: map[string]any{"label": "yes", "animated": true}},
		{ID: "e2", Source: "B", Target: "C"},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	snap, err := NewSnapshot("42", []*graph.Node{{ID: "A"}}, sampleEdges(), at)
	require.NoError(t, err)
	assert.Equal(t, SnapshotVersion, snap.Version)
	assert.NotEmpty(t, snap.Checksum)

	data, err := EncodeSnapshot(snap)
	require.NoError(t, err)
	got, err := DecodeSnapshot(data)
	require.NoError(t, err)

	assert.Equal(t, "42", got.FlowID)
	assert.Equal(t, at, got.Time())
	require.Len(t, got.Edges, 2)
	assert.Equal(t, "e1", got.Edges[0].ID)
	assert.Equal(t, "yes", got.Edges[0].Data["label"])
	assert.Len(t, got.Nodes, 1)
}

func TestDecodeSnapshot_Legacy(t *testing.T) {
	got, err := DecodeSnapshot([]byte(`  [{"id":"e1","source":"A","target":"B","sourceHandle":null}]`))
	require.NoError(t, err)
	assert.Zero(t, got.Version)
	require.Len(t, got.Edges, 1)
	assert.Equal(t, "A", got.Edges[0].Source)
	assert.Empty(t, got.Edges[0].SourceHandle)
}

func TestDecodeSnapshot_Errors(t *testing.T) {
	for name, payload := range map[string]string{
		"empty":        "   ",
		"garbage":      "not json",
		"broken array": `[{"id":`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSnapshot([]byte(payload))
			assert.ErrorIs(t, err, ErrCorruptSnapshot)
		})
	}

	t.Run("checksum mismatch", func(t *testing.T) {
		snap, err := NewSnapshot("1", nil, sampleEdges(), time.Now())
		require.NoError(t, err)
		snap.Edges = snap.Edges[:1]
		data, err := EncodeSnapshot(snap)
		require.NoError(t, err)
		_, err = DecodeSnapshot(data)
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("nil snapshot", func(t *testing.T) {
		_, err := EncodeSnapshot(nil)
		assert.ErrorIs(t, err, ErrCorruptSnapshot)
	})
}

func TestEdgesChecksum(t *testing.T) {
	a, err := EdgesChecksum(sampleEdges())
	require.NoError(t, err)
	b, err := EdgesChecksum(sampleEdges())
	require.NoError(t, err)
	assert.Equal(t, a, b, "map key order must not matter")

	empty, err := EdgesChecksum(nil)
	require.NoError(t, err)
	emptySlice, err := EdgesChecksum([]*graph.Edge{})
	require.NoError(t, err)
	assert.Equal(t, empty, emptySlice)
	assert.NotEqual(t, a, empty)
}

func TestSaveLoadSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := LoadSnapshot(ctx, store, "flowkeeper-edges-1")
	assert.ErrorIs(t, err, ErrNotFound)

	snap, err := NewSnapshot("1", nil, sampleEdges(), time.Now())
	require.NoError(t, err)
	require.NoError(t, SaveSnapshot(ctx, store, "flowkeeper-edges-1", snap))

	got, err := LoadSnapshot(ctx, store, "flowkeeper-edges-1")
	require.NoError(t, err)
	assert.Equal(t, snap.Checksum, got.Checksum)
	assert.Len(t, got.Edges, 2)
}
