package aggregates_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvaschat/domain/core/aggregates"
	"canvaschat/domain/core/aggregates/fixtures"
	"canvaschat/domain/core/entities"
	"canvaschat/domain/core/valueobjects"
	pkgerrors "canvaschat/pkg/errors"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	g, err := fixtures.NewGraphBuilder().
		NodeAt("A", entities.NodeTypeHumanMessage, "question", 10, 20).
		Node("B", entities.NodeTypeAIMessage, "answer").
		Matrix("M", "Compare", []string{"x", "y"}, []string{"p"}).
		Reply("A", "B").
		Edge("B", "M", entities.EdgeTypeReference).
		Build()
	require.NoError(t, err)

	tags := []string{"red"}
	model := "gpt-4o"
	size, _ := valueobjects.NewSize(500, 300)
	g.UpdateNode(id("B"), aggregates.NodeUpdate{Tags: &tags, Model: &model, Size: &size})
	require.NoError(t, g.SetCell(id("M"), 1, 0, entities.Cell{Content: "yes", Filled: true}))

	data, err := json.Marshal(g.Snapshot())
	require.NoError(t, err)

	var snap aggregates.GraphSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	restored, issues, err := aggregates.Restore(&snap, nil)
	require.NoError(t, err)
	assert.Empty(t, issues)
	require.NoError(t, restored.Validate())

	assert.Equal(t, g.ID(), restored.ID())
	assert.Equal(t, ids(g.GetAllNodes()), ids(restored.GetAllNodes()))
	assert.Equal(t, 2, restored.EdgeCount())

	a, _ := restored.GetNode(id("A"))
	assert.Equal(t, 10.0, a.Position().X())
	assert.Equal(t, 20.0, a.Position().Y())

	b, _ := restored.GetNode(id("B"))
	assert.Equal(t, []string{"red"}, b.Tags())
	assert.Equal(t, "gpt-4o", b.Model())
	got, ok := b.Size()
	require.True(t, ok)
	assert.True(t, got.Equals(size))

	c, err := restored.GetCell(id("M"), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, entities.Cell{Content: "yes", Filled: true}, c)

	assert.Empty(t, restored.PullEvents())
}

func TestRestore_ToleratesOldAndDamagedData(t *testing.T) {
	// A save from before sizes, tags, timestamps and matrix payloads existed,
	// with one unknown node type and one edge pointing at nothing.
	raw := `{
		"id": "old",
		"nodes": [
			{"id": "a", "type": "human-message", "content": "hi", "x": 1, "y": 2},
			{"id": "b", "type": "ai-message", "content": "hello"},
			{"id": "c", "type": "image", "content": "??"},
			{"id": "m", "type": "matrix", "content": "legacy matrix"}
		],
		"edges": [
			{"id": "e1", "source": "a", "target": "b"},
			{"id": "e2", "source": "b", "target": "zzz", "type": "reply"}
		]
	}`
	var snap aggregates.GraphSnapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &snap))

	g, issues, err := aggregates.Restore(&snap, nil)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	for _, issue := range issues {
		assert.True(t, pkgerrors.IsInvariantViolation(issue))
	}

	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, 1, g.EdgeCount())
	require.NoError(t, g.Validate())

	a, _ := g.GetNode(id("a"))
	b, _ := g.GetNode(id("b"))
	assert.True(t, a.CreatedAt().Before(b.CreatedAt()), "saved order is kept for undated nodes")
	_, hasSize := b.Size()
	assert.False(t, hasSize)
	assert.Empty(t, b.Tags())

	m, _ := g.GetNode(id("m"))
	require.NotNil(t, m.Matrix())
	assert.Empty(t, m.Matrix().Rows())
}

func TestRestore_RejectsNewerVersion(t *testing.T) {
	_, _, err := aggregates.Restore(&aggregates.GraphSnapshot{Version: aggregates.SnapshotVersion + 1}, nil)
	assert.True(t, pkgerrors.IsValidation(err))

	_, _, err = aggregates.Restore(nil, nil)
	assert.Error(t, err)
}
