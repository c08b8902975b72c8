package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvaschat/domain/config"
	"canvaschat/domain/core/aggregates/fixtures"
	"canvaschat/domain/core/entities"
	"canvaschat/domain/core/valueobjects"
	"canvaschat/domain/services"
	pkgerrors "canvaschat/pkg/errors"
)

var id = fixtures.ID

func nodeIDs(msgs []services.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.NodeID.String()
	}
	return out
}

func TestResolve_HumanThenAIReply(t *testing.T) {
	g := fixtures.NewGraphBuilder().
		Node("human", entities.NodeTypeHumanMessage, "What is a DAG?").
		Node("ai", entities.NodeTypeAIMessage, "A directed acyclic graph.").
		Reply("human", "ai").
		MustBuild()

	msgs, err := services.NewContextResolver(nil).Resolve(g, []valueobjects.NodeID{id("ai")})
	require.NoError(t, err)

	assert.Equal(t, []services.Message{
		{Role: entities.RoleUser, Content: "What is a DAG?", NodeID: id("human")},
		{Role: entities.RoleAssistant, Content: "A directed acyclic graph.", NodeID: id("ai")},
	}, msgs)
}

func TestResolve_DiamondVisitsSharedAncestorOnce(t *testing.T) {
	g := fixtures.NewGraphBuilder().
		Node("A", entities.NodeTypeHumanMessage, "a").
		Node("B", entities.NodeTypeAIMessage, "b").
		Node("C", entities.NodeTypeAIMessage, "c").
		Node("D", entities.NodeTypeHumanMessage, "d").
		Reply("A", "B").
		Reply("A", "C").
		Edge("B", "D", entities.EdgeTypeMerge).
		Edge("C", "D", entities.EdgeTypeMerge).
		MustBuild()

	msgs, err := services.NewContextResolver(nil).Resolve(g, []valueobjects.NodeID{id("D")})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, nodeIDs(msgs))
}

func TestResolve_OrderIsByCreationNotTraversal(t *testing.T) {
	// "late" is an ancestor of "x" but was created after it.
	g := fixtures.NewGraphBuilder().
		Node("root", entities.NodeTypeHumanMessage, "r").
		Node("x", entities.NodeTypeAIMessage, "x").
		Node("late", entities.NodeTypeNote, "n").
		Reply("root", "x").
		Edge("late", "x", entities.EdgeTypeReference).
		MustBuild()

	msgs, err := services.NewContextResolver(nil).Resolve(g, []valueobjects.NodeID{id("x")})
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "x", "late"}, nodeIDs(msgs))
	for i := 1; i < len(msgs); i++ {
		prev, _ := g.GetNode(msgs[i-1].NodeID)
		cur, _ := g.GetNode(msgs[i].NodeID)
		assert.False(t, cur.CreatedAt().Before(prev.CreatedAt()))
	}
}

func TestResolve_UnionAcrossSelection(t *testing.T) {
	g := fixtures.NewGraphBuilder().
		Node("A", entities.NodeTypeHumanMessage, "a").
		Node("B", entities.NodeTypeAIMessage, "b").
		Node("C", entities.NodeTypeHumanMessage, "c").
		Node("D", entities.NodeTypeAIMessage, "d").
		Reply("A", "B").
		Reply("C", "D").
		MustBuild()

	msgs, err := services.NewContextResolver(nil).Resolve(g, []valueobjects.NodeID{id("D"), id("B"), id("B")})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, nodeIDs(msgs))
}

func TestResolve_FiltersNonContentAndSkipsMissing(t *testing.T) {
	g := fixtures.NewGraphBuilder().
		Node("q", entities.NodeTypeSearchQuery, "golang dag").
		Node("ref", entities.NodeTypeReference, "result").
		Node("hl", entities.NodeTypeHighlightExcerpt, "quoted").
		Edge("q", "ref", entities.EdgeTypeSearchResult).
		Edge("ref", "hl", entities.EdgeTypeHighlight).
		MustBuild()

	msgs, err := services.NewContextResolver(nil).Resolve(g, []valueobjects.NodeID{id("hl"), id("deleted")})
	require.NoError(t, err)
	assert.Equal(t, []string{"ref", "hl"}, nodeIDs(msgs))
	assert.Equal(t, entities.RoleUser, msgs[1].Role)
	assert.Equal(t, "> quoted", msgs[1].Content)
}

func TestResolve_EmptySelection(t *testing.T) {
	g := fixtures.NewGraphBuilder().MustBuild()
	_, err := services.NewContextResolver(nil).Resolve(g, nil)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestEstimateTokens(t *testing.T) {
	g := fixtures.NewGraphBuilder().
		Node("A", entities.NodeTypeHumanMessage, "12345678").
		Node("B", entities.NodeTypeAIMessage, "123").
		Reply("A", "B").
		MustBuild()

	cfg := config.DefaultDomainConfig()
	cfg.CharsPerToken = 4
	tokens, err := services.NewContextResolver(cfg).EstimateTokens(g, []valueobjects.NodeID{id("B")})
	require.NoError(t, err)
	assert.Equal(t, 3, tokens)
}
