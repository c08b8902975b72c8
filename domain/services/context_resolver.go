package services

import (
	"math"

	"canvaschat/domain/config"
	"canvaschat/domain/core/aggregates"
	"canvaschat/domain/core/entities"
	"canvaschat/domain/core/valueobjects"
	pkgerrors "canvaschat/pkg/errors"
)

// Message is one entry of model context.
type Message struct {
	Role    entities.Role       `json:"role"`
	Content string              `json:"content"`
	NodeID  valueobjects.NodeID `json:"node_id"`
}

// GraphReader is the read side of the graph the resolver walks.
type GraphReader interface {
	GetNode(id valueobjects.NodeID) (*entities.Node, bool)
	ParentIDs(id valueobjects.NodeID) []valueobjects.NodeID
}

// ContextResolver assembles the ordered history sent with a model request.
type ContextResolver struct {
	charsPerToken float64
}

// NewContextResolver creates a resolver; a nil config uses the defaults.
func NewContextResolver(cfg *config.DomainConfig) *ContextResolver {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &ContextResolver{charsPerToken: cfg.CharsPerToken}
}

// Resolve collects every requested node and all of its ancestors, keeps the
// content-bearing ones, and returns them oldest first. Shared ancestors
// appear once. Ids that no longer exist are skipped.
func (r *ContextResolver) Resolve(g GraphReader, nodeIDs []valueobjects.NodeID) ([]Message, error) {
	if len(nodeIDs) == 0 {
		return nil, pkgerrors.NewValidationError("at least one node id is required")
	}

	visited := make(map[valueobjects.NodeID]struct{})
	var collected []*entities.Node
	for _, id := range nodeIDs {
		collected = r.collectAncestors(g, id, visited, collected)
	}

	aggregates.SortNodes(collected)
	messages := make([]Message, 0, len(collected))
	for _, n := range collected {
		if !n.Type().IsContentBearing() {
			continue
		}
		messages = append(messages, Message{
			Role:    n.Type().Role(),
			Content: n.ContextContent(),
			NodeID:  n.ID(),
		})
	}
	return messages, nil
}

// collectAncestors walks parents iteratively; the visited set stops both
// revisits of shared ancestors and runaway loops on malformed input.
func (r *ContextResolver) collectAncestors(g GraphReader, start valueobjects.NodeID, visited map[valueobjects.NodeID]struct{}, out []*entities.Node) []*entities.Node {
	stack := []valueobjects.NodeID{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}

		n, ok := g.GetNode(id)
		if !ok {
			continue
		}
		out = append(out, n)
		stack = append(stack, g.ParentIDs(id)...)
	}
	return out
}

// EstimateTokens approximates the token count of the resolved context with
// a fixed characters-per-token ratio. It is not a tokenizer.
func (r *ContextResolver) EstimateTokens(g GraphReader, nodeIDs []valueobjects.NodeID) (int, error) {
	messages, err := r.Resolve(g, nodeIDs)
	if err != nil {
		return 0, err
	}
	chars := 0
	for _, m := range messages {
		chars += len([]rune(m.Content))
	}
	return int(math.Ceil(float64(chars) / r.charsPerToken)), nil
}
