package entities

import (
	"fmt"

	"canvaschat/domain/core/valueobjects"
	pkgerrors "canvaschat/pkg/errors"
)

// NodeType is the closed set of node variants on the canvas.
type NodeType string

const (
	NodeTypeHumanMessage        NodeType = "human-message"
	NodeTypeAIMessage           NodeType = "ai-message"
	NodeTypeNote                NodeType = "note"
	NodeTypeSummary             NodeType = "summary"
	NodeTypeReference           NodeType = "reference"
	NodeTypeSearchQuery         NodeType = "search-query"
	NodeTypeResearchReport      NodeType = "research-report"
	NodeTypeHighlightExcerpt    NodeType = "highlight-excerpt"
	NodeTypeMatrix              NodeType = "matrix"
	NodeTypeMatrixCellExtract   NodeType = "matrix-cell-extract"
	NodeTypeMatrixRowExtract    NodeType = "matrix-row-extract"
	NodeTypeMatrixColumnExtract NodeType = "matrix-column-extract"
	NodeTypeFetchedContent      NodeType = "fetched-content"
)

// Role is the conversational role a node plays in model context.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// AllNodeTypes lists every node type in declaration order.
func AllNodeTypes() []NodeType {
	return []NodeType{
		NodeTypeHumanMessage,
		NodeTypeAIMessage,
		NodeTypeNote,
		NodeTypeSummary,
		NodeTypeReference,
		NodeTypeSearchQuery,
		NodeTypeResearchReport,
		NodeTypeHighlightExcerpt,
		NodeTypeMatrix,
		NodeTypeMatrixCellExtract,
		NodeTypeMatrixRowExtract,
		NodeTypeMatrixColumnExtract,
		NodeTypeFetchedContent,
	}
}

// ParseNodeType validates s against the closed set.
func ParseNodeType(s string) (NodeType, error) {
	t := NodeType(s)
	if !t.IsValid() {
		return "", pkgerrors.NewValidationError(fmt.Sprintf("unknown node type %q", s))
	}
	return t, nil
}

func (t NodeType) IsValid() bool {
	switch t {
	case NodeTypeHumanMessage, NodeTypeAIMessage, NodeTypeNote, NodeTypeSummary,
		NodeTypeReference, NodeTypeSearchQuery, NodeTypeResearchReport,
		NodeTypeHighlightExcerpt, NodeTypeMatrix, NodeTypeMatrixCellExtract,
		NodeTypeMatrixRowExtract, NodeTypeMatrixColumnExtract, NodeTypeFetchedContent:
		return true
	}
	return false
}

// IsContentBearing reports whether nodes of this type contribute to model context.
func (t NodeType) IsContentBearing() bool {
	switch t {
	case NodeTypeHumanMessage, NodeTypeAIMessage, NodeTypeNote, NodeTypeSummary,
		NodeTypeReference, NodeTypeResearchReport, NodeTypeHighlightExcerpt,
		NodeTypeMatrix, NodeTypeMatrixCellExtract, NodeTypeMatrixRowExtract,
		NodeTypeMatrixColumnExtract, NodeTypeFetchedContent:
		return true
	case NodeTypeSearchQuery:
		return false
	}
	return false
}

// Role maps a content-bearing type onto its conversational role. Text the
// user wrote or picked out is "user"; everything produced or fetched is
// "assistant".
func (t NodeType) Role() Role {
	switch t {
	case NodeTypeHumanMessage, NodeTypeNote, NodeTypeHighlightExcerpt:
		return RoleUser
	case NodeTypeAIMessage, NodeTypeSummary, NodeTypeReference, NodeTypeSearchQuery,
		NodeTypeResearchReport, NodeTypeMatrix, NodeTypeMatrixCellExtract,
		NodeTypeMatrixRowExtract, NodeTypeMatrixColumnExtract, NodeTypeFetchedContent:
		return RoleAssistant
	}
	return RoleAssistant
}

// IsMatrixExtract reports whether the type is one of the matrix extract variants.
func (t NodeType) IsMatrixExtract() bool {
	switch t {
	case NodeTypeMatrixCellExtract, NodeTypeMatrixRowExtract, NodeTypeMatrixColumnExtract:
		return true
	}
	return false
}

// DefaultSize is the footprint used when a node has no explicit size.
func (t NodeType) DefaultSize() valueobjects.Size {
	var w, h float64
	switch t {
	case NodeTypeHumanMessage:
		w, h = 360, 120
	case NodeTypeAIMessage:
		w, h = 420, 240
	case NodeTypeNote:
		w, h = 320, 160
	case NodeTypeSummary:
		w, h = 400, 200
	case NodeTypeReference:
		w, h = 360, 160
	case NodeTypeSearchQuery:
		w, h = 360, 80
	case NodeTypeResearchReport:
		w, h = 480, 360
	case NodeTypeHighlightExcerpt:
		w, h = 340, 120
	case NodeTypeMatrix:
		w, h = 640, 400
	case NodeTypeMatrixCellExtract:
		w, h = 360, 200
	case NodeTypeMatrixRowExtract, NodeTypeMatrixColumnExtract:
		w, h = 420, 260
	case NodeTypeFetchedContent:
		w, h = 480, 320
	default:
		w, h = 360, 200
	}
	s, _ := valueobjects.NewSize(w, h)
	return s
}

func (t NodeType) String() string {
	return string(t)
}
