package entities

import (
	"fmt"
	"time"

	"canvaschat/domain/core/valueobjects"
	pkgerrors "canvaschat/pkg/errors"
)

// EdgeType is the closed set of edge kinds.
type EdgeType string

const (
	EdgeTypeReply               EdgeType = "reply"
	EdgeTypeBranchFromSelection EdgeType = "branch-from-selection"
	EdgeTypeMerge               EdgeType = "merge"
	EdgeTypeReference           EdgeType = "reference"
	EdgeTypeSearchResult        EdgeType = "search-result"
	EdgeTypeHighlight           EdgeType = "highlight"
	EdgeTypeMatrixToExtract     EdgeType = "matrix-to-extract"
)

// ParseEdgeType validates s against the closed set.
func ParseEdgeType(s string) (EdgeType, error) {
	t := EdgeType(s)
	switch t {
	case EdgeTypeReply, EdgeTypeBranchFromSelection, EdgeTypeMerge, EdgeTypeReference,
		EdgeTypeSearchResult, EdgeTypeHighlight, EdgeTypeMatrixToExtract:
		return t, nil
	}
	return "", pkgerrors.NewValidationError(fmt.Sprintf("unknown edge type %q", s))
}

// Edge is a directed, typed connection from source to target. Edges are
// immutable once created.
type Edge struct {
	id        valueobjects.EdgeID
	source    valueobjects.NodeID
	target    valueobjects.NodeID
	edgeType  EdgeType
	createdAt time.Time
}

// NewEdge creates an edge with a fresh id.
func NewEdge(source, target valueobjects.NodeID, edgeType EdgeType, createdAt time.Time) (*Edge, error) {
	return ReconstructEdge(valueobjects.NewEdgeID(), source, target, edgeType, createdAt)
}

// ReconstructEdge rebuilds an edge with a known id, typically from a snapshot.
func ReconstructEdge(id valueobjects.EdgeID, source, target valueobjects.NodeID, edgeType EdgeType, createdAt time.Time) (*Edge, error) {
	if id.IsZero() || source.IsZero() || target.IsZero() {
		return nil, pkgerrors.NewValidationError("edge id and endpoints are required")
	}
	if source.Equals(target) {
		return nil, pkgerrors.NewValidationError("edge cannot connect a node to itself")
	}
	if _, err := ParseEdgeType(string(edgeType)); err != nil {
		return nil, err
	}
	return &Edge{id: id, source: source, target: target, edgeType: edgeType, createdAt: createdAt}, nil
}

func (e *Edge) ID() valueobjects.EdgeID { return e.id }
func (e *Edge) Source() valueobjects.NodeID { return e.source }
func (e *Edge) Target() valueobjects.NodeID { return e.target }
func (e *Edge) Type() EdgeType { return e.edgeType }
func (e *Edge) CreatedAt() time.Time { return e.createdAt }

// Touches reports whether id is either endpoint.
func (e *Edge) Touches(id valueobjects.NodeID) bool {
	return e.source.Equals(id) || e.target.Equals(id)
}
