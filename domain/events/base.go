package events

import (
	"time"
)

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
}

// BaseEvent provides common event fields. AggregateID is the id of the
// graph (session) the change happened in.
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e BaseEvent) GetAggregateID() string { return e.AggregateID }

func (e BaseEvent) GetEventType() string { return e.EventType }

func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }

const (
	TypeNodeAdded      = "node.added"
	TypeNodeUpdated    = "node.updated"
	TypeNodeRemoved    = "node.removed"
	TypeEdgeAdded      = "edge.added"
	TypeEdgeRemoved    = "edge.removed"
	TypeCellUpdated    = "matrix.cell_updated"
	TypeMatrixReshaped = "matrix.reshaped"
	TypeLayoutApplied  = "layout.applied"
	TypeHistoryChanged = "history.changed"
	TypeOperation      = "operation.changed"
)

// NodeAdded is raised when a node enters the graph
type NodeAdded struct {
	BaseEvent
	NodeID   string `json:"node_id"`
	NodeType string `json:"node_type"`
}

func NewNodeAdded(graphID, nodeID, nodeType string, ts time.Time) NodeAdded {
	return NodeAdded{
		BaseEvent: BaseEvent{AggregateID: graphID, EventType: TypeNodeAdded, Timestamp: ts},
		NodeID:    nodeID,
		NodeType:  nodeType,
	}
}

// NodeUpdated is raised when any mutable field of a node changes. Fields
// names what changed so renderers can skip a refetch when only position moved.
type NodeUpdated struct {
	BaseEvent
	NodeID string   `json:"node_id"`
	Fields []string `json:"fields"`
}

func NewNodeUpdated(graphID, nodeID string, fields []string, ts time.Time) NodeUpdated {
	return NodeUpdated{
		BaseEvent: BaseEvent{AggregateID: graphID, EventType: TypeNodeUpdated, Timestamp: ts},
		NodeID:    nodeID,
		Fields:    fields,
	}
}

// NodeRemoved is raised when a node is deleted, listing the edges removed with it
type NodeRemoved struct {
	BaseEvent
	NodeID         string   `json:"node_id"`
	RemovedEdgeIDs []string `json:"removed_edge_ids,omitempty"`
}

func NewNodeRemoved(graphID, nodeID string, edgeIDs []string, ts time.Time) NodeRemoved {
	return NodeRemoved{
		BaseEvent:      BaseEvent{AggregateID: graphID, EventType: TypeNodeRemoved, Timestamp: ts},
		NodeID:         nodeID,
		RemovedEdgeIDs: edgeIDs,
	}
}

// EdgeAdded is raised when an edge is created
type EdgeAdded struct {
	BaseEvent
	EdgeID   string `json:"edge_id"`
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	EdgeType string `json:"edge_type"`
}

func NewEdgeAdded(graphID, edgeID, sourceID, targetID, edgeType string, ts time.Time) EdgeAdded {
	return EdgeAdded{
		BaseEvent: BaseEvent{AggregateID: graphID, EventType: TypeEdgeAdded, Timestamp: ts},
		EdgeID:    edgeID,
		SourceID:  sourceID,
		TargetID:  targetID,
		EdgeType:  edgeType,
	}
}

// EdgeRemoved is raised when an edge is deleted on its own
type EdgeRemoved struct {
	BaseEvent
	EdgeID string `json:"edge_id"`
}

func NewEdgeRemoved(graphID, edgeID string, ts time.Time) EdgeRemoved {
	return EdgeRemoved{
		BaseEvent: BaseEvent{AggregateID: graphID, EventType: TypeEdgeRemoved, Timestamp: ts},
		EdgeID:    edgeID,
	}
}

// CellUpdated is raised when a matrix cell's content, fill state or error changes
type CellUpdated struct {
	BaseEvent
	NodeID string `json:"node_id"`
	Row    int    `json:"row"`
	Col    int    `json:"col"`
	Filled bool   `json:"filled"`
}

func NewCellUpdated(graphID, nodeID string, row, col int, filled bool, ts time.Time) CellUpdated {
	return CellUpdated{
		BaseEvent: BaseEvent{AggregateID: graphID, EventType: TypeCellUpdated, Timestamp: ts},
		NodeID:    nodeID,
		Row:       row,
		Col:       col,
		Filled:    filled,
	}
}

// MatrixReshaped is raised when rows or columns are added or removed
type MatrixReshaped struct {
	BaseEvent
	NodeID  string `json:"node_id"`
	Rows    int    `json:"rows"`
	Columns int    `json:"columns"`
}

func NewMatrixReshaped(graphID, nodeID string, rows, cols int, ts time.Time) MatrixReshaped {
	return MatrixReshaped{
		BaseEvent: BaseEvent{AggregateID: graphID, EventType: TypeMatrixReshaped, Timestamp: ts},
		NodeID:    nodeID,
		Rows:      rows,
		Columns:   cols,
	}
}

// LayoutApplied is raised after a layout run has written positions
type LayoutApplied struct {
	BaseEvent
	Strategy string `json:"strategy"`
	Moved    int    `json:"moved"`
}

func NewLayoutApplied(graphID, strategy string, moved int, ts time.Time) LayoutApplied {
	return LayoutApplied{
		BaseEvent: BaseEvent{AggregateID: graphID, EventType: TypeLayoutApplied, Timestamp: ts},
		Strategy:  strategy,
		Moved:     moved,
	}
}

// HistoryChanged is raised whenever undo/redo availability may have changed
type HistoryChanged struct {
	BaseEvent
	CanUndo bool `json:"can_undo"`
	CanRedo bool `json:"can_redo"`
}

func NewHistoryChanged(graphID string, canUndo, canRedo bool, ts time.Time) HistoryChanged {
	return HistoryChanged{
		BaseEvent: BaseEvent{AggregateID: graphID, EventType: TypeHistoryChanged, Timestamp: ts},
		CanUndo:   canUndo,
		CanRedo:   canRedo,
	}
}

// OperationChanged is raised when a generation starts or finishes on an entity
type OperationChanged struct {
	BaseEvent
	EntityID string `json:"entity_id"`
	SubKey   string `json:"sub_key,omitempty"`
	State    string `json:"state"`
}

func NewOperationChanged(graphID, entityID, subKey, state string, ts time.Time) OperationChanged {
	return OperationChanged{
		BaseEvent: BaseEvent{AggregateID: graphID, EventType: TypeOperation, Timestamp: ts},
		EntityID:  entityID,
		SubKey:    subKey,
		State:     state,
	}
}
