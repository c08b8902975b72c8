package aggregates

import (
	"fmt"
	"time"

	"canvaschat/domain/core/entities"
	"canvaschat/domain/core/valueobjects"
	pkgerrors "canvaschat/pkg/errors"
)

// SnapshotVersion is written into every exported snapshot.
const SnapshotVersion = 1

// GraphSnapshot is the plain nested form of a graph handed to persistence.
// Every field added after version 1 must be optional so older saves still load.
type GraphSnapshot struct {
	Version int          `json:"version"`
	ID      string       `json:"id"`
	Name    string       `json:"name,omitempty"`
	SavedAt time.Time    `json:"saved_at"`
	Nodes   []NodeRecord `json:"nodes"`
	Edges   []EdgeRecord `json:"edges"`
}

type NodeRecord struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Content   string        `json:"content"`
	X         float64       `json:"x"`
	Y         float64       `json:"y"`
	Width     *float64      `json:"width,omitempty"`
	Height    *float64      `json:"height,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt *time.Time    `json:"updated_at,omitempty"`
	Title     string        `json:"title,omitempty"`
	Summary   string        `json:"summary,omitempty"`
	Model     string        `json:"model,omitempty"`
	Tags      []string      `json:"tags,omitempty"`
	Error     string        `json:"error,omitempty"`
	Matrix    *MatrixRecord `json:"matrix,omitempty"`
}

type MatrixRecord struct {
	Question string                `json:"question,omitempty"`
	Rows     []string              `json:"rows"`
	Columns  []string              `json:"columns"`
	Cells    map[string]CellRecord `json:"cells,omitempty"`
}

type CellRecord struct {
	Content string `json:"content"`
	Filled  bool   `json:"filled"`
	Error   string `json:"error,omitempty"`
}

type EdgeRecord struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot exports the whole graph.
func (g *Graph) Snapshot() *GraphSnapshot {
	nodes := g.GetAllNodes()
	edges := g.GetAllEdges()

	snap := &GraphSnapshot{
		Version: SnapshotVersion,
		ID:      g.id.String(),
		Name:    g.Name(),
		SavedAt: g.clock.Next(),
		Nodes:   make([]NodeRecord, 0, len(nodes)),
		Edges:   make([]EdgeRecord, 0, len(edges)),
	}
	for _, n := range nodes {
		snap.Nodes = append(snap.Nodes, NodeRecordOf(n))
	}
	for _, e := range edges {
		snap.Edges = append(snap.Edges, EdgeRecordOf(e))
	}
	return snap
}

// EdgeRecordOf is the serialized form of one edge.
func EdgeRecordOf(e *entities.Edge) EdgeRecord {
	return EdgeRecord{
		ID:        e.ID().String(),
		Source:    e.Source().String(),
		Target:    e.Target().String(),
		Type:      string(e.Type()),
		CreatedAt: e.CreatedAt(),
	}
}

// NodeRecordOf is the serialized form of one node, shared by snapshots and
// API responses.
func NodeRecordOf(n *entities.Node) NodeRecord {
	updated := n.UpdatedAt()
	rec := NodeRecord{
		ID:        n.ID().String(),
		Type:      n.Type().String(),
		Content:   n.Content(),
		X:         n.Position().X(),
		Y:         n.Position().Y(),
		CreatedAt: n.CreatedAt(),
		UpdatedAt: &updated,
		Title:     n.Title(),
		Summary:   n.Summary(),
		Model:     n.Model(),
		Tags:      n.Tags(),
		Error:     n.Error(),
	}
	if s, ok := n.Size(); ok {
		w, h := s.Width(), s.Height()
		rec.Width, rec.Height = &w, &h
	}
	if m := n.Matrix(); m != nil {
		cells := make(map[string]CellRecord)
		for k, c := range m.Cells() {
			cells[k] = CellRecord{Content: c.Content, Filled: c.Filled, Error: c.Error}
		}
		rec.Matrix = &MatrixRecord{
			Question: m.Question(),
			Rows:     m.Rows(),
			Columns:  m.Columns(),
			Cells:    cells,
		}
	}
	return rec
}

// Restore rebuilds a fresh graph from a snapshot. Records that cannot be
// used are skipped rather than failing the load; each skip is reported in
// the returned issues so the caller can log it. Edges whose endpoints are
// missing are dropped, which keeps the no-dangling-edge invariant.
func Restore(snap *GraphSnapshot, clock *valueobjects.Clock) (*Graph, []error, error) {
	if snap == nil {
		return nil, nil, pkgerrors.NewValidationError("snapshot cannot be nil")
	}
	if snap.Version > SnapshotVersion {
		return nil, nil, pkgerrors.NewValidationError(
			fmt.Sprintf("snapshot version %d is newer than supported version %d", snap.Version, SnapshotVersion))
	}

	g := NewGraph(GraphID(snap.ID), snap.Name, clock)
	var issues []error

	// Older saves may lack timestamps; those nodes are stamped after every
	// dated node, keeping their saved relative order.
	for _, rec := range snap.Nodes {
		if !rec.CreatedAt.IsZero() {
			g.clock.Observe(rec.CreatedAt)
		}
	}

	for _, rec := range snap.Nodes {
		n, err := restoreNode(rec, g.clock)
		if err != nil {
			issues = append(issues, err)
			continue
		}
		if err := g.AddNode(n); err != nil {
			issues = append(issues, pkgerrors.NewInvariantViolation(
				fmt.Sprintf("node %s skipped on restore", rec.ID)).WithCause(err))
		}
	}

	for _, rec := range snap.Edges {
		e, err := restoreEdge(rec, g.clock)
		if err != nil {
			issues = append(issues, err)
			continue
		}
		if err := g.InsertEdge(e); err != nil {
			issues = append(issues, pkgerrors.NewInvariantViolation(
				fmt.Sprintf("edge %s dropped on restore", rec.ID)).WithCause(err))
		}
	}

	// Restoring is not a change the user made.
	g.PullEvents()
	return g, issues, nil
}

func restoreNode(rec NodeRecord, clock *valueobjects.Clock) (*entities.Node, error) {
	id, err := valueobjects.NewNodeIDFromString(rec.ID)
	if err != nil {
		return nil, pkgerrors.NewInvariantViolation("node without id skipped on restore").WithCause(err)
	}
	nodeType, err := entities.ParseNodeType(rec.Type)
	if err != nil {
		return nil, pkgerrors.NewInvariantViolation(fmt.Sprintf("node %s skipped on restore", rec.ID)).WithCause(err)
	}
	pos, err := valueobjects.NewPosition(rec.X, rec.Y)
	if err != nil {
		pos = valueobjects.Origin()
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = clock.Next()
	}

	var n *entities.Node
	if nodeType == entities.NodeTypeMatrix {
		m := entities.ReconstructMatrix("", nil, nil, nil)
		if rec.Matrix != nil {
			cells := make(map[string]entities.Cell, len(rec.Matrix.Cells))
			for k, c := range rec.Matrix.Cells {
				cells[k] = entities.Cell{Content: c.Content, Filled: c.Filled, Error: c.Error}
			}
			m = entities.ReconstructMatrix(rec.Matrix.Question, rec.Matrix.Rows, rec.Matrix.Columns, cells)
		}
		n, err = entities.NewMatrixNode(id, m, pos, createdAt)
		if err == nil {
			n.SetContent(rec.Content, createdAt)
		}
	} else {
		n, err = entities.NewNode(id, nodeType, rec.Content, pos, createdAt)
	}
	if err != nil {
		return nil, pkgerrors.NewInvariantViolation(fmt.Sprintf("node %s skipped on restore", rec.ID)).WithCause(err)
	}

	var size *valueobjects.Size
	if rec.Width != nil && rec.Height != nil {
		if s, err := valueobjects.NewSize(*rec.Width, *rec.Height); err == nil {
			size = &s
		}
	}
	var updatedAt time.Time
	if rec.UpdatedAt != nil {
		updatedAt = *rec.UpdatedAt
	}
	n.RestoreOptional(rec.Title, rec.Summary, rec.Model, rec.Error, rec.Tags, size, updatedAt)
	return n, nil
}

func restoreEdge(rec EdgeRecord, clock *valueobjects.Clock) (*entities.Edge, error) {
	id, err := valueobjects.NewEdgeIDFromString(rec.ID)
	if err != nil {
		id = valueobjects.NewEdgeID()
	}
	source, err := valueobjects.NewNodeIDFromString(rec.Source)
	if err != nil {
		return nil, pkgerrors.NewInvariantViolation(fmt.Sprintf("edge %s has no source", rec.ID)).WithCause(err)
	}
	target, err := valueobjects.NewNodeIDFromString(rec.Target)
	if err != nil {
		return nil, pkgerrors.NewInvariantViolation(fmt.Sprintf("edge %s has no target", rec.ID)).WithCause(err)
	}
	edgeType := entities.EdgeType(rec.Type)
	if rec.Type == "" {
		edgeType = entities.EdgeTypeReply
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = clock.Next()
	}
	e, err := entities.ReconstructEdge(id, source, target, edgeType, createdAt)
	if err != nil {
		return nil, pkgerrors.NewInvariantViolation(fmt.Sprintf("edge %s skipped on restore", rec.ID)).WithCause(err)
	}
	return e, nil
}
