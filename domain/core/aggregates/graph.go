package aggregates

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"canvaschat/domain/core/entities"
	"canvaschat/domain/core/valueobjects"
	"canvaschat/domain/events"
	pkgerrors "canvaschat/pkg/errors"
)

// GraphID represents a unique graph identifier
type GraphID string

// NewGraphID creates a new random GraphID
func NewGraphID() GraphID {
	return GraphID(uuid.New().String())
}

func (id GraphID) String() string {
	return string(id)
}

type edgeSet map[valueobjects.EdgeID]struct{}

// Graph is the aggregate root for one canvas: the node table plus outgoing
// and incoming adjacency indices over the edge table. Every mutation keeps
// the three in step under a single lock, so no caller can observe an edge
// whose endpoint is missing.
type Graph struct {
	mu sync.RWMutex

	id        GraphID
	name      string
	clock     *valueobjects.Clock
	nodes     map[valueobjects.NodeID]*entities.Node
	edges     map[valueobjects.EdgeID]*entities.Edge
	outgoing  map[valueobjects.NodeID]edgeSet
	incoming  map[valueobjects.NodeID]edgeSet
	createdAt time.Time
	updatedAt time.Time
	version   int

	events []events.DomainEvent
}

// NodeUpdate lists the fields to merge into a node. Nil fields are left alone.
type NodeUpdate struct {
	Content   *string
	Position  *valueobjects.Position
	Size      *valueobjects.Size
	ClearSize bool
	Title     *string
	Summary   *string
	Model     *string
	Tags      *[]string
	Error     *string
}

// NewGraph creates an empty graph. A nil clock gets a wall-clock backed one.
func NewGraph(id GraphID, name string, clock *valueobjects.Clock) *Graph {
	if id == "" {
		id = NewGraphID()
	}
	if clock == nil {
		clock = valueobjects.NewClock()
	}
	now := clock.Next()
	return &Graph{
		id:        id,
		name:      name,
		clock:     clock,
		nodes:     make(map[valueobjects.NodeID]*entities.Node),
		edges:     make(map[valueobjects.EdgeID]*entities.Edge),
		outgoing:  make(map[valueobjects.NodeID]edgeSet),
		incoming:  make(map[valueobjects.NodeID]edgeSet),
		createdAt: now,
		updatedAt: now,
		version:   1,
	}
}

func (g *Graph) ID() GraphID { return g.id }

func (g *Graph) Name() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.name
}

// Version increases on every successful mutation.
func (g *Graph) Version() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

func (g *Graph) UpdatedAt() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.updatedAt
}

// Now returns the next creation timestamp from the graph's clock.
func (g *Graph) Now() time.Time {
	return g.clock.Next()
}

// CreateNode builds a node with a fresh id and timestamp and adds it.
func (g *Graph) CreateNode(nodeType entities.NodeType, content string, position valueobjects.Position) (*entities.Node, error) {
	n, err := entities.NewNode(valueobjects.NewNodeID(), nodeType, content, position, g.clock.Next())
	if err != nil {
		return nil, err
	}
	if err := g.AddNode(n); err != nil {
		return nil, err
	}
	return n.Clone(), nil
}

// AddNode inserts n. The graph takes ownership of n.
func (g *Graph) AddNode(n *entities.Node) error {
	if n == nil {
		return pkgerrors.NewValidationError("node cannot be nil")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[n.ID()]; exists {
		return pkgerrors.NewConflictError(fmt.Sprintf("node %s already exists", n.ID()))
	}
	g.clock.Observe(n.CreatedAt())
	g.nodes[n.ID()] = n
	g.touch(n.CreatedAt())
	g.addEvent(events.NewNodeAdded(g.id.String(), n.ID().String(), n.Type().String(), g.updatedAt))
	return nil
}

// GetNode returns a copy of the node.
func (g *Graph) GetNode(id valueobjects.NodeID) (*entities.Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

func (g *Graph) HasNode(id valueobjects.NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// UpdateNode merges u into the node. An absent id is a no-op and reports false.
func (g *Graph) UpdateNode(id valueobjects.NodeID, u NodeUpdate) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return false
	}
	now := g.clock.Next()
	var fields []string
	if u.Content != nil {
		n.SetContent(*u.Content, now)
		fields = append(fields, "content")
	}
	if u.Position != nil {
		n.MoveTo(*u.Position, now)
		fields = append(fields, "position")
	}
	if u.ClearSize {
		n.ClearSize(now)
		fields = append(fields, "size")
	} else if u.Size != nil {
		n.Resize(*u.Size, now)
		fields = append(fields, "size")
	}
	if u.Title != nil {
		n.SetTitle(*u.Title, now)
		fields = append(fields, "title")
	}
	if u.Summary != nil {
		n.SetSummary(*u.Summary, now)
		fields = append(fields, "summary")
	}
	if u.Model != nil {
		n.SetModel(*u.Model, now)
		fields = append(fields, "model")
	}
	if u.Tags != nil {
		n.SetTags(*u.Tags, now)
		fields = append(fields, "tags")
	}
	if u.Error != nil {
		if *u.Error == "" {
			n.ClearError(now)
		} else {
			n.SetError(*u.Error, now)
		}
		fields = append(fields, "error")
	}
	if len(fields) > 0 {
		g.touch(now)
		g.addEvent(events.NewNodeUpdated(g.id.String(), id.String(), fields, now))
	}
	return true
}

// AppendContent appends a streamed chunk to a node's content. Reports false
// when the node has been deleted in the meantime.
func (g *Graph) AppendContent(id valueobjects.NodeID, chunk string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return false
	}
	now := g.clock.Next()
	n.AppendContent(chunk, now)
	g.touch(now)
	g.addEvent(events.NewNodeUpdated(g.id.String(), id.String(), []string{"content"}, now))
	return true
}

// RemoveNode deletes the node and every edge touching it. Reports false when
// the id is absent.
func (g *Graph) RemoveNode(id valueobjects.NodeID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return false
	}
	var removed []string
	for eid := range g.outgoing[id] {
		g.unlinkEdge(eid)
		removed = append(removed, eid.String())
	}
	for eid := range g.incoming[id] {
		g.unlinkEdge(eid)
		removed = append(removed, eid.String())
	}
	delete(g.outgoing, id)
	delete(g.incoming, id)
	delete(g.nodes, id)
	sort.Strings(removed)

	now := g.clock.Next()
	g.touch(now)
	g.addEvent(events.NewNodeRemoved(g.id.String(), id.String(), removed, now))
	return true
}

// AddEdge connects source to target. Both endpoints must exist.
func (g *Graph) AddEdge(source, target valueobjects.NodeID, edgeType entities.EdgeType) (*entities.Edge, error) {
	e, err := entities.NewEdge(source, target, edgeType, g.clock.Next())
	if err != nil {
		return nil, err
	}
	if err := g.InsertEdge(e); err != nil {
		return nil, err
	}
	return e, nil
}

// InsertEdge adds an already-built edge. Both endpoints must exist.
func (g *Graph) InsertEdge(e *entities.Edge) error {
	if e == nil {
		return pkgerrors.NewValidationError("edge cannot be nil")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[e.Source()]; !ok {
		return pkgerrors.NewNotFoundError(fmt.Sprintf("source node %s", e.Source()))
	}
	if _, ok := g.nodes[e.Target()]; !ok {
		return pkgerrors.NewNotFoundError(fmt.Sprintf("target node %s", e.Target()))
	}
	if _, exists := g.edges[e.ID()]; exists {
		return pkgerrors.NewConflictError(fmt.Sprintf("edge %s already exists", e.ID()))
	}
	g.linkEdge(e)
	g.touch(e.CreatedAt())
	g.addEvent(events.NewEdgeAdded(g.id.String(), e.ID().String(), e.Source().String(),
		e.Target().String(), string(e.Type()), g.updatedAt))
	return nil
}

// GetEdge returns the edge with id.
func (g *Graph) GetEdge(id valueobjects.EdgeID) (*entities.Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[id]
	return e, ok
}

// RemoveEdge deletes one edge. Reports false when the id is absent.
func (g *Graph) RemoveEdge(id valueobjects.EdgeID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.edges[id]; !ok {
		return false
	}
	g.unlinkEdge(id)
	now := g.clock.Next()
	g.touch(now)
	g.addEvent(events.NewEdgeRemoved(g.id.String(), id.String(), now))
	return true
}

// ParentIDs returns the sources of incoming edges, oldest first.
func (g *Graph) ParentIDs(id valueobjects.NodeID) []valueobjects.NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.neighbourIDs(g.incoming[id], func(e *entities.Edge) valueobjects.NodeID { return e.Source() })
}

// ChildIDs returns the targets of outgoing edges, oldest first.
func (g *Graph) ChildIDs(id valueobjects.NodeID) []valueobjects.NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.neighbourIDs(g.outgoing[id], func(e *entities.Edge) valueobjects.NodeID { return e.Target() })
}

// GetParents returns copies of the node's parents, oldest first.
func (g *Graph) GetParents(id valueobjects.NodeID) []*entities.Node {
	return g.cloneAll(g.ParentIDs(id))
}

// GetChildren returns copies of the node's children, oldest first.
func (g *Graph) GetChildren(id valueobjects.NodeID) []*entities.Node {
	return g.cloneAll(g.ChildIDs(id))
}

// GetRootNodes returns nodes without incoming edges, oldest first.
func (g *Graph) GetRootNodes() []*entities.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.filterNodes(func(id valueobjects.NodeID) bool { return len(g.incoming[id]) == 0 })
}

// GetLeafNodes returns nodes without outgoing edges, oldest first.
func (g *Graph) GetLeafNodes() []*entities.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.filterNodes(func(id valueobjects.NodeID) bool { return len(g.outgoing[id]) == 0 })
}

// LatestLeaf is the default "current" node: the most recently created leaf.
func (g *Graph) LatestLeaf() (*entities.Node, bool) {
	leaves := g.GetLeafNodes()
	if len(leaves) == 0 {
		return nil, false
	}
	return leaves[len(leaves)-1], true
}

// GetAllNodes returns copies of all nodes, oldest first.
func (g *Graph) GetAllNodes() []*entities.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.filterNodes(func(valueobjects.NodeID) bool { return true })
}

// GetAllEdges returns all edges, oldest first.
func (g *Graph) GetAllEdges() []*entities.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*entities.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	SortEdges(out)
	return out
}

func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// ApplyPositions writes layout output. Ids no longer in the graph are skipped.
// Returns how many nodes actually moved.
func (g *Graph) ApplyPositions(positions map[valueobjects.NodeID]valueobjects.Position, strategy string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Next()
	moved := 0
	for id, p := range positions {
		n, ok := g.nodes[id]
		if !ok || n.Position().Equals(p) {
			continue
		}
		n.MoveTo(p, now)
		moved++
	}
	if moved > 0 {
		g.touch(now)
	}
	g.addEvent(events.NewLayoutApplied(g.id.String(), strategy, moved, now))
	return moved
}

// Validate checks the structural invariants: every edge endpoint exists and
// the adjacency indices mirror the edge table exactly.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	indexed := 0
	for id, e := range g.edges {
		if _, ok := g.nodes[e.Source()]; !ok {
			return pkgerrors.NewInvariantViolation(fmt.Sprintf("edge %s references missing source %s", id, e.Source()))
		}
		if _, ok := g.nodes[e.Target()]; !ok {
			return pkgerrors.NewInvariantViolation(fmt.Sprintf("edge %s references missing target %s", id, e.Target()))
		}
		if _, ok := g.outgoing[e.Source()][id]; !ok {
			return pkgerrors.NewInvariantViolation(fmt.Sprintf("edge %s missing from outgoing index", id))
		}
		if _, ok := g.incoming[e.Target()][id]; !ok {
			return pkgerrors.NewInvariantViolation(fmt.Sprintf("edge %s missing from incoming index", id))
		}
	}
	for _, set := range g.outgoing {
		indexed += len(set)
	}
	if indexed != len(g.edges) {
		return pkgerrors.NewInvariantViolation("outgoing index size does not match edge table")
	}
	indexed = 0
	for _, set := range g.incoming {
		indexed += len(set)
	}
	if indexed != len(g.edges) {
		return pkgerrors.NewInvariantViolation("incoming index size does not match edge table")
	}
	return nil
}

// PullEvents returns and clears the uncommitted domain events.
func (g *Graph) PullEvents() []events.DomainEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.events
	g.events = nil
	return out
}

// RecordEvent queues an event raised on behalf of the graph by the
// application layer (history and operation changes).
func (g *Graph) RecordEvent(e events.DomainEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addEvent(e)
}

// SortNodes orders nodes by creation time, then id.
func SortNodes(nodes []*entities.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return NodeLess(nodes[i], nodes[j])
	})
}

// NodeLess is the canonical temporal order.
func NodeLess(a, b *entities.Node) bool {
	if !a.CreatedAt().Equal(b.CreatedAt()) {
		return a.CreatedAt().Before(b.CreatedAt())
	}
	return a.ID().String() < b.ID().String()
}

// SortEdges orders edges by creation time, then id.
func SortEdges(edges []*entities.Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if !a.CreatedAt().Equal(b.CreatedAt()) {
			return a.CreatedAt().Before(b.CreatedAt())
		}
		return a.ID().String() < b.ID().String()
	})
}

func (g *Graph) linkEdge(e *entities.Edge) {
	g.edges[e.ID()] = e
	if g.outgoing[e.Source()] == nil {
		g.outgoing[e.Source()] = make(edgeSet)
	}
	g.outgoing[e.Source()][e.ID()] = struct{}{}
	if g.incoming[e.Target()] == nil {
		g.incoming[e.Target()] = make(edgeSet)
	}
	g.incoming[e.Target()][e.ID()] = struct{}{}
}

func (g *Graph) unlinkEdge(id valueobjects.EdgeID) {
	e, ok := g.edges[id]
	if !ok {
		return
	}
	delete(g.edges, id)
	if set := g.outgoing[e.Source()]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(g.outgoing, e.Source())
		}
	}
	if set := g.incoming[e.Target()]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(g.incoming, e.Target())
		}
	}
}

func (g *Graph) neighbourIDs(set edgeSet, pick func(*entities.Edge) valueobjects.NodeID) []valueobjects.NodeID {
	if len(set) == 0 {
		return nil
	}
	nodes := make([]*entities.Node, 0, len(set))
	seen := make(map[valueobjects.NodeID]struct{}, len(set))
	for eid := range set {
		other := pick(g.edges[eid])
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		if n, ok := g.nodes[other]; ok {
			nodes = append(nodes, n)
		}
	}
	SortNodes(nodes)
	ids := make([]valueobjects.NodeID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID()
	}
	return ids
}

func (g *Graph) cloneAll(ids []valueobjects.NodeID) []*entities.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*entities.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := g.nodes[id]; ok {
			out = append(out, n.Clone())
		}
	}
	return out
}

func (g *Graph) filterNodes(keep func(valueobjects.NodeID) bool) []*entities.Node {
	out := make([]*entities.Node, 0, len(g.nodes))
	for id, n := range g.nodes {
		if keep(id) {
			out = append(out, n.Clone())
		}
	}
	SortNodes(out)
	return out
}

func (g *Graph) touch(at time.Time) {
	if at.After(g.updatedAt) {
		g.updatedAt = at
	}
	g.version++
}

func (g *Graph) addEvent(e events.DomainEvent) {
	g.events = append(g.events, e)
}
