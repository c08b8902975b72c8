package fixtures

import (
	"fmt"
	"time"

	"canvaschat/domain/core/aggregates"
	"canvaschat/domain/core/entities"
	"canvaschat/domain/core/valueobjects"
)

// BaseTime is the creation time of the first node a GraphBuilder adds.
var BaseTime = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// ID turns a literal into a NodeID.
func ID(s string) valueobjects.NodeID {
	return valueobjects.MustNodeID(s)
}

// GraphBuilder helps create test graphs. Nodes get creation times one
// second apart in the order they are declared.
type GraphBuilder struct {
	graph *aggregates.Graph
	tick  int
	err   error
}

func NewGraphBuilder() *GraphBuilder {
	clock := valueobjects.NewClockWithSource(func() time.Time { return BaseTime })
	return &GraphBuilder{graph: aggregates.NewGraph("test-graph", "Test Graph", clock)}
}

func (b *GraphBuilder) next() time.Time {
	b.tick++
	return BaseTime.Add(time.Duration(b.tick) * time.Second)
}

// Node adds a node at the origin.
func (b *GraphBuilder) Node(id string, nt entities.NodeType, content string) *GraphBuilder {
	return b.NodeAt(id, nt, content, 0, 0)
}

// NodeAt adds a node at x/y.
func (b *GraphBuilder) NodeAt(id string, nt entities.NodeType, content string, x, y float64) *GraphBuilder {
	if b.err != nil {
		return b
	}
	pos, err := valueobjects.NewPosition(x, y)
	if err != nil {
		b.err = err
		return b
	}
	n, err := entities.NewNode(ID(id), nt, content, pos, b.next())
	if err != nil {
		b.err = err
		return b
	}
	b.err = b.graph.AddNode(n)
	return b
}

// Matrix adds a matrix node with the given labels.
func (b *GraphBuilder) Matrix(id, question string, rows, cols []string) *GraphBuilder {
	if b.err != nil {
		return b
	}
	m, err := entities.NewMatrix(question, rows, cols)
	if err != nil {
		b.err = err
		return b
	}
	n, err := entities.NewMatrixNode(ID(id), m, valueobjects.Origin(), b.next())
	if err != nil {
		b.err = err
		return b
	}
	b.err = b.graph.AddNode(n)
	return b
}

// Edge connects two declared nodes.
func (b *GraphBuilder) Edge(from, to string, et entities.EdgeType) *GraphBuilder {
	if b.err != nil {
		return b
	}
	if _, err := b.graph.AddEdge(ID(from), ID(to), et); err != nil {
		b.err = fmt.Errorf("edge %s->%s: %w", from, to, err)
	}
	return b
}

// Reply is Edge with the reply type.
func (b *GraphBuilder) Reply(from, to string) *GraphBuilder {
	return b.Edge(from, to, entities.EdgeTypeReply)
}

// Build returns the graph with its construction events drained.
func (b *GraphBuilder) Build() (*aggregates.Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.graph.PullEvents()
	return b.graph, nil
}

// MustBuild panics on a builder error.
func (b *GraphBuilder) MustBuild() *aggregates.Graph {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}
