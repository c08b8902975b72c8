package entities

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"canvaschat/domain/core/valueobjects"
	pkgerrors "canvaschat/pkg/errors"
)

// Node is one unit of content on the canvas.
// Fields are private; mutation goes through the Graph so that events and
// indices stay consistent.
type Node struct {
	id        valueobjects.NodeID
	nodeType  NodeType
	content   string
	position  valueobjects.Position
	size      *valueobjects.Size
	createdAt time.Time
	updatedAt time.Time

	title   string
	summary string
	model   string
	tags    []string
	errMsg  string

	matrix *Matrix
}

// NewNode creates a node of the given type. Matrix nodes are created with
// NewMatrixNode.
func NewNode(id valueobjects.NodeID, nodeType NodeType, content string, position valueobjects.Position, createdAt time.Time) (*Node, error) {
	if id.IsZero() {
		return nil, pkgerrors.NewValidationError("node id is required")
	}
	if !nodeType.IsValid() {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("unknown node type %q", nodeType))
	}
	if createdAt.IsZero() {
		return nil, pkgerrors.NewValidationError("creation timestamp is required")
	}
	n := &Node{
		id:        id,
		nodeType:  nodeType,
		content:   content,
		position:  position,
		createdAt: createdAt,
		updatedAt: createdAt,
	}
	if nodeType == NodeTypeMatrix {
		n.matrix = &Matrix{cells: make(map[string]Cell)}
	}
	return n, nil
}

// NewMatrixNode creates a matrix node carrying m.
func NewMatrixNode(id valueobjects.NodeID, m *Matrix, position valueobjects.Position, createdAt time.Time) (*Node, error) {
	if m == nil {
		return nil, pkgerrors.NewValidationError("matrix payload is required")
	}
	n, err := NewNode(id, NodeTypeMatrix, m.Question(), position, createdAt)
	if err != nil {
		return nil, err
	}
	n.matrix = m
	return n, nil
}

func (n *Node) ID() valueobjects.NodeID { return n.id }

func (n *Node) Type() NodeType { return n.nodeType }

func (n *Node) Content() string { return n.content }

func (n *Node) Position() valueobjects.Position { return n.position }

func (n *Node) CreatedAt() time.Time { return n.createdAt }

func (n *Node) UpdatedAt() time.Time { return n.updatedAt }

func (n *Node) Title() string { return n.title }

func (n *Node) Summary() string { return n.summary }

func (n *Node) Model() string { return n.model }

func (n *Node) Tags() []string { return append([]string(nil), n.tags...) }

// Error is the last upstream failure shown on the node, empty when healthy.
func (n *Node) Error() string { return n.errMsg }

func (n *Node) HasError() bool { return n.errMsg != "" }

// Size returns the explicit size; ok is false when the node auto-sizes.
func (n *Node) Size() (valueobjects.Size, bool) {
	if n.size == nil {
		return valueobjects.Size{}, false
	}
	return *n.size, true
}

// Matrix returns the matrix payload, nil for every other type.
func (n *Node) Matrix() *Matrix { return n.matrix }

// Footprint is the explicit size if set, otherwise an estimate from the
// content grown from the type's default size.
func (n *Node) Footprint() valueobjects.Size {
	if n.size != nil {
		return *n.size
	}
	def := n.nodeType.DefaultSize()
	if n.nodeType == NodeTypeMatrix && n.matrix != nil {
		w := math.Max(def.Width(), 160*float64(len(n.matrix.columns)+1))
		h := math.Max(def.Height(), 80*float64(len(n.matrix.rows)+1))
		s, _ := valueobjects.NewSize(w, h)
		return s
	}

	const charWidth, lineHeight, chrome = 8.0, 20.0, 60.0
	perLine := int(def.Width() / charWidth)
	lines := 0
	for _, l := range strings.Split(n.content, "\n") {
		lines += 1 + utf8.RuneCountInString(l)/perLine
	}
	h := math.Min(math.Max(def.Height(), chrome+float64(lines)*lineHeight), 3*def.Height())
	s, _ := valueobjects.NewSize(def.Width(), h)
	return s
}

// ContextContent formats the node for inclusion in model context.
func (n *Node) ContextContent() string {
	switch n.nodeType {
	case NodeTypeHighlightExcerpt:
		lines := strings.Split(n.content, "\n")
		for i, l := range lines {
			lines[i] = "> " + l
		}
		return strings.Join(lines, "\n")
	case NodeTypeMatrix:
		if n.matrix == nil {
			return n.content
		}
		return n.matrix.FormatTable()
	case NodeTypeReference, NodeTypeFetchedContent:
		if n.title != "" {
			return fmt.Sprintf("[%s]\n%s", n.title, n.content)
		}
		return n.content
	case NodeTypeHumanMessage, NodeTypeAIMessage, NodeTypeNote, NodeTypeSummary,
		NodeTypeResearchReport, NodeTypeMatrixCellExtract, NodeTypeMatrixRowExtract,
		NodeTypeMatrixColumnExtract, NodeTypeSearchQuery:
		return n.content
	}
	return n.content
}

// SetContent replaces the text content.
func (n *Node) SetContent(content string, at time.Time) {
	n.content = content
	n.touch(at)
}

// AppendContent appends a streamed chunk.
func (n *Node) AppendContent(chunk string, at time.Time) {
	n.content += chunk
	n.touch(at)
}

// MoveTo sets the position.
func (n *Node) MoveTo(p valueobjects.Position, at time.Time) {
	n.position = p
	n.touch(at)
}

// Resize sets an explicit size.
func (n *Node) Resize(s valueobjects.Size, at time.Time) {
	n.size = &s
	n.touch(at)
}

// ClearSize returns the node to auto-sizing.
func (n *Node) ClearSize(at time.Time) {
	n.size = nil
	n.touch(at)
}

func (n *Node) SetTitle(title string, at time.Time) {
	n.title = title
	n.touch(at)
}

func (n *Node) SetSummary(summary string, at time.Time) {
	n.summary = summary
	n.touch(at)
}

func (n *Node) SetModel(model string, at time.Time) {
	n.model = model
	n.touch(at)
}

// SetTags replaces the tag-color references, dropping blanks and duplicates.
func (n *Node) SetTags(tags []string, at time.Time) {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	n.tags = out
	n.touch(at)
}

// SetError records an upstream failure on the node.
func (n *Node) SetError(msg string, at time.Time) {
	n.errMsg = msg
	n.touch(at)
}

// ClearError dismisses the error state.
func (n *Node) ClearError(at time.Time) {
	n.errMsg = ""
	n.touch(at)
}

// Clone returns a deep copy that can be read without holding graph locks.
func (n *Node) Clone() *Node {
	cp := *n
	if n.size != nil {
		s := *n.size
		cp.size = &s
	}
	cp.tags = n.Tags()
	cp.matrix = n.matrix.Clone()
	return &cp
}

// RestoreOptional fills the optional attributes of a node read back from
// storage. Missing values are simply left empty.
func (n *Node) RestoreOptional(title, summary, model, errMsg string, tags []string, size *valueobjects.Size, updatedAt time.Time) {
	n.title = title
	n.summary = summary
	n.model = model
	n.errMsg = errMsg
	if len(tags) > 0 {
		n.tags = append([]string(nil), tags...)
	}
	if size != nil {
		s := *size
		n.size = &s
	}
	if updatedAt.After(n.createdAt) {
		n.updatedAt = updatedAt
	}
}

func (n *Node) touch(at time.Time) {
	if at.After(n.updatedAt) {
		n.updatedAt = at
	}
}
