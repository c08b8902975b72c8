package valueobjects

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// NodeID is a value object representing a unique node identifier.
// New ids are UUIDs; ids read back from saved sessions are accepted as-is as
// long as they are non-empty.
type NodeID struct {
	value string
}

// NewNodeID creates a new random NodeID
func NewNodeID() NodeID {
	return NodeID{value: uuid.New().String()}
}

// NewNodeIDFromString creates a NodeID from an existing string
func NewNodeIDFromString(id string) (NodeID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return NodeID{}, errors.New("node ID cannot be empty")
	}
	return NodeID{value: id}, nil
}

// MustNodeID is NewNodeIDFromString for literals known to be valid.
func MustNodeID(id string) NodeID {
	n, err := NewNodeIDFromString(id)
	if err != nil {
		panic(err)
	}
	return n
}

func (id NodeID) String() string {
	return id.value
}

func (id NodeID) Equals(other NodeID) bool {
	return id.value == other.value
}

func (id NodeID) IsZero() bool {
	return id.value == ""
}

// MarshalText implements encoding.TextMarshaler
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (id *NodeID) UnmarshalText(data []byte) error {
	parsed, err := NewNodeIDFromString(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// EdgeID identifies an edge
type EdgeID struct {
	value string
}

// NewEdgeID creates a new random EdgeID
func NewEdgeID() EdgeID {
	return EdgeID{value: uuid.New().String()}
}

// NewEdgeIDFromString creates an EdgeID from an existing string
func NewEdgeIDFromString(id string) (EdgeID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return EdgeID{}, errors.New("edge ID cannot be empty")
	}
	return EdgeID{value: id}, nil
}

func (id EdgeID) String() string {
	return id.value
}

func (id EdgeID) IsZero() bool {
	return id.value == ""
}

// MarshalText implements encoding.TextMarshaler
func (id EdgeID) MarshalText() ([]byte, error) {
	return []byte(id.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (id *EdgeID) UnmarshalText(data []byte) error {
	parsed, err := NewEdgeIDFromString(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
