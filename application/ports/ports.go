package ports

import (
	"context"
	"time"

	"canvaschat/domain/core/aggregates"
	"canvaschat/domain/events"
	"canvaschat/domain/services"
)

// CompletionRequest is what the network client sends to the model provider.
type CompletionRequest struct {
	Model       string
	Messages    []services.Message
	MaxTokens   int
	Temperature float32
}

// ChunkHandler receives each streamed piece of a completion. Returning an
// error ends the stream with that error.
type ChunkHandler func(chunk string) error

// CompletionClient is the model-provider collaborator. Implementations own
// transport, retries and timeouts; failures come back as UPSTREAM errors.
type CompletionClient interface {
	// Stream sends req and calls onChunk for every piece of the reply, in order.
	Stream(ctx context.Context, req CompletionRequest, onChunk ChunkHandler) error

	// Name identifies the provider in logs and metrics.
	Name() string
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}

// EventBus adds per-graph subscriptions for the renderer's change feed.
type EventBus interface {
	EventPublisher

	// Subscribe returns a channel of the events of one graph and a function
	// that ends the subscription and closes the channel.
	Subscribe(graphID string) (<-chan events.DomainEvent, func())
}

// SessionSummary lists a stored session without loading it.
type SessionSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SavedAt   time.Time `json:"saved_at"`
	NodeCount int       `json:"node_count"`
	EdgeCount int       `json:"edge_count"`
}

// SessionStore is the persistence collaborator: it keeps whole graph
// snapshots keyed by graph id.
type SessionStore interface {
	// Save persists snap, replacing any earlier snapshot with the same id.
	Save(ctx context.Context, snap *aggregates.GraphSnapshot) error

	// Load returns NOT_FOUND when no snapshot exists.
	Load(ctx context.Context, id string) (*aggregates.GraphSnapshot, error)

	Delete(ctx context.Context, id string) error

	List(ctx context.Context) ([]SessionSummary, error)
}
