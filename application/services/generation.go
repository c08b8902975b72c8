package services

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"canvaschat/application/operations"
	"canvaschat/application/ports"
	"canvaschat/domain/core/aggregates"
	"canvaschat/domain/core/entities"
	"canvaschat/domain/core/valueobjects"
	pkgerrors "canvaschat/pkg/errors"
)

// Outcomes reported to metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
	OutcomeOrphaned  = "orphaned"
)

const (
	kindReply = "reply"
	kindCell  = "cell"
)

// ReplyRequest asks for a model reply to one or more parent nodes.
type ReplyRequest struct {
	ParentIDs []valueobjects.NodeID
	Model     string
}

// SendMessage adds a human message under parents and starts a reply to it.
func (s *CanvasService) SendMessage(ctx context.Context, content string, parents []valueobjects.NodeID, model string) (human, reply *entities.Node, err error) {
	edgeType := entities.EdgeTypeReply
	if len(parents) > 1 {
		edgeType = entities.EdgeTypeMerge
	}
	human, err = s.AddNode(ctx, NodeInput{
		Type:      entities.NodeTypeHumanMessage,
		Content:   content,
		ParentIDs: parents,
		EdgeType:  edgeType,
	})
	if err != nil {
		return nil, nil, err
	}
	reply, err = s.GenerateReply(ctx, ReplyRequest{ParentIDs: []valueobjects.NodeID{human.ID()}, Model: model})
	if err != nil {
		return human, nil, err
	}
	return human, reply, nil
}

// GenerateReply creates an empty ai-message under the parents and streams
// the model's answer into it in the background. The new node is returned as
// soon as it exists; its id is the operation key for Stop.
func (s *CanvasService) GenerateReply(ctx context.Context, req ReplyRequest) (*entities.Node, error) {
	if s.client == nil {
		return nil, pkgerrors.NewUnavailableError("completion")
	}
	if s.isClosed() {
		return nil, pkgerrors.NewUnavailableError("canvas")
	}
	if len(req.ParentIDs) == 0 {
		return nil, pkgerrors.NewValidationError("a reply needs at least one parent")
	}

	messages, err := s.ResolveContext(ctx, req.ParentIDs)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, pkgerrors.NewValidationError("selection has no content to reply to")
	}

	edgeType := entities.EdgeTypeReply
	if len(req.ParentIDs) > 1 {
		edgeType = entities.EdgeTypeMerge
	}
	model := s.model(req.Model)
	node, err := s.AddNode(ctx, NodeInput{
		Type:      entities.NodeTypeAIMessage,
		ParentIDs: req.ParentIDs,
		EdgeType:  edgeType,
	})
	if err != nil {
		return nil, err
	}
	s.graph.UpdateNode(node.ID(), aggregates.NodeUpdate{Model: &model})
	s.flush(ctx)

	// The stream outlives the request that started it.
	h := s.tracker.Start(context.WithoutCancel(ctx), node.ID().String(), "")
	s.inflight.Add(1)
	go s.runReply(h, node.ID(), ports.CompletionRequest{Model: model, Messages: messages})

	out, ok := s.graph.GetNode(node.ID())
	if !ok {
		return node, nil
	}
	return out, nil
}

func (s *CanvasService) runReply(h *operations.Handle, id valueobjects.NodeID, req ports.CompletionRequest) {
	defer s.inflight.Done()
	defer s.tracker.Release(h)

	ctx, span := s.tracer.Start(h.Context(), "canvas.generate_reply",
		trace.WithAttributes(attribute.String("node_id", id.String()), attribute.String("model", req.Model)))
	defer span.End()

	start := time.Now()
	s.metrics.OperationStarted(kindReply)
	err := s.stream(ctx, h, req, func(chunk string) error {
		if !s.graph.AppendContent(id, chunk) {
			return pkgerrors.NewNotFoundError(fmt.Sprintf("node %s", id))
		}
		s.flush(ctx)
		return nil
	})

	outcome := s.classify(h, err)
	switch outcome {
	case OutcomeFailed:
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		msg := errorMessage(err)
		s.graph.UpdateNode(id, aggregates.NodeUpdate{Error: &msg})
		s.logger.Warn("reply generation failed", zap.Stringer("node", id), zap.Error(err))
	case OutcomeCancelled:
		s.logger.Debug("reply generation stopped", zap.Stringer("node", id))
	case OutcomeOrphaned:
		s.logger.Debug("reply target removed mid-stream", zap.Stringer("node", id))
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	s.metrics.OperationFinished(kindReply, outcome, time.Since(start))
	s.flush(ctx)
}

// stream runs one completion under the concurrency limit. The handle is
// polled before the request and before every chunk is applied.
func (s *CanvasService) stream(ctx context.Context, h *operations.Handle, req ports.CompletionRequest, sink func(string) error) error {
	if err := s.limiter.Acquire(ctx, 1); err != nil {
		return pkgerrors.NormalizeCancel(err, h.Key().String())
	}
	defer s.limiter.Release(1)

	if err := h.Check(); err != nil {
		return err
	}
	return s.client.Stream(ctx, req, func(chunk string) error {
		if err := h.Check(); err != nil {
			return err
		}
		return sink(chunk)
	})
}

// classify maps the end of a stream onto an outcome. A stopped handle wins
// over whatever error the transport reported while unwinding.
func (s *CanvasService) classify(h *operations.Handle, err error) string {
	switch {
	case err == nil:
		return OutcomeCompleted
	case h.Cancelled() || pkgerrors.IsCancelled(err):
		return OutcomeCancelled
	case pkgerrors.IsNotFound(err):
		return OutcomeOrphaned
	default:
		return OutcomeFailed
	}
}

func (s *CanvasService) model(requested string) string {
	if requested != "" {
		return requested
	}
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.defaultModel
}

// errorMessage is the text shown on the node; the cause chain stays in logs.
func errorMessage(err error) string {
	if appErr := pkgerrors.GetAppError(err); appErr != nil {
		if appErr.Cause != nil {
			return appErr.Message + ": " + appErr.Cause.Error()
		}
		return appErr.Message
	}
	return err.Error()
}
