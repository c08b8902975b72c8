package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"canvaschat/application/history"
	"canvaschat/application/operations"
	"canvaschat/application/ports"
	"canvaschat/domain/config"
	"canvaschat/domain/core/aggregates"
	"canvaschat/domain/core/entities"
	"canvaschat/domain/core/valueobjects"
	"canvaschat/domain/events"
	domainservices "canvaschat/domain/services"
	"canvaschat/domain/services/layout"
	pkgerrors "canvaschat/pkg/errors"
)

const tracerName = "canvaschat/application"

// Options carries the collaborators a CanvasService needs. Only Graph is
// required.
type Options struct {
	Graph        *aggregates.Graph
	Config       *config.DomainConfig
	Client       ports.CompletionClient
	Publisher    ports.EventPublisher
	Metrics      ports.Metrics
	Recorder     layout.Recorder
	Limiter      *semaphore.Weighted
	DefaultModel string
	Logger       *zap.Logger
}

// CanvasService owns one canvas: its graph plus the resolver, layout engine,
// operation tracker and history that work on it. Every method is safe for
// concurrent use.
type CanvasService struct {
	graph     *aggregates.Graph
	engine    *layout.Engine
	tracker   *operations.Tracker
	history   *history.History
	client    ports.CompletionClient
	publisher ports.EventPublisher
	metrics   ports.Metrics
	limiter   *semaphore.Weighted
	tracer    trace.Tracer
	logger    *zap.Logger

	cfgMu        sync.RWMutex
	cfg          *config.DomainConfig
	resolver     *domainservices.ContextResolver
	defaultModel string

	// Serializes history steps with the cell writes they undo.
	historyMu sync.Mutex
	// Held shared while a fill resolves its cell and registers its key, and
	// exclusively while rows or columns are removed.
	reshapeMu sync.RWMutex
	inflight  sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

// NewCanvasService wires a service around opts.Graph.
func NewCanvasService(opts Options) (*CanvasService, error) {
	if opts.Graph == nil {
		return nil, pkgerrors.NewValidationError("graph is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, pkgerrors.NewValidationError(err.Error())
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("graph_id", opts.Graph.ID().String()))
	metrics := opts.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = semaphore.NewWeighted(4)
	}

	s := &CanvasService{
		graph:        opts.Graph,
		engine:       layout.NewEngine(cfg, logger, opts.Recorder),
		tracker:      operations.NewTracker(logger),
		history:      history.New(cfg.HistoryLimit, logger),
		client:       opts.Client,
		publisher:    opts.Publisher,
		metrics:      metrics,
		limiter:      limiter,
		tracer:       otel.Tracer(tracerName),
		logger:       logger.Named("canvas"),
		cfg:          cfg.Clone(),
		resolver:     domainservices.NewContextResolver(cfg),
		defaultModel: opts.DefaultModel,
		closed:       make(chan struct{}),
	}

	graphID := s.graph.ID().String()
	s.history.OnChange(func(st history.State) {
		s.publish(context.Background(), events.NewHistoryChanged(graphID, st.CanUndo, st.CanRedo, time.Now().UTC()))
	})
	s.tracker.OnChange(func(key operations.Key, state operations.State) {
		s.publish(context.Background(), events.NewOperationChanged(graphID, key.EntityID, key.SubKey, string(state), time.Now().UTC()))
	})
	return s, nil
}

func (s *CanvasService) ID() string { return s.graph.ID().String() }

// Graph exposes the aggregate for read paths such as rendering.
func (s *CanvasService) Graph() *aggregates.Graph { return s.graph }

func (s *CanvasService) Tracker() *operations.Tracker { return s.tracker }

func (s *CanvasService) Engine() *layout.Engine { return s.engine }

// Config returns a copy of the active tunables.
func (s *CanvasService) Config() *config.DomainConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg.Clone()
}

// UpdateConfig swaps tunables for every later call.
func (s *CanvasService) UpdateConfig(cfg *config.DomainConfig) error {
	if err := s.engine.UpdateConfig(cfg); err != nil {
		return err
	}
	s.cfgMu.Lock()
	s.cfg = cfg.Clone()
	s.resolver = domainservices.NewContextResolver(cfg)
	s.cfgMu.Unlock()
	s.history.SetLimit(cfg.HistoryLimit)
	return nil
}

func (s *CanvasService) contextResolver() *domainservices.ContextResolver {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.resolver
}

// NodeInput describes a node created through the service.
type NodeInput struct {
	Type      entities.NodeType
	Content   string
	Position  *valueobjects.Position
	Title     string
	Tags      []string
	ParentIDs []valueobjects.NodeID
	EdgeType  entities.EdgeType
}

// AddNode creates a node, connects it to its parents and, when no position
// was given, places it next to them.
func (s *CanvasService) AddNode(ctx context.Context, in NodeInput) (*entities.Node, error) {
	if !in.Type.IsValid() {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("unknown node type %q", in.Type))
	}
	for _, p := range in.ParentIDs {
		if !s.graph.HasNode(p) {
			return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("parent node %s", p))
		}
	}
	pos := valueobjects.Origin()
	if in.Position != nil {
		pos = *in.Position
	}
	n, err := s.graph.CreateNode(in.Type, in.Content, pos)
	if err != nil {
		return nil, err
	}
	if in.Title != "" || len(in.Tags) > 0 {
		u := aggregates.NodeUpdate{}
		if in.Title != "" {
			u.Title = &in.Title
		}
		if len(in.Tags) > 0 {
			u.Tags = &in.Tags
		}
		s.graph.UpdateNode(n.ID(), u)
	}
	edgeType := in.EdgeType
	if edgeType == "" {
		edgeType = entities.EdgeTypeReply
	}
	for _, p := range in.ParentIDs {
		if _, err := s.graph.AddEdge(p, n.ID(), edgeType); err != nil {
			// The parent may have been removed since the check above.
			s.logger.Warn("could not connect new node", zap.Stringer("node", n.ID()), zap.Stringer("parent", p), zap.Error(err))
		}
	}
	if in.Position == nil {
		if _, err := s.engine.AutoPosition(ctx, s.graph, n.ID(), nil); err != nil {
			s.logger.Debug("auto-position skipped", zap.Stringer("node", n.ID()), zap.Error(err))
		}
	}
	s.flush(ctx)

	out, ok := s.graph.GetNode(n.ID())
	if !ok {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("node %s", n.ID()))
	}
	return out, nil
}

// UpdateNode merges u into the node. It reports false when the node is
// absent, which is not an error.
func (s *CanvasService) UpdateNode(ctx context.Context, id valueobjects.NodeID, u aggregates.NodeUpdate) bool {
	ok := s.graph.UpdateNode(id, u)
	s.flush(ctx)
	return ok
}

// RemoveNode deletes a node with its edges and stops any work writing to it.
func (s *CanvasService) RemoveNode(ctx context.Context, id valueobjects.NodeID) bool {
	if n := s.tracker.StopAll(id.String()); n > 0 {
		s.logger.Debug("stopped operations on removed node", zap.Stringer("node", id), zap.Int("count", n))
	}
	ok := s.graph.RemoveNode(id)
	s.flush(ctx)
	return ok
}

// DismissError clears the error state left by a failed generation.
func (s *CanvasService) DismissError(ctx context.Context, id valueobjects.NodeID) bool {
	empty := ""
	return s.UpdateNode(ctx, id, aggregates.NodeUpdate{Error: &empty})
}

func (s *CanvasService) AddEdge(ctx context.Context, source, target valueobjects.NodeID, edgeType entities.EdgeType) (*entities.Edge, error) {
	e, err := s.graph.AddEdge(source, target, edgeType)
	if err != nil {
		return nil, err
	}
	s.flush(ctx)
	return e, nil
}

func (s *CanvasService) RemoveEdge(ctx context.Context, id valueobjects.EdgeID) bool {
	ok := s.graph.RemoveEdge(id)
	s.flush(ctx)
	return ok
}

// CurrentNode is the default target for a new message: the most recently
// created leaf.
func (s *CanvasService) CurrentNode() (*entities.Node, bool) {
	return s.graph.LatestLeaf()
}

// ResolveContext returns the ordered model history for the selection.
func (s *CanvasService) ResolveContext(ctx context.Context, ids []valueobjects.NodeID) ([]domainservices.Message, error) {
	_, span := s.tracer.Start(ctx, "canvas.resolve_context", trace.WithAttributes(attribute.Int("selection", len(ids))))
	defer span.End()

	msgs, err := s.contextResolver().Resolve(s.graph, ids)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("messages", len(msgs)))
	return msgs, nil
}

// EstimateTokens approximates the token count of the resolved context.
func (s *CanvasService) EstimateTokens(ctx context.Context, ids []valueobjects.NodeID) (int, error) {
	return s.contextResolver().EstimateTokens(s.graph, ids)
}

// Layout recomputes positions for the whole canvas.
func (s *CanvasService) Layout(ctx context.Context, strategy layout.Strategy, footprints layout.Footprints) (layout.Result, error) {
	ctx, span := s.tracer.Start(ctx, "canvas.layout", trace.WithAttributes(attribute.String("strategy", string(strategy))))
	defer span.End()

	res, err := s.engine.Layout(ctx, s.graph, strategy, footprints)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	span.SetAttributes(attribute.Int("moved", res.Moved), attribute.Int("stranded", len(res.Stranded)))
	s.flush(ctx)
	return res, nil
}

// AutoPosition places one node near its parents.
func (s *CanvasService) AutoPosition(ctx context.Context, id valueobjects.NodeID, footprints layout.Footprints) (valueobjects.Position, error) {
	pos, err := s.engine.AutoPosition(ctx, s.graph, id, footprints)
	if err != nil {
		return pos, err
	}
	s.flush(ctx)
	return pos, nil
}

// Undo reverts the latest recorded fill.
func (s *CanvasService) Undo(ctx context.Context) (history.Outcome, error) {
	s.historyMu.Lock()
	out, err := s.history.Undo(ctx)
	s.historyMu.Unlock()
	if err == nil {
		s.metrics.HistoryStep("undo", out.Skipped)
	}
	s.flush(ctx)
	return out, err
}

// Redo re-applies the fill just undone.
func (s *CanvasService) Redo(ctx context.Context) (history.Outcome, error) {
	s.historyMu.Lock()
	out, err := s.history.Redo(ctx)
	s.historyMu.Unlock()
	if err == nil {
		s.metrics.HistoryStep("redo", out.Skipped)
	}
	s.flush(ctx)
	return out, err
}

func (s *CanvasService) HistoryState() history.State {
	return s.history.State()
}

// Stop cancels one operation.
func (s *CanvasService) Stop(entityID, subKey string) bool {
	return s.tracker.Stop(entityID, subKey)
}

// StopAll cancels every operation under an entity.
func (s *CanvasService) StopAll(entityID string) int {
	return s.tracker.StopAll(entityID)
}

// Snapshot exports the graph for persistence.
func (s *CanvasService) Snapshot() *aggregates.GraphSnapshot {
	return s.graph.Snapshot()
}

// Wait blocks until every generation started so far has finished.
func (s *CanvasService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return pkgerrors.NormalizeCancel(ctx.Err(), "wait")
	}
}

// Close stops all work and waits for it to unwind.
func (s *CanvasService) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if n := s.tracker.Shutdown(); n > 0 {
			s.logger.Info("stopped in-flight operations", zap.Int("count", n))
		}
	})
	return s.Wait(ctx)
}

func (s *CanvasService) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// flush drains graph events to the publisher and refreshes size gauges.
func (s *CanvasService) flush(ctx context.Context) {
	evts := s.graph.PullEvents()
	s.metrics.GraphSize(s.ID(), s.graph.NodeCount(), s.graph.EdgeCount())
	if len(evts) == 0 || s.publisher == nil {
		return
	}
	if err := s.publisher.PublishBatch(context.WithoutCancel(ctx), evts); err != nil {
		s.logger.Warn("failed to publish events", zap.Int("count", len(evts)), zap.Error(err))
	}
}

func (s *CanvasService) publish(ctx context.Context, e events.DomainEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish event", zap.String("type", e.GetEventType()), zap.Error(err))
	}
}
