package layout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"canvaschat/domain/config"
	"canvaschat/domain/core/aggregates"
	"canvaschat/domain/core/entities"
	"canvaschat/domain/core/valueobjects"
	pkgerrors "canvaschat/pkg/errors"
)

// Strategy selects a layout algorithm.
type Strategy string

const (
	StrategyHierarchical  Strategy = "hierarchical"
	StrategyForceDirected Strategy = "force-directed"
	StrategyOverlapOnly   Strategy = "overlap-only"
)

// ParseStrategy validates s; empty means hierarchical.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyHierarchical:
		return StrategyHierarchical, nil
	case StrategyForceDirected, StrategyOverlapOnly:
		return Strategy(s), nil
	}
	return "", pkgerrors.NewValidationError(fmt.Sprintf("unknown layout strategy %q", s))
}

// Footprints are rendered sizes supplied by the caller, keyed by node id.
type Footprints map[valueobjects.NodeID]valueobjects.Size

// Canvas is the part of the graph the engine reads and writes. Layout only
// ever changes positions.
type Canvas interface {
	GetAllNodes() []*entities.Node
	GetAllEdges() []*entities.Edge
	GetNode(id valueobjects.NodeID) (*entities.Node, bool)
	ParentIDs(id valueobjects.NodeID) []valueobjects.NodeID
	ApplyPositions(positions map[valueobjects.NodeID]valueobjects.Position, strategy string) int
}

// Recorder receives timing for each run; the metrics collector implements it.
type Recorder interface {
	ObserveLayout(strategy string, duration time.Duration, nodes int)
}

// Result summarises a layout run.
type Result struct {
	Strategy  Strategy
	Positions Positions
	Moved     int
	Stranded  []valueobjects.NodeID
	Resolved  bool
	Duration  time.Duration
}

// Engine runs layouts against a canvas. Runs are serialized: a second call
// waits for the first to finish.
type Engine struct {
	mu       sync.Mutex
	cfgMu    sync.RWMutex
	cfg      *config.DomainConfig
	logger   *zap.Logger
	recorder Recorder
}

// NewEngine creates an engine. A nil config uses the defaults and a nil
// logger discards output.
func NewEngine(cfg *config.DomainConfig, logger *zap.Logger, recorder Recorder) *Engine {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg.Clone(), logger: logger.Named("layout"), recorder: recorder}
}

// UpdateConfig swaps the tunables used by later runs.
func (e *Engine) UpdateConfig(cfg *config.DomainConfig) error {
	if err := cfg.Validate(); err != nil {
		return pkgerrors.NewValidationError(err.Error())
	}
	e.cfgMu.Lock()
	e.cfg = cfg.Clone()
	e.cfgMu.Unlock()
	return nil
}

// Config returns a copy of the current tunables.
func (e *Engine) Config() *config.DomainConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg.Clone()
}

// Layout recomputes every node position with the chosen strategy and writes
// the result back to the canvas.
func (e *Engine) Layout(ctx context.Context, c Canvas, strategy Strategy, footprints Footprints) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, pkgerrors.NormalizeCancel(err, "layout")
	}
	cfg := e.Config()
	start := time.Now()
	items, links := snapshotCanvas(c, footprints)

	res := Result{Strategy: strategy, Resolved: true}
	switch strategy {
	case StrategyHierarchical:
		h := Hierarchical(items, links, cfg)
		res.Positions = h.Positions
		res.Stranded = h.Stranded
		if len(h.Stranded) > 0 {
			e.logger.Warn("cycle detected during topological sort, appending stranded nodes",
				zap.Int("stranded", len(h.Stranded)),
				zap.Stringer("first", h.Stranded[0]),
			)
		}
		if h.Fallbacks > 0 {
			e.logger.Debug("probe budget exhausted, placed below lowest node", zap.Int("count", h.Fallbacks))
		}
	case StrategyForceDirected:
		f := ForceDirected(items, links, cfg)
		res.Positions = f.Positions
		res.Resolved = f.Overlap.Resolved
	case StrategyOverlapOnly:
		boxes := make([]Box, len(items))
		for i, it := range items {
			boxes[i] = it.box()
		}
		o := ResolveOverlaps(boxes, nil, cfg.NodePadding, cfg.MaxOverlapRounds)
		res.Resolved = o.Resolved
		res.Positions = make(Positions, len(items))
		for i, it := range items {
			if p, err := valueobjects.NewPosition(boxes[i].X, boxes[i].Y); err == nil {
				res.Positions[it.ID] = p
			}
		}
	default:
		return Result{}, pkgerrors.NewValidationError(fmt.Sprintf("unknown layout strategy %q", strategy))
	}
	if !res.Resolved {
		e.logger.Warn("overlap resolution gave up with overlaps remaining",
			zap.String("strategy", string(strategy)),
			zap.Int("nodes", len(items)),
		)
	}

	res.Moved = c.ApplyPositions(res.Positions, string(strategy))
	res.Duration = time.Since(start)
	if e.recorder != nil {
		e.recorder.ObserveLayout(string(strategy), res.Duration, len(items))
	}
	e.logger.Debug("layout applied",
		zap.String("strategy", string(strategy)),
		zap.Int("nodes", len(items)),
		zap.Int("moved", res.Moved),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// AutoPosition places one node next to its parents without moving anything
// else, and writes its new position back to the canvas.
func (e *Engine) AutoPosition(ctx context.Context, c Canvas, id valueobjects.NodeID, footprints Footprints) (valueobjects.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return valueobjects.Position{}, pkgerrors.NormalizeCancel(err, "auto-position")
	}
	target, ok := c.GetNode(id)
	if !ok {
		return valueobjects.Position{}, pkgerrors.NewNotFoundError(fmt.Sprintf("node %s", id))
	}
	cfg := e.Config()

	parentSet := make(map[valueobjects.NodeID]struct{})
	for _, p := range c.ParentIDs(id) {
		parentSet[p] = struct{}{}
	}
	var parents, others []Box
	for _, n := range c.GetAllNodes() {
		if n.ID().Equals(id) {
			continue
		}
		b := itemFor(n, footprints).box()
		others = append(others, b)
		if _, isParent := parentSet[n.ID()]; isParent {
			parents = append(parents, b)
		}
	}

	size := footprintFor(target, footprints)
	placed, res := PlaceNear(size.Width(), size.Height(), parents, others, cfg)
	if !res.Resolved {
		e.logger.Warn("auto-position could not clear all overlaps", zap.Stringer("node", id))
	}
	pos, err := valueobjects.NewPosition(placed.X, placed.Y)
	if err != nil {
		return valueobjects.Position{}, err
	}
	c.ApplyPositions(map[valueobjects.NodeID]valueobjects.Position{id: pos}, "auto-position")
	return pos, nil
}

func snapshotCanvas(c Canvas, footprints Footprints) ([]Item, []Link) {
	nodes := c.GetAllNodes()
	items := make([]Item, len(nodes))
	for i, n := range nodes {
		items[i] = itemFor(n, footprints)
	}
	edges := c.GetAllEdges()
	links := make([]Link, len(edges))
	for i, e := range edges {
		links[i] = Link{Source: e.Source(), Target: e.Target()}
	}
	return items, links
}

func itemFor(n *entities.Node, footprints Footprints) Item {
	s := footprintFor(n, footprints)
	return Item{
		ID:        n.ID(),
		CreatedAt: n.CreatedAt(),
		X:         n.Position().X(),
		Y:         n.Position().Y(),
		Width:     s.Width(),
		Height:    s.Height(),
	}
}

func footprintFor(n *entities.Node, footprints Footprints) valueobjects.Size {
	if s, ok := footprints[n.ID()]; ok && !s.IsZero() {
		return s
	}
	return n.Footprint()
}

var _ Canvas = (*aggregates.Graph)(nil)
