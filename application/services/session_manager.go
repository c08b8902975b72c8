package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"canvaschat/application/ports"
	"canvaschat/domain/config"
	"canvaschat/domain/core/aggregates"
	"canvaschat/domain/core/valueobjects"
	"canvaschat/domain/services/layout"
	pkgerrors "canvaschat/pkg/errors"
)

// ManagerOptions are the collaborators shared by every session.
type ManagerOptions struct {
	Config        *config.DomainConfig
	Client        ports.CompletionClient
	Bus           ports.EventPublisher
	Store         ports.SessionStore
	Metrics       ports.Metrics
	Recorder      layout.Recorder
	MaxConcurrent int64
	DefaultModel  string
	Logger        *zap.Logger
}

// SessionManager owns the live canvases, one graph each. Generations across
// all sessions share one concurrency limit.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*CanvasService
	cfg      *config.DomainConfig
	opts     ManagerOptions
	limiter  *semaphore.Weighted
	logger   *zap.Logger
}

// NewSessionManager creates an empty manager.
func NewSessionManager(opts ManagerOptions) *SessionManager {
	if opts.Config == nil {
		opts.Config = config.DefaultDomainConfig()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 4
	}
	return &SessionManager{
		sessions: make(map[string]*CanvasService),
		cfg:      opts.Config.Clone(),
		opts:     opts,
		limiter:  semaphore.NewWeighted(opts.MaxConcurrent),
		logger:   opts.Logger.Named("sessions"),
	}
}

// Create starts an empty session.
func (m *SessionManager) Create(ctx context.Context, name string) (*CanvasService, error) {
	g := aggregates.NewGraph(aggregates.NewGraphID(), name, valueobjects.NewClock())
	svc, err := m.newService(g)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[svc.ID()] = svc
	m.mu.Unlock()

	m.logger.Info("session created", zap.String("session_id", svc.ID()), zap.String("name", name))
	return svc, nil
}

// Get returns a live session.
func (m *SessionManager) Get(id string) (*CanvasService, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.sessions[id]
	if !ok {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("session %s", id))
	}
	return svc, nil
}

// List returns the ids of the live sessions, sorted.
func (m *SessionManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stored lists the sessions in the store.
func (m *SessionManager) Stored(ctx context.Context) ([]ports.SessionSummary, error) {
	if m.opts.Store == nil {
		return nil, pkgerrors.NewUnavailableError("session store")
	}
	return m.opts.Store.List(ctx)
}

// Save writes a live session to the store.
func (m *SessionManager) Save(ctx context.Context, id string) (*aggregates.GraphSnapshot, error) {
	if m.opts.Store == nil {
		return nil, pkgerrors.NewUnavailableError("session store")
	}
	svc, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	snap := svc.Snapshot()
	if err := m.opts.Store.Save(ctx, snap); err != nil {
		return nil, pkgerrors.Wrapf(err, "save session %s", id)
	}
	m.logger.Info("session saved",
		zap.String("session_id", id),
		zap.Int("nodes", len(snap.Nodes)),
		zap.Int("edges", len(snap.Edges)),
	)
	return snap, nil
}

// Load reads a session from the store into a fresh graph, replacing any
// live session with the same id. Unusable records are logged and skipped.
func (m *SessionManager) Load(ctx context.Context, id string) (*CanvasService, error) {
	if m.opts.Store == nil {
		return nil, pkgerrors.NewUnavailableError("session store")
	}
	snap, err := m.opts.Store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.Import(ctx, snap)
}

// Import turns a snapshot into a live session.
func (m *SessionManager) Import(ctx context.Context, snap *aggregates.GraphSnapshot) (*CanvasService, error) {
	g, issues, err := aggregates.Restore(snap, valueobjects.NewClock())
	if err != nil {
		return nil, err
	}
	for _, issue := range issues {
		m.logger.Warn("snapshot record skipped", zap.String("session_id", snap.ID), zap.Error(issue))
	}
	svc, err := m.newService(g)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	prev := m.sessions[svc.ID()]
	m.sessions[svc.ID()] = svc
	m.mu.Unlock()
	if prev != nil {
		if err := prev.Close(ctx); err != nil {
			m.logger.Warn("replaced session did not close cleanly", zap.String("session_id", svc.ID()), zap.Error(err))
		}
	}
	m.logger.Info("session loaded",
		zap.String("session_id", svc.ID()),
		zap.Int("nodes", g.NodeCount()),
		zap.Int("issues", len(issues)),
	)
	return svc, nil
}

// Delete closes a live session and removes its stored snapshot.
func (m *SessionManager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	svc, live := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if live {
		if err := svc.Close(ctx); err != nil {
			return err
		}
		if m.opts.Metrics != nil {
			m.opts.Metrics.ForgetGraph(id)
		}
	}
	if m.opts.Store != nil {
		if err := m.opts.Store.Delete(ctx, id); err != nil && !pkgerrors.IsNotFound(err) {
			return err
		}
	} else if !live {
		return pkgerrors.NewNotFoundError(fmt.Sprintf("session %s", id))
	}
	return nil
}

// UpdateConfig pushes new tunables into every live session and is the hook
// the config watcher calls.
func (m *SessionManager) UpdateConfig(cfg *config.DomainConfig) error {
	if err := cfg.Validate(); err != nil {
		return pkgerrors.NewValidationError(err.Error())
	}
	m.mu.Lock()
	m.cfg = cfg.Clone()
	sessions := make([]*CanvasService, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.UpdateConfig(cfg); err != nil {
			m.logger.Warn("session rejected config", zap.String("session_id", s.ID()), zap.Error(err))
		}
	}
	m.logger.Info("domain config applied", zap.Int("sessions", len(sessions)))
	return nil
}

// Close stops every session.
func (m *SessionManager) Close(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*CanvasService)
	m.mu.Unlock()

	var firstErr error
	for id, s := range sessions {
		if err := s.Close(ctx); err != nil && firstErr == nil {
			firstErr = pkgerrors.Wrapf(err, "close session %s", id)
		}
	}
	return firstErr
}

func (m *SessionManager) newService(g *aggregates.Graph) (*CanvasService, error) {
	m.mu.RLock()
	cfg := m.cfg.Clone()
	m.mu.RUnlock()
	return NewCanvasService(Options{
		Graph:        g,
		Config:       cfg,
		Client:       m.opts.Client,
		Publisher:    m.opts.Bus,
		Metrics:      m.opts.Metrics,
		Recorder:     m.opts.Recorder,
		Limiter:      m.limiter,
		DefaultModel: m.opts.DefaultModel,
		Logger:       m.opts.Logger,
	})
}
