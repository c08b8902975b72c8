package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"canvaschat/application/ports"
	"canvaschat/domain/config"
	"canvaschat/domain/core/aggregates"
	"canvaschat/domain/core/entities"
	"canvaschat/domain/core/valueobjects"
	pkgerrors "canvaschat/pkg/errors"
)

type mapStore struct {
	mu    sync.Mutex
	snaps map[string]*aggregates.GraphSnapshot
}

func newMapStore() *mapStore {
	return &mapStore{snaps: make(map[string]*aggregates.GraphSnapshot)}
}

func (s *mapStore) Save(_ context.Context, snap *aggregates.GraphSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.ID] = snap
	return nil
}

func (s *mapStore) Load(_ context.Context, id string) (*aggregates.GraphSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[id]
	if !ok {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("session %s", id))
	}
	return snap, nil
}

func (s *mapStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snaps[id]; !ok {
		return pkgerrors.NewNotFoundError(fmt.Sprintf("session %s", id))
	}
	delete(s.snaps, id)
	return nil
}

func (s *mapStore) List(_ context.Context) ([]ports.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.SessionSummary, 0, len(s.snaps))
	for _, snap := range s.snaps {
		out = append(out, ports.SessionSummary{ID: snap.ID, Name: snap.Name, SavedAt: snap.SavedAt, NodeCount: len(snap.Nodes), EdgeCount: len(snap.Edges)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func newManager(t *testing.T, store ports.SessionStore) *SessionManager {
	t.Helper()
	m := NewSessionManager(ManagerOptions{
		Client:       &scriptedClient{chunks: []string{"hi"}},
		Bus:          &capturePublisher{},
		Store:        store,
		DefaultModel: "test-model",
		Logger:       zaptest.NewLogger(t),
	})
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func TestSessionManager_CreateGetList(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	a, err := m.Create(ctx, "first")
	require.NoError(t, err)
	b, err := m.Create(ctx, "second")
	require.NoError(t, err)

	got, err := m.Get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	want := []string{a.ID(), b.ID()}
	sort.Strings(want)
	assert.Equal(t, want, m.List())

	_, err = m.Get("missing")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestSessionManager_SaveAndLoad(t *testing.T) {
	store := newMapStore()
	m := newManager(t, store)
	ctx := context.Background()

	svc, err := m.Create(ctx, "research")
	require.NoError(t, err)
	root, err := svc.AddNode(ctx, NodeInput{Type: entities.NodeTypeHumanMessage, Content: "question"})
	require.NoError(t, err)
	_, err = svc.AddNode(ctx, NodeInput{Type: entities.NodeTypeNote, Content: "aside", ParentIDs: []valueobjects.NodeID{root.ID()}})
	require.NoError(t, err)

	snap, err := m.Save(ctx, svc.ID())
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 2)
	assert.Len(t, snap.Edges, 1)

	summaries, err := m.Stored(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "research", summaries[0].Name)
	assert.Equal(t, 2, summaries[0].NodeCount)

	loaded, err := m.Load(ctx, svc.ID())
	require.NoError(t, err)
	assert.NotSame(t, svc, loaded, "load replaces the live session")
	assert.Equal(t, svc.ID(), loaded.ID())
	assert.Equal(t, 2, loaded.Graph().NodeCount())
	assert.Equal(t, 1, loaded.Graph().EdgeCount())

	_, err = svc.GenerateReply(ctx, ReplyRequest{ParentIDs: []valueobjects.NodeID{root.ID()}})
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable), "the replaced session is closed")

	_, err = m.Load(ctx, "nope")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestSessionManager_NoStore(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()
	svc, err := m.Create(ctx, "x")
	require.NoError(t, err)

	_, err = m.Save(ctx, svc.ID())
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable))

	require.NoError(t, m.Delete(ctx, svc.ID()))
	assert.True(t, pkgerrors.IsNotFound(m.Delete(ctx, svc.ID())))
}

func TestSessionManager_Delete(t *testing.T) {
	store := newMapStore()
	m := newManager(t, store)
	ctx := context.Background()

	svc, err := m.Create(ctx, "gone")
	require.NoError(t, err)
	_, err = m.Save(ctx, svc.ID())
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, svc.ID()))
	assert.Empty(t, m.List())
	_, err = store.Load(ctx, svc.ID())
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestSessionManager_UpdateConfigReachesEverySession(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()
	a, err := m.Create(ctx, "a")
	require.NoError(t, err)
	b, err := m.Create(ctx, "b")
	require.NoError(t, err)

	cfg := config.DefaultDomainConfig()
	cfg.CharsPerToken = 1
	require.NoError(t, m.UpdateConfig(cfg))

	assert.Equal(t, 1.0, a.Config().CharsPerToken)
	assert.Equal(t, 1.0, b.Config().CharsPerToken)

	c, err := m.Create(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1.0, c.Config().CharsPerToken, "new sessions start from the latest config")

	bad := config.DefaultDomainConfig()
	bad.HistoryLimit = 0
	err = m.UpdateConfig(bad)
	assert.True(t, pkgerrors.IsValidation(err))
	assert.Equal(t, 1.0, a.Config().CharsPerToken)
}
