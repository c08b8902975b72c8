package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"canvaschat/application/ports"
	"canvaschat/domain/core/aggregates"
	pkgerrors "canvaschat/pkg/errors"
)

var _ ports.SessionStore = (*SessionStore)(nil)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func snapshot(id string, savedAt time.Time) *aggregates.GraphSnapshot {
	w := 320.0
	return &aggregates.GraphSnapshot{
		Version: aggregates.SnapshotVersion,
		ID:      id,
		Name:    "canvas " + id,
		SavedAt: savedAt,
		Nodes: []aggregates.NodeRecord{
			{ID: "n1", Type: "human-message", Content: "hi", CreatedAt: savedAt},
			{ID: "n2", Type: "matrix", Width: &w, CreatedAt: savedAt, Matrix: &aggregates.MatrixRecord{
				Rows:    []string{"a"},
				Columns: []string{"x"},
				Cells:   map[string]aggregates.CellRecord{"0-0": {Content: "yes", Filled: true}},
			}},
		},
		Edges: []aggregates.EdgeRecord{{ID: "e1", Source: "n1", Target: "n2", Type: "reference", CreatedAt: savedAt}},
	}
}

func newStore(ttl time.Duration, clock *time.Time) *SessionStore {
	s := NewSessionStore(ttl, zap.NewNop())
	s.now = func() time.Time { return *clock }
	return s
}

func TestSessionStore_SaveLoadIsolated(t *testing.T) {
	now := base
	s := newStore(0, &now)
	ctx := context.Background()

	snap := snapshot("s1", base)
	require.NoError(t, s.Save(ctx, snap))
	snap.Nodes[0].Content = "mutated after save"

	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Nodes[0].Content)
	assert.Equal(t, 320.0, *got.Nodes[1].Width)
	assert.Equal(t, "yes", got.Nodes[1].Matrix.Cells["0-0"].Content)
	assert.True(t, got.SavedAt.Equal(base))

	got.Name = "changed"
	again, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "canvas s1", again.Name)
}

func TestSessionStore_ListNewestFirst(t *testing.T) {
	now := base
	s := newStore(0, &now)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, snapshot("old", base)))
	require.NoError(t, s.Save(ctx, snapshot("new", base.Add(time.Hour))))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, ports.SessionSummary{ID: "old", Name: "canvas old", SavedAt: base, NodeCount: 2, EdgeCount: 1}, list[1])
}

func TestSessionStore_NotFoundAndValidation(t *testing.T) {
	now := base
	s := newStore(0, &now)
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	assert.True(t, pkgerrors.IsNotFound(err))
	assert.True(t, pkgerrors.IsNotFound(s.Delete(ctx, "missing")))
	assert.True(t, pkgerrors.IsValidation(s.Save(ctx, &aggregates.GraphSnapshot{})))

	require.NoError(t, s.Save(ctx, snapshot("s1", base)))
	require.NoError(t, s.Delete(ctx, "s1"))
	_, err = s.Load(ctx, "s1")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestSessionStore_Expiry(t *testing.T) {
	now := base
	s := newStore(time.Hour, &now)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, snapshot("s1", base)))
	now = base.Add(30 * time.Minute)
	require.NoError(t, s.Save(ctx, snapshot("s2", now)))

	now = base.Add(time.Hour)
	_, err := s.Load(ctx, "s1")
	assert.True(t, pkgerrors.IsNotFound(err), "expired at exactly ttl")
	_, err = s.Load(ctx, "s2")
	assert.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 0, s.Sweep())
}
