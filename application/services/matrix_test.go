package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvaschat/domain/core/entities"
	"canvaschat/domain/core/valueobjects"
	pkgerrors "canvaschat/pkg/errors"
)

func newMatrix(t *testing.T, svc *CanvasService, rows, cols []string) valueobjects.NodeID {
	t.Helper()
	ctx := context.Background()
	topic, err := svc.AddNode(ctx, NodeInput{Type: entities.NodeTypeHumanMessage, Content: "Compare databases"})
	require.NoError(t, err)
	m, err := svc.CreateMatrix(ctx, MatrixInput{
		Question:  "Which database?",
		Rows:      rows,
		Columns:   cols,
		ParentIDs: []valueobjects.NodeID{topic.ID()},
	})
	require.NoError(t, err)
	return m.ID()
}

func cellAt(t *testing.T, svc *CanvasService, id valueobjects.NodeID, row, col int) entities.Cell {
	t.Helper()
	c, err := svc.Graph().GetCell(id, row, col)
	require.NoError(t, err)
	return c
}

func TestFillCell_StreamsAndRecordsHistory(t *testing.T) {
	client := &scriptedClient{chunks: []string{"fast ", "and small"}}
	svc, _ := newService(t, client)
	ctx := context.Background()
	m := newMatrix(t, svc, []string{"SQLite", "Postgres"}, []string{"Speed", "Scale"})

	key, err := svc.FillCell(ctx, m, 0, 0, "")
	require.NoError(t, err)
	assert.Equal(t, m.String(), key.EntityID)
	assert.Equal(t, "0-0", key.SubKey)
	waitIdle(t, svc)

	filled := cellAt(t, svc, m, 0, 0)
	assert.Equal(t, entities.Cell{Content: "fast and small", Filled: true}, filled)

	req := client.lastRequest()
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "Compare databases", req.Messages[0].Content)
	assert.Contains(t, req.Messages[1].Content, "Row item: SQLite")
	assert.Contains(t, req.Messages[1].Content, "Column criterion: Speed")

	st := svc.HistoryState()
	assert.True(t, st.CanUndo)

	_, err = svc.Undo(ctx)
	require.NoError(t, err)
	assert.True(t, cellAt(t, svc, m, 0, 0).IsEmpty())

	_, err = svc.Redo(ctx)
	require.NoError(t, err)
	assert.Equal(t, filled, cellAt(t, svc, m, 0, 0))
}

func TestFillAllCells_FillsEveryEmptyCell(t *testing.T) {
	client := &scriptedClient{chunks: []string{"ok"}}
	svc, _ := newService(t, client)
	ctx := context.Background()
	m := newMatrix(t, svc, []string{"A", "B"}, []string{"X", "Y"})

	_, err := svc.FillCell(ctx, m, 1, 1, "")
	require.NoError(t, err)
	waitIdle(t, svc)

	n, err := svc.FillAllCells(ctx, m, "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	waitIdle(t, svc)

	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			assert.True(t, cellAt(t, svc, m, r, c).Filled)
		}
	}
	assert.Equal(t, 4, svc.HistoryState().Length)
}

func TestFillAllCells_StopAllHaltsTheMatrix(t *testing.T) {
	client := &blockingClient{first: "partial", release: make(chan struct{})}
	svc, _ := newService(t, client)
	ctx := context.Background()
	m := newMatrix(t, svc, []string{"A", "B"}, []string{"X", "Y"})
	other := newMatrix(t, svc, []string{"A"}, []string{"X"})

	n, err := svc.FillAllCells(ctx, m, "")
	require.NoError(t, err)
	require.Equal(t, 4, n)
	_, err = svc.FillCell(ctx, other, 0, 0, "")
	require.NoError(t, err)

	assert.Equal(t, 4, svc.StopAll(m.String()))
	require.Eventually(t, func() bool { return !svc.Tracker().HasEntity(m.String()) }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, svc.Tracker().HasEntity(other.String()))

	close(client.release)
	waitIdle(t, svc)
	assert.True(t, cellAt(t, svc, other, 0, 0).Filled)
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			assert.False(t, cellAt(t, svc, m, r, c).Filled)
		}
	}
	assert.Equal(t, 1, svc.HistoryState().Length, "stopped fills are not recorded")
}

func TestFillCell_FailureMarksCell(t *testing.T) {
	client := &scriptedClient{err: pkgerrors.NewUpstreamError("llm", errors.New("timeout"))}
	svc, _ := newService(t, client)
	ctx := context.Background()
	m := newMatrix(t, svc, []string{"A"}, []string{"X"})

	_, err := svc.FillCell(ctx, m, 0, 0, "")
	require.NoError(t, err)
	waitIdle(t, svc)

	c := cellAt(t, svc, m, 0, 0)
	assert.False(t, c.Filled)
	assert.Contains(t, c.Error, "timeout")
	assert.False(t, svc.HistoryState().CanUndo)

	require.NoError(t, svc.DismissCellError(ctx, m, 0, 0))
	assert.Empty(t, cellAt(t, svc, m, 0, 0).Error)
}

func TestFillCell_OutOfRange(t *testing.T) {
	svc, _ := newService(t, &scriptedClient{})
	m := newMatrix(t, svc, []string{"A"}, []string{"X"})

	_, err := svc.FillCell(context.Background(), m, 3, 0, "")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestFillCell_FollowsLabelsAcrossRowRemoval(t *testing.T) {
	client := &blockingClient{first: "partial", release: make(chan struct{})}
	svc, _ := newService(t, client)
	ctx := context.Background()
	m := newMatrix(t, svc, []string{"A", "B"}, []string{"X"})

	_, err := svc.FillCell(ctx, m, 1, 0, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return cellAt(t, svc, m, 1, 0).Content == "partial" }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, svc.RemoveMatrixRow(ctx, m, 0))
	close(client.release)
	waitIdle(t, svc)

	c := cellAt(t, svc, m, 0, 0)
	assert.Equal(t, "partial", c.Content)
	assert.True(t, c.Filled, "row B moved up and its fill completed in place")
}

func TestFillCell_StopHaltsMovedCellAfterRefill(t *testing.T) {
	client := &blockingClient{first: "partial", release: make(chan struct{})}
	svc, _ := newService(t, client)
	ctx := context.Background()
	m := newMatrix(t, svc, []string{"A", "B"}, []string{"X"})

	_, err := svc.FillCell(ctx, m, 1, 0, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return cellAt(t, svc, m, 1, 0).Content == "partial" }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, svc.RemoveMatrixRow(ctx, m, 0))
	assert.Equal(t, []string{"0-0"}, svc.Tracker().Active(m.String()), "the running fill moved up with its row")
	assert.False(t, svc.Stop(m.String(), "1-0"))

	key, err := svc.FillCell(ctx, m, 0, 0, "")
	require.NoError(t, err)
	assert.Equal(t, "0-0", key.SubKey)
	assert.Equal(t, []string{"0-0"}, svc.Tracker().Active(m.String()))

	assert.True(t, svc.Stop(m.String(), "0-0"))
	close(client.release)
	waitIdle(t, svc)

	c := cellAt(t, svc, m, 0, 0)
	assert.False(t, c.Filled, "no run kept writing the stopped cell")
	assert.False(t, svc.HistoryState().CanUndo)
	assert.Empty(t, svc.Tracker().Active(m.String()))
}

func TestFillCell_RemovingRowStopsItsFill(t *testing.T) {
	client := &blockingClient{first: "partial", release: make(chan struct{})}
	svc, _ := newService(t, client)
	ctx := context.Background()
	m := newMatrix(t, svc, []string{"A", "B"}, []string{"X"})

	_, err := svc.FillCell(ctx, m, 0, 0, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return cellAt(t, svc, m, 0, 0).Content == "partial" }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, svc.RemoveMatrixRow(ctx, m, 0))
	assert.Empty(t, svc.Tracker().Active(m.String()))
	close(client.release)
	waitIdle(t, svc)

	c := cellAt(t, svc, m, 0, 0)
	assert.True(t, c.IsEmpty(), "row B is untouched by the stopped fill of row A")
	assert.False(t, svc.HistoryState().CanUndo)
}

func TestMatrixStructureAndExtraction(t *testing.T) {
	client := &scriptedClient{chunks: []string{"answer"}}
	svc, _ := newService(t, client)
	ctx := context.Background()
	m := newMatrix(t, svc, []string{"A"}, []string{"X"})

	row, err := svc.AddMatrixRow(ctx, m, "B")
	require.NoError(t, err)
	assert.Equal(t, 1, row)
	col, err := svc.AddMatrixColumn(ctx, m, "Y")
	require.NoError(t, err)
	assert.Equal(t, 1, col)

	_, err = svc.FillAllCells(ctx, m, "")
	require.NoError(t, err)
	waitIdle(t, svc)

	cellNode, err := svc.ExtractCell(ctx, m, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, entities.NodeTypeMatrixCellExtract, cellNode.Type())
	assert.Equal(t, "B / Y", cellNode.Title())
	assert.Equal(t, "answer", cellNode.Content())

	rowNode, err := svc.ExtractRow(ctx, m, 0)
	require.NoError(t, err)
	assert.Equal(t, "### X\nanswer\n\n### Y\nanswer", rowNode.Content())

	colNode, err := svc.ExtractColumn(ctx, m, 1)
	require.NoError(t, err)
	assert.Equal(t, entities.NodeTypeMatrixColumnExtract, colNode.Type())

	for _, e := range svc.Graph().GetAllEdges() {
		if e.Target().Equals(rowNode.ID()) {
			assert.Equal(t, entities.EdgeTypeMatrixToExtract, e.Type())
			assert.True(t, e.Source().Equals(m))
		}
	}

	require.NoError(t, svc.RemoveMatrixColumn(ctx, m, 0))
	_, err = svc.ExtractRow(ctx, m, 5)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestUndoAfterStructuralEditSkipsRemovedRow(t *testing.T) {
	svc, _ := newService(t, &scriptedClient{chunks: []string{"x"}})
	ctx := context.Background()
	m := newMatrix(t, svc, []string{"A", "B"}, []string{"X"})

	_, err := svc.FillCell(ctx, m, 1, 0, "")
	require.NoError(t, err)
	waitIdle(t, svc)
	require.NoError(t, svc.RemoveMatrixRow(ctx, m, 1))

	out, err := svc.Undo(ctx)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.True(t, cellAt(t, svc, m, 0, 0).IsEmpty(), "row A is untouched")
}
