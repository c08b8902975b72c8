package history

import (
	"context"
	"fmt"

	"canvaschat/domain/core/entities"
	"canvaschat/domain/core/valueobjects"
)

// CellStore is the slice of the graph a cell fill touches.
type CellStore interface {
	LocateCell(id valueobjects.NodeID, rowLabel, colLabel string, rowHint, colHint int) (int, int, error)
	SetCell(id valueobjects.NodeID, row, col int, cell entities.Cell) error
	ClearCell(id valueobjects.NodeID, row, col int) error
}

// CellFillAction records a completed cell fill as before/after snapshots of
// the cell. The cell is addressed by its row and column labels, resolved
// again on every undo and redo; the indices seen at record time only serve
// as hints. A label that has been removed or now appears twice makes the
// action stale.
type CellFillAction struct {
	store    CellStore
	matrixID valueobjects.NodeID
	rowLabel string
	colLabel string
	row      int
	col      int
	before   entities.Cell
	after    entities.Cell
}

func NewCellFillAction(store CellStore, matrixID valueobjects.NodeID, row, col int, rowLabel, colLabel string, before, after entities.Cell) *CellFillAction {
	return &CellFillAction{
		store:    store,
		matrixID: matrixID,
		rowLabel: rowLabel,
		colLabel: colLabel,
		row:      row,
		col:      col,
		before:   before,
		after:    after,
	}
}

func (a *CellFillAction) Label() string {
	return fmt.Sprintf("fill cell %q/%q", a.rowLabel, a.colLabel)
}

func (a *CellFillAction) MatrixID() valueobjects.NodeID { return a.matrixID }

func (a *CellFillAction) Undo(ctx context.Context) error {
	return a.restore(a.before)
}

func (a *CellFillAction) Redo(ctx context.Context) error {
	return a.restore(a.after)
}

func (a *CellFillAction) restore(c entities.Cell) error {
	row, col, err := a.store.LocateCell(a.matrixID, a.rowLabel, a.colLabel, a.row, a.col)
	if err != nil {
		return err
	}
	a.row, a.col = row, col
	if c.IsEmpty() && c.Error == "" {
		return a.store.ClearCell(a.matrixID, row, col)
	}
	return a.store.SetCell(a.matrixID, row, col, c)
}
