package aggregates

import (
	"fmt"

	"canvaschat/domain/core/entities"
	"canvaschat/domain/core/valueobjects"
	"canvaschat/domain/events"
	pkgerrors "canvaschat/pkg/errors"
)

// matrixLocked returns the payload of a matrix node. Caller holds g.mu.
func (g *Graph) matrixLocked(id valueobjects.NodeID) (*entities.Matrix, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("node %s", id))
	}
	if n.Type() != entities.NodeTypeMatrix || n.Matrix() == nil {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("node %s is not a matrix", id))
	}
	return n.Matrix(), nil
}

// GetCell returns the cell at row/col of a matrix node. A cell that was
// never written is returned as the zero Cell.
func (g *Graph) GetCell(id valueobjects.NodeID, row, col int) (entities.Cell, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	m, err := g.matrixLocked(id)
	if err != nil {
		return entities.Cell{}, err
	}
	if _, ok := m.RowLabel(row); !ok {
		return entities.Cell{}, pkgerrors.NewNotFoundError(fmt.Sprintf("row %d", row))
	}
	if _, ok := m.ColumnLabel(col); !ok {
		return entities.Cell{}, pkgerrors.NewNotFoundError(fmt.Sprintf("column %d", col))
	}
	c, _ := m.Cell(row, col)
	return c, nil
}

// SetCell overwrites one cell.
func (g *Graph) SetCell(id valueobjects.NodeID, row, col int, cell entities.Cell) error {
	return g.mutateCell(id, row, col, func(c *entities.Cell) { *c = cell })
}

// AppendCellContent appends a streamed chunk to one cell.
func (g *Graph) AppendCellContent(id valueobjects.NodeID, row, col int, chunk string) error {
	return g.mutateCell(id, row, col, func(c *entities.Cell) { c.Content += chunk })
}

// ClearCell empties one cell.
func (g *Graph) ClearCell(id valueobjects.NodeID, row, col int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	m, err := g.matrixLocked(id)
	if err != nil {
		return err
	}
	if _, ok := m.RowLabel(row); !ok {
		return pkgerrors.NewNotFoundError(fmt.Sprintf("row %d", row))
	}
	if _, ok := m.ColumnLabel(col); !ok {
		return pkgerrors.NewNotFoundError(fmt.Sprintf("column %d", col))
	}
	m.ClearCell(row, col)
	g.cellChanged(id, row, col, false)
	return nil
}

func (g *Graph) mutateCell(id valueobjects.NodeID, row, col int, fn func(*entities.Cell)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	m, err := g.matrixLocked(id)
	if err != nil {
		return err
	}
	c, _ := m.Cell(row, col)
	fn(&c)
	if err := m.SetCell(row, col, c); err != nil {
		return err
	}
	g.cellChanged(id, row, col, c.Filled)
	return nil
}

func (g *Graph) cellChanged(id valueobjects.NodeID, row, col int, filled bool) {
	now := g.clock.Next()
	g.touch(now)
	g.addEvent(events.NewCellUpdated(g.id.String(), id.String(), row, col, filled, now))
}

// ReshapeMatrix runs fn against the live matrix payload under the graph lock,
// for row and column insertion or removal.
func (g *Graph) ReshapeMatrix(id valueobjects.NodeID, fn func(m *entities.Matrix) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	m, err := g.matrixLocked(id)
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	now := g.clock.Next()
	g.touch(now)
	g.addEvent(events.NewMatrixReshaped(g.id.String(), id.String(), len(m.Rows()), len(m.Columns()), now))
	return nil
}

// WithMatrix runs fn against a copy of the matrix payload.
func (g *Graph) WithMatrix(id valueobjects.NodeID, fn func(m *entities.Matrix)) error {
	g.mu.RLock()
	m, err := g.matrixLocked(id)
	if err != nil {
		g.mu.RUnlock()
		return err
	}
	cp := m.Clone()
	g.mu.RUnlock()
	fn(cp)
	return nil
}

// LocateCell finds the current indices of the cell addressed by its row and
// column labels. The hints are the indices the labels had when recorded.
func (g *Graph) LocateCell(id valueobjects.NodeID, rowLabel, colLabel string, rowHint, colHint int) (int, int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	m, err := g.matrixLocked(id)
	if err != nil {
		return -1, -1, err
	}
	row, err := m.RowIndex(rowLabel, rowHint)
	if err != nil {
		return -1, -1, err
	}
	col, err := m.ColumnIndex(colLabel, colHint)
	if err != nil {
		return -1, -1, err
	}
	return row, col, nil
}

// CellAddress names a cell by its labels. Row and Col hold the indices last
// seen for those labels and are refreshed by UpdateCellAt.
type CellAddress struct {
	RowLabel string
	ColLabel string
	Row      int
	Col      int
}

// UpdateCellAt resolves addr against the current labels and applies fn to
// that cell in one step, so a concurrent row or column edit cannot redirect
// the write to a neighbouring cell.
func (g *Graph) UpdateCellAt(id valueobjects.NodeID, addr *CellAddress, fn func(*entities.Cell)) error {
	return g.UpdateCellIf(id, addr, nil, fn)
}

// UpdateCellIf is UpdateCellAt for a writer that may lose ownership of the
// cell. owns is evaluated under the graph lock; when it reports false the
// cell is left alone and a CANCELLED error is returned. A nil owns always
// owns.
func (g *Graph) UpdateCellIf(id valueobjects.NodeID, addr *CellAddress, owns func() bool, fn func(*entities.Cell)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if owns != nil && !owns() {
		return pkgerrors.NewCancelledError(fmt.Sprintf("write to cell %s/%s of matrix %s", addr.RowLabel, addr.ColLabel, id))
	}
	m, err := g.matrixLocked(id)
	if err != nil {
		return err
	}
	row, err := m.RowIndex(addr.RowLabel, addr.Row)
	if err != nil {
		return err
	}
	col, err := m.ColumnIndex(addr.ColLabel, addr.Col)
	if err != nil {
		return err
	}
	addr.Row, addr.Col = row, col

	c, _ := m.Cell(row, col)
	fn(&c)
	if err := m.SetCell(row, col, c); err != nil {
		return err
	}
	g.cellChanged(id, row, col, c.Filled)
	return nil
}
