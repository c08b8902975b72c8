package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"canvaschat/application/history"
	"canvaschat/application/operations"
	"canvaschat/application/ports"
	"canvaschat/domain/core/aggregates"
	"canvaschat/domain/core/entities"
	"canvaschat/domain/core/valueobjects"
	domainservices "canvaschat/domain/services"
	pkgerrors "canvaschat/pkg/errors"
)

// MatrixInput describes a new comparison matrix.
type MatrixInput struct {
	Question  string
	Rows      []string
	Columns   []string
	ParentIDs []valueobjects.NodeID
	Position  *valueobjects.Position
}

// CreateMatrix adds a matrix node under its context parents.
func (s *CanvasService) CreateMatrix(ctx context.Context, in MatrixInput) (*entities.Node, error) {
	m, err := entities.NewMatrix(in.Question, in.Rows, in.Columns)
	if err != nil {
		return nil, err
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
	n, err := entities.NewMatrixNode(valueobjects.NewNodeID(), m, pos, s.graph.Now())
	if err != nil {
		return nil, err
	}
	if err := s.graph.AddNode(n); err != nil {
		return nil, err
	}
	for _, p := range in.ParentIDs {
		if _, err := s.graph.AddEdge(p, n.ID(), entities.EdgeTypeReference); err != nil {
			s.logger.Warn("could not connect matrix", zap.Stringer("matrix", n.ID()), zap.Stringer("parent", p), zap.Error(err))
		}
	}
	if in.Position == nil {
		if _, err := s.engine.AutoPosition(ctx, s.graph, n.ID(), nil); err != nil {
			s.logger.Debug("auto-position skipped", zap.Stringer("node", n.ID()), zap.Error(err))
		}
	}
	s.flush(ctx)
	out, _ := s.graph.GetNode(n.ID())
	return out, nil
}

// FillCell starts streaming a model answer into one cell and returns the
// operation key. The cell is cleared first; its earlier state is what undo
// brings back.
func (s *CanvasService) FillCell(ctx context.Context, matrixID valueobjects.NodeID, row, col int, model string) (operations.Key, error) {
	if s.client == nil {
		return operations.Key{}, pkgerrors.NewUnavailableError("completion")
	}
	if s.isClosed() {
		return operations.Key{}, pkgerrors.NewUnavailableError("canvas")
	}
	s.reshapeMu.RLock()
	defer s.reshapeMu.RUnlock()

	var (
		question string
		addr     = aggregates.CellAddress{Row: row, Col: col}
		labelsOK bool
	)
	if err := s.graph.WithMatrix(matrixID, func(m *entities.Matrix) {
		question = m.Question()
		r, okR := m.RowLabel(row)
		c, okC := m.ColumnLabel(col)
		addr.RowLabel, addr.ColLabel, labelsOK = r, c, okR && okC
	}); err != nil {
		return operations.Key{}, err
	}
	if !labelsOK {
		return operations.Key{}, pkgerrors.NewNotFoundError(fmt.Sprintf("cell %s of matrix %s", entities.CellKey(row, col), matrixID))
	}
	before, err := s.graph.GetCell(matrixID, row, col)
	if err != nil {
		return operations.Key{}, err
	}

	messages, err := s.cellPrompt(ctx, matrixID, question, addr.RowLabel, addr.ColLabel)
	if err != nil {
		return operations.Key{}, err
	}

	h := s.tracker.Start(context.WithoutCancel(ctx), matrixID.String(), entities.CellKey(row, col))
	if err := s.graph.UpdateCellIf(matrixID, &addr, s.owns(h), func(c *entities.Cell) { *c = entities.Cell{} }); err != nil {
		s.tracker.Release(h)
		return operations.Key{}, err
	}
	s.flush(ctx)

	s.inflight.Add(1)
	go s.runCell(h, matrixID, addr, before, ports.CompletionRequest{Model: s.model(model), Messages: messages})
	return h.Key(), nil
}

// FillAllCells starts a fill for every empty cell without waiting on any of
// them, and returns how many were started.
func (s *CanvasService) FillAllCells(ctx context.Context, matrixID valueobjects.NodeID, model string) (int, error) {
	var empty []entities.CellRef
	if err := s.graph.WithMatrix(matrixID, func(m *entities.Matrix) {
		empty = m.EmptyCells()
	}); err != nil {
		return 0, err
	}
	started := 0
	for _, ref := range empty {
		if _, err := s.FillCell(ctx, matrixID, ref.Row, ref.Col, model); err != nil {
			if pkgerrors.IsNotFound(err) {
				// Structure changed under us; the rest may still be valid.
				continue
			}
			return started, err
		}
		started++
	}
	return started, nil
}

func (s *CanvasService) cellPrompt(ctx context.Context, matrixID valueobjects.NodeID, question, rowLabel, colLabel string) ([]domainservices.Message, error) {
	var messages []domainservices.Message
	if parents := s.graph.ParentIDs(matrixID); len(parents) > 0 {
		resolved, err := s.ResolveContext(ctx, parents)
		if err != nil {
			return nil, err
		}
		messages = resolved
	}
	var b strings.Builder
	fmt.Fprintf(&b, "We are filling one cell of a comparison matrix.\n\n")
	fmt.Fprintf(&b, "Question: %s\n", question)
	fmt.Fprintf(&b, "Row item: %s\n", rowLabel)
	fmt.Fprintf(&b, "Column criterion: %s\n\n", colLabel)
	b.WriteString("Answer for this row and column only, in a few sentences.")
	return append(messages, domainservices.Message{
		Role:    entities.RoleUser,
		Content: b.String(),
		NodeID:  matrixID,
	}), nil
}

func (s *CanvasService) runCell(h *operations.Handle, matrixID valueobjects.NodeID, addr aggregates.CellAddress, before entities.Cell, req ports.CompletionRequest) {
	defer s.inflight.Done()
	defer s.tracker.Release(h)

	ctx, span := s.tracer.Start(h.Context(), "canvas.fill_cell", trace.WithAttributes(
		attribute.String("matrix_id", matrixID.String()),
		attribute.String("cell", h.Key().SubKey),
	))
	defer span.End()

	start := time.Now()
	owns := s.owns(h)
	s.metrics.OperationStarted(kindCell)
	err := s.stream(ctx, h, req, func(chunk string) error {
		if err := s.graph.UpdateCellIf(matrixID, &addr, owns, func(c *entities.Cell) { c.Content += chunk }); err != nil {
			return err
		}
		s.flush(ctx)
		return nil
	})

	outcome := s.classify(h, err)
	switch outcome {
	case OutcomeCompleted:
		s.completeCell(matrixID, addr, before, owns)
	case OutcomeFailed:
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		msg := errorMessage(err)
		if uerr := s.graph.UpdateCellIf(matrixID, &addr, owns, func(c *entities.Cell) { c.Error = msg }); uerr != nil {
			s.logger.Debug("could not record cell error", zap.Error(uerr))
		}
		s.logger.Warn("cell fill failed", zap.Stringer("matrix", matrixID), zap.String("cell", h.Key().SubKey), zap.Error(err))
	case OutcomeCancelled:
		s.logger.Debug("cell fill stopped", zap.Stringer("matrix", matrixID), zap.String("cell", h.Key().SubKey))
	case OutcomeOrphaned:
		s.logger.Debug("cell fill target removed", zap.Stringer("matrix", matrixID), zap.String("cell", h.Key().SubKey))
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	s.metrics.OperationFinished(kindCell, outcome, time.Since(start))
	s.flush(ctx)
}

// completeCell marks the cell filled and records the fill for undo. A run
// that no longer owns its cell records nothing.
func (s *CanvasService) completeCell(matrixID valueobjects.NodeID, addr aggregates.CellAddress, before entities.Cell, owns func() bool) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	var after entities.Cell
	err := s.graph.UpdateCellIf(matrixID, &addr, owns, func(c *entities.Cell) {
		c.Filled = true
		c.Error = ""
		after = *c
	})
	if err != nil {
		s.logger.Debug("filled cell vanished before completion", zap.Stringer("matrix", matrixID), zap.Error(err))
		return
	}
	s.history.Push(history.NewCellFillAction(s.graph, matrixID, addr.Row, addr.Col, addr.RowLabel, addr.ColLabel, before, after))
}

// DismissCellError clears the error left on a cell by a failed fill.
func (s *CanvasService) DismissCellError(ctx context.Context, matrixID valueobjects.NodeID, row, col int) error {
	c, err := s.graph.GetCell(matrixID, row, col)
	if err != nil {
		return err
	}
	c.Error = ""
	if err := s.graph.SetCell(matrixID, row, col, c); err != nil {
		return err
	}
	s.flush(ctx)
	return nil
}

// AddMatrixRow appends a row and returns its index.
func (s *CanvasService) AddMatrixRow(ctx context.Context, matrixID valueobjects.NodeID, label string) (int, error) {
	var idx int
	err := s.graph.ReshapeMatrix(matrixID, func(m *entities.Matrix) error {
		var err error
		idx, err = m.AddRow(label)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.flush(ctx)
	return idx, nil
}

// AddMatrixColumn appends a column and returns its index.
func (s *CanvasService) AddMatrixColumn(ctx context.Context, matrixID valueobjects.NodeID, label string) (int, error) {
	var idx int
	err := s.graph.ReshapeMatrix(matrixID, func(m *entities.Matrix) error {
		var err error
		idx, err = m.AddColumn(label)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.flush(ctx)
	return idx, nil
}

// RemoveMatrixRow deletes a row. Fills still running in that row are
// stopped; fills below it move up with their cells and are re-keyed.
func (s *CanvasService) RemoveMatrixRow(ctx context.Context, matrixID valueobjects.NodeID, row int) error {
	return s.removeLine(ctx, matrixID, (*entities.Matrix).RemoveRow, row, func(ref *entities.CellRef) *int { return &ref.Row })
}

// RemoveMatrixColumn is RemoveMatrixRow for columns.
func (s *CanvasService) RemoveMatrixColumn(ctx context.Context, matrixID valueobjects.NodeID, col int) error {
	return s.removeLine(ctx, matrixID, (*entities.Matrix).RemoveColumn, col, func(ref *entities.CellRef) *int { return &ref.Col })
}

// removeLine removes row or column idx and shifts the keys of the cell
// operations after it in the same graph critical section.
func (s *CanvasService) removeLine(ctx context.Context, matrixID valueobjects.NodeID,
	remove func(*entities.Matrix, int) error, idx int, axis func(*entities.CellRef) *int) error {
	s.reshapeMu.Lock()
	defer s.reshapeMu.Unlock()

	err := s.graph.ReshapeMatrix(matrixID, func(m *entities.Matrix) error {
		if err := remove(m, idx); err != nil {
			return err
		}
		s.tracker.Rekey(matrixID.String(), func(sub string) (string, bool) {
			ref, err := entities.ParseCellKey(sub)
			if err != nil {
				return sub, true
			}
			switch i := axis(&ref); {
			case *i == idx:
				return "", false
			case *i > idx:
				*i--
			}
			return ref.Key(), true
		})
		return nil
	})
	if err != nil {
		return err
	}
	s.flush(ctx)
	return nil
}

// owns reports whether h still holds its cell. Cell writes check it under
// the graph lock so a superseded or re-keyed-away run cannot write.
func (s *CanvasService) owns(h *operations.Handle) func() bool {
	return func() bool { return s.tracker.IsCurrent(h) }
}

// ExtractCell copies one cell into its own node linked to the matrix.
func (s *CanvasService) ExtractCell(ctx context.Context, matrixID valueobjects.NodeID, row, col int) (*entities.Node, error) {
	var title, content string
	err := s.matrixRead(matrixID, func(m *entities.Matrix) error {
		r, okR := m.RowLabel(row)
		c, okC := m.ColumnLabel(col)
		if !okR || !okC {
			return pkgerrors.NewNotFoundError(fmt.Sprintf("cell %s", entities.CellKey(row, col)))
		}
		cell, _ := m.Cell(row, col)
		if cell.Content == "" {
			return pkgerrors.NewValidationError("cell is empty")
		}
		title = r + " / " + c
		content = cell.Content
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.extract(ctx, matrixID, entities.NodeTypeMatrixCellExtract, title, content)
}

// ExtractRow copies every filled cell of a row into one node.
func (s *CanvasService) ExtractRow(ctx context.Context, matrixID valueobjects.NodeID, row int) (*entities.Node, error) {
	var title, content string
	err := s.matrixRead(matrixID, func(m *entities.Matrix) error {
		label, ok := m.RowLabel(row)
		if !ok {
			return pkgerrors.NewNotFoundError(fmt.Sprintf("row %d", row))
		}
		parts := m.RowContents(row)
		if len(parts) == 0 {
			return pkgerrors.NewValidationError(fmt.Sprintf("row %q has no filled cells", label))
		}
		title, content = label, sections(parts)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.extract(ctx, matrixID, entities.NodeTypeMatrixRowExtract, title, content)
}

// ExtractColumn copies every filled cell of a column into one node.
func (s *CanvasService) ExtractColumn(ctx context.Context, matrixID valueobjects.NodeID, col int) (*entities.Node, error) {
	var title, content string
	err := s.matrixRead(matrixID, func(m *entities.Matrix) error {
		label, ok := m.ColumnLabel(col)
		if !ok {
			return pkgerrors.NewNotFoundError(fmt.Sprintf("column %d", col))
		}
		parts := m.ColumnContents(col)
		if len(parts) == 0 {
			return pkgerrors.NewValidationError(fmt.Sprintf("column %q has no filled cells", label))
		}
		title, content = label, sections(parts)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.extract(ctx, matrixID, entities.NodeTypeMatrixColumnExtract, title, content)
}

func (s *CanvasService) matrixRead(matrixID valueobjects.NodeID, fn func(m *entities.Matrix) error) error {
	var inner error
	if err := s.graph.WithMatrix(matrixID, func(m *entities.Matrix) { inner = fn(m) }); err != nil {
		return err
	}
	return inner
}

func (s *CanvasService) extract(ctx context.Context, matrixID valueobjects.NodeID, nt entities.NodeType, title, content string) (*entities.Node, error) {
	return s.AddNode(ctx, NodeInput{
		Type:      nt,
		Content:   content,
		Title:     title,
		ParentIDs: []valueobjects.NodeID{matrixID},
		EdgeType:  entities.EdgeTypeMatrixToExtract,
	})
}

func sections(parts [][2]string) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = "### " + p[0] + "\n" + p[1]
	}
	return strings.Join(out, "\n\n")
}
