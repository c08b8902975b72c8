package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"canvaschat/application/services"
	"canvaschat/domain/core/aggregates"
	"canvaschat/domain/core/entities"
	"canvaschat/domain/core/valueobjects"
	pkgerrors "canvaschat/pkg/errors"
)

// MatrixHandler handles comparison-matrix requests
type MatrixHandler struct {
	base
}

// NewMatrixHandler creates a new matrix handler
func NewMatrixHandler(sessions Sessions, errs *pkgerrors.ErrorHandler, logger *zap.Logger, maxBody int64) *MatrixHandler {
	return &MatrixHandler{base: newBase(sessions, errs, logger, maxBody)}
}

// CreateMatrixRequest represents the request body for creating a matrix
type CreateMatrixRequest struct {
	Question  string   `json:"question"`
	Rows      []string `json:"rows" validate:"required,min=1,dive,required"`
	Columns   []string `json:"columns" validate:"required,min=1,dive,required"`
	ParentIDs []string `json:"parent_ids,omitempty" validate:"dive,required"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
}

// FillRequest optionally picks the model for a fill.
type FillRequest struct {
	Model string `json:"model,omitempty" validate:"max=200"`
}

// LabelRequest names a new row or column.
type LabelRequest struct {
	Label string `json:"label" validate:"required,max=500"`
}

// CreateMatrix handles POST /sessions/{sessionID}/matrices
func (h *MatrixHandler) CreateMatrix(w http.ResponseWriter, r *http.Request) {
	svc, err := h.session(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	var req CreateMatrixRequest
	if err := h.decode(w, r, &req, false); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	pos, err := position(req.X, req.Y)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	parents, err := nodeIDs(req.ParentIDs)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	node, err := svc.CreateMatrix(r.Context(), services.MatrixInput{
		Question:  req.Question,
		Rows:      req.Rows,
		Columns:   req.Columns,
		ParentIDs: parents,
		Position:  pos,
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, aggregates.NodeRecordOf(node))
}

// FillCell handles POST /sessions/{sessionID}/matrices/{nodeID}/cells/{row}/{col}/fill
func (h *MatrixHandler) FillCell(w http.ResponseWriter, r *http.Request) {
	svc, id, row, col, ok := h.cell(w, r)
	if !ok {
		return
	}
	var req FillRequest
	if err := h.decode(w, r, &req, true); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	key, err := svc.FillCell(r.Context(), id, row, col, req.Model)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]string{"entity_id": key.EntityID, "sub_key": key.SubKey})
}

// FillAll handles POST /sessions/{sessionID}/matrices/{nodeID}/fill-all
func (h *MatrixHandler) FillAll(w http.ResponseWriter, r *http.Request) {
	svc, id, ok := h.matrix(w, r)
	if !ok {
		return
	}
	var req FillRequest
	if err := h.decode(w, r, &req, true); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	n, err := svc.FillAllCells(r.Context(), id, req.Model)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]int{"started": n})
}

// DismissCellError handles POST /sessions/{sessionID}/matrices/{nodeID}/cells/{row}/{col}/dismiss-error
func (h *MatrixHandler) DismissCellError(w http.ResponseWriter, r *http.Request) {
	svc, id, row, col, ok := h.cell(w, r)
	if !ok {
		return
	}
	if err := svc.DismissCellError(r.Context(), id, row, col); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddRow handles POST /sessions/{sessionID}/matrices/{nodeID}/rows
func (h *MatrixHandler) AddRow(w http.ResponseWriter, r *http.Request) {
	h.addLabel(w, r, (*services.CanvasService).AddMatrixRow)
}

// AddColumn handles POST /sessions/{sessionID}/matrices/{nodeID}/columns
func (h *MatrixHandler) AddColumn(w http.ResponseWriter, r *http.Request) {
	h.addLabel(w, r, (*services.CanvasService).AddMatrixColumn)
}

func (h *MatrixHandler) addLabel(w http.ResponseWriter, r *http.Request,
	add func(*services.CanvasService, context.Context, valueobjects.NodeID, string) (int, error)) {
	svc, id, ok := h.matrix(w, r)
	if !ok {
		return
	}
	var req LabelRequest
	if err := h.decode(w, r, &req, false); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	idx, err := add(svc, r.Context(), id, req.Label)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]int{"index": idx})
}

// RemoveRow handles DELETE /sessions/{sessionID}/matrices/{nodeID}/rows/{row}
func (h *MatrixHandler) RemoveRow(w http.ResponseWriter, r *http.Request) {
	h.removeIndex(w, r, "row", (*services.CanvasService).RemoveMatrixRow)
}

// RemoveColumn handles DELETE /sessions/{sessionID}/matrices/{nodeID}/columns/{col}
func (h *MatrixHandler) RemoveColumn(w http.ResponseWriter, r *http.Request) {
	h.removeIndex(w, r, "col", (*services.CanvasService).RemoveMatrixColumn)
}

func (h *MatrixHandler) removeIndex(w http.ResponseWriter, r *http.Request, param string,
	remove func(*services.CanvasService, context.Context, valueobjects.NodeID, int) error) {
	svc, id, ok := h.matrix(w, r)
	if !ok {
		return
	}
	idx, err := intParam(r, param)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if err := remove(svc, r.Context(), id, idx); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExtractCell handles POST /sessions/{sessionID}/matrices/{nodeID}/cells/{row}/{col}/extract
func (h *MatrixHandler) ExtractCell(w http.ResponseWriter, r *http.Request) {
	svc, id, row, col, ok := h.cell(w, r)
	if !ok {
		return
	}
	h.respondNode(w, r)(svc.ExtractCell(r.Context(), id, row, col))
}

// ExtractRow handles POST /sessions/{sessionID}/matrices/{nodeID}/rows/{row}/extract
func (h *MatrixHandler) ExtractRow(w http.ResponseWriter, r *http.Request) {
	svc, id, ok := h.matrix(w, r)
	if !ok {
		return
	}
	row, err := intParam(r, "row")
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondNode(w, r)(svc.ExtractRow(r.Context(), id, row))
}

// ExtractColumn handles POST /sessions/{sessionID}/matrices/{nodeID}/columns/{col}/extract
func (h *MatrixHandler) ExtractColumn(w http.ResponseWriter, r *http.Request) {
	svc, id, ok := h.matrix(w, r)
	if !ok {
		return
	}
	col, err := intParam(r, "col")
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondNode(w, r)(svc.ExtractColumn(r.Context(), id, col))
}

func (h *MatrixHandler) respondNode(w http.ResponseWriter, r *http.Request) func(*entities.Node, error) {
	return func(n *entities.Node, err error) {
		if err != nil {
			h.errors.Handle(w, r, err)
			return
		}
		h.respondJSON(w, http.StatusCreated, aggregates.NodeRecordOf(n))
	}
}

func (h *MatrixHandler) matrix(w http.ResponseWriter, r *http.Request) (*services.CanvasService, valueobjects.NodeID, bool) {
	svc, err := h.session(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return nil, valueobjects.NodeID{}, false
	}
	id, err := nodeParam(r, "nodeID")
	if err != nil {
		h.errors.Handle(w, r, err)
		return nil, valueobjects.NodeID{}, false
	}
	return svc, id, true
}

func (h *MatrixHandler) cell(w http.ResponseWriter, r *http.Request) (*services.CanvasService, valueobjects.NodeID, int, int, bool) {
	svc, id, ok := h.matrix(w, r)
	if !ok {
		return nil, id, 0, 0, false
	}
	row, err := intParam(r, "row")
	if err == nil {
		var col int
		if col, err = intParam(r, "col"); err == nil {
			return svc, id, row, col, true
		}
	}
	h.errors.Handle(w, r, err)
	return nil, id, 0, 0, false
}
