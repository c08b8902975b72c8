package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"canvaschat/application/history"
	"canvaschat/application/services"
	"canvaschat/domain/core/aggregates"
	domainservices "canvaschat/domain/services"
	"canvaschat/domain/services/layout"
	pkgerrors "canvaschat/pkg/errors"
)

// CanvasHandler serves the whole-canvas operations: context, layout,
// replies, history and stopping work.
type CanvasHandler struct {
	base
}

// NewCanvasHandler creates a new canvas handler
func NewCanvasHandler(sessions Sessions, errs *pkgerrors.ErrorHandler, logger *zap.Logger, maxBody int64) *CanvasHandler {
	return &CanvasHandler{base: newBase(sessions, errs, logger, maxBody)}
}

// SelectionRequest names the nodes a context is built from.
type SelectionRequest struct {
	NodeIDs []string `json:"node_ids" validate:"required,min=1,dive,required"`
}

// ContextResponse is the ordered model history for a selection.
type ContextResponse struct {
	Messages []domainservices.Message `json:"messages"`
}

// LayoutRequest selects a strategy; footprints override default sizes.
type LayoutRequest struct {
	Strategy   string                  `json:"strategy,omitempty" validate:"omitempty,oneof=hierarchical force-directed overlap-only"`
	Footprints map[string]FootprintDTO `json:"footprints,omitempty" validate:"omitempty,dive"`
}

// PointDTO is a canvas position.
type PointDTO struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LayoutResponse summarises a layout run.
type LayoutResponse struct {
	Strategy   string              `json:"strategy"`
	Positions  map[string]PointDTO `json:"positions"`
	Moved      int                 `json:"moved"`
	Stranded   []string            `json:"stranded,omitempty"`
	Resolved   bool                `json:"resolved"`
	DurationMS float64             `json:"duration_ms"`
}

// ReplyRequest asks for a model reply to the given parents.
type ReplyRequest struct {
	ParentIDs []string `json:"parent_ids" validate:"required,min=1,dive,required"`
	Model     string   `json:"model,omitempty" validate:"max=200"`
}

// StopRequest optionally narrows a stop to one sub-operation.
type StopRequest struct {
	SubKey string `json:"sub_key,omitempty"`
}

// HistoryResponse reports an undo or redo step and the state after it.
type HistoryResponse struct {
	Label   string        `json:"label,omitempty"`
	Skipped bool          `json:"skipped"`
	Reason  string        `json:"reason,omitempty"`
	State   history.State `json:"state"`
}

// ResolveContext handles POST /sessions/{sessionID}/context
func (h *CanvasHandler) ResolveContext(w http.ResponseWriter, r *http.Request) {
	svc, req, ok := h.selection(w, r)
	if !ok {
		return
	}
	ids, err := nodeIDs(req.NodeIDs)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	msgs, err := svc.ResolveContext(r.Context(), ids)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []domainservices.Message{}
	}
	h.respondJSON(w, http.StatusOK, ContextResponse{Messages: msgs})
}

// EstimateTokens handles POST /sessions/{sessionID}/context/tokens
func (h *CanvasHandler) EstimateTokens(w http.ResponseWriter, r *http.Request) {
	svc, req, ok := h.selection(w, r)
	if !ok {
		return
	}
	ids, err := nodeIDs(req.NodeIDs)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	n, err := svc.EstimateTokens(r.Context(), ids)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int{"tokens": n})
}

func (h *CanvasHandler) selection(w http.ResponseWriter, r *http.Request) (*services.CanvasService, SelectionRequest, bool) {
	var req SelectionRequest
	svc, err := h.session(r)
	if err == nil {
		err = h.decode(w, r, &req, false)
	}
	if err != nil {
		h.errors.Handle(w, r, err)
		return nil, req, false
	}
	return svc, req, true
}

// Layout handles POST /sessions/{sessionID}/layout
func (h *CanvasHandler) Layout(w http.ResponseWriter, r *http.Request) {
	svc, err := h.session(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	var req LayoutRequest
	if err := h.decode(w, r, &req, true); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	strategy, err := layout.ParseStrategy(req.Strategy)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	fps, err := footprints(req.Footprints)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	res, err := svc.Layout(r.Context(), strategy, fps)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	resp := LayoutResponse{
		Strategy:   string(res.Strategy),
		Positions:  make(map[string]PointDTO, len(res.Positions)),
		Moved:      res.Moved,
		Resolved:   res.Resolved,
		DurationMS: float64(res.Duration.Microseconds()) / 1000,
	}
	for id, p := range res.Positions {
		resp.Positions[id.String()] = PointDTO{X: p.X(), Y: p.Y()}
	}
	for _, id := range res.Stranded {
		resp.Stranded = append(resp.Stranded, id.String())
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// GenerateReply handles POST /sessions/{sessionID}/replies. The reply node
// is returned at once and filled through the event stream.
func (h *CanvasHandler) GenerateReply(w http.ResponseWriter, r *http.Request) {
	svc, err := h.session(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	var req ReplyRequest
	if err := h.decode(w, r, &req, false); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	parents, err := nodeIDs(req.ParentIDs)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	node, err := svc.GenerateReply(r.Context(), services.ReplyRequest{ParentIDs: parents, Model: req.Model})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, aggregates.NodeRecordOf(node))
}

// Stop handles POST /sessions/{sessionID}/operations/{entityID}/stop
func (h *CanvasHandler) Stop(w http.ResponseWriter, r *http.Request) {
	svc, err := h.session(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	var req StopRequest
	if err := h.decode(w, r, &req, true); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	stopped := svc.Stop(chi.URLParam(r, "entityID"), req.SubKey)
	h.respondJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

// StopAll handles POST /sessions/{sessionID}/operations/{entityID}/stop-all
func (h *CanvasHandler) StopAll(w http.ResponseWriter, r *http.Request) {
	svc, err := h.session(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	n := svc.StopAll(chi.URLParam(r, "entityID"))
	h.respondJSON(w, http.StatusOK, map[string]int{"stopped": n})
}

// ListOperations handles GET /sessions/{sessionID}/operations
func (h *CanvasHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	svc, err := h.session(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	keys := svc.Tracker().Keys()
	out := make([]map[string]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, map[string]string{"entity_id": k.EntityID, "sub_key": k.SubKey})
	}
	h.respondJSON(w, http.StatusOK, out)
}

// Undo handles POST /sessions/{sessionID}/history/undo
func (h *CanvasHandler) Undo(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, (*services.CanvasService).Undo)
}

// Redo handles POST /sessions/{sessionID}/history/redo
func (h *CanvasHandler) Redo(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, (*services.CanvasService).Redo)
}

type stepFunc func(*services.CanvasService, context.Context) (history.Outcome, error)

func (h *CanvasHandler) step(w http.ResponseWriter, r *http.Request, fn stepFunc) {
	svc, err := h.session(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	out, err := fn(svc, r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, HistoryResponse{
		Label:   out.Label,
		Skipped: out.Skipped,
		Reason:  out.Reason,
		State:   svc.HistoryState(),
	})
}

// History handles GET /sessions/{sessionID}/history
func (h *CanvasHandler) History(w http.ResponseWriter, r *http.Request) {
	svc, err := h.session(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, svc.HistoryState())
}
