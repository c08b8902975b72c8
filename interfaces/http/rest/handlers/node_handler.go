package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"canvaschat/application/services"
	"canvaschat/domain/core/aggregates"
	"canvaschat/domain/core/entities"
	"canvaschat/domain/core/valueobjects"
	pkgerrors "canvaschat/pkg/errors"
)

// NodeHandler handles node and edge requests within a session
type NodeHandler struct {
	base
}

// NewNodeHandler creates a new node handler
func NewNodeHandler(sessions Sessions, errs *pkgerrors.ErrorHandler, logger *zap.Logger, maxBody int64) *NodeHandler {
	return &NodeHandler{base: newBase(sessions, errs, logger, maxBody)}
}

// CreateNodeRequest represents the request body for creating a node
type CreateNodeRequest struct {
	Type      string   `json:"type" validate:"required,nodetype"`
	Content   string   `json:"content"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	Title     string   `json:"title,omitempty" validate:"max=500"`
	Tags      []string `json:"tags,omitempty" validate:"max=50,dive,required,max=100"`
	ParentIDs []string `json:"parent_ids,omitempty" validate:"dive,required"`
	EdgeType  string   `json:"edge_type,omitempty" validate:"omitempty,edgetype"`
}

// UpdateNodeRequest is a partial update; absent fields are left alone.
type UpdateNodeRequest struct {
	Content   *string   `json:"content,omitempty"`
	X         *float64  `json:"x,omitempty"`
	Y         *float64  `json:"y,omitempty"`
	Width     *float64  `json:"width,omitempty" validate:"omitempty,gt=0"`
	Height    *float64  `json:"height,omitempty" validate:"omitempty,gt=0"`
	ClearSize bool      `json:"clear_size,omitempty"`
	Title     *string   `json:"title,omitempty" validate:"omitempty,max=500"`
	Summary   *string   `json:"summary,omitempty"`
	Tags      *[]string `json:"tags,omitempty"`
}

// CreateEdgeRequest represents the request body for creating an edge
type CreateEdgeRequest struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
	Type   string `json:"type" validate:"required,edgetype"`
}

// SendMessageRequest adds a human message and asks for a reply to it.
type SendMessageRequest struct {
	Content   string   `json:"content" validate:"required"`
	ParentIDs []string `json:"parent_ids,omitempty" validate:"dive,required"`
	Model     string   `json:"model,omitempty"`
}

// SendMessageResponse returns both new nodes; the reply streams in.
type SendMessageResponse struct {
	Human aggregates.NodeRecord `json:"human"`
	Reply aggregates.NodeRecord `json:"reply"`
}

// AutoPositionRequest carries rendered sizes for overlap checks.
type AutoPositionRequest struct {
	Footprints map[string]FootprintDTO `json:"footprints,omitempty" validate:"omitempty,dive"`
}

// CreateNode handles POST /sessions/{sessionID}/nodes
func (h *NodeHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	svc, err := h.session(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	var req CreateNodeRequest
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
	if entities.NodeType(req.Type) == entities.NodeTypeMatrix {
		h.errors.Handle(w, r, pkgerrors.NewValidationError("matrices are created through /matrices"))
		return
	}

	node, err := svc.AddNode(r.Context(), services.NodeInput{
		Type:      entities.NodeType(req.Type),
		Content:   req.Content,
		Position:  pos,
		Title:     req.Title,
		Tags:      req.Tags,
		ParentIDs: parents,
		EdgeType:  entities.EdgeType(req.EdgeType),
	})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, aggregates.NodeRecordOf(node))
}

// GetNode handles GET /sessions/{sessionID}/nodes/{nodeID}
func (h *NodeHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	svc, id, err := h.target(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	node, ok := svc.Graph().GetNode(id)
	if !ok {
		h.errors.Handle(w, r, pkgerrors.NewNotFoundError(fmt.Sprintf("node %s", id)))
		return
	}
	h.respondJSON(w, http.StatusOK, aggregates.NodeRecordOf(node))
}

// UpdateNode handles PATCH /sessions/{sessionID}/nodes/{nodeID}
func (h *NodeHandler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	svc, id, err := h.target(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	var req UpdateNodeRequest
	if err := h.decode(w, r, &req, false); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	u, err := req.toUpdate()
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if !svc.UpdateNode(r.Context(), id, u) {
		h.errors.Handle(w, r, pkgerrors.NewNotFoundError(fmt.Sprintf("node %s", id)))
		return
	}
	node, _ := svc.Graph().GetNode(id)
	if node == nil {
		// Removed between the update and the read.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.respondJSON(w, http.StatusOK, aggregates.NodeRecordOf(node))
}

func (req UpdateNodeRequest) toUpdate() (aggregates.NodeUpdate, error) {
	u := aggregates.NodeUpdate{
		Content:   req.Content,
		Title:     req.Title,
		Summary:   req.Summary,
		Tags:      req.Tags,
		ClearSize: req.ClearSize,
	}
	pos, err := position(req.X, req.Y)
	if err != nil {
		return u, err
	}
	u.Position = pos
	if req.Width != nil || req.Height != nil {
		if req.Width == nil || req.Height == nil {
			return u, pkgerrors.NewValidationError("width and height must be given together")
		}
		size, err := valueobjects.NewSize(*req.Width, *req.Height)
		if err != nil {
			return u, err
		}
		u.Size = &size
	}
	return u, nil
}

// DeleteNode handles DELETE /sessions/{sessionID}/nodes/{nodeID}
func (h *NodeHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	svc, id, err := h.target(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if !svc.RemoveNode(r.Context(), id) {
		h.errors.Handle(w, r, pkgerrors.NewNotFoundError(fmt.Sprintf("node %s", id)))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DismissError handles POST /sessions/{sessionID}/nodes/{nodeID}/dismiss-error
func (h *NodeHandler) DismissError(w http.ResponseWriter, r *http.Request) {
	svc, id, err := h.target(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if !svc.DismissError(r.Context(), id) {
		h.errors.Handle(w, r, pkgerrors.NewNotFoundError(fmt.Sprintf("node %s", id)))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AutoPosition handles POST /sessions/{sessionID}/nodes/{nodeID}/auto-position
func (h *NodeHandler) AutoPosition(w http.ResponseWriter, r *http.Request) {
	svc, id, err := h.target(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	var req AutoPositionRequest
	if err := h.decode(w, r, &req, true); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	fps, err := footprints(req.Footprints)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	pos, err := svc.AutoPosition(r.Context(), id, fps)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]float64{"x": pos.X(), "y": pos.Y()})
}

// CurrentNode handles GET /sessions/{sessionID}/current
func (h *NodeHandler) CurrentNode(w http.ResponseWriter, r *http.Request) {
	svc, err := h.session(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	node, ok := svc.CurrentNode()
	if !ok {
		h.errors.Handle(w, r, pkgerrors.NewNotFoundError("current node"))
		return
	}
	h.respondJSON(w, http.StatusOK, aggregates.NodeRecordOf(node))
}

// SendMessage handles POST /sessions/{sessionID}/messages
func (h *NodeHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	svc, err := h.session(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	var req SendMessageRequest
	if err := h.decode(w, r, &req, false); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	parents, err := nodeIDs(req.ParentIDs)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if len(parents) == 0 {
		if cur, ok := svc.CurrentNode(); ok {
			parents = []valueobjects.NodeID{cur.ID()}
		}
	}
	human, reply, err := svc.SendMessage(r.Context(), req.Content, parents, req.Model)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, SendMessageResponse{
		Human: aggregates.NodeRecordOf(human),
		Reply: aggregates.NodeRecordOf(reply),
	})
}

// CreateEdge handles POST /sessions/{sessionID}/edges
func (h *NodeHandler) CreateEdge(w http.ResponseWriter, r *http.Request) {
	svc, err := h.session(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	var req CreateEdgeRequest
	if err := h.decode(w, r, &req, false); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	ids, err := nodeIDs([]string{req.Source, req.Target})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	edge, err := svc.AddEdge(r.Context(), ids[0], ids[1], entities.EdgeType(req.Type))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, aggregates.EdgeRecordOf(edge))
}

// DeleteEdge handles DELETE /sessions/{sessionID}/edges/{edgeID}
func (h *NodeHandler) DeleteEdge(w http.ResponseWriter, r *http.Request) {
	svc, err := h.session(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	id, err := valueobjects.NewEdgeIDFromString(chi.URLParam(r, "edgeID"))
	if err != nil {
		h.errors.Handle(w, r, pkgerrors.NewValidationError(err.Error()))
		return
	}
	if !svc.RemoveEdge(r.Context(), id) {
		h.errors.Handle(w, r, pkgerrors.NewNotFoundError(fmt.Sprintf("edge %s", id)))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// target resolves the session and the {nodeID} path parameter.
func (h *NodeHandler) target(r *http.Request) (*services.CanvasService, valueobjects.NodeID, error) {
	svc, err := h.session(r)
	if err != nil {
		return nil, valueobjects.NodeID{}, err
	}
	id, err := nodeParam(r, "nodeID")
	if err != nil {
		return nil, valueobjects.NodeID{}, err
	}
	return svc, id, nil
}
