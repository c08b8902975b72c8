package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"canvaschat/application/ports"
	pkgerrors "canvaschat/pkg/errors"
)

// SessionHandler handles session lifecycle requests
type SessionHandler struct {
	base
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions Sessions, errs *pkgerrors.ErrorHandler, logger *zap.Logger, maxBody int64) *SessionHandler {
	return &SessionHandler{base: newBase(sessions, errs, logger, maxBody)}
}

// CreateSessionRequest represents the request body for creating a session
type CreateSessionRequest struct {
	Name string `json:"name" validate:"max=200"`
}

// SessionResponse describes a live session.
type SessionResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
}

// ListSessionsResponse lists live sessions and, when a store is configured,
// the stored ones.
type ListSessionsResponse struct {
	Live   []string               `json:"live"`
	Stored []ports.SessionSummary `json:"stored,omitempty"`
}

// CreateSession handles POST /sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := h.decode(w, r, &req, true); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	svc, err := h.sessions.Create(r.Context(), req.Name)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	g := svc.Graph()
	h.respondJSON(w, http.StatusCreated, SessionResponse{ID: svc.ID(), Name: g.Name()})
}

// ListSessions handles GET /sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	resp := ListSessionsResponse{Live: h.sessions.List()}
	stored, err := h.sessions.Stored(r.Context())
	switch {
	case err == nil:
		resp.Stored = stored
	case pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable):
	default:
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// GetSession handles GET /sessions/{sessionID}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	svc, err := h.session(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	g := svc.Graph()
	h.respondJSON(w, http.StatusOK, SessionResponse{
		ID:        svc.ID(),
		Name:      g.Name(),
		NodeCount: g.NodeCount(),
		EdgeCount: g.EdgeCount(),
	})
}

// DeleteSession handles DELETE /sessions/{sessionID}
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SaveSession handles PUT /sessions/{sessionID}/save
func (h *SessionHandler) SaveSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sessions.Save(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, ports.SessionSummary{
		ID:        snap.ID,
		Name:      snap.Name,
		SavedAt:   snap.SavedAt,
		NodeCount: len(snap.Nodes),
		EdgeCount: len(snap.Edges),
	})
}

// LoadSession handles POST /sessions/{sessionID}/load
func (h *SessionHandler) LoadSession(w http.ResponseWriter, r *http.Request) {
	svc, err := h.sessions.Load(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, svc.Snapshot())
}

// GetGraph handles GET /sessions/{sessionID}/graph
func (h *SessionHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	svc, err := h.session(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, svc.Snapshot())
}
