// Package handlers implements the REST surface the canvas renderer talks to.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"canvaschat/application/ports"
	"canvaschat/application/services"
	"canvaschat/domain/core/aggregates"
	"canvaschat/domain/core/valueobjects"
	"canvaschat/domain/events"
	"canvaschat/domain/services/layout"
	pkgerrors "canvaschat/pkg/errors"
	"canvaschat/pkg/utils"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

// Sessions is the part of the session manager the handlers use.
type Sessions interface {
	Create(ctx context.Context, name string) (*services.CanvasService, error)
	Get(id string) (*services.CanvasService, error)
	List() []string
	Stored(ctx context.Context) ([]ports.SessionSummary, error)
	Save(ctx context.Context, id string) (*aggregates.GraphSnapshot, error)
	Load(ctx context.Context, id string) (*services.CanvasService, error)
	Delete(ctx context.Context, id string) error
}

// Subscriber feeds the change stream.
type Subscriber interface {
	Subscribe(graphID string) (<-chan events.DomainEvent, func())
}

// base carries what every handler needs to read requests and write replies.
type base struct {
	sessions Sessions
	errors   *pkgerrors.ErrorHandler
	logger   *zap.Logger
	maxBody  int64
}

func newBase(sessions Sessions, errs *pkgerrors.ErrorHandler, logger *zap.Logger, maxBody int64) base {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return base{sessions: sessions, errors: errs, logger: logger, maxBody: maxBody}
}

func (b base) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		b.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// decode reads a JSON body into v and validates it. An empty body is
// accepted when optional is set, leaving v at its zero value.
func (b base) decode(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, b.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF) && optional:
		case errors.As(err, &tooLarge):
			return pkgerrors.NewValidationError(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		default:
			return pkgerrors.NewValidationError("invalid request body: " + err.Error())
		}
	}
	return utils.ValidateStruct(v)
}

// session resolves the {sessionID} path parameter.
func (b base) session(r *http.Request) (*services.CanvasService, error) {
	return b.sessions.Get(chi.URLParam(r, "sessionID"))
}

func nodeParam(r *http.Request, name string) (valueobjects.NodeID, error) {
	id, err := valueobjects.NewNodeIDFromString(chi.URLParam(r, name))
	if err != nil {
		return valueobjects.NodeID{}, pkgerrors.NewValidationError(err.Error())
	}
	return id, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, pkgerrors.NewValidationError(fmt.Sprintf("%s must be a non-negative integer, got %q", name, raw))
	}
	return n, nil
}

func nodeIDs(raw []string) ([]valueobjects.NodeID, error) {
	out := make([]valueobjects.NodeID, 0, len(raw))
	for _, s := range raw {
		id, err := valueobjects.NewNodeIDFromString(s)
		if err != nil {
			return nil, pkgerrors.NewValidationError(err.Error())
		}
		out = append(out, id)
	}
	return out, nil
}

// FootprintDTO is a rendered node size reported by the client.
type FootprintDTO struct {
	Width  float64 `json:"width" validate:"gt=0"`
	Height float64 `json:"height" validate:"gt=0"`
}

func footprints(raw map[string]FootprintDTO) (layout.Footprints, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(layout.Footprints, len(raw))
	for id, fp := range raw {
		nid, err := valueobjects.NewNodeIDFromString(id)
		if err != nil {
			return nil, pkgerrors.NewValidationError(err.Error())
		}
		size, err := valueobjects.NewSize(fp.Width, fp.Height)
		if err != nil {
			return nil, err
		}
		out[nid] = size
	}
	return out, nil
}

func position(x, y *float64) (*valueobjects.Position, error) {
	if x == nil && y == nil {
		return nil, nil
	}
	if x == nil || y == nil {
		return nil, pkgerrors.NewValidationError("x and y must be given together")
	}
	p, err := valueobjects.NewPosition(*x, *y)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
