package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	pkgerrors "canvaschat/pkg/errors"
)

// DefaultHeartbeat keeps idle event streams open through proxies.
const DefaultHeartbeat = 15 * time.Second

// EventHandler streams a session's domain events as server-sent events.
type EventHandler struct {
	base
	bus       Subscriber
	heartbeat time.Duration
}

// NewEventHandler creates a new event handler
func NewEventHandler(sessions Sessions, bus Subscriber, errs *pkgerrors.ErrorHandler, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		base:      newBase(sessions, errs, logger, 0),
		bus:       bus,
		heartbeat: DefaultHeartbeat,
	}
}

// Stream handles GET /sessions/{sessionID}/events. It ends when the client
// goes away or the bus closes the subscription.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	svc, err := h.session(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.errors.Handle(w, r, pkgerrors.NewInternalError("streaming unsupported"))
		return
	}

	ch, unsubscribe := h.bus.Subscribe(svc.ID())
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				h.logger.Error("Failed to encode event", zap.String("type", evt.GetEventType()), zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.GetEventType(), data)
			flusher.Flush()
		}
	}
}
