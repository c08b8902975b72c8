// Package history is the undo/redo log layered over graph mutations.
package history

import (
	"context"
	"sync"

	"go.uber.org/zap"

	pkgerrors "canvaschat/pkg/errors"
)

// Action is one reversible change. Undo and Redo return a NOT_FOUND or
// CONFLICT error when the thing they target no longer exists in a form they
// can address; History treats that as a stale action and skips it.
type Action interface {
	Label() string
	Undo(ctx context.Context) error
	Redo(ctx context.Context) error
}

// State is what the renderer needs to enable or disable its controls.
type State struct {
	CanUndo   bool   `json:"can_undo"`
	CanRedo   bool   `json:"can_redo"`
	Length    int    `json:"length"`
	Cursor    int    `json:"cursor"`
	UndoLabel string `json:"undo_label,omitempty"`
	RedoLabel string `json:"redo_label,omitempty"`
}

// Outcome describes the action an Undo or Redo call consumed.
type Outcome struct {
	Label   string
	Skipped bool
	Reason  string
}

// History is a cursor over a bounded list of actions. Entries before the
// cursor are undoable; entries at and after it are redoable.
type History struct {
	mu       sync.Mutex
	actions  []Action
	cursor   int
	limit    int
	logger   *zap.Logger
	onChange []func(State)
}

// New creates a history that keeps at most limit actions.
func New(limit int, logger *zap.Logger) *History {
	if limit < 1 {
		limit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &History{limit: limit, logger: logger.Named("history")}
}

// OnChange registers a callback run after every change, outside the lock.
func (h *History) OnChange(fn func(State)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// Push records an action that has already been applied. Anything after the
// cursor is discarded; the oldest entry falls off past the limit.
func (h *History) Push(a Action) {
	h.mu.Lock()
	h.actions = append(h.actions[:h.cursor], a)
	if len(h.actions) > h.limit {
		drop := len(h.actions) - h.limit
		h.actions = append([]Action(nil), h.actions[drop:]...)
	}
	h.cursor = len(h.actions)
	st, listeners := h.stateLocked(), h.onChange
	h.mu.Unlock()

	notify(listeners, st)
}

// Undo reverts the most recent applied action and moves the cursor back.
func (h *History) Undo(ctx context.Context) (Outcome, error) {
	return h.step(ctx, true)
}

// Redo re-applies the action just after the cursor and moves it forward.
func (h *History) Redo(ctx context.Context) (Outcome, error) {
	return h.step(ctx, false)
}

func (h *History) step(ctx context.Context, back bool) (Outcome, error) {
	h.mu.Lock()
	var (
		a         Action
		fn        func(context.Context) error
		direction string
	)
	switch {
	case back && h.cursor == 0:
		h.mu.Unlock()
		return Outcome{}, pkgerrors.NewConflictError("nothing to undo").WithCode("HISTORY_START")
	case !back && h.cursor == len(h.actions):
		h.mu.Unlock()
		return Outcome{}, pkgerrors.NewConflictError("nothing to redo").WithCode("HISTORY_END")
	case back:
		a = h.actions[h.cursor-1]
		fn, direction = a.Undo, "undo"
	default:
		a = h.actions[h.cursor]
		fn, direction = a.Redo, "redo"
	}

	out, err := h.apply(ctx, a, fn, direction)
	if err != nil {
		h.mu.Unlock()
		return out, err
	}
	if back {
		h.cursor--
	} else {
		h.cursor++
	}
	st, listeners := h.stateLocked(), h.onChange
	h.mu.Unlock()

	notify(listeners, st)
	return out, nil
}

// apply runs one direction of a. Stale targets are skipped so the cursor can
// still move past them; any other failure leaves the cursor where it was.
func (h *History) apply(ctx context.Context, a Action, fn func(context.Context) error, direction string) (Outcome, error) {
	out := Outcome{Label: a.Label()}
	if err := ctx.Err(); err != nil {
		return out, pkgerrors.NormalizeCancel(err, direction)
	}
	err := fn(ctx)
	switch {
	case err == nil:
		return out, nil
	case pkgerrors.IsNotFound(err) || pkgerrors.IsConflict(err):
		h.logger.Warn("skipping stale history entry",
			zap.String("direction", direction),
			zap.String("action", a.Label()),
			zap.Error(err),
		)
		out.Skipped = true
		out.Reason = err.Error()
		return out, nil
	default:
		return out, pkgerrors.Wrapf(err, "%s %s", direction, a.Label())
	}
}

func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor > 0
}

func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor < len(h.actions)
}

// State returns a snapshot of the cursor position.
func (h *History) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stateLocked()
}

func (h *History) stateLocked() State {
	st := State{
		CanUndo: h.cursor > 0,
		CanRedo: h.cursor < len(h.actions),
		Length:  len(h.actions),
		Cursor:  h.cursor,
	}
	if st.CanUndo {
		st.UndoLabel = h.actions[h.cursor-1].Label()
	}
	if st.CanRedo {
		st.RedoLabel = h.actions[h.cursor].Label()
	}
	return st
}

// SetLimit changes the bound, trimming the oldest entries if needed.
func (h *History) SetLimit(limit int) {
	if limit < 1 {
		limit = 1
	}
	h.mu.Lock()
	h.limit = limit
	changed := false
	if len(h.actions) > limit {
		drop := len(h.actions) - limit
		h.actions = append([]Action(nil), h.actions[drop:]...)
		h.cursor -= drop
		if h.cursor < 0 {
			h.cursor = 0
		}
		changed = true
	}
	st, listeners := h.stateLocked(), h.onChange
	h.mu.Unlock()
	if changed {
		notify(listeners, st)
	}
}

// Clear forgets every action.
func (h *History) Clear() {
	h.mu.Lock()
	h.actions = nil
	h.cursor = 0
	st, listeners := h.stateLocked(), h.onChange
	h.mu.Unlock()
	notify(listeners, st)
}

func notify(listeners []func(State), st State) {
	for _, fn := range listeners {
		fn(st)
	}
}
