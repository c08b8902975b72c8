// Package operations keeps the registry of in-flight generation work.
//
// Every operation is keyed by an entity id (the node being written) and an
// optional sub-key (the "row-col" of a matrix cell). Each Start produces a
// fresh Handle; staleness is always decided by handle identity, so a late
// stop or completion from a previous run of the same key cannot touch the
// current one.
package operations

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	pkgerrors "canvaschat/pkg/errors"
)

// State is the lifecycle position reported to listeners.
type State string

const (
	StateStarted   State = "started"
	StateStopped   State = "stopped"
	StateCompleted State = "completed"
)

// Key addresses one operation. An empty SubKey is the whole-entity slot.
type Key struct {
	EntityID string
	SubKey   string
}

// Handle is the cancellation token of one run. Its key can change while it
// runs when Rekey moves it.
type Handle struct {
	key       atomic.Pointer[Key]
	seq       uint64
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

func (h *Handle) Key() Key { return *h.key.Load() }
func (h *Handle) Seq() uint64 { return h.seq }
func (h *Handle) StartedAt() time.Time { return h.startedAt }
func (h *Handle) Context() context.Context { return h.ctx }

// Cancelled reports whether Stop or StopAll reached this handle.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// Check is polled at suspension points. It returns a CANCELLED error once
// the handle has been stopped or its parent context is done.
func (h *Handle) Check() error {
	if h.cancelled.Load() {
		return pkgerrors.NewCancelledError(h.Key().String())
	}
	if err := h.ctx.Err(); err != nil {
		return pkgerrors.NormalizeCancel(err, h.Key().String())
	}
	return nil
}

// markCancelled flips the flag once and reports whether this call did it.
func (h *Handle) markCancelled() bool {
	if !h.cancelled.CompareAndSwap(false, true) {
		return false
	}
	h.cancel()
	return true
}

func (k Key) String() string {
	if k.SubKey == "" {
		return k.EntityID
	}
	return k.EntityID + "/" + k.SubKey
}

// Listener observes lifecycle changes. It is called outside the tracker lock.
type Listener func(key Key, state State)

// Tracker is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	entries   map[string]map[string]*Handle
	seq       uint64
	logger    *zap.Logger
	listeners []Listener
}

// NewTracker creates an empty tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		entries: make(map[string]map[string]*Handle),
		logger:  logger.Named("operations"),
	}
}

// OnChange registers a listener.
func (t *Tracker) OnChange(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// Start registers a new handle for entityID/subKey whose context derives
// from parent. If the key already holds a live handle, that handle is
// cancelled and replaced; it is never left unreachable.
func (t *Tracker) Start(parent context.Context, entityID, subKey string) *Handle {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	key := Key{EntityID: entityID, SubKey: subKey}

	t.mu.Lock()
	t.seq++
	h := &Handle{seq: t.seq, startedAt: time.Now(), ctx: ctx, cancel: cancel}
	h.key.Store(&key)
	subs, ok := t.entries[entityID]
	if !ok {
		subs = make(map[string]*Handle)
		t.entries[entityID] = subs
	}
	prev := subs[subKey]
	subs[subKey] = h
	listeners := t.listeners
	t.mu.Unlock()

	if prev != nil && prev.markCancelled() {
		t.logger.Warn("operation superseded while in flight",
			zap.String("key", key.String()),
			zap.Uint64("previous", prev.seq),
			zap.Uint64("current", h.seq),
		)
		notify(listeners, key, StateStopped)
	}
	notify(listeners, key, StateStarted)
	return h
}

// Stop cancels the current handle of entityID/subKey and reports whether one
// was registered. The registration stays until the worker completes it.
func (t *Tracker) Stop(entityID, subKey string) bool {
	t.mu.Lock()
	h, ok := t.entries[entityID][subKey]
	listeners := t.listeners
	t.mu.Unlock()
	if !ok {
		return false
	}
	if h.markCancelled() {
		notify(listeners, h.Key(), StateStopped)
	}
	return true
}

// StopAll cancels every handle under entityID and returns how many were
// cancelled by this call.
func (t *Tracker) StopAll(entityID string) int {
	t.mu.Lock()
	handles := make([]*Handle, 0, len(t.entries[entityID]))
	for _, h := range t.entries[entityID] {
		handles = append(handles, h)
	}
	listeners := t.listeners
	t.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i].seq < handles[j].seq })
	n := 0
	for _, h := range handles {
		if h.markCancelled() {
			n++
			notify(listeners, h.Key(), StateStopped)
		}
	}
	if n > 0 {
		t.logger.Debug("stopped all operations", zap.String("entity", entityID), zap.Int("count", n))
	}
	return n
}

// Complete removes whatever handle is registered under entityID/subKey. The
// entity container goes with its last sub-key.
func (t *Tracker) Complete(entityID, subKey string) bool {
	t.mu.Lock()
	h, ok := t.entries[entityID][subKey]
	if ok {
		t.removeLocked(h)
	}
	listeners := t.listeners
	t.mu.Unlock()
	if ok {
		h.cancel()
		notify(listeners, h.Key(), StateCompleted)
	}
	return ok
}

// Release completes h only if it is still the registered handle for its
// key. Workers call it when they finish so that a run replaced by a newer
// Start leaves the newer registration alone.
func (t *Tracker) Release(h *Handle) bool {
	t.mu.Lock()
	key := h.Key()
	current := t.entries[key.EntityID][key.SubKey] == h
	if current {
		t.removeLocked(h)
	}
	listeners := t.listeners
	t.mu.Unlock()

	h.cancel()
	if current {
		notify(listeners, key, StateCompleted)
	}
	return current
}

func (t *Tracker) removeLocked(h *Handle) {
	key := h.Key()
	subs := t.entries[key.EntityID]
	delete(subs, key.SubKey)
	if len(subs) == 0 {
		delete(t.entries, key.EntityID)
	}
}

// Rekey moves every handle under entityID to the sub-key remap returns for
// its current one. A handle remap rejects is cancelled and unregistered, as
// is the older of two handles mapped onto the same sub-key. It returns how
// many handles were dropped.
//
// Matrix reshapes call it while holding the graph lock so that cell keys
// and cell indices change together.
func (t *Tracker) Rekey(entityID string, remap func(subKey string) (string, bool)) int {
	t.mu.Lock()
	subs := t.entries[entityID]
	if len(subs) == 0 {
		t.mu.Unlock()
		return 0
	}
	handles := make([]*Handle, 0, len(subs))
	for _, h := range subs {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].seq < handles[j].seq })

	next := make(map[string]*Handle, len(handles))
	var dropped []*Handle
	moved := 0
	for _, h := range handles {
		from := h.Key().SubKey
		to, keep := remap(from)
		if !keep {
			dropped = append(dropped, h)
			continue
		}
		if prev, taken := next[to]; taken {
			dropped = append(dropped, prev)
		}
		if to != from {
			key := Key{EntityID: entityID, SubKey: to}
			h.key.Store(&key)
			moved++
		}
		next[to] = h
	}
	if len(next) == 0 {
		delete(t.entries, entityID)
	} else {
		t.entries[entityID] = next
	}
	listeners := t.listeners
	t.mu.Unlock()

	for _, h := range dropped {
		if h.markCancelled() {
			notify(listeners, h.Key(), StateStopped)
		}
	}
	if moved > 0 || len(dropped) > 0 {
		t.logger.Debug("operations rekeyed",
			zap.String("entity", entityID),
			zap.Int("moved", moved),
			zap.Int("dropped", len(dropped)),
		)
	}
	return len(dropped)
}

// IsCurrent reports whether h is still the registered handle for its key.
func (t *Tracker) IsCurrent(h *Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := h.Key()
	return t.entries[key.EntityID][key.SubKey] == h
}

// Get returns the registered handle for entityID/subKey.
func (t *Tracker) Get(entityID, subKey string) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.entries[entityID][subKey]
	return h, ok
}

// Active lists the sub-keys registered under entityID, sorted.
func (t *Tracker) Active(entityID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.entries[entityID]))
	for sub := range t.entries[entityID] {
		out = append(out, sub)
	}
	sort.Strings(out)
	return out
}

// HasEntity reports whether any operation is registered under entityID.
func (t *Tracker) HasEntity(entityID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[entityID]
	return ok
}

// Len counts registered handles across all entities.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, subs := range t.entries {
		n += len(subs)
	}
	return n
}

// Keys lists every registered key ordered by start.
func (t *Tracker) Keys() []Key {
	t.mu.Lock()
	handles := make([]*Handle, 0)
	for _, subs := range t.entries {
		for _, h := range subs {
			handles = append(handles, h)
		}
	}
	t.mu.Unlock()
	sort.Slice(handles, func(i, j int) bool { return handles[i].seq < handles[j].seq })
	keys := make([]Key, len(handles))
	for i, h := range handles {
		keys[i] = h.Key()
	}
	return keys
}

// Shutdown cancels everything, for process exit.
func (t *Tracker) Shutdown() int {
	t.mu.Lock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	n := 0
	for _, id := range ids {
		n += t.StopAll(id)
	}
	return n
}

func notify(listeners []Listener, key Key, state State) {
	for _, l := range listeners {
		l(key, state)
	}
}
