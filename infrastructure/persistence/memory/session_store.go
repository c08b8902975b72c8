// Package memory keeps session snapshots in process memory.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"canvaschat/application/ports"
	"canvaschat/domain/core/aggregates"
	pkgerrors "canvaschat/pkg/errors"
)

type entry struct {
	body      []byte
	summary   ports.SessionSummary
	expiresAt time.Time
}

// SessionStore is a ports.SessionStore for single-instance development.
// Snapshots are stored encoded, so callers never share memory with the
// store, and expire ttl after their last save.
type SessionStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewSessionStore creates an empty store. A ttl of zero keeps snapshots
// until deleted.
func NewSessionStore(ttl time.Duration, logger *zap.Logger) *SessionStore {
	return &SessionStore{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.Named("memory_store"),
	}
}

// Save implements ports.SessionStore.
func (s *SessionStore) Save(_ context.Context, snap *aggregates.GraphSnapshot) error {
	if snap == nil || snap.ID == "" {
		return pkgerrors.NewValidationError("snapshot needs an id")
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return pkgerrors.Wrap(err, "encode snapshot")
	}
	now := s.now()
	e := entry{
		body: body,
		summary: ports.SessionSummary{
			ID:        snap.ID,
			Name:      snap.Name,
			SavedAt:   snap.SavedAt,
			NodeCount: len(snap.Nodes),
			EdgeCount: len(snap.Edges),
		},
	}
	if s.ttl > 0 {
		e.expiresAt = now.Add(s.ttl)
	}

	s.mu.Lock()
	s.entries[snap.ID] = e
	s.mu.Unlock()
	return nil
}

// Load implements ports.SessionStore.
func (s *SessionStore) Load(_ context.Context, id string) (*aggregates.GraphSnapshot, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok || s.expired(e) {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("session %s", id))
	}
	var snap aggregates.GraphSnapshot
	if err := json.Unmarshal(e.body, &snap); err != nil {
		return nil, pkgerrors.Wrap(err, "decode snapshot")
	}
	return &snap, nil
}

// Delete implements ports.SessionStore.
func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || s.expired(e) {
		delete(s.entries, id)
		return pkgerrors.NewNotFoundError(fmt.Sprintf("session %s", id))
	}
	delete(s.entries, id)
	return nil
}

// List implements ports.SessionStore, newest first.
func (s *SessionStore) List(_ context.Context) ([]ports.SessionSummary, error) {
	s.mu.RLock()
	out := make([]ports.SessionSummary, 0, len(s.entries))
	for _, e := range s.entries {
		if !s.expired(e) {
			out = append(out, e.summary)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SavedAt.Equal(out[j].SavedAt) {
			return out[i].SavedAt.After(out[j].SavedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Sweep drops expired snapshots and returns how many went.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, id)
			n++
		}
	}
	if n > 0 {
		s.logger.Debug("expired sessions swept", zap.Int("count", n))
	}
	return n
}

// RunJanitor sweeps every interval until ctx is done.
func (s *SessionStore) RunJanitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

func (s *SessionStore) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}
