// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package registry is the process-wide table of active stream sessions.
//
// The table lock only guards membership. Each session carries its own mutex
// so frames of one session are serialised while different sessions proceed
// in parallel. The concurrent-stream ceiling is enforced here and nowhere else.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/ManuGH/framegate/internal/domain/stream/ports"
	"github.com/ManuGH/framegate/internal/metrics"
)

// Config is the per-session configuration captured at registration.
type Config struct {
	Policy    model.Policy
	TargetFPS int
	StartedAt time.Time
}

// Session is the locked view handed to callbacks. It must not escape them.
type Session struct {
	ID        string
	Config    Config
	State     model.SamplingState
	committed bool
}

// Commit replaces the sampling state once the callback returns nil.
func (s *Session) Commit(state model.SamplingState) {
	s.State = state
	s.committed = true
}

type entry struct {
	mu     sync.Mutex
	id     string
	cfg    Config
	state  model.SamplingState
	closed bool
}

// Registry tracks active sessions.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string]*entry
}

// New returns a registry admitting at most capacity concurrent sessions.
// capacity <= 0 means unlimited.
func New(capacity int) *Registry {
	return &Registry{
		capacity: capacity,
		entries:  make(map[string]*entry),
	}
}

// Register admits a new session or fails with ports.ErrAtCapacity.
func (r *Registry) Register(id string, cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("register %s: %w: duplicate id", id, ports.ErrInvalidRequest)
	}
	if r.capacity > 0 && len(r.entries) >= r.capacity {
		metrics.RecordStreamReject("at_capacity")
		return fmt.Errorf("register %s: %w (limit %d)", id, ports.ErrAtCapacity, r.capacity)
	}
	r.entries[id] = &entry{id: id, cfg: cfg}
	metrics.SetActiveStreams(len(r.entries))
	return nil
}

// Get returns a snapshot of the session's configuration and sampling state.
func (r *Registry) Get(id string) (Session, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Session{}, fmt.Errorf("get %s: %w", id, ports.ErrSessionNotActive)
	}
	return Session{ID: e.id, Config: e.cfg, State: e.state}, nil
}

// WithSession runs fn while holding the session's lock. If fn calls Commit and
// returns nil, the new sampling state is stored; otherwise it is discarded.
func (r *Registry) WithSession(id string, fn func(*Session) error) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("session %s: %w", id, ports.ErrSessionNotActive)
	}

	view := &Session{ID: e.id, Config: e.cfg, State: e.state}
	if err := fn(view); err != nil {
		return err
	}
	if view.committed {
		e.state = view.State
	}
	return nil
}

// Close runs fn under the session lock and, if it succeeds, removes the
// session, releasing its capacity slot and sampling state. In-flight
// WithSession calls for the same id complete before fn runs.
func (r *Registry) Close(id string, fn func(Session) error) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("close %s: %w", id, ports.ErrSessionNotActive)
	}
	if fn != nil {
		if err := fn(Session{ID: e.id, Config: e.cfg, State: e.state}); err != nil {
			e.mu.Unlock()
			return err
		}
	}
	e.closed = true
	e.mu.Unlock()

	r.Unregister(id)
	return nil
}

// Unregister drops the session unconditionally. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		delete(r.entries, id)
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
	}
	metrics.SetActiveStreams(len(r.entries))
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Capacity returns the configured ceiling.
func (r *Registry) Capacity() int {
	return r.capacity
}

// Active describes one active session for sweeping and diagnostics.
type Active struct {
	ID        string
	StartedAt time.Time
}

// Snapshot lists active sessions ordered by start time.
func (r *Registry) Snapshot() []Active {
	r.mu.RLock()
	out := make([]Active, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, Active{ID: id, StartedAt: e.cfg.StartedAt})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ports.ErrSessionNotActive)
	}
	return e, nil
}
