// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/ManuGH/framegate/internal/domain/stream/ports"
)

// MemoryStore is an in-memory Repository intended for tests and local iteration.
// Not durable.
type MemoryStore struct {
	mu sync.RWMutex

	sessions map[string]*model.Session
	frames   map[string]*model.FrameRecord
	// sessionID -> frame ids in insertion order
	bySession map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*model.Session),
		frames:    make(map[string]*model.FrameRecord),
		bySession: make(map[string][]string),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateSession(ctx context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ports.ErrExists
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, id string, fn func(*model.Session) error) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.sessions[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, status model.SessionStatus) ([]*model.Session, error) {
	m.mu.RLock()
	out := make([]*model.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if status == "" || s.Status == status {
			out = append(out, s.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) CreateFrame(ctx context.Context, f *model.FrameRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[f.SessionID]; !ok {
		return ports.ErrNotFound
	}
	if _, ok := m.frames[f.ID]; ok {
		return ports.ErrExists
	}
	m.frames[f.ID] = f.Clone()
	m.bySession[f.SessionID] = append(m.bySession[f.SessionID], f.ID)
	return nil
}

func (m *MemoryStore) UpdateFrame(ctx context.Context, id string, fn func(*model.FrameRecord) error) (*model.FrameRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.frames[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.frames[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) GetFrame(ctx context.Context, id string) (*model.FrameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.frames[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return f.Clone(), nil
}

func (m *MemoryStore) ListFrames(ctx context.Context, sessionID string, limit, offset int) ([]*model.FrameRecord, int, error) {
	m.mu.RLock()
	ids := m.bySession[sessionID]
	all := make([]*model.FrameRecord, 0, len(ids))
	for _, id := range ids {
		all = append(all, m.frames[id].Clone())
	}
	m.mu.RUnlock()

	sortFrames(all)
	return page(all, limit, offset), len(all), nil
}

func (m *MemoryStore) CountFrames(ctx context.Context, sessionID string) (model.FrameCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var c model.FrameCounts
	for _, id := range m.bySession[sessionID] {
		c.Add(m.frames[id])
	}
	return c, nil
}

func sortFrames(frames []*model.FrameRecord) {
	sort.SliceStable(frames, func(i, j int) bool {
		if frames[i].FrameNumber == frames[j].FrameNumber {
			return frames[i].CapturedAt.Before(frames[j].CapturedAt)
		}
		return frames[i].FrameNumber < frames[j].FrameNumber
	})
}

func page[T any](all []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []T{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}
