package store

import (
	"context"
	"sort"
	"sync"

	"github.com/timvw/fallacy-patrol/internal/model"
)

// Memory keeps requests in a map. It is used in tests and when no database
// path is configured.
type Memory struct {
	mu      sync.RWMutex
	data    map[string]*model.AnalysisRequest
	cursors map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		data:    make(map[string]*model.AnalysisRequest),
		cursors: make(map[string]int),
	}
}

func (m *Memory) Get(_ context.Context, id string) (*model.AnalysisRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *Memory) Save(_ context.Context, r *model.AnalysisRequest) error {
	c := r.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.data[c.ID]; ok {
		c.SourceText = prev.SourceText
		c.CreatedAt = prev.CreatedAt
	}
	m.data[c.ID] = c
	return nil
}

func (m *Memory) List(_ context.Context, f Filter) ([]*model.AnalysisRequest, error) {
	m.mu.RLock()
	result := make([]*model.AnalysisRequest, 0, len(m.data))
	for _, r := range m.data {
		if f.match(r) {
			result = append(result, r.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return applyLimit(result, f.Limit), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[id]; !ok {
		return ErrNotFound
	}
	delete(m.data, id)
	return nil
}

func (m *Memory) Cursor(_ context.Context, name string) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.cursors[name]
	return v, ok, nil
}

func (m *Memory) SetCursor(_ context.Context, name string, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[name] = value
	return nil
}

func (m *Memory) Close() error {
	return nil
}
