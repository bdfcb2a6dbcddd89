package cache

import (
	"context"
	"sync"

	"teamcards/internal/domain"
)

// Memory keeps the cached view in process memory. It survives nothing and
// exists for tests and for deployments that opt out of persistence.
type Memory struct {
	mu    sync.Mutex
	view  domain.CachedView
	saved bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(_ context.Context) (domain.CachedView, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view, m.saved, nil
}

func (m *Memory) Save(_ context.Context, v domain.CachedView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view = v
	m.saved = true
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view = domain.CachedView{}
	m.saved = false
	return nil
}
