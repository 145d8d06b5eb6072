package tenant

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a map-backed Store for tests and embedding.
type MemoryStore struct {
	mu      sync.RWMutex
	bySlug  map[string]Project
	lookups int
	failErr error
}

// NewMemoryStore creates a store seeded with projects. Seeding stops at the
// first invalid or duplicate project, which is reported.
func NewMemoryStore(projects ...Project) (*MemoryStore, error) {
	m := &MemoryStore{bySlug: make(map[string]Project, len(projects))}
	for _, p := range projects {
		if err := m.Add(context.Background(), p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Resolve returns the project registered under slug.
func (m *MemoryStore) Resolve(_ context.Context, slug string) (*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.failErr != nil {
		return nil, m.failErr
	}
	p, ok := m.bySlug[slug]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// Add registers a project.
func (m *MemoryStore) Add(_ context.Context, p Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bySlug[p.SubDomain]; ok {
		return ErrDuplicateSubDomain
	}
	m.bySlug[p.SubDomain] = p
	return nil
}

// Remove deletes the project registered under slug, if any.
func (m *MemoryStore) Remove(slug string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bySlug, slug)
}

// List returns all projects ordered by slug.
func (m *MemoryStore) List(context.Context) ([]Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Project, 0, len(m.bySlug))
	for _, p := range m.bySlug {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubDomain < out[j].SubDomain })
	return out, nil
}

// Lookups reports how many times Resolve was called.
func (m *MemoryStore) Lookups() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookups
}

// FailWith makes every later Resolve return err; nil restores normal lookups.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// replace swaps the whole project set; used by FileStore reloads.
func (m *MemoryStore) replace(projects map[string]Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySlug = projects
}
