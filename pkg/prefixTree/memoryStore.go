package prefixTree

import (
	"fmt"
	"sync"

	"github.com/i5heu/ouroboros-pathindex/pkg/types"
)

// MemoryStore is a VertexStore kept in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	vertices map[types.ID]Vertex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vertices: make(map[types.ID]Vertex)}
}

// CreateRoot adds a vertex without a label and returns its ID.
func (m *MemoryStore) CreateRoot() types.ID {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := types.NewID()
	m.vertices[id] = Vertex{ID: id}
	return id
}

func (m *MemoryStore) Vertex(id types.ID) (Vertex, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.vertices[id]
	if !ok {
		return Vertex{}, fmt.Errorf("%w: %s", ErrVertexNotFound, id)
	}
	return v.Clone(), nil
}

func (m *MemoryStore) Vertices(ids []types.ID) ([]Vertex, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Vertex, 0, len(ids))
	for _, id := range ids {
		if v, ok := m.vertices[id]; ok {
			out = append(out, v.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateVertex(hash types.Hash, documents []types.ID) (types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := types.NewID()
	m.vertices[id] = Vertex{
		ID:        id,
		Hash:      hash,
		HasHash:   true,
		Documents: append([]types.ID(nil), documents...),
	}
	return id, nil
}

func (m *MemoryStore) AppendChild(parent, child types.ID) error {
	return m.update(parent, func(v *Vertex) {
		v.Children = append(v.Children, child)
	})
}

func (m *MemoryStore) AppendDocument(vertex, document types.ID) error {
	return m.update(vertex, func(v *Vertex) {
		v.Documents = append(v.Documents, document)
	})
}

func (m *MemoryStore) RemoveChild(parent, child types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.vertices[parent]
	if !ok {
		return fmt.Errorf("%w: %s", ErrVertexNotFound, parent)
	}
	if c, ok := m.vertices[child]; ok {
		if len(c.Children) > 0 || len(c.Documents) > 0 {
			return fmt.Errorf("%w: %s", ErrVertexInUse, child)
		}
		delete(m.vertices, child)
	}

	p = p.Clone()
	kept := p.Children[:0]
	for _, c := range p.Children {
		if c != child {
			kept = append(kept, c)
		}
	}
	p.Children = kept
	m.vertices[parent] = p
	return nil
}

func (m *MemoryStore) DeleteVertex(id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.vertices, id)
	return nil
}

// Len returns the number of stored vertices, the root included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vertices)
}

func (m *MemoryStore) update(id types.ID, fn func(v *Vertex)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.vertices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrVertexNotFound, id)
	}
	v = v.Clone()
	fn(&v)
	m.vertices[id] = v
	return nil
}
