package prefixTree

import (
	"errors"

	"github.com/i5heu/ouroboros-pathindex/pkg/types"
)

var (
	ErrVertexNotFound = errors.New("vertex not found")
	// ErrSiblingExists is returned by stores that refuse a second child with
	// the same label under one parent.
	ErrSiblingExists = errors.New("parent already has a child with this label")
	// ErrVertexInUse is returned by RemoveChild when the child gained children
	// or documents and can no longer be discarded.
	ErrVertexInUse = errors.New("vertex is in use")
)

// VertexStore is the persistence the tree needs. Every method is expected to be
// atomic on its own; the tree composes them without holding locks.
type VertexStore interface {
	// Vertex returns ErrVertexNotFound if id does not exist.
	Vertex(id types.ID) (Vertex, error)
	// Vertices resolves ids in order. Unknown ids are skipped.
	Vertices(ids []types.ID) ([]Vertex, error)
	CreateVertex(hash types.Hash, documents []types.ID) (types.ID, error)
	// AppendChild may fail with ErrSiblingExists when parent already has a
	// child with the label of child.
	AppendChild(parent, child types.ID) error
	AppendDocument(vertex, document types.ID) error

	// RemoveChild unlinks child from parent and deletes child. If child has
	// children or documents it fails with ErrVertexInUse and changes nothing.
	// The check and the removal must be atomic with respect to AppendChild and
	// AppendDocument on child. Only used to roll back a failed insert.
	RemoveChild(parent, child types.ID) error
	// DeleteVertex removes a vertex that was never linked.
	DeleteVertex(id types.ID) error
}
