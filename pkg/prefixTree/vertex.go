package prefixTree

import (
	"github.com/i5heu/ouroboros-pathindex/pkg/types"
)

// Vertex is a node of the prefix tree. Hash is the label of the edge from the
// parent and is only meaningful when HasHash is set; the root has no label.
type Vertex struct {
	ID        types.ID
	Hash      types.Hash
	HasHash   bool
	Children  []types.ID
	Documents []types.ID
}

func (v Vertex) IsRoot() bool {
	return !v.HasHash
}

// Clone returns a deep copy so callers can not alias store internals.
func (v Vertex) Clone() Vertex {
	c := v
	c.Children = append([]types.ID(nil), v.Children...)
	c.Documents = append([]types.ID(nil), v.Documents...)
	return c
}

type UpdateKind int

const (
	ChildAppended UpdateKind = iota
	DocumentAppended
)

func (k UpdateKind) String() string {
	switch k {
	case ChildAppended:
		return "ChildAppended"
	case DocumentAppended:
		return "DocumentAppended"
	}
	return "Unknown"
}

// Update is one structural change made to an existing or new vertex.
// Ref is the appended child or document ID.
type Update struct {
	Kind   UpdateKind
	Vertex types.ID
	Ref    types.ID
}

// Mutation lists everything a single Insert did.
type Mutation struct {
	Created []types.ID
	Updates []Update
}
