// Package prefixTree indexes documents under paths of hash labels. The tree
// lives in a VertexStore and is anchored at a root vertex that is provisioned
// outside of this package.
package prefixTree

import (
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-pathindex/pkg/types"
	"github.com/sirupsen/logrus"
)

var (
	ErrRootNotFound     = errors.New("prefix tree root not found")
	ErrDuplicateSibling = errors.New("duplicate sibling label")
	ErrInsertFailed     = errors.New("prefix tree insert failed")
)

type Tree struct {
	store  VertexStore
	rootID types.ID
	log    *logrus.Logger
	strict bool
}

type Option func(*Tree)

func WithLogger(logger *logrus.Logger) Option {
	return func(t *Tree) {
		if logger != nil {
			t.log = logger
		}
	}
}

// WithStrictSiblings makes Insert fail with ErrDuplicateSibling when two
// children of one vertex carry the same label. Without it the first one wins
// and the violation is logged.
func WithStrictSiblings() Option {
	return func(t *Tree) {
		t.strict = true
	}
}

// New resolves the root once and fails if it does not exist.
func New(store VertexStore, rootID types.ID, opts ...Option) (*Tree, error) {
	t := &Tree{
		store:  store,
		rootID: rootID,
		log:    logrus.New(),
	}
	for _, opt := range opts {
		opt(t)
	}

	root, err := store.Vertex(rootID)
	if err != nil {
		if errors.Is(err, ErrVertexNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRootNotFound, rootID)
		}
		return nil, fmt.Errorf("error loading root %s: %w", rootID, err)
	}
	if !root.IsRoot() {
		t.log.WithField("root", rootID).Warn("root vertex carries a label, it is ignored")
	}

	return t, nil
}

func (t *Tree) RootID() types.ID {
	return t.rootID
}

// root is re-read for every operation since inserts append to its children.
func (t *Tree) root() (Vertex, error) {
	root, err := t.store.Vertex(t.rootID)
	if err != nil {
		return Vertex{}, fmt.Errorf("error loading root %s: %w", t.rootID, err)
	}
	return root, nil
}
