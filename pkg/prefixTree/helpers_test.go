package prefixTree

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/i5heu/ouroboros-pathindex/internal/testutil"
	"github.com/i5heu/ouroboros-pathindex/pkg/types"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected store failure")

func newTestTree(t *testing.T, opts ...Option) (*Tree, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	rootID := store.CreateRoot()
	tree, err := New(store, rootID, append([]Option{WithLogger(testutil.Logger())}, opts...)...)
	require.NoError(t, err)
	return tree, store
}

// faultyStore fails selected operations. failCreateAt is 1-based and counts
// CreateVertex calls; zero disables the fault.
type faultyStore struct {
	VertexStore

	mu             sync.Mutex
	creates        int
	failCreateAt   int
	failAppendAt   int
	appends        int
	failAppendDoc  bool
	failRemove     bool
	failDelete     bool
	removedInOrder []types.ID

	// uniqueLabels refuses a second child with the same label like the
	// badger store does
	uniqueLabels bool
	// beforeCreate and beforeAppend run before the n-th call, 1-based
	beforeCreate func(n int)
	beforeAppend func(n int)
}

func (f *faultyStore) CreateVertex(hash types.Hash, documents []types.ID) (types.ID, error) {
	f.mu.Lock()
	f.creates++
	n := f.creates
	fail := f.failCreateAt != 0 && n == f.failCreateAt
	f.mu.Unlock()
	if f.beforeCreate != nil {
		f.beforeCreate(n)
	}
	if fail {
		return types.ID{}, errInjected
	}
	return f.VertexStore.CreateVertex(hash, documents)
}

func (f *faultyStore) AppendChild(parent, child types.ID) error {
	f.mu.Lock()
	f.appends++
	n := f.appends
	fail := f.failAppendAt != 0 && n == f.failAppendAt
	f.mu.Unlock()
	if f.beforeAppend != nil {
		f.beforeAppend(n)
	}
	if fail {
		return errInjected
	}
	if f.uniqueLabels {
		if err := f.checkLabel(parent, child); err != nil {
			return err
		}
	}
	return f.VertexStore.AppendChild(parent, child)
}

func (f *faultyStore) checkLabel(parent, child types.ID) error {
	c, err := f.VertexStore.Vertex(child)
	if err != nil {
		return err
	}
	p, err := f.VertexStore.Vertex(parent)
	if err != nil {
		return err
	}
	siblings, err := f.VertexStore.Vertices(p.Children)
	if err != nil {
		return err
	}
	for _, sibling := range siblings {
		if sibling.ID != child && sibling.Hash == c.Hash {
			return fmt.Errorf("%w: %s under %s", ErrSiblingExists, c.Hash, parent)
		}
	}
	return nil
}

func (f *faultyStore) AppendDocument(vertex, document types.ID) error {
	if f.failAppendDoc {
		return errInjected
	}
	return f.VertexStore.AppendDocument(vertex, document)
}

func (f *faultyStore) RemoveChild(parent, child types.ID) error {
	f.mu.Lock()
	f.removedInOrder = append(f.removedInOrder, child)
	f.mu.Unlock()
	if f.failRemove {
		return errInjected
	}
	return f.VertexStore.RemoveChild(parent, child)
}

func (f *faultyStore) DeleteVertex(id types.ID) error {
	if f.failDelete {
		return errInjected
	}
	return f.VertexStore.DeleteVertex(id)
}

func newFaultyTree(t *testing.T, configure func(f *faultyStore)) (*Tree, *faultyStore, *MemoryStore) {
	t.Helper()
	mem := NewMemoryStore()
	rootID := mem.CreateRoot()
	f := &faultyStore{VertexStore: mem}
	if configure != nil {
		configure(f)
	}
	tree, err := New(f, rootID, WithLogger(testutil.Logger()))
	require.NoError(t, err)
	return tree, f, mem
}
