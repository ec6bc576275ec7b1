package prefixTree

import (
	"errors"
	"testing"

	"github.com/i5heu/ouroboros-pathindex/internal/testutil"
	"github.com/i5heu/ouroboros-pathindex/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsert_RollbackOnCreateFailure(t *testing.T) {
	for k := 1; k <= 4; k++ {
		tree, _, mem := newFaultyTree(t, func(f *faultyStore) { f.failCreateAt = k })

		_, err := tree.Insert(testutil.Path(1, 2, 3, 4), types.NewID())
		require.ErrorIs(t, err, ErrInsertFailed)
		require.ErrorIs(t, err, errInjected)

		var insertErr *InsertError
		require.True(t, errors.As(err, &insertErr))
		assert.NoError(t, insertErr.RollbackErr)
		assert.Len(t, insertErr.Mutation.Created, k-1)

		assert.Equal(t, 1, mem.Len(), "only the root survives after failing create %d", k)
		root, err := mem.Vertex(tree.RootID())
		require.NoError(t, err)
		assert.Empty(t, root.Children)

		got, err := tree.Search(testutil.Path(1), 30)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
}

func TestInsert_RollbackKeepsExistingPrefix(t *testing.T) {
	tree, f, mem := newFaultyTree(t, nil)
	d1 := types.NewID()

	_, err := tree.Insert(testutil.Path(1, 2), d1)
	require.NoError(t, err)
	require.Equal(t, 3, mem.Len())

	// [1, 2, 5, 6]: 5 is created and linked, creating 6 fails
	f.failCreateAt = f.creates + 2
	_, err = tree.Insert(testutil.Path(1, 2, 5, 6), types.NewID())
	require.ErrorIs(t, err, ErrInsertFailed)

	assert.Equal(t, 3, mem.Len())
	got, err := tree.Search(testutil.Path(1), 30)
	require.NoError(t, err)
	assert.Equal(t, []types.ID{d1}, got)
}

func TestInsert_RollbackOnLinkFailure(t *testing.T) {
	tree, f, mem := newFaultyTree(t, func(f *faultyStore) { f.failAppendAt = 2 })

	_, err := tree.Insert(testutil.Path(1, 2, 3), types.NewID())
	require.ErrorIs(t, err, ErrInsertFailed)

	assert.Equal(t, 1, mem.Len())
	require.Len(t, f.removedInOrder, 1)

	root, err := mem.Vertex(tree.RootID())
	require.NoError(t, err)
	assert.Empty(t, root.Children)
}

func TestInsert_RollbackReverseOrder(t *testing.T) {
	tree, f, _ := newFaultyTree(t, func(f *faultyStore) { f.failCreateAt = 4 })

	_, err := tree.Insert(testutil.Path(1, 2, 3, 4), types.NewID())
	var insertErr *InsertError
	require.True(t, errors.As(err, &insertErr))

	created := insertErr.Mutation.Created
	require.Len(t, created, 3)
	assert.Equal(t, []types.ID{created[2], created[1], created[0]}, f.removedInOrder)
}

func TestInsert_DocumentAppendFailure(t *testing.T) {
	tree, f, mem := newFaultyTree(t, nil)

	_, err := tree.Insert(testutil.Path(1), types.NewID())
	require.NoError(t, err)

	f.failAppendDoc = true
	_, err = tree.Insert(testutil.Path(1), types.NewID())
	require.ErrorIs(t, err, ErrInsertFailed)
	assert.Equal(t, 2, mem.Len(), "existing vertices are never deleted")
}

func TestInsert_RollbackFailureIsSurfaced(t *testing.T) {
	tree, _, mem := newFaultyTree(t, func(f *faultyStore) {
		f.failCreateAt = 3
		f.failRemove = true
		f.failDelete = true
	})

	_, err := tree.Insert(testutil.Path(1, 2, 3), types.NewID())
	var insertErr *InsertError
	require.True(t, errors.As(err, &insertErr))
	require.Error(t, insertErr.RollbackErr)
	assert.Contains(t, err.Error(), "rollback incomplete")

	// two links and two vertices could not be undone
	assert.Equal(t, 3, mem.Len())
}

func TestInsert_ContinuesBelowConcurrentSibling(t *testing.T) {
	tree, f, mem := newFaultyTree(t, func(f *faultyStore) { f.uniqueLabels = true })
	other, err := New(mem, tree.RootID(), WithLogger(testutil.Logger()))
	require.NoError(t, err)

	// another insert links [1, 2] after this one linked 1 but before it links 2
	otherDoc := types.NewID()
	f.beforeAppend = func(n int) {
		if n == 2 {
			_, err := other.Insert(testutil.Path(1, 2), otherDoc)
			require.NoError(t, err)
		}
	}

	doc := types.NewID()
	mut, err := tree.Insert(testutil.Path(1, 2), doc)
	require.NoError(t, err)
	require.Len(t, mut.Created, 1)
	require.Len(t, mut.Updates, 2)
	assert.Equal(t, ChildAppended, mut.Updates[0].Kind)
	assert.Equal(t, DocumentAppended, mut.Updates[1].Kind)

	assert.Equal(t, 3, mem.Len(), "the vertex that lost the link is discarded")
	got, err := tree.Search(testutil.Path(1), 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.ID{doc, otherDoc}, got)
}

func TestInsert_RollbackKeepsVertexInUse(t *testing.T) {
	tree, f, mem := newFaultyTree(t, func(f *faultyStore) { f.failCreateAt = 3 })
	other, err := New(mem, tree.RootID(), WithLogger(testutil.Logger()))
	require.NoError(t, err)

	// [1, 9] is stored below this insert's vertex 1 before its third create fails
	otherDoc := types.NewID()
	f.beforeCreate = func(n int) {
		if n == 3 {
			_, err := other.Insert(testutil.Path(1, 9), otherDoc)
			require.NoError(t, err)
		}
	}

	_, err = tree.Insert(testutil.Path(1, 2, 3), types.NewID())
	var insertErr *InsertError
	require.ErrorAs(t, err, &insertErr)
	require.ErrorIs(t, insertErr.RollbackErr, ErrVertexInUse)

	// root, 1 and 9 remain, 2 is gone
	assert.Equal(t, 3, mem.Len())
	got, err := tree.Search(testutil.Path(1), 1)
	require.NoError(t, err)
	assert.Equal(t, []types.ID{otherDoc}, got)
}

func TestMemoryStore_RemoveChildRefusesVertexInUse(t *testing.T) {
	mem := NewMemoryStore()
	root := mem.CreateRoot()

	withDoc, err := mem.CreateVertex(testutil.Label(1), []types.ID{types.NewID()})
	require.NoError(t, err)
	require.NoError(t, mem.AppendChild(root, withDoc))
	require.ErrorIs(t, mem.RemoveChild(root, withDoc), ErrVertexInUse)

	empty, err := mem.CreateVertex(testutil.Label(2), nil)
	require.NoError(t, err)
	require.NoError(t, mem.AppendChild(root, empty))
	require.NoError(t, mem.RemoveChild(root, empty))

	r, err := mem.Vertex(root)
	require.NoError(t, err)
	assert.Equal(t, []types.ID{withDoc}, r.Children)
	_, err = mem.Vertex(empty)
	require.ErrorIs(t, err, ErrVertexNotFound)
}
