package prefixTree

import (
	"sync"
	"testing"

	"github.com/i5heu/ouroboros-pathindex/internal/testutil"
	"github.com/i5heu/ouroboros-pathindex/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentInsert_DivergentPaths(t *testing.T) {
	tree, _ := newTestTree(t)

	// every worker owns its first label, so no two workers race on a vertex
	const workers = 8
	perWorker := 50
	if testutil.IsLongEnabled() {
		perWorker = 2000
	}

	docs := make([][]types.ID, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				doc := types.NewID()
				_, err := tree.Insert(testutil.Path(byte(w), byte(i%5), byte(i%7)), doc)
				assert.NoError(t, err)
				docs[w] = append(docs[w], doc)
			}
		}(w)
	}

	// readers run alongside the writers
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func(r int) {
			defer readers.Done()
			for i := 0; i < 20; i++ {
				_, err := tree.Search(testutil.Path(byte(r)), 2)
				assert.NoError(t, err)
			}
		}(r)
	}

	wg.Wait()
	readers.Wait()

	for w := 0; w < workers; w++ {
		got, err := tree.Search(testutil.Path(byte(w)), 2)
		require.NoError(t, err)
		assert.ElementsMatch(t, docs[w], got)
	}
}
