package prefixTree

import (
	"fmt"

	"github.com/i5heu/ouroboros-pathindex/pkg/types"
)

// Search returns the documents stored at the end of query and at most
// maxDepthOverhead edges below it. Children diverging from query are pruned,
// children the store can not resolve are skipped. The result holds every
// document once, in depth first order.
func (t *Tree) Search(query types.Path, maxDepthOverhead int) ([]types.ID, error) {
	if maxDepthOverhead < 0 {
		return nil, fmt.Errorf("negative max depth overhead: %d", maxDepthOverhead)
	}

	root, err := t.root()
	if err != nil {
		return nil, err
	}

	s := searcher{
		store:    t.store,
		query:    query,
		overhead: maxDepthOverhead,
		seen:     make(map[types.ID]struct{}),
	}
	if err := s.walk(root, 0); err != nil {
		return nil, err
	}
	return s.result, nil
}

type searcher struct {
	store    VertexStore
	query    types.Path
	overhead int

	seen   map[types.ID]struct{}
	result []types.ID
}

func (s *searcher) walk(v Vertex, depth int) error {
	if depth-len(s.query) > s.overhead {
		return nil
	}

	if depth >= len(s.query) {
		for _, doc := range v.Documents {
			if _, ok := s.seen[doc]; ok {
				continue
			}
			s.seen[doc] = struct{}{}
			s.result = append(s.result, doc)
		}
	}

	// the children of the last admissible depth can not contribute
	if depth-len(s.query) == s.overhead || len(v.Children) == 0 {
		return nil
	}

	children, err := s.store.Vertices(v.Children)
	if err != nil {
		return fmt.Errorf("error loading children of %s: %w", v.ID, err)
	}

	for _, child := range children {
		if depth < len(s.query) && child.Hash != s.query[depth] {
			continue
		}
		if err := s.walk(child, depth+1); err != nil {
			return err
		}
	}
	return nil
}
