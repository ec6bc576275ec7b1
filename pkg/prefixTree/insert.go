package prefixTree

import (
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-pathindex/pkg/types"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// InsertError is returned by Insert when the store failed while the tree was
// being extended. Err is the store failure, RollbackErr holds every undo step
// that failed and is nil if the rollback went through.
type InsertError struct {
	Err         error
	RollbackErr error
	Mutation    Mutation
}

func (e *InsertError) Error() string {
	if e.RollbackErr != nil {
		return fmt.Sprintf("%v: %v (rollback incomplete: %v)", ErrInsertFailed, e.Err, e.RollbackErr)
	}
	return fmt.Sprintf("%v: %v", ErrInsertFailed, e.Err)
}

func (e *InsertError) Unwrap() error {
	return e.Err
}

func (e *InsertError) Is(target error) bool {
	return target == ErrInsertFailed
}

// maxRelinks bounds how often one insert continues below a vertex that a
// concurrent insert linked first.
const maxRelinks = 8

// Insert attaches document to the vertex at the end of path, reusing the
// longest prefix of path that already exists and creating the rest. On a store
// failure everything this call created or linked is undone before the error is
// returned, except vertices other inserts have built on meanwhile.
func (t *Tree) Insert(path types.Path, document types.ID) (Mutation, error) {
	if len(path) == 0 || len(path) > types.MaxPathLength {
		return Mutation{}, fmt.Errorf("%w: %d labels", types.ErrInvalidPath, len(path))
	}

	root, err := t.root()
	if err != nil {
		return Mutation{}, err
	}
	tail, cursor, err := t.descend(root, path, 0)
	if err != nil {
		return Mutation{}, err
	}

	var mut Mutation
	if err := t.attach(&mut, tail, path, cursor, document); err != nil {
		rollbackErr := t.rollback(mut)
		t.log.WithFields(logrus.Fields{
			"path":     path.Encode(),
			"document": document,
			"created":  len(mut.Created),
			"updates":  len(mut.Updates),
			"rollback": rollbackErr,
		}).Errorf("insert failed: %v", err)
		return Mutation{}, &InsertError{Err: err, RollbackErr: rollbackErr, Mutation: mut}
	}

	return mut, nil
}

// descend follows path from tail as far as matching children exist. cursor is
// the number of labels of path already matched.
func (t *Tree) descend(tail Vertex, path types.Path, cursor int) (Vertex, int, error) {
	for cursor < len(path) {
		next, found, err := t.matchChild(tail, path[cursor])
		if err != nil {
			return Vertex{}, 0, err
		}
		if !found {
			break
		}
		tail = next
		cursor++
	}
	return tail, cursor, nil
}

// attach adds document below tail, creating the missing part of path. When a
// concurrent insert links the same label first, attach drops its own vertex
// and continues below the other one.
func (t *Tree) attach(mut *Mutation, tail Vertex, path types.Path, cursor int, document types.ID) error {
	for relinks := 0; ; relinks++ {
		if cursor == len(path) {
			if err := t.store.AppendDocument(tail.ID, document); err != nil {
				return fmt.Errorf("error appending document to %s: %w", tail.ID, err)
			}
			mut.Updates = append(mut.Updates, Update{Kind: DocumentAppended, Vertex: tail.ID, Ref: document})
			return nil
		}

		parent, depth, err := t.extend(mut, tail.ID, path, cursor, document)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrSiblingExists) || relinks == maxRelinks {
			return err
		}

		t.log.WithFields(logrus.Fields{
			"parent": parent,
			"depth":  depth + 1,
		}).Debug("label linked concurrently, continuing below it")

		tail, err = t.store.Vertex(parent)
		if err != nil {
			return fmt.Errorf("error reloading %s: %w", parent, err)
		}
		tail, cursor, err = t.descend(tail, path, depth)
		if err != nil {
			return err
		}
	}
}

// matchChild finds the child of v labelled hash. The first child in stored
// order wins; further matches violate sibling uniqueness.
func (t *Tree) matchChild(v Vertex, hash types.Hash) (Vertex, bool, error) {
	if len(v.Children) == 0 {
		return Vertex{}, false, nil
	}

	children, err := t.store.Vertices(v.Children)
	if err != nil {
		return Vertex{}, false, fmt.Errorf("error loading children of %s: %w", v.ID, err)
	}

	var match Vertex
	found := false
	for _, child := range children {
		if child.Hash != hash {
			continue
		}
		if !found {
			match = child
			found = true
			continue
		}

		if t.strict {
			return Vertex{}, false, fmt.Errorf("%w: %s under %s (%s, %s)", ErrDuplicateSibling, hash, v.ID, match.ID, child.ID)
		}
		t.log.WithFields(logrus.Fields{
			"parent": v.ID,
			"label":  hash.String(),
			"kept":   match.ID,
			"ignore": child.ID,
		}).Error("duplicate sibling label")
	}

	return match, found, nil
}

// extend creates path[cursor:] below parent. On failure it returns the
// parent and cursor of the step that failed.
func (t *Tree) extend(mut *Mutation, parent types.ID, path types.Path, cursor int, document types.ID) (types.ID, int, error) {
	for ; cursor < len(path); cursor++ {
		var documents []types.ID
		if cursor == len(path)-1 {
			documents = []types.ID{document}
		}

		child, err := t.store.CreateVertex(path[cursor], documents)
		if err != nil {
			return parent, cursor, fmt.Errorf("error creating vertex at depth %d: %w", cursor+1, err)
		}
		mut.Created = append(mut.Created, child)

		if err := t.store.AppendChild(parent, child); err != nil {
			if errors.Is(err, ErrSiblingExists) {
				// child was never reachable
				if delErr := t.store.DeleteVertex(child); delErr != nil {
					return parent, cursor, fmt.Errorf("error discarding %s: %w", child, delErr)
				}
				mut.Created = mut.Created[:len(mut.Created)-1]
			}
			return parent, cursor, fmt.Errorf("error linking %s to %s: %w", child, parent, err)
		}
		mut.Updates = append(mut.Updates, Update{Kind: ChildAppended, Vertex: parent, Ref: child})

		parent = child
	}
	return parent, cursor, nil
}

// rollback undoes mut in reverse order. Links are removed newest first, which
// also deletes the unlinked vertex. A vertex another insert has built on in
// the meantime is kept along with everything above it, and reported. A failed
// step does not stop the remaining ones.
func (t *Tree) rollback(mut Mutation) error {
	var errs error

	linked := make(map[types.ID]bool, len(mut.Updates))
	for i := len(mut.Updates) - 1; i >= 0; i-- {
		u := mut.Updates[i]
		if u.Kind != ChildAppended {
			continue
		}
		linked[u.Ref] = true
		err := t.store.RemoveChild(u.Vertex, u.Ref)
		switch {
		case err == nil, errors.Is(err, ErrVertexNotFound):
		case errors.Is(err, ErrVertexInUse):
			t.log.WithFields(logrus.Fields{
				"parent": u.Vertex,
				"vertex": u.Ref,
			}).Warn("rollback keeps a vertex another insert built on")
			errs = multierr.Append(errs, fmt.Errorf("keep %s under %s: %w", u.Ref, u.Vertex, err))
		default:
			errs = multierr.Append(errs, fmt.Errorf("remove child %s from %s: %w", u.Ref, u.Vertex, err))
		}
	}

	for i := len(mut.Created) - 1; i >= 0; i-- {
		id := mut.Created[i]
		if linked[id] {
			continue
		}
		if err := t.store.DeleteVertex(id); err != nil && !errors.Is(err, ErrVertexNotFound) {
			errs = multierr.Append(errs, fmt.Errorf("delete vertex %s: %w", id, err))
		}
	}

	return errs
}
