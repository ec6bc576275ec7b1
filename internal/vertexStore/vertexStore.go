// Package vertexStore keeps prefix tree vertices in badger.
//
// Every vertex is one record under "v/<id>". For each linked child an edge
// record "e/<parent><label>" points to the child, which lets AppendChild
// refuse a second child with the same label inside the same transaction.
package vertexStore

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/ristretto"
	"github.com/i5heu/ouroboros-pathindex/internal/keyValStore"
	"github.com/i5heu/ouroboros-pathindex/pkg/prefixTree"
	"github.com/i5heu/ouroboros-pathindex/pkg/types"
	"github.com/sirupsen/logrus"
)

var ErrSiblingExists = prefixTree.ErrSiblingExists

var (
	vertexPrefix = []byte("v/")
	edgePrefix   = []byte("e/")
)

const (
	defaultCacheSize = 100_000
	defaultCacheTTL  = 2 * time.Second
)

type Config struct {
	KV     *keyValStore.KeyValStore
	Logger *logrus.Logger
	// CacheSize is the maximum number of cached vertices.
	CacheSize int64
	// CacheTTL bounds how long a cached vertex is served.
	CacheTTL     time.Duration
	DisableCache bool
}

type Store struct {
	kv    *keyValStore.KeyValStore
	log   *logrus.Logger
	cache *ristretto.Cache
	ttl   time.Duration

	// epoch counts invalidations. A vertex read before an invalidation is
	// not cached after it.
	cacheMu sync.Mutex
	epoch   uint64
}

var _ prefixTree.VertexStore = (*Store)(nil)

func New(config Config) (*Store, error) {
	if config.KV == nil {
		return nil, errors.New("vertex store needs a key value store")
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.CacheSize <= 0 {
		config.CacheSize = defaultCacheSize
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaultCacheTTL
	}

	s := &Store{
		kv:  config.KV,
		log: config.Logger,
		ttl: config.CacheTTL,
	}

	if !config.DisableCache {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: config.CacheSize * 10,
			MaxCost:     config.CacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating vertex cache: %w", err)
		}
		s.cache = cache
	}

	return s, nil
}

func (s *Store) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

func vertexKey(id types.ID) []byte {
	key := make([]byte, 0, len(vertexPrefix)+len(id))
	key = append(key, vertexPrefix...)
	return append(key, id[:]...)
}

func edgeKey(parent types.ID, hash types.Hash) []byte {
	key := make([]byte, 0, len(edgePrefix)+len(parent)+len(hash))
	key = append(key, edgePrefix...)
	key = append(key, parent[:]...)
	return append(key, hash[:]...)
}

// CreateRoot stores a vertex without a label. It is a setup operation, the
// tree itself never creates roots.
func (s *Store) CreateRoot() (types.ID, error) {
	id := types.NewID()
	err := s.kv.Update(func(txn *badger.Txn) error {
		return txn.Set(vertexKey(id), encodeVertex(prefixTree.Vertex{ID: id}))
	})
	if err != nil {
		return types.ID{}, fmt.Errorf("error creating root: %w", err)
	}
	s.log.WithField("root", id).Info("created prefix tree root")
	return id, nil
}

func (s *Store) Vertex(id types.ID) (prefixTree.Vertex, error) {
	if v, ok := s.cached(id); ok {
		return v, nil
	}

	epoch := s.currentEpoch()
	var v prefixTree.Vertex
	err := s.kv.View(func(txn *badger.Txn) error {
		var err error
		v, err = getVertex(txn, id)
		return err
	})
	if err != nil {
		return prefixTree.Vertex{}, err
	}

	s.remember(epoch, v)
	return v, nil
}

func (s *Store) Vertices(ids []types.ID) ([]prefixTree.Vertex, error) {
	out := make([]prefixTree.Vertex, 0, len(ids))
	missing := make(map[int]types.ID)
	resolved := make([]prefixTree.Vertex, len(ids))
	found := make([]bool, len(ids))

	for i, id := range ids {
		if v, ok := s.cached(id); ok {
			resolved[i] = v
			found[i] = true
			continue
		}
		missing[i] = id
	}

	if len(missing) > 0 {
		epoch := s.currentEpoch()
		err := s.kv.View(func(txn *badger.Txn) error {
			for i, id := range missing {
				v, err := getVertex(txn, id)
				if errors.Is(err, prefixTree.ErrVertexNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				resolved[i] = v
				found[i] = true
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		for i := range missing {
			if found[i] {
				s.remember(epoch, resolved[i])
			}
		}
	}

	for i := range ids {
		if found[i] {
			out = append(out, resolved[i])
		}
	}
	return out, nil
}

func (s *Store) CreateVertex(hash types.Hash, documents []types.ID) (types.ID, error) {
	id := types.NewID()
	v := prefixTree.Vertex{
		ID:        id,
		Hash:      hash,
		HasHash:   true,
		Documents: documents,
	}

	err := s.kv.Update(func(txn *badger.Txn) error {
		return txn.Set(vertexKey(id), encodeVertex(v))
	})
	if err != nil {
		return types.ID{}, fmt.Errorf("error creating vertex: %w", err)
	}
	return id, nil
}

// AppendChild links child under parent and fails with ErrSiblingExists if
// parent already has another child with the label of child.
func (s *Store) AppendChild(parent, child types.ID) error {
	err := s.kv.Update(func(txn *badger.Txn) error {
		p, err := getVertex(txn, parent)
		if err != nil {
			return err
		}
		c, err := getVertex(txn, child)
		if err != nil {
			return err
		}

		edge := edgeKey(parent, c.Hash)
		item, err := txn.Get(edge)
		switch {
		case err == nil:
			existing, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if bytes.Equal(existing, child[:]) {
				return nil
			}
			return fmt.Errorf("%w: %s under %s", ErrSiblingExists, c.Hash, parent)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		p.Children = append(p.Children, child)
		if err := txn.Set(vertexKey(parent), encodeVertex(p)); err != nil {
			return err
		}
		return txn.Set(edge, child[:])
	})
	// a refused link means the cached parent missed a sibling, drop it either way
	s.InvalidateCache(parent)
	if err != nil {
		return fmt.Errorf("error appending child %s to %s: %w", child, parent, err)
	}
	return nil
}

func (s *Store) AppendDocument(vertex, document types.ID) error {
	err := s.kv.Update(func(txn *badger.Txn) error {
		v, err := getVertex(txn, vertex)
		if err != nil {
			return err
		}
		v.Documents = append(v.Documents, document)
		return txn.Set(vertexKey(vertex), encodeVertex(v))
	})
	if err != nil {
		return fmt.Errorf("error appending document %s to %s: %w", document, vertex, err)
	}

	s.InvalidateCache(vertex)
	return nil
}

// RemoveChild unlinks child and deletes it in one transaction. Since the
// transaction reads and writes the child record, it conflicts with any
// concurrent AppendChild or AppendDocument on child.
func (s *Store) RemoveChild(parent, child types.ID) error {
	err := s.kv.Update(func(txn *badger.Txn) error {
		p, err := getVertex(txn, parent)
		if err != nil {
			return err
		}

		c, err := getVertex(txn, child)
		switch {
		case errors.Is(err, prefixTree.ErrVertexNotFound):
		case err != nil:
			return err
		case len(c.Children) > 0 || len(c.Documents) > 0:
			return fmt.Errorf("%w: %s has %d children and %d documents", prefixTree.ErrVertexInUse, child, len(c.Children), len(c.Documents))
		default:
			if err := txn.Delete(vertexKey(child)); err != nil {
				return err
			}
			if err := deleteEdge(txn, parent, c.Hash, child); err != nil {
				return err
			}
		}

		kept := p.Children[:0]
		for _, id := range p.Children {
			if id != child {
				kept = append(kept, id)
			}
		}
		p.Children = kept
		return txn.Set(vertexKey(parent), encodeVertex(p))
	})
	if err != nil {
		return fmt.Errorf("error removing child %s from %s: %w", child, parent, err)
	}

	s.InvalidateCache(parent, child)
	return nil
}

// deleteEdge removes the label edge of parent if it points to child.
func deleteEdge(txn *badger.Txn, parent types.ID, hash types.Hash, child types.ID) error {
	edge := edgeKey(parent, hash)
	item, err := txn.Get(edge)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	existing, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	if !bytes.Equal(existing, child[:]) {
		return nil
	}
	return txn.Delete(edge)
}

func (s *Store) DeleteVertex(id types.ID) error {
	err := s.kv.Update(func(txn *badger.Txn) error {
		return txn.Delete(vertexKey(id))
	})
	if err != nil {
		return fmt.Errorf("error deleting vertex %s: %w", id, err)
	}

	s.InvalidateCache(id)
	return nil
}

// InvalidateCache drops cached copies of the given vertices. Mutating methods
// call it after their transaction committed.
func (s *Store) InvalidateCache(ids ...types.ID) {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	s.epoch++
	for _, id := range ids {
		s.cache.Del(string(id[:]))
	}
	s.cacheMu.Unlock()
	s.cache.Wait()
}

// Count returns the number of stored vertices, the root included.
func (s *Store) Count() (int, error) {
	return s.kv.CountKeysWithPrefix(vertexPrefix)
}

func (s *Store) cached(id types.ID) (prefixTree.Vertex, bool) {
	if s.cache == nil {
		return prefixTree.Vertex{}, false
	}
	value, ok := s.cache.Get(string(id[:]))
	if !ok {
		return prefixTree.Vertex{}, false
	}
	return value.(prefixTree.Vertex).Clone(), true
}

func (s *Store) currentEpoch() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.epoch
}

func (s *Store) remember(epoch uint64, v prefixTree.Vertex) {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.epoch != epoch {
		return
	}
	s.cache.SetWithTTL(string(v.ID[:]), v.Clone(), 1, s.ttl)
}

func getVertex(txn *badger.Txn, id types.ID) (prefixTree.Vertex, error) {
	item, err := txn.Get(vertexKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return prefixTree.Vertex{}, fmt.Errorf("%w: %s", prefixTree.ErrVertexNotFound, id)
	}
	if err != nil {
		return prefixTree.Vertex{}, err
	}

	var v prefixTree.Vertex
	err = item.Value(func(val []byte) error {
		var decodeErr error
		v, decodeErr = decodeVertex(id, val)
		return decodeErr
	})
	return v, err
}
