// Package documentStore keeps opaque document payloads in badger, compressed
// with lzma. The prefix tree only ever sees the IDs handed out here.
package documentStore

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/i5heu/ouroboros-pathindex/internal/keyValStore"
	"github.com/i5heu/ouroboros-pathindex/pkg/types"
	"github.com/sirupsen/logrus"
)

var ErrDocumentNotFound = errors.New("document not found")

var documentPrefix = []byte("d/")

type Document struct {
	ID   types.ID
	Data []byte
}

type Store struct {
	kv  *keyValStore.KeyValStore
	log *logrus.Logger
}

func New(kv *keyValStore.KeyValStore, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{kv: kv, log: logger}
}

func documentKey(id types.ID) []byte {
	key := make([]byte, 0, len(documentPrefix)+len(id))
	key = append(key, documentPrefix...)
	return append(key, id[:]...)
}

func (s *Store) Create(data []byte) (types.ID, error) {
	compressed, err := compressWithLzma(data)
	if err != nil {
		return types.ID{}, fmt.Errorf("error compressing document: %w", err)
	}

	id := types.NewID()
	if err := s.kv.Write(documentKey(id), compressed); err != nil {
		return types.ID{}, fmt.Errorf("error writing document %s: %w", id, err)
	}

	s.log.WithFields(logrus.Fields{
		"document":   id,
		"size":       len(data),
		"compressed": len(compressed),
	}).Debug("stored document")
	return id, nil
}

func (s *Store) Get(id types.ID) ([]byte, error) {
	compressed, err := s.kv.Read(documentKey(id))
	if errors.Is(err, keyValStore.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	data, err := decompressWithLzma(compressed)
	if err != nil {
		return nil, fmt.Errorf("error decompressing document %s: %w", id, err)
	}
	return data, nil
}

// GetMany resolves ids in order within one transaction. Unknown ids are skipped.
func (s *Store) GetMany(ids []types.ID) ([]Document, error) {
	out := make([]Document, 0, len(ids))
	err := s.kv.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get(documentKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				s.log.WithField("document", id).Warn("document referenced by the tree is missing")
				continue
			}
			if err != nil {
				return err
			}
			compressed, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			data, err := decompressWithLzma(compressed)
			if err != nil {
				return fmt.Errorf("error decompressing document %s: %w", id, err)
			}
			out = append(out, Document{ID: id, Data: data})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Delete(id types.ID) error {
	if err := s.kv.Delete(documentKey(id)); err != nil {
		return fmt.Errorf("error deleting document %s: %w", id, err)
	}
	return nil
}

func (s *Store) Count() (int, error) {
	return s.kv.CountKeysWithPrefix(documentPrefix)
}
