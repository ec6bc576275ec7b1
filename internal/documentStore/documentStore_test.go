package documentStore

import (
	"bytes"
	"io"
	"testing"

	"github.com/i5heu/ouroboros-pathindex/internal/keyValStore"
	"github.com/i5heu/ouroboros-pathindex/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{InMemory: true, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return New(kv, logger)
}

func TestCreateGetDelete(t *testing.T) {
	s := newTestStore(t)

	payload := bytes.Repeat([]byte("flight log "), 200)
	id, err := s.Create(payload)
	require.NoError(t, err)

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.Delete(id))
	_, err = s.Get(id)
	require.ErrorIs(t, err, ErrDocumentNotFound)

	count, err = s.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCreate_EmptyPayload(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Create(nil)
	require.NoError(t, err)

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetMany_SkipsMissing(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Create([]byte("a"))
	require.NoError(t, err)
	b, err := s.Create([]byte("b"))
	require.NoError(t, err)

	docs, err := s.GetMany([]types.ID{b, types.NewID(), a})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, Document{ID: b, Data: []byte("b")}, docs[0])
	assert.Equal(t, Document{ID: a, Data: []byte("a")}, docs[1])
}
