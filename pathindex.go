// Package pathindex stores documents under paths of 32 byte hash labels and
// finds them again by path prefix.
//
// A document is written to the document store first and then linked into the
// prefix tree. If linking fails the document is deleted again, so the two
// stores only diverge when that compensation fails too.
package pathindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/i5heu/ouroboros-pathindex/internal/documentStore"
	"github.com/i5heu/ouroboros-pathindex/internal/keyValStore"
	"github.com/i5heu/ouroboros-pathindex/internal/vertexStore"
	"github.com/i5heu/ouroboros-pathindex/pkg/prefixTree"
	"github.com/i5heu/ouroboros-pathindex/pkg/types"
	workerpool "github.com/i5heu/ouroboros-pathindex/pkg/workerPool"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

var (
	ErrNotStarted = errors.New("pathindex: not started")
	ErrClosed     = errors.New("pathindex: closed")
	ErrNoRoot     = errors.New("pathindex: no root configured")
)

const maxSiblingRetries = 4

type Document = documentStore.Document

// documentStorage is the part of the document store the saga needs.
type documentStorage interface {
	Create(data []byte) (types.ID, error)
	GetMany(ids []types.ID) ([]Document, error)
	Delete(id types.ID) error
	Count() (int, error)
}

// StoreResult describes a successful Store.
type StoreResult struct {
	Document types.ID
	Mutation prefixTree.Mutation
}

// StoreError is returned when a document was written but could not be
// linked into the tree. Err is the tree failure. CompensationErr is set when
// the document could not be deleted afterwards and is orphaned.
type StoreError struct {
	Document        types.ID
	Err             error
	CompensationErr error
}

func (e *StoreError) Error() string {
	if e.CompensationErr != nil {
		return fmt.Sprintf("pathindex: store %s failed: %v (document orphaned: %v)", e.Document, e.Err, e.CompensationErr)
	}
	return fmt.Sprintf("pathindex: store %s failed: %v", e.Document, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Orphaned() bool {
	return e.CompensationErr != nil
}

type PathIndex struct {
	log    *logrus.Logger
	config Config

	treeKV    *keyValStore.KeyValStore
	docKV     *keyValStore.KeyValStore
	vertices  *vertexStore.Store
	documents documentStorage
	tree      *prefixTree.Tree
	pool      *workerpool.WorkerPool

	stopGC context.CancelFunc
	// opMu is held shared by operations and exclusively by Close.
	opMu      sync.RWMutex
	started   atomic.Bool
	closed    atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

// New constructs a PathIndex. New does no I/O; call Start.
func New(conf Config) (*PathIndex, error) {
	if len(conf.Paths) == 0 && !conf.InMemory {
		return nil, fmt.Errorf("at least one path must be provided in config")
	}
	if conf.RootID == uuid.Nil && !conf.CreateRoot {
		return nil, ErrNoRoot
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	return &PathIndex{
		log:    conf.Logger,
		config: conf,
	}, nil
}

// Start opens both stores and resolves the root. Only the first call has
// an effect. Start after Close returns ErrClosed.
func (pi *PathIndex) Start(ctx context.Context) error {
	pi.opMu.Lock()
	defer pi.opMu.Unlock()
	if pi.closed.Load() {
		return ErrClosed
	}
	var startErr error
	pi.startOnce.Do(func() {
		startErr = pi.start(ctx)
		if startErr != nil {
			pi.closeStores()
			return
		}
		pi.started.Store(true)
	})
	return startErr
}

func (pi *PathIndex) start(ctx context.Context) error {
	var err error
	pi.treeKV, err = pi.openKV("tree")
	if err != nil {
		return err
	}
	pi.docKV, err = pi.openKV("documents")
	if err != nil {
		return err
	}

	pi.vertices, err = vertexStore.New(vertexStore.Config{KV: pi.treeKV, Logger: pi.log})
	if err != nil {
		return fmt.Errorf("init vertex store: %w", err)
	}
	pi.documents = documentStore.New(pi.docKV, pi.log)

	rootID := pi.config.RootID
	if rootID == uuid.Nil {
		rootID, err = pi.vertices.CreateRoot()
		if err != nil {
			return err
		}
		pi.log.WithField("root", rootID).Warn("created a new root, configure it as rootID to keep it")
	}

	opts := []prefixTree.Option{prefixTree.WithLogger(pi.log)}
	if pi.config.StrictSiblings {
		opts = append(opts, prefixTree.WithStrictSiblings())
	}
	pi.tree, err = prefixTree.New(pi.vertices, rootID, opts...)
	if err != nil {
		return err
	}

	pi.pool = workerpool.NewWorkerPool(workerpool.Config{WorkerCount: pi.config.BatchWorkers})

	gcCtx, cancel := context.WithCancel(context.Background())
	pi.stopGC = cancel
	pi.treeKV.StartGarbageCollection(gcCtx, pi.config.GCInterval)
	pi.docKV.StartGarbageCollection(gcCtx, pi.config.GCInterval)

	pi.log.WithFields(logrus.Fields{
		"root":     rootID,
		"inMemory": pi.config.InMemory,
	}).Info("PathIndex started")
	return ctx.Err()
}

func (pi *PathIndex) openKV(name string) (*keyValStore.KeyValStore, error) {
	conf := keyValStore.StoreConfig{
		MinimumFreeSpace: pi.config.MinimumFreeGB,
		InMemory:         pi.config.InMemory,
		Logger:           pi.log,
	}
	if !pi.config.InMemory {
		dir := filepath.Join(pi.config.Paths[0], name)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
		conf.Paths = []string{dir}
	}

	kv, err := keyValStore.NewKeyValStore(conf)
	if err != nil {
		return nil, fmt.Errorf("init %s store: %w", name, err)
	}
	return kv, nil
}

// Run starts the index, blocks until ctx is canceled and closes it.
func (pi *PathIndex) Run(ctx context.Context) error {
	if err := pi.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return pi.Close()
}

// Close releases both stores. It is idempotent.
func (pi *PathIndex) Close() error {
	var closeErr error
	pi.closeOnce.Do(func() {
		pi.opMu.Lock()
		defer pi.opMu.Unlock()
		pi.closed.Store(true)
		closeErr = pi.closeStores()
		pi.log.Info("PathIndex closed")
	})
	return closeErr
}

func (pi *PathIndex) closeStores() error {
	var closeErr error
	if pi.stopGC != nil {
		pi.stopGC()
		pi.stopGC = nil
	}
	if pi.pool != nil {
		pi.pool.Stop()
		pi.pool = nil
	}
	if pi.vertices != nil {
		pi.vertices.Close()
		pi.vertices = nil
	}
	if pi.treeKV != nil {
		if err := pi.treeKV.Close(); err != nil {
			closeErr = multierr.Append(closeErr, fmt.Errorf("close tree store: %w", err))
		}
		pi.treeKV = nil
	}
	if pi.docKV != nil {
		if err := pi.docKV.Close(); err != nil {
			closeErr = multierr.Append(closeErr, fmt.Errorf("close document store: %w", err))
		}
		pi.docKV = nil
	}
	return closeErr
}

// ready must be called with opMu held.
func (pi *PathIndex) ready() error {
	if pi.closed.Load() {
		return ErrClosed
	}
	if !pi.started.Load() {
		return ErrNotStarted
	}
	return nil
}

// RootID returns the root the tree is anchored at, or the zero ID before Start.
func (pi *PathIndex) RootID() types.ID {
	if pi.tree == nil {
		return uuid.Nil
	}
	return pi.tree.RootID()
}

// Store writes data to the document store and links it under path. When the
// tree insert fails the document is deleted again and a *StoreError reports
// both outcomes.
func (pi *PathIndex) Store(ctx context.Context, path types.Path, data []byte) (StoreResult, error) {
	if err := ctx.Err(); err != nil {
		return StoreResult{}, err
	}
	pi.opMu.RLock()
	defer pi.opMu.RUnlock()
	if err := pi.ready(); err != nil {
		return StoreResult{}, err
	}
	return pi.store(path, data)
}

func (pi *PathIndex) store(path types.Path, data []byte) (StoreResult, error) {
	docID, err := pi.documents.Create(data)
	if err != nil {
		return StoreResult{}, fmt.Errorf("create document: %w", err)
	}

	mut, err := pi.insert(path, docID)
	if err != nil {
		storeErr := &StoreError{Document: docID, Err: err}
		if delErr := pi.documents.Delete(docID); delErr != nil {
			storeErr.CompensationErr = delErr
			pi.log.WithFields(logrus.Fields{
				"document": docID,
				"error":    delErr,
			}).Error("could not delete document after failed insert, document is orphaned")
		}
		return StoreResult{}, storeErr
	}

	pi.log.WithFields(logrus.Fields{
		"document": docID,
		"depth":    len(path),
		"created":  len(mut.Created),
	}).Debug("stored document")

	return StoreResult{Document: docID, Mutation: mut}, nil
}

// insert retries an attempt that lost a race with a concurrent insert and was
// rolled back cleanly. The tree already continues below a sibling linked
// concurrently, so this only covers a vertex discarded while it was being
// extended or too many relinks in a row.
func (pi *PathIndex) insert(path types.Path, docID types.ID) (prefixTree.Mutation, error) {
	var (
		mut prefixTree.Mutation
		err error
	)
	for attempt := 0; attempt < maxSiblingRetries; attempt++ {
		mut, err = pi.tree.Insert(path, docID)
		var insertErr *prefixTree.InsertError
		if !errors.As(err, &insertErr) || insertErr.RollbackErr != nil || !lostRace(err) {
			return mut, err
		}
		pi.log.WithFields(logrus.Fields{
			"document": docID,
			"attempt":  attempt + 1,
		}).Debug("label linked concurrently, retrying insert")
	}
	return mut, err
}

func lostRace(err error) bool {
	return errors.Is(err, prefixTree.ErrSiblingExists) || errors.Is(err, prefixTree.ErrVertexNotFound)
}

// BatchItem is one document of a StoreBatch.
type BatchItem struct {
	Path types.Path
	Data []byte
}

// BatchResult is the outcome of the BatchItem at the same position.
type BatchResult struct {
	StoreResult
	Err error
}

// StoreBatch stores items concurrently on the worker pool. Every item is an
// independent Store; one failing item does not affect the others. Items not
// yet started when ctx is canceled fail with the context error.
func (pi *PathIndex) StoreBatch(ctx context.Context, items []BatchItem) ([]BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pi.opMu.RLock()
	defer pi.opMu.RUnlock()
	if err := pi.ready(); err != nil {
		return nil, err
	}

	type indexed struct {
		i      int
		result BatchResult
	}

	room := workerpool.CreateRoom[indexed](pi.pool, len(items))
	for i, item := range items {
		i, item := i, item
		err := room.NewTaskWaitForFreeSlot(func() indexed {
			if err := ctx.Err(); err != nil {
				return indexed{i: i, result: BatchResult{Err: err}}
			}
			res, err := pi.store(item.Path, item.Data)
			return indexed{i: i, result: BatchResult{StoreResult: res, Err: err}}
		})
		if err != nil {
			room.Collect()
			return nil, err
		}
	}

	results := make([]BatchResult, len(items))
	failed := 0
	for _, r := range room.Collect() {
		results[r.i] = r.result
		if r.result.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		pi.log.WithFields(logrus.Fields{
			"items":  len(items),
			"failed": failed,
		}).Warn("batch store finished with failures")
	}
	return results, nil
}

// SearchIDs returns the IDs of documents under query, see prefixTree.Tree.Search.
func (pi *PathIndex) SearchIDs(ctx context.Context, query types.Path, maxDepthOverhead int) ([]types.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pi.opMu.RLock()
	defer pi.opMu.RUnlock()
	if err := pi.ready(); err != nil {
		return nil, err
	}
	return pi.tree.Search(query, maxDepthOverhead)
}

// Search is SearchIDs with the document payloads resolved. Documents the
// document store does not know are left out.
func (pi *PathIndex) Search(ctx context.Context, query types.Path, maxDepthOverhead int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pi.opMu.RLock()
	defer pi.opMu.RUnlock()
	if err := pi.ready(); err != nil {
		return nil, err
	}

	ids, err := pi.tree.Search(query, maxDepthOverhead)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return pi.documents.GetMany(ids)
}

type Stats struct {
	Vertices  int
	Documents int
}

func (pi *PathIndex) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	pi.opMu.RLock()
	defer pi.opMu.RUnlock()
	if err := pi.ready(); err != nil {
		return Stats{}, err
	}

	vertices, err := pi.vertices.Count()
	if err != nil {
		return Stats{}, err
	}
	documents, err := pi.documents.Count()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Vertices: vertices, Documents: documents}, nil
}
