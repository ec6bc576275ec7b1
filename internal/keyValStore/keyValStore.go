package keyValStore

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v4"
	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

var ErrKeyNotFound = errors.New("key not found")

const maxConflictRetries = 16

type StoreConfig struct {
	Paths            []string // absolute path at the moment only first path is supported
	MinimumFreeSpace uint     // in GB
	InMemory         bool     // ignores Paths, nothing is written to disk
	Logger           *logrus.Logger
}

type KeyValStore struct {
	config       StoreConfig
	log          *logrus.Logger
	badgerDB     *badger.DB
	readCounter  uint64
	writeCounter uint64
}

func NewKeyValStore(config StoreConfig) (*KeyValStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	err := config.checkConfig()
	if err != nil {
		return nil, fmt.Errorf("error checking config for KeyValStore: %w", err)
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(config.Paths[0])
		opts.ValueLogFileSize = 1024 * 1024 * 100 // Set max size of each value log file to 100MB
	}
	opts.Logger = nil
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger: %w", err)
	}

	k := &KeyValStore{
		config:   config,
		log:      config.Logger,
		badgerDB: db,
	}

	if !config.InMemory {
		k.logDiskUsage()
	}

	return k, nil
}

// View runs fn in a read only transaction.
func (k *KeyValStore) View(fn func(txn *badger.Txn) error) error {
	atomic.AddUint64(&k.readCounter, 1)
	return k.badgerDB.View(fn)
}

// Update runs fn in a read-write transaction. Transactions that lose a
// conflict are run again with exponential backoff, so fn must not have side
// effects outside of txn.
func (k *KeyValStore) Update(fn func(txn *badger.Txn) error) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Millisecond),
		backoff.WithMaxInterval(50*time.Millisecond),
	), maxConflictRetries)

	return backoff.Retry(func() error {
		atomic.AddUint64(&k.writeCounter, 1)
		err := k.badgerDB.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			k.log.Debug("transaction conflict, retrying")
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, policy)
}

func (k *KeyValStore) Write(key []byte, content []byte) error {
	return k.Update(func(txn *badger.Txn) error {
		return txn.Set(key, content)
	})
}

func (k *KeyValStore) Delete(key []byte) error {
	return k.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (k *KeyValStore) Read(key []byte) ([]byte, error) {
	var value []byte
	err := k.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %x", ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading key %x: %w", key, err)
	}
	return value, nil
}

func (k *KeyValStore) BatchCheckKeyExistence(keys [][]byte) (map[string]bool, error) {
	existsMap := make(map[string]bool)

	err := k.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			_, err := txn.Get(key)
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					existsMap[string(key)] = false
				} else {
					return err // return an error for issues other than "key not found"
				}
			} else {
				existsMap[string(key)] = true
			}
		}
		return nil
	})

	return existsMap, err
}

// CountKeysWithPrefix counts keys without fetching their values.
func (k *KeyValStore) CountKeysWithPrefix(prefix []byte) (int, error) {
	count := 0
	err := k.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("error counting keys with prefix %x: %w", prefix, err)
	}
	return count, nil
}

// Stats returns the number of read and write transactions since the last call.
func (k *KeyValStore) Stats() (reads, writes uint64) {
	return atomic.SwapUint64(&k.readCounter, 0), atomic.SwapUint64(&k.writeCounter, 0)
}

// StartGarbageCollection runs Clean every interval until ctx is done.
func (k *KeyValStore) StartGarbageCollection(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reads, writes := k.Stats()
				if err := k.Clean(); err != nil {
					k.log.WithError(err).Error("garbage collection failed")
					continue
				}
				k.log.WithFields(logrus.Fields{
					"reads":  reads,
					"writes": writes,
				}).Debug("garbage collection done")
			}
		}
	}()
}

func (k *KeyValStore) Close() error {
	if err := k.Clean(); err != nil {
		k.log.WithError(err).Warn("clean before close failed")
	}
	return k.badgerDB.Close()
}

func (k *KeyValStore) Clean() error {
	if k.config.InMemory {
		return nil
	}

	err := k.badgerDB.Sync()
	if err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	// flatten the db
	err = k.badgerDB.Flatten(runtime.NumCPU()) // The parameter is the number of concurrent compactions
	if err != nil {
		return fmt.Errorf("error flattening db: %w", err)
	}

	err = k.badgerDB.RunValueLogGC(0.1)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("error cleaning db: %w", err)
	}

	return nil
}

func (k *KeyValStore) logDiskUsage() {
	for _, path := range k.config.Paths {
		usage, err := disk.Usage(path)
		if err != nil {
			k.log.WithField("path", path).Errorf("Error retrieving disk usage stats: %v", err)
			continue
		}

		k.log.WithFields(logrus.Fields{
			"Path":       path,
			"Filesystem": usage.Fstype,
			"Total (GB)": fmt.Sprintf("%.2f", float64(usage.Total)/1e9),
			"Used (GB)":  fmt.Sprintf("%.2f", float64(usage.Used)/1e9),
			"Free (GB)":  fmt.Sprintf("%.2f", float64(usage.Free)/1e9),
		}).Info("Disk Usage")
	}
}
