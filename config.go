package pathindex

import (
	"time"

	"github.com/i5heu/ouroboros-pathindex/pkg/types"
	"github.com/sirupsen/logrus"
)

// Config configures a PathIndex. Only Paths[0] is used at the moment; the
// tree and the documents live in two badger databases below it.
type Config struct {
	// Paths contains data directories. Currently only Paths[0] is used.
	Paths []string
	// MinimumFreeGB is a free-space threshold checked on start.
	MinimumFreeGB uint
	// InMemory keeps both stores in memory and ignores Paths.
	InMemory bool

	// RootID is the prefix tree root. If it is the zero ID and CreateRoot is
	// set, Start creates a new root and logs its ID.
	RootID     types.ID
	CreateRoot bool
	// StrictSiblings turns duplicate sibling labels into insert errors.
	StrictSiblings bool

	// BatchWorkers is the worker pool size used by StoreBatch. Zero picks a
	// default based on the CPU count.
	BatchWorkers int

	// GCInterval is the value log GC period. Zero disables the GC.
	GCInterval time.Duration
	// Logger is an optional logger. If nil, a stderr logger is used.
	Logger *logrus.Logger
}

func defaultLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	return logger
}
