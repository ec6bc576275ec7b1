// Package testutil holds helpers shared by the tests of this module.
package testutil

import (
	"flag"
	"io"
	"testing"

	"github.com/i5heu/ouroboros-pathindex/pkg/types"
	"github.com/sirupsen/logrus"
)

var RunLong = flag.Bool("long", false, "run long/heavy tests")

func RequireLong(t *testing.T) {
	t.Helper()
	if !*RunLong {
		t.Skip("skipping long test (use -long to enable)")
	}
}

func IsLongEnabled() bool {
	return *RunLong
}

// Logger returns a logger that discards everything.
func Logger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Label returns a hash with b in its first and last byte.
func Label(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	h[types.HashSize-1] = b
	return h
}

// Path builds a path of Label(b) for every b.
func Path(bs ...byte) types.Path {
	p := make(types.Path, len(bs))
	for i, b := range bs {
		p[i] = Label(b)
	}
	return p
}
