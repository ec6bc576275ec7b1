package types

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	// HashSize is the size of a single path label in bytes.
	HashSize = 32
	// MaxPathLength is the maximum number of labels in a Path.
	MaxPathLength = 32
)

var ErrInvalidPath = errors.New("invalid path")

// Hash is a single opaque label of a Path. Hashes are only ever compared for equality.
type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h *Hash) HashFromBytes(b []byte) error {
	if len(b) != HashSize {
		return fmt.Errorf("invalid byte length for Hash: %d", len(b))
	}
	copy(h[:], b)
	return nil
}

// Path is an ordered sequence of 1 to MaxPathLength hashes.
type Path []Hash

// DecodePath decodes a standard base64 encoded path and validates its length.
func DecodePath(encoded string) (Path, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return PathFromBytes(raw)
}

// PathFromBytes splits raw into labels. The length of raw must be a multiple of HashSize
// between HashSize and HashSize*MaxPathLength.
func PathFromBytes(raw []byte) (Path, error) {
	if len(raw) < HashSize || len(raw) > HashSize*MaxPathLength {
		return nil, fmt.Errorf("%w: length %d out of range", ErrInvalidPath, len(raw))
	}
	if len(raw)%HashSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d", ErrInvalidPath, len(raw), HashSize)
	}

	path := make(Path, len(raw)/HashSize)
	for i := range path {
		copy(path[i][:], raw[i*HashSize:(i+1)*HashSize])
	}
	return path, nil
}

func (p Path) Bytes() []byte {
	out := make([]byte, 0, len(p)*HashSize)
	for _, h := range p {
		out = append(out, h[:]...)
	}
	return out
}

// Encode is the inverse of DecodePath.
func (p Path) Encode() string {
	return base64.StdEncoding.EncodeToString(p.Bytes())
}

// HasPrefix reports whether prefix is a leading sequence of p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// ID identifies vertices and documents. IDs are assigned by the stores.
type ID = uuid.UUID

func NewID() ID {
	return uuid.New()
}

func IDFromBytes(b []byte) (ID, error) {
	return uuid.FromBytes(b)
}

func ParseID(s string) (ID, error) {
	return uuid.Parse(s)
}
