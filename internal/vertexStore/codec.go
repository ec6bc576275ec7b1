package vertexStore

import (
	"fmt"

	"github.com/i5heu/ouroboros-pathindex/pkg/prefixTree"
	"github.com/i5heu/ouroboros-pathindex/pkg/types"
	"google.golang.org/protobuf/encoding/protowire"
)

// Vertex record fields. Field numbers are part of the on-disk format.
const (
	fieldHash     protowire.Number = 1
	fieldChild    protowire.Number = 2
	fieldDocument protowire.Number = 3
)

func encodeVertex(v prefixTree.Vertex) []byte {
	size := (len(v.Children) + len(v.Documents)) * (2 + 16)
	if v.HasHash {
		size += 2 + types.HashSize
	}
	b := make([]byte, 0, size)

	if v.HasHash {
		b = protowire.AppendTag(b, fieldHash, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Hash[:])
	}
	for _, c := range v.Children {
		b = protowire.AppendTag(b, fieldChild, protowire.BytesType)
		b = protowire.AppendBytes(b, c[:])
	}
	for _, d := range v.Documents {
		b = protowire.AppendTag(b, fieldDocument, protowire.BytesType)
		b = protowire.AppendBytes(b, d[:])
	}
	return b
}

func decodeVertex(id types.ID, b []byte) (prefixTree.Vertex, error) {
	v := prefixTree.Vertex{ID: id}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return prefixTree.Vertex{}, fmt.Errorf("vertex %s: %w", id, protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return prefixTree.Vertex{}, fmt.Errorf("vertex %s: %w", id, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		value, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return prefixTree.Vertex{}, fmt.Errorf("vertex %s: %w", id, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldHash:
			if err := v.Hash.HashFromBytes(value); err != nil {
				return prefixTree.Vertex{}, fmt.Errorf("vertex %s: %w", id, err)
			}
			v.HasHash = true
		case fieldChild:
			child, err := types.IDFromBytes(value)
			if err != nil {
				return prefixTree.Vertex{}, fmt.Errorf("vertex %s child: %w", id, err)
			}
			v.Children = append(v.Children, child)
		case fieldDocument:
			doc, err := types.IDFromBytes(value)
			if err != nil {
				return prefixTree.Vertex{}, fmt.Errorf("vertex %s document: %w", id, err)
			}
			v.Documents = append(v.Documents, doc)
		}
	}

	return v, nil
}
