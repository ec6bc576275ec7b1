package apiServer

import (
	"context"
	"net/http"

	pathindex "github.com/i5heu/ouroboros-pathindex"
	"github.com/i5heu/ouroboros-pathindex/pkg/types"
)

// Index is what the server needs from a *pathindex.PathIndex.
type Index interface {
	Store(ctx context.Context, path types.Path, data []byte) (pathindex.StoreResult, error)
	Search(ctx context.Context, query types.Path, maxDepthOverhead int) ([]pathindex.Document, error)
}

type AuthFunc func(req *http.Request) error

type Option func(*Server)

type createRequest struct {
	Path     string `json:"path"`
	Document string `json:"document"`
}

type createResponse struct {
	ID string `json:"id"`
}

type documentResponse struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
}
