package apiServer

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	pathindex "github.com/i5heu/ouroboros-pathindex"
	"github.com/i5heu/ouroboros-pathindex/pkg/types"
	"github.com/sirupsen/logrus"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query, err := types.DecodePath(r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid query data")
		return
	}

	overhead := s.maxDepthOverhead
	if raw := r.URL.Query().Get("overhead"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusUnprocessableEntity, "invalid overhead")
			return
		}
		if n < overhead {
			overhead = n
		}
	}

	docs, err := s.index.Search(r.Context(), query, overhead)
	if err != nil {
		status := statusFor(err)
		s.log.WithError(err).WithField("depth", len(query)).Error("search failed")
		writeError(w, status, http.StatusText(status))
		return
	}

	s.metrics.searchResults.Observe(float64(len(docs)))
	if len(docs) == 0 {
		writeJSON(w, http.StatusNotFound, []documentResponse{})
		return
	}

	response := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		response = append(response, documentResponse{
			ID:   doc.ID.String(),
			Data: base64.StdEncoding.EncodeToString(doc.Data),
		})
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	path, err := types.DecodePath(req.Path)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid path data")
		return
	}

	document, err := base64.StdEncoding.DecodeString(req.Document)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid document data")
		return
	}

	result, err := s.index.Store(r.Context(), path, document)
	if err != nil {
		var storeErr *pathindex.StoreError
		orphaned := errors.As(err, &storeErr) && storeErr.Orphaned()
		s.metrics.storeFailures.WithLabelValues(strconv.FormatBool(orphaned)).Inc()
		s.metrics.observeInsertFailure(err)

		status := statusFor(err)
		s.log.WithFields(logrus.Fields{
			"path":     req.Path,
			"orphaned": orphaned,
		}).Errorf("failed to store document: %v", err)
		writeError(w, status, http.StatusText(status))
		return
	}

	s.metrics.stored.Inc()
	s.metrics.verticesCreated.Add(float64(len(result.Mutation.Created)))
	writeJSON(w, http.StatusCreated, createResponse{ID: result.Document.String()})
}

func statusFor(err error) int {
	if errors.Is(err, pathindex.ErrNotStarted) || errors.Is(err, pathindex.ErrClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
