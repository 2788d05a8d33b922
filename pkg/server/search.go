package server

import (
	"net/http"
	"strconv"

	"github.com/wharf-registry/wharf/pkg/api"
)

const (
	defaultPerPage = 10
	maxPerPage     = 100
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, api.ErrBadRequest("missing search query"))
		return
	}

	perPage := defaultPerPage
	if raw := r.URL.Query().Get("per_page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, api.ErrBadRequest("per_page must be a positive integer"))
			return
		}
		perPage = min(parsed, maxPerPage)
	}

	results, err := s.index.Search(r.Context(), query, perPage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleListAll dumps package summaries, paginated, for building a
// search corpus outside the registry.
func (s *Server) handleListAll(w http.ResponseWriter, r *http.Request) {
	perPage, page := 0, 0
	if raw := r.URL.Query().Get("per_page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, api.ErrBadRequest("per_page must be a positive integer"))
			return
		}
		perPage = min(parsed, maxPerPage)
		page = 1
	}
	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, api.ErrBadRequest("page must be a positive integer"))
			return
		}
		page = parsed
		if perPage == 0 {
			perPage = defaultPerPage
		}
	}

	summaries, err := s.index.ListAll(r.Context(), perPage, page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}
