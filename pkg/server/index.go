package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wharf-registry/wharf/pkg/api"
	"github.com/wharf-registry/wharf/pkg/metrics"
)

func (s *Server) handleIndexConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.RegistryConfig{
		DL:           s.cfg.Service.DownloadEndpoint,
		API:          s.cfg.Service.APIEndpoint,
		AuthRequired: s.cfg.Service.AuthRequired,
	})
}

// handleSparseEntry streams the NDJSON sparse index file for one
// package. Cargo derives the directory prefix from the name; a request
// whose prefix does not match its own name is a 404, not a redirect.
func (s *Server) handleSparseEntry(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	want := "/index/" + api.IndexPath(name)
	if strings.ToLower(r.URL.Path) != want {
		writeError(w, api.ErrNotFound())
		return
	}

	entries, err := s.index.GetSparseEntry(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	enc := json.NewEncoder(w)
	for i := range entries {
		// Encode appends the newline, giving one entry per line.
		if err := enc.Encode(&entries[i]); err != nil {
			return
		}
	}
	metrics.SparseEntriesServed.Add(float64(len(entries)))
}
