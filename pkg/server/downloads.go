package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleDownload serves a crate tarball. The index is consulted first so
// unknown versions 404 without touching object storage; yanked versions
// stay downloadable to honor existing lockfiles.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	version := chi.URLParam(r, "version")

	if _, err := s.index.ConfirmExistence(r.Context(), name, version); err != nil {
		writeError(w, err)
		return
	}

	data, err := s.storage.GetCrate(r.Context(), name, version)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

// handleReadme serves the readme captured at publish time. Versions
// published without one 404.
func (s *Server) handleReadme(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	version := chi.URLParam(r, "version")

	if _, err := s.index.ConfirmExistence(r.Context(), name, version); err != nil {
		writeError(w, err)
		return
	}

	data, err := s.storage.GetReadme(r.Context(), name, version)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}
