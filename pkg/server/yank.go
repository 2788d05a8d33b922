package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wharf-registry/wharf/pkg/api"
	"github.com/wharf-registry/wharf/pkg/log"
)

func (s *Server) handleYank(w http.ResponseWriter, r *http.Request) {
	s.setYanked(w, r, true)
}

func (s *Server) handleUnyank(w http.ResponseWriter, r *http.Request) {
	s.setYanked(w, r, false)
}

// setYanked flips the yank flag on a version. The tarball stays in
// storage either way so existing lockfiles keep resolving.
func (s *Server) setYanked(w http.ResponseWriter, r *http.Request, yanked bool) {
	name := chi.URLParam(r, "name")
	version := chi.URLParam(r, "version")
	who := identityFrom(r.Context())

	if err := s.auth.AuthYank(r.Context(), who, name); err != nil {
		writeError(w, err)
		return
	}

	state, err := s.index.SetYanked(r.Context(), name, version, yanked)
	if err != nil {
		writeError(w, err)
		return
	}

	logger := log.WithCrate(name)
	logger.Info().
		Str("version", version).
		Bool("yanked", state).
		Str("user", who.Login).
		Msg("Yank state updated")
	writeJSON(w, http.StatusOK, api.OkResponse{Ok: true})
}
