package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wharf-registry/wharf/pkg/api"
	"github.com/wharf-registry/wharf/pkg/auth"
)

func (s *Server) handleListOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := s.auth.ListOwners(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	if owners == nil {
		owners = []api.ListedOwner{}
	}
	writeJSON(w, http.StatusOK, api.OwnersResponse{Users: owners})
}

func (s *Server) handleAddOwners(w http.ResponseWriter, r *http.Request) {
	s.modifyOwners(w, r, s.auth.AddOwners)
}

func (s *Server) handleRemoveOwners(w http.ResponseWriter, r *http.Request) {
	s.modifyOwners(w, r, s.auth.RemoveOwners)
}

func (s *Server) modifyOwners(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, who *auth.Identity, name string, logins []string) error) {

	var body api.OwnerListRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, api.ErrBadRequest("malformed owners request body"))
		return
	}
	if len(body.Users) == 0 {
		writeError(w, api.ErrBadRequest("owners request names no users"))
		return
	}

	name := chi.URLParam(r, "name")
	if err := op(r.Context(), identityFrom(r.Context()), name, body.Users); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.OkResponse{Ok: true})
}
