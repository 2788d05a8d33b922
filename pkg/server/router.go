package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wharf-registry/wharf/pkg/auth"
)

type contextKey int

const identityKey contextKey = iota

func withIdentity(ctx context.Context, who *auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, who)
}

// identityFrom returns the identity stashed by requireToken.
func identityFrom(ctx context.Context) *auth.Identity {
	who, _ := ctx.Value(identityKey).(*auth.Identity)
	return who
}

// Routes builds the registry's wire surface. Paths are fixed by protocol
// compatibility with cargo's sparse registry support.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestMetrics)
	r.Use(recoverer)
	r.Use(s.drainBarrier)

	r.Route("/index", func(r chi.Router) {
		if s.cfg.Service.AuthRequired {
			r.Use(s.requireToken)
		}
		r.Get("/config.json", s.handleIndexConfig)
		r.Get("/1/{name}", s.handleSparseEntry)
		r.Get("/2/{name}", s.handleSparseEntry)
		r.Get("/3/{char}/{name}", s.handleSparseEntry)
		r.Get("/{p1}/{p2}/{name}", s.handleSparseEntry)
	})

	r.Group(func(r chi.Router) {
		if s.cfg.Service.AuthRequired {
			r.Use(s.requireToken)
		}
		r.Get("/downloads/{name}/{version}", s.handleDownload)
	})

	r.Route("/api/v1/crates", func(r chi.Router) {
		r.Get("/", s.handleSearch)

		r.Group(func(r chi.Router) {
			if s.cfg.Service.AuthRequired {
				r.Use(s.requireToken)
			}
			r.Get("/all", s.handleListAll)
			r.Get("/{name}/{version}/readme", s.handleReadme)
		})

		r.Post("/account", s.handleRegister)
		r.Post("/account/token", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)
			r.With(s.publishRateLimit).Put("/new", s.handlePublish)
			r.Delete("/{name}/{version}/yank", s.handleYank)
			r.Put("/{name}/{version}/unyank", s.handleUnyank)
			r.Get("/{name}/owners", s.handleListOwners)
			r.Put("/{name}/owners", s.handleAddOwners)
			r.Delete("/{name}/owners", s.handleRemoveOwners)
		})
	})

	r.Get("/me", s.handleMe)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	})
	return r
}
