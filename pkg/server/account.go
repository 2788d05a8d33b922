package server

import (
	"net/http"

	"github.com/wharf-registry/wharf/pkg/api"
	"github.com/wharf-registry/wharf/pkg/log"
)

// tokenResponse returns a freshly issued token to the client. The token
// is shown exactly once and never stored in plaintext.
type tokenResponse struct {
	Token string `json:"token"`
}

// credentials reads a username/password pair from a form post or a JSON
// body, whichever the client sent. The /me page posts forms; scripted
// clients send JSON.
func credentials(r *http.Request) (string, string) {
	if err := r.ParseForm(); err == nil {
		if u := r.PostForm.Get("username"); u != "" {
			return u, r.PostForm.Get("password")
		}
	}
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSONBody(r, &body); err == nil {
		return body.Username, body.Password
	}
	return "", ""
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Service.AllowRegistration {
		writeError(w, api.ErrForbidden("registration is disabled"))
		return
	}

	username, password := credentials(r)
	token, err := s.auth.Register(r.Context(), username, password)
	if err != nil {
		writeError(w, err)
		return
	}

	logger := log.WithComponent("server")
	logger.Info().Str("user", username).Msg("Registered account")
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	username, password := credentials(r)
	token, err := s.auth.Login(r.Context(), username, password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

// handleMe serves the minimal HTML shim cargo opens for `cargo login`.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>wharf registry</title></head>
<body>
<h1>wharf</h1>
<p>Log in to receive an API token, then run <code>cargo login &lt;token&gt;</code>.</p>
<form method="post" action="/api/v1/crates/account/token">
  <label>Username <input type="text" name="username"></label>
  <label>Password <input type="password" name="password"></label>
  <button type="submit">Log in</button>
</form>
</body>
</html>
`))
}
