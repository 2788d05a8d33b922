package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wharf-registry/wharf/pkg/api"
	"github.com/wharf-registry/wharf/pkg/log"
)

// certsPath is the well-known location identity proxies publish their
// signing certificates under, relative to the team base URL.
const certsPath = "/cdn-cgi/access/certs"

// OIDCAuth implements Backend for deployments fronted by an identity
// proxy that injects a signed JWT per request. Selected by the
// auth_audience + auth_team_base_url configuration options.
//
// Verification checks signature, audience, and expiry. Any verified
// identity is authorized for every package: the proxy's access policy is
// the source of truth, so authenticated means authorized here.
// Credential and ownership management are not supported.
type OIDCAuth struct {
	audience    string
	teamBaseURL string
	client      *http.Client

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey
}

// NewOIDCAuth fetches the signing certificates and returns the backend.
func NewOIDCAuth(ctx context.Context, audience, teamBaseURL string) (*OIDCAuth, error) {
	a := &OIDCAuth{
		audience:    audience,
		teamBaseURL: strings.TrimSuffix(teamBaseURL, "/"),
		client:      &http.Client{Timeout: 10 * time.Second},
		keys:        map[string]*rsa.PublicKey{},
	}
	if err := a.refreshKeys(ctx); err != nil {
		return nil, err
	}
	logger := log.WithComponent("auth")
	logger.Info().
		Str("team_base_url", a.teamBaseURL).
		Int("keys", len(a.keys)).
		Msg("Loaded identity proxy signing keys")
	return a, nil
}

func (a *OIDCAuth) Healthcheck(ctx context.Context) error {
	return a.refreshKeys(ctx)
}

// refreshKeys replaces the key set from the team's certs endpoint.
func (a *OIDCAuth) refreshKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.teamBaseURL+certsPath, nil)
	if err != nil {
		return fmt.Errorf("failed to build certs request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return api.WrapError(api.KindAuthIO, "failed to fetch signing certificates", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return api.NewError(api.KindAuthIO, fmt.Sprintf("certs endpoint returned %d", resp.StatusCode))
	}

	var body struct {
		PublicCerts []struct {
			Kid  string `json:"kid"`
			Cert string `json:"cert"`
		} `json:"public_certs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return api.WrapError(api.KindAuthIO, "failed to parse certs response", err)
	}

	keys := map[string]*rsa.PublicKey{}
	for _, pc := range body.PublicCerts {
		block, _ := pem.Decode([]byte(pc.Cert))
		if block == nil {
			return api.NewError(api.KindAuthIO, "certs response contains a malformed certificate")
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return api.WrapError(api.KindAuthIO, "failed to parse signing certificate", err)
		}
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return api.NewError(api.KindAuthIO, "signing certificate does not carry an RSA key")
		}
		keys[pc.Kid] = pub
	}
	if len(keys) == 0 {
		return api.NewError(api.KindAuthIO, "certs endpoint returned no certificates")
	}

	a.mu.Lock()
	a.keys = keys
	a.mu.Unlock()
	return nil
}

func (a *OIDCAuth) keyFor(kid string) (*rsa.PublicKey, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	key, ok := a.keys[kid]
	return key, ok
}

func (a *OIDCAuth) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, api.ErrUnauthorized("missing token")
	}

	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if key, ok := a.keyFor(kid); ok {
			return key, nil
		}
		// Unknown kid: the proxy may have rotated keys since startup.
		if err := a.refreshKeys(ctx); err != nil {
			return nil, err
		}
		if key, ok := a.keyFor(kid); ok {
			return key, nil
		}
		return nil, fmt.Errorf("no signing key for kid %q", kid)
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(a.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, api.WrapError(api.KindForbidden, "token verification failed", err)
	}

	login, _ := claims["email"].(string)
	if login == "" {
		login, _ = claims["sub"].(string)
	}
	if login == "" {
		return nil, api.ErrForbidden("token carries no identity claim")
	}

	// A stable synthetic id; the owners wire format requires one and the
	// proxy does not supply numeric ids.
	h := fnv.New32a()
	h.Write([]byte(login))
	return &Identity{ID: h.Sum32(), Login: login}, nil
}

func (a *OIDCAuth) Register(ctx context.Context, login, password string) (string, error) {
	return "", errNotSupported()
}

func (a *OIDCAuth) Login(ctx context.Context, login, password string) (string, error) {
	return "", errNotSupported()
}

func (a *OIDCAuth) AuthPublish(ctx context.Context, who *Identity, name string) error { return nil }

func (a *OIDCAuth) RegisterOwner(ctx context.Context, who *Identity, name string) error { return nil }

func (a *OIDCAuth) AuthYank(ctx context.Context, who *Identity, name string) error { return nil }

func (a *OIDCAuth) ListOwners(ctx context.Context, name string) ([]api.ListedOwner, error) {
	return nil, nil
}

func (a *OIDCAuth) AddOwners(ctx context.Context, who *Identity, name string, logins []string) error {
	return errNotSupported()
}

func (a *OIDCAuth) RemoveOwners(ctx context.Context, who *Identity, name string, logins []string) error {
	return errNotSupported()
}
