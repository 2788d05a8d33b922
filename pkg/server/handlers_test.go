package server

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharf-registry/wharf/pkg/api"
	"github.com/wharf-registry/wharf/pkg/auth"
	"github.com/wharf-registry/wharf/pkg/config"
	"github.com/wharf-registry/wharf/pkg/index"
	"github.com/wharf-registry/wharf/pkg/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{
			DownloadEndpoint:  "http://registry.test/downloads",
			APIEndpoint:       "http://registry.test",
			AllowRegistration: true,
			MaxCrateSize:      10 << 20,
			RequestTimeout:    config.Duration(60 * time.Second),
			DrainDeadline:     config.Duration(time.Second),
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()

	idx, err := index.NewBoltIndex(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	store, err := storage.NewFSStorage(filepath.Join(dir, "crates"))
	require.NoError(t, err)

	authn, err := auth.NewFSAuth(filepath.Join(dir, "auth.json"), "test-pepper")
	require.NoError(t, err)

	srv := New(cfg, idx, store, authn)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

// frame builds cargo's length-prefixed publish body.
func frame(t *testing.T, meta *api.PublishRequest, tarball []byte) []byte {
	t.Helper()
	metaJSON, err := json.Marshal(meta)
	require.NoError(t, err)

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(metaJSON)))
	buf.Write(metaJSON)
	binary.Write(&buf, binary.LittleEndian, uint32(len(tarball)))
	buf.Write(tarball)
	return buf.Bytes()
}

func publishMeta(name, vers string) *api.PublishRequest {
	desc := "a test crate"
	return &api.PublishRequest{
		Name:        name,
		Vers:        vers,
		Deps:        []api.PublishDependency{},
		Features:    map[string][]string{},
		Description: &desc,
	}
}

func do(t *testing.T, ts *httptest.Server, method, path, token string, body []byte) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func registerUser(t *testing.T, ts *httptest.Server, username string) string {
	t.Helper()
	body := []byte(fmt.Sprintf(`{"username":%q,"password":"secret"}`, username))
	resp := do(t, ts, http.MethodPost, "/api/v1/crates/account", "", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func publishCrate(t *testing.T, ts *httptest.Server, token string, meta *api.PublishRequest, tarball []byte) *http.Response {
	t.Helper()
	return do(t, ts, http.MethodPut, "/api/v1/crates/new", token, frame(t, meta, tarball))
}

func TestConfigJSON(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp := do(t, ts, http.MethodGet, "/index/config.json", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cfg api.RegistryConfig
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cfg))
	assert.Equal(t, "http://registry.test/downloads", cfg.DL)
	assert.Equal(t, "http://registry.test", cfg.API)
	assert.False(t, cfg.AuthRequired)
}

func TestPublishThenDownload(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	token := registerUser(t, ts, "alice")

	tarball := bytes.Repeat([]byte{0x1f, 0x8b, 0x08, 0x42}, 256)
	resp := publishCrate(t, ts, token, publishMeta("hello", "0.1.0"), tarball)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var completion struct {
		Warnings api.PublishWarnings `json:"warnings"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&completion))
	assert.Empty(t, completion.Warnings.InvalidCategories)

	// The tarball comes back byte-identical.
	resp = do(t, ts, http.MethodGet, "/downloads/hello/0.1.0", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, tarball, got)

	// The sparse entry records the tarball's checksum.
	resp = do(t, ts, http.MethodGet, "/index/he/ll/hello", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)
	var entry api.CrateFileEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	sum := sha256.Sum256(tarball)
	assert.Equal(t, hex.EncodeToString(sum[:]), entry.Cksum)
	assert.Equal(t, uint32(2), entry.V)
}

func TestReadmeServed(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	token := registerUser(t, ts, "alice")

	meta := publishMeta("hello", "0.1.0")
	readme := "# hello\n\nA test crate."
	meta.Readme = &readme
	resp := publishCrate(t, ts, token, meta, []byte("tarball bytes"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/api/v1/crates/hello/0.1.0/readme", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, readme, string(got))

	// A version published without a readme has none to serve.
	resp = publishCrate(t, ts, token, publishMeta("hello", "0.2.0"), []byte("tarball bytes"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, ts, http.MethodGet, "/api/v1/crates/hello/0.2.0/readme", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDuplicatePublish(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	token := registerUser(t, ts, "alice")

	tarball := []byte("tarball bytes")
	resp := publishCrate(t, ts, token, publishMeta("hello", "0.1.0"), tarball)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// An identical re-publish is still a conflict, not a silent success.
	resp = publishCrate(t, ts, token, publishMeta("hello", "0.1.0"), tarball)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/downloads/hello/0.1.0", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, tarball, got)
}

func TestPublishRequiresToken(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp := publishCrate(t, ts, "", publishMeta("hello", "0.1.0"), []byte("x"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = publishCrate(t, ts, "wrf_bogus", publishMeta("hello", "0.1.0"), []byte("x"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPublishTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Service.MaxCrateSize = 64
	_, ts := newTestServer(t, cfg)
	token := registerUser(t, ts, "alice")

	resp := publishCrate(t, ts, token, publishMeta("hello", "0.1.0"), make([]byte, 65))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestPublishMalformedBody(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	token := registerUser(t, ts, "alice")

	resp := do(t, ts, http.MethodPut, "/api/v1/crates/new", token, []byte{0x01, 0x02})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestYankUnyank(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	token := registerUser(t, ts, "alice")

	tarball := []byte("tarball bytes")
	resp := publishCrate(t, ts, token, publishMeta("hello", "0.1.0"), tarball)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, ts, http.MethodDelete, "/api/v1/crates/hello/0.1.0/yank", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Yanked versions stay downloadable for existing lockfiles.
	resp = do(t, ts, http.MethodGet, "/downloads/hello/0.1.0", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/index/he/ll/hello", "", nil)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var entry api.CrateFileEntry
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &entry))
	assert.True(t, entry.Yanked)

	resp = do(t, ts, http.MethodPut, "/api/v1/crates/hello/0.1.0/unyank", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/index/he/ll/hello", "", nil)
	raw, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &entry))
	assert.False(t, entry.Yanked)

	// Only owners may yank.
	bobToken := registerUser(t, ts, "bob")
	resp = do(t, ts, http.MethodDelete, "/api/v1/crates/hello/0.1.0/yank", bobToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestOwnershipFlow(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	aliceToken := registerUser(t, ts, "alice")
	bobToken := registerUser(t, ts, "bob")

	resp := publishCrate(t, ts, aliceToken, publishMeta("demo", "1.0.0"), []byte("v1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// bob is not an owner yet.
	resp = publishCrate(t, ts, bobToken, publishMeta("demo", "1.0.1"), []byte("v2"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// First publish granted alice ownership.
	resp = do(t, ts, http.MethodGet, "/api/v1/crates/demo/owners", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var owners api.OwnersResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&owners))
	require.Len(t, owners.Users, 1)
	assert.Equal(t, "alice", owners.Users[0].Login)

	// alice adds bob; bob's publish now succeeds.
	resp = do(t, ts, http.MethodPut, "/api/v1/crates/demo/owners", aliceToken, []byte(`{"users":["bob"]}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = publishCrate(t, ts, bobToken, publishMeta("demo", "1.0.1"), []byte("v2"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Removing the last owner is refused.
	resp = do(t, ts, http.MethodDelete, "/api/v1/crates/demo/owners", aliceToken, []byte(`{"users":["alice","bob"]}`))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSearchOrdering(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	token := registerUser(t, ts, "alice")

	for _, name := range []string{"serde", "serde_json"} {
		resp := publishCrate(t, ts, token, publishMeta(name, "1.0.0"), []byte(name))
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := do(t, ts, http.MethodGet, "/api/v1/crates?q=serde", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results api.SearchResults
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	require.Equal(t, 2, results.Meta.Total)
	assert.Equal(t, "serde", results.Crates[0].Name)
	assert.Equal(t, "serde_json", results.Crates[1].Name)

	resp = do(t, ts, http.MethodGet, "/api/v1/crates?q=serde&per_page=1", "", nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	assert.Len(t, results.Crates, 1)
	assert.Equal(t, 2, results.Meta.Total)
}

func TestListAll(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	token := registerUser(t, ts, "alice")

	for _, name := range []string{"alpha", "bravo", "charlie"} {
		resp := publishCrate(t, ts, token, publishMeta(name, "1.0.0"), []byte(name))
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := do(t, ts, http.MethodGet, "/api/v1/crates/all?per_page=2&page=2", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summaries []api.PackageSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summaries))
	assert.Len(t, summaries, 1)
}

func TestSparsePrefixMismatch(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	token := registerUser(t, ts, "alice")

	resp := publishCrate(t, ts, token, publishMeta("hello", "0.1.0"), []byte("x"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The right prefix works; a wrong one is 404, not a redirect.
	resp = do(t, ts, http.MethodGet, "/index/he/ll/hello", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, ts, http.MethodGet, "/index/aa/bb/hello", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/index/he/ll/nothere", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthRequiredGatesReads(t *testing.T) {
	cfg := testConfig()
	cfg.Service.AuthRequired = true
	_, ts := newTestServer(t, cfg)
	token := registerUser(t, ts, "alice")

	resp := publishCrate(t, ts, token, publishMeta("hello", "0.1.0"), []byte("x"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/index/he/ll/hello", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = do(t, ts, http.MethodGet, "/downloads/hello/0.1.0", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/index/he/ll/hello", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, ts, http.MethodGet, "/downloads/hello/0.1.0", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegistrationDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Service.AllowRegistration = false
	_, ts := newTestServer(t, cfg)

	resp := do(t, ts, http.MethodPost, "/api/v1/crates/account", "",
		[]byte(`{"username":"alice","password":"secret"}`))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDrainBarrier(t *testing.T) {
	srv, ts := newTestServer(t, testConfig())
	srv.draining.Store(true)

	resp := do(t, ts, http.MethodGet, "/index/config.json", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestLoginIssuesToken(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	registerUser(t, ts, "alice")

	resp := do(t, ts, http.MethodPost, "/api/v1/crates/account/token", "",
		[]byte(`{"username":"alice","password":"secret"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out tokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, strings.HasPrefix(out.Token, "wrf_"))

	resp = do(t, ts, http.MethodPost, "/api/v1/crates/account/token", "",
		[]byte(`{"username":"alice","password":"wrong"}`))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
