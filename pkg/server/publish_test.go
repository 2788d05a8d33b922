package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharf-registry/wharf/pkg/api"
	"github.com/wharf-registry/wharf/pkg/auth"
	"github.com/wharf-registry/wharf/pkg/index"
	"github.com/wharf-registry/wharf/pkg/storage"
)

func TestParsePublishBody(t *testing.T) {
	meta := publishMeta("hello", "0.1.0")
	tarball := []byte("tarball bytes")
	body := frame(t, meta, tarball)

	req, got, err := parsePublishBody(bytes.NewReader(body), 10<<20)
	require.NoError(t, err)
	assert.Equal(t, "hello", req.Name)
	assert.Equal(t, "0.1.0", req.Vers)
	assert.Equal(t, tarball, got)
}

func TestParsePublishBodyRejections(t *testing.T) {
	full := frame(t, publishMeta("hello", "0.1.0"), []byte("tarball"))

	cases := []struct {
		name string
		body []byte
		kind api.ErrorKind
	}{
		{"empty", nil, api.KindBadRequest},
		{"short length prefix", []byte{0x01, 0x02}, api.KindBadRequest},
		{"zero metadata length", []byte{0, 0, 0, 0}, api.KindBadRequest},
		{"truncated metadata", full[:6], api.KindBadRequest},
		{"truncated tarball", full[:len(full)-3], api.KindBadRequest},
		{"not json", append([]byte{4, 0, 0, 0}, []byte("oops")...), api.KindBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := parsePublishBody(bytes.NewReader(tc.body), 10<<20)
			require.Error(t, err)
			assert.Equal(t, tc.kind, api.KindOf(err))
		})
	}

	t.Run("oversize tarball", func(t *testing.T) {
		_, _, err := parsePublishBody(bytes.NewReader(full), 3)
		assert.Equal(t, api.KindPayloadTooLarge, api.KindOf(err))
	})
}

// testBackends builds the embedded backend triple for failure-injection
// tests that wrap individual backends.
func testBackends(t *testing.T) (*index.BoltIndex, *storage.FSStorage, *auth.FSAuth) {
	t.Helper()
	dir := t.TempDir()

	idx, err := index.NewBoltIndex(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	store, err := storage.NewFSStorage(filepath.Join(dir, "crates"))
	require.NoError(t, err)

	authn, err := auth.NewFSAuth(filepath.Join(dir, "auth.json"), "test-pepper")
	require.NoError(t, err)
	return idx, store, authn
}

type failingPutStorage struct {
	storage.Backend
}

func (f *failingPutStorage) PutCrate(ctx context.Context, name, version string, data []byte) error {
	return api.NewError(api.KindStorageIO, "object store unavailable")
}

// commitFailIndex runs the end step, then fails as if the connection
// died before COMMIT.
type commitFailIndex struct {
	index.Backend
}

func (c *commitFailIndex) Publish(ctx context.Context, req *api.PublishRequest, checksum string, endStep func(context.Context) error) (*api.CompletedPublication, error) {
	if err := endStep(ctx); err != nil {
		return nil, err
	}
	return nil, api.WrapError(api.KindIndexIO, "failed to commit publish transaction", errors.New("connection reset"))
}

type grantFailAuth struct {
	auth.Backend
}

func (g *grantFailAuth) RegisterOwner(ctx context.Context, who *auth.Identity, name string) error {
	return api.NewError(api.KindAuthIO, "auth store unavailable")
}

func serveWith(t *testing.T, idx index.Backend, store storage.Backend, authn auth.Backend) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(New(testConfig(), idx, store, authn).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func TestPublishStoragePutFailureLeavesNoTrace(t *testing.T) {
	idx, store, authn := testBackends(t)
	ts := serveWith(t, idx, &failingPutStorage{Backend: store}, authn)
	token := registerUser(t, ts, "alice")

	resp := publishCrate(t, ts, token, publishMeta("hello", "0.1.0"), []byte("tarball"))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// The index rolled back with the end step.
	_, err := idx.GetSparseEntry(context.Background(), "hello")
	assert.Equal(t, api.KindNotFound, api.KindOf(err))
	_, err = store.GetCrate(context.Background(), "hello", "0.1.0")
	assert.Equal(t, api.KindNotFound, api.KindOf(err))
}

func TestPublishCommitFailureCompensates(t *testing.T) {
	idx, store, authn := testBackends(t)
	ts := serveWith(t, &commitFailIndex{Backend: idx}, store, authn)
	token := registerUser(t, ts, "alice")

	resp := publishCrate(t, ts, token, publishMeta("hello", "0.1.0"), []byte("tarball"))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// The put landed before the commit failed; the compensating delete
	// must have removed it again.
	_, err := store.GetCrate(context.Background(), "hello", "0.1.0")
	assert.Equal(t, api.KindNotFound, api.KindOf(err))
}

func TestPublishOwnershipGrantFailureRollsBack(t *testing.T) {
	idx, store, authn := testBackends(t)
	ts := serveWith(t, idx, store, &grantFailAuth{Backend: authn})
	token := registerUser(t, ts, "alice")

	resp := publishCrate(t, ts, token, publishMeta("hello", "0.1.0"), []byte("tarball"))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// The committed version was yanked and its tarball removed.
	check, err := idx.ConfirmExistence(context.Background(), "hello", "0.1.0")
	require.NoError(t, err)
	assert.True(t, check.Yanked)
	_, err = store.GetCrate(context.Background(), "hello", "0.1.0")
	assert.Equal(t, api.KindNotFound, api.KindOf(err))
}

// Two racing publishes of the same new version must resolve to exactly
// one winner, with only the winner's bytes reachable afterward.
func TestConcurrentPublishSingleWinner(t *testing.T) {
	idx, store, authn := testBackends(t)
	ts := serveWith(t, idx, store, authn)
	token := registerUser(t, ts, "alice")

	tarballs := [][]byte{
		bytes.Repeat([]byte{0xAA}, 128),
		bytes.Repeat([]byte{0xBB}, 128),
	}
	bodies := make([][]byte, len(tarballs))
	for i, tb := range tarballs {
		bodies[i] = frame(t, publishMeta("hello", "0.1.0"), tb)
	}

	statuses := make([]int, len(bodies))
	errs := make([]error, len(bodies))
	var wg sync.WaitGroup
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/crates/new", bytes.NewReader(bodies[i]))
			if err != nil {
				errs[i] = err
				return
			}
			req.Header.Set("Authorization", token)
			resp, err := ts.Client().Do(req)
			if err != nil {
				errs[i] = err
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "request %d", i)
	}

	winner := -1
	conflicts := 0
	for i, status := range statuses {
		switch status {
		case http.StatusOK:
			require.Equal(t, -1, winner, "both publishes won")
			winner = i
		case http.StatusConflict:
			conflicts++
		default:
			t.Fatalf("request %d: unexpected status %d", i, status)
		}
	}
	require.NotEqual(t, -1, winner, "no publish won")
	require.Equal(t, len(bodies)-1, conflicts)

	// Only the winner's bytes are downloadable.
	resp := do(t, ts, http.MethodGet, "/downloads/hello/0.1.0", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, tarballs[winner], got)

	// The index checksum agrees with the stored object.
	check, err := idx.ConfirmExistence(context.Background(), "hello", "0.1.0")
	require.NoError(t, err)
	sum := sha256.Sum256(tarballs[winner])
	assert.Equal(t, hex.EncodeToString(sum[:]), check.Checksum)
}

func TestPublishValidationWarnings(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	token := registerUser(t, ts, "alice")

	meta := publishMeta("hello", "0.1.0")
	meta.Categories = []string{"web-programming", "Not A Slug!"}
	meta.Badges = map[string]map[string]string{"travis-ci": {}}

	resp := publishCrate(t, ts, token, meta, []byte("tarball"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var completion struct {
		Warnings api.PublishWarnings `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(raw, &completion))
	assert.Equal(t, []string{"Not A Slug!"}, completion.Warnings.InvalidCategories)
	assert.Equal(t, []string{"travis-ci"}, completion.Warnings.InvalidBadges)

	// Warning lists serialize as arrays even when empty.
	assert.Contains(t, string(raw), `"other":[]`)
}

func TestPublishRejectsBadMetadata(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	token := registerUser(t, ts, "alice")

	meta := publishMeta("1bad", "0.1.0")
	resp := publishCrate(t, ts, token, meta, []byte("tarball"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	meta = publishMeta("hello", "not-semver")
	resp = publishCrate(t, ts, token, meta, []byte("tarball"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPublishDependencyRename(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	token := registerUser(t, ts, "alice")

	renamed := "fancy-name"
	meta := publishMeta("hello", "0.1.0")
	meta.Deps = []api.PublishDependency{{
		Name:               "plain-name",
		VersionReq:         "=1.2.3",
		DefaultFeatures:    true,
		Kind:               api.DependencyKindNormal,
		ExplicitNameInToml: &renamed,
	}}

	resp := publishCrate(t, ts, token, meta, []byte("tarball"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/index/he/ll/hello", "", nil)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var entry api.CrateFileEntry
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &entry))
	require.Len(t, entry.Deps, 1)
	assert.Equal(t, "fancy-name", entry.Deps[0].Name)
	require.NotNil(t, entry.Deps[0].Package)
	assert.Equal(t, "plain-name", *entry.Deps[0].Package)
}
