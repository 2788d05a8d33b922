package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

const minimalConfig = `
service:
  download_endpoint: https://crates.example.com/downloads
  api_endpoint: https://crates.example.com
index_path: /var/lib/wharf/index.db
store_path: /var/lib/wharf/crates
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Service.Address)
	assert.Equal(t, "0.0.0.0:9090", cfg.Service.MetricsAddress)
	assert.Equal(t, int64(10<<20), cfg.Service.MaxCrateSize)
	assert.Equal(t, 60*time.Second, cfg.Service.RequestTimeout.Std())
	assert.Equal(t, 30*time.Second, cfg.Service.DrainDeadline.Std())
	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.False(t, cfg.Service.AuthRequired)
}

func TestLoadFull(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
service:
  address: 127.0.0.1:3000
  metrics_address: 127.0.0.1:3001
  download_endpoint: https://crates.example.com/downloads
  api_endpoint: https://crates.example.com
  auth_required: true
  allow_registration: true
  max_crate_size: 1048576
  request_timeout: 30s
  drain_deadline: 10s
index_db: postgres://wharf@localhost/wharf
auth_db: postgres://wharf@localhost/wharf_auth
store:
  name: crates
  endpoint_url: s3.example.com
  region: us-east-1
  access_key_id: key
  access_key_secret: secret
`))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:3000", cfg.Service.Address)
	assert.True(t, cfg.Service.AuthRequired)
	assert.Equal(t, int64(1<<20), cfg.Service.MaxCrateSize)
	assert.Equal(t, 30*time.Second, cfg.Service.RequestTimeout.Std())
	require.NotNil(t, cfg.Store)
	assert.Equal(t, "crates", cfg.Store.Name)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing download endpoint", `
service:
  api_endpoint: https://crates.example.com
index_path: /tmp/index.db
store_path: /tmp/crates
`},
		{"no index backend", `
service:
  download_endpoint: https://crates.example.com/downloads
  api_endpoint: https://crates.example.com
store_path: /tmp/crates
`},
		{"both index backends", `
service:
  download_endpoint: https://crates.example.com/downloads
  api_endpoint: https://crates.example.com
index_db: postgres://localhost/wharf
index_path: /tmp/index.db
store_path: /tmp/crates
`},
		{"no storage backend", `
service:
  download_endpoint: https://crates.example.com/downloads
  api_endpoint: https://crates.example.com
index_path: /tmp/index.db
`},
		{"two auth backends", `
service:
  download_endpoint: https://crates.example.com/downloads
  api_endpoint: https://crates.example.com
index_path: /tmp/index.db
store_path: /tmp/crates
auth_db: postgres://localhost/wharf
auth_audience: aud
auth_team_base_url: https://team.example.com
`},
		{"fs auth without pepper", `
service:
  download_endpoint: https://crates.example.com/downloads
  api_endpoint: https://crates.example.com
index_path: /tmp/index.db
store_path: /tmp/crates
auth_path: /tmp/auth.json
`},
		{"oidc auth without team url", `
service:
  download_endpoint: https://crates.example.com/downloads
  api_endpoint: https://crates.example.com
index_path: /tmp/index.db
store_path: /tmp/crates
auth_audience: aud
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestBuildDefaultAuthIsPermissive(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	backend, err := cfg.BuildAuth(t.Context())
	require.NoError(t, err)
	_, err = backend.VerifyToken(t.Context(), "anything")
	assert.NoError(t, err)
}
