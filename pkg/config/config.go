package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wharf-registry/wharf/pkg/auth"
	"github.com/wharf-registry/wharf/pkg/index"
	"github.com/wharf-registry/wharf/pkg/storage"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "60s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServiceConfig is the service.* block.
type ServiceConfig struct {
	// Address the registry API listens on.
	Address string `yaml:"address"`
	// MetricsAddress serves Prometheus exposition and /healthz.
	MetricsAddress string `yaml:"metrics_address"`
	// DownloadEndpoint and APIEndpoint are the externally visible URLs
	// advertised in /index/config.json.
	DownloadEndpoint string `yaml:"download_endpoint"`
	APIEndpoint      string `yaml:"api_endpoint"`
	// AuthRequired advertises auth-required in config.json, making
	// clients send tokens on every request.
	AuthRequired bool `yaml:"auth_required"`
	// AllowRegistration enables the account registration endpoint.
	AllowRegistration bool `yaml:"allow_registration"`
	// MaxCrateSize bounds the tarball size in bytes.
	MaxCrateSize int64 `yaml:"max_crate_size"`
	// RequestTimeout is the per-request wall clock bound.
	RequestTimeout Duration `yaml:"request_timeout"`
	// DrainDeadline bounds how long in-flight requests may run after
	// SIGTERM before the process exits.
	DrainDeadline Duration `yaml:"drain_deadline"`
	// PublishRatePerSecond and PublishBurst configure the per-client
	// publish rate limiter. Zero disables limiting.
	PublishRatePerSecond float64 `yaml:"publish_rate_per_second"`
	PublishBurst         int     `yaml:"publish_burst"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogJSON selects JSON log output over the console writer.
	LogJSON bool `yaml:"log_json"`
}

// StoreConfig is the object-store block.
type StoreConfig struct {
	// Name is the bucket name.
	Name            string `yaml:"name"`
	EndpointURL     string `yaml:"endpoint_url"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret"`
	UseTLS          bool   `yaml:"use_tls"`
}

// Config is the whole YAML configuration document.
type Config struct {
	Service ServiceConfig `yaml:"service"`

	// Index backend: exactly one of the two.
	IndexDB   string `yaml:"index_db"`
	IndexPath string `yaml:"index_path"`

	// Auth backend: auth_db, auth_path+auth_tokens_pepper,
	// auth_audience+auth_team_base_url, or none (permissive).
	AuthDB           string `yaml:"auth_db"`
	AuthPath         string `yaml:"auth_path"`
	AuthTokensPepper string `yaml:"auth_tokens_pepper"`
	AuthAudience     string `yaml:"auth_audience"`
	AuthTeamBaseURL  string `yaml:"auth_team_base_url"`

	// Storage backend: exactly one of the two.
	Store     *StoreConfig `yaml:"store"`
	StorePath string       `yaml:"store_path"`

	// MaxDBConnections caps each database pool. Zero uses the driver
	// default.
	MaxDBConnections int32 `yaml:"max_db_connections"`
}

// Load reads, parses, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Service.Address == "" {
		c.Service.Address = "0.0.0.0:8080"
	}
	if c.Service.MetricsAddress == "" {
		c.Service.MetricsAddress = "0.0.0.0:9090"
	}
	if c.Service.MaxCrateSize == 0 {
		c.Service.MaxCrateSize = 10 << 20
	}
	if c.Service.RequestTimeout == 0 {
		c.Service.RequestTimeout = Duration(60 * time.Second)
	}
	if c.Service.DrainDeadline == 0 {
		c.Service.DrainDeadline = Duration(30 * time.Second)
	}
	if c.Service.LogLevel == "" {
		c.Service.LogLevel = "info"
	}
}

// Validate rejects ambiguous or incomplete backend selections.
func (c *Config) Validate() error {
	if c.Service.DownloadEndpoint == "" {
		return fmt.Errorf("service.download_endpoint is required")
	}
	if c.Service.APIEndpoint == "" {
		return fmt.Errorf("service.api_endpoint is required")
	}

	switch {
	case c.IndexDB == "" && c.IndexPath == "":
		return fmt.Errorf("one of index_db or index_path is required")
	case c.IndexDB != "" && c.IndexPath != "":
		return fmt.Errorf("index_db and index_path are mutually exclusive")
	}

	switch {
	case c.Store == nil && c.StorePath == "":
		return fmt.Errorf("one of store or store_path is required")
	case c.Store != nil && c.StorePath != "":
		return fmt.Errorf("store and store_path are mutually exclusive")
	case c.Store != nil && (c.Store.Name == "" || c.Store.EndpointURL == ""):
		return fmt.Errorf("store.name and store.endpoint_url are required")
	}

	db := c.AuthDB != ""
	fs := c.AuthPath != "" || c.AuthTokensPepper != ""
	oidc := c.AuthAudience != "" || c.AuthTeamBaseURL != ""
	selected := 0
	for _, on := range []bool{db, fs, oidc} {
		if on {
			selected++
		}
	}
	switch {
	case selected > 1:
		return fmt.Errorf("auth_db, auth_path, and auth_audience select mutually exclusive auth backends")
	case fs && (c.AuthPath == "" || c.AuthTokensPepper == ""):
		return fmt.Errorf("auth_path and auth_tokens_pepper are both required for filesystem auth")
	case oidc && (c.AuthAudience == "" || c.AuthTeamBaseURL == ""):
		return fmt.Errorf("auth_audience and auth_team_base_url are both required for OIDC auth")
	}
	return nil
}

// BuildIndex constructs the configured index backend.
func (c *Config) BuildIndex(ctx context.Context) (index.Backend, error) {
	if c.IndexDB != "" {
		return index.NewPostgresIndex(ctx, c.IndexDB, c.MaxDBConnections)
	}
	return index.NewBoltIndex(c.IndexPath)
}

// BuildStorage constructs the configured storage backend.
func (c *Config) BuildStorage(ctx context.Context) (storage.Backend, error) {
	if c.Store != nil {
		return storage.NewS3Storage(ctx, storage.S3Config{
			Endpoint:        c.Store.EndpointURL,
			Region:          c.Store.Region,
			Bucket:          c.Store.Name,
			AccessKeyID:     c.Store.AccessKeyID,
			SecretAccessKey: c.Store.AccessKeySecret,
			UseTLS:          c.Store.UseTLS,
		})
	}
	return storage.NewFSStorage(c.StorePath)
}

// BuildAuth constructs the configured auth backend.
func (c *Config) BuildAuth(ctx context.Context) (auth.Backend, error) {
	switch {
	case c.AuthDB != "":
		return auth.NewPostgresAuth(ctx, c.AuthDB, c.AuthTokensPepper, c.MaxDBConnections)
	case c.AuthPath != "":
		return auth.NewFSAuth(c.AuthPath, c.AuthTokensPepper)
	case c.AuthAudience != "":
		return auth.NewOIDCAuth(ctx, c.AuthAudience, c.AuthTeamBaseURL)
	}
	return auth.NewYesAuth(), nil
}
