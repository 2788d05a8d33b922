package api

import "time"

// DependencyKind classifies a dependency edge.
type DependencyKind string

const (
	DependencyKindNormal DependencyKind = "normal"
	DependencyKindDev    DependencyKind = "dev"
	DependencyKindBuild  DependencyKind = "build"
)

// Valid reports whether k is one of the known dependency kinds. An empty
// kind is accepted and treated as normal, matching cargo's serialization.
func (k DependencyKind) Valid() bool {
	switch k {
	case DependencyKindNormal, DependencyKindDev, DependencyKindBuild, "":
		return true
	}
	return false
}

// PublishRequest is the JSON metadata document embedded in the publish body.
type PublishRequest struct {
	// Name of the package being published.
	Name string `json:"name"`
	// Vers is the semver version string.
	Vers string `json:"vers"`
	// Deps are the direct dependencies of this version.
	Deps []PublishDependency `json:"deps"`
	// Features maps a feature name to the features or dependencies it enables.
	Features      map[string][]string          `json:"features"`
	Authors       []string                     `json:"authors"`
	Description   *string                      `json:"description"`
	Documentation *string                      `json:"documentation"`
	Homepage      *string                      `json:"homepage"`
	Readme        *string                      `json:"readme"`
	ReadmeFile    *string                      `json:"readme_file"`
	Keywords      []string                     `json:"keywords"`
	Categories    []string                     `json:"categories"`
	License       *string                      `json:"license"`
	LicenseFile   *string                      `json:"license_file"`
	Repository    *string                      `json:"repository"`
	Badges        map[string]map[string]string `json:"badges"`
	// Links is the native-library symbol from the manifest, if any.
	Links *string `json:"links"`
}

// PublishDependency is a dependency as it appears in publish metadata.
// Note the field naming differs from the sparse index form: here Name is the
// original package name and ExplicitNameInToml the rename, while the sparse
// index inverts the two.
type PublishDependency struct {
	Name               string         `json:"name"`
	VersionReq         string         `json:"version_req"`
	Features           []string       `json:"features"`
	Optional           bool           `json:"optional"`
	DefaultFeatures    bool           `json:"default_features"`
	Target             *string        `json:"target"`
	Kind               DependencyKind `json:"kind"`
	Registry           *string        `json:"registry"`
	ExplicitNameInToml *string        `json:"explicit_name_in_toml"`
}

// Dependency is a dependency edge in the sparse index wire format.
type Dependency struct {
	Name            string         `json:"name"`
	Req             string         `json:"req"`
	Features        []string       `json:"features"`
	Optional        bool           `json:"optional"`
	DefaultFeatures bool           `json:"default_features"`
	Target          *string        `json:"target"`
	Kind            DependencyKind `json:"kind"`
	Registry        *string        `json:"registry,omitempty"`
	Package         *string        `json:"package,omitempty"`
}

// CrateFileEntry is one line of a sparse index file: a single published
// version with its full dependency metadata.
type CrateFileEntry struct {
	Name     string              `json:"name"`
	Vers     string              `json:"vers"`
	Deps     []Dependency        `json:"deps"`
	Cksum    string              `json:"cksum"`
	Features map[string][]string `json:"features"`
	Yanked   bool                `json:"yanked"`
	Links    *string             `json:"links,omitempty"`
	// V is the index schema version; 2 indicates features2 support.
	V         uint32              `json:"v"`
	Features2 map[string][]string `json:"features2,omitempty"`
}

// CompletedPublication is the success response body for a publish.
type CompletedPublication struct {
	Warnings *PublishWarnings `json:"warnings,omitempty"`

	// FirstPublish is set by the index backend when the publish created the
	// package row. It drives the orchestrator's initial ownership grant and
	// is never serialized to the client.
	FirstPublish bool `json:"-"`
}

// PublishWarnings enumerates soft warnings attached to a successful publish.
type PublishWarnings struct {
	InvalidCategories []string `json:"invalid_categories"`
	InvalidBadges     []string `json:"invalid_badges"`
	Other             []string `json:"other"`
}

// SearchResults is the response body for the search endpoint.
type SearchResults struct {
	Crates []SearchEntry `json:"crates"`
	Meta   SearchMeta    `json:"meta"`
}

// SearchEntry is a single search hit.
type SearchEntry struct {
	Name string `json:"name"`
	// MaxVersion is the highest non-yanked published version.
	MaxVersion  string `json:"max_version"`
	Description string `json:"description"`
}

// SearchMeta carries aggregate metadata for a search response.
type SearchMeta struct {
	Total int `json:"total"`
}

// PackageSummary describes one package for the list endpoint and for
// dumping a search corpus.
type PackageSummary struct {
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Documentation *string   `json:"documentation,omitempty"`
	Homepage      *string   `json:"homepage,omitempty"`
	Repository    *string   `json:"repository,omitempty"`
	Versions      []string  `json:"versions"`
	Categories    []string  `json:"categories"`
	Keywords      []string  `json:"keywords"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ExistenceCheck is the result of confirming a (name, version) pair in the
// index before touching object storage.
type ExistenceCheck struct {
	Yanked   bool
	Checksum string
}

// ListedOwner is one entry of the owners list response.
type ListedOwner struct {
	ID    uint32  `json:"id"`
	Login string  `json:"login"`
	Name  *string `json:"name"`
}

// OwnersResponse is the response body for listing owners.
type OwnersResponse struct {
	Users []ListedOwner `json:"users"`
}

// OwnerListRequest is the request body for adding or removing owners.
type OwnerListRequest struct {
	Users []string `json:"users"`
}

// OkResponse is the minimal `{"ok":true}` acknowledgment body.
type OkResponse struct {
	Ok bool `json:"ok"`
}

// RegistryConfig is served at /index/config.json and tells cargo where the
// download and API endpoints live.
type RegistryConfig struct {
	DL           string `json:"dl"`
	API          string `json:"api"`
	AuthRequired bool   `json:"auth-required,omitempty"`
}
