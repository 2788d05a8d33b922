package index

import (
	"context"
	"sort"
	"strings"

	"github.com/Masterminds/semver"

	"github.com/wharf-registry/wharf/pkg/api"
)

// Backend is the contract for versioned package metadata.
//
// Operations must be atomic. Publish is the only multi-statement write: the
// implementation opens its transactional scope, stages all rows, invokes
// endStep, and commits only if endStep succeeded. A failing endStep rolls
// the whole publish back, so a storage failure can never leave a visible
// index entry behind.
//
// The index does not authenticate; callers authorize before invoking any
// mutating operation.
type Backend interface {
	// ConfirmExistence verifies a (name, version) pair is known before the
	// download path touches object storage. Returns KindNotFound if either
	// the package or the version is unknown.
	ConfirmExistence(ctx context.Context, name, version string) (*api.ExistenceCheck, error)

	// GetSparseEntry returns one entry per published version, including
	// yanked ones, in publish order. Returns KindNotFound for unknown names.
	GetSparseEntry(ctx context.Context, name string) ([]api.CrateFileEntry, error)

	// Search performs a case-sensitive substring match on package names and
	// returns up to limit hits, exact-prefix matches first, then
	// lexicographic.
	Search(ctx context.Context, query string, limit int) (*api.SearchResults, error)

	// ListAll returns summaries for every local package, for dumping a
	// search corpus. Pagination is 1-based; page 0 means everything.
	ListAll(ctx context.Context, perPage, page int) ([]api.PackageSummary, error)

	// Publish records a new version. checksum is the hex-encoded SHA-256 of
	// the tarball computed by the caller. endStep runs inside the publish
	// transaction boundary; its failure aborts the publish.
	Publish(ctx context.Context, req *api.PublishRequest, checksum string, endStep func(context.Context) error) (*api.CompletedPublication, error)

	// SetYanked updates the yank flag on a version. Setting the current
	// state is a success. Returns the new state.
	SetYanked(ctx context.Context, name, version string, yanked bool) (bool, error)

	// Healthcheck reports whether the backend can serve requests.
	Healthcheck(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// entryFromPublish converts validated publish metadata into the sparse
// index line for the new version. The dependency naming convention flips
// between the two formats: publish metadata carries the original package
// name in Name with the rename in ExplicitNameInToml, while the index
// entry carries the as-used name in Name with the original in Package.
func entryFromPublish(req *api.PublishRequest, checksum string) api.CrateFileEntry {
	deps := make([]api.Dependency, len(req.Deps))
	for i := range req.Deps {
		d := &req.Deps[i]
		name := d.Name
		var pkg *string
		if d.ExplicitNameInToml != nil {
			name = *d.ExplicitNameInToml
			orig := d.Name
			pkg = &orig
		}
		kind := d.Kind
		if kind == "" {
			kind = api.DependencyKindNormal
		}
		features := d.Features
		if features == nil {
			features = []string{}
		}
		deps[i] = api.Dependency{
			Name:            name,
			Req:             d.VersionReq,
			Features:        features,
			Optional:        d.Optional,
			DefaultFeatures: d.DefaultFeatures,
			Target:          d.Target,
			Kind:            kind,
			Registry:        d.Registry,
			Package:         pkg,
		}
	}
	features := req.Features
	if features == nil {
		features = map[string][]string{}
	}
	return api.CrateFileEntry{
		Name:     req.Name,
		Vers:     req.Vers,
		Deps:     deps,
		Cksum:    checksum,
		Features: features,
		Yanked:   false,
		Links:    req.Links,
		V:        2,
	}
}

// sortSearchEntries orders hits exact-prefix-first, then lexicographically
// by name. Both backends share this so the tie-breaking rule stays uniform.
func sortSearchEntries(entries []api.SearchEntry, query string) {
	sort.Slice(entries, func(i, j int) bool {
		pi := strings.HasPrefix(entries[i].Name, query)
		pj := strings.HasPrefix(entries[j].Name, query)
		if pi != pj {
			return pi
		}
		return entries[i].Name < entries[j].Name
	})
}

// maxUnyankedVersion picks the highest non-yanked version from a package's
// entries. When every version is yanked, the highest version overall is
// reported so search output stays non-empty.
func maxUnyankedVersion(entries []api.CrateFileEntry) string {
	var best *semver.Version
	var bestAny *semver.Version
	for i := range entries {
		v, err := semver.NewVersion(entries[i].Vers)
		if err != nil {
			continue
		}
		if bestAny == nil || v.GreaterThan(bestAny) {
			bestAny = v
		}
		if entries[i].Yanked {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
		}
	}
	switch {
	case best != nil:
		return best.String()
	case bestAny != nil:
		return bestAny.String()
	}
	return ""
}
