package api

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver"
)

// nameRE matches valid package names: a letter followed by up to 63
// letters, digits, hyphens, or underscores.
var nameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,63}$`)

// categoryRE matches category and keyword slugs accepted without warning.
var categoryRE = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,38}$`)

// ValidateName checks a package name against the registry naming rules.
func ValidateName(name string) error {
	if !nameRE.MatchString(name) {
		return ErrBadRequest(fmt.Sprintf("invalid package name %q", name))
	}
	return nil
}

// ValidateFeatureName checks one feature string. Accepted forms are a bare
// feature name, "dep:name", "pkg/feat", and the weak form "pkg?/feat".
func ValidateFeatureName(feature string) error {
	if feature == "" {
		return ErrBadRequest("empty feature name")
	}
	name := feature
	if rest, ok := strings.CutPrefix(feature, "dep:"); ok {
		name = rest
	} else if pkg, feat, ok := strings.Cut(feature, "/"); ok {
		pkg = strings.TrimSuffix(pkg, "?")
		if err := validateFeatureIdent(pkg); err != nil {
			return ErrBadRequest(fmt.Sprintf("invalid feature %q", feature))
		}
		name = feat
	}
	if err := validateFeatureIdent(name); err != nil {
		return ErrBadRequest(fmt.Sprintf("invalid feature %q", feature))
	}
	return nil
}

func validateFeatureIdent(s string) error {
	if s == "" {
		return fmt.Errorf("empty identifier")
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '+', r == '.':
		default:
			return fmt.Errorf("invalid rune %q", r)
		}
	}
	return nil
}

// ValidatePublish checks publish metadata and returns the soft warnings to
// attach to the response. A non-nil error means the publish must be
// rejected as a bad request.
func ValidatePublish(req *PublishRequest) (*PublishWarnings, error) {
	warnings := &PublishWarnings{
		InvalidCategories: []string{},
		InvalidBadges:     []string{},
		Other:             []string{},
	}

	if err := ValidateName(req.Name); err != nil {
		return nil, err
	}
	if _, err := semver.NewVersion(req.Vers); err != nil {
		return nil, ErrBadRequest(fmt.Sprintf("invalid version %q: %v", req.Vers, err))
	}

	for name, enables := range req.Features {
		if err := validateFeatureIdent(name); err != nil {
			return nil, ErrBadRequest(fmt.Sprintf("invalid feature name %q", name))
		}
		for _, f := range enables {
			if err := ValidateFeatureName(f); err != nil {
				return nil, err
			}
		}
	}

	for i := range req.Deps {
		dep := &req.Deps[i]
		if err := ValidateName(dep.Name); err != nil {
			return nil, err
		}
		if _, err := semver.NewConstraint(dep.VersionReq); err != nil {
			return nil, ErrBadRequest(fmt.Sprintf("invalid requirement %q for dependency %q", dep.VersionReq, dep.Name))
		}
		if !dep.Kind.Valid() {
			return nil, ErrBadRequest(fmt.Sprintf("invalid dependency kind %q", dep.Kind))
		}
		if dep.ExplicitNameInToml != nil {
			if err := ValidateName(*dep.ExplicitNameInToml); err != nil {
				return nil, err
			}
		}
	}

	// Categories outside the slug grammar are dropped with a warning rather
	// than failing the publish.
	kept := req.Categories[:0]
	for _, c := range req.Categories {
		if categoryRE.MatchString(c) {
			kept = append(kept, c)
		} else {
			warnings.InvalidCategories = append(warnings.InvalidCategories, c)
		}
	}
	req.Categories = kept

	// Badges are a deprecated crates.io feature; record and ignore them.
	for badge := range req.Badges {
		warnings.InvalidBadges = append(warnings.InvalidBadges, badge)
	}

	if req.Links != nil && *req.Links == "" {
		return nil, ErrBadRequest("links must not be empty when present")
	}

	return warnings, nil
}
