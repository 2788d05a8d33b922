package api

import "strings"

// IndexPrefix returns the sparse index directory prefix for a package name,
// following the cargo registry convention: 1-char names go under "1/",
// 2-char under "2/", 3-char under "3/{first}/", everything else under
// "{first_two}/{next_two}/". The prefix is always lowercase.
func IndexPrefix(name string) string {
	lc := strings.ToLower(name)
	switch len(lc) {
	case 0:
		return ""
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return "3/" + lc[:1]
	default:
		return lc[:2] + "/" + lc[2:4]
	}
}

// IndexPath returns the full sparse index path for a package name,
// e.g. "se/rd/serde".
func IndexPath(name string) string {
	return IndexPrefix(name) + "/" + strings.ToLower(name)
}
