package core

import (
	"sort"

	goversion "github.com/hashicorp/go-version"
)

// CompareVersions orders two version strings. Versions that parse are
// compared numerically, with pre-releases ordered before their release.
// Unparseable versions order below every parseable one and lexically
// among themselves.
func CompareVersions(a, b string) int {
	va, errA := goversion.NewVersion(a)
	vb, errB := goversion.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		if c := va.Compare(vb); c != 0 {
			return c
		}
		// 1.0 and 1.0.0 compare equal; keep the order total.
		return compareStrings(a, b)
	case errA == nil:
		return 1
	case errB == nil:
		return -1
	default:
		return compareStrings(a, b)
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// SortVersions sorts versions in place, oldest first.
func SortVersions(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return CompareVersions(versions[i], versions[j]) < 0
	})
}
