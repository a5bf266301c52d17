package core

import (
	"fmt"
	"strings"

	"github.com/git-pkgs/purl"
)

// PURL is a parsed Package URL.
type PURL = purl.PURL

// ParsePURL parses a Package URL string.
func ParsePURL(s string) (*PURL, error) {
	return purl.Parse(s)
}

// PackagePURL returns the Package URL of a package, or of one version of it
// when version is not empty. Names are PEP 503 normalized.
func PackagePURL(name, version string) string {
	normalized := NormalizeName(name)
	if version != "" {
		return fmt.Sprintf("pkg:pypi/%s@%s", normalized, version)
	}
	return fmt.Sprintf("pkg:pypi/%s", normalized)
}

// ParseRef parses a package reference given on the command line or in a
// request. It accepts "name", "name==version" and pypi Package URLs such
// as "pkg:pypi/requests@2.31.0".
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("empty package reference")
	}

	if strings.HasPrefix(s, "pkg:") {
		p, err := purl.Parse(s)
		if err != nil {
			return Ref{}, fmt.Errorf("parsing purl %q: %w", s, err)
		}
		if p.Type != "pypi" {
			return Ref{}, fmt.Errorf("purl %q is not a pypi package", s)
		}
		return Ref{Name: strings.ToLower(p.Name), Version: strings.ToLower(p.Version)}, nil
	}

	name, version, _ := strings.Cut(s, "==")
	name = strings.TrimSpace(name)
	if name == "" {
		return Ref{}, fmt.Errorf("package reference %q has no name", s)
	}
	return Ref{Name: strings.ToLower(name), Version: strings.ToLower(strings.TrimSpace(version))}, nil
}
