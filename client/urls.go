// Package client builds the URLs a ministry index serves, for links in
// pages and API responses and for clients that want to address the index
// directly.
package client

import (
	"net/url"
	"strings"

	"github.com/git-pkgs/ministry/internal/core"
)

// URLBuilder constructs URLs for an index.
type URLBuilder interface {
	Project(name, version string) string
	JSON(name, version string) string
	Simple(name string) string
	Download(name, filename string) string
	PURL(name, version string) string
}

// URLs is the URLBuilder for a ministry index rooted at Base. An empty
// Base yields host-relative URLs.
type URLs struct {
	Base string
}

// NewURLs returns the URLs of the index at base.
func NewURLs(base string) *URLs {
	return &URLs{Base: strings.TrimSuffix(base, "/")}
}

func (u *URLs) Project(name, version string) string {
	if version != "" {
		return u.Base + "/pypi/" + url.PathEscape(name) + "/" + url.PathEscape(version) + "/"
	}
	return u.Base + "/pypi/" + url.PathEscape(name) + "/"
}

func (u *URLs) JSON(name, version string) string {
	if version != "" {
		return u.Base + "/pypi/" + url.PathEscape(name) + "/" + url.PathEscape(version) + "/json"
	}
	return u.Base + "/pypi/" + url.PathEscape(name) + "/json"
}

func (u *URLs) Simple(name string) string {
	if name == "" {
		return u.Base + "/simple/"
	}
	return u.Base + "/simple/" + core.NormalizeName(name) + "/"
}

func (u *URLs) Download(name, filename string) string {
	return u.Base + "/packages/" + url.PathEscape(strings.ToLower(name)) + "/" + url.PathEscape(filename)
}

func (u *URLs) PURL(name, version string) string {
	return core.PackagePURL(name, version)
}

// BuildURLs returns a map of all non-empty URLs for a package version.
// Keys are "project", "json", "simple" and "purl".
func BuildURLs(urls URLBuilder, name, version string) map[string]string {
	result := make(map[string]string)
	if v := urls.Project(name, version); v != "" {
		result["project"] = v
	}
	if v := urls.JSON(name, version); v != "" {
		result["json"] = v
	}
	if v := urls.Simple(name); v != "" {
		result["simple"] = v
	}
	if v := urls.PURL(name, version); v != "" {
		result["purl"] = v
	}
	return result
}
