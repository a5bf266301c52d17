// Package ministry is a private Python package index: a metadata store with
// reverse indexes over classifiers, dependencies and metadata values, and a
// lenient decoder for the multipart bodies old distutils clients send.
//
// Basic usage:
//
//	import (
//		"github.com/git-pkgs/ministry"
//		_ "github.com/git-pkgs/ministry/all"
//	)
//
//	backend, err := ministry.OpenBackend("pebble:///var/lib/ministry")
//	if err != nil {
//		log.Fatal(err)
//	}
//	store := ministry.NewStore(backend)
//
//	form, anomalies := ministry.DecodeForm(body, contentType)
//	err = store.Ingest(ctx, form.Fields.Get("name"), form.Fields.Get("version"), form.Fields)
//
//	names, err := store.WithClassifier(ctx, "Framework :: Django")
package ministry

import (
	"github.com/git-pkgs/ministry/client"
	"github.com/git-pkgs/ministry/internal/core"
	"github.com/git-pkgs/ministry/internal/formdata"
)

// Re-export types from internal/core
type (
	// Store is the package metadata store.
	Store = core.Store

	// Backend is the key-value and set storage a Store runs on.
	Backend = core.Backend

	// StoreOption configures a Store.
	StoreOption = core.Option

	// Version is the stored record of one package version.
	Version = core.Version

	// Fields is an ordered mapping of metadata field names to values.
	Fields = core.Fields

	// Value is a single or repeatable field value.
	Value = core.Value

	// File is a distribution file registered for a version.
	File = core.File

	// Filetype names a kind of distribution file.
	Filetype = core.Filetype

	// Ref names one version of a package.
	Ref = core.Ref

	// ReindexStats summarizes a Reindex run.
	ReindexStats = core.ReindexStats
)

// Re-export types from internal/formdata
type (
	// Form is a decoded upload body.
	Form = formdata.Form

	// Anomaly describes part of an upload body that could not be decoded.
	Anomaly = formdata.Anomaly
)

// Re-export types from client
type (
	// URLBuilder constructs URLs for an index.
	URLBuilder = client.URLBuilder
)

// Re-export constants
const (
	Sdist        = core.Sdist
	BdistWheel   = core.BdistWheel
	BdistEgg     = core.BdistEgg
	BdistDumb    = core.BdistDumb
	BdistRPM     = core.BdistRPM
	BdistWininst = core.BdistWininst
	BdistMSI     = core.BdistMSI
)

// Re-export errors
var (
	ErrNotFound           = core.ErrNotFound
	ErrStorageUnavailable = core.ErrStorageUnavailable
	ErrInvalidIdentity    = core.ErrInvalidIdentity
)

// Error types
type (
	NotFoundError           = core.NotFoundError
	UnsupportedPayloadError = core.UnsupportedPayloadError
)

// NewStore creates a Store over backend.
func NewStore(backend Backend, opts ...StoreOption) *Store {
	return core.NewStore(backend, opts...)
}

// WithNonIndexed replaces the fields that are stored but never indexed.
var WithNonIndexed = core.WithNonIndexed

// WithLogger sets the Store's logger.
var WithLogger = core.WithLogger

// NewMemoryBackend returns an in-process Backend.
func NewMemoryBackend() Backend {
	return core.NewMemoryBackend()
}

// OpenBackend opens a Backend from a URL such as "memory://",
// "pebble:///var/lib/ministry" or "redis://localhost:6379/0".
// Note: backends other than memory must be imported to be registered.
func OpenBackend(rawURL string) (Backend, error) {
	return core.Open(rawURL)
}

// SupportedBackends returns all registered backend URL schemes.
func SupportedBackends() []string {
	return core.SupportedBackends()
}

// DecodeForm decodes a multipart upload body leniently. Parts that cannot
// be decoded are reported as anomalies instead of failing the body.
func DecodeForm(body []byte, contentType string) (*Form, []Anomaly) {
	return formdata.Decode(body, contentType)
}

// NewFields returns an empty Fields.
func NewFields() Fields {
	return core.NewFields()
}

// NormalizeName returns the PEP 503 normalized form of a package name.
func NormalizeName(name string) string {
	return core.NormalizeName(name)
}

// NormalizeLicense returns the SPDX form of a license string, or the string
// itself when it cannot be normalized.
func NormalizeLicense(license string) string {
	return core.NormalizeLicense(license)
}

// CompareVersions orders two version strings.
func CompareVersions(a, b string) int {
	return core.CompareVersions(a, b)
}

// NewURLs returns the URLs of the index served at base.
func NewURLs(base string) URLBuilder {
	return client.NewURLs(base)
}

// BuildURLs returns a map of all non-empty URLs for a package version.
func BuildURLs(urls URLBuilder, name, version string) map[string]string {
	return client.BuildURLs(urls, name, version)
}

// PURL represents a parsed Package URL.
type PURL = core.PURL

// ParsePURL parses a Package URL string into its components.
func ParsePURL(purlStr string) (*PURL, error) {
	return core.ParsePURL(purlStr)
}

// ParseRef parses "name", "name==version" or "pkg:pypi/name@version".
func ParseRef(s string) (Ref, error) {
	return core.ParseRef(s)
}
