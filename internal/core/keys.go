package core

import (
	"regexp"
	"strings"
)

// Key layout. Every identifier embedded in a key is lowercase.
const (
	KeyAllNames         = "pkg:all_names"
	KeyValidClassifiers = "classifiers:valid"
)

// Key identifies a package that exists in the store.
type Key struct {
	Name string
}

// VersionsKey is the set of every ingested version of the package.
func (k Key) VersionsKey() string {
	return "pkg:" + k.Name + ":all_versions"
}

// LatestKey holds the package's latest version pointer.
func (k Key) LatestKey() string {
	return "pkg:" + k.Name + ":latest"
}

// RecordKey holds the encoded version record.
func (k Key) RecordKey(version string) string {
	return "pkg:" + k.Name + ":" + version
}

// FilesKey is the set of filenames registered for a version and filetype.
func (k Key) FilesKey(version string, ft Filetype) string {
	return "pkg:" + k.Name + ":" + version + ":" + string(ft)
}

// FileKey holds the encoded descriptor of one registered file.
func (k Key) FileKey(version string, ft Filetype, filename string) string {
	return k.FilesKey(version, ft) + ":" + filename
}

// NormalizedKey is the alias set mapping a PEP 503 normalized name to the
// stored names it was derived from.
func NormalizedKey(name string) string {
	return "pkg:normalized:" + NormalizeName(name)
}

// ClassifierKey is the set of packages declaring the classifier.
func ClassifierKey(classifier string) string {
	return "classifier:" + classifier
}

// MetadataKey is the set of packages whose field carries value.
func MetadataKey(field, value string) string {
	return "metadata:" + field + ":" + value
}

// RequiresKey is the set of packages depending on dep.
func RequiresKey(dep string) string {
	return MetadataKey(FieldRequires, strings.ToLower(dep))
}

var normalizeRegex = regexp.MustCompile(`[-_.]+`)

// NormalizeName applies PEP 503 name normalization.
func NormalizeName(name string) string {
	return strings.ToLower(normalizeRegex.ReplaceAllString(name, "-"))
}
