// Package core provides the package metadata store, its key scheme and the
// storage backend registry.
package core

import (
	"slices"
	"strings"
)

// Value is a single metadata field value. Repeatable fields (classifiers,
// requires, ...) carry every occurrence in Items with Multi set; scalar
// fields carry exactly one item.
type Value struct {
	Items []string
	Multi bool
}

// Scalar returns a single-valued Value.
func Scalar(s string) Value {
	return Value{Items: []string{s}}
}

// List returns a multi-valued Value holding a copy of items.
func List(items ...string) Value {
	return Value{Items: slices.Clone(items), Multi: true}
}

// String returns the scalar value, or the items joined by newlines for
// repeatable fields.
func (v Value) String() string {
	if !v.Multi && len(v.Items) > 0 {
		return v.Items[0]
	}
	return strings.Join(v.Items, "\n")
}

// Empty reports whether the value carries no non-empty item.
func (v Value) Empty() bool {
	for _, item := range v.Items {
		if item != "" {
			return false
		}
	}
	return true
}

// Fields is an ordered mapping of metadata field name to value. The zero
// value is ready to use. Fields is not safe for concurrent mutation.
type Fields struct {
	order  []string
	values map[string]Value
}

// NewFields returns an empty Fields.
func NewFields() Fields {
	return Fields{values: make(map[string]Value)}
}

// Set stores a scalar value, replacing any earlier value for name.
func (f *Fields) Set(name, value string) {
	f.Put(name, Scalar(value))
}

// Put stores v under name, replacing any earlier value.
func (f *Fields) Put(name string, v Value) {
	if f.values == nil {
		f.values = make(map[string]Value)
	}
	if _, ok := f.values[name]; !ok {
		f.order = append(f.order, name)
	}
	v.Items = slices.Clone(v.Items)
	f.values[name] = v
}

// Append adds one occurrence to a repeatable field.
func (f *Fields) Append(name, value string) {
	if f.values == nil {
		f.values = make(map[string]Value)
	}
	v, ok := f.values[name]
	if !ok {
		f.order = append(f.order, name)
	}
	v.Multi = true
	v.Items = append(v.Items, value)
	f.values[name] = v
}

// Lookup returns the value stored under name.
func (f Fields) Lookup(name string) (Value, bool) {
	v, ok := f.values[name]
	return v, ok
}

// Get returns the string form of a field, or "" when absent.
func (f Fields) Get(name string) string {
	v, ok := f.values[name]
	if !ok {
		return ""
	}
	return v.String()
}

// Items returns every item stored under name.
func (f Fields) Items(name string) []string {
	return f.values[name].Items
}

// Delete removes name.
func (f *Fields) Delete(name string) {
	if _, ok := f.values[name]; !ok {
		return
	}
	delete(f.values, name)
	f.order = slices.DeleteFunc(f.order, func(n string) bool { return n == name })
}

// Names returns the field names in insertion order.
func (f Fields) Names() []string {
	return slices.Clone(f.order)
}

// Len returns the number of fields.
func (f Fields) Len() int {
	return len(f.order)
}

// Clone returns a deep copy.
func (f Fields) Clone() Fields {
	c := NewFields()
	for _, name := range f.order {
		c.Put(name, f.values[name])
	}
	return c
}

// Map flattens the fields into a map of string values, as served by the
// JSON API.
func (f Fields) Map() map[string]any {
	out := make(map[string]any, len(f.order))
	for _, name := range f.order {
		v := f.values[name]
		if v.Multi {
			out[name] = slices.Clone(v.Items)
		} else {
			out[name] = v.String()
		}
	}
	return out
}

// Version is one ingested release of a package.
type Version struct {
	Name    string
	Version string
	Fields  Fields
}

// Classifiers returns the trove classifiers recorded on the version.
func (v *Version) Classifiers() []string {
	return v.Fields.Items(FieldClassifiers)
}

// Filetype identifies the kind of a distributed file.
type Filetype string

const (
	Sdist        Filetype = "sdist"
	BdistWheel   Filetype = "bdist_wheel"
	BdistEgg     Filetype = "bdist_egg"
	BdistDumb    Filetype = "bdist_dumb"
	BdistRPM     Filetype = "bdist_rpm"
	BdistWininst Filetype = "bdist_wininst"
	BdistMSI     Filetype = "bdist_msi"
)

// Filetypes lists every filetype the index accepts, in display order.
var Filetypes = []Filetype{Sdist, BdistWheel, BdistEgg, BdistDumb, BdistRPM, BdistWininst, BdistMSI}

// ParseFiletype validates a filetype tag.
func ParseFiletype(s string) (Filetype, error) {
	ft := Filetype(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Filetypes, ft) {
		return ft, nil
	}
	return "", &UnsupportedPayloadError{Filetype: s}
}

// File describes one distributed file of a version. URL and MD5 are empty
// when the file is served from local storage without a known digest.
type File struct {
	Filetype Filetype
	Filename string
	URL      string
	MD5      string
}

// Well-known field names.
const (
	FieldName            = "name"
	FieldVersion         = "version"
	FieldClassifiers     = "classifiers"
	FieldRequires        = "requires"
	FieldRequiresDist    = "requires_dist"
	FieldFiletype        = "filetype"
	FieldFilename        = "filename"
	FieldFileContent     = "filecontent"
	FieldDownloadURL     = "download_url"
	FieldSummary         = "summary"
	FieldDescription     = "description"
	FieldLongDescription = "long_description"
	FieldMD5Digest       = "md5_digest"
	FieldBlake3Digest    = "blake3_digest"
	FieldUploadTime      = "upload_time"
	FieldLicense         = "license"
	FieldAction          = ":action"
)

// Placeholder reports whether a metadata value is one of the fillers
// distutils sends for fields setup() left unset.
func Placeholder(value string) bool {
	switch strings.TrimSpace(value) {
	case "", "UNKNOWN", "None":
		return true
	}
	return false
}

// DefaultNonIndexed lists the fields that are stored on the version record
// but never placed in the metadata:<field>:<value> index. They either
// identify the record already or are unique enough per package that an
// index entry would be useless.
var DefaultNonIndexed = []string{
	"md5_digest",
	"sha256_digest",
	"blake2_256_digest",
	"blake3_digest",
	"long_description",
	"description",
	"summary",
	":action",
	"filecontent",
	"name",
	"home_page",
	"metadata_version",
	"protcol_version",
	"protocol_version",
	"filetype",
	"filename",
	"version",
	"comment",
	"upload_time",
	"gpg_signature",
}

// DependencyFields are the repeatable fields whose entries name other
// packages.
var DependencyFields = []string{FieldRequires, FieldRequiresDist}
