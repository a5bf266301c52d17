package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/git-pkgs/ministry/internal/codec"
)

const latestAlias = "latest"

// Store is the package metadata store. It owns the version records and the
// reverse indexes derived from them.
//
// Store holds no lock around Ingest. Concurrent ingests of the same name
// and version may interleave, leaving indexes that reference fields from
// one payload while the record holds another. The latest pointer is a
// plain read-compare-write. Reads are eventually consistent.
type Store struct {
	backend     Backend
	logger      *slog.Logger
	nonIndexed  map[string]struct{}
	compression codec.CompressionTag
	concurrency int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for write-path diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithNonIndexed replaces the set of fields kept out of the
// metadata:<field>:<value> index.
func WithNonIndexed(fields ...string) Option {
	return func(s *Store) {
		s.nonIndexed = make(map[string]struct{}, len(fields))
		for _, f := range fields {
			s.nonIndexed[strings.ToLower(f)] = struct{}{}
		}
	}
}

// WithCompression sets the compression applied to stored records.
func WithCompression(tag codec.CompressionTag) Option {
	return func(s *Store) {
		s.compression = tag
	}
}

// WithConcurrency bounds the parallelism of bulk reads and Reindex.
func WithConcurrency(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewStore returns a Store over backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:     backend,
		logger:      slog.Default(),
		concurrency: defaultConcurrency,
	}
	WithNonIndexed(DefaultNonIndexed...)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the backend the store writes to.
func (s *Store) Backend() Backend {
	return s.backend
}

// Indexed reports whether field is placed in the metadata index.
func (s *Store) Indexed(field string) bool {
	_, skip := s.nonIndexed[strings.ToLower(field)]
	return !skip
}

// ResolveKey case-normalizes name and checks that the package exists. Names
// that differ only in PEP 503 normalization (Foo_Bar, foo-bar, foo.bar)
// resolve to the stored package.
func (s *Store) ResolveKey(ctx context.Context, name string) (Key, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return Key{}, &NotFoundError{Name: name}
	}

	ok, err := s.backend.IsMember(ctx, KeyAllNames, lower)
	if err != nil {
		return Key{}, storageError("ismember", KeyAllNames, err)
	}
	if ok {
		return Key{Name: lower}, nil
	}

	aliases, err := s.backend.Members(ctx, NormalizedKey(lower))
	if err != nil {
		return Key{}, storageError("members", NormalizedKey(lower), err)
	}
	if len(aliases) == 0 {
		return Key{}, &NotFoundError{Name: name}
	}
	sort.Strings(aliases)
	return Key{Name: aliases[0]}, nil
}

// GetMetadata returns the full record of a version. An empty version or
// "latest" resolves through the package's latest pointer.
func (s *Store) GetMetadata(ctx context.Context, name, version string) (*Version, error) {
	key, err := s.ResolveKey(ctx, name)
	if err != nil {
		return nil, err
	}

	version = strings.ToLower(strings.TrimSpace(version))
	if version == "" || version == latestAlias {
		version, err = s.latest(ctx, key)
		if err != nil {
			return nil, err
		}
	}

	return s.load(ctx, key, version)
}

// GetField returns one field of a version.
func (s *Store) GetField(ctx context.Context, name, field, version string) (Value, error) {
	v, err := s.GetMetadata(ctx, name, version)
	if err != nil {
		return Value{}, err
	}
	val, ok := v.Fields.Lookup(field)
	if !ok {
		return Value{}, &NotFoundError{Name: v.Name, Version: v.Version, Field: field}
	}
	return val, nil
}

// GetDownloadURL returns the download_url field of a version.
func (s *Store) GetDownloadURL(ctx context.Context, name, version string) (string, error) {
	val, err := s.GetField(ctx, name, FieldDownloadURL, version)
	if err != nil {
		return "", err
	}
	return val.String(), nil
}

// Ingest records a version and updates every index derived from it. When
// fields name a filetype the file is registered too, described by the
// download_url and md5_digest fields.
//
// The record is written first, then the version set, the file set and
// descriptor, the latest pointer, the package name set, the dependency
// index and finally the classifier and metadata indexes. Each step is an
// independent write; a failure part way leaves the earlier writes in place
// and returns an error matching ErrStorageUnavailable. Index entries are
// only ever added, so re-ingesting a version replaces its record but keeps
// every association made by earlier ingests.
func (s *Store) Ingest(ctx context.Context, name, version string, fields Fields) error {
	var file *File
	if raw := fields.Get(FieldFiletype); raw != "" {
		ft, err := ParseFiletype(raw)
		if err != nil {
			IngestCount.WithLabelValues("unsupported").Inc()
			return err
		}
		file = &File{Filetype: ft, Filename: fields.Get(FieldFilename), MD5: fields.Get(FieldMD5Digest)}
		if u := fields.Get(FieldDownloadURL); !Placeholder(u) {
			file.URL = u
		}
	}
	return s.ingest(ctx, name, version, fields, file)
}

// IngestFile is Ingest with the file described explicitly rather than by
// the record's fields. The record's filetype and filename are set from f.
func (s *Store) IngestFile(ctx context.Context, name, version string, fields Fields, f File) error {
	ft, err := ParseFiletype(string(f.Filetype))
	if err != nil {
		IngestCount.WithLabelValues("unsupported").Inc()
		return err
	}
	f.Filetype = ft
	fields = fields.Clone()
	fields.Set(FieldFiletype, string(ft))
	fields.Set(FieldFilename, f.Filename)
	return s.ingest(ctx, name, version, fields, &f)
}

func (s *Store) ingest(ctx context.Context, name, version string, fields Fields, file *File) error {
	name = strings.ToLower(strings.TrimSpace(name))
	version = strings.ToLower(strings.TrimSpace(version))
	if name == "" || version == "" {
		IngestCount.WithLabelValues("invalid").Inc()
		return ErrInvalidIdentity
	}

	fields = fields.Clone()
	fields.Delete(FieldFileContent)
	if _, ok := fields.Lookup(FieldName); !ok {
		fields.Set(FieldName, name)
	}
	if _, ok := fields.Lookup(FieldVersion); !ok {
		fields.Set(FieldVersion, version)
	}

	key := Key{Name: name}
	err := s.store(ctx, key, version, fields)
	if err == nil {
		err = s.indexVersion(ctx, key, version, file)
	}
	if err == nil && file != nil && file.Filename != "" {
		err = s.putFile(ctx, key, version, *file)
	}
	if err == nil {
		err = s.advanceLatest(ctx, key, version)
	}
	if err == nil {
		err = s.indexFields(ctx, key, fields)
	}
	if err != nil {
		IngestCount.WithLabelValues("error").Inc()
		return err
	}

	IngestCount.WithLabelValues("ok").Inc()
	s.logger.Info("ingested package version", "name", name, "version", version, "fields", fields.Len())
	return nil
}

func (s *Store) store(ctx context.Context, key Key, version string, fields Fields) error {
	rec := codec.Record{Name: key.Name, Version: version, Fields: make([]codec.Field, 0, fields.Len())}
	for _, n := range fields.Names() {
		v, _ := fields.Lookup(n)
		rec.Fields = append(rec.Fields, codec.Field{Name: n, Items: v.Items, Multi: v.Multi})
	}

	data, err := codec.EncodeRecord(&rec, s.compression)
	if err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	recordKey := key.RecordKey(version)
	if err := s.backend.Put(ctx, recordKey, data); err != nil {
		return storageError("put", recordKey, err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, key Key, version string) (*Version, error) {
	data, err := s.backend.Get(ctx, key.RecordKey(version))
	if errors.Is(err, ErrNotFound) {
		return nil, &NotFoundError{Name: key.Name, Version: version}
	}
	if err != nil {
		return nil, storageError("get", key.RecordKey(version), err)
	}

	rec, err := codec.DecodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("reading record %s: %w", key.RecordKey(version), err)
	}

	v := &Version{Name: rec.Name, Version: rec.Version, Fields: NewFields()}
	for _, f := range rec.Fields {
		v.Fields.Put(f.Name, Value{Items: f.Items, Multi: f.Multi})
	}
	return v, nil
}

// indexVersion registers the version and its file name.
func (s *Store) indexVersion(ctx context.Context, key Key, version string, file *File) error {
	if err := s.addMembers(ctx, "version", key.VersionsKey(), version); err != nil {
		return err
	}
	if file != nil && file.Filename != "" {
		if err := s.addMembers(ctx, "file", key.FilesKey(version, file.Filetype), file.Filename); err != nil {
			return err
		}
	}
	return nil
}

// indexFields adds the package to the name, dependency, classifier and
// metadata indexes its fields call for.
func (s *Store) indexFields(ctx context.Context, key Key, fields Fields) error {
	if err := s.addMembers(ctx, "name", KeyAllNames, key.Name); err != nil {
		return err
	}
	if err := s.addMembers(ctx, "alias", NormalizedKey(key.Name), key.Name); err != nil {
		return err
	}

	for _, field := range DependencyFields {
		for _, req := range fields.Items(field) {
			dep := DependencyName(req)
			if dep == "" {
				continue
			}
			if err := s.addMembers(ctx, "requires", RequiresKey(dep), key.Name); err != nil {
				return err
			}
		}
	}

	unknown := s.classifierChecker(ctx)
	for _, field := range fields.Names() {
		if !s.Indexed(field) || isDependencyField(field) {
			continue
		}
		val, _ := fields.Lookup(field)
		for _, item := range val.Items {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			if field == FieldClassifiers {
				unknown(item, key.Name)
				if err := s.addMembers(ctx, "classifier", ClassifierKey(item), key.Name); err != nil {
					return err
				}
				continue
			}
			if field == FieldLicense {
				item = NormalizeLicense(item)
			}
			if err := s.addMembers(ctx, "metadata", MetadataKey(field, item), key.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

type fileDescriptor struct {
	URL string `cbor:"1,keyasint,omitempty"`
	MD5 string `cbor:"2,keyasint,omitempty"`
}

func (s *Store) putFile(ctx context.Context, key Key, version string, f File) error {
	data, err := codec.Marshal(fileDescriptor{URL: f.URL, MD5: f.MD5})
	if err != nil {
		return fmt.Errorf("encoding file descriptor: %w", err)
	}
	fileKey := key.FileKey(version, f.Filetype, f.Filename)
	if err := s.backend.Put(ctx, fileKey, data); err != nil {
		return storageError("put", fileKey, err)
	}
	return nil
}

func (s *Store) loadFile(ctx context.Context, key Key, version string, f *File) error {
	fileKey := key.FileKey(version, f.Filetype, f.Filename)
	data, err := s.backend.Get(ctx, fileKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return storageError("get", fileKey, err)
	}
	var d fileDescriptor
	if err := codec.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("reading file descriptor %s: %w", fileKey, err)
	}
	f.URL, f.MD5 = d.URL, d.MD5
	return nil
}

func (s *Store) addMembers(ctx context.Context, kind, key string, members ...string) error {
	if err := s.backend.AddMembers(ctx, key, members...); err != nil {
		return storageError("addmembers", key, err)
	}
	IndexWrites.WithLabelValues(kind).Inc()
	return nil
}

// classifierChecker returns a func that logs classifiers outside the
// stored vocabulary. An empty vocabulary accepts everything.
func (s *Store) classifierChecker(ctx context.Context) func(classifier, pkg string) {
	var checked, empty bool
	return func(classifier, pkg string) {
		if checked && empty {
			return
		}
		ok, err := s.backend.IsMember(ctx, KeyValidClassifiers, classifier)
		if err != nil || ok {
			return
		}
		if !checked {
			checked = true
			vocab, err := s.backend.Members(ctx, KeyValidClassifiers)
			empty = err != nil || len(vocab) == 0
			if empty {
				return
			}
		}
		UnknownClassifiers.Inc()
		s.logger.Warn("unknown classifier", "name", pkg, "classifier", classifier)
	}
}

func isDependencyField(field string) bool {
	for _, f := range DependencyFields {
		if f == field {
			return true
		}
	}
	return false
}

// Packages returns every known package name, sorted.
func (s *Store) Packages(ctx context.Context) ([]string, error) {
	names, err := s.backend.Members(ctx, KeyAllNames)
	if err != nil {
		return nil, storageError("members", KeyAllNames, err)
	}
	sort.Strings(names)
	return names, nil
}

// Versions returns the ingested versions of a package, oldest first.
func (s *Store) Versions(ctx context.Context, name string) ([]string, error) {
	key, err := s.ResolveKey(ctx, name)
	if err != nil {
		return nil, err
	}
	versions, err := s.backend.Members(ctx, key.VersionsKey())
	if err != nil {
		return nil, storageError("members", key.VersionsKey(), err)
	}
	SortVersions(versions)
	return versions, nil
}

// Files returns the files registered for a version, grouped in filetype
// order, with the URL and digest each was registered with.
func (s *Store) Files(ctx context.Context, name, version string) ([]File, error) {
	key, err := s.ResolveKey(ctx, name)
	if err != nil {
		return nil, err
	}
	version = strings.ToLower(strings.TrimSpace(version))
	if version == "" || version == latestAlias {
		if version, err = s.latest(ctx, key); err != nil {
			return nil, err
		}
	}

	var files []File
	for _, ft := range Filetypes {
		names, err := s.backend.Members(ctx, key.FilesKey(version, ft))
		if err != nil {
			return nil, storageError("members", key.FilesKey(version, ft), err)
		}
		sort.Strings(names)
		for _, n := range names {
			f := File{Filetype: ft, Filename: n}
			if err := s.loadFile(ctx, key, version, &f); err != nil {
				return nil, err
			}
			files = append(files, f)
		}
	}
	return files, nil
}

// Latest returns the version the package's latest pointer names.
func (s *Store) Latest(ctx context.Context, name string) (string, error) {
	key, err := s.ResolveKey(ctx, name)
	if err != nil {
		return "", err
	}
	return s.latest(ctx, key)
}

// SetLatest pins the latest pointer to an ingested version. The pin holds
// until a version ordering at or above every ingested version is ingested;
// Reindex leaves it alone.
func (s *Store) SetLatest(ctx context.Context, name, version string) error {
	key, err := s.ResolveKey(ctx, name)
	if err != nil {
		return err
	}
	version = strings.ToLower(strings.TrimSpace(version))
	ok, err := s.backend.IsMember(ctx, key.VersionsKey(), version)
	if err != nil {
		return storageError("ismember", key.VersionsKey(), err)
	}
	if !ok {
		return &NotFoundError{Name: key.Name, Version: version}
	}
	if err := s.backend.Put(ctx, key.LatestKey(), []byte(version)); err != nil {
		return storageError("put", key.LatestKey(), err)
	}
	return nil
}

func (s *Store) latest(ctx context.Context, key Key) (string, error) {
	data, err := s.backend.Get(ctx, key.LatestKey())
	if err == nil {
		return string(data), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", storageError("get", key.LatestKey(), err)
	}

	// No pointer yet: fall back to the highest recorded version.
	versions, err := s.backend.Members(ctx, key.VersionsKey())
	if err != nil {
		return "", storageError("members", key.VersionsKey(), err)
	}
	if len(versions) == 0 {
		return "", &NotFoundError{Name: key.Name, Version: latestAlias}
	}
	SortVersions(versions)
	return versions[len(versions)-1], nil
}

// advanceLatest moves the pointer to version when it orders at or above
// every version in the version set, so a pin survives ingests of older
// versions.
func (s *Store) advanceLatest(ctx context.Context, key Key, version string) error {
	versions, err := s.backend.Members(ctx, key.VersionsKey())
	if err != nil {
		return storageError("members", key.VersionsKey(), err)
	}
	for _, v := range versions {
		if CompareVersions(version, v) < 0 {
			return nil
		}
	}
	if err := s.backend.Put(ctx, key.LatestKey(), []byte(version)); err != nil {
		return storageError("put", key.LatestKey(), err)
	}
	return nil
}

// WithClassifier returns the packages declaring classifier, sorted.
func (s *Store) WithClassifier(ctx context.Context, classifier string) ([]string, error) {
	return s.sortedMembers(ctx, ClassifierKey(classifier))
}

// WithMetadata returns the packages whose field carries value, sorted.
// License values are matched in their SPDX form.
func (s *Store) WithMetadata(ctx context.Context, field, value string) ([]string, error) {
	if field == FieldLicense {
		value = NormalizeLicense(value)
	}
	return s.sortedMembers(ctx, MetadataKey(field, value))
}

// Dependents returns the packages that declare a dependency on dep.
func (s *Store) Dependents(ctx context.Context, dep string) ([]string, error) {
	return s.sortedMembers(ctx, RequiresKey(dep))
}

func (s *Store) sortedMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.backend.Members(ctx, key)
	if err != nil {
		return nil, storageError("members", key, err)
	}
	sort.Strings(members)
	return members, nil
}

// ValidClassifiers returns the classifier vocabulary, sorted.
func (s *Store) ValidClassifiers(ctx context.Context) ([]string, error) {
	return s.sortedMembers(ctx, KeyValidClassifiers)
}

// AddValidClassifiers extends the classifier vocabulary.
func (s *Store) AddValidClassifiers(ctx context.Context, classifiers ...string) error {
	var clean []string
	for _, c := range classifiers {
		if c = strings.TrimSpace(c); c != "" {
			clean = append(clean, c)
		}
	}
	if len(clean) == 0 {
		return nil
	}
	return s.addMembers(ctx, "vocabulary", KeyValidClassifiers, clean...)
}
