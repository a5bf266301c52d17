package ministry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-pkgs/ministry"
	_ "github.com/git-pkgs/ministry/all"
)

const boundary = "ministry-test-boundary"

func distutilsBody(parts ...string) []byte {
	var body []byte
	for _, p := range parts {
		body = append(body, "\n--"+boundary+"\n"+p...)
	}
	return append(body, "\n--"+boundary+"--\n"...)
}

func field(name, value string) string {
	return `Content-Disposition: form-data; name="` + name + `"` + "\n\n" + value
}

func TestSupportedBackends(t *testing.T) {
	backends := ministry.SupportedBackends()
	for _, want := range []string{"memory", "pebble", "redis", "rediss"} {
		assert.Contains(t, backends, want)
	}
}

func TestOpenBackend(t *testing.T) {
	b, err := ministry.OpenBackend("memory://")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = ministry.OpenBackend("cassandra://localhost")
	assert.Error(t, err)
}

func TestDecodeIngestQuery(t *testing.T) {
	ctx := context.Background()
	store := ministry.NewStore(ministry.NewMemoryBackend())

	form, anomalies := ministry.DecodeForm(distutilsBody(
		field("name", "demo"),
		field("version", "1.0"),
		field("classifiers", "Dev"),
		field("requires", "six"),
	), "multipart/form-data; boundary="+boundary)
	require.Empty(t, anomalies)

	err := store.Ingest(ctx, form.Fields.Get("name"), form.Fields.Get("version"), form.Fields)
	require.NoError(t, err)

	key, err := store.ResolveKey(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "demo", key.Name)

	version, err := store.GetField(ctx, "demo", "version", "")
	require.NoError(t, err)
	assert.Equal(t, "1.0", version.String())

	withDev, err := store.WithClassifier(ctx, "Dev")
	require.NoError(t, err)
	assert.Equal(t, []string{"demo"}, withDev)

	dependents, err := store.Dependents(ctx, "six")
	require.NoError(t, err)
	assert.Equal(t, []string{"demo"}, dependents)
}

func TestDecodeSkipsMalformedPart(t *testing.T) {
	form, anomalies := ministry.DecodeForm(distutilsBody(
		field("name", "demo"),
		"Content-Disposition: form-data\n\norphan value",
	), "multipart/form-data; boundary="+boundary)

	assert.Equal(t, "demo", form.Fields.Get("name"))
	assert.Equal(t, 1, form.Fields.Len())
	assert.Len(t, anomalies, 1)
}

func TestCaseInsensitiveNames(t *testing.T) {
	ctx := context.Background()
	store := ministry.NewStore(ministry.NewMemoryBackend())

	fields := ministry.NewFields()
	fields.Set("summary", "x")
	require.NoError(t, store.Ingest(ctx, "Foo", "1.0", fields))

	for _, name := range []string{"Foo", "foo", "FOO"} {
		key, err := store.ResolveKey(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, "foo", key.Name)
	}
}

func TestOverwriteKeepsIndexes(t *testing.T) {
	ctx := context.Background()
	store := ministry.NewStore(ministry.NewMemoryBackend())

	first := ministry.NewFields()
	first.Append("classifiers", "Topic :: Old")
	first.Set("author", "a")
	require.NoError(t, store.Ingest(ctx, "demo", "1.0", first))

	second := ministry.NewFields()
	second.Set("license", "MIT")
	require.NoError(t, store.Ingest(ctx, "demo", "1.0", second))

	v, err := store.GetMetadata(ctx, "demo", "1.0")
	require.NoError(t, err)
	_, hasAuthor := v.Fields.Lookup("author")
	assert.False(t, hasAuthor, "record holds only the latest ingest")
	assert.Equal(t, "MIT", v.Fields.Get("license"))

	names, err := store.WithClassifier(ctx, "Topic :: Old")
	require.NoError(t, err)
	assert.Equal(t, []string{"demo"}, names, "classifier index keeps the first ingest")
}

func TestUnknownPackage(t *testing.T) {
	store := ministry.NewStore(ministry.NewMemoryBackend())

	_, err := store.GetMetadata(context.Background(), "doesnotexist", "")
	assert.True(t, errors.Is(err, ministry.ErrNotFound))

	var nf *ministry.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "doesnotexist", nf.Name)
}

func TestUnsupportedFiletype(t *testing.T) {
	store := ministry.NewStore(ministry.NewMemoryBackend())

	fields := ministry.NewFields()
	fields.Set("filetype", "bdist_deb")
	err := store.Ingest(context.Background(), "demo", "1.0", fields)

	var unsupported *ministry.UnsupportedPayloadError
	assert.True(t, errors.As(err, &unsupported))
}

func TestURLsAndRefs(t *testing.T) {
	urls := ministry.BuildURLs(ministry.NewURLs("https://pypi.internal"), "Foo_Bar", "1.0")
	assert.Equal(t, "pkg:pypi/foo-bar@1.0", urls["purl"])
	assert.Equal(t, "https://pypi.internal/simple/foo-bar/", urls["simple"])

	ref, err := ministry.ParseRef("pkg:pypi/requests@2.31.0")
	require.NoError(t, err)
	assert.Equal(t, ministry.Ref{Name: "requests", Version: "2.31.0"}, ref)

	assert.Equal(t, "foo-bar", ministry.NormalizeName("Foo.Bar"))
	assert.Equal(t, 1, ministry.CompareVersions("1.10", "1.9"))
}
