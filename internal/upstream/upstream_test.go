package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/git-pkgs/ministry/fetch"
	"github.com/git-pkgs/ministry/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestsRelease() packageResponse {
	return packageResponse{
		Info: infoBlock{
			Name:        "Requests",
			Version:     "2.31.0",
			Summary:     "Python HTTP for Humans.",
			Description: "# Requests\n\nHTTP for humans.",
			License:     "Apache 2.0",
			Keywords:    "http, web,client",
			Classifiers: []string{
				"Programming Language :: Python :: 3",
				"License :: OSI Approved :: Apache Software License",
			},
			ProjectURLs: map[string]string{
				"Source":   "https://github.com/psf/requests",
				"Homepage": "https://requests.readthedocs.io",
			},
			RequiresDist: []string{
				"charset-normalizer (<4,>=2)",
				"urllib3<3,>=1.21.1",
				"PySocks!=1.5.7,>=1.5.6; extra == \"socks\"",
			},
			RequiresPython: ">=3.7",
		},
		Releases: map[string][]releaseFile{
			"2.30.0": {},
			"2.31.0": {},
			"2.4.0":  {},
		},
		URLs: []releaseFile{
			{
				Filename:    "requests-2.31.0.tar.gz",
				PackageType: "sdist",
				URL:         "https://files.example/requests-2.31.0.tar.gz",
				Digests:     map[string]string{"md5": "941e175c276cd7d39d098092c56679a4"},
				Size:        110794,
			},
			{
				Filename:    "requests-2.31.0-py3-none-any.whl",
				PackageType: "bdist_wheel",
				URL:         "https://files.example/requests-2.31.0-py3-none-any.whl",
				UploadTime:  "2023-05-22T15:12:42",
			},
			{
				Filename:    "requests-2.31.0.pkg",
				PackageType: "bdist_pkg",
			},
		},
	}
}

func newUpstream(t *testing.T) (*Client, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/pypi/requests/json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(requestsRelease())
	})
	mux.HandleFunc("/pypi/requests/2.31.0/json", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(requestsRelease())
	})
	mux.HandleFunc("/pypi", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get(":action") != "list_classifiers" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("Framework :: Django\nProgramming Language :: Python :: 3\n\n"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	f := fetch.NewFetcher(fetch.WithMaxRetries(0))
	t.Cleanup(f.Close)
	return New(server.URL+"/", f, nil), server
}

func TestFetchRelease(t *testing.T) {
	c, _ := newUpstream(t)

	rel, err := c.FetchRelease(context.Background(), "requests", "2.31.0")
	require.NoError(t, err)

	assert.Equal(t, "requests", rel.Name)
	assert.Equal(t, "2.31.0", rel.Version)
	assert.Equal(t, "Python HTTP for Humans.", rel.Fields.Get(core.FieldSummary))
	assert.Equal(t, "Apache-2.0", rel.Fields.Get("license"))
	assert.Equal(t, "http,web,client", rel.Fields.Get("keywords"))
	assert.Equal(t, "https://requests.readthedocs.io", rel.Fields.Get("home_page"))
	assert.Len(t, rel.Fields.Items(core.FieldClassifiers), 2)
	assert.Len(t, rel.Fields.Items(core.FieldRequiresDist), 3)
	assert.Equal(t, []string{
		"Homepage, https://requests.readthedocs.io",
		"Source, https://github.com/psf/requests",
	}, rel.Fields.Items("project_urls"))

	require.Len(t, rel.Files, 2, "unknown package types are skipped")
	assert.Equal(t, core.Sdist, rel.Files[0].Filetype)
	assert.Equal(t, "941e175c276cd7d39d098092c56679a4", rel.Files[0].MD5)
	assert.Equal(t, core.BdistWheel, rel.Files[1].Filetype)
}

func TestFetchReleaseNotFound(t *testing.T) {
	c, _ := newUpstream(t)

	_, err := c.FetchRelease(context.Background(), "nope", "")
	assert.True(t, errors.Is(err, core.ErrNotFound), "got %v", err)
}

func TestFetchVersions(t *testing.T) {
	c, _ := newUpstream(t)

	versions, err := c.FetchVersions(context.Background(), "requests")
	require.NoError(t, err)
	assert.Equal(t, []string{"2.4.0", "2.30.0", "2.31.0"}, versions)
}

func TestFetchClassifiers(t *testing.T) {
	c, _ := newUpstream(t)

	classifiers, err := c.FetchClassifiers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Framework :: Django", "Programming Language :: Python :: 3"}, classifiers)
}

func TestImport(t *testing.T) {
	c, _ := newUpstream(t)
	ctx := context.Background()
	store := core.NewStore(core.NewMemoryBackend())

	version, err := c.Import(ctx, store, core.Ref{Name: "Requests"})
	require.NoError(t, err)
	assert.Equal(t, "2.31.0", version)

	files, err := store.Files(ctx, "requests", "2.31.0")
	require.NoError(t, err)
	assert.Equal(t, []core.File{
		{
			Filetype: core.Sdist,
			Filename: "requests-2.31.0.tar.gz",
			URL:      "https://files.example/requests-2.31.0.tar.gz",
			MD5:      "941e175c276cd7d39d098092c56679a4",
		},
		{
			Filetype: core.BdistWheel,
			Filename: "requests-2.31.0-py3-none-any.whl",
			URL:      "https://files.example/requests-2.31.0-py3-none-any.whl",
		},
	}, files)

	v, err := store.GetMetadata(ctx, "REQUESTS", "")
	require.NoError(t, err)
	assert.Equal(t, "sdist", v.Fields.Get(core.FieldFiletype))
	assert.Equal(t, "https://files.example/requests-2.31.0.tar.gz", v.Fields.Get(core.FieldDownloadURL))

	dependents, err := store.Dependents(ctx, "urllib3")
	require.NoError(t, err)
	assert.Equal(t, []string{"requests"}, dependents)

	withClassifier, err := store.WithClassifier(ctx, "Framework :: Django")
	require.NoError(t, err)
	assert.Empty(t, withClassifier)

	byLicense, err := store.WithMetadata(ctx, "license", "Apache-2.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"requests"}, byLicense)
}

func TestImportAll(t *testing.T) {
	c, _ := newUpstream(t)
	ctx := context.Background()
	store := core.NewStore(core.NewMemoryBackend())

	err := c.ImportAll(ctx, store, []core.Ref{{Name: "requests"}, {Name: "requests", Version: "2.31.0"}}, 2)
	require.NoError(t, err)

	err = c.ImportAll(ctx, store, []core.Ref{{Name: "requests"}, {Name: "missing"}}, 2)
	assert.True(t, errors.Is(err, core.ErrNotFound), "got %v", err)
}

func TestSyncClassifiers(t *testing.T) {
	c, _ := newUpstream(t)
	ctx := context.Background()
	store := core.NewStore(core.NewMemoryBackend())

	n, err := c.SyncClassifiers(ctx, store, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = c.SyncClassifiers(ctx, store, true)
	require.NoError(t, err)
	assert.Zero(t, n, "non-empty vocabulary is left alone")

	valid, err := store.ValidClassifiers(ctx)
	require.NoError(t, err)
	assert.Len(t, valid, 2)
}

func TestExtractLicense(t *testing.T) {
	tests := []struct {
		name string
		info infoBlock
		want string
	}{
		{"expression wins", infoBlock{LicenseExpression: "MIT OR Apache-2.0", License: "MIT"}, "MIT OR Apache-2.0"},
		{"license field", infoBlock{License: "Apache 2.0"}, "Apache-2.0"},
		{"from classifier", infoBlock{Classifiers: []string{"License :: OSI Approved :: MIT License"}}, "MIT"},
		{"unrecognized kept", infoBlock{License: "UNKNOWN"}, "UNKNOWN"},
		{"none", infoBlock{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractLicense(tt.info))
		})
	}
}

func TestParseKeywords(t *testing.T) {
	assert.Nil(t, parseKeywords(""))
	assert.Equal(t, []string{"a", "b c"}, parseKeywords("a, b c,"))
	assert.Equal(t, []string{"http", "client"}, parseKeywords("http  client"))
}
