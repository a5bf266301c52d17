// Package upstream reads release metadata and the trove classifier list
// from an upstream PyPI-compatible index and imports releases into the
// metadata store.
package upstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/git-pkgs/ministry/fetch"
	"github.com/git-pkgs/ministry/internal/core"
	"golang.org/x/sync/errgroup"
)

const DefaultURL = "https://pypi.org"

type packageResponse struct {
	Info     infoBlock                `json:"info"`
	Releases map[string][]releaseFile `json:"releases"`
	URLs     []releaseFile            `json:"urls"`
}

type infoBlock struct {
	Name              string            `json:"name"`
	Version           string            `json:"version"`
	Summary           string            `json:"summary"`
	Description       string            `json:"description"`
	HomePage          string            `json:"home_page"`
	Author            string            `json:"author"`
	AuthorEmail       string            `json:"author_email"`
	License           string            `json:"license"`
	LicenseExpression string            `json:"license_expression"`
	Keywords          string            `json:"keywords"`
	Classifiers       []string          `json:"classifiers"`
	ProjectURLs       map[string]string `json:"project_urls"`
	RequiresDist      []string          `json:"requires_dist"`
	RequiresPython    string            `json:"requires_python"`
}

type releaseFile struct {
	Filename    string            `json:"filename"`
	Digests     map[string]string `json:"digests"`
	URL         string            `json:"url"`
	UploadTime  string            `json:"upload_time"`
	Yanked      bool              `json:"yanked"`
	PackageType string            `json:"packagetype"`
	Size        int64             `json:"size"`
}

// Release is one upstream version with its metadata and distribution files.
type Release struct {
	Name    string
	Version string
	Fields  core.Fields
	Files   []File
}

// File is a distribution file of an upstream release.
type File struct {
	Filetype core.Filetype
	Filename string
	URL      string
	MD5      string
	Size     int64
	Uploaded string
}

// Client talks to an upstream index.
type Client struct {
	baseURL string
	fetcher fetch.FetcherInterface
	logger  *slog.Logger
}

// New returns a Client for baseURL. An empty baseURL means pypi.org.
func New(baseURL string, f fetch.FetcherInterface, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		fetcher: f,
		logger:  logger,
	}
}

// FetchRelease loads one release. An empty version means the upstream's
// current version.
func (c *Client) FetchRelease(ctx context.Context, name, version string) (*Release, error) {
	endpoint := fmt.Sprintf("%s/pypi/%s/json", c.baseURL, url.PathEscape(name))
	if version != "" {
		endpoint = fmt.Sprintf("%s/pypi/%s/%s/json", c.baseURL, url.PathEscape(name), url.PathEscape(version))
	}

	var resp packageResponse
	if err := c.fetcher.FetchJSON(ctx, endpoint, &resp); err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			return nil, &core.NotFoundError{Name: name, Version: version}
		}
		return nil, err
	}
	if resp.Info.Version == "" {
		return nil, fmt.Errorf("upstream release %s has no version", name)
	}

	rel := &Release{
		Name:    strings.ToLower(resp.Info.Name),
		Version: strings.ToLower(resp.Info.Version),
		Fields:  infoFields(resp.Info),
	}
	if rel.Name == "" {
		rel.Name = strings.ToLower(name)
	}

	files := resp.URLs
	if len(files) == 0 {
		files = resp.Releases[resp.Info.Version]
	}
	for _, rf := range files {
		ft, err := core.ParseFiletype(rf.PackageType)
		if err != nil {
			c.logger.Warn("skipping upstream file with unknown type",
				"name", rel.Name, "version", rel.Version, "filename", rf.Filename, "packagetype", rf.PackageType)
			continue
		}
		rel.Files = append(rel.Files, File{
			Filetype: ft,
			Filename: rf.Filename,
			URL:      rf.URL,
			MD5:      rf.Digests["md5"],
			Size:     rf.Size,
			Uploaded: rf.UploadTime,
		})
	}
	return rel, nil
}

// FetchVersions lists every version the upstream knows for name.
func (c *Client) FetchVersions(ctx context.Context, name string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/pypi/%s/json", c.baseURL, url.PathEscape(name))

	var resp packageResponse
	if err := c.fetcher.FetchJSON(ctx, endpoint, &resp); err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			return nil, &core.NotFoundError{Name: name}
		}
		return nil, err
	}

	versions := make([]string, 0, len(resp.Releases))
	for v := range resp.Releases {
		versions = append(versions, strings.ToLower(v))
	}
	core.SortVersions(versions)
	return versions, nil
}

// FetchClassifiers downloads the upstream trove classifier list.
func (c *Client) FetchClassifiers(ctx context.Context) ([]string, error) {
	resp, err := c.fetcher.Fetch(ctx, c.baseURL+"/pypi?%3Aaction=list_classifiers")
	if err != nil {
		return nil, fmt.Errorf("fetching classifiers: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var classifiers []string
	scanner := bufio.NewScanner(io.LimitReader(resp.Body, 8<<20))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			classifiers = append(classifiers, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading classifiers: %w", err)
	}
	return classifiers, nil
}

// Import fetches a release and ingests it into store, once per
// distribution file so every file is registered with its own upstream URL
// and digest. Payloads are not copied. Returns the ingested version.
func (c *Client) Import(ctx context.Context, store *core.Store, ref core.Ref) (string, error) {
	rel, err := c.FetchRelease(ctx, ref.Name, ref.Version)
	if err != nil {
		return "", err
	}

	if len(rel.Files) == 0 {
		if err := store.Ingest(ctx, rel.Name, rel.Version, rel.Fields); err != nil {
			return "", err
		}
		return rel.Version, nil
	}

	// sdists go last so the stored record describes the source archive.
	files := append([]File(nil), rel.Files...)
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Filetype != core.Sdist && files[j].Filetype == core.Sdist
	})
	for _, f := range files {
		fields := rel.Fields.Clone()
		if f.URL != "" {
			fields.Set(core.FieldDownloadURL, f.URL)
		}
		if f.MD5 != "" {
			fields.Set(core.FieldMD5Digest, f.MD5)
		}
		if f.Uploaded != "" {
			fields.Set(core.FieldUploadTime, f.Uploaded)
		}
		file := core.File{Filetype: f.Filetype, Filename: f.Filename, URL: f.URL, MD5: f.MD5}
		if err := store.IngestFile(ctx, rel.Name, rel.Version, fields, file); err != nil {
			return "", err
		}
	}
	c.logger.Info("imported release", "name", rel.Name, "version", rel.Version, "files", len(files))
	return rel.Version, nil
}

// ImportAll imports refs with at most concurrency requests in flight. The
// first failure cancels the remaining imports.
func (c *Client) ImportAll(ctx context.Context, store *core.Store, refs []core.Ref, concurrency int) error {
	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for _, ref := range refs {
		g.Go(func() error {
			if _, err := c.Import(ctx, store, ref); err != nil {
				return fmt.Errorf("importing %s: %w", ref.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// SyncClassifiers adds the upstream classifier list to the store's
// vocabulary. With onlyIfEmpty set, a non-empty vocabulary is left alone.
func (c *Client) SyncClassifiers(ctx context.Context, store *core.Store, onlyIfEmpty bool) (int, error) {
	if onlyIfEmpty {
		existing, err := store.ValidClassifiers(ctx)
		if err != nil {
			return 0, err
		}
		if len(existing) > 0 {
			return 0, nil
		}
	}
	classifiers, err := c.FetchClassifiers(ctx)
	if err != nil {
		return 0, err
	}
	if err := store.AddValidClassifiers(ctx, classifiers...); err != nil {
		return 0, err
	}
	c.logger.Info("classifier vocabulary updated", "count", len(classifiers))
	return len(classifiers), nil
}

func infoFields(info infoBlock) core.Fields {
	fields := core.NewFields()
	fields.Set(core.FieldName, strings.ToLower(info.Name))
	fields.Set(core.FieldVersion, strings.ToLower(info.Version))

	set := func(name, value string) {
		if value != "" {
			fields.Set(name, value)
		}
	}
	set(core.FieldSummary, info.Summary)
	set(core.FieldDescription, info.Description)
	set("home_page", extractHomepage(info.ProjectURLs, info.HomePage))
	set("author", info.Author)
	set("author_email", info.AuthorEmail)
	set("license", extractLicense(info))
	set("keywords", strings.Join(parseKeywords(info.Keywords), ","))
	set("requires_python", info.RequiresPython)

	for _, cl := range info.Classifiers {
		fields.Append(core.FieldClassifiers, cl)
	}
	for _, req := range info.RequiresDist {
		fields.Append(core.FieldRequiresDist, req)
	}

	labels := make([]string, 0, len(info.ProjectURLs))
	for label := range info.ProjectURLs {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		fields.Append("project_urls", label+", "+info.ProjectURLs[label])
	}
	return fields
}

func extractHomepage(projectURLs map[string]string, homePage string) string {
	if homePage != "" {
		return homePage
	}
	if u, ok := projectURLs["Homepage"]; ok {
		return u
	}
	if u, ok := projectURLs["Home"]; ok {
		return u
	}
	return ""
}

func extractLicense(info infoBlock) string {
	if info.LicenseExpression != "" {
		return core.NormalizeLicense(info.LicenseExpression)
	}
	if info.License != "" {
		return core.NormalizeLicense(info.License)
	}
	for _, classifier := range info.Classifiers {
		if strings.HasPrefix(classifier, "License :: ") {
			parts := strings.Split(classifier, " :: ")
			return core.NormalizeLicense(parts[len(parts)-1])
		}
	}
	return ""
}

func parseKeywords(keywords string) []string {
	if keywords == "" {
		return nil
	}
	if strings.Contains(keywords, ",") {
		parts := strings.Split(keywords, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return strings.Fields(keywords)
}
