package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/git-pkgs/ministry/internal/blobstore"
	"github.com/git-pkgs/ministry/internal/core"
)

type jsonFile struct {
	Filename    string            `json:"filename"`
	PackageType string            `json:"packagetype"`
	URL         string            `json:"url"`
	Digests     map[string]string `json:"digests,omitempty"`
}

type jsonProject struct {
	Info     map[string]any        `json:"info"`
	Releases map[string][]jsonFile `json:"releases,omitempty"`
	URLs     []jsonFile            `json:"urls"`
	PURL     string                `json:"purl"`
}

func (s *Server) handleProjectJSON(w http.ResponseWriter, r *http.Request) {
	s.writeProjectJSON(w, r, r.PathValue("name"), "", true)
}

func (s *Server) handleVersionJSON(w http.ResponseWriter, r *http.Request) {
	s.writeProjectJSON(w, r, r.PathValue("name"), r.PathValue("version"), false)
}

func (s *Server) writeProjectJSON(w http.ResponseWriter, r *http.Request, name, version string, releases bool) {
	ctx := r.Context()
	v, err := s.store.GetMetadata(ctx, name, version)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	links, err := s.fileLinks(ctx, v.Name)
	if err != nil {
		s.storeError(w, r, err)
		return
	}

	doc := jsonProject{
		Info: v.Fields.Map(),
		URLs: []jsonFile{},
		PURL: s.urls.PURL(v.Name, v.Version),
	}
	if releases {
		doc.Releases = make(map[string][]jsonFile)
		versions, err := s.store.Versions(ctx, v.Name)
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		for _, ver := range versions {
			doc.Releases[ver] = []jsonFile{}
		}
	}
	for _, l := range links {
		f := jsonFile{Filename: l.Filename, PackageType: l.Filetype, URL: strings.TrimSuffix(l.URL, "#md5="+l.MD5)}
		if l.MD5 != "" {
			f.Digests = map[string]string{"md5": l.MD5}
		}
		if releases {
			doc.Releases[l.Version] = append(doc.Releases[l.Version], f)
		}
		if l.Version == v.Version {
			doc.URLs = append(doc.URLs, f)
		}
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleSearch answers reverse lookups: ?classifier=C, ?requires=D or
// ?field=F&value=V.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var (
		names []string
		err   error
	)
	switch {
	case q.Has("classifier"):
		names, err = s.store.WithClassifier(ctx, q.Get("classifier"))
	case q.Has("requires"):
		names, err = s.store.Dependents(ctx, q.Get("requires"))
	case q.Get("field") != "":
		names, err = s.store.WithMetadata(ctx, q.Get("field"), q.Get("value"))
	default:
		http.Error(w, "one of classifier, requires or field is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": names})
}

// handleClassifiers serves the classifier vocabulary one per line, the
// format of the upstream list_classifiers action.
func (s *Server) handleClassifiers(w http.ResponseWriter, r *http.Request) {
	classifiers, err := s.store.ValidClassifiers(r.Context())
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, c := range classifiers {
		_, _ = io.WriteString(w, c+"\n")
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	key := blobstore.Key(strings.ToLower(r.PathValue("name")), filename)
	if err := blobstore.ValidName(key); err != nil {
		http.NotFound(w, r)
		return
	}

	rc, size, err := s.blobs.Open(r.Context(), key)
	if errors.Is(err, blobstore.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("opening package file", "key", key, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(filename))
	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("sending package file", "key", key, "error", err)
	}
}

type healthReport struct {
	Status   string            `json:"status"`
	Storage  string            `json:"storage"`
	Upstream map[string]string `json:"upstream,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health(r.Context())
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// health reports "degraded" while the storage breaker is open or the
// backend cannot answer.
func (s *Server) health(ctx context.Context) healthReport {
	report := healthReport{Status: "ok", Storage: "closed"}
	if s.storage != nil {
		report.Storage = s.storage.State()
	}
	if s.upstream != nil {
		report.Upstream = s.upstream.GetBreakerState()
	}
	if report.Storage == "open" {
		report.Status = "degraded"
		return report
	}
	if _, err := s.store.Backend().IsMember(ctx, core.KeyAllNames, ""); err != nil {
		report.Status = "degraded"
	}
	return report
}
