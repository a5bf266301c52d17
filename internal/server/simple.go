package server

import (
	"context"
	"html/template"
	"net/http"
)

var simpleRootTemplate = template.Must(template.New("simple-root").Parse(`<!DOCTYPE html>
<html>
<head><meta name="pypi:repository-version" content="1.0"><title>Simple index</title></head>
<body>
{{- range .}}
<a href="{{.URL}}">{{.Name}}</a><br>
{{- end}}
</body>
</html>
`))

var simpleProjectTemplate = template.Must(template.New("simple-project").Parse(`<!DOCTYPE html>
<html>
<head><meta name="pypi:repository-version" content="1.0"><title>Links for {{.Name}}</title></head>
<body>
<h1>Links for {{.Name}}</h1>
{{- range .Links}}
<a href="{{.URL}}">{{.Filename}}</a><br>
{{- end}}
</body>
</html>
`))

type simpleEntry struct {
	Name string
	URL  string
}

type fileLink struct {
	Version  string
	Filetype string
	Filename string
	URL      string
	MD5      string
}

func (s *Server) handleSimpleRoot(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.Packages(r.Context())
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	entries := make([]simpleEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, simpleEntry{Name: name, URL: s.urls.Simple(name)})
	}
	s.render(w, simpleRootTemplate, entries)
}

func (s *Server) handleSimpleProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := s.store.ResolveKey(ctx, r.PathValue("name"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	links, err := s.fileLinks(ctx, key.Name)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	s.render(w, simpleProjectTemplate, struct {
		Name  string
		Links []fileLink
	}{key.Name, links})
}

// fileLinks lists the files of every version of name, oldest version
// first. Files registered without a URL are served from local storage.
func (s *Server) fileLinks(ctx context.Context, name string) ([]fileLink, error) {
	versions, err := s.store.Versions(ctx, name)
	if err != nil {
		return nil, err
	}

	var links []fileLink
	for _, version := range versions {
		files, err := s.store.Files(ctx, name, version)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			link := fileLink{
				Version:  version,
				Filetype: string(f.Filetype),
				Filename: f.Filename,
				URL:      f.URL,
				MD5:      f.MD5,
			}
			if link.URL == "" {
				link.URL = s.urls.Download(name, f.Filename)
			}
			if link.MD5 != "" {
				link.URL += "#md5=" + link.MD5
			}
			links = append(links, link)
		}
	}
	return links, nil
}

func (s *Server) render(w http.ResponseWriter, t *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.Execute(w, data); err != nil {
		s.logger.Error("rendering page", "template", t.Name(), "error", err)
	}
}
