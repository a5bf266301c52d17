package server

import (
	"bytes"
	"html/template"
	"net/http"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/git-pkgs/ministry/internal/core"
)

var (
	markdownInstance goldmark.Markdown
	markdownOnce     sync.Once
)

func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.DefinitionList,
			),
		)
	})
	return markdownInstance
}

// renderDescription renders a long description. Markdown (the default when
// no content type was given) becomes HTML with raw HTML dropped; anything
// else is shown preformatted.
func renderDescription(text, contentType string) template.HTML {
	if text == "" {
		return ""
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" || strings.HasPrefix(ct, "text/markdown") {
		var buf bytes.Buffer
		if err := getMarkdown().Convert([]byte(text), &buf); err == nil {
			return template.HTML(buf.String())
		}
	}
	return template.HTML("<pre>" + template.HTMLEscapeString(text) + "</pre>")
}

const pageHeader = `<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<p><a href="/pypi/">Packages</a> | <a href="/simple/">Simple index</a></p>
<h1>{{.Title}}</h1>
`

var indexPageTemplate = template.Must(template.New("index").Parse(pageHeader + `<ul>
{{- range .Packages}}
<li><a href="{{.URL}}">{{.Name}}</a></li>
{{- end}}
</ul>
</body>
</html>
`))

var projectPageTemplate = template.Must(template.New("project").Parse(pageHeader + `<p>{{.Summary}}</p>
<p>Latest version: <a href="{{.LatestURL}}">{{.Latest}}</a></p>
<h2>Versions</h2>
<ul>
{{- range .Versions}}
<li><a href="{{.URL}}">{{.Name}}</a>{{if .Summary}}: {{.Summary}}{{end}}</li>
{{- end}}
</ul>
</body>
</html>
`))

var versionPageTemplate = template.Must(template.New("version").Parse(pageHeader + `<p>{{.Summary}}</p>
<p><code>{{.PURL}}</code></p>
<h2>Files</h2>
<ul>
{{- range .Files}}
<li><a href="{{.URL}}">{{.Filename}}</a> ({{.Filetype}})</li>
{{- end}}
</ul>
<h2>Metadata</h2>
<table>
{{- range .Fields}}
<tr><th>{{.Name}}</th><td>{{range .Items}}{{.}}<br>{{end}}</td></tr>
{{- end}}
</table>
{{- if .Description}}
<h2>Description</h2>
<div class="description">{{.Description}}</div>
{{- end}}
</body>
</html>
`))

type pageLink struct {
	Name    string
	URL     string
	Summary string
}

type pageField struct {
	Name  string
	Items []string
}

// pageHiddenFields are shown elsewhere on the version page or not at all.
var pageHiddenFields = map[string]bool{
	core.FieldLongDescription: true,
	core.FieldDescription:     true,
	core.FieldAction:          true,
	core.FieldFileContent:     true,
	"protocol_version":        true,
}

func (s *Server) handleIndexPage(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.Packages(r.Context())
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	links := make([]pageLink, 0, len(names))
	for _, name := range names {
		links = append(links, pageLink{Name: name, URL: s.urls.Project(name, "")})
	}
	s.render(w, indexPageTemplate, struct {
		Title    string
		Packages []pageLink
	}{"Packages", links})
}

func (s *Server) handleProjectPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := s.store.ResolveKey(ctx, r.PathValue("name"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	latest, err := s.store.GetMetadata(ctx, key.Name, "")
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	versions, err := s.store.Versions(ctx, key.Name)
	if err != nil {
		s.storeError(w, r, err)
		return
	}

	refs := make([]core.Ref, 0, len(versions))
	for _, v := range versions {
		refs = append(refs, core.Ref{Name: key.Name, Version: v})
	}
	records := s.store.BulkGetMetadata(ctx, refs)

	links := make([]pageLink, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		link := pageLink{Name: versions[i], URL: s.urls.Project(key.Name, versions[i])}
		if rec := records[refs[i]]; rec != nil {
			link.Summary = rec.Fields.Get(core.FieldSummary)
		}
		links = append(links, link)
	}
	s.render(w, projectPageTemplate, struct {
		Title     string
		Summary   string
		Latest    string
		LatestURL string
		Versions  []pageLink
	}{
		Title:     key.Name,
		Summary:   latest.Fields.Get(core.FieldSummary),
		Latest:    latest.Version,
		LatestURL: s.urls.Project(key.Name, latest.Version),
		Versions:  links,
	})
}

func (s *Server) handleVersionPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := s.store.GetMetadata(ctx, r.PathValue("name"), r.PathValue("version"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	links, err := s.fileLinks(ctx, v.Name)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	var files []fileLink
	for _, l := range links {
		if l.Version == v.Version {
			files = append(files, l)
		}
	}

	var fields []pageField
	for _, name := range v.Fields.Names() {
		if pageHiddenFields[name] {
			continue
		}
		fields = append(fields, pageField{Name: name, Items: v.Fields.Items(name)})
	}

	text := v.Fields.Get(core.FieldLongDescription)
	if text == "" {
		text = v.Fields.Get(core.FieldDescription)
	}

	s.render(w, versionPageTemplate, struct {
		Title       string
		Summary     string
		PURL        string
		Files       []fileLink
		Fields      []pageField
		Description template.HTML
	}{
		Title:       v.Name + " " + v.Version,
		Summary:     v.Fields.Get(core.FieldSummary),
		PURL:        s.urls.PURL(v.Name, v.Version),
		Files:       files,
		Fields:      fields,
		Description: renderDescription(text, v.Fields.Get("description_content_type")),
	})
}
