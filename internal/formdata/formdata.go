// Package formdata decodes multipart/form-data upload bodies leniently.
//
// Old distutils releases terminate part headers and bodies with a single
// "\n" instead of "\r\n" and sometimes drop bytes around the closing
// boundary, so the standard library's mime/multipart rejects their
// uploads. Decode splits the raw body on the boundary and recovers what it
// can from every chunk, reporting the chunks it could not use instead of
// failing the whole body.
package formdata

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/git-pkgs/ministry/internal/core"
)

// MultiFields are the field names that may occur more than once. Every
// occurrence is kept, in order; any other repeated field keeps its last
// value.
var MultiFields = map[string]bool{
	"classifiers":        true,
	"requires":           true,
	"requires_dist":      true,
	"provides":           true,
	"provides_dist":      true,
	"obsoletes":          true,
	"obsoletes_dist":     true,
	"requires_external":  true,
	"project_urls":       true,
	"platform":           true,
	"supported_platform": true,
	"dynamic":            true,
	"license_file":       true,
}

// File is the single file part of an upload.
type File struct {
	// Field is the form field name the file was sent under ("content" for
	// distutils and twine).
	Field   string
	Name    string
	Content []byte
}

// Form is a decoded upload body.
type Form struct {
	Fields core.Fields
	File   *File
}

// Empty reports whether nothing at all was recovered from the body.
func (f *Form) Empty() bool {
	return f.Fields.Len() == 0 && f.File == nil
}

// Anomaly describes a chunk that could not be decoded. Chunk is the index
// of the chunk in the body split on the boundary, or -1 for problems with
// the body as a whole.
type Anomaly struct {
	Chunk  int
	Reason string
}

func (a Anomaly) String() string {
	if a.Chunk < 0 {
		return a.Reason
	}
	return fmt.Sprintf("chunk %d: %s", a.Chunk, a.Reason)
}

// Boundary extracts the boundary parameter from a Content-Type header
// value. Everything after the first '=' is the boundary, with surrounding
// quotes removed.
func Boundary(contentType string) (string, bool) {
	for _, param := range strings.Split(contentType, ";") {
		if !strings.Contains(param, "boundary=") {
			continue
		}
		_, b, _ := strings.Cut(param, "=")
		b = unquote(strings.TrimSpace(b))
		if b == "" {
			return "", false
		}
		return b, true
	}
	return "", false
}

// Decode decodes body as multipart/form-data using the boundary declared
// in contentType. It never fails: chunks that cannot be decoded are
// skipped and reported as anomalies. The filename of the file part, when
// present, is also recorded as the "filename" field; its content is only
// available through Form.File.
func Decode(body []byte, contentType string) (*Form, []Anomaly) {
	form := &Form{Fields: core.NewFields()}

	boundary, ok := Boundary(contentType)
	if !ok {
		return form, []Anomaly{{Chunk: -1, Reason: "content type has no boundary"}}
	}

	var anomalies []Anomaly
	for i, chunk := range bytes.Split(body, []byte(boundary)) {
		if err := decodeChunk(form, chunk); err != "" {
			anomalies = append(anomalies, Anomaly{Chunk: i, Reason: err})
		}
	}
	return form, anomalies
}

// decodeChunk folds one chunk into form and returns a non-empty reason when
// the chunk looked like a part but could not be used.
func decodeChunk(form *Form, chunk []byte) string {
	if bytes.Contains(chunk, []byte("filename")) {
		if headers, payload, ok := splitHeaders(chunk); ok {
			params := parseHeaderParams(headers)
			if name, ok := params["filename"]; ok {
				if form.File != nil {
					return fmt.Sprintf("extra file part %q ignored", name)
				}
				form.File = &File{
					Field:   params["name"],
					Name:    name,
					Content: stripTrailer(payload),
				}
				form.Fields.Set(core.FieldFilename, name)
				return ""
			}
		}
	}

	if !bytes.Contains(chunk, []byte("form-data")) {
		return ""
	}

	_, rest, ok := bytes.Cut(chunk, []byte(";"))
	if !ok {
		return "form-data part without parameters"
	}
	decl, value, ok := splitHeaders(rest)
	if !ok {
		return "part has no blank line after its headers"
	}
	name, ok := fieldName(string(decl))
	if !ok {
		return "part has no name"
	}

	v := string(stripTrailer(value))
	if MultiFields[name] {
		form.Fields.Append(name, v)
	} else {
		form.Fields.Set(name, v)
	}
	return ""
}

// splitHeaders splits a part at the first blank line, accepting either
// "\n\n" or "\r\n\r\n", whichever comes first.
func splitHeaders(part []byte) (headers, body []byte, ok bool) {
	lf := bytes.Index(part, []byte("\n\n"))
	crlf := bytes.Index(part, []byte("\r\n\r\n"))
	switch {
	case lf < 0 && crlf < 0:
		return nil, nil, false
	case crlf < 0 || (lf >= 0 && lf < crlf):
		return part[:lf], part[lf+2:], true
	default:
		return part[:crlf], part[crlf+4:], true
	}
}

// parseHeaderParams collects key=value parameters from a header block,
// splitting lines on ';' and then on the first '='.
func parseHeaderParams(headers []byte) map[string]string {
	params := make(map[string]string)
	for _, line := range strings.Split(string(headers), "\n") {
		for _, p := range strings.Split(line, ";") {
			k, v, ok := strings.Cut(p, "=")
			if !ok {
				continue
			}
			params[strings.ToLower(strings.TrimSpace(k))] = unquote(strings.TrimSpace(v))
		}
	}
	return params
}

// fieldName extracts the value of name="..." from a part declaration.
func fieldName(decl string) (string, bool) {
	for _, p := range strings.Split(decl, ";") {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) != "name" {
			continue
		}
		if i := strings.IndexAny(v, "\r\n"); i >= 0 {
			v = v[:i]
		}
		v = unquote(strings.TrimSpace(v))
		return v, v != ""
	}
	return "", false
}

// stripTrailer removes the framing the boundary split leaves behind: one
// "--" and the single line break before it.
func stripTrailer(b []byte) []byte {
	if !bytes.HasSuffix(b, []byte("--")) {
		return b
	}
	b = b[:len(b)-2]
	if bytes.HasSuffix(b, []byte("\r\n")) {
		return b[:len(b)-2]
	}
	return bytes.TrimSuffix(b, []byte("\n"))
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
